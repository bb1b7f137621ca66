package sdu

import (
	"net"
	"time"

	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

var ErrStopped = errors.New("sdu server stopped")

// Server puts Responder on network sockets, one request frame per datagram or stream read.
type Server struct {
	Responder *Responder
	// stream connection is closed after this long without request
	IdleTimeout time.Duration

	log   *log2.Log
	alive *alive.Alive
}

func NewServer(log *log2.Log, r *Responder) *Server {
	return &Server{
		Responder:   r,
		IdleTimeout: 30 * time.Second,
		log:         log,
		alive:       alive.NewAlive(),
	}
}

// closeOnStop unblocks pending Read/Accept, nil done waits for Stop only.
func (s *Server) closeOnStop(c interface{ Close() error }, done <-chan struct{}) {
	go func() {
		select {
		case <-s.alive.StopChan():
			_ = c.Close()
		case <-done:
		}
	}()
}

// ServePacket answers datagrams until Stop.
func (s *Server) ServePacket(conn net.PacketConn) error {
	if !s.alive.Add(1) {
		return ErrStopped
	}
	defer s.alive.Done()
	s.closeOnStop(conn, nil)
	s.log.Infof("sdu server packet listen=%s", conn.LocalAddr())

	buf := make([]byte, MaxFrame)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if !s.alive.IsRunning() {
				return nil
			}
			return errors.Annotate(err, "sdu server read")
		}
		s.log.Frame("sdu server recv "+addr.String(), buf[:n])
		for _, reply := range s.Responder.Handle(buf[:n]) {
			if _, err := conn.WriteTo(reply, addr); err != nil {
				s.log.Errorf("sdu server write addr=%s err=%v", addr, err)
			}
		}
	}
}

// ServeListener answers stream connections until Stop.
func (s *Server) ServeListener(l net.Listener) error {
	if !s.alive.Add(1) {
		return ErrStopped
	}
	defer s.alive.Done()
	s.closeOnStop(l, nil)
	s.log.Infof("sdu server stream listen=%s", l.Addr())

	for {
		conn, err := l.Accept()
		if err != nil {
			if !s.alive.IsRunning() {
				return nil
			}
			return errors.Annotate(err, "sdu server accept")
		}
		if !s.alive.Add(1) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.alive.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()
	s.closeOnStop(conn, done)
	remote := conn.RemoteAddr().String()
	buf := make([]byte, MaxFrame)
	for s.alive.IsRunning() {
		if err := conn.SetReadDeadline(time.Now().Add(s.IdleTimeout)); err != nil {
			s.log.Errorf("sdu server deadline err=%v", err)
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			s.log.Debugf("sdu server conn=%s closed err=%v", remote, err)
			return
		}
		s.log.Frame("sdu server recv "+remote, buf[:n])
		for _, reply := range s.Responder.Handle(buf[:n]) {
			if _, err := conn.Write(reply); err != nil {
				s.log.Errorf("sdu server write conn=%s err=%v", remote, err)
				return
			}
		}
	}
}

// Stop closes sockets and waits for handlers.
func (s *Server) Stop() {
	s.alive.Stop()
	s.alive.Wait()
}

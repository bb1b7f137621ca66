package rs485

import (
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

const (
	cBOTHER   = 0x1000
	cNCCS     = 19
	cTCSBRK   = 0x5409
	cTCSETSF2 = 0x402c542d
)

var ErrTimeout = errors.New("rs485 read timeout")

// Port is half duplex serial line, direction is switched by Link.
type Port interface {
	Write(p []byte) (int, error)
	// Drain blocks until output is physically transmitted.
	Drain() error
	// ReadTimeout returns ErrTimeout when nothing arrived within d.
	ReadTimeout(p []byte, d time.Duration) (int, error)
	Close() error
}

type cc_t byte
type speed_t uint32
type tcflag_t uint32
type termios2 struct {
	c_iflag  tcflag_t    // input mode flags
	c_oflag  tcflag_t    // output mode flags
	c_cflag  tcflag_t    // control mode flags
	c_lflag  tcflag_t    // local mode flags
	c_line   cc_t        // line discipline
	c_cc     [cNCCS]cc_t // control characters
	c_ispeed speed_t     // input speed
	c_ospeed speed_t     // output speed
}

type Serial struct {
	f  *os.File
	fd uintptr
	t2 termios2
}

// OpenSerial configures raw 8N1 at any baud (BOTHER), non-blocking reads.
func OpenSerial(path string, baud int) (*Serial, error) {
	if baud <= 0 {
		return nil, errors.NotValidf("rs485 baud=%d", baud)
	}
	f, err := os.OpenFile(path, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Annotatef(err, "rs485 open %s", path)
	}
	s := &Serial{f: f, fd: f.Fd()}
	s.t2 = termios2{
		c_cflag:  cBOTHER | syscall.CLOCAL | syscall.CREAD | syscall.CS8,
		c_ispeed: speed_t(baud),
		c_ospeed: speed_t(baud),
	}
	if err = ioctl(s.fd, cTCSETSF2, uintptr(unsafe.Pointer(&s.t2))); err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "rs485 termios %s baud=%d", path, baud)
	}
	return s, nil
}

func ioctl(fd uintptr, op, arg uintptr) error {
	r, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, op, arg)
	if errno != 0 {
		return os.NewSyscallError("SYS_IOCTL", errno)
	} else if r != 0 {
		return errors.New("unknown error from SYS_IOCTL")
	}
	return nil
}

func (s *Serial) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := syscall.Write(int(s.fd), p[total:])
		if err == syscall.EAGAIN {
			if err = s.wait(unix.POLLOUT, time.Second); err != nil {
				return total, err
			}
			continue
		}
		if err != nil {
			return total, errors.Annotate(err, "rs485 write")
		}
		total += n
	}
	return total, nil
}

// tcdrain
func (s *Serial) Drain() error { return ioctl(s.fd, cTCSBRK, 1) }

func (s *Serial) wait(events int16, d time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, int(d/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Annotate(err, "rs485 poll")
		}
		if n == 0 {
			return ErrTimeout
		}
		return nil
	}
}

func (s *Serial) ReadTimeout(p []byte, d time.Duration) (int, error) {
	if err := s.wait(unix.POLLIN, d); err != nil {
		return 0, err
	}
	n, err := syscall.Read(int(s.fd), p)
	if err == syscall.EAGAIN {
		return 0, ErrTimeout
	}
	if err != nil {
		return 0, errors.Annotate(err, "rs485 read")
	}
	return n, nil
}

func (s *Serial) Close() error { return s.f.Close() }

// Package outbox keeps telemetry reports that could not be delivered
// and replays them, oldest first, on next duty cycle.
package outbox

import (
	"context"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/spq"
)

// denote value type in persistent queue bytes form
const (
	qReport byte = 1
)

// Flush gives up waiting for next item after this long of queue silence.
const DefaultIdle = 50 * time.Millisecond

var ErrUnknownKind = errors.New("outbox unknown item kind")

type Item struct {
	Queued time.Time
	Report []byte
}

// varint(kind) varint(unix nano) bytes(report), protobuf wire primitives
func (it *Item) MarshalBinary() ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 16+len(it.Report)))
	if err := buf.EncodeVarint(uint64(qReport)); err != nil {
		return nil, err
	}
	if err := buf.EncodeVarint(uint64(it.Queued.UnixNano())); err != nil {
		return nil, err
	}
	if err := buf.EncodeRawBytes(it.Report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (it *Item) UnmarshalBinary(b []byte) error {
	buf := proto.NewBuffer(b)
	kind, err := buf.DecodeVarint()
	if err != nil {
		return errors.Annotate(err, "outbox item kind")
	}
	if kind != uint64(qReport) {
		return errors.Annotatef(ErrUnknownKind, "kind=%d", kind)
	}
	ts, err := buf.DecodeVarint()
	if err != nil {
		return errors.Annotate(err, "outbox item time")
	}
	report, err := buf.DecodeRawBytes(true)
	if err != nil {
		return errors.Annotate(err, "outbox item report")
	}
	it.Queued = time.Unix(0, int64(ts)).UTC()
	it.Report = report
	return nil
}

type SendFunc func(ctx context.Context, report []byte) error

// Outbox contract:
// - Push blocks at most for disk write
// - Flush delivers items in queue order, stops at first transport error
// - item is deleted after success or after non transport error, retry will not help
type Outbox struct {
	log   *log2.Log
	q     *spq.Queue
	alive *alive.Alive
	boxes chan spq.Box
	acks  chan struct{}
	Idle  time.Duration
}

// Open path=spq.OnlyForTesting keeps queue in memory.
func Open(log *log2.Log, path string) (*Outbox, error) {
	q, err := spq.Open(path)
	if err != nil {
		return nil, errors.Annotatef(err, "outbox open path=%s", path)
	}
	o := &Outbox{
		log:   log,
		q:     q,
		alive: alive.NewAlive(),
		boxes: make(chan spq.Box),
		acks:  make(chan struct{}),
		Idle:  DefaultIdle,
	}
	o.alive.Add(1)
	go o.worker()
	return o, nil
}

// worker hands queue head to Flush and waits until Flush decides about it.
func (o *Outbox) worker() {
	defer o.alive.Done()
	for {
		box, err := o.q.Peek()
		switch err {
		case nil:
			select {
			case o.boxes <- box:
			case <-o.alive.StopChan():
				return
			}
			select {
			case <-o.acks:
			case <-o.alive.StopChan():
				return
			}

		case spq.ErrClosed:
			if o.alive.IsRunning() {
				o.log.Errorf("CRITICAL outbox spq closed unexpectedly")
			}
			return

		default:
			o.log.Errorf("CRITICAL outbox spq err=%v", err)
			select {
			case <-time.After(time.Second):
			case <-o.alive.StopChan():
				return
			}
		}
	}
}

func (o *Outbox) Push(report []byte, queued time.Time) error {
	it := Item{Queued: queued, Report: report}
	return errors.Annotate(o.q.MarshalPush(&it), "outbox push")
}

// Flush returns number of delivered items.
func (o *Outbox) Flush(ctx context.Context, send SendFunc) (int, error) {
	sent := 0
	for {
		var box spq.Box
		select {
		case box = <-o.boxes:
		case <-time.After(o.Idle):
			return sent, nil
		case <-ctx.Done():
			return sent, errors.Trace(ctx.Err())
		}

		var it Item
		err := box.Unmarshal(&it)
		if err == nil {
			err = send(ctx, it.Report)
		}
		if fault.Retryable(err) || errors.Cause(err) == context.Canceled || errors.Cause(err) == context.DeadlineExceeded {
			// keep at head, order matters
			o.acks <- struct{}{}
			return sent, errors.Annotatef(err, "outbox flush queued=%s", it.Queued.Format(time.RFC3339))
		}
		if err != nil {
			o.log.Errorf("outbox drop item=%x err=%v", box.Bytes(), err)
		} else {
			sent++
		}
		if derr := o.q.Delete(box); derr != nil {
			o.acks <- struct{}{}
			return sent, errors.Annotate(derr, "outbox delete")
		}
		o.acks <- struct{}{}
	}
}

func (o *Outbox) Close() error {
	o.alive.Stop()
	err := o.q.Close()
	o.alive.Wait()
	return errors.Annotate(err, "outbox close")
}

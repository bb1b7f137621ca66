// Package node runs sensing unit duty cycle: wake, read sensors, deliver report, sleep.
package node

import (
	"context"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers"
	"github.com/iotartic/sunit/ldu"
	"github.com/iotartic/sunit/log2"
	"github.com/iotartic/sunit/outbox"
	"github.com/iotartic/sunit/sdu"
	"github.com/iotartic/sunit/state/persist"
	"github.com/iotartic/sunit/telemetry"
	"github.com/juju/errors"
)

const (
	DefaultSleep    = 10 * time.Second
	DefaultRetryMin = 5 * time.Second
	DefaultRetryMax = 5 * time.Minute
)

type Config struct {
	MAC []byte
	// remote server directly, otherwise local link to core gateway
	Standalone bool
	// handshake before each remote send
	Encrypted bool
	Enabled   telemetry.Enabled
	// readings buffer, zero = telemetry.DefaultCapacity
	Capacity int

	Sleep    time.Duration
	RetryMin time.Duration
	RetryMax time.Duration
}

type Node struct {
	Config Config
	Log    *log2.Log
	Source telemetry.Source
	// standalone
	Remote *sdu.Session
	Outbox *outbox.Outbox // optional
	// local
	Local *ldu.Session

	State   persist.DeviceState
	Persist *persist.Persist // optional, must bind &State

	// test hooks, nil = real time
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	backoff helpers.Backoff
}

func (n *Node) Validate() error {
	errs := make([]error, 0)
	if len(n.Config.MAC) != sdu.MACLength {
		errs = append(errs, errors.NotValidf("node mac length=%d", len(n.Config.MAC)))
	}
	if n.Config.Enabled == 0 {
		errs = append(errs, errors.NotValidf("node no sensors enabled"))
	}
	if n.Source == nil {
		errs = append(errs, errors.NotValidf("node source nil"))
	}
	if n.Config.Standalone && n.Remote == nil {
		errs = append(errs, errors.NotValidf("node standalone requires remote session"))
	}
	if !n.Config.Standalone && n.Local == nil {
		errs = append(errs, errors.NotValidf("node local mode requires local session"))
	}
	return helpers.FoldErrors(errs)
}

func (n *Node) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Node) sleep(ctx context.Context, d time.Duration) error {
	if n.Sleep != nil {
		return n.Sleep(ctx, d)
	}
	return helpers.SleepContext(ctx, d)
}

// Readings returns sensor values in wire form without MAC.
func (n *Node) Readings(ctx context.Context) ([]byte, error) {
	var d telemetry.Data
	if err := n.Source.Read(ctx, n.Config.Enabled, &d); err != nil {
		return nil, errors.Annotate(err, "sensors read")
	}
	capacity := n.Config.Capacity
	if capacity == 0 {
		capacity = telemetry.DefaultCapacity
	}
	b, err := telemetry.Marshal(capacity, n.Config.Enabled, &d)
	if err != nil {
		return nil, errors.Annotate(err, "sensors marshal")
	}
	n.Log.Debugf("node readings %s", d.Format(n.Config.Enabled))
	return b, nil
}

// Wake runs one duty cycle. State is persisted even when delivery fails.
func (n *Node) Wake(ctx context.Context) error {
	n.State.BootCount++
	n.Log.Debugf("node wake boot=%d", n.State.BootCount)

	err := n.deliver(ctx)
	if serr := n.store(); serr != nil {
		if err == nil {
			return serr
		}
		n.Log.Errorf("node %v", serr)
	}
	return errors.Annotatef(err, "node wake boot=%d", n.State.BootCount)
}

func (n *Node) deliver(ctx context.Context) error {
	readings, err := n.Readings(ctx)
	if err != nil {
		return err
	}
	report, err := telemetry.Report(n.Config.MAC, readings)
	if err != nil {
		return err
	}
	if !n.Config.Standalone {
		return n.local(ctx, report)
	}
	return n.remote(ctx, report)
}

func (n *Node) remote(ctx context.Context, report []byte) error {
	if n.Config.Encrypted {
		if err := n.Remote.Handshake(ctx); err != nil {
			n.queue(report, err)
			return errors.Annotate(err, "handshake")
		}
		n.State.LastSync = n.Remote.Clock().Now().Unix()
	}

	if n.Outbox != nil {
		sent, err := n.Outbox.Flush(ctx, n.send)
		if sent != 0 {
			n.Log.Infof("node outbox delivered=%d", sent)
		}
		if err != nil {
			n.queue(report, err)
			return err
		}
	}

	err := n.send(ctx, report)
	n.queue(report, err)
	return errors.Annotate(err, "report")
}

func (n *Node) send(ctx context.Context, report []byte) error {
	status, err := n.Remote.Send(ctx, report)
	if err != nil {
		return err
	}
	n.State.Sent++
	n.Log.Debugf("node report status=%s", fault.StatusString(status))
	return nil
}

// queue keeps report for next wake when err may go away by itself.
func (n *Node) queue(report []byte, err error) {
	if n.Outbox == nil || !fault.Retryable(err) {
		return
	}
	if qerr := n.Outbox.Push(report, n.now()); qerr != nil {
		n.Log.Errorf("node %v", qerr)
		return
	}
	n.Log.Infof("node report queued err=%v", err)
}

// local sends MAC then readings to core gateway over BLE or RS485.
// local sends the same report as remote, MAC frame is only sent when gateway asks (Session.Answer).
func (n *Node) local(ctx context.Context, report []byte) error {
	if err := n.Local.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := n.Local.Close(); err != nil {
			n.Log.Errorf("node local close err=%v", err)
		}
	}()
	if err := n.Local.Exchange(ctx, report); err != nil {
		return err
	}
	n.State.Sent++
	return nil
}

func (n *Node) store() error {
	if n.Persist == nil {
		return nil
	}
	return n.Persist.Store()
}

// Run loops Wake until ctx is done. Failed wakes sleep longer.
func (n *Node) Run(ctx context.Context) error {
	n.backoff = helpers.Backoff{
		Min: helpers.DurationDefault(n.Config.RetryMin, DefaultRetryMin),
		Max: helpers.DurationDefault(n.Config.RetryMax, DefaultRetryMax),
		K:   2,
	}
	sleep := helpers.DurationDefault(n.Config.Sleep, DefaultSleep)
	for {
		err := n.Wake(ctx)
		if err != nil {
			n.Log.Errorf(errors.ErrorStack(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := sleep
		if err == nil {
			n.backoff.Reset()
		} else {
			n.backoff.Failure()
			d += n.backoff.DelayBefore()
		}
		n.Log.Debugf("node sleep=%v failures=%d", d, n.backoff.Failures())
		if err := n.sleep(ctx, d); err != nil {
			return err
		}
	}
}

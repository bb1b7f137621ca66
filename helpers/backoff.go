package helpers

import (
	"sync/atomic"
	"time"

	"github.com/iotartic/sunit/helpers/atomic_clock"
)

// Limited exponential backoff between duty cycles after failed sessions.
// First delay is always 0, first failure waits Min, each next failure multiplies by K up to Max.
type Backoff struct {
	next     int64 // atomic align
	failures int32
	last     atomic_clock.Clock

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// for {
//   err := wake()
//   time.Sleep(sleep + backoff.DelayAfter(err==nil))
// }
func (b *Backoff) DelayAfter(success bool) time.Duration {
	atomic.CompareAndSwapInt64(&b.next, 0, int64(b.Min))
	if success {
		b.Reset()
	} else {
		b.Failure()
	}
	return b.DelayBefore()
}

// DelayBefore is what remains of current delay since last Failure or Reset.
func (b *Backoff) DelayBefore() time.Duration {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if next == 0 {
		return 0
	}
	delay := b.limit(next)
	since := atomic_clock.Since(&b.last)
	if since >= delay {
		return 0
	}
	return b.round(delay - since)
}

func (b *Backoff) Failure() {
	next := time.Duration(atomic.LoadInt64(&b.next))
	if atomic.AddInt32(&b.failures, 1) > 1 {
		next = time.Duration(float32(next) * b.K)
	}
	b.last.SetNow()
	atomic.StoreInt64(&b.next, int64(b.limit(next)))
}

// Failures counts consecutive Failure calls since Reset.
func (b *Backoff) Failures() int { return int(atomic.LoadInt32(&b.failures)) }

func (b *Backoff) Reset() {
	b.last.SetNow()
	atomic.StoreInt32(&b.failures, 0)
	atomic.StoreInt64(&b.next, int64(b.Min))
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}

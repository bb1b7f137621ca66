// Package atomic_clock is atomic int64 nanoseconds, used as lock-free timestamp
// (last activity, backoff) or as signed offset (device clock vs server).
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) IsZero() bool { return atomic.LoadInt64(&c.v) == 0 }

func (c *Clock) Set(v int64)         { atomic.StoreInt64(&c.v, v) }
func (c *Clock) SetNow()             { c.Set(source()) }
func (c *Clock) SetTime(t time.Time) { c.Set(t.UnixNano()) }

func (c *Clock) UnixNano() int64 { return atomic.LoadInt64(&c.v) }
func (c *Clock) Time() time.Time { return time.Unix(0, c.UnixNano()) }

// Duration reads value as offset.
func (c *Clock) Duration() time.Duration { return time.Duration(c.UnixNano()) }

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(source()) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.UnixNano()) }

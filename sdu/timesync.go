package sdu

import (
	"fmt"
	"time"

	"github.com/iotartic/sunit/crypto2"
	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/helpers/atomic_clock"
)

const (
	dateLayoutLength = 14 // ddmmyyyyhhmmss
	ivDateLength     = 8  // ddmmyyyy
)

// Device clock, set once per wake by date sync.
type Clock interface {
	Now() time.Time
	Set(time.Time)
}

// OffsetClock is system time plus offset learned from server.
// OS wall clock is never modified.
type OffsetClock struct {
	offset atomic_clock.Clock
	// nil = time.Now
	Source func() time.Time
}

func (c *OffsetClock) source() time.Time {
	if c.Source != nil {
		return c.Source()
	}
	return time.Now()
}

func (c *OffsetClock) Now() time.Time {
	return c.source().Add(c.offset.Duration()).UTC()
}

func (c *OffsetClock) Set(t time.Time) { c.offset.Set(int64(t.Sub(c.source()))) }

func (c *OffsetClock) Offset() time.Duration { return c.offset.Duration() }

// ParseDate accepts ASCII ddmmyyyyhhmmss, trailing bytes (cipher padding) ignored.
func ParseDate(b []byte) (time.Time, error) {
	if len(b) < dateLayoutLength {
		return time.Time{}, fault.New(fault.Local, fault.StatusFormat, "date length=%d expected=%d", len(b), dateLayoutLength)
	}
	var v [6]int
	widths := [6]int{2, 2, 4, 2, 2, 2}
	pos := 0
	for i, w := range widths {
		for _, c := range b[pos : pos+w] {
			if c < '0' || c > '9' {
				return time.Time{}, fault.New(fault.Local, fault.StatusFormat, "date not digits=%q", b[:dateLayoutLength])
			}
			v[i] = v[i]*10 + int(c-'0')
		}
		pos += w
	}
	day, month, year, hour, min, sec := v[0], v[1], v[2], v[3], v[4], v[5]
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	// time.Date normalizes 31.02 into March, reject that
	if t.Day() != day || int(t.Month()) != month || t.Hour() != hour || t.Minute() != min || t.Second() != sec {
		return time.Time{}, fault.New(fault.Local, fault.StatusFormat, "date out of range=%q", b[:dateLayoutLength])
	}
	return t, nil
}

func FormatDate(t time.Time) []byte {
	t = t.UTC()
	return []byte(fmt.Sprintf("%02d%02d%04d%02d%02d%02d", t.Day(), int(t.Month()), t.Year(), t.Hour(), t.Minute(), t.Second()))
}

// DailyIV = SHA256("ddmmyyyy")[:16], same for every message of a calendar day.
func DailyIV(t time.Time) []byte {
	d := crypto2.Digest(FormatDate(t)[:ivDateLength])
	return d[:crypto2.BlockSize]
}

var zeroIV = make([]byte, crypto2.BlockSize)

package sdu

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/iotartic/sunit/crypto2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Parallel()
	d, err := ParseDate([]byte("01022024103000\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Day())
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, 2024, d.Year())
	assert.Equal(t, 10, d.Hour())
	assert.Equal(t, 30, d.Minute())
	assert.Equal(t, 0, d.Second())
	assert.Equal(t, "01022024103000", string(FormatDate(d)))

	for _, bad := range []string{"0102202410300", "31022024103000", "01132024103000", "0102202424000x", "x1022024103000", "01022024106000"} {
		_, err := ParseDate([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestDailyIV(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC)
	iv := DailyIV(day)
	d := crypto2.Digest([]byte("01022024"))
	assert.Equal(t, hex.EncodeToString(d[:16]), hex.EncodeToString(iv))
	assert.Equal(t, iv, DailyIV(day.Add(23*time.Hour)))
	assert.NotEqual(t, iv, DailyIV(day.Add(24*time.Hour)))
}

func TestOffsetClock(t *testing.T) {
	t.Parallel()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	c := &OffsetClock{Source: func() time.Time { return now }}
	assert.Equal(t, base, c.Now())
	target := time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC)
	c.Set(target)
	assert.Equal(t, target, c.Now())
	now = now.Add(time.Minute)
	assert.Equal(t, target.Add(time.Minute), c.Now())
	assert.Equal(t, target.Sub(base), c.Offset())
}

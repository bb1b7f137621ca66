package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/iotartic/sunit/fault"
	"github.com/iotartic/sunit/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/spq"
)

func newTestOutbox(t testing.TB) *Outbox {
	o, err := Open(log2.NewTest(t, log2.LDebug), spq.OnlyForTesting)
	require.NoError(t, err)
	return o
}

func TestItemBinary(t *testing.T) {
	t.Parallel()
	in := Item{Queued: time.Date(2024, 2, 1, 10, 30, 0, 5, time.UTC), Report: []byte{0xaa, 0xbb, 1, 7}}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	var out Item
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, in, out)

	b[0] = 9
	assert.Equal(t, ErrUnknownKind, errors.Cause(out.UnmarshalBinary(b)))
	assert.Error(t, out.UnmarshalBinary(b[:0]))
}

func TestFlushOrder(t *testing.T) {
	t.Parallel()
	o := newTestOutbox(t)
	defer o.Close()
	now := time.Now()
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, o.Push([]byte{i}, now))
	}
	var got [][]byte
	n, err := o.Flush(context.Background(), func(ctx context.Context, b []byte) error {
		got = append(got, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, got)

	n, err = o.Flush(context.Background(), func(context.Context, []byte) error {
		t.Error("queue must be empty")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFlushTransportErrorKeeps(t *testing.T) {
	t.Parallel()
	o := newTestOutbox(t)
	defer o.Close()
	require.NoError(t, o.Push([]byte{1}, time.Now()))
	require.NoError(t, o.Push([]byte{2}, time.Now()))

	calls := 0
	n, err := o.Flush(context.Background(), func(context.Context, []byte) error {
		calls++
		return fault.TransportFailure(fault.CodeWiFi, errors.New("down"), "send")
	})
	assert.True(t, fault.Retryable(err))
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)

	var got [][]byte
	n, err = o.Flush(context.Background(), func(ctx context.Context, b []byte) error {
		got = append(got, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]byte{{1}, {2}}, got)
}

func TestFlushPermanentErrorDrops(t *testing.T) {
	t.Parallel()
	o := newTestOutbox(t)
	defer o.Close()
	require.NoError(t, o.Push([]byte{1}, time.Now()))
	require.NoError(t, o.Push([]byte{2}, time.Now()))

	var got [][]byte
	n, err := o.Flush(context.Background(), func(ctx context.Context, b []byte) error {
		got = append(got, b)
		if b[0] == 1 {
			return fault.PeerStatus(fault.StatusFormat)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, [][]byte{{1}, {2}}, got)
}

func TestClose(t *testing.T) {
	t.Parallel()
	o := newTestOutbox(t)
	require.NoError(t, o.Push([]byte{1}, time.Now()))
	require.NoError(t, o.Close())
	assert.Error(t, o.Push([]byte{2}, time.Now()))
}

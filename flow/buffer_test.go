package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferFIFOOrder(t *testing.T) {
	b := NewBuffer(16, 3)
	b.Send([]byte("one"), nil)
	b.Send([]byte("two"), nil)
	b.Send([]byte("three"), nil)
	require.Equal(t, 3, b.Len())

	out := make([]byte, 16)
	var got []string
	for i := 0; i < 3; i++ {
		b.Recv(out, func(n int) { got = append(got, string(out[:n])) })
	}
	require.Equal(t, []string{"one", "two", "three"}, got)
	require.Equal(t, 0, b.Len())
}

func TestBufferFullReportsNoFreeSlot(t *testing.T) {
	b := NewBuffer(16, 2)
	require.False(t, b.Full())
	b.Send([]byte("a"), nil)
	require.False(t, b.Full())
	b.Send([]byte("b"), nil)
	require.True(t, b.Full())
	// Buffer itself has no notion of rejecting a Send; callers must
	// check Full() first, as every producer in this repo does.
}

func TestBufferSendDoneFiresSynchronously(t *testing.T) {
	b := NewBuffer(16, 1)
	fired := false
	b.Send([]byte("x"), func() { fired = true })
	require.True(t, fired)
}

func TestBufferRecvWaitsForData(t *testing.T) {
	b := NewBuffer(16, 1)
	out := make([]byte, 16)
	var n int
	done := false
	b.Recv(out, func(m int) { n = m; done = true })
	require.False(t, done, "Recv must not complete before a packet is available")

	b.Send([]byte("hi"), nil)
	require.True(t, done)
	require.Equal(t, "hi", string(out[:n]))
}

func TestBufferSpaceAvailableHandler(t *testing.T) {
	b := NewBuffer(16, 1)
	b.Send([]byte("x"), nil)
	require.True(t, b.Full())

	notified := false
	b.SetSpaceAvailableHandler(func() { notified = true })

	out := make([]byte, 16)
	b.Recv(out, func(int) {})
	require.True(t, notified)
	require.False(t, b.Full())
}

package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueueDispatchesHighestPriorityFirst(t *testing.T) {
	down := &fakeDownstream{mtu: 32, hasCancel: true}
	q := NewPriorityQueue(down)

	occupier := q.RegisterFlow(0)
	occupier.Send([]byte("occupy"), func() {})

	low := q.RegisterFlow(10)
	high := q.RegisterFlow(1)
	low.Send([]byte("low"), func() {})
	high.Send([]byte("high"), func() {})

	down.complete()
	require.Equal(t, "high", string(down.sent[len(down.sent)-1]), "smaller priority value must dispatch first")
}

func TestPriorityQueueTiesBreakByRegistrationOrder(t *testing.T) {
	down := &fakeDownstream{mtu: 32, hasCancel: true}
	q := NewPriorityQueue(down)

	occupier := q.RegisterFlow(0)
	occupier.Send([]byte("occupy"), func() {})

	first := q.RegisterFlow(5)
	second := q.RegisterFlow(5)
	second.Send([]byte("second"), func() {})
	first.Send([]byte("first"), func() {})

	down.complete()
	require.Equal(t, "first", string(down.sent[len(down.sent)-1]))
}

func TestPriorityQueueSendPanicsOnSecondOutstandingPacket(t *testing.T) {
	down := &fakeDownstream{mtu: 32, hasCancel: true}
	q := NewPriorityQueue(down)
	f := q.RegisterFlow(0)

	f.Send([]byte("first"), func() {})
	require.Panics(t, func() {
		f.Send([]byte("second"), func() {})
	})
}

func TestPriorityQueueCancelFlowRemovesQueuedFlow(t *testing.T) {
	down := &fakeDownstream{mtu: 32, hasCancel: true}
	q := NewPriorityQueue(down)
	occupier := q.RegisterFlow(0)
	occupier.Send([]byte("occupy"), func() {})

	f := q.RegisterFlow(1)
	f.Send([]byte("queued"), func() {})
	q.CancelFlow(f)

	down.complete()
	require.Len(t, down.sent, 1)
}

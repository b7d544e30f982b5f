// Package queue implements spec.md component F: the fair-share packet
// queue and the static-priority queue, the two PacketPass multiplexers
// every per-peer send pipeline in package dataplane is built from.
package queue

import (
	"container/heap"

	"github.com/DavidCox1979/badvpn/flow"
)

// FairQueue multiplexes N flows onto one PacketPass downstream by
// deficit-round-robin: each Flow carries a monotonically increasing
// "time" counter, bumped each time one of that flow's packets
// completes at the downstream,
// so flows that go quiet fall behind and get picked again as soon as
// they have something queued (spec.md §4.F). Ties — most commonly two
// flows that have never sent anything, both at time 0 — are broken by
// a registration-order sequence number (SPEC_FULL.md OQ-1), since a
// flow's address carries no meaningful order in Go.
//
// At most one packet may be queued per flow at a time (spec.md
// invariant: "packets arriving while queued violate the flow
// contract") — Flow.Send panics if called again before its prior
// packet is dispatched or cancelled, the same "caller violated the
// single-outstanding-packet contract" stance the teacher takes with
// its own queue overflow checks in device.go/send.go.
type FairQueue struct {
	downstream flow.PacketPassInterface
	mtu        int

	flows   []*Flow
	ready   readyHeap
	nextSeq uint64

	busy    bool
	current *Flow
}

func NewFairQueue(downstream flow.PacketPassInterface) *FairQueue {
	return &FairQueue{downstream: downstream, mtu: downstream.MTU()}
}

func (q *FairQueue) MTU() int { return q.mtu }

// Flow is one registered upstream on a FairQueue; it implements
// flow.PacketPassInterface and is handed to whatever producer owns
// this slot (e.g. a dataplane.LocalSource's Connector, or the
// keepalive flow).
type Flow struct {
	q    *FairQueue
	seq  uint64
	time uint64

	queued bool
	idx    int // index into q.ready, maintained by container/heap
	buf    []byte
	done   func()
}

func (q *FairQueue) RegisterFlow() *Flow {
	f := &Flow{q: q, seq: q.nextSeq, idx: -1}
	q.nextSeq++
	q.flows = append(q.flows, f)
	return f
}

// UnregisterFlow removes f; if it is currently in-flight at the
// downstream, the send is cancelled first (the caller — typically a
// LocalSource/RelayFlow detaching — is responsible for deciding
// whether that cancel should happen per spec.md invariant 3's
// Attached→Released→Detached→Attached lifecycle).
func (q *FairQueue) UnregisterFlow(f *Flow) {
	q.CancelFlow(f)
	for i, g := range q.flows {
		if g == f {
			q.flows = append(q.flows[:i], q.flows[i+1:]...)
			break
		}
	}
}

func (f *Flow) MTU() int        { return f.q.mtu }
func (f *Flow) HasCancel() bool { return true }

func (f *Flow) Send(buf []byte, done func()) {
	if f.queued || f.q.current == f {
		panic("queue: Flow.Send called with a packet already outstanding")
	}
	f.buf, f.done = buf, done
	f.queued = true
	heap.Push(&f.q.ready, f)
	f.q.dispatchNext()
}

func (f *Flow) Cancel() { f.q.CancelFlow(f) }

// CancelFlow aborts whatever f currently has outstanding, whether
// merely queued or actually in-flight at the downstream (the latter
// triggers downstream.Cancel(), spec.md §4.F's preemption path, used
// when a flow is released during detach).
func (q *FairQueue) CancelFlow(f *Flow) {
	if q.current == f {
		if q.downstream.HasCancel() {
			q.downstream.Cancel()
		}
		q.busy = false
		q.current = nil
		f.buf, f.done = nil, nil
		q.dispatchNext()
		return
	}
	if f.queued {
		heap.Remove(&q.ready, f.idx)
		f.queued = false
		f.buf, f.done = nil, nil
	}
}

func (q *FairQueue) dispatchNext() {
	if q.busy || q.ready.Len() == 0 {
		return
	}
	f := heap.Pop(&q.ready).(*Flow)
	f.queued = false
	q.busy = true
	q.current = f
	buf := f.buf
	done := f.done
	f.buf, f.done = nil, nil
	q.downstream.Send(buf, func() {
		q.busy = false
		q.current = nil
		f.time++
		if done != nil {
			done()
		}
		q.dispatchNext()
	})
}

// readyHeap orders queued flows by (time, seq).
type readyHeap []*Flow

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].time != h[j].time {
		return h[i].time < h[j].time
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *readyHeap) Push(x any) {
	f := x.(*Flow)
	f.idx = len(*h)
	*h = append(*h, f)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	f.idx = -1
	*h = old[:n-1]
	return f
}

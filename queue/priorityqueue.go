package queue

import (
	"container/heap"

	"github.com/DavidCox1979/badvpn/flow"
)

// PriorityQueue is the same multiplexer as FairQueue but scheduled by
// each flow's static priority (smaller value = higher priority)
// instead of a per-flow time counter, with identical cancel/preemption
// semantics (spec.md §4.F).
type PriorityQueue struct {
	downstream flow.PacketPassInterface
	mtu        int

	flows   []*PriorityFlow
	ready   priorityHeap
	nextSeq uint64

	busy    bool
	current *PriorityFlow
}

func NewPriorityQueue(downstream flow.PacketPassInterface) *PriorityQueue {
	return &PriorityQueue{downstream: downstream, mtu: downstream.MTU()}
}

func (q *PriorityQueue) MTU() int { return q.mtu }

type PriorityFlow struct {
	q        *PriorityQueue
	priority int
	seq      uint64

	queued bool
	idx    int
	buf    []byte
	done   func()
}

// RegisterFlow adds a flow at the given static priority.
func (q *PriorityQueue) RegisterFlow(priority int) *PriorityFlow {
	f := &PriorityFlow{q: q, priority: priority, seq: q.nextSeq, idx: -1}
	q.nextSeq++
	q.flows = append(q.flows, f)
	return f
}

func (q *PriorityQueue) UnregisterFlow(f *PriorityFlow) {
	q.CancelFlow(f)
	for i, g := range q.flows {
		if g == f {
			q.flows = append(q.flows[:i], q.flows[i+1:]...)
			break
		}
	}
}

func (f *PriorityFlow) MTU() int        { return f.q.mtu }
func (f *PriorityFlow) HasCancel() bool { return true }

func (f *PriorityFlow) Send(buf []byte, done func()) {
	if f.queued || f.q.current == f {
		panic("queue: PriorityFlow.Send called with a packet already outstanding")
	}
	f.buf, f.done = buf, done
	f.queued = true
	heap.Push(&f.q.ready, f)
	f.q.dispatchNext()
}

func (f *PriorityFlow) Cancel() { f.q.CancelFlow(f) }

func (q *PriorityQueue) CancelFlow(f *PriorityFlow) {
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

func (q *PriorityQueue) dispatchNext() {
	if q.busy || q.ready.Len() == 0 {
		return
	}
	f := heap.Pop(&q.ready).(*PriorityFlow)
	f.queued = false
	q.busy = true
	q.current = f
	buf := f.buf
	done := f.done
	f.buf, f.done = nil, nil
	q.downstream.Send(buf, func() {
		q.busy = false
		q.current = nil
		if done != nil {
			done()
		}
		q.dispatchNext()
	})
}

type priorityHeap []*PriorityFlow

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *priorityHeap) Push(x any) {
	f := x.(*PriorityFlow)
	f.idx = len(*h)
	*h = append(*h, f)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	f.idx = -1
	*h = old[:n-1]
	return f
}

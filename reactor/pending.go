package reactor

import "container/list"

// PendingHandler is a deferred job's callback. It is guaranteed the
// associated Pending was in the set state when execute() picked it.
//
// Grounded on original_source/base/BPending.h: BPending_handler.
type PendingHandler func()

// PendingGroup is the scope in which Pending jobs belonging to one
// Reactor live — the Go analog of BPendingGroup. Jobs are drained
// LIFO: whichever was Set() most recently (without an intervening
// Execute) runs first. container/list gives O(1) push-to-front and
// O(1) removal-by-element, the same complexity the original's
// intrusive LinkedList1 gives, and is the container type the teacher
// itself reaches for (peer.go's trieEntries list.List) rather than a
// hand-rolled linked list.
type PendingGroup struct {
	jobs *list.List // front = top of stack, next to execute
}

func newPendingGroup() *PendingGroup {
	return &PendingGroup{jobs: list.New()}
}

// HasJobs reports whether there is at least one queued job.
func (g *PendingGroup) HasJobs() bool {
	return g.jobs.Len() > 0
}

// PeekJob returns the top job without executing it, or nil.
func (g *PendingGroup) PeekJob() *Pending {
	e := g.jobs.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Pending)
}

// ExecuteJob removes the top job, marks it not-set, and invokes its
// handler. There must be at least one job queued.
func (g *PendingGroup) ExecuteJob() {
	e := g.jobs.Front()
	p := e.Value.(*Pending)
	g.jobs.Remove(e)
	p.elem = nil
	p.set = false
	p.handler()
}

// drainAll runs every queued job to completion, LIFO, including any
// jobs newly Set() by a job's own handler — this is what gives the
// reactor its "pending jobs drain to empty between external events"
// guarantee (spec.md §5).
func (g *PendingGroup) drainAll() {
	for g.HasJobs() {
		g.ExecuteJob()
	}
}

// Pending is a single deferred-job handle — the Go analog of
// BPending. Set()/Unset() are idempotent; Set() on an already-set
// handle moves it back to the top without duplicating it.
type Pending struct {
	group   *PendingGroup
	handler PendingHandler
	elem    *list.Element // nil when not set
	set     bool
}

// NewPending constructs a handle bound to group, initially not set.
func NewPending(group *PendingGroup, handler PendingHandler) *Pending {
	return &Pending{group: group, handler: handler}
}

// Set pushes the job to the top of the queue, removing any prior
// position first, and transitions to the set state.
func (p *Pending) Set() {
	if p.elem != nil {
		p.group.jobs.Remove(p.elem)
	}
	p.elem = p.group.jobs.PushFront(p)
	p.set = true
}

// Unset removes the job from the queue if present. A no-op if the
// handle was not set.
func (p *Pending) Unset() {
	if p.elem == nil {
		return
	}
	p.group.jobs.Remove(p.elem)
	p.elem = nil
	p.set = false
}

// IsSet reports whether the handle is currently queued.
func (p *Pending) IsSet() bool { return p.set }

// Free detaches the handle from its group. Per BPending.h, the
// handler will never run after Free even if it was set.
func (p *Pending) Free() {
	p.Unset()
}

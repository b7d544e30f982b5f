// Package reactor implements spec.md components A (Reactor), B
// (pending-job queue) and C (scoped-lifetime guard): a single-thread,
// cooperative event loop driving timers, I/O readiness, signals and
// deferred jobs.
//
// The teacher (wireguard-go) instead runs many goroutines draining
// channel-fed queues (RoutineEncryption, RoutineDecryption,
// RoutineReceiveIncoming in device.go) with no single authoritative
// loop; that model is a poor fit for spec.md's explicit single-thread
// flow state machine, whose synchronous-cancel and
// single-outstanding-packet guarantees (spec.md §9, "what must NOT be
// modernized away") depend on exactly one goroutine ever touching flow
// state. Reactor keeps the teacher's idiom of "background goroutines
// feed a queue, one consumer drains it" (seen in RoutineReceiveIncoming
// posting into device.queue.decryption) but narrows it to a single
// owning goroutine for every flow-framework object: Run must be called
// from one goroutine, and that goroutine is the only one ever allowed
// to touch Reactor-owned state directly.
package reactor

import (
	"os"
	"os/signal"
	"time"

	"github.com/DavidCox1979/badvpn/internal/blog"
)

// IOEvents is a readiness bitmask, observed and requested.
type IOEvents uint8

const (
	IOEventRead IOEvents = 1 << iota
	IOEventWrite
	IOEventErr
)

// Fder is anything with an OS file descriptor the reactor can poll.
// *os.File satisfies it directly; the Linux poller registers the
// descriptor that Fd returns.
type Fder interface {
	Fd() uintptr
}

// IOCallback receives the observed subset of the requested events.
type IOCallback func(observed IOEvents)

type ioReg struct {
	handle   Fder
	mask     IOEvents
	callback IOCallback
}

// event is what the reactor's asynchronous sources post: the poller
// sends on Run's own poll channel, the signal relay and Invoke on
// r.events (timers are not events; Run checks them directly). The
// Reactor goroutine is the sole consumer of both channels, which is
// what makes
// "callback runs to completion before any other event is considered"
// (spec.md §4.A) true without any additional locking.
type event struct {
	kind    eventKind
	ioRegID int
	ioMask  IOEvents
	sig     os.Signal
	job     func()
}

type eventKind int

const (
	eventIO eventKind = iota
	eventSignal
	eventJob // used by Reactor.Invoke to marshal external calls onto the loop goroutine
)

// Reactor is the Go analog of BReactor: one event loop per instance,
// must be driven by calling Run from a single goroutine.
type Reactor struct {
	log *blog.Logger

	pending *PendingGroup

	timers timerHeap

	ioRegs  map[int]*ioReg
	nextReg int
	poller  poller

	sigCh chan os.Signal
	sigs  map[os.Signal][]func(os.Signal)

	events chan event

	quitCh   chan int
	exitCode int
	running  bool
}

// NewReactor constructs a Reactor. Call Run from the goroutine that
// will own all flow-framework state reachable from this reactor.
func NewReactor(log *blog.Logger) *Reactor {
	r := &Reactor{
		log:     log,
		pending: newPendingGroup(),
		ioRegs:  make(map[int]*ioReg),
		sigs:    make(map[os.Signal][]func(os.Signal)),
		events:  make(chan event, 64),
		quitCh:  make(chan int, 1),
	}
	r.poller = newPoller()
	return r
}

// PendingGroup returns the scope pending jobs on this reactor live in.
func (r *Reactor) PendingGroup() *PendingGroup { return r.pending }

func (r *Reactor) now() time.Time { return time.Now() }

// wake is a no-op: timer rearm doesn't need to interrupt a blocked
// poll because Run recomputes its poll timeout every iteration.
func (r *Reactor) wake() {}

// AddIO registers handle for readiness notifications matching mask.
// Adding a handle that is already registered fails on Linux: epoll
// rejects the second add (EEXIST), AddIO returns that error, and the
// earlier registration stays in place.
func (r *Reactor) AddIO(handle Fder, mask IOEvents, callback IOCallback) (int, error) {
	id := r.nextReg
	r.nextReg++
	if err := r.poller.add(id, handle, mask); err != nil {
		return 0, err
	}
	r.ioRegs[id] = &ioReg{handle: handle, mask: mask, callback: callback}
	return id, nil
}

// SetIOEvents changes the requested readiness mask for a prior AddIO
// registration.
func (r *Reactor) SetIOEvents(id int, mask IOEvents) error {
	reg, ok := r.ioRegs[id]
	if !ok {
		return nil
	}
	reg.mask = mask
	return r.poller.modify(id, reg.handle, mask)
}

// RemoveIO unregisters a prior AddIO registration.
func (r *Reactor) RemoveIO(id int) {
	if _, ok := r.ioRegs[id]; !ok {
		return
	}
	r.poller.remove(id)
	delete(r.ioRegs, id)
}

// Signal registers handler to run on the reactor goroutine whenever
// sig is delivered to the process.
func (r *Reactor) Signal(sig os.Signal, handler func(os.Signal)) {
	if len(r.sigs[sig]) == 0 {
		if r.sigCh == nil {
			r.sigCh = make(chan os.Signal, 8)
			go r.relaySignals()
		}
		signal.Notify(r.sigCh, sig)
	}
	r.sigs[sig] = append(r.sigs[sig], handler)
}

func (r *Reactor) relaySignals() {
	for s := range r.sigCh {
		r.events <- event{kind: eventSignal, sig: s}
	}
}

// Invoke marshals fn onto the reactor goroutine and returns
// immediately; fn runs as an ordinary reactor event, after any
// in-flight callback returns. Safe to call from any goroutine,
// including the poller's.
func (r *Reactor) Invoke(fn func()) {
	r.events <- event{kind: eventJob, job: fn}
}

// Quit requests Run return code once the current callback (if any)
// finishes and pending jobs have drained.
func (r *Reactor) Quit(code int) {
	select {
	case r.quitCh <- code:
	default:
	}
}

// Run blocks dispatching timers, I/O readiness, signals and pending
// jobs until Quit is called, then returns the quit code. Must be
// called from exactly one goroutine, which becomes the sole owner of
// every object built on this reactor.
func (r *Reactor) Run() int {
	r.running = true
	defer func() { r.running = false }()

	pollEvents := make(chan event, 64)
	go r.poller.run(pollEvents)

	for {
		select {
		case code := <-r.quitCh:
			return code
		default:
		}

		// Dispatch expired timers first, in monotonic deadline
		// order, per spec.md §5.
		if r.dispatchTimers() {
			if drained := r.drainAndCheckQuit(); drained {
				continue
			}
		}

		timeout := r.pollTimeout()

		select {
		case code := <-r.quitCh:
			return code
		case ev := <-pollEvents:
			r.dispatch(ev)
		case ev := <-r.events:
			r.dispatch(ev)
		case <-time.After(timeout):
			// loop back around to re-check timers
		}

		r.pending.drainAll()
	}
}

func (r *Reactor) pollTimeout() time.Duration {
	deadline, ok := r.nextDeadline()
	if !ok {
		return 1 * time.Second
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

// dispatchTimers fires every expired timer and reports whether any
// fired.
func (r *Reactor) dispatchTimers() bool {
	fired := r.popExpired(r.now())
	for _, t := range fired {
		t.handler()
	}
	return len(fired) > 0
}

func (r *Reactor) drainAndCheckQuit() bool {
	r.pending.drainAll()
	return true
}

func (r *Reactor) dispatch(ev event) {
	switch ev.kind {
	case eventIO:
		reg, ok := r.ioRegs[ev.ioRegID]
		if !ok {
			return
		}
		reg.callback(ev.ioMask)
	case eventSignal:
		for _, h := range r.sigs[ev.sig] {
			h(ev.sig)
		}
	case eventJob:
		ev.job()
	}
	r.pending.drainAll()
}

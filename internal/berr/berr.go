// Package berr implements the error & lifecycle taxonomy of spec.md §7
// (component N). It is a closed set of Kind values rather than
// sentinel errors so callers branch on taxonomy, not on string
// equality, the way the teacher branches on its own few sentinel
// errors in device.go ("device closed", "too many peers").
package berr

import "fmt"

// Kind is one of the seven error kinds named in spec.md §7. It is not
// exhaustive of Go's error space on purpose: anything outside this
// taxonomy is a programming bug, not a runtime condition the core
// taxonomy speaks to.
type Kind int

const (
	// OutOfMemory: allocation failure during Init. Fatal to the
	// object under construction, never to an already-alive peer.
	OutOfMemory Kind = iota
	// ResourceAcquisition: failed socket/handle registration.
	ResourceAcquisition
	// StreamFraming: PacketProto decoder saw an over-MTU or
	// truncated record.
	StreamFraming
	// FragmentPool: assembler slot evicted before completion.
	FragmentPool
	// PolicyViolation: unexpected from_id, or dest_ids excluding us.
	PolicyViolation
	// InactivityTimeout: receive-tolerance timer expired.
	InactivityTimeout
	// Fatal: core invariant violated; the only kind allowed to
	// abort the process (see Fatal()).
	Fatal
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "out-of-memory"
	case ResourceAcquisition:
		return "resource-acquisition"
	case StreamFraming:
		return "stream-framing"
	case FragmentPool:
		return "fragment-pool"
	case PolicyViolation:
		return "policy-violation"
	case InactivityTimeout:
		return "inactivity-timeout"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with context, the same way the teacher wraps
// plain strings with fmt.Errorf at its own call sites.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise. Recovered-locally kinds
// (OutOfMemory-during-runtime, FragmentPool, PolicyViolation per
// spec.md §7's propagation policy) are typically only inspected via
// counters, never via KindOf; StreamFraming/InactivityTimeout are the
// ones callers branch on to flip a peer's up/down edge.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.kind, true
	}
	return 0, false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsFatal reports whether err is (or wraps) a Fatal-kind error. Per
// spec.md §7, this is the only kind allowed to escape the core and
// abort the process; call sites that detect it should panic rather
// than attempt to recover locally.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Fatal
}

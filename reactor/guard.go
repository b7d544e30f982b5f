package reactor

// Guard is the Go analog of the original's dead_t / DEAD_ENTER idiom
// (spec.md §4.C, §9 "dead-tokens / reentrancy"): a generation counter
// on the watched object, bumped once on destruction, plus a
// snapshot/compare pair around any outcall that might free the
// watched object reentrantly.
//
// Every callback invocation site that calls into user code and then
// wants to keep touching `self` afterward must guard that self with
// one of these and check Alive() immediately upon return.
type Guard struct {
	generation uint64
}

// Token is the snapshot taken by Enter; compare it with Alive after
// the outcall returns.
type Token struct {
	guard      *Guard
	generation uint64
}

// Enter snapshots the guard's current generation before an outcall
// that may destroy the watched object from within the callback.
func (g *Guard) Enter() Token {
	return Token{guard: g, generation: g.generation}
}

// Alive reports whether the watched object is still the same
// incarnation it was when Enter was called — i.e. Destroy has not
// been invoked in between. A false result means the caller must
// return immediately without touching the object or any of its
// fields.
func (t Token) Alive() bool {
	return t.generation == t.guard.generationNow()
}

func (g *Guard) generationNow() uint64 { return g.generation }

// Destroy bumps the generation, invalidating every outstanding Token.
// Call this at the start of the watched object's teardown, before any
// field is actually freed, so that callbacks still unwinding the
// stack observe !Alive().
func (g *Guard) Destroy() {
	g.generation++
}

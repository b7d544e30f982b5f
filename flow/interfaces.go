// Package flow implements spec.md component D: the packet/stream flow
// framework — PacketPass/PacketRecv (and their stream analogs) plus
// the composite building blocks (Copier, Buffer, SinglePacketBuffer,
// Notifier, Blocker, Connector) every higher-level component in this
// repo is wired from.
//
// The teacher has no equivalent of this layer (wireguard-go moves
// *Elements through fixed Go channels — device.go's
// queue.{encryption,decryption,handshake}), because WireGuard's
// pipeline shape never changes at runtime. This VPN's pipeline does
// (LocalSources attach/detach from DataProtoDests, relay flows come
// and go), so instead of channels the flow framework uses the explicit
// interface/state-machine layer spec.md §4.D and §9 mandate: "the
// explicit flow state machine is the load-bearing abstraction...  an
// implementation is free to express it atop its language's concurrency
// primitives, but the observable contract must match §4.D." Everything
// in this package runs on exactly one goroutine — the owning
// reactor.Reactor's — so "primitives" here means plain Go closures and
// synchronous calls, not goroutines/channels per flow link.
//
// A completion callback is threaded through each call rather than
// registered once at init, which lets "done may be called
// synchronously from inside Send" (spec.md §4.D) fall out of ordinary
// Go control flow instead of a side-registration dance: the consumer
// either invokes done before Send returns, or stores it and invokes it
// later on the reactor goroutine (from a reactor.Pending job or a job
// marshaled there with Reactor.Invoke, never from a raw goroutine).
package flow

// PacketPassInterface is the push-model producer→consumer contract. A
// producer calls Send with a completion callback; the consumer must
// eventually invoke done exactly once, signalling buf is no longer
// referenced and the producer may reuse it — or, if it advertises
// cancel support, honor a Cancel instead and never invoke done for the
// cancelled Send.
//
// At most one Send may be outstanding at a time (spec.md invariant 1):
// the producer must not call Send again until the previous call's done
// fired or a Cancel completed.
type PacketPassInterface interface {
	// MTU is the largest packet this link ever carries.
	MTU() int
	// HasCancel reports whether Cancel is meaningful; the fair
	// queue (package queue) requires it of its downstream to
	// implement preemption.
	HasCancel() bool
	// Send hands buf (len(buf) <= MTU) to the consumer. done is
	// invoked exactly once, synchronously or later, once buf is no
	// longer referenced.
	Send(buf []byte, done func())
	// Cancel aborts the outstanding Send. By the time Cancel
	// returns, the consumer guarantees it will not touch buf and
	// will not invoke that Send's done. Only valid if HasCancel().
	Cancel()
}

// PacketRecvInterface is the pull-model consumer→producer contract. A
// consumer calls Recv with a buffer it owns and a callback; the
// producer invokes the callback with the number of bytes written, once
// the packet is ready.
type PacketRecvInterface interface {
	MTU() int
	HasCancel() bool
	// Recv requests a packet be written into buf (cap(buf) >= MTU).
	// The consumer must not call Recv again until done fires.
	Recv(buf []byte, done func(n int))
	Cancel()
}

// StreamPassInterface is the byte-oriented analog of
// PacketPassInterface. The producer may be satisfied partially: done(n)
// with n < len(buf) is valid, and the consumer is expected to reissue
// Send with the remainder.
type StreamPassInterface interface {
	HasCancel() bool
	Send(buf []byte, done func(n int))
	Cancel()
}

// StreamRecvInterface is the byte-oriented analog of
// PacketRecvInterface, with the same partial-completion contract.
type StreamRecvInterface interface {
	HasCancel() bool
	Recv(buf []byte, done func(n int))
	Cancel()
}

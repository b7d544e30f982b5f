// Package dataplane implements spec.md components I, J, K and L: the
// per-peer DataProto send pipeline (DataProtoDest), the per-(local,
// remote) peer attach point for TAP-originated frames (LocalSource),
// the per-source-peer relay fan-out (RelaySource), and the packet
// router that dispatches one TAP-received frame into 0..N
// LocalSource.Route calls.
package dataplane

import (
	"time"

	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/internal/blog"
	"github.com/DavidCox1979/badvpn/keepalive"
	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/queue"
	"github.com/DavidCox1979/badvpn/reactor"
)

// UpHandler is invoked when a destination's observable up/down state
// changes (spec.md §4.I, §7: "a single up/down edge per peer").
type UpHandler func(up bool)

// DataProtoDest is the Go analog of spec.md's PeerContext/DataProtoDest
// (component I): one per-peer send pipeline of
//
//	FairQueue → InactivityMonitor(keep_alive_ms) → Notifier → output
//
// with a keep-alive flow registered on the fair queue, gated by a
// Blocker that only releases once the InactivityMonitor reports the
// queue has gone idle for keep_alive_ms.
type DataProtoDest struct {
	r   *reactor.Reactor
	log *blog.Logger

	myID     proto.PeerID
	remoteID proto.PeerID

	output     flow.PacketPassInterface
	fairQueue  *queue.FairQueue
	inactivity *keepalive.InactivityMonitor
	notifier   *flow.Notifier

	keepAliveMs  time.Duration
	toleranceMs  time.Duration
	recvTimer    *reactor.Timer
	handler      UpHandler

	up            bool
	peerReceiving bool
	lastRecv      time.Time
	freeing       bool

	upPending *reactor.Pending

	keepaliveFlow    *queue.Flow
	keepaliveSource  *keepalive.KeepAliveSource
	keepaliveBlocker *flow.Blocker
	keepaliveScratch []byte

	droppedOnFull int
}

// NewDataProtoDest wires a new send pipeline. output is the eventual
// consumer (a UDP or TLS/TCP peer-IO sink outside this package's
// scope, per spec.md §1). myID is this peer's own id, stamped as
// from_id on every outgoing packet this dest forwards; remoteID is the
// addressee this destination carries traffic to, stamped as the sole
// dest_id on the keep-alive packets this dest generates itself.
func NewDataProtoDest(r *reactor.Reactor, log *blog.Logger, myID, remoteID proto.PeerID, output flow.PacketPassInterface, keepAliveMs, toleranceMs time.Duration, handler UpHandler) *DataProtoDest {
	d := &DataProtoDest{
		r:           r,
		log:         log,
		myID:        myID,
		remoteID:    remoteID,
		output:      output,
		keepAliveMs: keepAliveMs,
		toleranceMs: toleranceMs,
		handler:     handler,
	}

	d.notifier = flow.NewNotifier(output, d.stampKeepaliveFlag)
	d.inactivity = keepalive.NewInactivityMonitor(r, d.notifier, keepAliveMs, d.onQueueIdle)
	d.fairQueue = queue.NewFairQueue(d.inactivity)

	d.keepaliveSource = keepalive.NewKeepAliveSource(d.fairQueue.MTU())
	d.keepaliveBlocker = flow.NewBlocker(d.keepaliveSource)
	d.keepaliveFlow = d.fairQueue.RegisterFlow()
	d.keepaliveScratch = make([]byte, proto.MaxOverhead(1))
	d.armKeepaliveRecv()

	d.recvTimer = reactor.NewTimer(d.onToleranceExpire)
	d.r.SetTimer(d.recvTimer, toleranceMs)

	d.upPending = reactor.NewPending(r.PendingGroup(), d.fireUpIfStillWarranted)

	return d
}

// FairQueue exposes the multiplexer LocalSource/RelaySource flows
// register onto.
func (d *DataProtoDest) FairQueue() *queue.FairQueue { return d.fairQueue }

// IsUp reports the last-delivered up/down edge.
func (d *DataProtoDest) IsUp() bool { return d.up }

// IsFreeing reports whether PrepareFree has been called.
func (d *DataProtoDest) IsFreeing() bool { return d.freeing }

// stampKeepaliveFlag rewrites the DataProto flags byte of every
// outgoing record to reflect this destination's current up status,
// centralizing RECEIVING_KEEPALIVES so LocalSource/RelaySource never
// need to know the destination's liveness state when they build their
// own headers.
func (d *DataProtoDest) stampKeepaliveFlag(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if d.up {
		buf[0] |= proto.FlagReceivingKeepalives
	} else {
		buf[0] &^= proto.FlagReceivingKeepalives
	}
}

func (d *DataProtoDest) onQueueIdle() {
	d.keepaliveBlocker.SetBlocking(false)
}

func (d *DataProtoDest) armKeepaliveRecv() {
	d.keepaliveBlocker.SetBlocking(true)
	d.keepaliveBlocker.Recv(d.keepaliveScratch[:0], d.onKeepaliveReady)
}

func (d *DataProtoDest) onKeepaliveReady(int) {
	hdr := proto.Header{FromID: d.myID, DestIDs: []proto.PeerID{d.remoteID}}
	pkt := hdr.Encode(d.keepaliveScratch, nil)
	d.keepaliveFlow.Send(pkt, func() {
		d.armKeepaliveRecv()
	})
}

// Received is called by the receive side whenever a packet from this
// peer arrives (spec.md §4.I). peerReceiving is the
// RECEIVING_KEEPALIVES flag observed on that packet.
func (d *DataProtoDest) Received(peerReceiving bool) {
	d.lastRecv = time.Now()
	d.r.SetTimer(d.recvTimer, d.toleranceMs)
	d.peerReceiving = peerReceiving

	if !peerReceiving {
		if d.up {
			d.up = false
			d.handler(false)
		}
		return
	}

	if !d.up {
		// Deferred per spec.md §4.I / §9: "DataProtoDest
		// deliberately defers the first up event via a pending
		// job so that user handlers don't observe the pipeline
		// mid-construction" — and so the handler never runs
		// synchronously from within Received.
		d.upPending.Set()
	}
}

// fireUpIfStillWarranted runs as a reactor.Pending job; it re-checks
// peerReceiving because a down edge (or another Received call) may
// have landed between Set and execution.
func (d *DataProtoDest) fireUpIfStillWarranted() {
	if d.up || !d.peerReceiving {
		return
	}
	d.up = true
	d.handler(true)
}

func (d *DataProtoDest) onToleranceExpire() {
	if d.up {
		d.up = false
		d.handler(false)
	}
}

// PrepareFree transitions to the freeing state: attached LocalSources
// may now Detach without DataProtoDest itself triggering synchronous
// output cancellation, since the whole destination is about to be
// torn down in the same tick (spec.md §4.I, §9's Lifecycles note).
func (d *DataProtoDest) PrepareFree() {
	d.freeing = true
}

// Close tears down timers and the keep-alive flow. Call only after
// every LocalSource/RelayFlow has detached.
func (d *DataProtoDest) Close() {
	d.r.UnsetTimer(d.recvTimer)
	d.inactivity.Stop()
	d.upPending.Free()
	d.fairQueue.UnregisterFlow(d.keepaliveFlow)
}

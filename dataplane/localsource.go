package dataplane

import (
	"time"

	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/keepalive"
	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/queue"
	"github.com/DavidCox1979/badvpn/reactor"
)

// LocalSource is the Go analog of spec.md's DataProto local source
// (component J): one per (local peer, remote peer) pair, buffering
// frames the router selected for that remote peer until the currently
// attached DataProtoDest's fair queue can take them.
//
// The buffer always copies on Send (flow.Buffer's contract), so unlike
// the original's route(more) signature — which relies on the router's
// own in-flight frame pointer staying valid across N calls and only
// needs `more` to know when that pointer may be reused — this Route
// takes the frame explicitly. The copy-on-enqueue means `more` carries
// no obligation for LocalSource itself; it is accepted only to keep
// the call shape PacketRouter expects (§4.L: "the user must call
// route(more=false) exactly once per frame").
type LocalSource struct {
	r *reactor.Reactor

	localID  proto.PeerID
	remoteID proto.PeerID

	buf        *flow.Buffer
	conn       *flow.Connector
	inactivity *keepalive.InactivityMonitor // nil when no inactivity callback was configured
	copier     *flow.Copier

	dest *DataProtoDest
	flow *queue.Flow

	dropped int
}

// NewLocalSource constructs a buffer of at most numPackets frames (plus
// DataProto header overhead), wired to a Connector so it can attach to
// and detach from a DataProtoDest at runtime. A negative inactivityTime
// disables the inactivity callback (spec.md §4.J: "if configured with
// inactivity_time >= 0").
func NewLocalSource(r *reactor.Reactor, localID, remoteID proto.PeerID, frameMTU, numPackets int, inactivityTime time.Duration, onInactive func()) *LocalSource {
	ls := &LocalSource{
		r:        r,
		localID:  localID,
		remoteID: remoteID,
		buf:      flow.NewBuffer(frameMTU+proto.MaxOverhead(1), numPackets),
		conn:     flow.NewConnector(),
	}
	var pump flow.PacketPassInterface = ls.conn
	if inactivityTime >= 0 {
		ls.inactivity = keepalive.NewInactivityMonitor(r, ls.conn, inactivityTime, onInactive)
		pump = ls.inactivity
	}
	ls.copier = flow.NewCopier(ls.buf, pump)
	ls.copier.Start()
	return ls
}

// RemoteID reports the fixed remote peer this source forwards toward;
// this identity survives detach/reattach (invariant 3: the owning
// DataProtoDest may change, the target peer does not).
func (ls *LocalSource) RemoteID() proto.PeerID { return ls.remoteID }

// Dropped reports the cumulative count of frames silently dropped
// because the RouteBuffer was full (spec.md testable property 9).
func (ls *LocalSource) Dropped() int { return ls.dropped }

// IsAttached reports whether a DataProtoDest currently owns this
// source.
func (ls *LocalSource) IsAttached() bool { return ls.dest != nil }

// Attach binds this source to dest, registering a new flow on its fair
// queue. Per invariant 3, a LocalSource must be Detached before it is
// Attached again to a (possibly different) destination.
func (ls *LocalSource) Attach(dest *DataProtoDest) {
	ls.dest = dest
	ls.flow = dest.FairQueue().RegisterFlow()
	ls.conn.Attach(ls.flow)
	ls.copier.Start()
}

// Detach releases this source from its current destination.
// cancelInFlight should be false when called because the owning
// destination itself is PrepareFree'd (spec.md §4.I), true for an
// ordinary reassignment so any in-flight send is aborted immediately
// rather than left to complete into a queue nobody reads from again.
//
// The copier's pump must be stopped before the Connector itself is
// detached (mirroring relaysource.go's releaseOne): otherwise a packet
// genuinely in flight at the moment of detach is cancelled out from
// under the copier with its resume closure never invoked, leaving the
// pump dead even across a later clean Attach.
//
// Detach is lossy: frames still waiting in the RouteBuffer are
// discarded, never delivered after the next Attach.
func (ls *LocalSource) Detach(cancelInFlight bool) {
	if ls.dest == nil {
		return
	}
	ls.copier.Stop()
	ls.conn.Detach(cancelInFlight)
	ls.dest.FairQueue().UnregisterFlow(ls.flow)
	ls.dest, ls.flow = nil, nil
	discard := make([]byte, ls.buf.MTU())
	for ls.buf.Len() > 0 {
		ls.buf.Recv(discard, func(int) {})
	}
}

// Route implements spec.md §4.J's route(more): prepends a DataProto
// header (from=local, to=remote) and appends the resulting record to
// the RouteBuffer if there is room, else drops and counts the drop.
func (ls *LocalSource) Route(frame []byte, more bool) {
	if ls.buf.Full() {
		ls.dropped++
		return
	}
	hdr := proto.Header{FromID: ls.localID, DestIDs: []proto.PeerID{ls.remoteID}}
	scratch := make([]byte, proto.MaxOverhead(1)+len(frame))
	pkt := hdr.Encode(scratch, frame)
	ls.buf.Send(pkt, nil)
}

// Close tears down the inactivity timer, if one was configured. Call
// only once the source has been Detached.
func (ls *LocalSource) Close() {
	if ls.inactivity != nil {
		ls.inactivity.Stop()
	}
}

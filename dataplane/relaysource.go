package dataplane

import (
	"time"

	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/keepalive"
	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/queue"
	"github.com/DavidCox1979/badvpn/reactor"
)

// relayFlow is one destination-peer entry inside a RelaySource: a
// PacketBuffer feeding a fair-queue flow on DataProtoDest[D], with its
// own inactivity monitor (spec.md §4.K: "each flow carries its own
// inactivity monitor; when it fires, the flow is released").
type relayFlow struct {
	dest *DataProtoDest
	buf  *flow.Buffer
	conn *flow.Connector

	inactivity *keepalive.InactivityMonitor
	copier     *flow.Copier

	qflow *queue.Flow
}

// RelaySourceStats is the supplemented per-source counter set
// (SPEC_FULL.md feature 3), surfaced for diagnostics the way the
// teacher's Peer exposes receive/transmit byte counters.
type RelaySourceStats struct {
	ActiveFlows int
	Dropped     int
	Released    int
}

// RelaySource is the Go analog of spec.md's relay source (component
// K): owned by the local peer that received a frame destined for other
// peers, fanning it out across one relay flow per destination.
type RelaySource struct {
	r *reactor.Reactor

	sourcePeer proto.PeerID

	flows map[proto.PeerID]*relayFlow

	relayInactivity time.Duration

	droppedTotal  int
	releasedTotal int
}

// NewRelaySource constructs a relay source for frames arriving from
// sourcePeer. relayInactivity is the per-flow idle timeout before a
// relay flow self-releases; negative disables it.
func NewRelaySource(r *reactor.Reactor, sourcePeer proto.PeerID, relayInactivity time.Duration) *RelaySource {
	return &RelaySource{
		r:               r,
		sourcePeer:      sourcePeer,
		flows:           make(map[proto.PeerID]*relayFlow),
		relayInactivity: relayInactivity,
	}
}

// Submit implements spec.md §4.K's submit(D, frame, buffer_num_packets):
// lazily creates the relay flow to D if it doesn't exist, then enqueues
// frame (with a DataProto header from=sourcePeer, to=D) into it.
func (rs *RelaySource) Submit(dest *DataProtoDest, destID proto.PeerID, frame []byte, bufferNumPackets int) {
	rf, ok := rs.flows[destID]
	if !ok {
		rf = rs.newFlow(dest, destID, bufferNumPackets)
		rs.flows[destID] = rf
	}
	if rf.buf.Full() {
		rs.droppedTotal++
		return
	}
	hdr := proto.Header{FromID: rs.sourcePeer, DestIDs: []proto.PeerID{destID}}
	scratch := make([]byte, proto.MaxOverhead(1)+len(frame))
	pkt := hdr.Encode(scratch, frame)
	rf.buf.Send(pkt, nil)
}

func (rs *RelaySource) newFlow(dest *DataProtoDest, destID proto.PeerID, bufferNumPackets int) *relayFlow {
	rf := &relayFlow{dest: dest}
	rf.buf = flow.NewBuffer(dest.FairQueue().MTU(), bufferNumPackets)
	rf.conn = flow.NewConnector()
	rf.qflow = dest.FairQueue().RegisterFlow()
	rf.conn.Attach(rf.qflow)

	var pump flow.PacketPassInterface = rf.conn
	if rs.relayInactivity >= 0 {
		rf.inactivity = keepalive.NewInactivityMonitor(rs.r, rf.conn, rs.relayInactivity, func() {
			rs.releaseOne(destID)
		})
		pump = rf.inactivity
	}
	rf.copier = flow.NewCopier(rf.buf, pump)
	rf.copier.Start()
	return rf
}

// IsEmpty reports spec.md §4.K's is_empty(): true iff every relay flow
// has been released.
func (rs *RelaySource) IsEmpty() bool { return len(rs.flows) == 0 }

// Stats reports the supplemented counter snapshot.
func (rs *RelaySource) Stats() RelaySourceStats {
	return RelaySourceStats{ActiveFlows: len(rs.flows), Dropped: rs.droppedTotal, Released: rs.releasedTotal}
}

func (rs *RelaySource) releaseOne(destID proto.PeerID) {
	rf, ok := rs.flows[destID]
	if !ok {
		return
	}
	rf.copier.Stop()
	if rf.inactivity != nil {
		rf.inactivity.Stop()
	}
	rf.conn.Detach(true)
	rf.dest.FairQueue().UnregisterFlow(rf.qflow)
	delete(rs.flows, destID)
	rs.releasedTotal++
}

// Release implements spec.md §4.K's release(): releases every relay
// flow, requiring none of their destinations be in the freeing state
// (the caller is expected to have already checked this; Release itself
// panics rather than silently violating the precondition, matching the
// "programmer error" stance the teacher takes on invariant violations
// elsewhere — e.g. queue.Flow.Send's panic on a second outstanding
// packet).
func (rs *RelaySource) Release() {
	for _, rf := range rs.flows {
		if rf.dest.IsFreeing() {
			panic("dataplane: RelaySource.Release called with a destination already freeing; use FreeRelease")
		}
	}
	for destID := range rs.flows {
		rs.releaseOne(destID)
	}
}

// FreeRelease implements spec.md §4.K's free_release(): used during
// whole-system teardown, it tolerates destinations already in the
// freeing state: for those it detaches without cancelling and does not
// unregister the relay flow from the destination's fair queue.
func (rs *RelaySource) FreeRelease() {
	for destID, rf := range rs.flows {
		if rf.dest.IsFreeing() {
			rf.copier.Stop()
			if rf.inactivity != nil {
				rf.inactivity.Stop()
			}
			rf.conn.Detach(false)
			delete(rs.flows, destID)
			rs.releasedTotal++
			continue
		}
		rs.releaseOne(destID)
	}
}

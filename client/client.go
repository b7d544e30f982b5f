// Package client wires every dataplane component into one running VPN
// instance — the top-level composition root analogous to the
// teacher's Device/Peer pair in device/device.go and device/peer.go.
//
// Where the teacher's Device owns crypto identity, a UDP bind and a
// peer key map, Client owns a reactor, a TAP device, a frame decider
// and a table of per-peer send/relay pipelines; encryption, transport
// framing and peer discovery are the embedding host's responsibility
// (spec.md §1 Non-goals), reached only through the abstract `output`
// flow.PacketPassInterface each Peer is constructed with.
package client

import (
	"fmt"

	"github.com/DavidCox1979/badvpn/dataplane"
	"github.com/DavidCox1979/badvpn/decider"
	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/internal/berr"
	"github.com/DavidCox1979/badvpn/internal/blog"
	"github.com/DavidCox1979/badvpn/internal/vpnconfig"
	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/reactor"
	"github.com/DavidCox1979/badvpn/tap"
)

// Client owns one VPN instance's reactor-confined state: all methods
// and callbacks here run on the reactor goroutine.
type Client struct {
	r   *reactor.Reactor
	log *blog.Logger

	myID proto.PeerID

	tapDev   tap.Device
	router   *dataplane.PacketRouter
	decider  *decider.FrameDecider
	dpCfg    vpnconfig.Dataplane
	frameMTU int

	peers map[proto.PeerID]*Peer

	policyViolations int
}

// New constructs a Client bound to an already-open TAP device. The
// caller drives r.Run(); New itself performs no blocking I/O.
func New(r *reactor.Reactor, log *blog.Logger, myID proto.PeerID, tapDev tap.Device, frameMTU int, dpCfg vpnconfig.Dataplane, dCfg vpnconfig.Decider) *Client {
	c := &Client{
		r:        r,
		log:      log,
		myID:     myID,
		tapDev:   tapDev,
		dpCfg:    dpCfg,
		frameMTU: frameMTU,
		peers:    make(map[proto.PeerID]*Peer),
	}
	c.decider = decider.NewFrameDecider(r, dCfg.MACsPerPeer, dCfg.PeerMaxGroups)
	c.router = dataplane.NewPacketRouter(tapDev, c.dispatch)
	return c
}

// Start begins pulling frames from the TAP device.
func (c *Client) Start() { c.router.Start() }

// Stop halts the TAP pump. Peers must be removed separately via
// RemovePeer before the reactor itself stops.
func (c *Client) Stop() { c.router.Stop() }

// PolicyViolations reports the cumulative count of dropped DataProto
// records whose from_id did not match the sending peer or whose
// dest_ids named neither us nor any known peer (spec.md §7's
// PolicyViolation kind). Records from a peer that is not known at all
// are rejected with a PolicyViolation error but not counted here.
func (c *Client) PolicyViolations() int { return c.policyViolations }

// dispatch implements the RouteFunc the PacketRouter drives: every
// TAP-originated frame is handed to the frame decider, which picks the
// peer set, and routed once per selected peer's LocalSource.
func (c *Client) dispatch(frame []byte, route func(ls *dataplane.LocalSource, more bool)) {
	recipients := c.decider.Decide(frame)
	for i, p := range recipients {
		peer, ok := c.peers[p]
		if !ok {
			continue
		}
		route(peer.local, i < len(recipients)-1)
	}
}

// AddPeer constructs and wires a full send/relay pipeline for a newly
// known remote peer. output is that peer's transport sink — built and
// owned by the embedding host (UDP or TLS/TCP), outside this package's
// scope.
func (c *Client) AddPeer(id proto.PeerID, output flow.PacketPassInterface) *Peer {
	p := newPeer(c, id, output)
	c.peers[id] = p
	c.decider.AddPeer(id)
	return p
}

// RemovePeer tears a peer's pipeline down: PrepareFree on its
// DataProtoDest lets LocalSource.Detach skip the synchronous cancel
// (spec.md §4.I), then every owned component is closed in dependency
// order.
func (c *Client) RemovePeer(id proto.PeerID) {
	p, ok := c.peers[id]
	if !ok {
		return
	}
	p.close()
	c.decider.RemovePeer(id)
	delete(c.peers, id)
}

// Peer looks up a currently known peer by id.
func (c *Client) Peer(id proto.PeerID) (*Peer, bool) {
	p, ok := c.peers[id]
	return p, ok
}

// OnDataProto is the receive-side entry point: called by the
// embedding host once it has decoded one DataProto record off a peer's
// transport link (after PacketProto/FragmentProto reassembly upstream,
// per spec.md's data-flow diagram). fromPeer must equal the record's
// own from_id; a mismatch is itself a PolicyViolation.
func (c *Client) OnDataProto(fromPeer proto.PeerID, record []byte) error {
	src, ok := c.peers[fromPeer]
	if !ok {
		return berr.New(berr.PolicyViolation, "dataproto from unknown peer %d", fromPeer)
	}

	hdr, payload, err := proto.Decode(record)
	if err != nil {
		return berr.Wrap(berr.StreamFraming, err, "dataproto decode from peer %d", fromPeer)
	}
	if hdr.FromID != fromPeer {
		c.policyViolations++
		return berr.New(berr.PolicyViolation, "dataproto from_id %d does not match transport peer %d", hdr.FromID, fromPeer)
	}

	src.dest.Received(hdr.ReceivingKeepalives())

	if len(hdr.DestIDs) == 0 {
		return nil // pure keep-alive: liveness already recorded above.
	}

	delivered := false
	for _, destID := range hdr.DestIDs {
		if destID == c.myID {
			delivered = true
			c.deliverLocal(fromPeer, payload)
			continue
		}
		if destPeer, ok := c.peers[destID]; ok {
			delivered = true
			src.relay.Submit(destPeer.dest, destID, payload, c.dpCfg.RelayBufferPackets)
		}
	}
	if !delivered {
		c.policyViolations++
		return berr.New(berr.PolicyViolation, "dataproto dest_ids %v name neither us nor any known peer", hdr.DestIDs)
	}
	return nil
}

func (c *Client) deliverLocal(fromPeer proto.PeerID, payload []byte) {
	c.decider.Learn(payload, fromPeer)
	c.decider.ProcessIGMP(payload, fromPeer)
	c.tapDev.Send(payload, func() {})
}

func (c *Client) String() string {
	return fmt.Sprintf("client(me=%d, peers=%d)", c.myID, len(c.peers))
}

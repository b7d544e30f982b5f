package client

import (
	"github.com/DavidCox1979/badvpn/dataplane"
	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/proto"
)

// Peer is one remote peer's full pipeline: a send destination, a
// buffer attaching locally-originated frames to it, and a fan-out
// source for frames this peer sent us that need relaying to other
// peers. The analog of the teacher's device/peer.go Peer, minus the
// Noise session state that has no place in this spec's scope.
type Peer struct {
	client *Client
	id     proto.PeerID

	dest  *dataplane.DataProtoDest
	local *dataplane.LocalSource
	relay *dataplane.RelaySource

	output flow.PacketPassInterface
}

func newPeer(c *Client, id proto.PeerID, output flow.PacketPassInterface) *Peer {
	p := &Peer{client: c, id: id, output: output}

	p.dest = dataplane.NewDataProtoDest(c.r, c.log, c.myID, id, output, c.dpCfg.KeepAlive, c.dpCfg.Tolerance, func(up bool) {
		c.onPeerUp(id, up)
	})
	p.local = dataplane.NewLocalSource(c.r, c.myID, id, c.frameMTU, c.dpCfg.LocalBufferPackets, c.dpCfg.LocalInactivity, func() {
		c.log.Verbosef("peer %d: local source idle with frames still queued", id)
	})
	p.local.Attach(p.dest)
	p.relay = dataplane.NewRelaySource(c.r, id, c.dpCfg.RelayInactivity)

	return p
}

// ID reports this peer's identifier.
func (p *Peer) ID() proto.PeerID { return p.id }

// IsUp reports the destination pipeline's last-delivered liveness edge.
func (p *Peer) IsUp() bool { return p.dest.IsUp() }

func (c *Client) onPeerUp(id proto.PeerID, up bool) {
	if up {
		c.log.Infof("peer %d up", id)
	} else {
		c.log.Infof("peer %d down", id)
	}
}

// close tears this peer's pipeline down in dependency order: the
// destination is marked freeing first so LocalSource.Detach and
// RelaySource.FreeRelease both skip synchronous output cancellation on
// an object about to be destroyed anyway (spec.md §4.I).
func (p *Peer) close() {
	p.dest.PrepareFree()
	p.local.Detach(false)
	p.local.Close()
	p.relay.FreeRelease()
	p.dest.Close()
}

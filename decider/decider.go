// Package decider implements spec.md component H: the frame decider,
// deciding which peers an outbound Ethernet frame from the TAP device
// should be forwarded to via MAC learning, and snooping IGMP reports
// to maintain multicast group membership.
//
// Ethernet/IPv4/IGMP parsing uses github.com/google/gopacket and
// github.com/google/gopacket/layers, the same packet-decoding stack
// facebook-time's ziffy/pshark tooling uses, instead of hand-rolled
// byte-offset parsing — the frame decider is exactly the kind of
// "parse a few header fields out of an opaque byte slice" code that
// stack exists for.
package decider

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/reactor"
)

// PeerID aliases proto.PeerID so callers don't need to import both
// packages for the same concept.
type PeerID = proto.PeerID

// Default table-sizing caps (spec.md §9: "MACS_PER_PEER and
// PEER_MAX_GROUPS are small static caps (default 16)").
const (
	DefaultMACsPerPeer    = 16
	DefaultPeerMaxGroups  = 16
)

var broadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IGMP timer defaults (spec.md §4.H).
const (
	DefaultGroupMembershipInterval = 260 * time.Second // RFC 2236 default
	DefaultLastMemberQueryTime     = 2 * time.Second
)

type macEntry struct {
	mac  [6]byte
	peer PeerID
	// lruPrev/lruNext thread this entry into its owning peer's
	// intrusive LRU list (most-recently-used at the head).
	lruPrev, lruNext *macEntry
}

type peerMACs struct {
	count      int
	mostRecent *macEntry
	leastRecent *macEntry
}

type groupMember struct {
	peer  PeerID
	timer *reactor.Timer
}

// FrameDecider is the Go analog of spec.md's FrameDecider state: a
// single instance shared by one VPN client, touched only from the
// owning reactor.Reactor's goroutine (spec.md §5's "no locking is
// needed or used").
type FrameDecider struct {
	r *reactor.Reactor

	macsPerPeer   int
	peerMaxGroups int

	macTable map[[6]byte]*macEntry
	perPeer  map[PeerID]*peerMACs

	// group -> members currently reporting membership
	groups map[string][]*groupMember

	knownPeers map[PeerID]bool

	igmpLimiter *peerRatelimiter
}

func NewFrameDecider(r *reactor.Reactor, macsPerPeer, peerMaxGroups int) *FrameDecider {
	if macsPerPeer <= 0 {
		macsPerPeer = DefaultMACsPerPeer
	}
	if peerMaxGroups <= 0 {
		peerMaxGroups = DefaultPeerMaxGroups
	}
	return &FrameDecider{
		r:             r,
		macsPerPeer:   macsPerPeer,
		peerMaxGroups: peerMaxGroups,
		macTable:      make(map[[6]byte]*macEntry),
		perPeer:       make(map[PeerID]*peerMACs),
		groups:        make(map[string][]*groupMember),
		knownPeers:    make(map[PeerID]bool),
		igmpLimiter:   newPeerRatelimiter(),
	}
}

// AddPeer/RemovePeer maintain KnownPeers (spec.md §3).
func (d *FrameDecider) AddPeer(p PeerID) {
	d.knownPeers[p] = true
	d.perPeer[p] = &peerMACs{}
}

func (d *FrameDecider) RemovePeer(p PeerID) {
	delete(d.knownPeers, p)
	if pm, ok := d.perPeer[p]; ok {
		for e := pm.mostRecent; e != nil; {
			next := e.lruNext
			delete(d.macTable, e.mac)
			e = next
		}
	}
	delete(d.perPeer, p)
	for group, members := range d.groups {
		kept := members[:0]
		for _, m := range members {
			if m.peer == p {
				d.r.UnsetTimer(m.timer)
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(d.groups, group)
		} else {
			d.groups[group] = kept
		}
	}
	d.igmpLimiter.Forget(p)
}

func (d *FrameDecider) allPeers() []PeerID {
	peers := make([]PeerID, 0, len(d.knownPeers))
	for p := range d.knownPeers {
		peers = append(peers, p)
	}
	return peers
}

func macKey(hw net.HardwareAddr) ([6]byte, bool) {
	if len(hw) != 6 {
		return [6]byte{}, false
	}
	var k [6]byte
	copy(k[:], hw)
	return k, true
}

func isUnicast(mac [6]byte) bool  { return mac[0]&1 == 0 }
func isMulticast(mac [6]byte) bool { return mac[0]&1 == 1 }

// Decide implements spec.md §4.H's dispatch rules for one outbound
// Ethernet frame, returning the set of peers it should be sent to.
func (d *FrameDecider) Decide(frame []byte) []PeerID {
	eth, ip4 := parseFrame(frame)
	if eth == nil {
		return d.allPeers()
	}
	dst, ok := macKey(eth.DstMAC)
	if !ok {
		return d.allPeers()
	}

	if dst == broadcastMAC {
		return d.allPeers()
	}

	if isMulticast(dst) {
		if ip4 != nil {
			if members, ok := d.groups[ip4.DstIP.String()]; ok && len(members) > 0 {
				peers := make([]PeerID, len(members))
				for i, m := range members {
					peers[i] = m.peer
				}
				return peers
			}
		}
		return d.allPeers()
	}

	// Unicast.
	if entry, ok := d.macTable[dst]; ok {
		return []PeerID{entry.peer}
	}
	return d.allPeers()
}

// Learn records that srcMAC was observed arriving from peer (spec.md
// §4.H's learning rule): inserted only if not already owned by a
// different peer, touching LRU on every observation, evicting that
// peer's own least-recently-used entry if it is now over cap.
func (d *FrameDecider) Learn(frame []byte, peer PeerID) {
	eth, _ := parseFrame(frame)
	if eth == nil {
		return
	}
	src, ok := macKey(eth.SrcMAC)
	if !ok || isMulticast(src) {
		return
	}
	if existing, ok := d.macTable[src]; ok {
		if existing.peer != peer {
			return // owned by another peer; do not steal
		}
		d.touchLRU(existing)
		return
	}
	d.insertMAC(src, peer)
}

func (d *FrameDecider) insertMAC(mac [6]byte, peer PeerID) {
	pm, ok := d.perPeer[peer]
	if !ok {
		pm = &peerMACs{}
		d.perPeer[peer] = pm
	}
	if pm.count >= d.macsPerPeer {
		d.evictLRU(pm)
	}
	e := &macEntry{mac: mac, peer: peer}
	d.macTable[mac] = e
	d.pushMRU(pm, e)
	pm.count++
}

func (d *FrameDecider) pushMRU(pm *peerMACs, e *macEntry) {
	e.lruNext = pm.mostRecent
	if pm.mostRecent != nil {
		pm.mostRecent.lruPrev = e
	}
	pm.mostRecent = e
	if pm.leastRecent == nil {
		pm.leastRecent = e
	}
}

func (d *FrameDecider) touchLRU(e *macEntry) {
	pm := d.perPeer[e.peer]
	if pm == nil || pm.mostRecent == e {
		return
	}
	// unlink
	if e.lruPrev != nil {
		e.lruPrev.lruNext = e.lruNext
	}
	if e.lruNext != nil {
		e.lruNext.lruPrev = e.lruPrev
	}
	if pm.leastRecent == e {
		pm.leastRecent = e.lruPrev
	}
	e.lruPrev, e.lruNext = nil, nil
	d.pushMRU(pm, e)
}

func (d *FrameDecider) evictLRU(pm *peerMACs) {
	victim := pm.leastRecent
	if victim == nil {
		return
	}
	pm.leastRecent = victim.lruPrev
	if pm.leastRecent != nil {
		pm.leastRecent.lruNext = nil
	} else {
		pm.mostRecent = nil
	}
	delete(d.macTable, victim.mac)
	pm.count--
}

// ProcessIGMP snoops an IGMP report/query arriving from peer,
// updating MulticastGroups per spec.md §4.H. Report ingestion is
// gated by a per-peer token bucket (adapted from the teacher's
// ratelimiter) so a single peer cannot churn the shared group table.
func (d *FrameDecider) ProcessIGMP(frame []byte, peer PeerID) {
	_, ip4 := parseFrame(frame)
	if ip4 == nil {
		return
	}
	igmpLayer := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy).Layer(layers.LayerTypeIGMP)
	if igmpLayer == nil {
		return
	}
	// gopacket decodes IGMPv1/v2 messages as *layers.IGMPv1or2 and
	// IGMPv3 messages as *layers.IGMP.
	var igmpType layers.IGMPType
	var groupAddr net.IP
	switch igmp := igmpLayer.(type) {
	case *layers.IGMPv1or2:
		igmpType, groupAddr = igmp.Type, igmp.GroupAddress
	case *layers.IGMP:
		igmpType, groupAddr = igmp.Type, igmp.GroupAddress
	default:
		return
	}

	switch igmpType {
	case layers.IGMPMembershipReportV1, layers.IGMPMembershipReportV2, layers.IGMPMembershipReportV3:
		if !d.igmpLimiter.Allow(peer) {
			return
		}
		d.join(groupAddr.String(), peer, DefaultGroupMembershipInterval)
	case layers.IGMPMembershipQuery:
		zero := net.IPv4zero
		if !groupAddr.Equal(zero) {
			// Group-Specific Query: shorten (reset, per
			// SPEC_FULL.md feature 4) every reporting peer's
			// timer for this group to LAST_MEMBER_QUERY_TIME.
			d.shortenGroup(groupAddr.String(), DefaultLastMemberQueryTime)
		}
	case layers.IGMPLeaveGroup:
		d.leave(groupAddr.String(), peer)
	}
}

func (d *FrameDecider) join(group string, peer PeerID, interval time.Duration) {
	members := d.groups[group]
	for _, m := range members {
		if m.peer == peer {
			d.r.SetTimer(m.timer, interval)
			return
		}
	}
	joined := 0
	for _, ms := range d.groups {
		for _, m := range ms {
			if m.peer == peer {
				joined++
			}
		}
	}
	if joined >= d.peerMaxGroups {
		return
	}
	m := &groupMember{peer: peer}
	m.timer = reactor.NewTimer(func() { d.expireMember(group, m) })
	d.r.SetTimer(m.timer, interval)
	d.groups[group] = append(members, m)
}

func (d *FrameDecider) shortenGroup(group string, interval time.Duration) {
	for _, m := range d.groups[group] {
		d.r.SetTimer(m.timer, interval)
	}
}

func (d *FrameDecider) leave(group string, peer PeerID) {
	members := d.groups[group]
	kept := members[:0]
	for _, m := range members {
		if m.peer == peer {
			d.r.UnsetTimer(m.timer)
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(d.groups, group)
	} else {
		d.groups[group] = kept
	}
}

func (d *FrameDecider) expireMember(group string, target *groupMember) {
	members := d.groups[group]
	kept := members[:0]
	for _, m := range members {
		if m == target {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(d.groups, group)
	} else {
		d.groups[group] = kept
	}
}

func parseFrame(frame []byte) (*layers.Ethernet, *layers.IPv4) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil, nil
	}
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return nil, nil
	}
	var ip4 *layers.IPv4
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip4, _ = ipLayer.(*layers.IPv4)
	}
	return eth, ip4
}

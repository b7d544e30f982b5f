package client

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DavidCox1979/badvpn/internal/berr"
	"github.com/DavidCox1979/badvpn/internal/blog"
	"github.com/DavidCox1979/badvpn/internal/vpnconfig"
	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/reactor"
)

func testLogger() *blog.Logger {
	return blog.NewLoggerWithLevel("client-test", logrus.ErrorLevel)
}

func testDataplaneCfg() vpnconfig.Dataplane {
	return vpnconfig.Dataplane{
		KeepAlive:          500 * time.Millisecond,
		Tolerance:          500 * time.Millisecond,
		RelayInactivity:    -1,
		LocalInactivity:    -1,
		LocalBufferPackets: 8,
		RelayBufferPackets: 8,
	}
}

func testDeciderCfg() vpnconfig.Decider {
	return vpnconfig.Decider{MACsPerPeer: 16, PeerMaxGroups: 16}
}

// fakeTap stands in for the TAP device a Client owns: Recv never
// produces a frame on its own in these tests (peer traffic is driven
// directly through OnDataProto), and Send just records what the client
// delivered locally.
type fakeTap struct {
	mtu  int
	sent [][]byte
}

func (f *fakeTap) MTU() int        { return f.mtu }
func (f *fakeTap) HasCancel() bool { return true }
func (f *fakeTap) Recv(buf []byte, done func(n int)) {}
func (f *fakeTap) Cancel()                            {}
func (f *fakeTap) Send(buf []byte, done func()) {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	if done != nil {
		done()
	}
}
func (f *fakeTap) Close() error { return nil }

// fakeTransport is the per-peer output a Client's Peer sends through;
// analogous to fakeOutput in package dataplane's tests.
type fakeTransport struct {
	mtu  int
	sent [][]byte
}

func (f *fakeTransport) MTU() int        { return f.mtu }
func (f *fakeTransport) HasCancel() bool { return true }
func (f *fakeTransport) Send(buf []byte, done func()) {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	if done != nil {
		done()
	}
}
func (f *fakeTransport) Cancel() {}

func newTestClient(t *testing.T) (*Client, *reactor.Reactor, *fakeTap) {
	t.Helper()
	r := reactor.NewReactor(testLogger())
	tapDev := &fakeTap{mtu: 1500}
	c := New(r, testLogger(), 1, tapDev, 1500, testDataplaneCfg(), testDeciderCfg())
	return c, r, tapDev
}

func encodeRecord(from proto.PeerID, dest []proto.PeerID, payload []byte) []byte {
	hdr := proto.Header{FromID: from, DestIDs: dest}
	scratch := make([]byte, proto.MaxOverhead(len(dest))+len(payload))
	return hdr.Encode(scratch, payload)
}

func TestAddPeerThenOnDataProtoDeliversLocally(t *testing.T) {
	c, _, tapDev := newTestClient(t)
	transport := &fakeTransport{mtu: 1500}
	c.AddPeer(2, transport)

	record := encodeRecord(2, []proto.PeerID{1}, []byte("payload for me"))
	err := c.OnDataProto(2, record)
	require.NoError(t, err)
	require.Len(t, tapDev.sent, 1)
	require.Equal(t, "payload for me", string(tapDev.sent[0]))
}

func TestOnDataProtoRelaysToAnotherKnownPeer(t *testing.T) {
	c, _, _ := newTestClient(t)
	t2 := &fakeTransport{mtu: 1500}
	t3 := &fakeTransport{mtu: 1500}
	c.AddPeer(2, t2)
	c.AddPeer(3, t3)

	record := encodeRecord(2, []proto.PeerID{3}, []byte("relay me"))
	err := c.OnDataProto(2, record)
	require.NoError(t, err)

	// The relay fan-out lives on the peer the frame arrived FROM (peer
	// 2), since it owns the fan-out toward every other peer it targets.
	peer2, _ := c.Peer(2)
	require.False(t, peer2.relay.IsEmpty(), "a relay flow toward peer 3 must have been created")
}

func TestOnDataProtoFromUnknownPeerIsPolicyViolation(t *testing.T) {
	c, _, _ := newTestClient(t)
	record := encodeRecord(9, []proto.PeerID{1}, []byte("x"))

	err := c.OnDataProto(9, record)
	require.Error(t, err)
	kind, ok := berr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, berr.PolicyViolation, kind)
}

func TestOnDataProtoDestIDsNamingNeitherUsNorKnownPeerIsPolicyViolation(t *testing.T) {
	c, _, _ := newTestClient(t)
	transport := &fakeTransport{mtu: 1500}
	c.AddPeer(2, transport)

	record := encodeRecord(2, []proto.PeerID{99}, []byte("x"))
	err := c.OnDataProto(2, record)
	require.Error(t, err)
	require.Equal(t, 1, c.PolicyViolations())
}

func TestOnDataProtoFromIDMismatchIsPolicyViolation(t *testing.T) {
	c, _, _ := newTestClient(t)
	transport := &fakeTransport{mtu: 1500}
	c.AddPeer(2, transport)

	record := encodeRecord(7, []proto.PeerID{1}, []byte("x")) // from_id lies about being peer 7
	err := c.OnDataProto(2, record)
	require.Error(t, err)
	require.Equal(t, 1, c.PolicyViolations())
}

func TestOnDataProtoPureKeepaliveRecordsLivenessWithoutError(t *testing.T) {
	c, _, _ := newTestClient(t)
	transport := &fakeTransport{mtu: 1500}
	c.AddPeer(2, transport)

	record := encodeRecord(2, nil, nil)
	err := c.OnDataProto(2, record)
	require.NoError(t, err)

	peer, _ := c.Peer(2)
	require.False(t, peer.IsUp(), "a single keepalive doesn't flip the up edge synchronously without the reactor's pending drain running")
}

func TestRemovePeerTearsDownAndForgetsPeer(t *testing.T) {
	c, _, _ := newTestClient(t)
	transport := &fakeTransport{mtu: 1500}
	c.AddPeer(2, transport)

	_, ok := c.Peer(2)
	require.True(t, ok)

	c.RemovePeer(2)
	_, ok = c.Peer(2)
	require.False(t, ok)

	// After removal, traffic claiming to be from peer 2 is unknown again.
	record := encodeRecord(2, []proto.PeerID{1}, []byte("x"))
	err := c.OnDataProto(2, record)
	require.Error(t, err)
}

func TestStartAndStopDoNotPanicWithoutPeers(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.NotPanics(t, func() {
		c.Start()
		c.Stop()
	})
}

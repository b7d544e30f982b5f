package dataplane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DavidCox1979/badvpn/proto"
	"github.com/DavidCox1979/badvpn/reactor"
)

// stallingOutput never invokes its done callback on its own, letting a
// test hold a relay flow's packet in flight long enough to observe the
// buffer actually filling up behind it.
type stallingOutput struct {
	mtu         int
	sent        [][]byte
	pendingDone func()
}

func (f *stallingOutput) MTU() int        { return f.mtu }
func (f *stallingOutput) HasCancel() bool { return true }
func (f *stallingOutput) Send(buf []byte, done func()) {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	f.pendingDone = done
}
func (f *stallingOutput) Cancel() { f.pendingDone = nil }
func (f *stallingOutput) complete() {
	d := f.pendingDone
	f.pendingDone = nil
	d()
}

func TestRelaySourceSubmitDeliversThroughDest(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &fakeOutput{mtu: 256, hasCancel: true}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)

	go func() {
		r.Invoke(func() { rs.Submit(d, 5, []byte("relayed"), 4) })
		time.Sleep(10 * time.Millisecond)
		r.Invoke(func() { r.Quit(0) })
	}()
	r.Run()

	require.Len(t, out.sent, 1)
	hdr, payload, err := proto.Decode(out.sent[0])
	require.NoError(t, err)
	require.Equal(t, proto.PeerID(9), hdr.FromID)
	require.Equal(t, []proto.PeerID{5}, hdr.DestIDs)
	require.Equal(t, "relayed", string(payload))
}

func TestRelaySourceSubmitReusesFlowForSameDestination(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &fakeOutput{mtu: 256, hasCancel: true}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)

	go func() {
		r.Invoke(func() { rs.Submit(d, 5, []byte("one"), 4) })
		time.Sleep(5 * time.Millisecond)
		r.Invoke(func() { rs.Submit(d, 5, []byte("two"), 4) })
		time.Sleep(5 * time.Millisecond)
		r.Invoke(func() { r.Quit(0) })
	}()
	r.Run()

	require.Equal(t, 1, rs.Stats().ActiveFlows)
	require.Len(t, out.sent, 2)
}

func TestRelaySourceSubmitDropsWhenFlowBufferIsFull(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &stallingOutput{mtu: 256}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)

	// bufferNumPackets=1: the first Submit is absorbed straight through
	// to the stalled downstream send, the second fills the one
	// remaining slot, and the third must be dropped.
	r.Invoke(func() { rs.Submit(d, 5, []byte("a"), 1) })
	r.Invoke(func() { rs.Submit(d, 5, []byte("b"), 1) })
	r.Invoke(func() { rs.Submit(d, 5, []byte("c"), 1) })
	r.Invoke(func() { r.Quit(0) })
	r.Run()

	require.Equal(t, 1, rs.Stats().Dropped)
}

func TestRelaySourceIsEmptyInitially(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	rs := NewRelaySource(r, 9, -1)
	require.True(t, rs.IsEmpty())
}

func TestRelaySourceReleaseTearsDownFlows(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &fakeOutput{mtu: 256, hasCancel: true}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)
	rs.Submit(d, 5, []byte("x"), 4)

	require.False(t, rs.IsEmpty())
	rs.Release()
	require.True(t, rs.IsEmpty())
	require.Equal(t, 1, rs.Stats().Released)
}

func TestRelaySourceReleasePanicsWhenDestinationIsFreeing(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &fakeOutput{mtu: 256, hasCancel: true}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)
	rs.Submit(d, 5, []byte("x"), 4)
	d.PrepareFree()

	require.Panics(t, func() { rs.Release() })
}

func TestRelaySourceFreeReleaseToleratesFreeingDestination(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	out := &fakeOutput{mtu: 256, hasCancel: true}
	d := NewDataProtoDest(r, testLogger(), 9, 5, out, 500*time.Millisecond, 500*time.Millisecond, func(bool) {})
	rs := NewRelaySource(r, 9, -1)
	rs.Submit(d, 5, []byte("x"), 4)
	d.PrepareFree()

	require.NotPanics(t, func() { rs.FreeRelease() })
	require.True(t, rs.IsEmpty())
}

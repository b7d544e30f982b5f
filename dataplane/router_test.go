package dataplane

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DavidCox1979/badvpn/reactor"
)

// fakeTapSource is a PacketRecvInterface standing in for a TAP device:
// frames queued via feed() are handed out one at a time as Recv calls
// arrive, exactly mirroring how tap.Device delivers frames.
type fakeTapSource struct {
	mtu       int
	hasCancel bool
	queue     [][]byte
	cancelled int
}

func (f *fakeTapSource) MTU() int        { return f.mtu }
func (f *fakeTapSource) HasCancel() bool { return f.hasCancel }
func (f *fakeTapSource) Recv(buf []byte, done func(n int)) {
	if len(f.queue) == 0 {
		// No more frames queued for this test; leave the Recv
		// pending forever rather than looping indefinitely.
		return
	}
	frame := f.queue[0]
	f.queue = f.queue[1:]
	n := copy(buf, frame)
	done(n)
}
func (f *fakeTapSource) Cancel() { f.cancelled++ }

func TestPacketRouterDispatchesEachFrameToChosenSources(t *testing.T) {
	src := &fakeTapSource{mtu: 64, hasCancel: true, queue: [][]byte{[]byte("frame-one"), []byte("frame-two")}}
	r := reactor.NewReactor(testLogger())
	ls := NewLocalSource(r, 1, 2, 64, 4, -1, nil)

	var routed [][]byte
	router := NewPacketRouter(src, func(frame []byte, route func(ls *LocalSource, more bool)) {
		routed = append(routed, append([]byte(nil), frame...))
		route(ls, false)
	})

	router.Start()
	require.Len(t, routed, 2)
	require.Equal(t, "frame-one", string(routed[0]))
	require.Equal(t, "frame-two", string(routed[1]))
}

func TestPacketRouterDispatchesToMultipleRecipientsWithCorrectMoreFlag(t *testing.T) {
	src := &fakeTapSource{mtu: 64, hasCancel: true, queue: [][]byte{[]byte("broadcast")}}
	r := reactor.NewReactor(testLogger())
	lsA := NewLocalSource(r, 1, 2, 64, 4, -1, nil)
	lsB := NewLocalSource(r, 1, 3, 64, 4, -1, nil)

	// route is called once per chosen recipient with more=true for every
	// call but the last, mirroring §4.L's "exactly one call where
	// more=false" constraint.
	var moreFlags []bool
	router := NewPacketRouter(src, func(frame []byte, route func(ls *LocalSource, more bool)) {
		recipients := []*LocalSource{lsA, lsB}
		for i, recipient := range recipients {
			more := i < len(recipients)-1
			moreFlags = append(moreFlags, more)
			route(recipient, more)
		}
	})

	router.Start()
	require.Equal(t, []bool{true, false}, moreFlags)
}

func TestPacketRouterStopCancelsUpstreamRecv(t *testing.T) {
	src := &fakeTapSource{mtu: 64, hasCancel: true}
	router := NewPacketRouter(src, func(frame []byte, route func(ls *LocalSource, more bool)) {})

	router.Start()
	router.Stop()
	require.Equal(t, 1, src.cancelled)
}

func TestPacketRouterStartIsIdempotent(t *testing.T) {
	src := &fakeTapSource{mtu: 64, hasCancel: true}
	calls := 0
	router := NewPacketRouter(src, func(frame []byte, route func(ls *LocalSource, more bool)) {
		calls++
	})

	router.Start()
	router.Start()
	require.LessOrEqual(t, calls, 1)
}

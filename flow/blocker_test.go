package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	mtu         int
	hasCancel   bool
	recvBuf     []byte
	recvDone    func(n int)
	recvCount   int
	cancelCount int
}

func (f *fakeUpstream) MTU() int        { return f.mtu }
func (f *fakeUpstream) HasCancel() bool { return f.hasCancel }
func (f *fakeUpstream) Recv(buf []byte, done func(n int)) {
	f.recvCount++
	f.recvBuf, f.recvDone = buf, done
}
func (f *fakeUpstream) Cancel() { f.cancelCount++ }
func (f *fakeUpstream) complete(n int) {
	d := f.recvDone
	f.recvDone = nil
	d(n)
}

func TestBlockerStartsBlocked(t *testing.T) {
	up := &fakeUpstream{mtu: 32}
	b := NewBlocker(up)
	require.True(t, b.IsBlocking())

	b.Recv(make([]byte, 32), func(int) {})
	require.Zero(t, up.recvCount, "a blocked Recv must not reach the upstream")
}

func TestBlockerReleasesPendingRecvOnUnblock(t *testing.T) {
	up := &fakeUpstream{mtu: 32}
	b := NewBlocker(up)

	var got int
	b.Recv(make([]byte, 32), func(n int) { got = n })
	require.Zero(t, up.recvCount)

	b.SetBlocking(false)
	require.Equal(t, 1, up.recvCount)

	up.complete(5)
	require.Equal(t, 5, got)
}

func TestBlockerPassesThroughWhenUnblocked(t *testing.T) {
	up := &fakeUpstream{mtu: 32}
	b := NewBlocker(up)
	b.SetBlocking(false)

	b.Recv(make([]byte, 32), func(int) {})
	require.Equal(t, 1, up.recvCount)
}

func TestBlockerCancelDiscardsPendingWithoutTouchingUpstream(t *testing.T) {
	up := &fakeUpstream{mtu: 32, hasCancel: true}
	b := NewBlocker(up)
	b.Recv(make([]byte, 32), func(int) {})

	b.Cancel()
	require.Zero(t, up.cancelCount, "a pending-blocked Recv is cancelled locally, never forwarded")

	// A subsequent unblock must not resurrect the cancelled Recv.
	b.SetBlocking(false)
	require.Zero(t, up.recvCount)
}

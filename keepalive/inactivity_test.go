package keepalive

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DavidCox1979/badvpn/internal/blog"
	"github.com/DavidCox1979/badvpn/reactor"
)

func testLogger() *blog.Logger {
	return blog.NewLoggerWithLevel("keepalive-test", logrus.ErrorLevel)
}

type fakeDownstream struct {
	mtu       int
	hasCancel bool
	sent      [][]byte
}

func (f *fakeDownstream) MTU() int        { return f.mtu }
func (f *fakeDownstream) HasCancel() bool { return f.hasCancel }
func (f *fakeDownstream) Send(buf []byte, done func()) {
	f.sent = append(f.sent, append([]byte(nil), buf...))
	if done != nil {
		done()
	}
}
func (f *fakeDownstream) Cancel() {}

func TestInactivityMonitorFiresHandlerOnExpiry(t *testing.T) {
	_ = testLogger()
	r := reactor.NewReactor(testLogger())
	down := &fakeDownstream{mtu: 16, hasCancel: true}

	fired := make(chan struct{})
	m := NewInactivityMonitor(r, down, 10*time.Millisecond, func() { close(fired) })
	_ = m

	go func() {
		select {
		case <-fired:
		case <-time.After(time.Second):
		}
		r.Quit(0)
	}()
	r.Run()

	select {
	case <-fired:
	default:
		t.Fatal("inactivity handler never fired")
	}
}

func TestInactivityMonitorSendResetsDeadline(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	down := &fakeDownstream{mtu: 16, hasCancel: true}

	fired := false
	m := NewInactivityMonitor(r, down, 30*time.Millisecond, func() { fired = true })

	go func() {
		// Keep feeding traffic faster than the timeout, resetting
		// the deadline each time, so the handler must never fire.
		for i := 0; i < 5; i++ {
			time.Sleep(10 * time.Millisecond)
			r.Invoke(func() { m.Send([]byte("keepalive traffic"), func() {}) })
		}
		time.Sleep(20 * time.Millisecond)
		r.Invoke(func() { r.Quit(0) })
	}()
	r.Run()

	require.False(t, fired, "repeated Sends within the timeout must keep postponing expiry")
	require.Len(t, down.sent, 5)
}

func TestInactivityMonitorStopDisarmsTimer(t *testing.T) {
	r := reactor.NewReactor(testLogger())
	down := &fakeDownstream{mtu: 16, hasCancel: true}
	fired := false
	m := NewInactivityMonitor(r, down, 10*time.Millisecond, func() { fired = true })
	m.Stop()

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Quit(0)
	}()
	r.Run()

	require.False(t, fired)
}

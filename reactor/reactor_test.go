package reactor

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DavidCox1979/badvpn/internal/blog"
)

func testLogger() *blog.Logger {
	return blog.NewLoggerWithLevel("reactor-test", logrus.ErrorLevel)
}

func TestReactorDispatchesTimersInDeadlineOrder(t *testing.T) {
	r := NewReactor(testLogger())
	var order []string

	t3 := NewTimer(func() { order = append(order, "third") })
	t1 := NewTimer(func() { order = append(order, "first") })
	t2 := NewTimer(func() { order = append(order, "second") })

	r.SetTimer(t3, 30*time.Millisecond)
	r.SetTimer(t1, 10*time.Millisecond)
	r.SetTimer(t2, 20*time.Millisecond)

	go func() {
		time.Sleep(60 * time.Millisecond)
		r.Quit(0)
	}()
	r.Run()

	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestReactorRearmingATimerIsIdempotent(t *testing.T) {
	r := NewReactor(testLogger())
	fired := 0
	timer := NewTimer(func() { fired++ })

	r.SetTimer(timer, 50*time.Millisecond)
	r.SetTimer(timer, 10*time.Millisecond) // moves the deadline, doesn't stack

	go func() {
		time.Sleep(40 * time.Millisecond)
		r.Quit(0)
	}()
	r.Run()

	require.Equal(t, 1, fired)
}

func TestReactorUnsetTimerPreventsFiring(t *testing.T) {
	r := NewReactor(testLogger())
	fired := false
	timer := NewTimer(func() { fired = true })
	r.SetTimer(timer, 5*time.Millisecond)
	r.UnsetTimer(timer)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Quit(0)
	}()
	r.Run()

	require.False(t, fired)
}

func TestReactorInvokeMarshalsOntoOwningGoroutine(t *testing.T) {
	r := NewReactor(testLogger())
	done := make(chan struct{})

	go func() {
		r.Invoke(func() {
			r.Quit(7)
		})
	}()

	go func() {
		code := r.Run()
		require.Equal(t, 7, code)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor did not process the invoked job in time")
	}
}

func TestReactorQuitReturnsExitCode(t *testing.T) {
	r := NewReactor(testLogger())
	r.Invoke(func() { r.Quit(42) })
	require.Equal(t, 42, r.Run())
}

// Package keepalive implements spec.md component G: the inactivity
// monitor and the keep-alive packet source every DataProtoDest wires
// into its send pipeline.
package keepalive

import (
	"time"

	"github.com/DavidCox1979/badvpn/flow"
	"github.com/DavidCox1979/badvpn/reactor"
)

// InactivityMonitor is a transparent PacketPass pass-through that
// resets a deadline timer on every Send and invokes handler on expiry.
// It never itself breaks the flow — on timeout it simply calls
// handler and keeps passing packets through, the way the teacher's own
// inactivity-driven behavior (peer.go's timers.newHandshake,
// retransmitHandshake) layers a side-effecting timer over an otherwise
// unaffected data path.
type InactivityMonitor struct {
	downstream flow.PacketPassInterface
	r          *reactor.Reactor
	timer      *reactor.Timer
	timeout    time.Duration
	handler    func()
}

func NewInactivityMonitor(r *reactor.Reactor, downstream flow.PacketPassInterface, timeout time.Duration, handler func()) *InactivityMonitor {
	m := &InactivityMonitor{downstream: downstream, r: r, timeout: timeout, handler: handler}
	m.timer = reactor.NewTimer(m.onExpire)
	r.SetTimer(m.timer, timeout)
	return m
}

func (m *InactivityMonitor) onExpire() {
	if m.handler != nil {
		m.handler()
	}
}

func (m *InactivityMonitor) MTU() int        { return m.downstream.MTU() }
func (m *InactivityMonitor) HasCancel() bool { return m.downstream.HasCancel() }

func (m *InactivityMonitor) Send(buf []byte, done func()) {
	m.r.SetTimer(m.timer, m.timeout)
	m.downstream.Send(buf, done)
}

func (m *InactivityMonitor) Cancel() { m.downstream.Cancel() }

// Stop disarms the monitor's timer, used during teardown.
func (m *InactivityMonitor) Stop() { m.r.UnsetTimer(m.timer) }

package keepalive

import "github.com/DavidCox1979/badvpn/flow"

// KeepAliveSource is a PacketRecv upstream that, on every Recv,
// immediately produces a zero-length payload (the caller — a
// dataplane.DataProtoDest — wraps it in a DataProto header before
// handing it to the fair queue; the RECEIVING_KEEPALIVES flag is
// stamped further down by the destination's Notifier). Wrapped in a
// flow.Blocker, it only actually fires at the cadence the owning
// pipeline wants: the Blocker withholds the Recv request entirely
// until the pipeline's InactivityMonitor says the fair queue has gone
// idle for keep_alive_ms.
type KeepAliveSource struct {
	mtu int
}

func NewKeepAliveSource(mtu int) *KeepAliveSource { return &KeepAliveSource{mtu: mtu} }

func (k *KeepAliveSource) MTU() int        { return k.mtu }
func (k *KeepAliveSource) HasCancel() bool { return false }

func (k *KeepAliveSource) Recv(buf []byte, done func(n int)) {
	done(0)
}

func (k *KeepAliveSource) Cancel() {} // HasCancel() is false; never called.

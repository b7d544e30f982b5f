package flow

// Blocker is a PacketRecv pass-through that can be toggled to withhold
// the downstream Recv request. keepalive.KeepAliveSource is gated
// behind one of these so it only actually asks its upstream for a
// packet during the cadence window the owning DataProtoDest wants.
type Blocker struct {
	upstream PacketRecvInterface
	blocked  bool

	pendingBuf  []byte
	pendingDone func(n int)
}

func NewBlocker(upstream PacketRecvInterface) *Blocker {
	return &Blocker{upstream: upstream, blocked: true}
}

func (b *Blocker) MTU() int        { return b.upstream.MTU() }
func (b *Blocker) HasCancel() bool { return b.upstream.HasCancel() }

func (b *Blocker) Recv(buf []byte, done func(n int)) {
	if b.blocked {
		b.pendingBuf, b.pendingDone = buf, done
		return
	}
	b.upstream.Recv(buf, done)
}

func (b *Blocker) Cancel() {
	if b.pendingBuf != nil {
		b.pendingBuf, b.pendingDone = nil, nil
		return
	}
	b.upstream.Cancel()
}

// SetBlocking toggles the gate. Unblocking while a Recv is held
// pending releases it immediately to the upstream.
func (b *Blocker) SetBlocking(blocked bool) {
	if b.blocked == blocked {
		return
	}
	b.blocked = blocked
	if !blocked && b.pendingBuf != nil {
		buf, done := b.pendingBuf, b.pendingDone
		b.pendingBuf, b.pendingDone = nil, nil
		b.upstream.Recv(buf, done)
	}
}

// IsBlocking reports the current gate state.
func (b *Blocker) IsBlocking() bool { return b.blocked }

package dataplane

import "github.com/DavidCox1979/badvpn/flow"

// RouteFunc examines one TAP-received frame and dispatches it to 0..N
// chosen LocalSources by calling route 0..N times, finishing with
// exactly one call where more=false (spec.md §4.L's constraint).
// Typically backed by a decider.FrameDecider.Decide lookup plus a
// per-peer LocalSource table the caller owns.
type RouteFunc func(frame []byte, route func(ls *LocalSource, more bool))

// PacketRouter is the Go analog of spec.md's packet router (component
// L): a continuous pull loop over a TAP device's PacketRecvInterface,
// translating each frame into a caller-supplied dispatch.
type PacketRouter struct {
	source   flow.PacketRecvInterface
	dispatch RouteFunc

	buf     []byte
	running bool
}

func NewPacketRouter(source flow.PacketRecvInterface, dispatch RouteFunc) *PacketRouter {
	return &PacketRouter{
		source:   source,
		dispatch: dispatch,
		buf:      make([]byte, source.MTU()),
	}
}

// Start begins the continuous recv-dispatch pump. Idempotent.
func (p *PacketRouter) Start() {
	if p.running {
		return
	}
	p.running = true
	p.pump()
}

func (p *PacketRouter) pump() {
	p.source.Recv(p.buf, p.onFrame)
}

func (p *PacketRouter) onFrame(n int) {
	frame := p.buf[:n]
	p.dispatch(frame, func(ls *LocalSource, more bool) {
		ls.Route(frame, more)
	})
	p.pump()
}

// Stop halts the pump, cancelling any outstanding recv if the source
// supports it.
func (p *PacketRouter) Stop() {
	if !p.running {
		return
	}
	p.running = false
	if p.source.HasCancel() {
		p.source.Cancel()
	}
}

package flow

// Copier decouples a PacketRecv upstream from a PacketPass downstream
// that would otherwise be incompatible directions, using one packet
// buffer it owns: it sits between a PacketRecv producer and a
// PacketPass consumer, pulling continuously and pushing each packet
// on. dataplane.LocalSource and dataplane.RelaySource each use one to
// drain their flow.Buffer into a Connector.
type Copier struct {
	upstream   PacketRecvInterface
	downstream PacketPassInterface
	buf        []byte
	recving    bool
}

func NewCopier(upstream PacketRecvInterface, downstream PacketPassInterface) *Copier {
	c := &Copier{upstream: upstream, downstream: downstream}
	mtu := upstream.MTU()
	if downstream.MTU() > mtu {
		mtu = downstream.MTU()
	}
	c.buf = make([]byte, mtu)
	return c
}

// Start begins the continuous recv→send pump. Idempotent.
func (c *Copier) Start() {
	if c.recving {
		return
	}
	c.pump()
}

func (c *Copier) pump() {
	c.recving = true
	c.upstream.Recv(c.buf, func(n int) {
		c.downstream.Send(c.buf[:n], func() {
			c.pump()
		})
	})
}

// Stop halts the pump and cancels the outstanding recv/send on each
// side that supports cancel; an outstanding Recv on an upstream
// without cancel (such as a Buffer) stays registered there.
func (c *Copier) Stop() {
	if !c.recving {
		return
	}
	c.recving = false
	if c.upstream.HasCancel() {
		c.upstream.Cancel()
	}
	if c.downstream.HasCancel() {
		c.downstream.Cancel()
	}
}

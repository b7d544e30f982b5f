package flow

// Connector is a PacketPass whose downstream may be attached,
// detached and reattached at runtime. It queues no packets: a Send
// that arrives while detached is held as "pending" (at most one, per
// the single-outstanding-packet invariant) until the next Attach,
// which immediately forwards it.
//
// dataplane.LocalSource and dataplane.RelaySource's per-destination
// flows are both built around one Connector, since both need to
// survive their downstream DataProtoDest detaching/reattaching at
// runtime (spec.md invariant 3).
type Connector struct {
	downstream PacketPassInterface

	pendingBuf  []byte
	pendingDone func()
	cancelled   bool
}

func NewConnector() *Connector { return &Connector{} }

func (c *Connector) MTU() int {
	if c.downstream == nil {
		return 0
	}
	return c.downstream.MTU()
}

// HasCancel is always true: an unattached Connector can always
// synchronously discard a pending Send.
func (c *Connector) HasCancel() bool { return true }

// Send hands buf downstream if attached, else holds it pending.
func (c *Connector) Send(buf []byte, done func()) {
	if c.downstream != nil {
		c.downstream.Send(buf, done)
		return
	}
	c.pendingBuf, c.pendingDone, c.cancelled = buf, done, false
}

// Cancel aborts whatever Send is outstanding, attached or not.
func (c *Connector) Cancel() {
	if c.pendingBuf != nil {
		c.pendingBuf, c.pendingDone = nil, nil
		return
	}
	if c.downstream != nil && c.downstream.HasCancel() {
		c.downstream.Cancel()
	}
}

// IsAttached reports whether a downstream is currently connected.
func (c *Connector) IsAttached() bool { return c.downstream != nil }

// Attach connects downstream and forwards any pending Send
// immediately.
func (c *Connector) Attach(downstream PacketPassInterface) {
	c.downstream = downstream
	if c.pendingBuf != nil {
		buf, done := c.pendingBuf, c.pendingDone
		c.pendingBuf, c.pendingDone = nil, nil
		downstream.Send(buf, done)
	}
}

// Detach disconnects the downstream. cancelInFlight, when true and a
// Send is currently outstanding at the downstream (not merely
// pending-unattached), synchronously cancels it first — this is the
// "detach under load" path of spec.md scenario 4; callers in the
// freeing state pass false since the destination is about to be torn
// down anyway and synchronous cancel must not be triggered on it
// (spec.md §4.I PrepareFree).
func (c *Connector) Detach(cancelInFlight bool) {
	if cancelInFlight && c.downstream != nil && c.downstream.HasCancel() {
		c.downstream.Cancel()
	}
	c.downstream = nil
	// Per spec.md §9 OQ resolution: detach is lossy. Any Send that
	// was pending-unattached (never reached a downstream) is
	// discarded here too, matching "the 5 previously-buffered
	// packets are discarded" in scenario 4 — buffering lives one
	// layer up (dataplane.LocalSource's RouteBuffer), not in
	// Connector itself, but an in-flight pending Send at the
	// Connector's own level is equally discarded on detach.
	c.pendingBuf, c.pendingDone = nil, nil
}

package flow

// Buffer is a bounded FIFO of up to numPackets packets: PacketPass on
// the way in, PacketRecv on the way out. It always copies into
// internal storage, so a producer's Send done-callback fires
// synchronously and the producer may reuse its buffer immediately —
// this is what lets every higher layer (dataplane.LocalSource's
// RouteBuffer, a RelaySource flow's buffer) treat "enqueue" as a
// fire-and-forget call instead of tracking outstanding buffers itself.
type Buffer struct {
	mtu        int
	numPackets int
	slots      [][]byte // preallocated, length mtu each; slots[i][:n] is valid data
	lens       []int
	head       int // next to recv
	count      int

	recvBuf  []byte
	recvDone func(n int)
	recvBusy bool

	onSpaceAvailable func() // notified when a Recv can now proceed after being starved
}

// NewBuffer constructs a Buffer holding up to numPackets packets of at
// most mtu bytes each.
func NewBuffer(mtu, numPackets int) *Buffer {
	b := &Buffer{
		mtu:        mtu,
		numPackets: numPackets,
		slots:      make([][]byte, numPackets),
		lens:       make([]int, numPackets),
	}
	for i := range b.slots {
		b.slots[i] = make([]byte, mtu)
	}
	return b
}

func (b *Buffer) MTU() int       { return b.mtu }
func (b *Buffer) HasCancel() bool { return false }

// Len reports the number of packets currently buffered.
func (b *Buffer) Len() int { return b.count }

// Full reports whether the buffer has no free slot (spec.md testable
// property 9: the NumPackets+1'th Send must be rejected by the
// caller).
func (b *Buffer) Full() bool { return b.count == b.numPackets }

// Send is the PacketPassInterface half: accepts a packet if there is
// room. Callers that need drop-on-full semantics (every producer in
// this repo does) must check Full() before calling Send, since Buffer
// itself has no notion of "the packet that didn't fit" to drop —
// spec.md assigns that drop-and-count responsibility to the owning
// LocalSource/RelaySource, not to the generic buffer primitive.
func (b *Buffer) Send(buf []byte, done func()) {
	idx := (b.head + b.count) % b.numPackets
	n := copy(b.slots[idx], buf)
	b.lens[idx] = n
	b.count++
	if done != nil {
		done()
	}
	b.tryServeRecv()
}

func (b *Buffer) Cancel() {} // HasCancel() is false; never called.

// Recv is the PacketRecvInterface half.
func (b *Buffer) Recv(buf []byte, done func(n int)) {
	b.recvBuf = buf
	b.recvDone = done
	b.recvBusy = true
	b.tryServeRecv()
}

func (b *Buffer) tryServeRecv() {
	if !b.recvBusy || b.count == 0 {
		return
	}
	n := copy(b.recvBuf, b.slots[b.head][:b.lens[b.head]])
	b.head = (b.head + 1) % b.numPackets
	b.count--
	done := b.recvDone
	b.recvBuf, b.recvDone, b.recvBusy = nil, nil, false
	if b.onSpaceAvailable != nil {
		b.onSpaceAvailable()
	}
	done(n)
}

// SetSpaceAvailableHandler registers a hook invoked every time a Recv
// frees a slot, used by producers that want to resume feeding a
// previously-full buffer instead of polling Full().
func (b *Buffer) SetSpaceAvailableHandler(h func()) { b.onSpaceAvailable = h }

// NewSinglePacketBuffer returns a Buffer of exactly one packet
// (spec.md's SinglePacketBuffer).
func NewSinglePacketBuffer(mtu int) *Buffer {
	return NewBuffer(mtu, 1)
}

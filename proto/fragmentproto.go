package proto

import (
	"sort"

	"github.com/DavidCox1979/badvpn/internal/berr"
)

// FragmentHeaderSize is sizeof(frame_id + chunk_start + chunk_len + is_last).
const FragmentHeaderSize = 2 + 2 + 2 + 1

// Chunk is one FragmentProto frame chunk (spec.md §3, §6).
type Chunk struct {
	FrameID    uint16
	ChunkStart uint16
	ChunkLen   uint16
	IsLast     bool
	Data       []byte
}

// EncodeChunk serializes c into dst (capacity >= FragmentHeaderSize+len(c.Data)).
func EncodeChunk(dst []byte, c Chunk) []byte {
	dst = dst[:FragmentHeaderSize+len(c.Data)]
	putU16(dst[0:2], c.FrameID)
	putU16(dst[2:4], c.ChunkStart)
	putU16(dst[4:6], c.ChunkLen)
	if c.IsLast {
		dst[6] = 1
	} else {
		dst[6] = 0
	}
	copy(dst[FragmentHeaderSize:], c.Data)
	return dst
}

// DecodeChunk parses one chunk from buf; the returned Data aliases buf.
func DecodeChunk(buf []byte) (Chunk, error) {
	if len(buf) < FragmentHeaderSize {
		return Chunk{}, berr.New(berr.PolicyViolation, "fragment chunk shorter than header")
	}
	c := Chunk{
		FrameID:    getU16(buf[0:2]),
		ChunkStart: getU16(buf[2:4]),
		ChunkLen:   getU16(buf[4:6]),
		IsLast:     buf[6] != 0,
	}
	need := FragmentHeaderSize + int(c.ChunkLen)
	if len(buf) < need {
		return Chunk{}, berr.New(berr.PolicyViolation, "fragment chunk shorter than declared chunk_len")
	}
	c.Data = buf[FragmentHeaderSize:need]
	return c, nil
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func getU16(b []byte) uint16    { return uint16(b[0]) | uint16(b[1])<<8 }

// DisassembleFrame splits frame into chunks of at most chunkPayloadMax
// bytes of data each, with strictly increasing ChunkStart and IsLast
// set only on the final chunk — the pure-function half of the
// Disassembler (spec.md §4.E), used directly by tests of round-trip
// law 6 and by the stateful Disassembler below.
func DisassembleFrame(frameID uint16, frame []byte, chunkPayloadMax int) []Chunk {
	if chunkPayloadMax <= 0 {
		chunkPayloadMax = 1
	}
	if len(frame) == 0 {
		return []Chunk{{FrameID: frameID, ChunkStart: 0, ChunkLen: 0, IsLast: true, Data: frame}}
	}
	var chunks []Chunk
	off := 0
	for off < len(frame) {
		end := off + chunkPayloadMax
		if end > len(frame) {
			end = len(frame)
		}
		chunks = append(chunks, Chunk{
			FrameID:    frameID,
			ChunkStart: uint16(off),
			ChunkLen:   uint16(end - off),
			IsLast:     end == len(frame),
			Data:       frame[off:end],
		})
		off = end
	}
	return chunks
}

// Disassembler is the stateful half of spec.md §4.E: it assigns
// increasing frame_ids and splits each frame into chunks as soon as it
// is given. It has no latency setting: a short final chunk is never
// held back to coalesce with data arriving later.
type Disassembler struct {
	ChunkPayloadMax int
	nextFrameID     uint16
}

func NewDisassembler(chunkPayloadMax int) *Disassembler {
	return &Disassembler{ChunkPayloadMax: chunkPayloadMax}
}

// Disassemble assigns the next frame_id and splits frame.
func (d *Disassembler) Disassemble(frame []byte) []Chunk {
	id := d.nextFrameID
	d.nextFrameID++
	return DisassembleFrame(id, frame, d.ChunkPayloadMax)
}

// --- Assembler ---

type interval struct{ start, end int } // [start, end)

type reassemblySlot struct {
	inUse     bool
	frameID   uint16
	time      uint64
	length    int // -1 until the is_last chunk has been seen
	data      []byte
	intervals []interval
}

// Assembler holds a bounded pool of numFrames reassembly slots, each
// capped at numChunks disjoint received byte ranges (chunks that touch
// or overlap are merged before counting), per spec.md §4.E; a slot
// over the cap is dropped and counted. A tolerance of numFrames-2 chunks of out-of-order interleaving
// is guaranteed to reassemble (spec.md §4.E); beyond that, evicted
// slots are silently counted via Stats().
type Assembler struct {
	MaxFrameSize int
	numChunks    int
	slots        []reassemblySlot
	clock        uint64

	droppedPool int // FragmentPool drops: slot evicted before completion
}

func NewAssembler(numFrames, numChunks, maxFrameSize int) *Assembler {
	return &Assembler{
		MaxFrameSize: maxFrameSize,
		numChunks:    numChunks,
		slots:        make([]reassemblySlot, numFrames),
	}
}

// Stats reports the FragmentPool drop counter (spec.md §7: "silently
// counted, no event emitted" — but counted all the same).
func (a *Assembler) Stats() (fragmentPoolDrops int) { return a.droppedPool }

// Feed processes one arriving chunk and returns the completed frame
// and true if this chunk completed its frame.
func (a *Assembler) Feed(c Chunk) ([]byte, bool) {
	a.clock++

	idx := a.findSlot(c.FrameID)
	if idx < 0 {
		idx = a.allocSlot(c.FrameID)
	}
	s := &a.slots[idx]

	start := int(c.ChunkStart)
	end := start + int(c.ChunkLen)
	if end > len(s.data) {
		if cap(s.data) >= end {
			s.data = s.data[:end]
		} else {
			grown := make([]byte, end)
			copy(grown, s.data)
			s.data = grown
		}
	}
	copy(s.data[start:end], c.Data)

	if c.IsLast {
		s.length = end
	}
	s.time = a.clock
	a.mergeInterval(s, interval{start, end})

	if len(s.intervals) > a.numChunks {
		// Too many disjoint gaps to ever resolve within this
		// slot's accounting; treat as a pool exhaustion for this
		// frame and drop it rather than grow unbounded.
		a.freeSlot(idx)
		a.droppedPool++
		return nil, false
	}

	if s.length >= 0 && len(s.intervals) == 1 && s.intervals[0].start == 0 && s.intervals[0].end == s.length {
		frame := make([]byte, s.length)
		copy(frame, s.data[:s.length])
		a.freeSlot(idx)
		return frame, true
	}
	return nil, false
}

func (a *Assembler) findSlot(frameID uint16) int {
	for i := range a.slots {
		if a.slots[i].inUse && a.slots[i].frameID == frameID {
			return i
		}
	}
	return -1
}

func (a *Assembler) allocSlot(frameID uint16) int {
	for i := range a.slots {
		if !a.slots[i].inUse {
			a.initSlot(i, frameID)
			return i
		}
	}
	// Pool full: evict the oldest slot by time watermark.
	oldest := 0
	for i := 1; i < len(a.slots); i++ {
		if a.slots[i].time < a.slots[oldest].time {
			oldest = i
		}
	}
	a.droppedPool++
	a.initSlot(oldest, frameID)
	return oldest
}

func (a *Assembler) initSlot(i int, frameID uint16) {
	a.slots[i] = reassemblySlot{
		inUse:   true,
		frameID: frameID,
		length:  -1,
		data:    make([]byte, 0, 256),
	}
}

func (a *Assembler) freeSlot(i int) {
	a.slots[i] = reassemblySlot{}
}

func (a *Assembler) mergeInterval(s *reassemblySlot, iv interval) {
	s.intervals = append(s.intervals, iv)
	sort.Slice(s.intervals, func(i, j int) bool { return s.intervals[i].start < s.intervals[j].start })
	merged := s.intervals[:0]
	for _, cur := range s.intervals {
		if len(merged) > 0 && cur.start <= merged[len(merged)-1].end {
			if cur.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	s.intervals = merged
}

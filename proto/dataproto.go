package proto

import (
	"encoding/binary"
	"errors"
)

// PeerID is the opaque 16-bit peer identifier of spec.md §3.
type PeerID uint16

// DataProto flag bits (spec.md §3, §6).
const (
	// FlagReceivingKeepalives signals the sender has recently
	// received traffic from the addressee, used by the receiver to
	// confirm bidirectional liveness.
	FlagReceivingKeepalives uint8 = 1 << 0
)

// HeaderBaseSize is sizeof(flags + num_dest + from_id), before the
// variable-length dest_ids list.
const HeaderBaseSize = 1 + 1 + 2

// MaxOverhead returns DATAPROTO_MAX_OVERHEAD for a packet addressed to
// numDest peers: sizeof(header) + numDest*sizeof(peer id). Supplemented
// per SPEC_FULL.md feature 1 as a callable API (the original exposes it
// only as a macro) so buffer-sizing call sites don't hand-compute it.
func MaxOverhead(numDest int) int {
	return HeaderBaseSize + numDest*2
}

// Header is the decoded DataProto header (spec.md §3, §6).
type Header struct {
	Flags   uint8
	FromID  PeerID
	DestIDs []PeerID
}

func (h Header) ReceivingKeepalives() bool {
	return h.Flags&FlagReceivingKeepalives != 0
}

// Encode writes the header followed by payload into dst (which must
// have capacity >= MaxOverhead(len(h.DestIDs))+len(payload)) and
// returns the full encoded record.
func (h Header) Encode(dst []byte, payload []byte) []byte {
	n := MaxOverhead(len(h.DestIDs)) + len(payload)
	dst = dst[:n]
	dst[0] = h.Flags
	dst[1] = uint8(len(h.DestIDs))
	binary.LittleEndian.PutUint16(dst[2:4], uint16(h.FromID))
	off := HeaderBaseSize
	for _, id := range h.DestIDs {
		binary.LittleEndian.PutUint16(dst[off:off+2], uint16(id))
		off += 2
	}
	copy(dst[off:], payload)
	return dst
}

var errShortDataProtoRecord = errors.New("dataproto: record shorter than header")

// Decode parses a DataProto record, returning the header and the
// trailing frame_payload slice (which aliases buf; callers that need
// to retain it beyond the current callback must copy).
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderBaseSize {
		return Header{}, nil, errShortDataProtoRecord
	}
	numDest := int(buf[1])
	need := HeaderBaseSize + numDest*2
	if len(buf) < need {
		return Header{}, nil, errShortDataProtoRecord
	}
	h := Header{
		Flags:  buf[0],
		FromID: PeerID(binary.LittleEndian.Uint16(buf[2:4])),
	}
	if numDest > 0 {
		h.DestIDs = make([]PeerID, numDest)
		off := HeaderBaseSize
		for i := 0; i < numDest; i++ {
			h.DestIDs[i] = PeerID(binary.LittleEndian.Uint16(buf[off : off+2]))
			off += 2
		}
	}
	return h, buf[need:], nil
}

// Contains reports whether id is present among h.DestIDs.
func (h Header) Contains(id PeerID) bool {
	for _, d := range h.DestIDs {
		if d == id {
			return true
		}
	}
	return false
}

// Package packet implements the fixed-size wire packet and its
// packetizer/unpacketizer, grounded on
// original_source/userspace/cellagent/src/packet.rs and spec.md §4.2.
package packet

import (
	"sync/atomic"

	"github.com/cellfabric/fabric"
	googleuuid "github.com/google/uuid"
)

// Packet size bounds (spec.md §4.2: "at most PACKET_MAX and at least
// PACKET_MIN bytes"). These are generous enough for a JSON-encoded
// control message while still bounding a single packet's payload.
const (
	PacketMin  = 64
	PacketMax  = 4096
	PayloadMin = PacketMin - nonPayloadSize
	PayloadMax = PacketMax - nonPayloadSize

	// nonPayloadSize approximates the header + bookkeeping overhead the
	// original source subtracts from PACKET_MIN/MAX to get PAYLOAD_MIN/MAX.
	nonPayloadSize = 64
)

// UniqueMsgId identifies every packet produced by packetizing one
// message (spec.md §4.2: "assigns a random unique_msg_id"). Built on
// github.com/google/uuid rather than the satori-backed fabric.Uuid,
// since a message identifier never carries AIT state (see DESIGN.md).
type UniqueMsgId googleuuid.UUID

// NewUniqueMsgId returns a fresh random UniqueMsgId.
func NewUniqueMsgId() UniqueMsgId {
	return UniqueMsgId(googleuuid.New())
}

var packetCounter uint64

// nextCount returns a monotonically increasing per-process packet
// counter, used only for debugging/tracing (spec.md §9: "permissible as
// a per-process atomic; debugging only").
func nextCount() uint64 {
	return atomic.AddUint64(&packetCounter, 1) - 1
}

// Header is the fixed 16-byte-plus-state tree identifier carried by
// every packet, plus a stack of wrapped headers used for failover
// tunneling (spec.md §4.2: "push original header, overwrite with rescue
// tree's UUID; pop on unwind").
type Header struct {
	TreeUuid fabric.Uuid
	wrapped  []fabric.Uuid
}

// NewHeader builds a Header for treeUuid.
func NewHeader(treeUuid fabric.Uuid) Header {
	return Header{TreeUuid: treeUuid}
}

// Wrap pushes the current header onto the wrap stack and replaces it
// with rescueTreeUuid, used when tunneling a packet over a rescue tree
// during failover.
func (h *Header) Wrap(rescueTreeUuid fabric.Uuid) {
	h.wrapped = append(h.wrapped, h.TreeUuid)
	h.TreeUuid = rescueTreeUuid
}

// Unwrap pops the most recently wrapped header back into place,
// reporting whether one was available.
func (h *Header) Unwrap() bool {
	if len(h.wrapped) == 0 {
		return false
	}
	last := len(h.wrapped) - 1
	h.TreeUuid = h.wrapped[last]
	h.wrapped = h.wrapped[:last]
	return true
}

// Packet is one fixed-size wire record (spec.md §4.2): a header carrying
// the tree UUID (and AIT state), a unique_msg_id, a size field (packets
// remaining, or in the last packet the used byte length), an is_last
// flag, a sender sequence number, and a payload.
type Packet struct {
	Header          Header
	UniqueMsgId     UniqueMsgId
	Size            uint32
	IsLast          bool
	SenderMsgSeqNo  uint64
	Payload         []byte
	count           uint64
}

// New builds a Packet, assigning it the next debug packet count.
func New(uniqueMsgID UniqueMsgId, treeUuid fabric.Uuid, size uint32, isLast bool, seqNo uint64, payload []byte) Packet {
	return Packet{
		Header:         NewHeader(treeUuid),
		UniqueMsgId:    uniqueMsgID,
		Size:           size,
		IsLast:         isLast,
		SenderMsgSeqNo: seqNo,
		Payload:        payload,
		count:          nextCount(),
	}
}

// MakeEntl builds the idle marker packet sent on a port with nothing else
// to send (spec.md §4.6: "push an Entl packet").
func MakeEntl() Packet {
	u := fabric.NewUuid().MakeEntl()
	return New(NewUniqueMsgId(), u, 1, false, 0, nil)
}

// Count returns the per-process debug packet count.
func (p Packet) Count() uint64 { return p.count }

// TreeUuid returns the tree UUID (including AIT state) from the header.
func (p Packet) TreeUuid() fabric.Uuid { return p.Header.TreeUuid }

// GetAitState returns the AIT state carried by this packet's tree UUID.
func (p Packet) GetAitState() fabric.AitState { return p.Header.TreeUuid.GetAitState() }

// IsEntl reports whether this packet is the Entl idle marker.
func (p Packet) IsEntl() bool { return p.Header.TreeUuid.GetAitState() == fabric.Entl }

// MakeAitSend transitions this packet's tree UUID into the Ait state.
func (p *Packet) MakeAitSend() { p.Header.TreeUuid = p.Header.TreeUuid.MakeAitSend() }

// MakeAitReply transitions this packet's tree UUID into the AitD state.
func (p *Packet) MakeAitReply() { p.Header.TreeUuid = p.Header.TreeUuid.MakeAitReply() }

// MakeTock transitions this packet's tree UUID into the Tock state.
func (p *Packet) MakeTock() { p.Header.TreeUuid = p.Header.TreeUuid.MakeTock() }

// TimeReverse rolls the tree UUID's AIT state back one step (spec.md
// §4.2, used on send failure).
func (p *Packet) TimeReverse() { p.Header.TreeUuid = p.Header.TreeUuid.TimeReverse() }

// NextAitState advances the tree UUID's AIT state by one step and
// returns the new state.
func (p *Packet) NextAitState() fabric.AitState {
	p.Header.TreeUuid = p.Header.TreeUuid.Next()
	return p.Header.TreeUuid.GetAitState()
}

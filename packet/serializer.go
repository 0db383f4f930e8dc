package packet

import (
	"encoding/json"
	"sync"

	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// Packetize serializes msg to JSON (spec.md §6: "The body is a
// JSON-encoded message") and splits it into packets of at most
// PayloadMax bytes, tagging every packet of the message with one fresh
// UniqueMsgId and the caller's seqNo, marking the last packet's Size
// field with the byte length of its used prefix.
func Packetize(treeUuid fabric.Uuid, msg interface{}, seqNo uint64) ([]Packet, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, xerrors.Errorf("packetize: %v: %w", err, fabric.ErrDeserialize)
	}
	return PacketizeBytes(treeUuid, body, seqNo), nil
}

// PacketizeBytes splits body into packets without a JSON encoding step -
// used directly by tests and by the cell agent's application-message
// path (cellagent/appmsg.go).
func PacketizeBytes(treeUuid fabric.Uuid, body []byte, seqNo uint64) []Packet {
	id := NewUniqueMsgId()
	if len(body) == 0 {
		return []Packet{New(id, treeUuid, 0, true, seqNo, nil)}
	}
	var packets []Packet
	for off := 0; off < len(body); off += PayloadMax {
		end := off + PayloadMax
		if end > len(body) {
			end = len(body)
		}
		chunk := body[off:end]
		isLast := end == len(body)
		size := (uint32(len(body)-end) + PayloadMax - 1) / PayloadMax // packets remaining after this one
		if isLast {
			size = uint32(len(chunk))
		}
		packets = append(packets, New(id, treeUuid, size, isLast, seqNo, chunk))
	}
	return packets
}

// Assembler buffers incoming packets by UniqueMsgId until the packet
// marked IsLast arrives, then concatenates their payloads (spec.md §4.2:
// "Packet assembler buffers incoming packets by unique_msg_id; on
// is_last, concatenates payloads and deserializes back").
type Assembler struct {
	mu      sync.Mutex
	pending map[UniqueMsgId][]Packet
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[UniqueMsgId][]Packet)}
}

// Add buffers p. When p.IsLast, it returns the concatenated bytes of
// every packet seen for that UniqueMsgId (complete=true) and forgets
// them; otherwise it returns complete=false.
func (a *Assembler) Add(p Packet) (body []byte, complete bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[p.UniqueMsgId] = append(a.pending[p.UniqueMsgId], p)
	if !p.IsLast {
		return nil, false
	}
	packets := a.pending[p.UniqueMsgId]
	delete(a.pending, p.UniqueMsgId)
	var out []byte
	for _, pk := range packets {
		out = append(out, pk.Payload...)
	}
	return out, true
}

// Unpacketize concatenates payloads from a complete, in-order slice of
// packets for one message - used when the caller already has every
// packet in hand (e.g. from a rack test harness) rather than receiving
// them one at a time through Assembler.
func Unpacketize(packets []Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, xerrors.Errorf("unpacketize: no packets: %w", fabric.ErrDeserialize)
	}
	var out []byte
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	if !packets[len(packets)-1].IsLast {
		return nil, xerrors.Errorf("unpacketize: last packet missing IsLast: %w", fabric.ErrDeserialize)
	}
	return out, nil
}

// UnpacketizeInto unpacketizes packets and JSON-decodes the result into v.
func UnpacketizeInto(packets []Packet, v interface{}) error {
	body, err := Unpacketize(packets)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return xerrors.Errorf("unpacketize: %v: %w", err, fabric.ErrDeserialize)
	}
	return nil
}

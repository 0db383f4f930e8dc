package fabric

import (
	"encoding/json"

	satori "gopkg.in/satori/go.uuid.v1"
)

// AitState is the Atomic Information Transfer state carried in the low
// bits of a Uuid. It drives the one-shot confirmed-delivery handshake
// described in spec.md §4.2: Normal is the default; Ait starts a send,
// which then cycles through Tick/Tock/Tack/Teck before settling on AitD.
type AitState uint8

// AIT states, in the order the handshake advances through them.
const (
	Normal AitState = iota
	Ait
	Tick
	Tock
	Tack
	Teck
	AitD
	Entl
)

func (s AitState) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Ait:
		return "Ait"
	case Tick:
		return "Tick"
	case Tock:
		return "Tock"
	case Tack:
		return "Tack"
	case Teck:
		return "Teck"
	case AitD:
		return "AitD"
	case Entl:
		return "Entl"
	default:
		return "Unknown"
	}
}

// Uuid is a 128-bit satori UUID plus three extra bytes: the AIT state and
// an optional 2-byte encoded port number, used to derive a PortTreeID from
// a TreeID without reallocating a name (spec.md §3, §4.1).
type Uuid struct {
	id      satori.UUID
	state   AitState
	hasPort bool
	portNo  uint16
}

// NewUuid returns a fresh random Uuid in the Normal AIT state.
func NewUuid() Uuid {
	return Uuid{id: satori.NewV4()}
}

// NilUuid is the zero-value Uuid, useful as a "not yet assigned" sentinel.
var NilUuid = Uuid{}

// IsNil reports whether u is the zero-value Uuid.
func (u Uuid) IsNil() bool {
	return u.id == satori.Nil && !u.hasPort && u.state == Normal
}

// String renders the underlying UUID, plus the AIT state and any encoded
// port number when present - handy in traces and log lines.
func (u Uuid) String() string {
	s := u.id.String()
	if u.state != Normal {
		s += "/" + u.state.String()
	}
	if u.hasPort {
		s += "+p"
	}
	return s
}

// ForLookup strips the AIT state (and any encoded port number) so that
// routing-table lookups and equality checks succeed across AIT state
// transitions (spec.md §3, §8: "Packet::for_lookup(u) == for_lookup(next_ait(u))").
func (u Uuid) ForLookup() Uuid {
	return Uuid{id: u.id}
}

// Equal compares two Uuids including AIT state and port encoding. Use
// ForLookup first when AIT-agnostic equality is wanted.
func (u Uuid) Equal(o Uuid) bool {
	return u.id == o.id && u.state == o.state && u.hasPort == o.hasPort && u.portNo == o.portNo
}

// GetAitState returns the AIT state carried by u.
func (u Uuid) GetAitState() AitState { return u.state }

// next is the AIT state transition table: Normal stays Normal; Ait begins
// the handshake; Tick->Tock->Tack->Teck advance in sequence; Teck settles
// into AitD; AitD and Entl are terminal/idle and do not advance further.
func (s AitState) next() AitState {
	switch s {
	case Ait:
		return Tick
	case Tick:
		return Tock
	case Tock:
		return Tack
	case Tack:
		return Teck
	case Teck:
		return AitD
	default:
		return s
	}
}

// Next advances u's AIT state by one step of the handshake described in
// spec.md §4.7 and returns the new Uuid; it never mutates u.
func (u Uuid) Next() Uuid {
	n := u
	n.state = u.state.next()
	return n
}

// prev reverses a single step of the AIT handshake; used by TimeReverse.
func (s AitState) prev() AitState {
	switch s {
	case Tick:
		return Ait
	case Tock:
		return Tick
	case Tack:
		return Tock
	case Teck:
		return Tack
	case AitD:
		return Teck
	default:
		return s
	}
}

// TimeReverse rolls back one AIT step. The packet engine uses it only when
// delivering a forwarded Tock to the CA fails; a failed port send is not
// rolled back (spec.md §4.2, §9 Open Question - see DESIGN.md).
func (u Uuid) TimeReverse() Uuid {
	p := u
	p.state = u.state.prev()
	return p
}

// MakeEntl returns a copy of u in the Entl (idle marker) state.
func (u Uuid) MakeEntl() Uuid {
	e := u
	e.state = Entl
	return e
}

// MakeTock returns a copy of u in the Tock state.
func (u Uuid) MakeTock() Uuid {
	t := u
	t.state = Tock
	return t
}

// MakeAitSend returns a copy of u transitioning into the Ait state, used
// when CA originates a confirmed-delivery send.
func (u Uuid) MakeAitSend() Uuid {
	a := u
	a.state = Ait
	return a
}

// MakeAitReply returns a copy of u in the AitD (final acknowledgement)
// state.
func (u Uuid) MakeAitReply() Uuid {
	a := u
	a.state = AitD
	return a
}

// SetPortNo stamps a port number into u, used by TreeID.ToPortTreeID to
// derive a PortTreeID without reallocating a name.
func (u Uuid) SetPortNo(port uint16) Uuid {
	p := u
	p.hasPort = true
	p.portNo = port
	return p
}

// RemovePortNo clears any encoded port number from u.
func (u Uuid) RemovePortNo() Uuid {
	p := u
	p.hasPort = false
	p.portNo = 0
	return p
}

// GetPortNo returns the encoded port number and whether one is present.
func (u Uuid) GetPortNo() (uint16, bool) {
	return u.portNo, u.hasPort
}

type uuidWire struct {
	ID      string   `json:"id"`
	State   AitState `json:"state,omitempty"`
	Port    uint16   `json:"port,omitempty"`
	HasPort bool     `json:"has_port,omitempty"`
}

// MarshalJSON implements json.Marshaler so Uuid can travel inside the
// JSON-encoded message body mandated by spec.md §6.
func (u Uuid) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuidWire{ID: u.id.String(), State: u.state, Port: u.portNo, HasPort: u.hasPort})
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uuid) UnmarshalJSON(data []byte) error {
	var w uuidWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := satori.FromString(w.ID)
	if err != nil {
		return err
	}
	u.id = id
	u.state = w.State
	u.hasPort = w.HasPort
	u.portNo = w.Port
	return nil
}

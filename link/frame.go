// Package link implements the transport layer a cell's physical ports
// run over: length-prefixed, JSON-framed connections (TCPConn) and an
// in-process channel pair (LocalConn) for tests and the rack simulator,
// plus a Router that fans frames in from every connected port to a
// PacketEngine and a CellAgent and fans control/data sends back out,
// grounded on teacher's network/tcp.go, network/local.go and
// network/router.go.
package link

import (
	"encoding/json"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/packet"
	"golang.org/x/xerrors"
)

// FrameKind distinguishes a data packet (forwarded byte-for-byte through
// the packet engine), a control message (decoded and handed to the cell
// agent), and a border-port App envelope.
type FrameKind uint8

const (
	FramePacket FrameKind = iota
	FrameControl
	FrameApp
)

// AppEnvelope is the border/NoC wire contract of spec.md §6: a border
// port carries these instead of raw FramePacket/FrameControl frames,
// tagging each payload with the tree it rides, whether it is part of an
// AIT handshake, and which way it is travelling.
type AppEnvelope struct {
	IsAit       bool        `json:"is_ait"`
	AllowedTree fabric.Uuid `json:"allowed_tree"`
	AppMsgType  string      `json:"app_msg_type"`
	Direction   string      `json:"direction"`
	Bytes       []byte      `json:"bytes"`
}

// AppFrame wraps env for transport over a BorderConn.
func AppFrame(env AppEnvelope) Frame {
	return Frame{Kind: FrameApp, App: &env}
}

// MaxFrameSize bounds the length prefix read off the wire before the
// frame is checked and rejected, mirroring teacher's MaxPacketSize guard
// in network/tcp.go.
var MaxFrameSize uint32 = 1 << 20

// Frame is the unit exchanged over a Conn. Exactly one of Packet,
// (MsgType, Control) or App is meaningful, selected by Kind.
type Frame struct {
	Kind    FrameKind
	Packet  packet.Packet     `json:",omitempty"`
	MsgType cellagent.MsgType `json:",omitempty"`
	Control json.RawMessage   `json:",omitempty"`
	App     *AppEnvelope      `json:",omitempty"`
}

// PacketFrame wraps a data packet.
func PacketFrame(p packet.Packet) Frame {
	return Frame{Kind: FramePacket, Packet: p}
}

// ControlFrame marshals msg and wraps it tagged with msgType.
func ControlFrame(msgType cellagent.MsgType, msg interface{}) (Frame, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, xerrors.Errorf("encode control frame: %v: %w", err, fabric.ErrDeserialize)
	}
	return Frame{Kind: FrameControl, MsgType: msgType, Control: body}, nil
}

// Decode unmarshals f.Control into v. Valid only when f.Kind ==
// FrameControl.
func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.Control, v); err != nil {
		return xerrors.Errorf("decode control frame: %v: %w", err, fabric.ErrDeserialize)
	}
	return nil
}

func marshalFrame(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, xerrors.Errorf("marshal frame: %v: %w", err, fabric.ErrDeserialize)
	}
	if uint32(len(b)) > MaxFrameSize {
		return nil, xerrors.Errorf("frame of %d bytes exceeds %d: %w", len(b), MaxFrameSize, fabric.ErrFrameTooLarge)
	}
	return b, nil
}

func unmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, xerrors.Errorf("unmarshal frame: %v: %w", err, fabric.ErrDeserialize)
	}
	return f, nil
}

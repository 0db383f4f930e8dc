package cellagent

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
)

// MsgType tags the control-plane messages cell agents exchange over the
// connected tree (spec.md §9: "a tagged variant over {Discover,
// DiscoverD, Hello, Failover, FailoverD, StackTree, StackTreeD,
// Manifest, Interapplication, TreeName, DeleteTree} with a single
// process entry point that pattern-matches", replacing the source's
// dynamic dispatch and substring-scan type detection with a header tag
// - see fabric/packet.Header and spec.md §9).
type MsgType int

// Message types exchanged between cell agents.
const (
	MsgDiscover MsgType = iota
	MsgDiscoverD
	MsgHello
	MsgStackTree
	MsgStackTreeD
	MsgFailover
	MsgFailoverD
	MsgAppTreeName
)

func (t MsgType) String() string {
	switch t {
	case MsgDiscover:
		return "Discover"
	case MsgDiscoverD:
		return "DiscoverD"
	case MsgHello:
		return "Hello"
	case MsgStackTree:
		return "StackTree"
	case MsgStackTreeD:
		return "StackTreeD"
	case MsgFailover:
		return "Failover"
	case MsgFailoverD:
		return "FailoverD"
	case MsgAppTreeName:
		return "AppTreeName"
	default:
		return "Unknown"
	}
}

// DiscoverKind distinguishes the first-sighting Parent response from a
// subsequent-sighting NonParent response to a Discover (spec.md §4.7).
type DiscoverKind int

// DiscoverD response kinds.
const (
	DiscoverParent DiscoverKind = iota
	DiscoverNonParent
)

// DiscoverMsg announces a port-tree to every physically-up neighbor
// (spec.md §4.7).
type DiscoverMsg struct {
	SenderID   fabric.SenderID
	PortTreeID fabric.PortTreeID
	CellID     fabric.CellID
	Hops       int
	Path       fabric.Path
}

// Update increments Hops, mirroring the Rust message's mutating
// `update(cell_id)` call made before rebroadcast.
func (m DiscoverMsg) Update(cellID fabric.CellID) DiscoverMsg {
	m.CellID = cellID
	m.Hops++
	return m
}

// DiscoverDMsg replies to a DiscoverMsg, confirming or denying
// parenthood on the port it arrived on.
type DiscoverDMsg struct {
	PortTreeID fabric.PortTreeID
	Kind       DiscoverKind
}

// HelloMsg announces a cell/port pair to its direct neighbor, used only
// for debugging/diagnostics (spec.md §4.7).
type HelloMsg struct {
	CellID fabric.CellID
	PortNo fabric.PortNo
}

// StackTreeMsg asks a neighbor (or broadcasts to children) to stack a
// new logical tree over an existing base tree (spec.md §4.7).
type StackTreeMsg struct {
	SenderID         fabric.SenderID
	Name             fabric.TreeID
	NewPortTreeID    fabric.PortTreeID
	ParentPortTreeID fabric.PortTreeID
	GvmEqn           gvm.Equation
}

// StackTreeDMsg confirms a StackTreeMsg back to its sender.
type StackTreeDMsg struct {
	NewPortTreeID fabric.PortTreeID
}

// FailoverResult is the outcome carried by a FailoverDMsg.
type FailoverResult int

// Failover outcomes.
const (
	FailoverSuccess FailoverResult = iota
	FailoverFailure
)

// FailoverMsg asks the cell reached via the broken port's replacement
// link to adopt this cell as a child, rescuing every port-tree listed
// in BrokenPortTreeIDs (spec.md §4.7).
type FailoverMsg struct {
	RwPortTreeID       fabric.PortTreeID // rootward tree being rescued
	LwPortTreeID       fabric.PortTreeID // this cell's own port-tree on the broken port
	BrokenPath         fabric.Path
	BrokenPortTreeIDs  []fabric.PortTreeID
}

// FailoverDMsg reports the outcome of a FailoverMsg back down the
// trial path.
type FailoverDMsg struct {
	RwPortTreeID      fabric.PortTreeID
	LwPortTreeID      fabric.PortTreeID
	BrokenPath        fabric.Path
	BrokenPortTreeIDs []fabric.PortTreeID
	Result            FailoverResult
	NumberOfPackets   int // her no_packets_seen on the broken port, for Reroute
}

// AppTreeNameMsg announces a border cell's base tree name upward to the
// rest of the fabric (spec.md §4.7 "Port up (border)").
//
// SenderMsgSeqNo carries the sending border cell's per-sender message
// counter (original_source ec_message.rs's MsgHeader.sender_msg_seq_no,
// there noted "Debugging only?"); CellAgent.senderState tracks it per
// SenderID and logs, rather than rejects, an out-of-order arrival.
type AppTreeNameMsg struct {
	SenderID       fabric.SenderID
	Name           fabric.TreeID
	SenderMsgSeqNo int
}

// Package cellagent implements the cell agent control plane: spanning
// tree discovery, tree stacking, neighbor bookkeeping, and failover
// search, all driven through a per-cell Traph collection and a
// PacketEngine (spec.md §4.7), grounded on
// original_source/src/cellagent.rs and original_source/src-20170821/cellagent.rs.
package cellagent

import (
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/cellfabric/fabric/routingtable"
	"github.com/cellfabric/fabric/traph"
	"golang.org/x/xerrors"
)

// PacketEngineControl is the subset of packetengine.PacketEngine the
// cell agent drives: installing routing entries and rerouting around a
// broken port. Kept as a small interface in the teacher's
// accept-interfaces idiom so tests can substitute a fake engine.
type PacketEngineControl interface {
	SetEntry(e routingtable.Entry)
	DeleteEntry(uuid fabric.Uuid)
	SendNextOrEntl(port fabric.PortNo) error
	Reroute(brokenPort, newParent fabric.PortNo, herSeen int)
	NumberOfPacketsSeen(port fabric.PortNo) packetengine.NumberOfPackets
	RouteFromCellAgent(userMask fabric.Mask, p packet.Packet) error
}

// NeighborSender dispatches a control message to the neighbor on port.
// Implemented by the link layer (fabric/link).
type NeighborSender interface {
	SendControl(port fabric.PortNo, msgType MsgType, msg interface{}) error
}

// neighbor records what a port-up Hello told us about the cell on the
// other end (spec.md §4.7 "Hello"; used only for debugging/diagnostics).
type neighbor struct {
	CellID fabric.CellID
	PortNo fabric.PortNo
}

// CellAgent is the per-cell control-plane state (spec.md §3
// "CellAgent state").
type CellAgent struct {
	CellID          fabric.CellID
	NoPorts         fabric.PortQty
	QuenchPolicy    QuenchPolicy
	MyTreeID        fabric.TreeID
	ControlTreeID   fabric.TreeID
	ConnectedTreeID fabric.TreeID

	pe        PacketEngineControl
	neighbors NeighborSender

	mu sync.Mutex

	traphs       map[fabric.Uuid]*traph.Traph           // base_tree_uuid -> Traph
	treeMap      map[fabric.Uuid]fabric.Uuid             // any_tree_uuid -> base_tree_uuid
	baseTreeMap  map[fabric.PortTreeID]fabric.TreeID     // port_tree_id -> base_tree_id
	treeIDMap    map[fabric.Uuid]fabric.PortTreeID        // uuid -> port_tree_id, looked up on receive
	treeNameMap  map[fabric.SenderID]map[string]fabric.TreeID
	borderTreeMap map[fabric.PortNo]borderBinding

	savedDiscover []DiscoverMsg
	savedStack    map[fabric.Uuid][]StackTreeMsg

	neighborMap map[fabric.PortNo]neighbor

	failoverReplyPorts map[fabric.PortTreeID]fabric.PortNo
	connectedPorts     map[fabric.PortNo]bool
	seenRootPorts      map[fabric.Uuid]map[fabric.PortNo]bool

	assembler        *packet.Assembler
	appSink          AppSink
	noAppDeliveries  int

	senderState     *SenderState
	nextSenderSeqNo int

	tenantMask uint16
	vms        map[fabric.VmID]bool
	containers map[fabric.ContainerID]bool
}

// borderBinding records the (sender, tree) a border port's Noc tree
// announces (spec.md §4.7 "Port up (border)").
type borderBinding struct {
	SenderID fabric.SenderID
	TreeID   fabric.TreeID
}

// New builds a CellAgent. Call Initialize before handling any port or
// message events.
func New(cellID fabric.CellID, noPorts fabric.PortQty, quench QuenchPolicy, pe PacketEngineControl, neighbors NeighborSender) *CellAgent {
	return &CellAgent{
		CellID:             cellID,
		NoPorts:            noPorts,
		QuenchPolicy:       quench,
		pe:                 pe,
		neighbors:          neighbors,
		traphs:             make(map[fabric.Uuid]*traph.Traph),
		treeMap:            make(map[fabric.Uuid]fabric.Uuid),
		baseTreeMap:        make(map[fabric.PortTreeID]fabric.TreeID),
		treeIDMap:          make(map[fabric.Uuid]fabric.PortTreeID),
		treeNameMap:        make(map[fabric.SenderID]map[string]fabric.TreeID),
		borderTreeMap:      make(map[fabric.PortNo]borderBinding),
		savedStack:         make(map[fabric.Uuid][]StackTreeMsg),
		neighborMap:        make(map[fabric.PortNo]neighbor),
		failoverReplyPorts: make(map[fabric.PortTreeID]fabric.PortNo),
		connectedPorts:     make(map[fabric.PortNo]bool),
		seenRootPorts:      make(map[fabric.Uuid]map[fabric.PortNo]bool),
		assembler:          packet.NewAssembler(),
		senderState:        NewSenderState(),
		vms:                make(map[fabric.VmID]bool),
		containers:         make(map[fabric.ContainerID]bool),
	}
}

// Initialize creates the control tree, the connected-ports tree, and
// my_tree_id on this cell, each parented at port 0 (spec.md §4.7
// "Bootstrap").
func (ca *CellAgent) Initialize(controlTreeID, connectedTreeID, myTreeID fabric.TreeID, gvmEqn gvm.Equation) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	ca.ControlTreeID = controlTreeID
	ca.ConnectedTreeID = connectedTreeID
	ca.MyTreeID = myTreeID

	for _, id := range []fabric.TreeID{controlTreeID, connectedTreeID, myTreeID} {
		if err := ca.createBaseTreeOnSelfLocked(id, 0, gvmEqn); err != nil {
			return xerrors.Errorf("cell %s: initialize: %w", ca.CellID, err)
		}
	}
	return nil
}

// createBaseTreeOnSelfLocked builds a Traph for treeID, rooted at
// rootPort on this cell, registers it under every lookup map, and
// pushes its entry to the packet engine. rootPort is 0 (the CA
// loopback) for the bootstrap trees built by Initialize, and the
// physical border port for a Noc tree built by PortUpBorder - matching
// the original's port_connected, which installs the border port itself
// as the parent (see DESIGN.md).
func (ca *CellAgent) createBaseTreeOnSelfLocked(treeID fabric.TreeID, rootPort fabric.PortNo, gvmEqn gvm.Equation) error {
	tr := traph.New(ca.CellID, ca.NoPorts, treeID, gvmEqn)
	entry, err := tr.UpdateElement(treeID.Uuid(), rootPort, traph.Parent, nil, 0, fabric.NewPath(rootPort))
	if err != nil {
		return err
	}
	ca.traphs[treeID.Uuid().ForLookup()] = tr
	ca.treeMap[treeID.Uuid().ForLookup()] = treeID.Uuid()
	basePortTreeID := treeID.ToPortTreeID(rootPort)
	ca.baseTreeMap[basePortTreeID] = treeID
	ca.treeIDMap[treeID.Uuid().ForLookup()] = basePortTreeID
	tr.AddPortTree(traph.NewPortTree(basePortTreeID, rootPort, rootPort, 0, entry))
	ca.pe.SetEntry(entry)
	return nil
}

// PortUpInterior handles a physically-up interior link (spec.md §4.7
// "Port up (interior)"): adds the port to the connected tree's mask,
// announces Hello/Discover on it, and replays every saved Discover so
// the new neighbor learns all known trees.
func (ca *CellAgent) PortUpInterior(portNo fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	ca.connectedPorts[portNo] = true
	connTree, err := ca.traphs[ca.ConnectedTreeID.Uuid().ForLookup()].GetTree(ca.ConnectedTreeID.Uuid())
	if err != nil {
		return err
	}
	connTree.Entry.AddChild(portNo)
	ca.traphs[ca.ConnectedTreeID.Uuid().ForLookup()].SetTree(ca.ConnectedTreeID.Uuid(), connTree)
	ca.pe.SetEntry(connTree.Entry)

	myPortTreeID := ca.MyTreeID.ToPortTreeID(0)
	if err := ca.neighbors.SendControl(portNo, MsgHello, HelloMsg{CellID: ca.CellID, PortNo: portNo}); err != nil {
		return err
	}
	discover := DiscoverMsg{PortTreeID: myPortTreeID, CellID: ca.CellID, Hops: 1, Path: fabric.NewPath(portNo)}
	if err := ca.neighbors.SendControl(portNo, MsgDiscover, discover); err != nil {
		return err
	}

	for _, saved := range ca.savedDiscover {
		if err := ca.neighbors.SendControl(portNo, MsgDiscover, saved); err != nil {
			return err
		}
	}
	return nil
}

// PortUpBorder handles a physically-up border link (spec.md §4.7
// "Port up (border)"): creates an auxiliary Noc tree rooted at the
// border port, records the binding, and announces the base tree name
// upward.
func (ca *CellAgent) PortUpBorder(portNo fabric.PortNo, senderID fabric.SenderID, nocTreeID fabric.TreeID, gvmEqn gvm.Equation) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if err := ca.createBaseTreeOnSelfLocked(nocTreeID, portNo, gvmEqn); err != nil {
		return err
	}
	ca.borderTreeMap[portNo] = borderBinding{SenderID: senderID, TreeID: nocTreeID}

	ca.nextSenderSeqNo++
	return ca.neighbors.SendControl(portNo, MsgAppTreeName, AppTreeNameMsg{
		SenderID:       senderID,
		Name:           nocTreeID,
		SenderMsgSeqNo: ca.nextSenderSeqNo,
	})
}

// ProcessAppTreeName records the (sender, name) -> tree-id binding a
// border cell announces upward for a Noc tree (spec.md §4.7 "Port up
// (border)"), so a later lookup by tenant-visible name can resolve the
// TreeID to stack an application tree on.
func (ca *CellAgent) ProcessAppTreeName(msg AppTreeNameMsg, recvPort fabric.PortNo) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.senderState.Observe(msg.SenderID, msg.SenderMsgSeqNo)
	names, ok := ca.treeNameMap[msg.SenderID]
	if !ok {
		names = make(map[string]fabric.TreeID)
		ca.treeNameMap[msg.SenderID] = names
	}
	names[msg.Name.String()] = msg.Name
}

// ProcessHello records the neighbor seen on portNo (spec.md §4.7
// "Hello": "used only for debugging/diagnostics").
func (ca *CellAgent) ProcessHello(msg HelloMsg, recvPort fabric.PortNo) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.neighborMap[recvPort] = neighbor{CellID: msg.CellID, PortNo: msg.PortNo}
}

// Neighbor returns what Hello told us about the cell on port, if any.
func (ca *CellAgent) Neighbor(port fabric.PortNo) (fabric.CellID, fabric.PortNo, bool) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	n, ok := ca.neighborMap[port]
	return n.CellID, n.PortNo, ok
}

func (ca *CellAgent) traphFor(baseTreeUuid fabric.Uuid) (*traph.Traph, error) {
	tr, ok := ca.traphs[baseTreeUuid.ForLookup()]
	if !ok {
		return nil, xerrors.Errorf("cell %s: base tree %s: %w", ca.CellID, baseTreeUuid, fabric.ErrTraphMissing)
	}
	return tr, nil
}

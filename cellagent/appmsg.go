package cellagent

import (
	"encoding/json"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/routingtable"
	"golang.org/x/xerrors"
)

// AppMsgType tags the kind of payload a border port carries in its
// AppEnvelope (spec.md §6's border/NoC contract: "app_msg_type ∈
// {Interapplication, DeleteTree, Manifest, Query, StackTree,
// TreeName}"), mirroring original_source/src/app_message.rs's
// AppMsgType enum.
type AppMsgType string

// App message types a border port may send inbound.
const (
	AppMsgInterapplication AppMsgType = "Interapplication"
	AppMsgDeleteTree       AppMsgType = "DeleteTree"
	AppMsgManifest         AppMsgType = "Manifest"
	AppMsgQuery            AppMsgType = "Query"
	AppMsgStackTree        AppMsgType = "StackTree"
	AppMsgTreeName         AppMsgType = "TreeName"
)

// ProcessAppMsg dispatches an inbound border-port AppEnvelope by its
// AppMsgType, grounded on original_source/src/cellagent.rs's
// listen_cm_loop match over AppMsgType (app_interapplication,
// app_delete_tree, app_manifest, app_query, app_stack_tree,
// app_tree_name).
func (ca *CellAgent) ProcessAppMsg(recvPort fabric.PortNo, allowedTree fabric.Uuid, msgType AppMsgType, body []byte) error {
	switch msgType {
	case AppMsgInterapplication:
		return ca.appInterapplication(allowedTree, body)
	case AppMsgStackTree:
		return ca.appStackTree(recvPort, body)
	case AppMsgDeleteTree, AppMsgQuery, AppMsgManifest:
		// Deployment-manifest internals are out of scope (spec.md §1); the
		// original leaves app_delete_tree and app_query unimplemented for
		// the same reason (original_source/src/cellagent.rs), and app_manifest
		// deploys a VM/container manifest, which belongs to that same
		// out-of-scope layer. The dispatch itself is real; only the payload
		// handling is stubbed.
		return xerrors.Errorf("cell %s: app msg %s: %w", ca.CellID, msgType, fabric.ErrAppMsgUnimplemented)
	case AppMsgTreeName:
		// TreeName is this cell's own upward announcement at port-up
		// (PortUpBorder); a border port sending it inbound is a protocol
		// violation (original_source/src/cellagent.rs's app_tree_name
		// unconditionally errors).
		return xerrors.Errorf("cell %s: %w", ca.CellID, fabric.ErrAppMsgType)
	default:
		return xerrors.Errorf("cell %s: unknown app msg type %q: %w", ca.CellID, msgType, fabric.ErrAppMsgType)
	}
}

// entryForTreeLocked resolves the routing-table entry for any tree
// uuid - base or stacked - registered on this cell. Caller holds ca.mu.
func (ca *CellAgent) entryForTreeLocked(treeUuid fabric.Uuid) (routingtable.Entry, error) {
	baseUuid, ok := ca.treeMap[treeUuid.ForLookup()]
	if !ok {
		baseUuid = treeUuid
	}
	tr, ok := ca.traphs[baseUuid.ForLookup()]
	if !ok {
		return routingtable.Entry{}, xerrors.Errorf("cell %s: tree %s: %w", ca.CellID, treeUuid, fabric.ErrTreeMissing)
	}
	return tr.GetTree(treeUuid)
}

// appInterapplication implements original_source/src/cellagent.rs's
// app_interapplication: refuses to originate on a tree this cell may
// not send on, then packetizes body and routes it down the tree like
// any other CA-originated packet (spec.md §4.6 "CA-originated
// packets").
func (ca *CellAgent) appInterapplication(allowedTree fabric.Uuid, body []byte) error {
	ca.mu.Lock()
	entry, err := ca.entryForTreeLocked(allowedTree)
	if err != nil {
		ca.mu.Unlock()
		return err
	}
	if !entry.MaySend {
		ca.mu.Unlock()
		return xerrors.Errorf("cell %s: tree %s: %w", ca.CellID, allowedTree, fabric.ErrMayNotSend)
	}
	ca.nextSenderSeqNo++
	seqNo := ca.nextSenderSeqNo
	ca.mu.Unlock()

	for _, p := range packet.PacketizeBytes(allowedTree, body, uint64(seqNo)) {
		if err := ca.pe.RouteFromCellAgent(fabric.AllButZero(ca.NoPorts), p); err != nil {
			return err
		}
	}
	return nil
}

// lookupTreeNameLocked finds the tree bound to treeName by the sender
// identified by senderIDStr. ca.treeNameMap is keyed by fabric.SenderID,
// whose uuid component is generated fresh by NewSenderID - a SenderID
// rebuilt from the same wire string is a different map key - so this
// walks the map comparing String() forms instead of indexing directly.
// Caller holds ca.mu.
func (ca *CellAgent) lookupTreeNameLocked(senderIDStr, treeName string) (fabric.SenderID, fabric.TreeID, bool) {
	for sid, names := range ca.treeNameMap {
		if sid.String() != senderIDStr {
			continue
		}
		if treeID, ok := names[treeName]; ok {
			return sid, treeID, true
		}
	}
	return fabric.SenderID{}, fabric.TreeID{}, false
}

// appStackTreeParams is the JSON body of an AppMsgStackTree envelope,
// grounded on original_source/src/cellagent.rs's app_stack_tree, which
// pulls the same three fields out of a HashMap<String, String>.
type appStackTreeParams struct {
	SenderID       string       `json:"sender_id"`
	ParentTreeName string       `json:"parent_tree_name"`
	NewTreeName    string       `json:"new_tree_name"`
	GvmEqn         gvm.Equation `json:"gvm_eqn"`
}

// appStackTree implements original_source/src/cellagent.rs's
// app_stack_tree: resolves parent_tree_name through the sender's
// treeNameMap (populated by ProcessAppTreeName at border port-up),
// checks that tree may originate traffic, then stacks new_tree_name
// over it exactly as a StackTreeMsg arriving from a neighbor would.
func (ca *CellAgent) appStackTree(recvPort fabric.PortNo, body []byte) error {
	var params appStackTreeParams
	if err := json.Unmarshal(body, &params); err != nil {
		return xerrors.Errorf("cell %s: app stack tree: %v: %w", ca.CellID, err, fabric.ErrDeserialize)
	}

	ca.mu.Lock()
	senderID, parentTreeID, ok := ca.lookupTreeNameLocked(params.SenderID, params.ParentTreeName)
	if !ok {
		ca.mu.Unlock()
		return xerrors.Errorf("cell %s: tree name %q: %w", ca.CellID, params.ParentTreeName, fabric.ErrTreeMapMissing)
	}
	entry, err := ca.entryForTreeLocked(parentTreeID.Uuid())
	ca.mu.Unlock()
	if err != nil {
		return err
	}
	if !entry.MaySend {
		return xerrors.Errorf("cell %s: tree %s: %w", ca.CellID, parentTreeID, fabric.ErrMayNotSend)
	}

	newTreeID, err := fabric.NewTreeID(params.NewTreeName)
	if err != nil {
		return err
	}

	msg := StackTreeMsg{
		SenderID:         senderID,
		Name:             newTreeID,
		NewPortTreeID:    newTreeID.ToPortTreeID(0),
		ParentPortTreeID: parentTreeID.ToPortTreeID(0),
		GvmEqn:           params.GvmEqn,
	}
	return ca.ProcessStackTree(msg, recvPort, true)
}

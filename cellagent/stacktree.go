package cellagent

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/traph"
	"golang.org/x/xerrors"
)

// ProcessStackTree implements spec.md §4.7 "StackTree": resolves (or
// auto-creates) the base tree, refuses a duplicate port-tree, copies
// the parent's routing entry under the new port-tree's UUID gated by
// the GVM equation, registers the stacked Tree, pushes its entry to the
// packet engine, propagates to the parent's children, replies
// StackTreeD to the sender, and saves the message if GVM Save and Xtnd
// are both true.
func (ca *CellAgent) ProcessStackTree(msg StackTreeMsg, recvPort fabric.PortNo, propagate bool) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	baseTreeID, ok := ca.baseTreeMap[msg.ParentPortTreeID]
	if !ok {
		baseTreeID = msg.ParentPortTreeID.BaseTreeID()
		ca.baseTreeMap[msg.ParentPortTreeID] = baseTreeID
	}
	tr, ok := ca.traphs[baseTreeID.Uuid().ForLookup()]
	if !ok {
		tr = traph.New(ca.CellID, ca.NoPorts, baseTreeID, msg.GvmEqn)
		ca.traphs[baseTreeID.Uuid().ForLookup()] = tr
	}

	if tr.HasTree(msg.NewPortTreeID.Uuid()) {
		return xerrors.Errorf("cell %s: tree %s: %w", ca.CellID, msg.NewPortTreeID, fabric.ErrPortTreeExists)
	}

	parentTree, err := tr.GetTree(msg.ParentPortTreeID.Uuid())
	if err != nil {
		return xerrors.Errorf("cell %s: stack tree: %w", ca.CellID, err)
	}

	entry := parentTree.Entry
	entry.TreeUuid = msg.NewPortTreeID.Uuid()

	vars, paramsErr := tr.GetParams([]string{"hops"})
	if paramsErr != nil {
		vars = gvm.Vars{}
	}

	xtnd, err := msg.GvmEqn.EvalXtnd(vars)
	if err != nil {
		return xerrors.Errorf("cell %s: stack tree xtnd: %w", ca.CellID, err)
	}
	if !xtnd {
		entry.ClearChildren()
	}

	send, err := msg.GvmEqn.EvalSend(vars)
	if err != nil {
		return xerrors.Errorf("cell %s: stack tree send: %w", ca.CellID, err)
	}
	if send {
		entry.EnableSend()
	} else {
		entry.DisableSend()
	}

	recv, err := msg.GvmEqn.EvalRecv(vars)
	if err != nil {
		return xerrors.Errorf("cell %s: stack tree recv: %w", ca.CellID, err)
	}
	if recv {
		entry.EnableReceive()
	} else {
		entry.DisableReceive(ca.NoPorts)
	}

	newTree := traph.NewTree(msg.NewPortTreeID, msg.Name, msg.ParentPortTreeID, msg.GvmEqn, entry)
	tr.SetTree(msg.NewPortTreeID.Uuid(), newTree)
	ca.baseTreeMap[msg.NewPortTreeID] = baseTreeID
	ca.treeIDMap[msg.NewPortTreeID.Uuid().ForLookup()] = msg.NewPortTreeID
	ca.pe.SetEntry(entry)

	if propagate {
		for _, child := range parentTree.Entry.Mask.GetPortNos(ca.NoPorts) {
			if child == 0 {
				continue
			}
			if err := ca.neighbors.SendControl(child, MsgStackTree, msg); err != nil {
				return err
			}
		}
		if err := ca.neighbors.SendControl(recvPort, MsgStackTreeD, StackTreeDMsg{NewPortTreeID: msg.NewPortTreeID}); err != nil {
			return err
		}
	}

	save, err := msg.GvmEqn.EvalSave(vars)
	if err != nil {
		return xerrors.Errorf("cell %s: stack tree save: %w", ca.CellID, err)
	}
	if save && xtnd {
		key := msg.ParentPortTreeID.Uuid().ForLookup()
		ca.savedStack[key] = append(ca.savedStack[key], msg)
	}

	return nil
}

// ProcessStackTreeD handles the StackTreeD confirmation - currently a
// bookkeeping no-op point for callers that want to know a stack
// request completed (spec.md §4.7 names no further state transition).
func (ca *CellAgent) ProcessStackTreeD(msg StackTreeDMsg, recvPort fabric.PortNo) error {
	return nil
}

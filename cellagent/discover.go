package cellagent

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/traph"
	"golang.org/x/xerrors"
)

// ProcessDiscover implements spec.md §4.7 "Discover": tests quench,
// replies Parent on first sighting or NonParent otherwise, installs the
// corresponding traph element, and (unless quenched) rebroadcasts on
// the connected tree to every port but the one it arrived on. The
// Discover is always saved for late-connecting ports.
func (ca *CellAgent) ProcessDiscover(msg DiscoverMsg, recvPort fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	newPortTreeID := msg.PortTreeID
	baseTreeID := newPortTreeID.BaseTreeID()

	_, alreadySeen := ca.baseTreeMap[newPortTreeID]
	rootPort := msg.Path.Port()
	seenSet := ca.seenRootPorts[baseTreeID.Uuid().ForLookup()]
	sameRootPortSeen := seenSet != nil && seenSet[rootPort]

	quenched := ca.shouldQuench(alreadySeen, sameRootPortSeen)

	kind := DiscoverParent
	if alreadySeen {
		kind = DiscoverNonParent
	}

	if err := ca.neighbors.SendControl(recvPort, MsgDiscoverD, DiscoverDMsg{PortTreeID: newPortTreeID, Kind: kind}); err != nil {
		return err
	}

	if !alreadySeen {
		tr, ok := ca.traphs[baseTreeID.Uuid().ForLookup()]
		if !ok {
			tr = traph.New(ca.CellID, ca.NoPorts, baseTreeID, ca.connectedTreeGvmEqn())
			ca.traphs[baseTreeID.Uuid().ForLookup()] = tr
		}
		ca.baseTreeMap[newPortTreeID] = baseTreeID
		ca.treeIDMap[newPortTreeID.Uuid().ForLookup()] = newPortTreeID

		state := traph.Parent
		if kind == DiscoverNonParent {
			state = traph.Pruned
		}
		entry, err := tr.UpdateElement(baseTreeID.Uuid(), recvPort, state, nil, msg.Hops, msg.Path)
		if err != nil {
			return err
		}
		tr.AddPortTree(traph.NewPortTree(newPortTreeID, rootPort, recvPort, msg.Hops, entry))
		ca.pe.SetEntry(entry)

		if seenSet == nil {
			seenSet = make(map[fabric.PortNo]bool)
			ca.seenRootPorts[baseTreeID.Uuid().ForLookup()] = seenSet
		}
		seenSet[rootPort] = true
	}

	ca.savedDiscover = append(ca.savedDiscover, msg)

	if quenched {
		return nil
	}

	updated := msg.Update(ca.CellID)
	for port, up := range ca.connectedPorts {
		if !up || port == recvPort {
			continue
		}
		if err := ca.neighbors.SendControl(port, MsgDiscover, updated); err != nil {
			return err
		}
	}
	return nil
}

// connectedTreeGvmEqn returns the GVM equation governing newly
// discovered base trees - currently the connected tree's own equation,
// since Discover always stacks on the connected tree's view of the
// fabric.
func (ca *CellAgent) connectedTreeGvmEqn() gvm.Equation {
	tr, ok := ca.traphs[ca.ConnectedTreeID.Uuid().ForLookup()]
	if !ok {
		return gvm.Equation{}
	}
	tree, err := tr.GetTree(ca.ConnectedTreeID.Uuid())
	if err != nil {
		return gvm.Equation{}
	}
	return tree.GvmEqn
}

// ProcessDiscoverD implements spec.md §4.7 "DiscoverD": on Parent,
// installs Child on the receiving port and replays every saved
// StackTree for that base tree; on NonParent, marks the element
// connected and, if it was Unknown, Pruned.
func (ca *CellAgent) ProcessDiscoverD(msg DiscoverDMsg, recvPort fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	baseTreeID, ok := ca.baseTreeMap[msg.PortTreeID]
	if !ok {
		return xerrors.Errorf("cell %s: %w", ca.CellID, fabric.ErrTreeMissing)
	}
	tr, err := ca.traphFor(baseTreeID.Uuid())
	if err != nil {
		return err
	}

	switch msg.Kind {
	case DiscoverParent:
		entry, err := tr.UpdateElement(baseTreeID.Uuid(), recvPort, traph.Child, nil, 0, fabric.NewPath(recvPort))
		if err != nil {
			return err
		}
		ca.pe.SetEntry(entry)
		for _, saved := range ca.savedStack[baseTreeID.Uuid().ForLookup()] {
			if err := ca.neighbors.SendControl(recvPort, MsgStackTree, saved); err != nil {
				return err
			}
		}
	default:
		el, err := tr.Element(recvPort)
		if err != nil {
			return err
		}
		wasUnknown := el.State() == traph.Unknown
		el.Connected = true
		if wasUnknown {
			el.MarkPruned()
		}
	}
	return nil
}

package cellagent

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/log"
	"github.com/cellfabric/fabric/traph"
	"golang.org/x/xerrors"
)

// PortDown implements spec.md §4.7 "Failover" (port-disconnect half):
// marks every traph's element on brokenPort Broken, collects the
// broken port-trees of any traph whose parent was on that port, and -
// for the one-hop case, where the broken link was this cell's own
// direct parent - searches locally for a replacement and announces a
// Failover out the chosen port.
func (ca *CellAgent) PortDown(brokenPort fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	log.Lvl2(ca.CellID, "port", brokenPort, "down")
	ca.connectedPorts[brokenPort] = false

	var oneHopRescuer *traph.Traph
	var oneHopBrokenPortTreeIDs []fabric.PortTreeID
	var oneHopBrokenPath fabric.Path

	for _, tr := range ca.traphs {
		el, err := tr.Element(brokenPort)
		if err != nil {
			continue
		}
		if !el.Connected {
			continue
		}
		wasParent := el.State() == traph.Parent
		brokenPath := el.Path
		if err := tr.MarkBroken(brokenPort); err != nil {
			return err
		}

		if !wasParent {
			continue
		}

		broken := ca.portTreesForBase(tr)
		if oneHopRescuer == nil {
			oneHopRescuer = tr
			oneHopBrokenPortTreeIDs = broken
			oneHopBrokenPath = brokenPath
		}
	}

	if oneHopRescuer == nil {
		return nil
	}

	rwPortTreeID, ok := ca.portTreeIDFor(oneHopRescuer)
	if !ok {
		return nil
	}
	port, found := oneHopRescuer.FindNewParentPort(rwPortTreeID, oneHopBrokenPath)
	if !found {
		log.Lvlf1("%s: no replacement parent for tree %s after port %d broke", ca.CellID, rwPortTreeID, brokenPort)
		return xerrors.Errorf("cell %s: %w", ca.CellID, fabric.ErrNoReplacementParent)
	}
	log.Lvl2(ca.CellID, "rerouting tree", rwPortTreeID, "to port", port, "after port", brokenPort, "broke")

	lwPortTreeID := ca.MyTreeID.ToPortTreeID(brokenPort)
	msg := FailoverMsg{
		RwPortTreeID:      rwPortTreeID,
		LwPortTreeID:      lwPortTreeID,
		BrokenPath:        oneHopBrokenPath,
		BrokenPortTreeIDs: oneHopBrokenPortTreeIDs,
	}
	return ca.neighbors.SendControl(port, MsgFailover, msg)
}

// portTreesForBase returns every registered PortTreeID whose BaseTreeID
// matches tr's base tree, used to collect the broken port-trees to
// rescue.
func (ca *CellAgent) portTreesForBase(tr *traph.Traph) []fabric.PortTreeID {
	var out []fabric.PortTreeID
	for ptID, baseID := range ca.baseTreeMap {
		if baseID.Uuid().ForLookup().Equal(tr.BaseTreeID.Uuid().ForLookup()) {
			out = append(out, ptID)
		}
	}
	return out
}

// portTreeIDFor returns the primary PortTreeID registered against tr.
func (ca *CellAgent) portTreeIDFor(tr *traph.Traph) (fabric.PortTreeID, bool) {
	if tr.PortTreeID.Uuid().IsNil() {
		return fabric.PortTreeID{}, false
	}
	return tr.PortTreeID, true
}

// ProcessFailover implements spec.md §4.7's process_failover_msg: if
// the rootward tree names this cell, adopt recvPort as the new parent,
// reroute the packet engine, and reply Success; otherwise record the
// reply port and keep searching for a trial port locally, forwarding a
// new Failover or replying Failure.
func (ca *CellAgent) ProcessFailover(msg FailoverMsg, recvPort fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if msg.RwPortTreeID.Uuid().ForLookup().Equal(ca.MyTreeID.ToPortTreeID(0).Uuid().ForLookup()) {
		baseTreeID, ok := ca.baseTreeMap[msg.RwPortTreeID]
		if !ok {
			baseTreeID = msg.RwPortTreeID.BaseTreeID()
		}
		tr, err := ca.traphFor(baseTreeID.Uuid())
		if err != nil {
			return err
		}
		oldParent, err := tr.ParentElement()
		if err != nil {
			return err
		}
		if _, err := tr.SetParent(recvPort, msg.RwPortTreeID); err != nil {
			return err
		}
		seen := ca.pe.NumberOfPacketsSeen(oldParent.PortNo)
		ca.pe.Reroute(oldParent.PortNo, recvPort, seen.Seen)

		return ca.neighbors.SendControl(recvPort, MsgFailoverD, FailoverDMsg{
			RwPortTreeID:      msg.RwPortTreeID,
			LwPortTreeID:      msg.LwPortTreeID,
			BrokenPath:        msg.BrokenPath,
			BrokenPortTreeIDs: msg.BrokenPortTreeIDs,
			Result:            FailoverSuccess,
			NumberOfPackets:   seen.Seen,
		})
	}

	ca.failoverReplyPorts[msg.RwPortTreeID] = recvPort

	baseTreeID, ok := ca.baseTreeMap[msg.RwPortTreeID]
	if !ok {
		baseTreeID = msg.RwPortTreeID.BaseTreeID()
	}
	tr, err := ca.traphFor(baseTreeID.Uuid())
	if err != nil {
		return ca.neighbors.SendControl(recvPort, MsgFailoverD, FailoverDMsg{
			RwPortTreeID: msg.RwPortTreeID, LwPortTreeID: msg.LwPortTreeID,
			BrokenPath:        msg.BrokenPath,
			BrokenPortTreeIDs: msg.BrokenPortTreeIDs, Result: FailoverFailure,
		})
	}
	port, found := tr.FindNewParentPort(msg.RwPortTreeID, msg.BrokenPath)
	if !found {
		return ca.neighbors.SendControl(recvPort, MsgFailoverD, FailoverDMsg{
			RwPortTreeID: msg.RwPortTreeID, LwPortTreeID: msg.LwPortTreeID,
			BrokenPath:        msg.BrokenPath,
			BrokenPortTreeIDs: msg.BrokenPortTreeIDs, Result: FailoverFailure,
		})
	}
	return ca.neighbors.SendControl(port, MsgFailover, msg)
}

// ProcessFailoverD implements spec.md §4.7's process_failover_d_msg: if
// this cell is the leafward endpoint, reroute on Success or raise
// Partition on Failure; otherwise repair the traph along
// BrokenPortTreeIDs on Success and forward toward the recorded reply
// port, or try another candidate on Failure.
func (ca *CellAgent) ProcessFailoverD(msg FailoverDMsg, recvPort fabric.PortNo) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if msg.LwPortTreeID.Uuid().ForLookup().Equal(ca.MyTreeID.Uuid().ForLookup()) {
		if msg.Result == FailoverFailure {
			log.Lvl1(ca.CellID, "failover exhausted for tree", msg.RwPortTreeID, ": partitioned")
			return xerrors.Errorf("cell %s: %w", ca.CellID, fabric.ErrPartition)
		}
		brokenPort, ok := ca.brokenPortFor(msg.LwPortTreeID)
		if ok {
			ca.pe.Reroute(brokenPort, recvPort, msg.NumberOfPackets)
		}
		return nil
	}

	if msg.Result == FailoverFailure {
		baseTreeID, ok := ca.baseTreeMap[msg.RwPortTreeID]
		if !ok {
			baseTreeID = msg.RwPortTreeID.BaseTreeID()
		}
		tr, err := ca.traphFor(baseTreeID.Uuid())
		if err != nil {
			return err
		}
		port, found := tr.FindNewParentPort(msg.RwPortTreeID, msg.BrokenPath)
		if !found {
			replyPort, ok := ca.failoverReplyPorts[msg.RwPortTreeID]
			if !ok {
				return nil
			}
			return ca.neighbors.SendControl(replyPort, MsgFailoverD, msg)
		}
		return ca.neighbors.SendControl(port, MsgFailover, FailoverMsg{
			RwPortTreeID: msg.RwPortTreeID, LwPortTreeID: msg.LwPortTreeID,
			BrokenPath: msg.BrokenPath, BrokenPortTreeIDs: msg.BrokenPortTreeIDs,
		})
	}

	brokenPort := msg.BrokenPath.Port()
	for _, ptID := range msg.BrokenPortTreeIDs {
		baseTreeID, ok := ca.baseTreeMap[ptID]
		if !ok {
			continue
		}
		tr, err := ca.traphFor(baseTreeID.Uuid())
		if err != nil {
			continue
		}
		if _, err := tr.ChangeChild(ptID, brokenPort, recvPort); err != nil {
			continue
		}
	}

	replyPort, ok := ca.failoverReplyPorts[msg.RwPortTreeID]
	if !ok {
		return nil
	}
	return ca.neighbors.SendControl(replyPort, MsgFailoverD, msg)
}

// brokenPortFor recovers the port this cell's own tree was using
// before it broke, from lwPortTreeID's encoded port number.
func (ca *CellAgent) brokenPortFor(lwPortTreeID fabric.PortTreeID) (fabric.PortNo, bool) {
	return lwPortTreeID.PortNo()
}

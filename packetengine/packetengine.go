// Package packetengine implements the per-cell data plane: the private
// routing table used at forwarding time, per-port send/receive buffers,
// AIT flow-control state, and the reroute map consulted during failover
// (spec.md §4.6), grounded on
// original_source/cellagent/src/packet_engine.rs.
package packetengine

import (
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/log"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/routingtable"
	"golang.org/x/xerrors"
)

// CAPort is the reserved port number that routes to the local cell
// agent rather than a neighbor (spec.md §3: "bit 0 is reserved for the
// loopback to the local CA").
const CAPort fabric.PortNo = 0

// PortSender dispatches an outbound packet to the neighbor attached to
// port. Implemented by the link layer (fabric/link).
type PortSender interface {
	SendPacket(port fabric.PortNo, p packet.Packet) error
}

// CASink delivers a packet bound for the local cell agent, tagged with
// the port it arrived on (0 for CA-originated packets looped back, such
// as a failed send).
type CASink interface {
	Deliver(port fabric.PortNo, p packet.Packet) error
}

// NumberOfPackets is the sent/seen counter pair exchanged with the cell
// agent when reporting port status, and supplied back to Reroute so the
// engine can compute how many packets to resend (spec.md §4.6).
type NumberOfPackets struct {
	Sent int
	Seen int
}

// outbufCapacity bounds how many packets may queue on one port's outbuf
// before backpressure kicks in (spec.md §4.6's capacity-triggered wake),
// grounded on original_source/userspace/cellagent/src/packet_engine.rs's
// MAX_SLOTS.
const outbufCapacity = 10

// outbufSlot is one queued packet. recvPort/hasRecvPort record the port a
// packet arrived on when it was enqueued at-or-past capacity, so draining
// that slot can wake sends on the receive side that were blocked by the
// full outbuf (spec.md §4.6: "record recv_port in the slot so
// backpressure can wake the receive side").
type outbufSlot struct {
	p           packet.Packet
	recvPort    fabric.PortNo
	hasRecvPort bool
}

// PacketEngine is the per-cell forwarding engine (spec.md §4.6). Per-port
// state is held in maps keyed by PortNo rather than fixed-size arrays,
// per spec.md §9's redesign note decoupling memory from a compile-time
// port-count constant.
type PacketEngine struct {
	CellID            fabric.CellID
	ConnectedTreeUuid fabric.Uuid
	BorderPortNos     map[fabric.PortNo]bool
	NoPorts           fabric.PortQty

	table  *routingtable.Table
	mirror *routingtable.Mirror

	mu            sync.Mutex
	noSentPackets map[fabric.PortNo]int
	noSeenPackets map[fabric.PortNo]int
	sentPackets   map[fabric.PortNo][]packet.Packet
	outBuffers    map[fabric.PortNo][]outbufSlot
	maySend       map[fabric.PortNo]bool
	reroute       map[fabric.PortNo]fabric.PortNo

	ports PortSender
	ca    CASink
}

// New builds a PacketEngine for cellID, routing packets on
// connectedTreeID without flow control, reporting border ports in
// borderPortNos, and dispatching via ports/ca.
func New(cellID fabric.CellID, connectedTreeID fabric.TreeID, noPorts fabric.PortQty, borderPortNos map[fabric.PortNo]bool, ports PortSender, ca CASink) *PacketEngine {
	return &PacketEngine{
		CellID:            cellID,
		ConnectedTreeUuid: connectedTreeID.Uuid(),
		BorderPortNos:     borderPortNos,
		NoPorts:           noPorts,
		table:             routingtable.New(),
		mirror:            routingtable.NewMirror(),
		noSentPackets:     make(map[fabric.PortNo]int),
		noSeenPackets:     make(map[fabric.PortNo]int),
		sentPackets:       make(map[fabric.PortNo][]packet.Packet),
		outBuffers:        make(map[fabric.PortNo][]outbufSlot),
		maySend:           make(map[fabric.PortNo]bool),
		reroute:           make(map[fabric.PortNo]fabric.PortNo),
		ports:             ports,
		ca:                ca,
	}
}

// Mirror returns the lock-protected routing-table snapshot used for
// inspection (spec.md §5, §4.11): the forwarding path never reads
// through it.
func (pe *PacketEngine) Mirror() *routingtable.Mirror { return pe.mirror }

// SetEntry installs or replaces a routing-table entry, refreshing the
// inspection mirror.
func (pe *PacketEngine) SetEntry(e routingtable.Entry) {
	pe.table.SetEntry(e)
	pe.mirror.Update(pe.table.Entries())
}

// DeleteEntry removes the routing-table entry for uuid, refreshing the
// inspection mirror.
func (pe *PacketEngine) DeleteEntry(uuid fabric.Uuid) {
	pe.table.DeleteEntry(uuid)
	pe.mirror.Update(pe.table.Entries())
}

// NumberOfPacketsSeen reports the sent/seen counters for port, included
// in the status report the cell agent forwards on port up/down
// (spec.md §4.7 port-status handling).
func (pe *PacketEngine) NumberOfPacketsSeen(port fabric.PortNo) NumberOfPackets {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return NumberOfPackets{Sent: pe.noSentPackets[port], Seen: pe.noSeenPackets[port]}
}

// SetPortConnected marks a port as able to send (link up) or not (link
// down), mirroring the teacher's PortStatus handling.
func (pe *PacketEngine) SetPortConnected(port fabric.PortNo, connected bool) {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	pe.maySend[port] = connected
}

// addOutbuf enqueues p on port's outbuf. Once the outbuf is at or past
// capacity, the slot records recvPort so draining it later can wake sends
// on that receive port (spec.md §4.6, §9's "capacity-triggered
// backpressure-wake"); below capacity no port needs waking, so recvPort is
// left unrecorded.
func (pe *PacketEngine) addOutbuf(recvPort fabric.PortNo, hasRecvPort bool, port fabric.PortNo, p packet.Packet) {
	buf := pe.outBuffers[port]
	slot := outbufSlot{p: p}
	if len(buf) >= outbufCapacity && hasRecvPort {
		slot.recvPort = recvPort
		slot.hasRecvPort = true
	}
	pe.outBuffers[port] = append(buf, slot)
}

// popOutbuf dequeues the head of port's outbuf. If that leaves the outbuf
// still past capacity, the slot now sitting exactly at the capacity
// boundary is examined: if it was blocked by a full outbuf when enqueued
// (a saved recvPort), sends are re-enabled on that receive port so the
// sender who was blocked can make progress (spec.md §4.6, §9).
func (pe *PacketEngine) popOutbuf(port fabric.PortNo) (packet.Packet, bool) {
	buf := pe.outBuffers[port]
	if len(buf) == 0 {
		return packet.Packet{}, false
	}
	head := buf[0]
	buf = buf[1:]
	pe.outBuffers[port] = buf
	if len(buf) > outbufCapacity {
		if edge := buf[outbufCapacity]; edge.hasRecvPort {
			if err := pe.sendNextOrEntlLocked(edge.recvPort); err != nil {
				log.Lvl2(pe.CellID, "port", edge.recvPort, "backpressure wake failed", err)
			}
		}
	}
	return head.p, true
}

// OutbufLen reports how many packets are queued to send on port.
func (pe *PacketEngine) OutbufLen(port fabric.PortNo) int {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return len(pe.outBuffers[port])
}

// ProcessPacketFromPort implements the forwarding algorithm for a packet
// arriving on portNo (spec.md §4.6, steps 1-4).
func (pe *PacketEngine) ProcessPacketFromPort(portNo fabric.PortNo, p packet.Packet) error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	// Step 1: any port receive means the peer is ready for more and has
	// ack'd everything sent so far.
	pe.maySend[portNo] = true
	pe.noSeenPackets[portNo]++
	pe.sentPackets[portNo] = nil
	pe.noSentPackets[portNo] = 0

	switch p.GetAitState() {
	case fabric.Entl:
		return pe.sendPacketFlowControlLocked(portNo)
	case fabric.Ait:
		return pe.ca.Deliver(portNo, p)
	case fabric.AitD:
		return pe.ca.Deliver(portNo, p)
	case fabric.Tick, fabric.Tack, fabric.Teck:
		p.NextAitState()
		return pe.sendLocked(portNo, p)
	case fabric.Tock:
		p.NextAitState()
		if err := pe.sendLocked(portNo, p); err != nil {
			return err
		}
		if err := pe.ca.Deliver(portNo, p); err != nil {
			p.TimeReverse()
			p.MakeTock()
			return pe.sendLocked(portNo, p)
		}
		return nil
	}

	// Normal: look up the routing entry and forward.
	uuid := p.TreeUuid().ForLookup()
	entry, err := pe.table.GetEntry(uuid)
	if err != nil {
		return pe.ca.Deliver(portNo, p)
	}
	if !entry.InUse {
		return nil
	}
	if !entry.TreeUuid.ForLookup().Equal(uuid) {
		return xerrors.Errorf("cell %s port %d: %w", pe.CellID, portNo, fabric.ErrUuidMismatch)
	}
	if err := pe.forwardLocked(portNo, entry, entry.Mask, p); err != nil {
		return err
	}
	return pe.sendNextOrEntlLocked(portNo)
}

// RouteFromCellAgent routes a CA-originated packet (spec.md §4.6:
// "CA-originated packets"). State must be Normal or Ait; for Ait,
// next_ait_state is advanced before forwarding. Control-tree packets
// bypass flow control entirely.
func (pe *PacketEngine) RouteFromCellAgent(userMask fabric.Mask, p packet.Packet) error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	switch p.GetAitState() {
	case fabric.Normal:
	case fabric.Ait:
		p.NextAitState()
	default:
		return xerrors.Errorf("cell %s: ait state %s: %w", pe.CellID, p.GetAitState(), fabric.ErrAitHere)
	}

	uuid := p.TreeUuid().ForLookup()
	entry, err := pe.table.GetEntry(uuid)
	if err != nil {
		return xerrors.Errorf("cell %s: %w", pe.CellID, fabric.ErrTreeMissing)
	}
	return pe.forwardLocked(CAPort, entry, userMask, p)
}

// forwardLocked implements spec.md §4.6 step 3: control-tree packets go
// straight to every masked port with no flow control; otherwise route
// rootward if recvPort isn't the parent, or leafward (fanning out over
// userMask AND entry.Mask) if it is.
func (pe *PacketEngine) forwardLocked(recvPort fabric.PortNo, entry routingtable.Entry, userMask fabric.Mask, p packet.Packet) error {
	if p.TreeUuid().ForLookup().Equal(pe.ConnectedTreeUuid.ForLookup()) {
		mask := userMask.And(entry.Mask)
		for _, port := range mask.GetPortNos(pe.NoPorts) {
			if err := pe.sendLocked(port, p); err != nil {
				return err
			}
		}
		return nil
	}

	if recvPort != entry.Parent {
		// Child-to-root direction.
		if entry.Parent == CAPort {
			return pe.ca.Deliver(recvPort, p)
		}
		pe.addOutbuf(recvPort, true, entry.Parent, p)
		return pe.sendNextOrEntlLocked(entry.Parent)
	}

	// Root-to-leaf direction: fan out over the masked children.
	mask := userMask.And(entry.Mask)
	for _, port := range mask.GetPortNos(pe.NoPorts) {
		if port == CAPort {
			if err := pe.ca.Deliver(recvPort, p); err != nil {
				return err
			}
			continue
		}
		pe.addOutbuf(recvPort, true, port, p)
		if err := pe.sendNextOrEntlLocked(port); err != nil {
			return err
		}
	}
	return nil
}

// sendLocked sends p on port directly, honoring any reroute in effect.
func (pe *PacketEngine) sendLocked(port fabric.PortNo, p packet.Packet) error {
	target := port
	if rr, ok := pe.reroute[port]; ok && rr != CAPort {
		target = rr
	}
	if target == CAPort {
		return pe.ca.Deliver(port, p)
	}
	if pe.ports == nil {
		return xerrors.Errorf("cell %s port %d: %w", pe.CellID, target, fabric.ErrNoSender)
	}
	return pe.ports.SendPacket(target, p)
}

// sendPacketFlowControlLocked implements spec.md §4.6's
// send_packet_flow_control: if may_send[P], pop the head of P's outbuf
// and send it; may_send[P] becomes true again only if the packet sent
// was Entl.
func (pe *PacketEngine) sendPacketFlowControlLocked(port fabric.PortNo) error {
	if !pe.maySend[port] {
		return nil
	}
	p, ok := pe.popOutbuf(port)
	if !ok {
		return nil
	}
	pe.maySend[port] = p.IsEntl()
	if err := pe.sendLocked(port, p); err != nil {
		return err
	}
	if !p.IsEntl() {
		pe.sentPackets[port] = append(pe.sentPackets[port], p)
		pe.noSentPackets[port]++
	}
	return nil
}

// sendNextOrEntlLocked implements spec.md §4.6's send_next_or_entl:
// push an Entl packet if the outbuf is empty, then attempt to send.
func (pe *PacketEngine) sendNextOrEntlLocked(port fabric.PortNo) error {
	if len(pe.outBuffers[port]) == 0 {
		pe.addOutbuf(0, false, port, packet.MakeEntl())
	}
	return pe.sendPacketFlowControlLocked(port)
}

// SendNextOrEntl is the exported, locking entry point used by the cell
// agent to kick a port after changing its routing state.
func (pe *PacketEngine) SendNextOrEntl(port fabric.PortNo) error {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.sendNextOrEntlLocked(port)
}

// Reroute implements spec.md §4.6's Reroute(broken_port, new_parent,
// her_seen): every subsequent send on brokenPort transparently diverts
// to newParent, and the unacknowledged tail of brokenPort's resend
// queue (plus everything still waiting in its outbuf) moves over.
func (pe *PacketEngine) Reroute(brokenPort, newParent fabric.PortNo, herSeen int) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	log.Lvl3(pe.CellID, "rerouting port", brokenPort, "to", newParent, "peer saw", herSeen, "of", pe.noSentPackets[brokenPort], "sent")
	pe.reroute[brokenPort] = newParent

	resendCount := pe.noSentPackets[brokenPort] - herSeen
	if resendCount < 0 {
		// spec.md §9: the source never defends against the peer's
		// reported count exceeding ours; clamp instead of underflowing.
		log.Warn(pe.CellID, "port", brokenPort, "RerouteUnderflow: peer saw", herSeen, "but only", pe.noSentPackets[brokenPort], "sent")
		resendCount = 0
	}
	sent := pe.sentPackets[brokenPort]
	if resendCount > len(sent) {
		resendCount = len(sent)
	}
	tail := sent[len(sent)-resendCount:]

	for _, p := range tail {
		pe.outBuffers[newParent] = append(pe.outBuffers[newParent], outbufSlot{p: p})
	}
	pe.outBuffers[newParent] = append(pe.outBuffers[newParent], pe.outBuffers[brokenPort]...)
	pe.outBuffers[brokenPort] = nil
	pe.sentPackets[brokenPort] = nil
	pe.noSentPackets[brokenPort] = 0
}

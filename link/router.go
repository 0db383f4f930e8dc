package link

import (
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/log"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/packetengine"
	"golang.org/x/xerrors"
)

// Router owns every physical port's Conn for one cell and fans frames
// between them and the cell's PacketEngine/CellAgent, grounded on
// teacher's network/router.go Router (handleConn dispatch loop,
// registerConnection/removeConnection bookkeeping) generalized from a
// ServerIdentity-keyed overlay to a PortNo-keyed physical fabric.
//
// Router implements packetengine.PortSender and cellagent.NeighborSender,
// so a CellAgent and PacketEngine constructed over a Router never import
// this package themselves.
type Router struct {
	CellID fabric.CellID

	pe *packetengine.PacketEngine
	ca *cellagent.CellAgent

	mu    sync.Mutex
	conns map[fabric.PortNo]Conn

	wg sync.WaitGroup
}

// NewRouter builds a Router for cellID with no engine/agent bound yet.
// Since the PacketEngine and CellAgent both take the Router as their
// PortSender/NeighborSender dependency, construct the Router first, then
// the engine and agent (passing this Router in), then call Bind - this
// breaks the construction cycle without either side needing an
// interface-typed forward reference to the other.
func NewRouter(cellID fabric.CellID) *Router {
	return &Router{
		CellID: cellID,
		conns:  make(map[fabric.PortNo]Conn),
	}
}

// Bind attaches the PacketEngine and CellAgent this Router dispatches
// into. Must be called once, before Attach is called for any port.
func (r *Router) Bind(pe *packetengine.PacketEngine, ca *cellagent.CellAgent) {
	r.pe = pe
	r.ca = ca
}

// CASinkProxy breaks the construction cycle between packetengine.New
// (which needs a packetengine.CASink) and cellagent.New (which needs the
// *packetengine.PacketEngine just built): construct a CASinkProxy first,
// pass it as the CASink, build the CellAgent, then set CA on the proxy
// before any packet can arrive.
type CASinkProxy struct {
	CA *cellagent.CellAgent
}

// Deliver implements packetengine.CASink, forwarding to the bound
// CellAgent.
func (p *CASinkProxy) Deliver(port fabric.PortNo, pkt packet.Packet) error {
	return p.CA.Deliver(port, pkt)
}

// Attach registers conn as the connection for portNo and starts the
// goroutine reading frames off it. Attach does not itself call
// PortUpInterior/PortUpBorder - the caller decides which, per spec.md
// §4.7's "Port up" distinction.
func (r *Router) Attach(portNo fabric.PortNo, conn Conn) {
	r.mu.Lock()
	r.conns[portNo] = conn
	r.mu.Unlock()

	r.pe.SetPortConnected(portNo, true)

	r.wg.Add(1)
	go r.handleConn(portNo, conn)
}

// Detach removes and closes the connection for portNo, marking it down
// on the packet engine and the cell agent (spec.md §4.7 "Failover").
func (r *Router) Detach(portNo fabric.PortNo) error {
	r.mu.Lock()
	conn, ok := r.conns[portNo]
	delete(r.conns, portNo)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.pe.SetPortConnected(portNo, false)
	if err := r.ca.PortDown(portNo); err != nil {
		return err
	}
	return conn.Close()
}

// Wait blocks until every handleConn goroutine launched by Attach has
// returned (e.g. because its Conn was closed).
func (r *Router) Wait() { r.wg.Wait() }

// SendPacket implements packetengine.PortSender.
func (r *Router) SendPacket(port fabric.PortNo, p packet.Packet) error {
	conn, err := r.connFor(port)
	if err != nil {
		return err
	}
	return conn.SendFrame(PacketFrame(p))
}

// SendControl implements cellagent.NeighborSender.
func (r *Router) SendControl(port fabric.PortNo, msgType cellagent.MsgType, msg interface{}) error {
	conn, err := r.connFor(port)
	if err != nil {
		return err
	}
	f, err := ControlFrame(msgType, msg)
	if err != nil {
		return err
	}
	return conn.SendFrame(f)
}

func (r *Router) connFor(port fabric.PortNo) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[port]
	if !ok {
		return nil, xerrors.Errorf("cell %s port %d: %w", r.CellID, port, fabric.ErrPortNotConnected)
	}
	return conn, nil
}

// handleConn reads frames from conn until it errors or closes,
// dispatching data packets to the packet engine and control messages to
// the cell agent, per message type (spec.md §4.7).
func (r *Router) handleConn(portNo fabric.PortNo, conn Conn) {
	defer r.wg.Done()
	for {
		f, err := conn.ReceiveFrame()
		if err != nil {
			log.Lvl3(r.CellID, "port", portNo, "connection closed:", err)
			_ = r.Detach(portNo)
			return
		}
		if dispatchErr := r.safeDispatch(portNo, f); dispatchErr != nil {
			log.Error(r.CellID, "port", portNo, "dispatch:", dispatchErr)
		}
	}
}

// safeDispatch runs dispatch behind a recover, grounded on
// original_source/src/dumpstack.rs's panic-hook concept: instead of
// unwinding and printing to stderr, a panicking handler's state is
// dumped through fabric/log and the goroutine lives on to serve the
// next frame (spec.md §7's log-and-continue propagation policy).
func (r *Router) safeDispatch(portNo fabric.PortNo, f Frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(r.CellID, "port", portNo, "panic in dispatch:", rec, "\n"+r.ca.DumpState())
			err = xerrors.Errorf("cell %s port %d: dispatch panic: %v", r.CellID, portNo, rec)
		}
	}()
	return r.dispatch(portNo, f)
}

func (r *Router) dispatch(portNo fabric.PortNo, f Frame) error {
	if f.Kind == FramePacket {
		return r.pe.ProcessPacketFromPort(portNo, f.Packet)
	}

	switch f.MsgType {
	case cellagent.MsgDiscover:
		var msg cellagent.DiscoverMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessDiscover(msg, portNo)
	case cellagent.MsgDiscoverD:
		var msg cellagent.DiscoverDMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessDiscoverD(msg, portNo)
	case cellagent.MsgHello:
		var msg cellagent.HelloMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		r.ca.ProcessHello(msg, portNo)
		return nil
	case cellagent.MsgStackTree:
		var msg cellagent.StackTreeMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessStackTree(msg, portNo, true)
	case cellagent.MsgStackTreeD:
		var msg cellagent.StackTreeDMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessStackTreeD(msg, portNo)
	case cellagent.MsgFailover:
		var msg cellagent.FailoverMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessFailover(msg, portNo)
	case cellagent.MsgFailoverD:
		var msg cellagent.FailoverDMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		return r.ca.ProcessFailoverD(msg, portNo)
	case cellagent.MsgAppTreeName:
		var msg cellagent.AppTreeNameMsg
		if err := f.Decode(&msg); err != nil {
			return err
		}
		r.ca.ProcessAppTreeName(msg, portNo)
		return nil
	default:
		return xerrors.Errorf("cell %s port %d: unknown message type %d", r.CellID, portNo, f.MsgType)
	}
}

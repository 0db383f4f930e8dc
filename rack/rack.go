// Package rack stitches several simulated cells into one in-process
// topology over link.LocalConn, grounded on the teacher's simul/
// package concept (building a test deployment out of many onet hosts)
// and network/local.go's LocalManager, generalized from hosts running a
// protocol to cells running the routing fabric. cmd/cellboot's "rack"
// subcommand and the test suite both use it to build multi-cell
// scenarios without any real sockets.
package rack

import (
	"strconv"
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/link"
	"github.com/cellfabric/fabric/packetengine"
	"golang.org/x/xerrors"
)

// Cell bundles one simulated cell's Router, PacketEngine, and
// CellAgent, wired with link.CASinkProxy the same way link_test.go's
// newTestCell helper does, so a Rack can construct any number of them
// without repeating the construction-order dance.
type Cell struct {
	ID     fabric.CellID
	Router *link.Router
	PE     *packetengine.PacketEngine
	CA     *cellagent.CellAgent
}

// Edge names a bidirectional link between two cells' ports, the unit of
// topology a Rack wires and, later, optionally breaks.
type Edge struct {
	CellA fabric.CellID
	PortA fabric.PortNo
	CellB fabric.CellID
	PortB fabric.PortNo
}

// Rack is a closed set of simulated Cells connected by Edges over
// link.LocalConn, plus the accounting needed to sever an Edge on
// demand (spec.md §6's "auto_break" simulator knob).
type Rack struct {
	mu    sync.Mutex
	lm    *link.LocalManager
	cells map[fabric.CellID]*Cell
	edges []Edge
}

// New returns an empty Rack.
func New() *Rack {
	return &Rack{
		lm:    link.NewLocalManager(),
		cells: make(map[fabric.CellID]*Cell),
	}
}

// AddCell builds and registers a new Cell named name, with noPorts
// ports and borderPortNos marked as border (NoC-facing) ports. The
// quench policy and connected/control/self tree GVM equation mirror the
// knobs spec.md §6's config surface exposes.
func (r *Rack) AddCell(name string, noPorts fabric.PortQty, borderPortNos map[fabric.PortNo]bool, quench cellagent.QuenchPolicy, gvmEqn gvm.Equation) (*Cell, error) {
	cellID, err := fabric.NewCellID(name)
	if err != nil {
		return nil, xerrors.Errorf("rack: %w", err)
	}
	controlID, err := fabric.NewTreeID("Tree:control:" + name)
	if err != nil {
		return nil, xerrors.Errorf("rack: %w", err)
	}
	connID, err := fabric.NewTreeID("Tree:connected")
	if err != nil {
		return nil, xerrors.Errorf("rack: %w", err)
	}
	myID, err := fabric.NewTreeID("Tree:" + name)
	if err != nil {
		return nil, xerrors.Errorf("rack: %w", err)
	}

	router := link.NewRouter(cellID)
	proxy := &link.CASinkProxy{}
	pe := packetengine.New(cellID, connID, noPorts, borderPortNos, router, proxy)
	ca := cellagent.New(cellID, noPorts, quench, pe, router)
	if err := ca.Initialize(controlID, connID, myID, gvmEqn); err != nil {
		return nil, xerrors.Errorf("rack: cell %s: %w", name, err)
	}
	proxy.CA = ca
	router.Bind(pe, ca)

	cell := &Cell{ID: cellID, Router: router, PE: pe, CA: ca}

	r.mu.Lock()
	r.cells[cellID] = cell
	r.mu.Unlock()

	return cell, nil
}

// Cell returns the cell previously built by AddCell, if any.
func (r *Rack) Cell(id fabric.CellID) (*Cell, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cells[id]
	return c, ok
}

// Connect dials a link.LocalConn between cellA:portA and cellB:portB,
// attaches it to both routers, and calls PortUpInterior on the
// initiating side so Hello/Discover propagate immediately (spec.md
// §4.7 "Port up (interior)").
func (r *Rack) Connect(e Edge) error {
	a, ok := r.Cell(e.CellA)
	if !ok {
		return xerrors.Errorf("rack: unknown cell %s", e.CellA)
	}
	b, ok := r.Cell(e.CellB)
	if !ok {
		return xerrors.Errorf("rack: unknown cell %s", e.CellB)
	}

	listenAddr := e.CellB.String() + ":" + strconv.Itoa(int(e.PortB))
	dialAddr := e.CellA.String() + ":" + strconv.Itoa(int(e.PortA))

	r.lm.Listen(listenAddr, func(c link.Conn) { b.Router.Attach(e.PortB, c) })
	connA, err := r.lm.Dial(dialAddr, listenAddr)
	if err != nil {
		return xerrors.Errorf("rack: connect %s:%d-%s:%d: %w", e.CellA, e.PortA, e.CellB, e.PortB, err)
	}
	a.Router.Attach(e.PortA, connA)

	if err := a.CA.PortUpInterior(e.PortA); err != nil {
		return xerrors.Errorf("rack: connect %s:%d-%s:%d: %w", e.CellA, e.PortA, e.CellB, e.PortB, err)
	}

	r.mu.Lock()
	r.edges = append(r.edges, e)
	r.mu.Unlock()
	return nil
}

// Break severs the Edge previously made by Connect between cellID and
// port, detaching that port's Router on the cellID side only - the
// same partial, asymmetric failure a real broken link produces,
// exercising spec.md §4.7's failover path. This is the mechanism behind
// spec.md §6's "auto_break" simulator knob.
func (r *Rack) Break(cellID fabric.CellID, port fabric.PortNo) error {
	c, ok := r.Cell(cellID)
	if !ok {
		return xerrors.Errorf("rack: unknown cell %s", cellID)
	}
	return c.Router.Detach(port)
}

package traph

import (
	"sync"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/routingtable"
	"golang.org/x/xerrors"
)

// Traph is the per-base-tree state aggregate (spec.md §3, §4.4):
// elements per port, the port trees rooted here, every tree stacked on
// the base tree, and the set of ports already tried while searching for
// a replacement parent.
type Traph struct {
	CellID     fabric.CellID
	BaseTreeID fabric.TreeID
	PortTreeID fabric.PortTreeID

	elements []Element // indexed by PortNo, 0..=no_ports

	portTrees map[fabric.PortTreeID]PortTree

	stackedMu    sync.Mutex
	stackedTrees map[fabric.Uuid]Tree

	triedPorts map[fabric.PortTreeID]map[fabric.PortNo]bool
}

// New builds a Traph with one Element per port (0..=noPorts) in Unknown
// state, and stacks the base tree itself (spec.md §4.4:
// "new(cell_id, no_ports, base_tree_id, gvm_eqn) initialises one element
// per port in Unknown state and stacks the base tree itself").
func New(cellID fabric.CellID, noPorts fabric.PortQty, baseTreeID fabric.TreeID, gvmEqn gvm.Equation) *Traph {
	elements := make([]Element, noPorts+1)
	for i := range elements {
		elements[i] = NewElement(fabric.PortNo(i))
	}
	basePortTreeID := baseTreeID.ToPortTreeID(0)
	entry := routingtable.NewEntry(basePortTreeID.Uuid(), true, 0, fabric.Port0(), true)
	baseTree := NewTree(basePortTreeID, baseTreeID, basePortTreeID, gvmEqn, entry)

	t := &Traph{
		CellID:       cellID,
		BaseTreeID:   baseTreeID,
		elements:     elements,
		portTrees:    make(map[fabric.PortTreeID]PortTree),
		stackedTrees: make(map[fabric.Uuid]Tree),
		triedPorts:   make(map[fabric.PortTreeID]map[fabric.PortNo]bool),
	}
	t.stackedTrees[baseTreeID.Uuid().ForLookup()] = baseTree
	return t
}

// GetTree returns the stacked Tree for treeUuid.
func (t *Traph) GetTree(treeUuid fabric.Uuid) (Tree, error) {
	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	tree, ok := t.stackedTrees[treeUuid.ForLookup()]
	if !ok {
		return Tree{}, xerrors.Errorf("traph %s: tree %s: %w", t.BaseTreeID, treeUuid, fabric.ErrTreeMissing)
	}
	return tree, nil
}

// SetTree stores tree under key.ForLookup() (AIT state and any port
// number stripped), registering a new logical tree or replacing an
// existing one.
func (t *Traph) SetTree(key fabric.Uuid, tree Tree) {
	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	t.stackedTrees[key.ForLookup()] = tree
}

// HasTree reports whether treeUuid names a tree already stacked on t.
func (t *Traph) HasTree(treeUuid fabric.Uuid) bool {
	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	_, ok := t.stackedTrees[treeUuid.ForLookup()]
	return ok
}

// DeleteTree removes deleteTreeID from the stacked trees, rebinding any
// tree whose parent was deleteTreeID to deleteTreeID's own parent
// (spec.md §3: "Deleting the base tree rebinds children of stacked trees
// to this traph's parent").
func (t *Traph) DeleteTree(deleteTreeID fabric.TreeID) {
	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	key := deleteTreeID.Uuid().ForLookup()
	removed, ok := t.stackedTrees[key]
	if !ok {
		return
	}
	delete(t.stackedTrees, key)
	for id, tree := range t.stackedTrees {
		if tree.ParentPortTreeID.Uuid().ForLookup().Equal(key) {
			tree.ParentPortTreeID = removed.ParentPortTreeID
			t.stackedTrees[id] = tree
		}
	}
}

// StackedTrees returns a snapshot of every tree currently stacked here.
func (t *Traph) StackedTrees() []Tree {
	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	out := make([]Tree, 0, len(t.stackedTrees))
	for _, tr := range t.stackedTrees {
		out = append(out, tr)
	}
	return out
}

// AddPortTree registers pt as one of this traph's per-port views,
// returning the traph's primary PortTreeID (set on first registration).
func (t *Traph) AddPortTree(pt PortTree) fabric.PortTreeID {
	if t.PortTreeID.Uuid().IsNil() {
		t.PortTreeID = pt.PortTreeID
	}
	t.portTrees[pt.PortTreeID] = pt
	return t.PortTreeID
}

// GetPortTree returns the registered PortTree for id.
func (t *Traph) GetPortTree(id fabric.PortTreeID) (PortTree, error) {
	pt, ok := t.portTrees[id]
	if !ok {
		return PortTree{}, xerrors.Errorf("traph %s: port tree %s: %w", t.BaseTreeID, id, fabric.ErrTreeMissing)
	}
	return pt, nil
}

// Element returns the element at portNo.
func (t *Traph) Element(portNo fabric.PortNo) (*Element, error) {
	if int(portNo) >= len(t.elements) {
		return nil, xerrors.Errorf("traph %s: port %d: %w", t.BaseTreeID, portNo, fabric.ErrPortElementMissing)
	}
	return &t.elements[portNo], nil
}

// Elements returns every element, indexed by port number.
func (t *Traph) Elements() []Element { return t.elements }

// ParentElement returns the (at most one) element in state Parent.
func (t *Traph) ParentElement() (*Element, error) {
	for i := range t.elements {
		if t.elements[i].State() == Parent {
			return &t.elements[i], nil
		}
	}
	return nil, xerrors.Errorf("traph %s: %w", t.BaseTreeID, fabric.ErrNoTraphParent)
}

// ChildPorts returns every port currently in state Child.
func (t *Traph) ChildPorts() []fabric.PortNo {
	var out []fabric.PortNo
	for i := range t.elements {
		if t.elements[i].State() == Child {
			out = append(out, t.elements[i].PortNo)
		}
	}
	return out
}

// UpdateElement adds/updates the TraphElement at portNo, sets the
// tree's routing entry accordingly (parent iff state==Parent, OR in
// children into the mask, mark in_use), and returns the updated entry
// (spec.md §4.4).
func (t *Traph) UpdateElement(treeUuid fabric.Uuid, portNo fabric.PortNo, state State, children []fabric.PortNo, hops int, path fabric.Path) (routingtable.Entry, error) {
	el, err := t.Element(portNo)
	if err != nil {
		return routingtable.Entry{}, err
	}
	el.Connected = true
	el.Hops = hops
	el.Path = path
	switch state {
	case Parent:
		el.MarkParent()
	case Child:
		el.MarkChild()
	case Pruned:
		el.MarkPruned()
	case Broken:
		el.MarkBroken()
	}

	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	tree, ok := t.stackedTrees[treeUuid.ForLookup()]
	if !ok {
		return routingtable.Entry{}, xerrors.Errorf("traph %s: tree %s: %w", t.BaseTreeID, treeUuid, fabric.ErrTreeMissing)
	}
	if state == Parent {
		tree.Entry.SetParent(portNo)
	}
	for _, c := range children {
		tree.Entry.AddChild(c)
	}
	tree.Entry.InUse = true
	t.stackedTrees[treeUuid.ForLookup()] = tree
	return tree.Entry, nil
}

// tried reports whether portNo has already been tried while
// searching for a replacement parent on rwPortTreeID.
func (t *Traph) tried(rwPortTreeID fabric.PortTreeID, portNo fabric.PortNo) bool {
	set, ok := t.triedPorts[rwPortTreeID]
	return ok && set[portNo]
}

func (t *Traph) addTriedPort(rwPortTreeID fabric.PortTreeID, portNo fabric.PortNo) {
	set, ok := t.triedPorts[rwPortTreeID]
	if !ok {
		set = make(map[fabric.PortNo]bool)
		t.triedPorts[rwPortTreeID] = set
	}
	set[portNo] = true
}

// FindNewParentPort chooses a replacement parent port for the tree
// rooted at rwPortTreeID after brokenPath went down, considering in
// order: the current Parent (if eligible), any eligible Pruned element,
// then any eligible Child; among candidates it picks the minimum-hops
// one and records it as tried before returning it (spec.md §4.4).
func (t *Traph) FindNewParentPort(rwPortTreeID fabric.PortTreeID, brokenPath fabric.Path) (fabric.PortNo, bool) {
	var candidates []*Element

	if parent, err := t.ParentElement(); err == nil {
		if !parent.IsOnBrokenPath(brokenPath) && !parent.IsBroken() && parent.Connected &&
			!t.tried(rwPortTreeID, parent.PortNo) {
			candidates = append(candidates, parent)
		}
	}

	var bestPruned *Element
	for i := range t.elements {
		el := &t.elements[i]
		if !el.Connected || !el.IsState(Pruned) {
			continue
		}
		if t.tried(rwPortTreeID, el.PortNo) || el.IsOnBrokenPath(brokenPath) || el.IsBroken() {
			continue
		}
		if bestPruned == nil || el.Hops < bestPruned.Hops {
			bestPruned = el
		}
	}
	if bestPruned != nil {
		candidates = append(candidates, bestPruned)
	}

	for i := range t.elements {
		el := &t.elements[i]
		if !el.Connected || !el.IsState(Child) {
			continue
		}
		if t.tried(rwPortTreeID, el.PortNo) || el.IsBroken() {
			continue
		}
		candidates = append(candidates, el)
		break // original source: find() - first eligible child only
	}

	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Hops < best.Hops {
			best = c
		}
	}
	t.addTriedPort(rwPortTreeID, best.PortNo)
	return best.PortNo, true
}

// ClearTriedPorts resets the tried-port set for rwPortTreeID, used when
// starting a fresh failover search.
func (t *Traph) ClearTriedPorts(rwPortTreeID fabric.PortTreeID) {
	t.triedPorts[rwPortTreeID] = make(map[fabric.PortNo]bool)
}

// SetParent demotes the old Parent to Pruned, promotes newParent to
// Parent, and propagates the change into the named port tree and every
// stacked tree's entry, returning every updated entry (spec.md §4.4).
func (t *Traph) SetParent(newParent fabric.PortNo, portTreeID fabric.PortTreeID) ([]routingtable.Entry, error) {
	pt, ok := t.portTrees[portTreeID]
	if !ok {
		return nil, xerrors.Errorf("traph %s: port tree %s: %w", t.BaseTreeID, portTreeID, fabric.ErrTreeMissing)
	}
	ptEntry := pt.SetParent(newParent)
	t.portTrees[portTreeID] = pt

	oldParent, err := t.ParentElement()
	if err != nil {
		return nil, err
	}
	if oldParent.PortNo == newParent {
		return []routingtable.Entry{ptEntry}, nil
	}

	t.stackedMu.Lock()
	var entries []routingtable.Entry
	for id, tree := range t.stackedTrees {
		entries = append(entries, tree.SetParent(newParent))
		t.stackedTrees[id] = tree
	}
	t.stackedMu.Unlock()

	oldParent, err = t.ParentElement()
	if err != nil {
		return nil, err
	}
	oldParent.MarkPruned()
	newEl, err := t.Element(newParent)
	if err != nil {
		return nil, err
	}
	newEl.MarkParent()

	entries = append(entries, ptEntry)
	return entries, nil
}

// ChangeChild atomically adds newChild then removes oldChild from
// portTreeID's entry, the base tree's entry, and every stacked tree's
// entry (spec.md §4.4).
func (t *Traph) ChangeChild(portTreeID fabric.PortTreeID, oldChild, newChild fabric.PortNo) ([]routingtable.Entry, error) {
	pt, ok := t.portTrees[portTreeID]
	if !ok {
		return nil, xerrors.Errorf("traph %s: port tree %s: %w", t.BaseTreeID, portTreeID, fabric.ErrTreeMissing)
	}
	pt.Entry.AddChild(newChild)
	pt.Entry.RemoveChild(oldChild)
	t.portTrees[portTreeID] = pt

	t.stackedMu.Lock()
	defer t.stackedMu.Unlock()
	var entries []routingtable.Entry
	for id, tree := range t.stackedTrees {
		tree.Entry.AddChild(newChild)
		tree.Entry.RemoveChild(oldChild)
		t.stackedTrees[id] = tree
		entries = append(entries, tree.Entry)
	}
	entries = append(entries, pt.Entry)
	return entries, nil
}

// MarkBroken sets both the broken flag and the Broken state on portNo's
// element (spec.md §4.4).
func (t *Traph) MarkBroken(portNo fabric.PortNo) error {
	el, err := t.Element(portNo)
	if err != nil {
		return err
	}
	el.MarkBroken()
	return nil
}

// GetParams evaluates the requested GVM variables from the parent
// element - currently only "hops" is defined (spec.md §4.4, §4.5).
func (t *Traph) GetParams(vars []string) (gvm.Vars, error) {
	parent, err := t.ParentElement()
	if err != nil {
		return nil, err
	}
	out := make(gvm.Vars, len(vars))
	for _, v := range vars {
		switch v {
		case "hops":
			out["hops"] = parent.Hops
		default:
			return nil, xerrors.Errorf("traph %s: unknown GVM variable %q: %w", t.BaseTreeID, v, fabric.ErrGvmEval)
		}
	}
	return out, nil
}

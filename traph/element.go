// Package traph implements the per-base-tree state aggregate: elements
// per port, stacked logical trees, per-port-tree views, and the parent
// search used during failover. Grounded on
// original_source/cellagent/src/{traph,traph_element,port_tree,tree}.rs
// and spec.md §3, §4.4.
package traph

import "github.com/cellfabric/fabric"

// State is a TraphElement's position in the spanning tree at this cell
// (spec.md §3). Transitions: Unknown->Parent|Child|Pruned; any->Broken
// (terminal within a tree).
type State int

// Element states.
const (
	Unknown State = iota
	Parent
	Child
	Pruned
	Broken
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Parent:
		return "Parent"
	case Child:
		return "Child"
	case Pruned:
		return "Pruned"
	case Broken:
		return "Broken"
	default:
		return "Invalid"
	}
}

// Element is the per-port state of a Traph (spec.md §3: "TraphElement per
// port").
type Element struct {
	PortNo    fabric.PortNo
	Connected bool
	broken    bool
	state     State
	Hops      int
	Path      fabric.Path
}

// NewElement returns an Element for portNo in the Unknown state.
func NewElement(portNo fabric.PortNo) Element {
	return Element{PortNo: portNo, state: Unknown}
}

// State returns the element's current state.
func (e Element) State() State { return e.state }

// IsState reports whether e is currently in state s.
func (e Element) IsState(s State) bool { return e.state == s }

// IsBroken reports whether this element has been marked broken.
func (e Element) IsBroken() bool { return e.broken }

// SetBroken marks the element broken without forcing a state transition
// (original source: "Cannot set port status to pruned here because I
// subsequently use port status to find broken parent links").
func (e *Element) SetBroken() { e.broken = true }

// MarkBroken sets both the broken flag and transitions state to Broken -
// the terminal, irreversible transition within this tree (spec.md §3).
func (e *Element) MarkBroken() {
	e.broken = true
	e.state = Broken
}

// MarkParent transitions the element to Parent.
func (e *Element) MarkParent() { e.state = Parent }

// MarkChild transitions the element to Child.
func (e *Element) MarkChild() { e.state = Child }

// MarkPruned transitions the element to Pruned.
func (e *Element) MarkPruned() { e.state = Pruned }

// IsOnBrokenPath reports whether e's stored Path equals the reported
// broken path (spec.md §3: "A port is on a broken path if its stored Path
// equals the path reported broken").
func (e Element) IsOnBrokenPath(brokenPath fabric.Path) bool {
	return e.Path.Equal(brokenPath)
}

package traph

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/routingtable"
)

// Tree is one logical tree, possibly stacked over another (spec.md §3):
// a port_tree_id, the base tree it derives from, its parent port-tree
// (for stacked trees), the IDs of trees stacked on top of it, its
// routing-table entry, and the GVM equation that governs it.
type Tree struct {
	PortTreeID       fabric.PortTreeID
	BaseTreeID       fabric.TreeID
	ParentPortTreeID fabric.PortTreeID
	StackedTreeIDs   []fabric.TreeID
	Entry            routingtable.Entry
	GvmEqn           gvm.Equation
}

// NewTree builds a Tree rooted at portTreeID, stacked over baseTreeID.
func NewTree(portTreeID fabric.PortTreeID, baseTreeID fabric.TreeID, parentPortTreeID fabric.PortTreeID, gvmEqn gvm.Equation, entry routingtable.Entry) Tree {
	return Tree{
		PortTreeID:       portTreeID,
		BaseTreeID:       baseTreeID,
		ParentPortTreeID: parentPortTreeID,
		Entry:            entry,
		GvmEqn:           gvmEqn,
	}
}

// SetParent updates the tree's routing-table entry to point at a new
// parent port, returning the updated entry (propagated into every
// stacked tree by Traph.SetParent).
func (t *Tree) SetParent(newParent fabric.PortNo) routingtable.Entry {
	t.Entry.SetParent(newParent)
	return t.Entry
}

// AddChild ORs child into the tree's entry mask, returning the updated
// entry.
func (t *Tree) AddChild(child fabric.PortNo) routingtable.Entry {
	t.Entry.AddChild(child)
	return t.Entry
}

// RemoveChild clears child from the tree's entry mask, returning the
// updated entry.
func (t *Tree) RemoveChild(child fabric.PortNo) routingtable.Entry {
	t.Entry.RemoveChild(child)
	return t.Entry
}

package traph

import (
	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/routingtable"
)

// PortTree is a per-port view of a tree identifying the root-facing port
// used at this cell (spec.md §3). Grounded on
// original_source/src/port_tree.rs: a thin read-only view keyed by
// (root_port_no, in_port_no), kept as a value type here too.
type PortTree struct {
	PortTreeID fabric.PortTreeID
	RootPortNo fabric.PortNo
	InPortNo   fabric.PortNo
	Hops       int
	Entry      routingtable.Entry
}

// NewPortTree builds a PortTree.
func NewPortTree(id fabric.PortTreeID, rootPort, inPort fabric.PortNo, hops int, entry routingtable.Entry) PortTree {
	return PortTree{PortTreeID: id, RootPortNo: rootPort, InPortNo: inPort, Hops: hops, Entry: entry}
}

// SetParent updates the port tree's root-facing port and entry parent,
// returning the updated entry.
func (pt *PortTree) SetParent(newParent fabric.PortNo) routingtable.Entry {
	pt.RootPortNo = newParent
	pt.Entry.SetParent(newParent)
	return pt.Entry
}

// SetEntry replaces the port tree's routing-table entry wholesale.
func (pt *PortTree) SetEntry(e routingtable.Entry) { pt.Entry = e }

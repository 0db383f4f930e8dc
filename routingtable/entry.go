// Package routingtable implements the UUID-keyed routing table consulted
// by the packet engine at forwarding time (spec.md §3, §4.3), grounded on
// original_source/cellagent/src/{routing_table,routing_table_entry}.rs.
package routingtable

import (
	"fmt"

	"github.com/cellfabric/fabric"
)

// Entry is one routing-table row: the tree it routes, whether it is
// live, whether this cell may originate on it, the parent port, and the
// leafward-forwarding mask (spec.md §3).
type Entry struct {
	TreeUuid fabric.Uuid
	InUse    bool
	MaySend  bool
	Parent   fabric.PortNo
	Mask     fabric.Mask
}

// NewEntry builds an Entry for portTreeUuid, parented at parent, with the
// given leafward mask.
func NewEntry(portTreeUuid fabric.Uuid, inUse bool, parent fabric.PortNo, mask fabric.Mask, maySend bool) Entry {
	return Entry{TreeUuid: portTreeUuid, InUse: inUse, MaySend: maySend, Parent: parent, Mask: mask}
}

// EnableSend sets MaySend true.
func (e *Entry) EnableSend() { e.MaySend = true }

// DisableSend sets MaySend false.
func (e *Entry) DisableSend() { e.MaySend = false }

// EnableReceive ORs in the port-0 bit, so the CA receives a copy when
// forwarding leafward.
func (e *Entry) EnableReceive() { e.Mask = e.Mask.Or(fabric.Port0()) }

// DisableReceive clears the port-0 bit.
func (e *Entry) DisableReceive(maxPorts fabric.PortQty) {
	e.Mask = e.Mask.And(fabric.AllButZero(maxPorts))
}

// AddChild ORs child's bit into the mask.
func (e *Entry) AddChild(child fabric.PortNo) {
	e.Mask = e.Mask.Or(fabric.NewMask(child))
}

// RemoveChild clears child's bit from the mask.
func (e *Entry) RemoveChild(child fabric.PortNo) {
	e.Mask = e.Mask.And(fabric.NewMask(child).Not())
}

// ClearChildren leaves only the port-0 bit (if set) in the mask.
func (e *Entry) ClearChildren() {
	e.Mask = e.Mask.And(fabric.Port0())
}

// SetParent updates the parent port.
func (e *Entry) SetParent(parent fabric.PortNo) { e.Parent = parent }

// HasChild reports whether child's bit is set in the mask.
func (e Entry) HasChild(child fabric.PortNo) bool {
	return e.Mask.HasPort(child)
}

// String renders the entry the way the original Display impl did:
// tree uuid (truncated), in-use/may-send flags, parent, mask.
func (e Entry) String() string {
	return fmt.Sprintf("%.8s  inuse=%v  send=%v  parent=%d  mask=%v",
		e.TreeUuid.String(), e.InUse, e.MaySend, e.Parent, e.Mask)
}

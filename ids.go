package fabric

import googleuuid "github.com/google/uuid"

// idBase is the Name+Uuid pair shared by every identifier type in this
// package (spec.md §3). Equality is by Uuid; Display is by Name.
type idBase struct {
	name Name
	uuid Uuid
}

func newIDBase(label string) (idBase, error) {
	n, err := NewName(label)
	if err != nil {
		return idBase{}, err
	}
	return idBase{name: n, uuid: NewUuid()}, nil
}

// String returns the human-readable name.
func (b idBase) String() string { return b.name.String() }

// Uuid returns the identity used for equality and map keys.
func (b idBase) Uuid() Uuid { return b.uuid }

// Equal compares two idBase values by their AIT-agnostic lookup key,
// since IDs are never expected to carry a meaningful AIT state of their
// own.
func (b idBase) Equal(o idBase) bool { return b.uuid.ForLookup().Equal(o.uuid.ForLookup()) }

// CellID names one cell (network element).
type CellID struct{ idBase }

// NewCellID builds a CellID from a label.
func NewCellID(label string) (CellID, error) {
	b, err := newIDBase(label)
	return CellID{b}, err
}

// PortID names one port on a cell.
type PortID struct{ idBase }

// NewPortID builds a PortID from a label.
func NewPortID(label string) (PortID, error) {
	b, err := newIDBase(label)
	return PortID{b}, err
}

// TreeID names a base tree or a logical (stacked) tree.
type TreeID struct{ idBase }

// NewTreeID builds a TreeID from a label.
func NewTreeID(label string) (TreeID, error) {
	b, err := newIDBase(label)
	return TreeID{b}, err
}

// ToPortTreeID derives a PortTreeID from t by stamping portNo into a copy
// of the tree's Uuid, without reallocating the name (spec.md §3, §4.1).
func (t TreeID) ToPortTreeID(portNo PortNo) PortTreeID {
	return PortTreeID{idBase{name: t.name, uuid: t.uuid.SetPortNo(uint16(portNo))}}
}

// PortTreeID names a per-port view of a Tree, rooted at a particular local
// port.
type PortTreeID struct{ idBase }

// BaseTreeID strips the encoded port number, recovering the underlying
// TreeID's identity for map lookups (tree_map / base_tree_map keys).
func (p PortTreeID) BaseTreeID() TreeID {
	return TreeID{idBase{name: p.name, uuid: p.uuid.RemovePortNo()}}
}

// PortNo returns the port number encoded into this PortTreeID, if any.
func (p PortTreeID) PortNo() (PortNo, bool) {
	port, ok := p.uuid.GetPortNo()
	return PortNo(port), ok
}

// SenderID names the originator of a border/app message. It is built from
// github.com/google/uuid rather than the satori-backed Uuid used for
// trees and ports, since a sender never carries AIT state or an encoded
// port (see DESIGN.md).
type SenderID struct {
	name Name
	id   googleuuid.UUID
}

// NewSenderID builds a SenderID from a label, generating a random
// google/uuid identity.
func NewSenderID(label string) (SenderID, error) {
	n, err := NewName(label)
	if err != nil {
		return SenderID{}, err
	}
	return SenderID{name: n, id: googleuuid.New()}, nil
}

func (s SenderID) String() string { return s.name.String() }

// Equal compares two SenderIDs by their google/uuid identity.
func (s SenderID) Equal(o SenderID) bool { return s.id == o.id }

// VmID names a virtual machine hosted by a cell (spec.md §3; exercised
// only by the VM bookkeeping API - see DESIGN.md original_source note on
// vm.rs).
type VmID struct{ idBase }

// NewVmID builds a VmID from a label.
func NewVmID(label string) (VmID, error) {
	b, err := newIDBase(label)
	return VmID{b}, err
}

// ContainerID names a container hosted by a cell.
type ContainerID struct{ idBase }

// NewContainerID builds a ContainerID from a label.
func NewContainerID(label string) (ContainerID, error) {
	b, err := newIDBase(label)
	return ContainerID{b}, err
}

// LinkID names a physical link between two cell ports.
type LinkID struct{ idBase }

// NewLinkID builds a LinkID from a label.
func NewLinkID(label string) (LinkID, error) {
	b, err := newIDBase(label)
	return LinkID{b}, err
}

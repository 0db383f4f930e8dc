package fabric

import (
	"strings"

	"golang.org/x/xerrors"
)

// nameCapacity mirrors the original Rust source's stack-allocated,
// fixed-capacity character array for names (spec.md §3: "Names are
// fixed-capacity character arrays").
const nameCapacity = 64

// Name is a fixed-capacity, space-free identifier label. Equality between
// the ID types built on top of Name is by Uuid, never by Name - Name only
// supplies the human-readable Display.
type Name struct {
	chars [nameCapacity]byte
	n     int
}

// NewName builds a Name from s, failing with ErrInvalidName if s contains
// a space or overflows the fixed capacity.
func NewName(s string) (Name, error) {
	var n Name
	if err := n.set(s); err != nil {
		return Name{}, err
	}
	return n, nil
}

func (n *Name) set(s string) error {
	if strings.ContainsRune(s, ' ') {
		return xerrors.Errorf("name %q: %w", s, ErrInvalidName)
	}
	if len(s) > nameCapacity {
		return xerrors.Errorf("name %q exceeds %d bytes: %w", s, nameCapacity, ErrInvalidName)
	}
	var chars [nameCapacity]byte
	copy(chars[:], s)
	n.chars = chars
	n.n = len(s)
	return nil
}

// String returns the human-readable name.
func (n Name) String() string {
	return string(n.chars[:n.n])
}

// AddComponent concatenates s onto n using "-" as a fixed separator,
// returning a new Name (spec.md §4.1: "Name::add_component(s) concatenates
// with a fixed separator").
func (n Name) AddComponent(s string) (Name, error) {
	return NewName(n.String() + "-" + s)
}

package fabric

import "golang.org/x/xerrors"

// PortNo is a 1-based port identifier. Port 0 is reserved for the local
// cell agent (loopback), per spec.md §3.
type PortNo uint8

// PortQty is the number of physical ports on a cell, used for range
// validation (spec.md §3: "PortNumber carries the maximum count").
type PortQty uint8

// PortNumber pairs a validated PortNo with the PortQty it was checked
// against.
type PortNumber struct {
	no  PortNo
	max PortQty
}

// NewPortNumber validates no against max and returns a PortNumber, or
// ErrPortElementMissing if no is out of range.
func NewPortNumber(no PortNo, max PortQty) (PortNumber, error) {
	if no > PortNo(max) {
		return PortNumber{}, xerrors.Errorf("port %d exceeds max %d: %w", no, max, ErrPortElementMissing)
	}
	return PortNumber{no: no, max: max}, nil
}

// GetPortNo returns the validated port number.
func (p PortNumber) GetPortNo() PortNo { return p.no }

// Max returns the PortQty this PortNumber was validated against.
func (p PortNumber) Max() PortQty { return p.max }

// IsCA reports whether this PortNumber designates port 0, the local CA
// loopback.
func (p PortNumber) IsCA() bool { return p.no == 0 }

package fabric

import "math/bits"

// Mask is a bitset over port numbers (spec.md §3). Bit 0 is reserved for
// port 0, the loopback to the local CA.
type Mask uint64

// EmptyMask has no bits set.
const EmptyMask Mask = 0

// Port0Mask has only bit 0 set.
const Port0Mask Mask = 1

// NewMask returns a Mask with only port's bit set.
func NewMask(port PortNo) Mask {
	return Mask(1) << uint(port)
}

// MaskOfPorts ORs together the masks for every given port.
func MaskOfPorts(ports ...PortNo) Mask {
	var m Mask
	for _, p := range ports {
		m = m.Or(NewMask(p))
	}
	return m
}

// And returns the bitwise AND of m and o.
func (m Mask) And(o Mask) Mask { return m & o }

// Or returns the bitwise OR of m and o.
func (m Mask) Or(o Mask) Mask { return m | o }

// Not returns the bitwise complement of m.
func (m Mask) Not() Mask { return ^m }

// AllButZero returns a mask with every bit set for ports 1..=n, excluding
// port 0 (spec.md §8: "all_but_zero(n).and(port0()) == empty").
func AllButZero(n PortQty) Mask {
	if n >= 63 {
		return Mask(^uint64(1))
	}
	return Mask((uint64(1)<<uint(n+1) - 1) &^ 1)
}

// Port0 returns Port0Mask, the mask with only the CA-loopback bit set.
func Port0() Mask { return Port0Mask }

// HasPort reports whether port's bit is set in m.
func (m Mask) HasPort(port PortNo) bool {
	return m&NewMask(port) != 0
}

// GetPortNos returns every port number whose bit is set in m, up to max.
func (m Mask) GetPortNos(max PortQty) []PortNo {
	var ports []PortNo
	for i := PortNo(0); i <= PortNo(max); i++ {
		if m.HasPort(i) {
			ports = append(ports, i)
		}
	}
	return ports
}

// PopCount returns the number of set bits in m.
func (m Mask) PopCount() int {
	return bits.OnesCount64(uint64(m))
}

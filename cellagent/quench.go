package cellagent

// QuenchPolicy decides whether a Discover should be suppressed instead
// of rebroadcast, a global, start-time-configured setting (spec.md
// §4.7 "Quench policies").
type QuenchPolicy int

// Quench policies.
const (
	// QuenchSimple quenches once this cell has ever seen the tree at all.
	QuenchSimple QuenchPolicy = iota
	// QuenchRootPort quenches once this cell has seen the tree with a
	// root port equal to the one named in the Discover's path.
	QuenchRootPort
)

// shouldQuench reports whether a Discover for portTreeID/path should be
// suppressed, given whether the tree has been seen before and, for
// QuenchRootPort, whether any existing port-tree of this base tree
// already roots on the same port.
func (ca *CellAgent) shouldQuench(alreadySeen bool, sameRootPortSeen bool) bool {
	switch ca.QuenchPolicy {
	case QuenchRootPort:
		return sameRootPortSeen
	default:
		return alreadySeen
	}
}

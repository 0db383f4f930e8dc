package cellagent

import (
	"fmt"

	"github.com/cellfabric/fabric"
)

// ElementSummary is a read-only view of one traph element, for
// diagnostic dumps (spec.md §4.11 "CA's traph summaries as JSON").
type ElementSummary struct {
	PortNo    fabric.PortNo
	Connected bool
	State     string
	Hops      int
}

// TraphSummary is a read-only view of one base tree's traph, for
// fabric/webapi's inspection snapshot.
type TraphSummary struct {
	BaseTreeID fabric.TreeID
	PortTreeID fabric.PortTreeID
	Elements   []ElementSummary
}

// Snapshot returns a point-in-time, read-only summary of every traph
// this cell agent maintains, grounded on spec.md §4.11 ("exposes ...
// the CA's traph summaries as JSON"); it never mutates CellAgent state
// and is safe to call concurrently with live traffic.
func (ca *CellAgent) Snapshot() []TraphSummary {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	out := make([]TraphSummary, 0, len(ca.traphs))
	for _, tr := range ca.traphs {
		elems := make([]ElementSummary, 0, len(tr.Elements()))
		for _, el := range tr.Elements() {
			elems = append(elems, ElementSummary{
				PortNo:    el.PortNo,
				Connected: el.Connected,
				State:     el.State().String(),
				Hops:      el.Hops,
			})
		}
		out = append(out, TraphSummary{
			BaseTreeID: tr.BaseTreeID,
			PortTreeID: tr.PortTreeID,
			Elements:   elems,
		})
	}
	return out
}

// DumpState renders every traph's summary state as a multi-line string,
// grounded on original_source/src/dumpstack.rs's panic hook (there, a
// full traph/routing-table dump printed before the process unwound).
// The Go idiom is log-and-continue rather than unwind-and-dump, so
// DumpState is meant to be called from a recover() at the dispatch
// boundary (link.Router.safeDispatch) and its result handed to fabric/log
// instead of stderr.
func (ca *CellAgent) DumpState() string {
	summaries := ca.Snapshot()
	s := fmt.Sprintf("cell %s: %d traphs, %d app deliveries\n", ca.CellID, len(summaries), ca.NoAppDeliveries())
	for _, tr := range summaries {
		s += fmt.Sprintf("  tree %s (port-tree %s):\n", tr.BaseTreeID, tr.PortTreeID)
		for _, el := range tr.Elements {
			s += fmt.Sprintf("    port %d: %s connected=%v hops=%d\n", el.PortNo, el.State, el.Connected, el.Hops)
		}
	}
	return s
}

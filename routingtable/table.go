package routingtable

import (
	"sync"

	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// Table is the UUID-keyed routing table described in spec.md §4.3. All
// lookups key on uuid.ForLookup() so entries match across AIT state
// changes. Insertion order is preserved for display, mirroring the
// original source's separate `order` vector.
type Table struct {
	entries map[fabric.Uuid]Entry
	order   []fabric.Uuid
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[fabric.Uuid]Entry)}
}

// GetEntry looks up the entry for uuid (any AIT state); returns
// ErrTreeMissing if none exists.
func (t *Table) GetEntry(uuid fabric.Uuid) (Entry, error) {
	e, ok := t.entries[uuid.ForLookup()]
	if !ok {
		return Entry{}, xerrors.Errorf("routing table: %w", fabric.ErrTreeMissing)
	}
	return e, nil
}

// SetEntry replaces (or inserts) the entry keyed by entry.TreeUuid's
// lookup key, preserving first-seen insertion order.
func (t *Table) SetEntry(entry Entry) {
	key := entry.TreeUuid.ForLookup()
	if _, ok := t.entries[key]; !ok {
		t.order = append(t.order, key)
	}
	t.entries[key] = entry
}

// DeleteEntry removes the entry for uuid, if any.
func (t *Table) DeleteEntry(uuid fabric.Uuid) {
	key := uuid.ForLookup()
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Entries returns a copy of every entry, in insertion order - used by the
// inspection mirror (spec.md §5 "Locks").
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.entries[k])
	}
	return out
}

// Mirror is a lock-protected read-only copy of a Table, used purely for
// human inspection (spec.md §5: "a read-mostly mirror of the routing
// table protected by a mutex purely for human inspection"). The
// forwarding path never reads through Mirror - it only reads its own
// private Table.
type Mirror struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMirror returns an empty Mirror.
func NewMirror() *Mirror {
	return &Mirror{}
}

// Update replaces the mirrored snapshot. Never call this while holding
// any channel-send lock (spec.md §5).
func (m *Mirror) Update(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
}

// Snapshot returns the current mirrored entries.
func (m *Mirror) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

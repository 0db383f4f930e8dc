package routingtable

import (
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/stretchr/testify/require"
)

func TestSetGetDeleteEntry(t *testing.T) {
	table := New()
	u := fabric.NewUuid()
	e := NewEntry(u, true, 1, fabric.MaskOfPorts(1, 2), true)
	table.SetEntry(e)

	got, err := table.GetEntry(u)
	require.NoError(t, err)
	require.Equal(t, e, got)

	// Lookup must succeed across AIT-state transitions.
	ait := u.MakeAitSend()
	got, err = table.GetEntry(ait)
	require.NoError(t, err)
	require.Equal(t, e, got)

	table.DeleteEntry(u)
	_, err = table.GetEntry(u)
	require.ErrorIs(t, err, fabric.ErrTreeMissing)
}

func TestSetEntryPreservesInsertionOrder(t *testing.T) {
	table := New()
	var ids []fabric.Uuid
	for i := 0; i < 3; i++ {
		u := fabric.NewUuid()
		ids = append(ids, u)
		table.SetEntry(NewEntry(u, true, fabric.PortNo(i), fabric.EmptyMask, false))
	}
	// Re-set the first entry; order must not change.
	table.SetEntry(NewEntry(ids[0], true, 9, fabric.EmptyMask, false))

	entries := table.Entries()
	require.Len(t, entries, 3)
	for i, id := range ids {
		require.True(t, entries[i].TreeUuid.ForLookup().Equal(id.ForLookup()))
	}
	require.Equal(t, fabric.PortNo(9), entries[0].Parent)
}

func TestMirrorSnapshotIsACopy(t *testing.T) {
	var m Mirror
	m.Update([]Entry{NewEntry(fabric.NewUuid(), true, 1, fabric.EmptyMask, true)})
	snap := m.Snapshot()
	snap[0].Parent = 99
	again := m.Snapshot()
	require.NotEqual(t, fabric.PortNo(99), again[0].Parent)
}

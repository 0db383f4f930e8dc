package traph

import (
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/stretchr/testify/require"
)

func newTestTraph(t *testing.T) (*Traph, fabric.TreeID) {
	t.Helper()
	cellID, err := fabric.NewCellID("C:1")
	require.NoError(t, err)
	treeID, err := fabric.NewTreeID("Tree:base")
	require.NoError(t, err)
	eqn := gvm.NewEquation("true", "true", "hops < 7", "")
	return New(cellID, fabric.PortQty(4), treeID, eqn), treeID
}

func TestAtMostOneParentElement(t *testing.T) {
	tr, treeID := newTestTraph(t)
	_, err := tr.UpdateElement(treeID.Uuid(), 1, Parent, nil, 1, fabric.NewPath(1))
	require.NoError(t, err)

	parent, err := tr.ParentElement()
	require.NoError(t, err)
	require.Equal(t, fabric.PortNo(1), parent.PortNo)

	// Promoting port 2 to Parent (via SetParent) must demote port 1 to
	// Pruned, leaving exactly one Parent element.
	pt := NewPortTree(treeID.ToPortTreeID(0), 1, 0, 1, tr.stackedTrees[treeID.Uuid().ForLookup()].Entry)
	tr.AddPortTree(pt)
	_, err = tr.UpdateElement(treeID.Uuid(), 2, Child, nil, 2, fabric.NewPath(2))
	require.NoError(t, err)

	_, err = tr.SetParent(2, treeID.ToPortTreeID(0))
	require.NoError(t, err)

	count := 0
	for _, el := range tr.Elements() {
		if el.State() == Parent {
			count++
		}
	}
	require.Equal(t, 1, count, "at most one element may be in state Parent")

	parent, err = tr.ParentElement()
	require.NoError(t, err)
	require.Equal(t, fabric.PortNo(2), parent.PortNo)

	one, err := tr.Element(1)
	require.NoError(t, err)
	require.Equal(t, Pruned, one.State(), "demoted parent becomes Pruned, not Unknown")
}

func TestParentStaysParentUntilExplicitlyChanged(t *testing.T) {
	tr, treeID := newTestTraph(t)
	_, err := tr.UpdateElement(treeID.Uuid(), 1, Parent, nil, 1, fabric.NewPath(1))
	require.NoError(t, err)

	// Updating an unrelated child port must not disturb the parent.
	_, err = tr.UpdateElement(treeID.Uuid(), 3, Child, nil, 2, fabric.NewPath(3))
	require.NoError(t, err)

	parent, err := tr.ParentElement()
	require.NoError(t, err)
	require.Equal(t, fabric.PortNo(1), parent.PortNo)
}

func TestFindNewParentPortPrefersMinHops(t *testing.T) {
	tr, treeID := newTestTraph(t)
	_, err := tr.UpdateElement(treeID.Uuid(), 1, Parent, nil, 1, fabric.NewPath(1))
	require.NoError(t, err)
	_, err = tr.UpdateElement(treeID.Uuid(), 2, Pruned, nil, 3, fabric.NewPath(2))
	require.NoError(t, err)
	_, err = tr.UpdateElement(treeID.Uuid(), 3, Pruned, nil, 2, fabric.NewPath(3))
	require.NoError(t, err)

	broken := fabric.NewPath(1)
	port, ok := tr.FindNewParentPort(treeID.ToPortTreeID(0), broken)
	require.True(t, ok)
	require.Equal(t, fabric.PortNo(3), port, "the min-hops eligible Pruned candidate wins")

	// The returned port is recorded as tried and is not offered again.
	port2, ok := tr.FindNewParentPort(treeID.ToPortTreeID(0), broken)
	require.True(t, ok)
	require.NotEqual(t, port, port2)
}

func TestFindNewParentPortExhaustedReturnsFalse(t *testing.T) {
	tr, treeID := newTestTraph(t)
	broken := fabric.NewPath(1)
	_, ok := tr.FindNewParentPort(treeID.ToPortTreeID(0), broken)
	require.False(t, ok, "no eligible elements at all means no replacement parent")
}

func TestMarkBrokenSetsFlagAndState(t *testing.T) {
	tr, _ := newTestTraph(t)
	require.NoError(t, tr.MarkBroken(2))
	el, err := tr.Element(2)
	require.NoError(t, err)
	require.True(t, el.IsBroken())
	require.Equal(t, Broken, el.State())
}

func TestGetParamsEvaluatesHopsFromParent(t *testing.T) {
	tr, treeID := newTestTraph(t)
	_, err := tr.UpdateElement(treeID.Uuid(), 1, Parent, nil, 5, fabric.NewPath(1))
	require.NoError(t, err)

	vars, err := tr.GetParams([]string{"hops"})
	require.NoError(t, err)
	require.Equal(t, 5, vars["hops"])
}

func TestGetParamsUnknownVariable(t *testing.T) {
	tr, treeID := newTestTraph(t)
	_, err := tr.UpdateElement(treeID.Uuid(), 1, Parent, nil, 0, fabric.NewPath(1))
	require.NoError(t, err)

	_, err = tr.GetParams([]string{"bogus"})
	require.Error(t, err)
}

func TestChangeChildUpdatesEveryStackedTree(t *testing.T) {
	tr, treeID := newTestTraph(t)
	pt := NewPortTree(treeID.ToPortTreeID(0), 1, 0, 1, tr.stackedTrees[treeID.Uuid().ForLookup()].Entry)
	tr.AddPortTree(pt)

	entries, err := tr.ChangeChild(treeID.ToPortTreeID(0), 2, 3)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		require.True(t, e.HasChild(3))
		require.False(t, e.HasChild(2))
	}
}

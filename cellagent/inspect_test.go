package cellagent

import (
	"strings"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/stretchr/testify/require"
)

func TestDumpStateRendersTraphSummaries(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	require.NoError(t, ca.PortUpInterior(1))

	remoteTreeID, err := fabric.NewTreeID("Tree:remote-root")
	require.NoError(t, err)
	pt1 := remoteTreeID.ToPortTreeID(0)
	require.NoError(t, ca.ProcessDiscover(DiscoverMsg{PortTreeID: pt1, Hops: 1, Path: fabric.NewPath(1)}, 1))

	dump := ca.DumpState()
	require.Contains(t, dump, ca.CellID.String())
	require.Contains(t, dump, "app deliveries")
	require.Contains(t, dump, remoteTreeID.String())
	require.Contains(t, dump, "port 1:")
}

func TestDumpStateOnEmptyCellAgentDoesNotPanic(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	var dump string
	require.NotPanics(t, func() { dump = ca.DumpState() })
	require.True(t, strings.Contains(dump, "0 app deliveries"))
}

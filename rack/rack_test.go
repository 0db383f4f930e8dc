package rack

import (
	"testing"
	"time"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packet"
	"github.com/stretchr/testify/require"
)

func eqn() gvm.Equation {
	return gvm.NewEquation("true", "true", "true", "false")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

// TestThreeCellLineDiscoversNeighbors wires A-B-C in a line and checks
// that Hello/Discover propagate across both links, mirroring spec.md
// §9's "port-up replay" scenario at a rack-topology scale.
func TestThreeCellLineDiscoversNeighbors(t *testing.T) {
	r := New()

	a, err := r.AddCell("C:a", fabric.PortQty(4), nil, cellagent.QuenchSimple, eqn())
	require.NoError(t, err)
	b, err := r.AddCell("C:b", fabric.PortQty(4), nil, cellagent.QuenchSimple, eqn())
	require.NoError(t, err)
	c, err := r.AddCell("C:c", fabric.PortQty(4), nil, cellagent.QuenchSimple, eqn())
	require.NoError(t, err)

	require.NoError(t, r.Connect(Edge{CellA: a.ID, PortA: 1, CellB: b.ID, PortB: 1}))
	require.NoError(t, r.Connect(Edge{CellA: b.ID, PortA: 2, CellB: c.ID, PortB: 1}))

	waitFor(t, func() bool {
		_, _, ok := b.CA.Neighbor(1)
		return ok
	})
	waitFor(t, func() bool {
		_, _, ok := c.CA.Neighbor(1)
		return ok
	})

	cellID, portNo, ok := b.CA.Neighbor(1)
	require.True(t, ok)
	require.Equal(t, "C:a", cellID.String())
	require.Equal(t, fabric.PortNo(1), portNo)
}

// TestBreakDetachesOnlyTheSeveredSide exercises the auto_break knob:
// Break detaches the port on one side only, matching a real link
// failure's asymmetric view.
func TestBreakDetachesOnlyTheSeveredSide(t *testing.T) {
	r := New()

	a, err := r.AddCell("C:a", fabric.PortQty(4), nil, cellagent.QuenchSimple, eqn())
	require.NoError(t, err)
	b, err := r.AddCell("C:b", fabric.PortQty(4), nil, cellagent.QuenchSimple, eqn())
	require.NoError(t, err)

	require.NoError(t, r.Connect(Edge{CellA: a.ID, PortA: 1, CellB: b.ID, PortB: 1}))
	waitFor(t, func() bool {
		_, _, ok := b.CA.Neighbor(1)
		return ok
	})

	require.NoError(t, r.Break(a.ID, 1))
	require.Error(t, a.Router.SendPacket(1, packet.Packet{}))
}

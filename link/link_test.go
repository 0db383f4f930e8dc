package link

import (
	"testing"
	"time"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/stretchr/testify/require"
)

type testCell struct {
	router *Router
	pe     *packetengine.PacketEngine
	ca     *cellagent.CellAgent
}

func newTestCell(t *testing.T, name string) *testCell {
	t.Helper()
	cellID, err := fabric.NewCellID(name)
	require.NoError(t, err)
	controlID, err := fabric.NewTreeID("Tree:control")
	require.NoError(t, err)
	connID, err := fabric.NewTreeID("Tree:connected")
	require.NoError(t, err)
	myID, err := fabric.NewTreeID("Tree:" + name)
	require.NoError(t, err)

	router := NewRouter(cellID)
	proxy := &CASinkProxy{}
	pe := packetengine.New(cellID, connID, fabric.PortQty(8), nil, router, proxy)
	ca := cellagent.New(cellID, fabric.PortQty(8), cellagent.QuenchSimple, pe, router)
	require.NoError(t, ca.Initialize(controlID, connID, myID, gvm.NewEquation("true", "true", "true", "false")))
	proxy.CA = ca
	router.Bind(pe, ca)
	return &testCell{router: router, pe: pe, ca: ca}
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

// TestLocalConnFrameRoundTrip exercises the channel-backed transport
// alone: whatever Frame one end sends, the other end receives
// unmodified, mirroring teacher's network/local_test.go connection
// tests.
func TestLocalConnFrameRoundTrip(t *testing.T) {
	lm := NewLocalManager()
	var accepted Conn
	lm.Listen("b", func(c Conn) { accepted = c })

	out, err := lm.Dial("a", "b")
	require.NoError(t, err)

	f, err := ControlFrame(cellagent.MsgHello, cellagent.HelloMsg{PortNo: 3})
	require.NoError(t, err)
	require.NoError(t, out.SendFrame(f))

	waitFor(t, func() bool { return accepted != nil })
	got, err := accepted.ReceiveFrame()
	require.NoError(t, err)
	require.Equal(t, FrameControl, got.Kind)
	var msg cellagent.HelloMsg
	require.NoError(t, got.Decode(&msg))
	require.Equal(t, fabric.PortNo(3), msg.PortNo)
}

// TestRouterDeliversHelloAndDiscoverAcrossLocalConn wires two full
// cells (Router+PacketEngine+CellAgent) over a LocalConn pair and
// confirms that PortUpInterior's Hello/Discover broadcast on cell A
// reaches cell B's CellAgent through the Router's dispatch loop.
func TestRouterDeliversHelloAndDiscoverAcrossLocalConn(t *testing.T) {
	a := newTestCell(t, "C:a")
	b := newTestCell(t, "C:b")

	lm := NewLocalManager()
	lm.Listen("b", func(c Conn) { b.router.Attach(1, c) })

	connA, err := lm.Dial("a", "b")
	require.NoError(t, err)
	a.router.Attach(1, connA)

	require.NoError(t, a.ca.PortUpInterior(1))

	waitFor(t, func() bool {
		_, _, ok := b.ca.Neighbor(1)
		return ok
	})
	cellID, portNo, ok := b.ca.Neighbor(1)
	require.True(t, ok)
	require.Equal(t, fabric.PortNo(1), portNo)
	require.Equal(t, "C:a", cellID.String())
}

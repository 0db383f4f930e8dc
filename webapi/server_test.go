package webapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/stretchr/testify/require"
)

type noopPorts struct{}

func (noopPorts) SendPacket(fabric.PortNo, packet.Packet) error { return nil }
func (noopPorts) SendControl(fabric.PortNo, cellagent.MsgType, interface{}) error { return nil }

type noopCASink struct{}

func (noopCASink) Deliver(fabric.PortNo, packet.Packet) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cellID, err := fabric.NewCellID("C:webapi")
	require.NoError(t, err)
	connID, err := fabric.NewTreeID("Tree:connected")
	require.NoError(t, err)
	myID, err := fabric.NewTreeID("Tree:webapi")
	require.NoError(t, err)
	controlID, err := fabric.NewTreeID("Tree:control")
	require.NoError(t, err)

	pe := packetengine.New(cellID, connID, fabric.PortQty(4), nil, noopPorts{}, noopCASink{})
	ca := cellagent.New(cellID, fabric.PortQty(4), cellagent.QuenchSimple, pe, noopPorts{})
	require.NoError(t, ca.Initialize(controlID, connID, myID, gvm.NewEquation("true", "true", "true", "false")))

	return NewServer(ca, pe)
}

func TestHandleStatusServesJSON(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.NotEmpty(t, st.Field["System"])
}

func TestHandleDumpIncludesTraphSummary(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dump", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "Traphs")
}

func TestSnapshotReflectsInitializedTrees(t *testing.T) {
	s := newTestServer(t)
	snap := s.snapshot()
	require.Len(t, snap.Traphs, 3) // control, connected, my tree
	require.Equal(t, 0, snap.AppDeliveries)
}

package trace

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/cellagent"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/stretchr/testify/require"
)

type noopPorts struct{}

func (noopPorts) SendPacket(fabric.PortNo, packet.Packet) error { return nil }
func (noopPorts) SendControl(fabric.PortNo, cellagent.MsgType, interface{}) error { return nil }

type noopCASink struct{}

func (noopCASink) Deliver(fabric.PortNo, packet.Packet) error { return nil }

func TestSinkWriteThenReplayFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	sink, err := NewSink(path, 0)
	require.NoError(t, err)

	cellID, err := fabric.NewCellID("C:replay")
	require.NoError(t, err)
	rec, err := NewRecordBody(sink.Header(TypeHello, "hello from %s", 2), helloBody{
		Msg:      cellagent.HelloMsg{CellID: cellID, PortNo: 4},
		RecvPort: 4,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Write(rec))
	require.NoError(t, sink.Close())

	sc, closeFn, err := NewReplayFile(path)
	require.NoError(t, err)
	defer closeFn()
	require.True(t, sc.Scan())

	var got Record
	require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
	require.Equal(t, TypeHello, got.Header.TraceType)
	require.Equal(t, "hello from %s", got.Header.Format)

	var body helloBody
	require.NoError(t, json.Unmarshal(got.Body, &body))
	require.Equal(t, fabric.PortNo(4), body.Msg.PortNo)
}

func TestReplayAppliesHelloThroughCellAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	sink, err := NewSink(path, 0)
	require.NoError(t, err)

	senderCellID, err := fabric.NewCellID("C:sender")
	require.NoError(t, err)
	rec, err := NewRecordBody(sink.Header(TypeHello, "", 2), helloBody{
		Msg:      cellagent.HelloMsg{CellID: senderCellID, PortNo: 2},
		RecvPort: 2,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Write(rec))
	require.NoError(t, sink.Close())

	pe := packetengine.New(fabric.CellID{}, fabric.TreeID{}, fabric.PortQty(4), nil, noopPorts{}, noopCASink{})
	ca := cellagent.New(fabric.CellID{}, fabric.PortQty(4), cellagent.QuenchSimple, pe, noopPorts{})

	sc, closeFn, err := NewReplayFile(path)
	require.NoError(t, err)
	defer closeFn()

	replay := &Replay{CA: ca, PE: pe}
	require.NoError(t, replay.Run(sc))
	require.NoError(t, closeFn())

	gotCellID, gotPort, ok := ca.Neighbor(2)
	require.True(t, ok)
	require.Equal(t, fabric.PortNo(2), gotPort)
	require.Equal(t, "C:sender", gotCellID.String())
}

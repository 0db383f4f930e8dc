package packet

import (
	"math/rand"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/stretchr/testify/require"
)

func TestPacketizeUnpacketizeRoundTrip(t *testing.T) {
	treeUuid := fabric.NewUuid()
	body := make([]byte, 5*PayloadMax+17)
	rand.New(rand.NewSource(1)).Read(body)

	packets := PacketizeBytes(treeUuid, body, 42)

	wantCount := (len(body) + PayloadMax - 1) / PayloadMax
	require.Len(t, packets, wantCount)

	lastCount := 0
	for i, p := range packets {
		if p.IsLast {
			lastCount++
			require.Equal(t, i, len(packets)-1, "is_last must be the final packet")
		}
	}
	require.Equal(t, 1, lastCount, "is_last must be set exactly once")

	got, err := Unpacketize(packets)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestAssemblerReassemblesOutOfBandByMsgID(t *testing.T) {
	a := NewAssembler()
	treeUuid := fabric.NewUuid()
	body := []byte("hello cell fabric, this spans more than one packet boundary maybe")
	packets := PacketizeBytes(treeUuid, body, 1)

	var got []byte
	var complete bool
	for _, p := range packets {
		got, complete = a.Add(p)
	}
	require.True(t, complete)
	require.Equal(t, body, got)
}

func TestForLookupStableAcrossAitTransitions(t *testing.T) {
	u := fabric.NewUuid()
	p := New(NewUniqueMsgId(), u, 0, true, 0, nil)
	p.MakeAitSend()
	before := p.TreeUuid().ForLookup()
	p.NextAitState()
	after := p.TreeUuid().ForLookup()
	require.True(t, before.Equal(after))
}

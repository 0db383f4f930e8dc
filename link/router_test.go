package link

import (
	"testing"

	"github.com/cellfabric/fabric/packet"
	"github.com/stretchr/testify/require"
)

// TestSafeDispatchRecoversPanicAndKeepsRouterAlive confirms that a
// dispatch panic is converted to an error (and a DumpState log line)
// rather than crashing the handleConn goroutine, per spec.md §7's
// log-and-continue propagation policy.
func TestSafeDispatchRecoversPanicAndKeepsRouterAlive(t *testing.T) {
	cell := newTestCell(t, "C:panic")
	cell.router.pe = nil // forces a nil-pointer panic inside dispatch

	err := cell.router.safeDispatch(1, PacketFrame(packet.Packet{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "dispatch panic")

	// The router must still be usable afterwards - safeDispatch must not
	// have left any lock held or goroutine state corrupted.
	cell.router.pe = cell.pe
	err = cell.router.safeDispatch(2, PacketFrame(packet.Packet{}))
	require.NoError(t, err)
}

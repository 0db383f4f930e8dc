package cellagent

import (
	"sync"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/cellfabric/fabric/packet"
	"github.com/cellfabric/fabric/packetengine"
	"github.com/cellfabric/fabric/routingtable"
	"github.com/cellfabric/fabric/traph"
	"github.com/stretchr/testify/require"
)

type fakePE struct {
	mu      sync.Mutex
	entries []routingtable.Entry
	reroutes []struct {
		broken, newParent fabric.PortNo
		herSeen           int
	}
	routed []packet.Packet
}

func (f *fakePE) SetEntry(e routingtable.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}
func (f *fakePE) DeleteEntry(uuid fabric.Uuid) {}
func (f *fakePE) SendNextOrEntl(port fabric.PortNo) error { return nil }
func (f *fakePE) Reroute(brokenPort, newParent fabric.PortNo, herSeen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reroutes = append(f.reroutes, struct {
		broken, newParent fabric.PortNo
		herSeen           int
	}{brokenPort, newParent, herSeen})
}
func (f *fakePE) NumberOfPacketsSeen(port fabric.PortNo) packetengine.NumberOfPackets {
	return packetengine.NumberOfPackets{}
}
func (f *fakePE) RouteFromCellAgent(userMask fabric.Mask, p packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, p)
	return nil
}

type sentControl struct {
	port    fabric.PortNo
	msgType MsgType
	msg     interface{}
}

type fakeNeighbors struct {
	mu   sync.Mutex
	sent []sentControl
}

func (f *fakeNeighbors) SendControl(port fabric.PortNo, msgType MsgType, msg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentControl{port, msgType, msg})
	return nil
}

func (f *fakeNeighbors) of(msgType MsgType) []sentControl {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentControl
	for _, s := range f.sent {
		if s.msgType == msgType {
			out = append(out, s)
		}
	}
	return out
}

func newTestCellAgent(t *testing.T) (*CellAgent, *fakePE, *fakeNeighbors) {
	t.Helper()
	cellID, err := fabric.NewCellID("C:1")
	require.NoError(t, err)
	controlID, err := fabric.NewTreeID("Tree:control")
	require.NoError(t, err)
	connID, err := fabric.NewTreeID("Tree:connected")
	require.NoError(t, err)
	myID, err := fabric.NewTreeID("Tree:my")
	require.NoError(t, err)

	pe := &fakePE{}
	nbrs := &fakeNeighbors{}
	ca := New(cellID, fabric.PortQty(8), QuenchSimple, pe, nbrs)
	require.NoError(t, ca.Initialize(controlID, connID, myID, gvm.NewEquation("true", "true", "true", "false")))
	return ca, pe, nbrs
}

func TestInitializeCreatesThreeTreesParentedOnSelf(t *testing.T) {
	ca, pe, _ := newTestCellAgent(t)
	require.Len(t, pe.entries, 3)
	for _, e := range pe.entries {
		require.Equal(t, fabric.PortNo(0), e.Parent)
		require.True(t, e.InUse)
	}
	require.False(t, ca.ControlTreeID.Uuid().IsNil())
}

func TestPortUpInteriorSendsHelloAndDiscoverAndReplaysSaved(t *testing.T) {
	ca, _, nbrs := newTestCellAgent(t)

	senderOther, err := fabric.NewSenderID("other")
	require.NoError(t, err)
	otherTreeID, err := fabric.NewTreeID("Tree:other-root")
	require.NoError(t, err)
	saved := DiscoverMsg{SenderID: senderOther, PortTreeID: otherTreeID.ToPortTreeID(0), Hops: 1, Path: fabric.NewPath(9)}
	ca.savedDiscover = append(ca.savedDiscover, saved)

	require.NoError(t, ca.PortUpInterior(1))

	require.Len(t, nbrs.of(MsgHello), 1)
	discovers := nbrs.of(MsgDiscover)
	require.Len(t, discovers, 2, "own Discover plus the one replayed saved Discover")
}

func TestProcessDiscoverFirstSightingRespondsParentAndInstallsTraph(t *testing.T) {
	ca, pe, nbrs := newTestCellAgent(t)
	require.NoError(t, ca.PortUpInterior(1))
	nbrs.sent = nil
	pe.entries = nil

	remoteTreeID, err := fabric.NewTreeID("Tree:remote-root")
	require.NoError(t, err)
	msg := DiscoverMsg{PortTreeID: remoteTreeID.ToPortTreeID(0), Hops: 1, Path: fabric.NewPath(2)}

	require.NoError(t, ca.ProcessDiscover(msg, 2))

	dresponses := nbrs.of(MsgDiscoverD)
	require.Len(t, dresponses, 1)
	require.Equal(t, DiscoverParent, dresponses[0].msg.(DiscoverDMsg).Kind)
	require.NotEmpty(t, pe.entries, "a traph element update must push a routing entry")
}

func TestProcessDiscoverSecondSightingRespondsNonParentAndQuenches(t *testing.T) {
	ca, _, nbrs := newTestCellAgent(t)
	require.NoError(t, ca.PortUpInterior(1))
	require.NoError(t, ca.PortUpInterior(2))

	remoteTreeID, err := fabric.NewTreeID("Tree:remote-root")
	require.NoError(t, err)
	msg := DiscoverMsg{PortTreeID: remoteTreeID.ToPortTreeID(0), Hops: 1, Path: fabric.NewPath(2)}
	require.NoError(t, ca.ProcessDiscover(msg, 2))

	nbrs.sent = nil
	require.NoError(t, ca.ProcessDiscover(msg, 1))

	dresponses := nbrs.of(MsgDiscoverD)
	require.Len(t, dresponses, 1)
	require.Equal(t, DiscoverNonParent, dresponses[0].msg.(DiscoverDMsg).Kind)
	require.Empty(t, nbrs.of(MsgDiscover), "QuenchSimple suppresses rebroadcast on an already-seen tree")
}

func TestProcessDiscoverDParentInstallsChildAndReplaysStackTree(t *testing.T) {
	ca, _, nbrs := newTestCellAgent(t)
	require.NoError(t, ca.PortUpInterior(1))

	remoteTreeID, err := fabric.NewTreeID("Tree:remote-root")
	require.NoError(t, err)
	portTreeID := remoteTreeID.ToPortTreeID(0)

	// First sighting installs the traph and the base-tree lookup entries
	// DiscoverD needs below.
	require.NoError(t, ca.ProcessDiscover(DiscoverMsg{PortTreeID: portTreeID, Hops: 1, Path: fabric.NewPath(1)}, 1))

	savedMsg := StackTreeMsg{Name: remoteTreeID, NewPortTreeID: portTreeID, ParentPortTreeID: portTreeID, GvmEqn: gvm.NewEquation("", "", "", "")}
	ca.mu.Lock()
	key := remoteTreeID.Uuid().ForLookup()
	ca.savedStack[key] = append(ca.savedStack[key], savedMsg)
	ca.mu.Unlock()

	require.NoError(t, ca.ProcessDiscoverD(DiscoverDMsg{PortTreeID: portTreeID, Kind: DiscoverParent}, 1))

	require.Len(t, nbrs.of(MsgStackTree), 1)
}

func TestProcessStackTreeRefusesDuplicate(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)

	baseID := ca.MyTreeID
	parentPortTreeID := baseID.ToPortTreeID(0)
	newPortTreeID := baseID.ToPortTreeID(3)

	eqn := gvm.NewEquation("true", "true", "true", "false")
	msg := StackTreeMsg{Name: baseID, NewPortTreeID: newPortTreeID, ParentPortTreeID: parentPortTreeID, GvmEqn: eqn}

	require.NoError(t, ca.ProcessStackTree(msg, 3, false))
	err := ca.ProcessStackTree(msg, 3, false)
	require.Error(t, err)
}

func TestProcessStackTreeClearsChildrenWhenXtndFalse(t *testing.T) {
	ca, pe, _ := newTestCellAgent(t)
	pe.entries = nil

	baseID := ca.MyTreeID
	parentPortTreeID := baseID.ToPortTreeID(0)
	newPortTreeID := baseID.ToPortTreeID(3)

	eqn := gvm.NewEquation("true", "true", "false", "false")
	msg := StackTreeMsg{Name: baseID, NewPortTreeID: newPortTreeID, ParentPortTreeID: parentPortTreeID, GvmEqn: eqn}
	require.NoError(t, ca.ProcessStackTree(msg, 3, false))

	require.NotEmpty(t, pe.entries)
	last := pe.entries[len(pe.entries)-1]
	require.Equal(t, fabric.Port0Mask, last.Mask, "Xtnd=false clears children; Recv=true leaves only the port0 bit")
}

func TestPortDownMarksBrokenAndSearchesReplacementParent(t *testing.T) {
	ca, _, nbrs := newTestCellAgent(t)
	require.NoError(t, ca.PortUpInterior(1))
	require.NoError(t, ca.PortUpInterior(2))

	remoteTreeID, err := fabric.NewTreeID("Tree:remote-root")
	require.NoError(t, err)
	pt1 := remoteTreeID.ToPortTreeID(0)
	require.NoError(t, ca.ProcessDiscover(DiscoverMsg{PortTreeID: pt1, Hops: 1, Path: fabric.NewPath(1)}, 1))

	ca.mu.Lock()
	tr := ca.traphs[remoteTreeID.Uuid().ForLookup()]
	_, err = tr.UpdateElement(remoteTreeID.Uuid(), 2, traph.Pruned, nil, 2, fabric.NewPath(2))
	ca.mu.Unlock()
	require.NoError(t, err)

	nbrs.sent = nil
	require.NoError(t, ca.PortDown(1))

	require.Len(t, nbrs.of(MsgFailover), 1, "the one-hop rescuer announces a Failover out the replacement port")
}

package cellagent

import (
	"fmt"
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/cellfabric/fabric/gvm"
	"github.com/stretchr/testify/require"
)

func TestProcessAppMsgInterapplicationRoutesThroughPacketEngine(t *testing.T) {
	ca, pe, _ := newTestCellAgent(t)

	err := ca.ProcessAppMsg(5, ca.MyTreeID.Uuid(), AppMsgInterapplication, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, pe.routed, 1)
	require.Equal(t, ca.MyTreeID.Uuid().ForLookup(), pe.routed[0].Header.TreeUuid.ForLookup())
}

func TestProcessAppMsgInterapplicationRefusesWhenMayNotSend(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)

	baseID := ca.MyTreeID
	parentPortTreeID := baseID.ToPortTreeID(0)
	newPortTreeID := baseID.ToPortTreeID(3)
	eqn := gvm.NewEquation("true", "false", "true", "false") // Send=false
	msg := StackTreeMsg{Name: baseID, NewPortTreeID: newPortTreeID, ParentPortTreeID: parentPortTreeID, GvmEqn: eqn}
	require.NoError(t, ca.ProcessStackTree(msg, 3, false))

	err := ca.ProcessAppMsg(3, newPortTreeID.Uuid(), AppMsgInterapplication, []byte("hello"))
	require.Error(t, err)
}

func TestProcessAppMsgStackTreeResolvesParentByNameAndStacks(t *testing.T) {
	ca, _, nbrs := newTestCellAgent(t)

	sender, err := fabric.NewSenderID("noc-1")
	require.NoError(t, err)
	ca.ProcessAppTreeName(AppTreeNameMsg{SenderID: sender, Name: ca.MyTreeID, SenderMsgSeqNo: 1}, 7)

	body := []byte(fmt.Sprintf(`{"sender_id":%q,"parent_tree_name":%q,"new_tree_name":"Tree:stacked","gvm_eqn":{"Recv":"true","Send":"true","Xtnd":"true","Save":"false"}}`,
		sender.String(), ca.MyTreeID.String()))

	err = ca.ProcessAppMsg(7, fabric.Uuid{}, AppMsgStackTree, body)
	require.NoError(t, err)
	require.Len(t, nbrs.of(MsgStackTreeD), 1)

	newTreeID, err := fabric.NewTreeID("Tree:stacked")
	require.NoError(t, err)
	ca.mu.Lock()
	tr := ca.traphs[ca.MyTreeID.Uuid().ForLookup()]
	ca.mu.Unlock()
	require.True(t, tr.HasTree(newTreeID.ToPortTreeID(0).Uuid()))
}

func TestProcessAppMsgStackTreeUnknownParentNameErrors(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	sender, err := fabric.NewSenderID("noc-1")
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"sender_id":%q,"parent_tree_name":"no-such-tree","new_tree_name":"Tree:stacked","gvm_eqn":{}}`, sender.String()))
	err = ca.ProcessAppMsg(7, fabric.Uuid{}, AppMsgStackTree, body)
	require.Error(t, err)
}

func TestProcessAppMsgTreeNameRejectedInbound(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	err := ca.ProcessAppMsg(3, ca.MyTreeID.Uuid(), AppMsgTreeName, nil)
	require.Error(t, err)
}

func TestProcessAppMsgDeleteTreeManifestQueryUnimplemented(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	for _, msgType := range []AppMsgType{AppMsgDeleteTree, AppMsgManifest, AppMsgQuery} {
		err := ca.ProcessAppMsg(3, ca.MyTreeID.Uuid(), msgType, nil)
		require.Error(t, err, "app msg type %s", msgType)
	}
}

func TestProcessAppMsgUnknownTypeErrors(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	err := ca.ProcessAppMsg(3, ca.MyTreeID.Uuid(), AppMsgType("Bogus"), nil)
	require.Error(t, err)
}

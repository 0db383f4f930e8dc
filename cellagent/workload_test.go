package cellagent

import (
	"testing"

	"github.com/cellfabric/fabric"
	"github.com/stretchr/testify/require"
)

func TestTenantMaskRoundTrips(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	require.Equal(t, uint16(0), ca.TenantMask())
	ca.SetTenantMask(0x3)
	require.Equal(t, uint16(0x3), ca.TenantMask())
}

func TestAllocateVmRefusesDuplicate(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	vmID, err := fabric.NewVmID("vm-1")
	require.NoError(t, err)

	require.NoError(t, ca.AllocateVm(vmID))
	err = ca.AllocateVm(vmID)
	require.Error(t, err)

	ca.ReleaseVm(vmID)
	require.NoError(t, ca.AllocateVm(vmID), "released vm id may be reallocated")
}

func TestAllocateContainerRefusesDuplicate(t *testing.T) {
	ca, _, _ := newTestCellAgent(t)
	cID, err := fabric.NewContainerID("ctr-1")
	require.NoError(t, err)

	require.NoError(t, ca.AllocateContainer(cID))
	err = ca.AllocateContainer(cID)
	require.Error(t, err)

	ca.ReleaseContainer(cID)
	require.NoError(t, ca.AllocateContainer(cID), "released container id may be reallocated")
}

package cellagent

import (
	"github.com/cellfabric/fabric"
	"golang.org/x/xerrors"
)

// TenantMask returns the tenant bit mask recorded against this cell
// (original_source tenant.rs), for display/bookkeeping only - spec.md's
// "no tenancy enforcement beyond a tenant bit mask" Non-goal excludes
// enforcement, not the mask's presence, so nothing here ever checks it
// against a packet or tree.
func (ca *CellAgent) TenantMask() uint16 {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.tenantMask
}

// SetTenantMask records the tenant bit mask this cell was allocated
// under.
func (ca *CellAgent) SetTenantMask(mask uint16) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.tenantMask = mask
}

// AllocateVm records id as a VM hosted on this cell (original_source
// vm.rs's VirtualMachine, reduced to tracked membership - no process
// spawning, no container scheduling, per spec.md's "no VM hypervisor,
// no container runtime" Non-goals).
func (ca *CellAgent) AllocateVm(id fabric.VmID) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.vms[id] {
		return xerrors.Errorf("cell %s: vm %s: %w", ca.CellID, id, fabric.ErrAlreadyAllocated)
	}
	ca.vms[id] = true
	return nil
}

// ReleaseVm removes id from this cell's tracked VMs.
func (ca *CellAgent) ReleaseVm(id fabric.VmID) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	delete(ca.vms, id)
}

// AllocateContainer records id as a container hosted on this cell
// (original_source ecargs.rs/vm.rs's container bookkeeping), again
// tracked membership only.
func (ca *CellAgent) AllocateContainer(id fabric.ContainerID) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if ca.containers[id] {
		return xerrors.Errorf("cell %s: container %s: %w", ca.CellID, id, fabric.ErrAlreadyAllocated)
	}
	ca.containers[id] = true
	return nil
}

// ReleaseContainer removes id from this cell's tracked containers.
func (ca *CellAgent) ReleaseContainer(id fabric.ContainerID) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	delete(ca.containers, id)
}

package webapi

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"rsc.io/goversion/version"
)

// Status is the process-wide health report spec.md §4.11 serves,
// grounded on teacher's server.go GetStatus/Status.Field (a flat
// string map) and its rsc.io/goversion.ReadExe build-info lookup.
type Status struct {
	Field map[string]string
}

var (
	goverOnce sync.Once
	gover     version.Version
	goverOk   bool
)

// BuildStatus fills in the runtime/OS/Go-version fields every status
// report carries, the same way teacher's Server.GetStatus always sets
// "System"/"Version" before adding service-specific fields.
func BuildStatus() *Status {
	st := &Status{Field: map[string]string{
		"System":       fmt.Sprintf("%s/%s/%s", runtime.GOOS, runtime.GOARCH, runtime.Version()),
		"NumCPU":       fmt.Sprintf("%d", runtime.NumCPU()),
		"NumGoroutine": fmt.Sprintf("%d", runtime.NumGoroutine()),
	}}

	if vm, err := mem.VirtualMemory(); err == nil {
		st.Field["MemTotal"] = fmt.Sprintf("%d", vm.Total)
		st.Field["MemUsedPercent"] = fmt.Sprintf("%.1f", vm.UsedPercent)
	}
	if counts, err := cpu.Counts(true); err == nil {
		st.Field["CPULogicalCores"] = fmt.Sprintf("%d", counts)
	}

	goverOnce.Do(func() {
		v, err := version.ReadExe(os.Args[0])
		if err == nil {
			gover = v
			goverOk = true
		}
	})
	if goverOk {
		st.Field["GoRelease"] = gover.Release
		st.Field["GoModuleInfo"] = gover.ModuleInfo
	}

	return st
}

// Package sysinfo samples host and process memory for the status endpoint.
package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"speechd/pkg/types"
)

const mb = 1024 * 1024

// Memory returns a snapshot of host memory and the RSS of the current process.
// A failure to read the process RSS is not fatal; the field is left zero.
func Memory() (*types.MemoryStatus, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	st := &types.MemoryStatus{
		TotalMB:     vm.Total / mb,
		UsedMB:      vm.Used / mb,
		UsedPercent: vm.UsedPercent,
	}
	if rss, err := ProcessRSS(os.Getpid()); err == nil {
		st.ProcessRSSMB = rss / mb
	}
	return st, nil
}

// ProcessRSS returns the resident set size of pid in bytes.
func ProcessRSS(pid int) (uint64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}

package inspect

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is the resident footprint of the serving process.
type ResourceUsage struct {
	RSS        uint64  `json:"rss"`
	VMS        uint64  `json:"vms"`
	CPUPercent float64 `json:"cpu_percent"`
}

// ProcessUsage samples memory and CPU for the current process.
func ProcessUsage() (ResourceUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ResourceUsage{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ResourceUsage{}, err
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return ResourceUsage{}, err
	}
	return ResourceUsage{RSS: mem.RSS, VMS: mem.VMS, CPUPercent: cpu}, nil
}

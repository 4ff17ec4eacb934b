package host

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/manifold/pkg/models"
)

// GatherFacts detects the hardware this host runs on. Detection is best
// effort: a probe that fails leaves its field zeroed rather than failing
// registration.
func GatherFacts() models.HostFacts {
	facts := models.HostFacts{}

	if hostname, err := os.Hostname(); err == nil {
		facts.Hostname = hostname
	}

	if threads, err := cpu.Counts(true); err == nil {
		facts.CPUThreads = threads
	}

	if info, err := cpu.Info(); err == nil && len(info) > 0 {
		facts.CPUModel = info[0].ModelName
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		facts.RAMTotalBytes = vmem.Total
	}

	return facts
}

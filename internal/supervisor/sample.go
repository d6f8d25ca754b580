package supervisor

import (
	"github.com/prometheus/procfs"
)

const bytesPerMB = 1024 * 1024

// sampleUsage reads resident memory and average CPU usage for pid from
// procfs. Probe failures of any kind degrade to zero-valued metrics rather
// than erroring: status reads must never fail because of a sampling hiccup,
// and non-Linux hosts simply report zeros.
func sampleUsage(pid int, uptime float64) (memMB, cpuPercent float64) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return 0, 0
	}

	stat, err := proc.Stat()
	if err != nil {
		return 0, 0
	}

	memMB = float64(stat.ResidentMemory()) / bytesPerMB

	if uptime > 0 {
		cpuPercent = stat.CPUTime() / uptime * 100
	}

	return memMB, cpuPercent
}

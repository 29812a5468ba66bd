//go:build linux

package affinity

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// probeTopology reads the host's CPU/core/NUMA/socket layout from
// sysfs, following the same /sys/devices/system/cpu/cpuN/topology
// files the original engine's JCpuInfo reads, restricted to the CPUs
// this process is allowed to run on per sched_getaffinity.
func probeTopology() (topology, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return topology{}, err
	}

	var cpus []cpuInfo
	for cpu := 0; cpu < runtime.NumCPU()*4 && cpu < len(set)*8*8; cpu++ {
		if !set.IsSet(cpu) {
			continue
		}
		base := filepath.Join("/sys/devices/system/cpu", "cpu"+strconv.Itoa(cpu), "topology")
		coreID := readIntFile(filepath.Join(base, "core_id"), cpu)
		pkgID := readIntFile(filepath.Join(base, "physical_package_id"), 0)
		numaID := numaNodeFor(cpu)

		cpus = append(cpus, cpuInfo{
			cpuID:        cpu,
			coreID:       coreID,
			numaDomainID: numaID,
			socketID:     pkgID,
		})
	}

	if len(cpus) == 0 {
		return topology{}, errNoCPUs
	}
	return topology{cpus: cpus}, nil
}

func readIntFile(path string, fallback int) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fallback
	}
	return n
}

func numaNodeFor(cpu int) int {
	nodesDir := "/sys/devices/system/node"
	entries, err := os.ReadDir(nodesDir)
	if err != nil {
		return 0
	}
	for _, ent := range entries {
		if !strings.HasPrefix(ent.Name(), "node") {
			continue
		}
		cpuPath := filepath.Join(nodesDir, ent.Name(), "cpu"+strconv.Itoa(cpu))
		if _, err := os.Stat(cpuPath); err == nil {
			n, err := strconv.Atoi(strings.TrimPrefix(ent.Name(), "node"))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

var errNoCPUs = errAffinity("no CPUs found in process affinity mask")

type errAffinity string

func (e errAffinity) Error() string { return string(e) }

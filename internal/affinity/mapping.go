// Package affinity computes the worker-to-hardware-location mapping
// used for NUMA/CPU-aware scheduling, grounded on
// src/libraries/JANA/Utils/JProcessorMapping.h.
//
// A ProcessorMapping assigns each worker ID a Row describing which
// CPU, core, NUMA domain, and socket it should prefer, according to
// the configured AffinityStrategy (whether to care about CPU/memory
// locality at all) and LocalityStrategy (how coarse- or fine-grained
// the resulting "location" used for mailbox/pool sharding should be).
package affinity

import (
	"github.com/oriys/jana2go/internal/config"
	"github.com/oriys/jana2go/internal/logging"
)

// Row describes one worker's hardware placement.
type Row struct {
	LocationID int
	CPUID      int
	CoreID     int
	NumaDomainID int
	SocketID   int
}

// ProcessorMapping resolves worker IDs to Rows according to the
// configured strategies.
type ProcessorMapping struct {
	affinity config.AffinityStrategy
	locality config.LocalityStrategy
	rows     []Row
	nlocations int
}

// Initialize builds the mapping table for nworkers workers. It probes
// the host topology via the platform-specific probeTopology (Linux:
// sysfs + sched_getaffinity; other platforms: a flat fallback), and
// falls back to LocalityGlobal with a single warning if the probe
// fails for any reason.
func Initialize(affinityStrategy config.AffinityStrategy, localityStrategy config.LocalityStrategy, nworkers int) *ProcessorMapping {
	topo, err := probeTopology()
	if err != nil {
		logging.Op().Warn("host topology probe failed; falling back to global locality", "error", err)
	}
	if err != nil || affinityStrategy == config.AffinityNone {
		localityStrategy = config.LocalityGlobal
		topo = flatTopology(nworkers)
	}

	pm := &ProcessorMapping{affinity: affinityStrategy, locality: localityStrategy}
	pm.rows = make([]Row, nworkers)

	for w := 0; w < nworkers; w++ {
		cpu := topo.cpus[w%len(topo.cpus)]
		pm.rows[w] = Row{
			CPUID:        cpu.cpuID,
			CoreID:       cpu.coreID,
			NumaDomainID: cpu.numaDomainID,
			SocketID:     cpu.socketID,
		}
	}

	locIDs := make(map[int]int)
	for w := range pm.rows {
		key := pm.localityKeyFor(&pm.rows[w])
		id, ok := locIDs[key]
		if !ok {
			id = len(locIDs)
			locIDs[key] = id
		}
		pm.rows[w].LocationID = id
	}
	pm.nlocations = len(locIDs)
	if pm.nlocations == 0 {
		pm.nlocations = 1
	}
	return pm
}

func (pm *ProcessorMapping) localityKeyFor(r *Row) int {
	switch pm.locality {
	case config.LocalityCpuLocal:
		return r.CPUID
	case config.LocalityCoreLocal:
		return r.CoreID
	case config.LocalityNumaDomainLocal:
		return r.NumaDomainID
	case config.LocalitySocketLocal:
		return r.SocketID
	default: // LocalityGlobal
		return 0
	}
}

// GetCPUID returns the CPU ID assigned to workerID.
func (pm *ProcessorMapping) GetCPUID(workerID int) int {
	return pm.rows[workerID%len(pm.rows)].CPUID
}

// GetLocID returns the location ID (mailbox/pool shard) assigned to
// workerID, determined by the configured LocalityStrategy.
func (pm *ProcessorMapping) GetLocID(workerID int) int {
	return pm.rows[workerID%len(pm.rows)].LocationID
}

// NLocations returns the number of distinct locations this mapping
// produced, used to size mailboxes and pools.
func (pm *ProcessorMapping) NLocations() int { return pm.nlocations }

// Row returns the full placement row for workerID.
func (pm *ProcessorMapping) Row(workerID int) Row {
	return pm.rows[workerID%len(pm.rows)]
}

type cpuInfo struct {
	cpuID, coreID, numaDomainID, socketID int
}

type topology struct {
	cpus []cpuInfo
}

func flatTopology(n int) topology {
	if n < 1 {
		n = 1
	}
	t := topology{cpus: make([]cpuInfo, n)}
	for i := range t.cpus {
		t.cpus[i] = cpuInfo{cpuID: i}
	}
	return t
}

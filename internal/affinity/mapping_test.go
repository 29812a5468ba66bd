package affinity

import (
	"testing"

	"github.com/oriys/jana2go/internal/config"
)

func TestInitializeWithAffinityNoneCollapsesToSingleLocation(t *testing.T) {
	pm := Initialize(config.AffinityNone, config.LocalityCpuLocal, 4)
	if pm.NLocations() != 1 {
		t.Fatalf("expected AffinityNone to collapse to 1 location regardless of LocalityStrategy, got %d", pm.NLocations())
	}
	for w := 0; w < 4; w++ {
		if got := pm.GetLocID(w); got != 0 {
			t.Fatalf("expected worker %d to map to location 0, got %d", w, got)
		}
	}
}

func TestInitializeAssignsEveryWorkerARow(t *testing.T) {
	pm := Initialize(config.AffinityComputeBound, config.LocalityGlobal, 3)
	for w := 0; w < 3; w++ {
		row := pm.Row(w)
		if row.LocationID < 0 {
			t.Fatalf("expected a non-negative LocationID for worker %d, got %d", w, row.LocationID)
		}
	}
}

func TestGetLocIDWrapsAroundWorkerCount(t *testing.T) {
	pm := Initialize(config.AffinityNone, config.LocalityGlobal, 2)
	if pm.GetLocID(0) != pm.GetLocID(2) {
		t.Fatal("expected worker IDs beyond the configured count to wrap around")
	}
}

func TestLocalityGlobalProducesExactlyOneLocation(t *testing.T) {
	pm := Initialize(config.AffinityMemoryBound, config.LocalityGlobal, 8)
	if pm.NLocations() != 1 {
		t.Fatalf("expected LocalityGlobal to always produce exactly 1 location, got %d", pm.NLocations())
	}
}

func TestFlatTopologyNeverEmpty(t *testing.T) {
	topo := flatTopology(0)
	if len(topo.cpus) != 1 {
		t.Fatalf("expected flatTopology to clamp to at least 1 cpu, got %d", len(topo.cpus))
	}
}

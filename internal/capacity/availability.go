package capacity

import (
	"github.com/hostforge/fleetd/internal/fault"
	"github.com/hostforge/fleetd/internal/models"
	"github.com/hostforge/fleetd/internal/storage"
)

// availableOn computes per-dimension spare capacity:
//
//	available = total − Σ(Active holds) − Σ(Claimed allocations)
//
// Claimed reservations stay in the sum until ReleaseAllocation frees them,
// so converting a hold into a workload never silently overcommits the node.
func availableOn(tx storage.Tx, n *models.Node) (models.Resources, error) {
	resvs, err := tx.ReservationsForNode(n.ID)
	if err != nil {
		return models.Resources{}, err
	}
	var held models.Resources
	for _, r := range resvs {
		switch r.State {
		case models.ReservationActive, models.ReservationClaimed:
			held = held.Add(r.Requested)
		}
	}
	return n.Capacity.Sub(held), nil
}

// admit checks the request against spare capacity one dimension at a time.
// Each dimension has its own reason code so operators can tell which
// resource ran out.
func admit(requested, available models.Resources) error {
	if requested.CPUMillicores > available.CPUMillicores {
		return fault.Exhausted(fault.CodeInsufficientCPU,
			"requested %d millicores, %d available", requested.CPUMillicores, available.CPUMillicores)
	}
	if requested.MemoryMB > available.MemoryMB {
		return fault.Exhausted(fault.CodeInsufficientMemory,
			"requested %d MB memory, %d available", requested.MemoryMB, available.MemoryMB)
	}
	if requested.DiskMB > available.DiskMB {
		return fault.Exhausted(fault.CodeInsufficientDisk,
			"requested %d MB disk, %d available", requested.DiskMB, available.DiskMB)
	}
	return nil
}

package ledger

import (
	"strings"
	"sync"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/metrics"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/types"
)

// PlacementsPrefix is the factory path placements are addressable under
const PlacementsPrefix = "/placements/"

// Ledger maintains per-resource-pool allocation counters, broken down per
// resource description. Reserve and release for the same pool serialize
// through a per-entry lock; entries for different pools are independent.
type Ledger struct {
	store storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given document store
func NewLedger(store storage.Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// PlacementLink derives the placement self-link for a resource pool
func PlacementLink(poolLink string) string {
	id := strings.ReplaceAll(strings.Trim(poolLink, "/"), "/", "-")
	return PlacementsPrefix + id
}

// entryLock returns the mutex guarding the placement for poolLink
func (l *Ledger) entryLock(placementLink string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[placementLink]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[placementLink] = lock
	}
	return lock
}

func validate(poolLink, descriptionLink string, count int64) error {
	if poolLink == "" {
		return errdefs.NewValidation("resourcePoolLink is required")
	}
	if descriptionLink == "" {
		return errdefs.NewValidation("resourceDescriptionLink is required")
	}
	if count <= 0 {
		return errdefs.NewValidation("resourceCount must be positive, got %d", count)
	}
	return nil
}

// Reserve atomically increments the allocation counter for
// (poolLink, descriptionLink) by count. The entry is created with a zero
// count first if absent. Fails with ValidationError when the placement
// carries a MaxInstances quota that the reservation would exceed.
func (l *Ledger) Reserve(poolLink, descriptionLink string, count int64) (*types.Placement, error) {
	if err := validate(poolLink, descriptionLink, count); err != nil {
		return nil, err
	}

	link := PlacementLink(poolLink)
	lock := l.entryLock(link)
	lock.Lock()
	defer lock.Unlock()

	placement, err := l.loadOrCreate(link, poolLink)
	if err != nil {
		return nil, err
	}

	if placement.MaxInstances > 0 &&
		placement.AllocatedInstancesCount+count > placement.MaxInstances {
		metrics.ReservationRejectionsTotal.Inc()
		return nil, errdefs.NewValidation(
			"reservation of %d exceeds placement quota: %d of %d allocated",
			count, placement.AllocatedInstancesCount, placement.MaxInstances)
	}

	if placement.ResourceQuotaPerDescription == nil {
		placement.ResourceQuotaPerDescription = make(map[string]int64)
	}
	placement.ResourceQuotaPerDescription[descriptionLink] += count
	placement.AllocatedInstancesCount += count

	if err := l.store.UpdatePlacement(placement, placement.DocumentVersion); err != nil {
		return nil, err
	}

	metrics.ReservedInstances.WithLabelValues(link).Set(float64(placement.AllocatedInstancesCount))
	log.WithPlacement(link).Debug().
		Str("description", descriptionLink).
		Int64("count", count).
		Int64("allocated", placement.AllocatedInstancesCount).
		Msg("Reserved instances")
	return placement, nil
}

// Release decrements the allocation counter for (poolLink, descriptionLink)
// by count, clamped at zero. Releasing more than currently held is not an
// error: the entry settles at zero and a warning is logged. This tolerates
// duplicate and late removal requests.
func (l *Ledger) Release(poolLink, descriptionLink string, count int64) (*types.Placement, error) {
	if err := validate(poolLink, descriptionLink, count); err != nil {
		return nil, err
	}

	link := PlacementLink(poolLink)
	lock := l.entryLock(link)
	lock.Lock()
	defer lock.Unlock()

	placement, err := l.loadOrCreate(link, poolLink)
	if err != nil {
		return nil, err
	}
	if placement.ResourceQuotaPerDescription == nil {
		placement.ResourceQuotaPerDescription = make(map[string]int64)
	}

	held := placement.ResourceQuotaPerDescription[descriptionLink]
	released := count
	if released > held {
		log.WithPlacement(link).Warn().
			Str("description", descriptionLink).
			Int64("held", held).
			Int64("requested", count).
			Msg("Release exceeds held count, clamping to zero")
		released = held
	}
	placement.ResourceQuotaPerDescription[descriptionLink] = held - released
	placement.AllocatedInstancesCount -= released
	if placement.AllocatedInstancesCount < 0 {
		placement.AllocatedInstancesCount = 0
	}

	if err := l.store.UpdatePlacement(placement, placement.DocumentVersion); err != nil {
		return nil, err
	}

	metrics.ReservedInstances.WithLabelValues(link).Set(float64(placement.AllocatedInstancesCount))
	log.WithPlacement(link).Debug().
		Str("description", descriptionLink).
		Int64("count", released).
		Int64("allocated", placement.AllocatedInstancesCount).
		Msg("Released instances")
	return placement, nil
}

// Get returns the placement for poolLink, or NotFoundError
func (l *Ledger) Get(poolLink string) (*types.Placement, error) {
	return l.store.GetPlacement(PlacementLink(poolLink))
}

// SetQuota sets the maximum instance count for the pool's placement,
// creating the entry if needed. A zero max means unlimited.
func (l *Ledger) SetQuota(poolLink string, maxInstances int64) (*types.Placement, error) {
	if poolLink == "" {
		return nil, errdefs.NewValidation("resourcePoolLink is required")
	}
	if maxInstances < 0 {
		return nil, errdefs.NewValidation("maxInstances must not be negative, got %d", maxInstances)
	}

	link := PlacementLink(poolLink)
	lock := l.entryLock(link)
	lock.Lock()
	defer lock.Unlock()

	placement, err := l.loadOrCreate(link, poolLink)
	if err != nil {
		return nil, err
	}
	if maxInstances > 0 && maxInstances < placement.AllocatedInstancesCount {
		return nil, errdefs.NewValidation(
			"maxInstances %d is below the currently allocated count %d",
			maxInstances, placement.AllocatedInstancesCount)
	}
	placement.MaxInstances = maxInstances
	if err := l.store.UpdatePlacement(placement, placement.DocumentVersion); err != nil {
		return nil, err
	}
	return placement, nil
}

// loadOrCreate fetches the placement or creates it with zero counters.
// Callers must hold the entry lock.
func (l *Ledger) loadOrCreate(link, poolLink string) (*types.Placement, error) {
	placement, err := l.store.GetPlacement(link)
	if err == nil {
		return placement, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, err
	}
	placement = &types.Placement{
		SelfLink:                    link,
		Name:                        strings.TrimPrefix(link, PlacementsPrefix),
		ResourcePoolLink:            poolLink,
		ResourceQuotaPerDescription: make(map[string]int64),
	}
	if err := l.store.CreatePlacement(placement); err != nil {
		return nil, err
	}
	return placement, nil
}

package ledger

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/errdefs"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewLedger(store)
}

func TestReserveValidation(t *testing.T) {
	l := newTestLedger(t)

	tests := []struct {
		name  string
		pool  string
		desc  string
		count int64
	}{
		{name: "empty pool", pool: "", desc: "/descriptions/containers/d1", count: 1},
		{name: "empty description", pool: "/pools/p1", desc: "", count: 1},
		{name: "zero count", pool: "/pools/p1", desc: "/descriptions/containers/d1", count: 0},
		{name: "negative count", pool: "/pools/p1", desc: "/descriptions/containers/d1", count: -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Reserve(tt.pool, tt.desc, tt.count)
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))

			_, err = l.Release(tt.pool, tt.desc, tt.count)
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))
		})
	}
}

func TestReserveCreatesEntry(t *testing.T) {
	l := newTestLedger(t)

	p, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.AllocatedInstancesCount)
	assert.Equal(t, int64(3), p.ResourceQuotaPerDescription["/descriptions/containers/d1"])

	p, err = l.Reserve("/pools/p1", "/descriptions/containers/d2", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.AllocatedInstancesCount)
	assert.Equal(t, int64(2), p.ResourceQuotaPerDescription["/descriptions/containers/d2"])
}

// TestReleaseClampsAtZero: releasing more than held settles the entry at
// exactly zero, with no error.
func TestReleaseClampsAtZero(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 2)
	require.NoError(t, err)

	p, err := l.Release("/pools/p1", "/descriptions/containers/d1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.AllocatedInstancesCount)
	assert.Equal(t, int64(0), p.ResourceQuotaPerDescription["/descriptions/containers/d1"])
}

func TestReleaseExact(t *testing.T) {
	tests := []struct {
		name      string
		reserve   int64
		release   int64
		remaining int64
	}{
		{name: "partial release", reserve: 5, release: 2, remaining: 3},
		{name: "full release", reserve: 4, release: 4, remaining: 0},
		{name: "over release clamps", reserve: 1, release: 9, remaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t)
			_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", tt.reserve)
			require.NoError(t, err)

			p, err := l.Release("/pools/p1", "/descriptions/containers/d1", tt.release)
			require.NoError(t, err)
			assert.Equal(t, tt.remaining, p.AllocatedInstancesCount)
			assert.Equal(t, tt.remaining, p.ResourceQuotaPerDescription["/descriptions/containers/d1"])
		})
	}
}

// TestOverReleaseDoesNotStealFromSiblings: clamping applies per
// description, so an over-release of one description leaves another's
// count intact.
func TestOverReleaseDoesNotStealFromSiblings(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 2)
	require.NoError(t, err)
	_, err = l.Reserve("/pools/p1", "/descriptions/containers/d2", 3)
	require.NoError(t, err)

	p, err := l.Release("/pools/p1", "/descriptions/containers/d1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.ResourceQuotaPerDescription["/descriptions/containers/d1"])
	assert.Equal(t, int64(3), p.ResourceQuotaPerDescription["/descriptions/containers/d2"])
	assert.Equal(t, int64(3), p.AllocatedInstancesCount)
}

func TestQuotaRejectsOverReservation(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.SetQuota("/pools/p1", 3)
	require.NoError(t, err)

	_, err = l.Reserve("/pools/p1", "/descriptions/containers/d1", 2)
	require.NoError(t, err)

	_, err = l.Reserve("/pools/p1", "/descriptions/containers/d1", 2)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

	// The rejected reservation left the counters untouched.
	p, err := l.Get("/pools/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.AllocatedInstancesCount)
}

func TestSetQuotaBelowAllocatedFails(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 5)
	require.NoError(t, err)

	_, err = l.SetQuota("/pools/p1", 3)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

// TestConcurrentReservations: parallel reservations against one pool must
// not lose updates.
func TestConcurrentReservations(t *testing.T) {
	l := newTestLedger(t)

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := l.Get("/pools/p1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), p.AllocatedInstancesCount)
	assert.Equal(t, int64(workers), p.ResourceQuotaPerDescription["/descriptions/containers/d1"])
}

func TestInterleavedReserveRelease(t *testing.T) {
	l := newTestLedger(t)

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := l.Reserve("/pools/p1", "/descriptions/containers/d1", 2)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.Release("/pools/p1", "/descriptions/containers/d1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Releases clamp, so the final count is between workers (all releases
	// landed after reserves) and 2*workers (all clamped at zero first).
	p, err := l.Get("/pools/p1")
	require.NoError(t, err)
	count := p.AllocatedInstancesCount
	assert.GreaterOrEqual(t, count, int64(workers))
	assert.LessOrEqual(t, count, int64(2*workers))
}

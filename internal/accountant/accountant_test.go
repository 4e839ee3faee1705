package accountant

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveWithinBudget(t *testing.T) {
	a := NewWithTotalMB(32*1024, 0.80) // 32 GiB, 80% cap = 26214 MiB

	r, err := a.Reserve(1600)
	require.NoError(t, err)
	assert.Equal(t, int64(1600), a.Reserved())

	r2, err := a.Reserve(1600)
	require.NoError(t, err)
	assert.Equal(t, int64(3200), a.Reserved())

	r.Release()
	assert.Equal(t, int64(1600), a.Reserved())
	r2.Release()
	assert.Equal(t, int64(0), a.Reserved())
}

func TestReserveExhausted(t *testing.T) {
	// 2000 MiB total, 80% cap = 1600 MiB.
	a := NewWithTotalMB(2000, 0.80)

	_, err := a.Reserve(1600)
	require.NoError(t, err)

	_, err = a.Reserve(1)
	require.ErrorIs(t, err, ErrMemoryExhausted)
}

func TestReserveExactBoundary(t *testing.T) {
	// Exactly the remaining byte at the 80% line succeeds; the next MiB fails.
	a := NewWithTotalMB(1000, 0.80) // cap = 800 MiB
	_, err := a.Reserve(799)
	require.NoError(t, err)

	r, err := a.Reserve(1)
	require.NoError(t, err)
	assert.Equal(t, int64(800), a.Reserved())

	_, err = a.Reserve(1)
	require.ErrorIs(t, err, ErrMemoryExhausted)

	r.Release()
	_, err = a.Reserve(1)
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := NewWithTotalMB(10_000, 0.80)
	r, err := a.Reserve(100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), a.Reserved())
}

func TestPlanColdStartPrefersTwoWorkers(t *testing.T) {
	a := NewWithTotalMB(32*1024, 0.80)
	n, err := a.PlanColdStart(1600, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPlanColdStartDegradesToOne(t *testing.T) {
	// 2000 MiB total, 80% cap = 1600 MiB — only one 1600 MiB worker fits.
	a := NewWithTotalMB(2000, 0.80)
	n, err := a.PlanColdStart(1600, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPlanColdStartFailsWhenNothingFits(t *testing.T) {
	a := NewWithTotalMB(2000, 0.80)
	_, err := a.Reserve(1600)
	require.NoError(t, err)

	_, err = a.PlanColdStart(1000, 2)
	require.ErrorIs(t, err, ErrMemoryExhausted)
}

func TestPlanColdStartHonorsMaxWorkersPerModel(t *testing.T) {
	a := NewWithTotalMB(32*1024, 0.80)
	n, err := a.PlanColdStart(1600, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReserveIsRaceFreeUnderConcurrency(t *testing.T) {
	a := NewWithTotalMB(32*1024, 0.80) // cap 26214 MiB
	const perWorker = 1600
	const attempts = 32

	var wg sync.WaitGroup
	oks := make([]bool, attempts)
	reservations := make([]*Reservation, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := a.Reserve(perWorker)
			if err == nil {
				oks[i] = true
				reservations[i] = r
			}
		}(i)
	}
	wg.Wait()

	var successCount int64
	for _, ok := range oks {
		if ok {
			successCount++
		}
	}
	assert.Equal(t, successCount*perWorker, a.Reserved())
	assert.LessOrEqual(t, a.Reserved(), a.LimitMB())
}

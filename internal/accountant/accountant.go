// Package accountant enforces the pool's global memory budget: reservations
// are lock-free, bounded by a fraction of total system RAM, and released
// automatically when a worker exits.
package accountant

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"
)

// ErrMemoryExhausted is returned when a reservation would push total
// reserved memory past the configured cap.
var ErrMemoryExhausted = errors.New("accountant: memory exhausted")

// Accountant tracks a single pool's reserved memory against a cached
// reading of total system RAM.
type Accountant struct {
	totalSystemMB int64
	capFraction   float64
	reserved      atomic.Int64
}

// New queries the host's total RAM once (the reading is cached for the
// lifetime of the Accountant, as spec requires) and returns an Accountant
// enforcing capFraction of it (typically 0.80).
func New(capFraction float64) (*Accountant, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("accountant: query system memory: %w", err)
	}
	return NewWithTotalMB(int64(vm.Total/1024/1024), capFraction), nil
}

// NewWithTotalMB builds an Accountant against an explicit total-system-RAM
// figure, bypassing the live query. Used by tests that need deterministic
// memory ceilings (see spec scenarios S1/S2).
func NewWithTotalMB(totalSystemMB int64, capFraction float64) *Accountant {
	return &Accountant{totalSystemMB: totalSystemMB, capFraction: capFraction}
}

// LimitMB is floor(capFraction * totalSystemMB).
func (a *Accountant) LimitMB() int64 {
	return int64(float64(a.totalSystemMB) * a.capFraction)
}

// TotalSystemMB returns the cached total system memory reading.
func (a *Accountant) TotalSystemMB() int64 { return a.totalSystemMB }

// Reserved returns the currently reserved MiB across every live worker this
// Accountant is tracking.
func (a *Accountant) Reserved() int64 { return a.reserved.Load() }

// CheckAvailable reports whether reserving mb additional MiB would stay
// within budget, without actually reserving anything.
func (a *Accountant) CheckAvailable(mb int) bool {
	return a.reserved.Load()+int64(mb) <= a.LimitMB()
}

// Reservation is a RAII-style token: it releases its claim on Release, and
// Release is safe to call more than once or concurrently.
type Reservation struct {
	mb       int64
	released atomic.Bool
	counter  *atomic.Int64
}

// MB is the size of this reservation.
func (r *Reservation) MB() int64 { return r.mb }

// Release gives the reservation's memory back to the pool. Idempotent.
func (r *Reservation) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.counter.Add(-r.mb)
	}
}

// Reserve atomically claims mb MiB, failing with ErrMemoryExhausted if doing
// so would exceed the cap. Lock-free: a CAS loop against the shared atomic
// counter, so concurrent reservations never block each other.
func (a *Accountant) Reserve(mb int) (*Reservation, error) {
	for {
		cur := a.reserved.Load()
		next := cur + int64(mb)
		if next > a.LimitMB() {
			return nil, fmt.Errorf("%w: need %d MiB, %d MiB available of %d MiB cap",
				ErrMemoryExhausted, mb, a.LimitMB()-cur, a.LimitMB())
		}
		if a.reserved.CompareAndSwap(cur, next) {
			return &Reservation{mb: int64(mb), counter: &a.reserved}, nil
		}
	}
}

// PlanColdStart implements the cold-start worker-count policy: try 2
// workers, fall back to 1, else fail. maxWorkers caps the attempt (e.g. a
// registry key configured for at most 1 worker never tries 2).
func (a *Accountant) PlanColdStart(perWorkerMB int, maxWorkers int) (int, error) {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	ideal := 2
	if maxWorkers < ideal {
		ideal = maxWorkers
	}
	for n := ideal; n >= 1; n-- {
		if a.CheckAvailable(perWorkerMB * n) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: cannot fit even 1 worker at %d MiB (%d MiB available of %d MiB cap)",
		ErrMemoryExhausted, perWorkerMB, a.LimitMB()-a.reserved.Load(), a.LimitMB())
}

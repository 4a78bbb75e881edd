// Package governor implements the process-wide memory ledger that gates
// worker spawn: a worker is never launched without first reserving its
// estimated memory footprint, and that reservation is returned automatically
// when the worker's allocation guard is released.
package governor

import (
	"fmt"
	"sync"
)

// Governor is a single process-wide ledger of reserved model memory (MiB).
// The zero value is not usable; construct with New.
type Governor struct {
	mu       sync.Mutex
	reserved int64
	limit    int64
}

// New constructs a Governor with the given memory budget in MiB.
func New(limitMiB int64) *Governor {
	return &Governor{limit: limitMiB}
}

// ErrOutOfBudget is returned by Reserve when the requested amount would
// exceed the configured limit.
type ErrOutOfBudget struct {
	Requested int64
	Reserved  int64
	Limit     int64
}

func (e *ErrOutOfBudget) Error() string {
	return fmt.Sprintf("governor: out of budget: requested %d MiB, reserved %d MiB, limit %d MiB",
		e.Requested, e.Reserved, e.Limit)
}

// AllocationGuard represents a live reservation. Release returns the
// reservation to the governor; it is safe to call more than once (only the
// first call has effect), mirroring the Rust original's Drop semantics for
// a guard moved into a worker task.
type AllocationGuard struct {
	once sync.Once
	g    *Governor
	mib  int64
}

// Release returns this guard's reservation to the governor. Idempotent.
func (a *AllocationGuard) Release() {
	a.once.Do(func() {
		a.g.mu.Lock()
		a.g.reserved -= a.mib
		a.g.mu.Unlock()
	})
}

// MiB reports the size of this guard's reservation.
func (a *AllocationGuard) MiB() int64 {
	return a.mib
}

// Reserve atomically checks reserved+mib <= limit; on success it increments
// the ledger and returns a guard whose Release call returns the memory.
func (g *Governor) Reserve(mib int64) (*AllocationGuard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reserved+mib > g.limit {
		return nil, &ErrOutOfBudget{Requested: mib, Reserved: g.reserved, Limit: g.limit}
	}
	g.reserved += mib
	return &AllocationGuard{g: g, mib: mib}, nil
}

// CurrentReserved returns the currently reserved MiB.
func (g *Governor) CurrentReserved() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

// Limit returns the configured memory budget.
func (g *Governor) Limit() int64 {
	return g.limit
}

var (
	defaultOnce sync.Once
	defaultGov  *Governor
	defaultMu   sync.Mutex
)

// Default returns the process-wide governor singleton, lazily initialised on
// first use per spec.md §9 ("Global mutable state... initialised lazily").
// limitMiB is only honored on the first call; subsequent calls ignore it.
func Default(limitMiB int64) *Governor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		defaultGov = New(limitMiB)
	})
	return defaultGov
}

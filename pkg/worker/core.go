// Package worker implements the worker task: a goroutine that, after a
// model loads successfully, owns that model exclusively and serves requests
// off a set of per-request-kind inboxes plus an unbounded shutdown and
// health inbox, per spec.md §4.C.
package worker

import (
	"sync/atomic"
	"time"

	"github.com/duskforge/infercore/pkg/governor"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/duskforge/infercore/pkg/modelkey"
)

// shutdownAndHealthCapacity approximates an unbounded inbox: shutdown and
// health messages are rare relative to request traffic, so a generously
// sized buffer never blocks a sender in practice.
const shutdownAndHealthCapacity = 256

// HealthRequest is sent to a worker's health inbox; the worker replies on
// Reply with its current snapshot.
type HealthRequest struct {
	Reply chan HealthReply
}

// HealthReply is a worker's self-reported health snapshot.
type HealthReply struct {
	WorkerID     uint64
	EpochSeconds int64
	QueueDepth   int
}

// Core is the capability-agnostic portion of a worker handle: identity,
// lifecycle, concurrency counters, and the shutdown/health inboxes. Every
// capability-specific handle embeds a *Core.
type Core struct {
	ID          uint64
	RegistryKey modelkey.Key
	MiB         int64

	state *lifecycle.Cell

	pending  atomic.Int64
	lastUsed atomic.Int64

	Guard *governor.AllocationGuard

	ShutdownCh chan struct{}
	HealthCh   chan HealthRequest
}

// NewCore constructs a Core in the Spawning state with fresh inboxes.
func NewCore(id uint64, key modelkey.Key, mib int64, guard *governor.AllocationGuard) *Core {
	c := &Core{
		ID:          id,
		RegistryKey: key,
		MiB:         mib,
		state:       lifecycle.NewCell(),
		Guard:       guard,
		ShutdownCh:  make(chan struct{}, shutdownAndHealthCapacity),
		HealthCh:    make(chan HealthRequest, shutdownAndHealthCapacity),
	}
	c.touchLastUsed()
	return c
}

// State returns the lifecycle cell so callers (pool selection, eviction)
// can inspect and transition it.
func (c *Core) State() *lifecycle.Cell {
	return c.state
}

// PendingRequests reports the number of in-flight requests against this
// worker. Satisfies pool.Loaded for power-of-two selection.
func (c *Core) PendingRequests() int64 {
	return c.pending.Load()
}

// LastUsed returns the last-touched time as a Unix epoch second.
func (c *Core) LastUsed() int64 {
	return c.lastUsed.Load()
}

// LastUsedUnix is an alias for LastUsed, named for the pool.Loaded interface.
func (c *Core) LastUsedUnix() int64 {
	return c.lastUsed.Load()
}

// WorkerID returns this worker's monotonic identity.
func (c *Core) WorkerID() uint64 {
	return c.ID
}

// WorkerMiB returns this worker's immutable per-worker memory footprint.
func (c *Core) WorkerMiB() int64 {
	return c.MiB
}

func (c *Core) touchLastUsed() {
	c.lastUsed.Store(time.Now().Unix())
}

// PendingGuard scopes a pending-request increment to fire its decrement on
// any exit path, mirroring the Rust original's PendingRequestsGuard.
type PendingGuard struct {
	core *Core
}

// Acquire increments the pending counter and returns a guard whose Release
// decrements it. Callers should `defer guard.Release()` immediately.
func (c *Core) Acquire() *PendingGuard {
	c.pending.Add(1)
	c.touchLastUsed()
	return &PendingGuard{core: c}
}

// Release decrements the pending counter. Safe to call at most once per
// guard; calling it more than once would corrupt parity, so callers must
// defer it exactly once.
func (g *PendingGuard) Release() {
	g.core.pending.Add(-1)
}

// RequestShutdown signals the worker to drain and exit. Non-blocking: the
// shutdown inbox is sized generously enough that sends never block.
func (c *Core) RequestShutdown() {
	select {
	case c.ShutdownCh <- struct{}{}:
	default:
	}
}

// Health sends a health probe and returns the reply, or false if the
// worker's health inbox is unreachable (worker already dead).
func (c *Core) Health() (HealthReply, bool) {
	if !c.state.IsAlive() {
		return HealthReply{}, false
	}
	reply := make(chan HealthReply, 1)
	select {
	case c.HealthCh <- HealthRequest{Reply: reply}:
	default:
		return HealthReply{}, false
	}
	r, ok := <-reply
	return r, ok
}

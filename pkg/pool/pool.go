// Package pool implements the per-capability pool: a registry of
// model-key -> worker handles, power-of-two-choices load balancing, a
// circuit breaker per model key, and an eviction scanner. One Pool[H]
// instance serves one capability (text-to-text, text-embedding, or
// text-to-image); H is the capability's worker handle type.
//
// Grounded on the original's capability/registry/pool/capabilities/
// text_embedding.rs: a global Lazy<Pool<TextEmbeddingWorkerHandle>> whose
// embed_text/batch_embed_text free functions perform exactly the
// check-shutdown -> check-breaker -> fetch-and-filter -> power-of-two ->
// acquire-guard -> send -> await-with-timeout sequence this file
// generalizes over H.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duskforge/infercore/pkg/breaker"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/duskforge/infercore/pkg/worker"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Loaded is the subset of a capability-specific worker handle the pool
// needs in order to register, select, and evict it.
type Loaded interface {
	PendingRequests() int64
	State() *lifecycle.Cell
	Acquire() *worker.PendingGuard
	LastUsedUnix() int64
	RequestShutdown()
	WorkerMiB() int64
	WorkerID() uint64
}

// Config bounds one pool's admission behavior.
type Config struct {
	RequestTimeout time.Duration
	IdleThreshold  time.Duration
	BreakerConfig  breaker.Config
}

// DefaultConfig mirrors spec.md's scenario defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		IdleThreshold:  5 * time.Minute,
		BreakerConfig:  breaker.DefaultConfig(),
	}
}

// Pool is a process-wide registry for one capability.
type Pool[H Loaded] struct {
	capLabel string
	cfg      Config
	metrics  *Metrics
	breakers *breaker.Registry
	tracer   trace.Tracer
	log      zerolog.Logger

	mu      sync.RWMutex
	workers map[modelkey.Key][]H

	shutdown       atomic.Bool
	totalMemoryMiB atomic.Int64
	nextWorkerID   atomic.Uint64
}

// New constructs an empty pool for one capability.
func New[H Loaded](capLabel string, cfg Config, metrics *Metrics, tracer trace.Tracer, log zerolog.Logger) *Pool[H] {
	return &Pool[H]{
		capLabel: capLabel,
		cfg:      cfg,
		metrics:  metrics,
		breakers: breaker.NewRegistry(cfg.BreakerConfig),
		tracer:   tracer,
		log:      log,
		workers:  make(map[modelkey.Key][]H),
	}
}

// NextWorkerID allocates the next monotonic worker id for this pool.
func (p *Pool[H]) NextWorkerID() uint64 {
	return p.nextWorkerID.Add(1)
}

// Register inserts h under key. Per spec.md §4.D this must only be called
// after the worker's model has loaded successfully; a worker that fails to
// load must never reach Register.
func (p *Pool[H]) Register(key modelkey.Key, h H) {
	p.mu.Lock()
	p.workers[key] = append(p.workers[key], h)
	depth := len(p.workers[key])
	p.mu.Unlock()

	p.totalMemoryMiB.Add(h.WorkerMiB())
	if p.metrics != nil {
		p.metrics.ReservedMiB.WithLabelValues(p.capLabel, string(key)).Add(float64(h.WorkerMiB()))
		p.metrics.QueueDepth.WithLabelValues(p.capLabel, string(key)).Set(float64(depth))
	}
}

// TotalMemoryMiB returns the sum of per-worker MiB across every registered
// worker in this pool, satisfying the §8 memory-conservation invariant
// together with the governor's own ledger.
func (p *Pool[H]) TotalMemoryMiB() int64 {
	return p.totalMemoryMiB.Load()
}

// Shutdown flips the pool's shutdown flag and signals every registered
// worker to drain. Future selections fail ShuttingDown immediately.
func (p *Pool[H]) Shutdown() {
	p.shutdown.Store(true)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, list := range p.workers {
		for _, h := range list {
			h.RequestShutdown()
		}
	}
}

// reap drops Dead entries for key and returns the remaining alive-or-not
// list, matching "the registry is reaped lazily on next selection."
func (p *Pool[H]) reap(key modelkey.Key) []H {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.workers[key]
	kept := list[:0]
	for _, h := range list {
		if h.State().Load() != lifecycle.Dead {
			kept = append(kept, h)
		}
	}
	p.workers[key] = kept
	p.totalMemoryMiB.Store(p.sumMiBLocked())
	if p.metrics != nil {
		var keptMiB int64
		for _, h := range kept {
			keptMiB += h.WorkerMiB()
		}
		p.metrics.ReservedMiB.WithLabelValues(p.capLabel, string(key)).Set(float64(keptMiB))
		p.metrics.QueueDepth.WithLabelValues(p.capLabel, string(key)).Set(float64(len(kept)))
	}
	return kept
}

func (p *Pool[H]) sumMiBLocked() int64 {
	var sum int64
	for _, list := range p.workers {
		for _, h := range list {
			sum += h.WorkerMiB()
		}
	}
	return sum
}

// SelectWorker implements spec.md §4.D steps 1-6: shutdown check, circuit
// breaker check, fetch, alive-filter, power-of-two choices, and a scoped
// pending-counter guard. Step 7/8 (send + await reply) are the caller's
// responsibility since the reply type differs per capability.
func (p *Pool[H]) SelectWorker(key modelkey.Key) (H, *worker.PendingGuard, *Error) {
	var zero H

	if p.metrics != nil {
		p.metrics.RequestCount.WithLabelValues(p.capLabel, string(key)).Inc()
	}

	if p.shutdown.Load() {
		return zero, nil, newErr(KindShuttingDown, "select_worker", "pool is shutting down", nil)
	}

	br := p.breakers.For(string(key))
	if !br.CanRequest() {
		if p.metrics != nil {
			p.metrics.CircuitRejections.WithLabelValues(p.capLabel, string(key)).Inc()
		}
		return zero, nil, newErr(KindCircuitOpen, "select_worker", "circuit breaker open for "+string(key), nil)
	}

	list := p.reap(key)
	if len(list) == 0 {
		return zero, nil, newErr(KindNoWorkers, "select_worker", "no workers registered for "+string(key), nil)
	}

	alive := make([]H, 0, len(list))
	for _, h := range list {
		if h.State().IsAlive() {
			alive = append(alive, h)
		}
	}
	if len(alive) == 0 {
		return zero, nil, newErr(KindNoWorkers, "select_worker", "no alive workers for "+string(key), nil)
	}

	chosen := powerOfTwoChoices(alive)
	guard := chosen.Acquire()
	return chosen, guard, nil
}

// powerOfTwoChoices picks two workers uniformly at random (with
// replacement if only one exists) and returns the one with the smaller
// pending-request count, per spec.md §4.D step 5.
func powerOfTwoChoices[H Loaded](alive []H) H {
	if len(alive) == 1 {
		return alive[0]
	}
	i := rand.Intn(len(alive))
	j := rand.Intn(len(alive))
	a, b := alive[i], alive[j]
	if a.PendingRequests() <= b.PendingRequests() {
		return a
	}
	return b
}

// RecordOutcome updates the breaker and metrics for key based on outcome.
// ok=true records a success; ok=false records a failure. timedOut further
// increments the timeout counter.
func (p *Pool[H]) RecordOutcome(key modelkey.Key, ok bool, timedOut bool) {
	br := p.breakers.For(string(key))
	if ok {
		br.RecordSuccess()
		return
	}
	br.RecordFailure()
	if p.metrics != nil {
		p.metrics.TotalErrors.WithLabelValues(p.capLabel, string(key)).Inc()
		if timedOut {
			p.metrics.TotalTimeouts.WithLabelValues(p.capLabel, string(key)).Inc()
		}
	}
}

// RequestTimeout returns the configured per-request timeout.
func (p *Pool[H]) RequestTimeout() time.Duration {
	return p.cfg.RequestTimeout
}

// Tracer returns the pool's tracer for request-span instrumentation.
func (p *Pool[H]) Tracer() trace.Tracer {
	return p.tracer
}

// Snapshot returns a shallow copy of the worker list for key, for tests and
// readiness polling (spec.md §4.E: "callers that need to wait for
// readiness poll the pool's worker list").
func (p *Pool[H]) Snapshot(key modelkey.Key) []H {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]H, len(p.workers[key]))
	copy(out, p.workers[key])
	return out
}

// runEviction periodically scans every key's worker list and signals
// shutdown to any worker that is Idle, has zero pending requests, and has
// been unused for longer than the idle threshold. Intended to run in its
// own goroutine for the pool's lifetime.
func (p *Pool[H]) runEviction(ctx context.Context, scanInterval time.Duration) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictOnce()
		}
	}
}

func (p *Pool[H]) evictOnce() {
	p.mu.RLock()
	keys := make([]modelkey.Key, 0, len(p.workers))
	for k := range p.workers {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	now := time.Now()
	for _, key := range keys {
		for _, h := range p.Snapshot(key) {
			if h.State().Load() != lifecycle.Idle {
				continue
			}
			if h.PendingRequests() != 0 {
				continue
			}
			idleFor := now.Sub(time.Unix(h.LastUsedUnix(), 0))
			if idleFor >= p.cfg.IdleThreshold {
				h.RequestShutdown()
			}
		}
	}
}

// StartEviction launches the eviction scanner goroutine. Callers own ctx's
// lifetime; cancelling it stops the scanner.
func (p *Pool[H]) StartEviction(ctx context.Context, scanInterval time.Duration) {
	go p.runEviction(ctx, scanInterval)
}

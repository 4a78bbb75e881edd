// Package breaker implements a per-model-key circuit breaker: Closed, Open,
// and HalfOpen states gating requests against a model that is failing
// repeatedly. HalfOpen admits a bounded trial rate of probe requests via a
// token-bucket limiter rather than a single probe, smoothing recovery.
package breaker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is a circuit breaker state.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config controls when a breaker opens and how it probes recovery.
type Config struct {
	// FailureThreshold consecutive failures before the breaker opens.
	FailureThreshold int

	// CooldownPeriod is how long the breaker stays Open before allowing
	// HalfOpen probes.
	CooldownPeriod time.Duration

	// ProbeRate bounds how many HalfOpen probe requests per second are
	// admitted while recovery is being trialled.
	ProbeRate rate.Limit

	// ProbeBurst is the token bucket burst size for probes.
	ProbeBurst int
}

// DefaultConfig mirrors spec.md's scenario 3: five consecutive failures
// opens the breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CooldownPeriod:   30 * time.Second,
		ProbeRate:        1,
		ProbeBurst:       1,
	}
}

// Breaker is a single model key's circuit breaker.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time

	limiter *rate.Limiter
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:     cfg,
		state:   Closed,
		limiter: rate.NewLimiter(cfg.ProbeRate, cfg.ProbeBurst),
	}
}

// CanRequest reports whether a request should be admitted, transitioning
// Open -> HalfOpen once the cooldown has elapsed.
func (b *Breaker) CanRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailureTime) >= b.cfg.CooldownPeriod {
			b.state = HalfOpen
			return b.limiter.Allow()
		}
		return false
	case HalfOpen:
		return b.limiter.Allow()
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached (or immediately, if the failing probe happened while
// HalfOpen).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()
	if b.state == HalfOpen {
		b.state = Open
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = Open
	}
}

// State returns the current state, for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry is a per-model-key map of breakers, guarded by an RWMutex
// following the teacher's registry.go singleton pattern.
type Registry struct {
	mu  sync.RWMutex
	cfg Config
	m   map[string]*Breaker
}

// NewRegistry constructs a breaker registry using cfg for every key created
// on demand.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Breaker)}
}

// For returns the breaker for key, creating it on first use.
func (r *Registry) For(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.m[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.m[key]; ok {
		return b
	}
	b = New(r.cfg)
	r.m[key] = b
	return b
}

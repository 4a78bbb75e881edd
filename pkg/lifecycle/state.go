// Package lifecycle implements the worker lifecycle state machine: a single
// atomic enum with a strictly monotonic transition table, except for the
// Ready<->Idle<->Processing cycle which a worker moves through freely while
// alive.
package lifecycle

import "sync/atomic"

// State is one value of the worker lifecycle.
type State int32

const (
	// Spawning: task created, model not yet loaded.
	Spawning State = iota
	// Loading: model loading in progress.
	Loading
	// Ready: available, no in-flight work.
	Ready
	// Idle: Ready for >= idle-threshold; candidate for eviction.
	Idle
	// Processing: currently serving a request.
	Processing
	// Evicting: shutdown signalled, draining.
	Evicting
	// Dead: worker task exited; entry removed from registry shortly after.
	Dead
	// Failed: load failed; worker was never registered.
	Failed
)

func (s State) String() string {
	switch s {
	case Spawning:
		return "Spawning"
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Idle:
		return "Idle"
	case Processing:
		return "Processing"
	case Evicting:
		return "Evicting"
	case Dead:
		return "Dead"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// validNext enumerates the edges of the transition graph in spec.md §3:
//
//	Spawning -> Loading -> {Ready <-> Idle <-> Processing} -> Evicting -> Dead
//	                    \-> Failed
var validNext = map[State]map[State]bool{
	Spawning:   {Loading: true},
	Loading:    {Ready: true, Failed: true},
	Ready:      {Idle: true, Processing: true, Evicting: true},
	Idle:       {Ready: true, Processing: true, Evicting: true},
	Processing: {Ready: true, Idle: true, Evicting: true},
	Evicting:   {Dead: true},
	Dead:       {},
	Failed:     {},
}

// Cell is an atomic, transition-checked lifecycle state cell.
type Cell struct {
	v atomic.Int32
}

// NewCell constructs a Cell initialised to Spawning.
func NewCell() *Cell {
	c := &Cell{}
	c.v.Store(int32(Spawning))
	return c
}

// Load returns the current state.
func (c *Cell) Load() State {
	return State(c.v.Load())
}

// Store unconditionally sets the state without checking the transition
// table. Used for the Ready<->Idle<->Processing cycling a worker performs
// many times per second, where the check is provably always valid.
func (c *Cell) Store(s State) {
	c.v.Store(int32(s))
}

// TryTransition moves the cell from its current state to next only if that
// edge exists in the transition table, reporting whether it happened.
func (c *Cell) TryTransition(next State) bool {
	for {
		cur := State(c.v.Load())
		if !validNext[cur][next] {
			return false
		}
		if c.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// IsAlive reports whether the worker should still be considered a candidate
// for receiving work: neither Failed, Dead, nor Evicting.
func (c *Cell) IsAlive() bool {
	switch c.Load() {
	case Failed, Dead, Evicting:
		return false
	default:
		return true
	}
}

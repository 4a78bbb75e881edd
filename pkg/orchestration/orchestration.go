// Package orchestration implements coordinate_generation, the thin wrapper
// every text-to-text capability implementation uses to turn a raw string
// chunk stream into a capability.ChunkStream with request counting and a
// terminal Complete chunk, per spec.md §4.H.
package orchestration

import (
	"sync/atomic"

	"github.com/duskforge/infercore/pkg/capability"
)

// Counters tracks the atomic request counters spec.md §4.H and §8 name.
// Safe for concurrent use; one instance is typically shared by an entire
// TextToText adapter (not per-request).
type Counters struct {
	RequestCount      atomic.Int64
	ActiveRequests    atomic.Int64
	SuccessfulRequests atomic.Int64
	FailedRequests    atomic.Int64
}

// RawChunk is one item of the underlying string-chunk stream a generator
// invocation produces, before orchestration wraps it into a
// capability.CompletionChunk.
type RawChunk struct {
	Text string
	Err  error
}

// RawStream is the minimal pull interface a generator invocation exposes.
type RawStream interface {
	Next() bool
	Text() string
	Err() error
	Usage() capability.Usage
}

// coordinatedStream adapts a RawStream into a capability.ChunkStream,
// emitting one terminal Complete chunk after the underlying stream ends
// (cleanly or via error) and updating Counters exactly once per invocation.
type coordinatedStream struct {
	raw      RawStream
	counters *Counters

	cur       capability.CompletionChunk
	done      bool
	emittedAny bool
	settled   bool
}

// CoordinateGeneration wraps genFn — which performs the actual generator
// invocation and returns a RawStream — incrementing RequestCount and
// ActiveRequests immediately, and returning a stream that emits a terminal
// Complete chunk when the underlying stream ends (cleanly or erroring), and
// decrements ActiveRequests/increments Successful|FailedRequests exactly
// once, whether the stream ends cleanly, erroring, or early via Close
// (observer dropped). A stream closed early emits no terminal chunk.
func CoordinateGeneration(counters *Counters, genFn func() (RawStream, error)) (capability.ChunkStream, error) {
	counters.RequestCount.Add(1)
	counters.ActiveRequests.Add(1)

	raw, err := genFn()
	if err != nil {
		counters.ActiveRequests.Add(-1)
		counters.FailedRequests.Add(1)
		return nil, err
	}

	return &coordinatedStream{raw: raw, counters: counters}, nil
}

func (s *coordinatedStream) Next() bool {
	if s.done {
		return false
	}
	if s.raw.Next() {
		s.emittedAny = true
		s.cur = capability.CompletionChunk{Kind: capability.ChunkText, Text: s.raw.Text()}
		return true
	}

	// Underlying stream ended; emit exactly one terminal Complete chunk,
	// then mark done so a subsequent Next() returns false.
	s.settleOnce()
	if err := s.raw.Err(); err != nil {
		s.cur = capability.CompletionChunk{
			Kind:         capability.ChunkComplete,
			FinishReason: capability.FinishError,
			Usage:        s.raw.Usage(),
		}
	} else {
		s.cur = capability.CompletionChunk{
			Kind:         capability.ChunkComplete,
			FinishReason: capability.FinishStop,
			Usage:        s.raw.Usage(),
		}
	}
	s.done = true
	return true
}

func (s *coordinatedStream) settleOnce() {
	if s.settled {
		return
	}
	s.settled = true
	s.counters.ActiveRequests.Add(-1)
	if s.raw.Err() != nil {
		s.counters.FailedRequests.Add(1)
	} else {
		s.counters.SuccessfulRequests.Add(1)
	}
}

func (s *coordinatedStream) Chunk() capability.CompletionChunk { return s.cur }
func (s *coordinatedStream) Err() error                         { return s.raw.Err() }

// Close marks the stream done immediately (observer dropped early) and, if
// settlement hasn't happened yet, records it as a failed request. No
// Complete chunk is produced for an early Close: Next returns false from
// then on.
func (s *coordinatedStream) Close() error {
	if !s.done {
		s.done = true
		if !s.settled {
			s.settled = true
			s.counters.ActiveRequests.Add(-1)
			s.counters.FailedRequests.Add(1)
		}
	}
	return nil
}

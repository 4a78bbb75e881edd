// Package cognitive implements the bounded cognitive task queue and its
// background worker: committee evaluation, entanglement discovery, and
// batch committee evaluation against an externally supplied memory store.
// Ported closely from
// original_source/packages/candle/src/memory/core/cognitive_worker.rs.
package cognitive

import "time"

// TaskKind discriminates a CognitiveTask's dispatch target. Only the three
// kinds spec.md names; the original's QuantumRouting kind is explicitly
// deferred upstream and stays out of scope here too.
type TaskKind int

const (
	KindCommitteeEvaluation TaskKind = iota
	KindEntanglementDiscovery
	KindBatchCommitteeEvaluation
)

func (k TaskKind) String() string {
	switch k {
	case KindCommitteeEvaluation:
		return "CommitteeEvaluation"
	case KindEntanglementDiscovery:
		return "EntanglementDiscovery"
	case KindBatchCommitteeEvaluation:
		return "BatchCommitteeEvaluation"
	default:
		return "Unknown"
	}
}

// Task is one unit of cognitive work.
type Task struct {
	Kind TaskKind

	// MemoryID is set for CommitteeEvaluation and EntanglementDiscovery.
	MemoryID string

	// MemoryIDs is set for BatchCommitteeEvaluation.
	MemoryIDs []string

	// Priority: higher runs sooner.
	Priority uint8

	EnqueuedAt time.Time

	// opID is assigned by the queue on enqueue for operation tracking.
	opID string
}

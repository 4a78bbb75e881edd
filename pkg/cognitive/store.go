package cognitive

import "context"

// Memory is the only shape of a memory node the core touches: id, textual
// content, optional embedding, and a mutable metadata map for
// quality-score, evaluation-status, error-message.
type Memory struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}

// EvaluationUpdate codifies the exact metadata keys a memory store must
// round-trip, recovered from the original's memory.metadata.set_custom
// calls: quality_score, evaluation_status, error_message, evaluated_at,
// evaluation_method.
type EvaluationUpdate struct {
	MemoryID         string
	QualityScore     float64
	EvaluationStatus string
	ErrorMessage     string
	EvaluatedAt      string // RFC3339
	EvaluationMethod string
}

// Relationship is a directed, weighted edge between two memories. The
// "entangled" kind always carries Strength and DiscoveredAt exactly as the
// original constructs them.
type Relationship struct {
	Kind         string
	Source       string
	Target       string
	Strength     float64
	DiscoveredAt string // RFC3339
}

// MemoryStore is the externally supplied persistence boundary the
// cognitive worker calls out to. Wire/storage formats are out of scope;
// this interface is the only externally visible persisted shape.
type MemoryStore interface {
	Get(ctx context.Context, id string) (*Memory, bool, error)
	GetMany(ctx context.Context, ids []string) (map[string]*Memory, error)
	ApplyEvaluation(ctx context.Context, update EvaluationUpdate) error
	SearchByVector(ctx context.Context, embedding []float32, topK int) ([]*Memory, error)
	CreateRelationship(ctx context.Context, rel Relationship) error
}

// Evaluator scores memory content. Concrete model/committee
// implementations are out of scope; this is the abstract interface the
// cognitive worker dispatches to.
type Evaluator interface {
	Evaluate(ctx context.Context, content string) (float64, error)
	EvaluateBatch(ctx context.Context, pairs []IDContent) (map[string]float64, error)
}

// IDContent pairs a memory id with its content for batch evaluation.
type IDContent struct {
	ID      string
	Content string
}

package cognitive

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

type fakeStore struct {
	mu        sync.Mutex
	memories  map[string]*Memory
	neighbors []*Memory
	updates   []EvaluationUpdate
	rels      []Relationship
	getErr    error
	searchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{memories: make(map[string]*Memory)}
}

func (s *fakeStore) Get(ctx context.Context, id string) (*Memory, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	m, ok := s.memories[id]
	return m, ok, nil
}

func (s *fakeStore) GetMany(ctx context.Context, ids []string) (map[string]*Memory, error) {
	out := make(map[string]*Memory)
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (s *fakeStore) ApplyEvaluation(ctx context.Context, update EvaluationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

func (s *fakeStore) SearchByVector(ctx context.Context, embedding []float32, topK int) ([]*Memory, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.neighbors, nil
}

func (s *fakeStore) CreateRelationship(ctx context.Context, rel Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, rel)
	return nil
}

type fakeEvaluator struct {
	score      float64
	err        error
	batch      map[string]float64
	batchErr   error
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, content string) (float64, error) {
	if e.err != nil {
		return 0, e.err
	}
	return e.score, nil
}

func (e *fakeEvaluator) EvaluateBatch(ctx context.Context, pairs []IDContent) (map[string]float64, error) {
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	return e.batch, nil
}

func newTestWorker(store MemoryStore, evaluator Evaluator) *Worker {
	return New(NewQueue(10), store, evaluator, NewTrackerWithCapacity(10), otel.Tracer("test"), zerolog.Nop())
}

func TestProcessCommitteeEvaluationSuccess(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Content: "hello"}
	eval := &fakeEvaluator{score: 0.9}
	w := newTestWorker(store, eval)

	if err := w.processCommitteeEvaluation(context.Background(), "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected exactly 1 evaluation update, got %d", len(store.updates))
	}
	u := store.updates[0]
	if u.EvaluationStatus != "Success" || u.QualityScore != 0.9 {
		t.Errorf("expected a successful evaluation with score 0.9, got %+v", u)
	}
}

func TestProcessCommitteeEvaluationMissingMemory(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	w := newTestWorker(store, &fakeEvaluator{})

	if err := w.processCommitteeEvaluation(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for a missing memory")
	}
}

func TestProcessCommitteeEvaluationFailurePersistsFallback(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Content: "hello"}
	eval := &fakeEvaluator{err: errors.New("evaluator unavailable")}
	w := newTestWorker(store, eval)

	if err := w.processCommitteeEvaluation(context.Background(), "m1"); err == nil {
		t.Fatal("expected the evaluator error to propagate after retries are exhausted")
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected a fallback evaluation to be persisted, got %d updates", len(store.updates))
	}
	u := store.updates[0]
	if u.EvaluationStatus != "Failed" || u.QualityScore != 0.5 {
		t.Errorf("expected a Failed fallback with neutral score 0.5, got %+v", u)
	}
}

func TestProcessEntanglementDiscoveryLinksAboveThreshold(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	source := &Memory{ID: "m1", Embedding: []float32{1, 0, 0}}
	store.memories["m1"] = source
	store.neighbors = []*Memory{
		{ID: "m1", Embedding: []float32{1, 0, 0}}, // self, must be excluded
		{ID: "m2", Embedding: []float32{1, 0, 0}}, // identical, similarity 1.0
		{ID: "m3", Embedding: []float32{0, 1, 0}}, // orthogonal, similarity 0
	}
	w := newTestWorker(store, &fakeEvaluator{})

	if err := w.processEntanglementDiscovery(context.Background(), "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.rels) != 1 {
		t.Fatalf("expected exactly 1 relationship above threshold, got %d", len(store.rels))
	}
	rel := store.rels[0]
	if rel.Source != "m1" || rel.Target != "m2" || rel.Kind != "entangled" {
		t.Errorf("expected an entangled m1->m2 relationship, got %+v", rel)
	}
}

func TestProcessEntanglementDiscoverySkipsBelowThreshold(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Embedding: []float32{1, 0, 0}}
	store.neighbors = []*Memory{{ID: "m2", Embedding: []float32{0, 1, 0}}}
	w := newTestWorker(store, &fakeEvaluator{})

	if err := w.processEntanglementDiscovery(context.Background(), "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.rels) != 0 {
		t.Errorf("expected no relationship below the similarity threshold, got %d", len(store.rels))
	}
}

func TestProcessEntanglementDiscoveryRequiresEmbedding(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1"}
	w := newTestWorker(store, &fakeEvaluator{})

	if err := w.processEntanglementDiscovery(context.Background(), "m1"); err == nil {
		t.Fatal("expected an error when the memory has no embedding")
	}
}

func TestProcessBatchEvaluationDropsMissingAndAppliesScores(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Content: "a"}
	store.memories["m2"] = &Memory{ID: "m2", Content: "b"}
	eval := &fakeEvaluator{batch: map[string]float64{"m1": 0.4, "m2": 0.6}}
	w := newTestWorker(store, eval)

	err := w.processBatchEvaluation(context.Background(), []string{"m1", "m2", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 2 {
		t.Fatalf("expected 2 persisted updates (missing memory dropped), got %d", len(store.updates))
	}
	for _, u := range store.updates {
		if u.EvaluationStatus != "Success" {
			t.Errorf("expected a successful batch update, got %+v", u)
		}
	}
}

func TestProcessBatchEvaluationAllFailOnEvaluatorError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Content: "a"}
	eval := &fakeEvaluator{batchErr: errors.New("batch evaluator down")}
	w := newTestWorker(store, eval)

	if err := w.processBatchEvaluation(context.Background(), []string{"m1"}); err == nil {
		t.Fatal("expected the batch evaluator error to propagate")
	}

	if len(store.updates) != 1 || store.updates[0].EvaluationStatus != "Failed" {
		t.Fatalf("expected every memory in the batch to be marked Failed, got %+v", store.updates)
	}
}

func TestWorkerRunDrainsQueueUntilClosed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.memories["m1"] = &Memory{ID: "m1", Content: "hello"}
	eval := &fakeEvaluator{score: 0.8}
	queue := NewQueue(10)
	w := New(queue, store, eval, NewTrackerWithCapacity(10), otel.Tracer("test"), zerolog.Nop())

	if _, err := queue.Enqueue(&Task{Kind: KindCommitteeEvaluation, MemoryID: "m1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	queue.Close()

	w.Run(context.Background())

	if len(store.updates) != 1 {
		t.Fatalf("expected the single queued task to have been processed, got %d updates", len(store.updates))
	}
}

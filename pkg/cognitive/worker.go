package cognitive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/duskforge/infercore/pkg/internal/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	evaluationTimeout      = 10 * time.Second
	evaluationMaxRetries   = 2
	evaluationInitialDelay = 100 * time.Millisecond
	entanglementThreshold  = 0.70
	entanglementTopK       = 10
)

// Worker is the long-lived background task draining a Queue. One Worker
// per Queue, per spec.md §4.I.
type Worker struct {
	queue     *Queue
	store     MemoryStore
	evaluator Evaluator
	tracker   *Tracker
	tracer    trace.Tracer
	log       zerolog.Logger
}

// New constructs a cognitive Worker.
func New(queue *Queue, store MemoryStore, evaluator Evaluator, tracker *Tracker, tracer trace.Tracer, log zerolog.Logger) *Worker {
	return &Worker{queue: queue, store: store, evaluator: evaluator, tracker: tracker, tracer: tracer, log: log}
}

// Run dequeues and dispatches tasks until the queue is closed. Intended to
// run in its own goroutine for the process lifetime. The worker never
// parks on blocking I/O outside of Dequeue itself; a single task's failure
// never terminates the worker.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, ok := w.queue.Dequeue()
		if !ok {
			return
		}
		w.dispatch(ctx, task)
	}
}

func (w *Worker) dispatch(ctx context.Context, task *Task) {
	w.tracker.Start(task.opID)

	ctx, span := w.tracer.Start(ctx, "cognitive.task",
		trace.WithAttributes(
			attribute.String("task.kind", task.Kind.String()),
			attribute.String("task.op_id", task.opID),
		))
	defer span.End()

	var err error
	switch task.Kind {
	case KindCommitteeEvaluation:
		err = w.processCommitteeEvaluation(ctx, task.MemoryID)
	case KindEntanglementDiscovery:
		err = w.processEntanglementDiscovery(ctx, task.MemoryID)
	case KindBatchCommitteeEvaluation:
		err = w.processBatchEvaluation(ctx, task.MemoryIDs)
	default:
		err = fmt.Errorf("cognitive: unknown task kind %v", task.Kind)
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		span.RecordError(err)
		w.log.Error().Err(err).Str("op_id", task.opID).Str("kind", task.Kind.String()).Msg("cognitive task failed")
	}
	w.tracker.Complete(task.opID, task.Kind, err == nil, errMsg)
}

// processCommitteeEvaluation implements spec.md §4.I's CommitteeEvaluation
// dispatch, ported from cognitive_worker.rs::process_committee_evaluation.
func (w *Worker) processCommitteeEvaluation(ctx context.Context, memoryID string) error {
	mem, ok, err := w.store.Get(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("cognitive: fetch memory %s: %w", memoryID, err)
	}
	if !ok {
		return fmt.Errorf("cognitive: memory %s not found", memoryID)
	}

	score, evalErr := evaluateWithTimeoutAndRetry(ctx, w.evaluator, mem.Content)
	if evalErr != nil {
		update := EvaluationUpdate{
			MemoryID:         memoryID,
			QualityScore:     0.5,
			EvaluationStatus: "Failed",
			ErrorMessage:     evalErr.Error(),
			EvaluatedAt:      time.Now().UTC().Format(time.RFC3339),
			EvaluationMethod: "committee",
		}
		if err := w.store.ApplyEvaluation(ctx, update); err != nil {
			w.log.Error().Err(err).Str("memory_id", memoryID).Msg("failed to persist fallback evaluation")
		}
		return evalErr
	}

	update := EvaluationUpdate{
		MemoryID:         memoryID,
		QualityScore:     score,
		EvaluationStatus: "Success",
		EvaluatedAt:      time.Now().UTC().Format(time.RFC3339),
		EvaluationMethod: "committee",
	}
	return w.store.ApplyEvaluation(ctx, update)
}

// evaluateWithTimeoutAndRetry wraps one evaluator call with a 10-second
// per-attempt timeout and up to 2 retries with exponential backoff
// starting at 100ms, ported from
// cognitive_worker.rs::evaluate_with_timeout_and_retry. Reuses the
// package-level retry.Do helper rather than reimplementing backoff.
func evaluateWithTimeoutAndRetry(ctx context.Context, evaluator Evaluator, content string) (float64, error) {
	var score float64
	cfg := retry.Config{
		MaxRetries:   evaluationMaxRetries,
		InitialDelay: evaluationInitialDelay,
		MaxDelay:     evaluationInitialDelay * 8,
		Multiplier:   2.0,
		Jitter:       false,
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, evaluationTimeout)
		defer cancel()
		v, err := evaluator.Evaluate(attemptCtx, content)
		if err != nil {
			return err
		}
		score = v
		return nil
	})
	return score, err
}

// processEntanglementDiscovery implements spec.md §4.I's
// EntanglementDiscovery dispatch, ported from
// cognitive_worker.rs::process_entanglement_discovery.
func (w *Worker) processEntanglementDiscovery(ctx context.Context, memoryID string) error {
	mem, ok, err := w.store.Get(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("cognitive: fetch memory %s: %w", memoryID, err)
	}
	if !ok || len(mem.Embedding) == 0 {
		return fmt.Errorf("cognitive: memory %s absent or embedding-less", memoryID)
	}

	neighbors, err := w.store.SearchByVector(ctx, mem.Embedding, entanglementTopK)
	if err != nil {
		return fmt.Errorf("cognitive: search by vector: %w", err)
	}

	links := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for _, n := range neighbors {
		if n.ID == memoryID {
			continue
		}
		sim := cosineSimilarity(mem.Embedding, n.Embedding)
		if sim <= entanglementThreshold {
			continue
		}
		rel := Relationship{
			Kind:         "entangled",
			Source:       memoryID,
			Target:       n.ID,
			Strength:     sim,
			DiscoveredAt: now,
		}
		if err := w.store.CreateRelationship(ctx, rel); err != nil {
			w.log.Error().Err(err).Str("source", memoryID).Str("target", n.ID).Msg("failed to persist entanglement link")
			continue
		}
		links++
		w.log.Debug().Str("source", memoryID).Str("target", n.ID).Float64("strength", sim).Msg("entanglement link discovered")
	}

	w.log.Info().Str("memory_id", memoryID).Int("links", links).Msg("entanglement discovery complete")
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// processBatchEvaluation implements spec.md §4.I's BatchCommitteeEvaluation
// dispatch, ported from cognitive_worker.rs::process_batch_evaluation. A
// missing memory is logged and dropped, not a hard failure of the batch.
func (w *Worker) processBatchEvaluation(ctx context.Context, ids []string) error {
	found, err := w.store.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("cognitive: fetch memories: %w", err)
	}

	pairs := make([]IDContent, 0, len(found))
	for _, id := range ids {
		mem, ok := found[id]
		if !ok {
			w.log.Warn().Str("memory_id", id).Msg("memory missing from batch fetch; dropping from batch evaluation")
			continue
		}
		pairs = append(pairs, IDContent{ID: mem.ID, Content: mem.Content})
	}

	scores, err := w.evaluator.EvaluateBatch(ctx, pairs)
	now := time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		for _, p := range pairs {
			update := EvaluationUpdate{
				MemoryID:         p.ID,
				EvaluationStatus: "Failed",
				ErrorMessage:     err.Error(),
				EvaluatedAt:      now,
				EvaluationMethod: "batch_committee",
			}
			if applyErr := w.store.ApplyEvaluation(ctx, update); applyErr != nil {
				w.log.Error().Err(applyErr).Str("memory_id", p.ID).Msg("failed to persist batch failure")
			}
		}
		return fmt.Errorf("cognitive: batch evaluate: %w", err)
	}

	for _, p := range pairs {
		score, ok := scores[p.ID]
		if !ok {
			continue
		}
		update := EvaluationUpdate{
			MemoryID:         p.ID,
			QualityScore:     score,
			EvaluationStatus: "Success",
			EvaluatedAt:      now,
			EvaluationMethod: "batch_committee",
		}
		if err := w.store.ApplyEvaluation(ctx, update); err != nil {
			w.log.Error().Err(err).Str("memory_id", p.ID).Msg("failed to persist batch evaluation")
		}
	}
	return nil
}

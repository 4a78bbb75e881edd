package pool

import (
	"context"
	"time"

	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/duskforge/infercore/pkg/telemetry"
	"github.com/duskforge/infercore/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Embed implements spec.md §4.D steps 6-8 for a single embedding request:
// acquire a scoped pending-counter guard, send on the worker's embed inbox
// (failing SendError if full), and await the reply under the pool's
// configured request timeout.
func Embed(ctx context.Context, p *Pool[*worker.EmbeddingHandle], key modelkey.Key, text, task string) ([]float32, *Error) {
	result, err := telemetry.RecordSpan(ctx, p.Tracer(), telemetry.SpanOptions{
		Name:        "pool.embed",
		Attributes:  []attribute.KeyValue{attribute.String("model_key", string(key))},
		EndWhenDone: true,
	}, func(ctx context.Context, _ trace.Span) ([]float32, error) {
		return embedInner(ctx, p, key, text, task)
	})
	if err != nil {
		var perr *Error
		if e, ok := err.(*Error); ok {
			perr = e
		} else {
			perr = newErr(KindModelError, "embed", err.Error(), err)
		}
		return nil, perr
	}
	return result, nil
}

func embedInner(ctx context.Context, p *Pool[*worker.EmbeddingHandle], key modelkey.Key, text, task string) ([]float32, error) {
	h, guard, selErr := p.SelectWorker(key)
	if selErr != nil {
		return nil, selErr
	}
	defer guard.Release()

	reply := make(chan worker.EmbedResult, 1)
	req := &worker.EmbedRequest{Ctx: ctx, Text: text, Task: task, Reply: reply}

	select {
	case h.EmbedInbox <- req:
	default:
		return nil, newErr(KindSendError, "embed", "embed inbox full", nil)
	}

	timer := time.NewTimer(p.RequestTimeout())
	defer timer.Stop()

	select {
	case res, ok := <-reply:
		if !ok {
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindRecvError, "embed", "reply channel closed", nil)
		}
		if res.Err != nil {
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindModelError, "embed", res.Err.Error(), res.Err)
		}
		p.RecordOutcome(key, true, false)
		return res.Vector, nil

	case <-timer.C:
		p.RecordOutcome(key, false, true)
		return nil, newErr(KindTimeout, "embed", "request timed out", nil)

	case <-ctx.Done():
		p.RecordOutcome(key, false, false)
		return nil, newErr(KindRecvError, "embed", ctx.Err().Error(), ctx.Err())
	}
}

// BatchEmbed is the batch variant of Embed.
func BatchEmbed(ctx context.Context, p *Pool[*worker.EmbeddingHandle], key modelkey.Key, texts []string, task string) ([][]float32, *Error) {
	result, err := telemetry.RecordSpan(ctx, p.Tracer(), telemetry.SpanOptions{
		Name:        "pool.batch_embed",
		Attributes:  []attribute.KeyValue{attribute.String("model_key", string(key))},
		EndWhenDone: true,
	}, func(ctx context.Context, _ trace.Span) ([][]float32, error) {
		return batchEmbedInner(ctx, p, key, texts, task)
	})
	if err != nil {
		var perr *Error
		if e, ok := err.(*Error); ok {
			perr = e
		} else {
			perr = newErr(KindModelError, "batch_embed", err.Error(), err)
		}
		return nil, perr
	}
	return result, nil
}

func batchEmbedInner(ctx context.Context, p *Pool[*worker.EmbeddingHandle], key modelkey.Key, texts []string, task string) ([][]float32, error) {
	h, guard, selErr := p.SelectWorker(key)
	if selErr != nil {
		return nil, selErr
	}
	defer guard.Release()

	reply := make(chan worker.BatchEmbedResult, 1)
	req := &worker.BatchEmbedRequest{Ctx: ctx, Texts: texts, Task: task, Reply: reply}

	select {
	case h.BatchInbox <- req:
	default:
		return nil, newErr(KindSendError, "batch_embed", "batch embed inbox full", nil)
	}

	timer := time.NewTimer(p.RequestTimeout())
	defer timer.Stop()

	select {
	case res, ok := <-reply:
		if !ok {
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindRecvError, "batch_embed", "reply channel closed", nil)
		}
		if res.Err != nil {
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindModelError, "batch_embed", res.Err.Error(), res.Err)
		}
		p.RecordOutcome(key, true, false)
		return res.Vectors, nil

	case <-timer.C:
		p.RecordOutcome(key, false, true)
		return nil, newErr(KindTimeout, "batch_embed", "request timed out", nil)

	case <-ctx.Done():
		p.RecordOutcome(key, false, false)
		return nil, newErr(KindRecvError, "batch_embed", ctx.Err().Error(), ctx.Err())
	}
}

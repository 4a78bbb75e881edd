package pool

import (
	"context"
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/duskforge/infercore/pkg/telemetry"
	"github.com/duskforge/infercore/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// promptStream adapts a worker's chunk channel into a capability.ChunkStream,
// releasing the pending-counter guard once the stream is fully drained or
// closed early by the caller.
type promptStream struct {
	chunks  chan capability.CompletionChunk
	guard   *worker.PendingGuard
	cur     capability.CompletionChunk
	err     error
	done    bool
	release func()
}

func (s *promptStream) Next() bool {
	if s.done {
		return false
	}
	c, ok := <-s.chunks
	if !ok {
		s.done = true
		s.release()
		return false
	}
	s.cur = c
	if c.Kind == capability.ChunkError {
		s.err = &modelError{msg: c.Err}
	}
	return true
}

func (s *promptStream) Chunk() capability.CompletionChunk { return s.cur }
func (s *promptStream) Err() error                         { return s.err }
func (s *promptStream) Close() error {
	if !s.done {
		s.done = true
		s.release()
	}
	return nil
}

type modelError struct{ msg string }

func (e *modelError) Error() string { return e.msg }

// Prompt implements spec.md §4.D for the text-to-text capability. Admission
// (select worker, send to inbox) is bounded by the pool's request timeout;
// once the stream starts flowing the caller's ctx governs cancellation for
// the remainder of generation, since the per-token loop inside the worker
// is the generator's own timing concern, not the pool's admission concern.
func Prompt(ctx context.Context, p *Pool[*worker.TextToTextHandle], key modelkey.Key, prompt capability.Prompt, params capability.SamplingParams) (capability.ChunkStream, *Error) {
	result, err := telemetry.RecordSpan(ctx, p.Tracer(), telemetry.SpanOptions{
		Name:        "pool.prompt",
		Attributes:  []attribute.KeyValue{attribute.String("model_key", string(key))},
		EndWhenDone: true,
	}, func(ctx context.Context, _ trace.Span) (capability.ChunkStream, error) {
		return promptInner(ctx, p, key, prompt, params)
	})
	if err != nil {
		var perr *Error
		if e, ok := err.(*Error); ok {
			perr = e
		} else {
			perr = newErr(KindModelError, "prompt", err.Error(), err)
		}
		return nil, perr
	}
	return result, nil
}

// promptInner performs the admission phase only: selecting a worker,
// sending the request, and awaiting the first chunk or an admission
// failure. The span recorded by Prompt covers exactly this phase, not the
// full lifetime of the returned stream.
func promptInner(ctx context.Context, p *Pool[*worker.TextToTextHandle], key modelkey.Key, prompt capability.Prompt, params capability.SamplingParams) (capability.ChunkStream, error) {
	h, guard, selErr := p.SelectWorker(key)
	if selErr != nil {
		return nil, selErr
	}

	chunks := make(chan capability.CompletionChunk, 8)
	admitErr := make(chan error, 1)
	req := &worker.PromptRequest{Ctx: ctx, Prompt: prompt, Params: params, Chunks: chunks, Err: admitErr}

	select {
	case h.Inbox <- req:
	default:
		guard.Release()
		return nil, newErr(KindSendError, "prompt", "prompt inbox full", nil)
	}

	timer := time.NewTimer(p.RequestTimeout())
	defer timer.Stop()

	released := false
	release := func() {
		if !released {
			released = true
			guard.Release()
		}
	}

	select {
	case err := <-admitErr:
		release()
		p.RecordOutcome(key, false, false)
		return nil, newErr(KindModelError, "prompt", err.Error(), err)

	case first, ok := <-chunks:
		if !ok {
			release()
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindRecvError, "prompt", "stream closed before any chunk", nil)
		}
		p.RecordOutcome(key, true, false)
		rechunked := make(chan capability.CompletionChunk, cap(chunks)+1)
		rechunked <- first
		go func() {
			for c := range chunks {
				rechunked <- c
			}
			close(rechunked)
		}()
		return &promptStream{chunks: rechunked, guard: guard, release: release}, nil

	case <-timer.C:
		release()
		p.RecordOutcome(key, false, true)
		return nil, newErr(KindTimeout, "prompt", "request timed out awaiting first chunk", nil)

	case <-ctx.Done():
		release()
		p.RecordOutcome(key, false, false)
		return nil, newErr(KindRecvError, "prompt", ctx.Err().Error(), ctx.Err())
	}
}

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

type imageStream struct {
	chunks  chan capability.ImageChunk
	cur     capability.ImageChunk
	done    bool
	release func()
}

func (s *imageStream) Next() bool {
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
	return true
}

func (s *imageStream) Chunk() capability.ImageChunk { return s.cur }
func (s *imageStream) Err() error                    { return nil }
func (s *imageStream) Close() error {
	if !s.done {
		s.done = true
		s.release()
	}
	return nil
}

// Generate is the text-to-image analogue of Prompt.
func Generate(ctx context.Context, p *Pool[*worker.TextToImageHandle], key modelkey.Key, prompt string, cfg capability.ImageConfig) (capability.ImageChunkStream, *Error) {
	result, err := telemetry.RecordSpan(ctx, p.Tracer(), telemetry.SpanOptions{
		Name:        "pool.generate",
		Attributes:  []attribute.KeyValue{attribute.String("model_key", string(key))},
		EndWhenDone: true,
	}, func(ctx context.Context, _ trace.Span) (capability.ImageChunkStream, error) {
		return generateInner(ctx, p, key, prompt, cfg)
	})
	if err != nil {
		var perr *Error
		if e, ok := err.(*Error); ok {
			perr = e
		} else {
			perr = newErr(KindModelError, "generate", err.Error(), err)
		}
		return nil, perr
	}
	return result, nil
}

// generateInner performs the admission phase only, mirroring promptInner.
func generateInner(ctx context.Context, p *Pool[*worker.TextToImageHandle], key modelkey.Key, prompt string, cfg capability.ImageConfig) (capability.ImageChunkStream, error) {
	h, guard, selErr := p.SelectWorker(key)
	if selErr != nil {
		return nil, selErr
	}

	chunks := make(chan capability.ImageChunk, 8)
	admitErr := make(chan error, 1)
	req := &worker.ImageRequest{Ctx: ctx, Prompt: prompt, Config: cfg, Chunks: chunks, Err: admitErr}

	select {
	case h.Inbox <- req:
	default:
		guard.Release()
		return nil, newErr(KindSendError, "generate", "image inbox full", nil)
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
		return nil, newErr(KindModelError, "generate", err.Error(), err)

	case first, ok := <-chunks:
		if !ok {
			release()
			p.RecordOutcome(key, false, false)
			return nil, newErr(KindRecvError, "generate", "stream closed before any chunk", nil)
		}
		p.RecordOutcome(key, true, false)
		rechunked := make(chan capability.ImageChunk, cap(chunks)+1)
		rechunked <- first
		go func() {
			for c := range chunks {
				rechunked <- c
			}
			close(rechunked)
		}()
		return &imageStream{chunks: rechunked, release: release}, nil

	case <-timer.C:
		release()
		p.RecordOutcome(key, false, true)
		return nil, newErr(KindTimeout, "generate", "request timed out awaiting first chunk", nil)

	case <-ctx.Done():
		release()
		p.RecordOutcome(key, false, false)
		return nil, newErr(KindRecvError, "generate", ctx.Err().Error(), ctx.Err())
	}
}

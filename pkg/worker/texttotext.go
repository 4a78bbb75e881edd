package worker

import (
	"context"
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/rs/zerolog"
)

// PromptRequest is one request-kind message for a text-to-text worker. The
// worker streams decoded chunks onto Chunks as they are produced, and closes
// it when the underlying model stream ends; Err carries admission-time
// failures only (the model itself reports mid-stream errors as a
// capability.ChunkError chunk, per spec.md §6).
type PromptRequest struct {
	Ctx    context.Context
	Prompt capability.Prompt
	Params capability.SamplingParams
	Chunks chan capability.CompletionChunk
	Err    chan error
}

// TextToTextHandle is the pool-visible handle for a text-to-text worker.
type TextToTextHandle struct {
	*Core
	Inbox chan *PromptRequest
}

// NewTextToTextHandle constructs a handle with a fresh inbox around core.
func NewTextToTextHandle(core *Core, capacity int) *TextToTextHandle {
	return &TextToTextHandle{Core: core, Inbox: make(chan *PromptRequest, capacity)}
}

// RunTextToText is the text-to-text worker's select loop. While draining one
// PromptRequest's stream the worker stays Processing for the full
// generation, matching spec.md §4.C's "does not release the model" and the
// exclusive-ownership invariant in §8: the model is never invoked again
// until the current stream is fully drained.
func RunTextToText(h *TextToTextHandle, model capability.TextToText, idleTimeout time.Duration, log zerolog.Logger) {
	h.State().TryTransition(lifecycle.Ready)

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if h.State().Load() == lifecycle.Ready {
				h.State().Store(lifecycle.Idle)
			}
			timer.Reset(idleTimeout)

		case req := <-h.Inbox:
			h.State().Store(lifecycle.Processing)
			runPrompt(req, model, log)
			h.State().Store(lifecycle.Ready)
			timer.Reset(idleTimeout)

		case hr := <-h.HealthCh:
			hr.Reply <- HealthReply{
				WorkerID:     h.ID,
				EpochSeconds: time.Now().Unix(),
				QueueDepth:   len(h.Inbox),
			}

		case <-h.ShutdownCh:
			h.State().Store(lifecycle.Evicting)
			h.State().Store(lifecycle.Dead)
			return
		}
	}
}

func runPrompt(req *PromptRequest, model capability.TextToText, log zerolog.Logger) {
	defer close(req.Chunks)

	stream, err := model.Prompt(req.Ctx, req.Prompt, req.Params)
	if err != nil {
		select {
		case req.Err <- err:
		default:
			log.Warn().Err(err).Msg("prompt admission error channel closed; discarding, client likely timed out")
		}
		return
	}
	defer stream.Close()

	for stream.Next() {
		select {
		case req.Chunks <- stream.Chunk():
		case <-req.Ctx.Done():
			return
		}
	}
	if err := stream.Err(); err != nil {
		select {
		case req.Chunks <- capability.CompletionChunk{Kind: capability.ChunkError, Err: err.Error()}:
		case <-req.Ctx.Done():
		}
	}
}

package worker

import (
	"context"
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/rs/zerolog"
)

// ImageRequest is one request-kind message for a text-to-image worker.
type ImageRequest struct {
	Ctx    context.Context
	Prompt string
	Config capability.ImageConfig
	Chunks chan capability.ImageChunk
	Err    chan error
}

// TextToImageHandle is the pool-visible handle for a text-to-image worker.
type TextToImageHandle struct {
	*Core
	Inbox chan *ImageRequest
}

// NewTextToImageHandle constructs a handle with a fresh inbox around core.
func NewTextToImageHandle(core *Core, capacity int) *TextToImageHandle {
	return &TextToImageHandle{Core: core, Inbox: make(chan *ImageRequest, capacity)}
}

// RunTextToImage is the text-to-image worker's select loop, structurally
// identical to RunTextToText: the worker stays Processing for the full
// diffusion run, streaming Step chunks followed by one Complete chunk.
func RunTextToImage(h *TextToImageHandle, model capability.TextToImage, idleTimeout time.Duration, log zerolog.Logger) {
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
			runImage(req, model, log)
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

func runImage(req *ImageRequest, model capability.TextToImage, log zerolog.Logger) {
	defer close(req.Chunks)

	stream, err := model.Generate(req.Ctx, req.Prompt, req.Config)
	if err != nil {
		select {
		case req.Err <- err:
		default:
			log.Warn().Err(err).Msg("image admission error channel closed; discarding, client likely timed out")
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
	_ = stream.Err()
}

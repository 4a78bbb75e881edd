package worker

import (
	"context"
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/rs/zerolog"
)

// EmbedRequest is one request-kind message for a text-embedding worker.
type EmbedRequest struct {
	Ctx   context.Context
	Text  string
	Task  string
	Reply chan EmbedResult
}

// EmbedResult is the reply to an EmbedRequest.
type EmbedResult struct {
	Vector []float32
	Err    error
}

// BatchEmbedRequest is the batch variant of EmbedRequest.
type BatchEmbedRequest struct {
	Ctx   context.Context
	Texts []string
	Task  string
	Reply chan BatchEmbedResult
}

// BatchEmbedResult is the reply to a BatchEmbedRequest.
type BatchEmbedResult struct {
	Vectors [][]float32
	Err     error
}

// EmbeddingHandle is the pool-visible handle for a text-embedding worker.
type EmbeddingHandle struct {
	*Core
	EmbedInbox chan *EmbedRequest
	BatchInbox chan *BatchEmbedRequest
}

// EmbeddingInboxCapacities configures the bounded per-request-kind inboxes.
type EmbeddingInboxCapacities struct {
	Embed      int
	BatchEmbed int
}

// NewEmbeddingHandle constructs a handle with fresh inboxes around core.
func NewEmbeddingHandle(core *Core, caps EmbeddingInboxCapacities) *EmbeddingHandle {
	return &EmbeddingHandle{
		Core:       core,
		EmbedInbox: make(chan *EmbedRequest, caps.Embed),
		BatchInbox: make(chan *BatchEmbedRequest, caps.BatchEmbed),
	}
}

// RunEmbedding is the text-embedding worker's select loop, ported from
// text_embedding.rs's text_embedding_worker: wait on the idle timer, the
// embed inbox, the batch inbox, the health inbox, and the shutdown inbox.
// On exit the lifecycle state is set to Dead.
func RunEmbedding(h *EmbeddingHandle, model capability.TextEmbedding, idleTimeout time.Duration, log zerolog.Logger) {
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

		case req := <-h.EmbedInbox:
			h.State().Store(lifecycle.Processing)
			vec, err := model.Embed(req.Ctx, req.Text, req.Task)
			sendEmbedReply(req.Reply, EmbedResult{Vector: vec, Err: err}, log)
			h.State().Store(lifecycle.Ready)
			timer.Reset(idleTimeout)

		case req := <-h.BatchInbox:
			h.State().Store(lifecycle.Processing)
			vecs, err := model.BatchEmbed(req.Ctx, req.Texts, req.Task)
			sendBatchEmbedReply(req.Reply, BatchEmbedResult{Vectors: vecs, Err: err}, log)
			h.State().Store(lifecycle.Ready)
			timer.Reset(idleTimeout)

		case hr := <-h.HealthCh:
			hr.Reply <- HealthReply{
				WorkerID:     h.ID,
				EpochSeconds: time.Now().Unix(),
				QueueDepth:   len(h.EmbedInbox) + len(h.BatchInbox),
			}

		case <-h.ShutdownCh:
			h.State().Store(lifecycle.Evicting)
			h.State().Store(lifecycle.Dead)
			return
		}
	}
}

func sendEmbedReply(reply chan EmbedResult, res EmbedResult, log zerolog.Logger) {
	select {
	case reply <- res:
	default:
		log.Warn().Msg("embed reply channel closed or full; discarding result, client likely timed out")
	}
}

func sendBatchEmbedReply(reply chan BatchEmbedResult, res BatchEmbedResult, log zerolog.Logger) {
	select {
	case reply <- res:
	default:
		log.Warn().Msg("batch embed reply channel closed or full; discarding result, client likely timed out")
	}
}

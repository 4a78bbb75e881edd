package pool

import (
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/governor"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/duskforge/infercore/pkg/worker"
	"github.com/rs/zerolog"
)

// SpawnConfig bounds one spawn call's inbox sizing and idle behavior.
type SpawnConfig struct {
	InboxCapacity int
	IdleTimeout   time.Duration
}

// DefaultSpawnConfig mirrors spec.md's 5-minute idle threshold.
func DefaultSpawnConfig() SpawnConfig {
	return SpawnConfig{InboxCapacity: 32, IdleTimeout: 5 * time.Minute}
}

// EmbeddingLoader constructs a loaded TextEmbedding model. It may block and
// is always run off the caller's goroutine, per spec.md §4.E step 4.
type EmbeddingLoader func() (capability.TextEmbedding, error)

// TextToTextLoader constructs a loaded TextToText model.
type TextToTextLoader func() (capability.TextToText, error)

// TextToImageLoader constructs a loaded TextToImage model.
type TextToImageLoader func() (capability.TextToImage, error)

// SpawnEmbeddingWorker implements spec.md §4.E for the text-embedding
// capability: reserve memory, build inboxes, allocate an id, then
// fire-and-forget a goroutine that loads the model and, only on success,
// registers the worker and runs its serve loop. Registration never happens
// before a successful load, so a failed loader leaves no registry trace.
func SpawnEmbeddingWorker(p *Pool[*worker.EmbeddingHandle], gov *governor.Governor, key modelkey.Key, mib int64, loader EmbeddingLoader, cfg SpawnConfig, log zerolog.Logger) error {
	guard, err := gov.Reserve(mib)
	if err != nil {
		return newErr(KindOutOfBudget, "spawn_embedding_worker", err.Error(), err)
	}

	id := p.NextWorkerID()
	core := worker.NewCore(id, key, mib, guard)
	handle := worker.NewEmbeddingHandle(core, worker.EmbeddingInboxCapacities{
		Embed:      cfg.InboxCapacity,
		BatchEmbed: cfg.InboxCapacity,
	})

	go func() {
		defer guard.Release()

		core.State().TryTransition(lifecycle.Loading)
		model, err := loader()
		if err != nil {
			core.State().TryTransition(lifecycle.Failed)
			log.Error().Err(err).Str("model_key", string(key)).Msg("embedding worker load failed")
			return
		}

		core.State().TryTransition(lifecycle.Ready)
		p.Register(key, handle)
		worker.RunEmbedding(handle, model, cfg.IdleTimeout, log)
	}()

	return nil
}

// SpawnTextToTextWorker is the text-to-text analogue of SpawnEmbeddingWorker.
func SpawnTextToTextWorker(p *Pool[*worker.TextToTextHandle], gov *governor.Governor, key modelkey.Key, mib int64, loader TextToTextLoader, cfg SpawnConfig, log zerolog.Logger) error {
	guard, err := gov.Reserve(mib)
	if err != nil {
		return newErr(KindOutOfBudget, "spawn_texttotext_worker", err.Error(), err)
	}

	id := p.NextWorkerID()
	core := worker.NewCore(id, key, mib, guard)
	handle := worker.NewTextToTextHandle(core, cfg.InboxCapacity)

	go func() {
		defer guard.Release()

		core.State().TryTransition(lifecycle.Loading)
		model, err := loader()
		if err != nil {
			core.State().TryTransition(lifecycle.Failed)
			log.Error().Err(err).Str("model_key", string(key)).Msg("text-to-text worker load failed")
			return
		}

		core.State().TryTransition(lifecycle.Ready)
		p.Register(key, handle)
		worker.RunTextToText(handle, model, cfg.IdleTimeout, log)
	}()

	return nil
}

// SpawnTextToImageWorker is the text-to-image analogue of SpawnEmbeddingWorker.
func SpawnTextToImageWorker(p *Pool[*worker.TextToImageHandle], gov *governor.Governor, key modelkey.Key, mib int64, loader TextToImageLoader, cfg SpawnConfig, log zerolog.Logger) error {
	guard, err := gov.Reserve(mib)
	if err != nil {
		return newErr(KindOutOfBudget, "spawn_texttoimage_worker", err.Error(), err)
	}

	id := p.NextWorkerID()
	core := worker.NewCore(id, key, mib, guard)
	handle := worker.NewTextToImageHandle(core, cfg.InboxCapacity)

	go func() {
		defer guard.Release()

		core.State().TryTransition(lifecycle.Loading)
		model, err := loader()
		if err != nil {
			core.State().TryTransition(lifecycle.Failed)
			log.Error().Err(err).Str("model_key", string(key)).Msg("text-to-image worker load failed")
			return
		}

		core.State().TryTransition(lifecycle.Ready)
		p.Register(key, handle)
		worker.RunTextToImage(handle, model, cfg.IdleTimeout, log)
	}()

	return nil
}

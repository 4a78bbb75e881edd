// Package modelkey defines the static, shareable data describing a model
// that a pool can load: its key, its resource and capability metadata, and
// the sampling configuration a text-to-text invocation is parameterised by.
package modelkey

import "fmt"

// Key uniquely identifies a logical model, e.g. "unsloth/Phi-4-reasoning-GGUF".
// Several workers may share one key; the key never identifies an individual
// worker instance.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Info is the static, per-key metadata a pool consults when deciding whether
// and how to spawn a worker. It is immutable once constructed and safe to
// share by reference across every worker for the key.
type Info struct {
	Key Key

	// Name is a human-readable display name, distinct from Key.
	Name string

	// PerWorkerMiB is the memory estimate reserved from the governor per
	// worker instance of this model.
	PerWorkerMiB int64

	// DefaultSampling seeds SamplingConfig for callers that don't override it.
	DefaultSampling SamplingConfig

	// SupportsStreaming is false for models that only ever produce a single
	// terminal chunk (most embedding and image models).
	SupportsStreaming bool

	MaxInputTokens  int
	MaxOutputTokens int

	// Extra carries generation-specific parameters an adapter needs but the
	// core has no structured field for (e.g. diffusion scheduler name).
	Extra map[string]any

	Special SpecialTokens
}

// SpecialTokens names the optional token ids a tokenizer may reserve.
type SpecialTokens struct {
	BOS *uint32
	EOS *uint32
	PAD *uint32
}

// SamplingConfig parameterises one text-to-text invocation's logits pipeline.
type SamplingConfig struct {
	Temperature float64

	// TopK, when non-nil, must be >= 1.
	TopK *int

	// TopP, when non-nil, must satisfy 0 < TopP <= 1.
	TopP *float64

	RepetitionPenalty      float64
	FrequencyPenalty       float64
	PresencePenalty        float64
	RepetitionContextLength int

	MaxTokens int
}

// Validate enforces the invariants spec.md §3 names: temperature > 0;
// 0 < top-p <= 1 when set; top-k >= 1 when set.
func (c SamplingConfig) Validate() error {
	if c.Temperature <= 0 {
		return fmt.Errorf("modelkey: temperature must be > 0, got %v", c.Temperature)
	}
	if c.TopP != nil && (*c.TopP <= 0 || *c.TopP > 1) {
		return fmt.Errorf("modelkey: top_p must satisfy 0 < top_p <= 1, got %v", *c.TopP)
	}
	if c.TopK != nil && *c.TopK < 1 {
		return fmt.Errorf("modelkey: top_k must be >= 1, got %v", *c.TopK)
	}
	return nil
}

// IsDeterministic reports whether the configured sampling strategy is
// deterministic: temperature effectively disabled (<= 0, which Validate
// rejects for a live config but callers may still probe a candidate value)
// or top-k pinned to 1.
func (c SamplingConfig) IsDeterministic() bool {
	if c.Temperature <= 0 {
		return true
	}
	return c.TopK != nil && *c.TopK == 1
}

// DefaultSamplingConfig mirrors the teacher's Default*() constructor idiom.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:             0.7,
		RepetitionPenalty:       1.0,
		RepetitionContextLength: 64,
		MaxTokens:               512,
	}
}

package worker

import (
	"context"
	"math/rand"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/generator"
	"github.com/duskforge/infercore/pkg/logits"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/duskforge/infercore/pkg/orchestration"
	"github.com/duskforge/infercore/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// GeneratorModel adapts a generator.Model/generator.Tokenizer pair into
// capability.TextToText, so that a text-to-text worker's select loop
// (RunTextToText -> runPrompt -> model.Prompt) drives the streaming
// token-by-token generator and its logits pipeline, with every invocation
// wrapped by orchestration.CoordinateGeneration for request counting and
// terminal-chunk conversion, per spec.md §2's end-to-end data flow.
type GeneratorModel struct {
	Model   generator.Model
	Tok     generator.Tokenizer
	Info    modelkey.Info

	Constraint logits.Constraint

	Counters *orchestration.Counters
	Tracer   trace.Tracer
	Log      zerolog.Logger
}

// Prompt implements capability.TextToText.
func (g *GeneratorModel) Prompt(ctx context.Context, prompt capability.Prompt, params capability.SamplingParams) (capability.ChunkStream, error) {
	return orchestration.CoordinateGeneration(g.Counters, func() (orchestration.RawStream, error) {
		var span trace.Span
		if g.Tracer != nil {
			ctx, span = g.Tracer.Start(ctx, "generator.stream")
		}

		cfg := generator.Config{
			Sampling:       mergeSamplingConfig(g.Info.DefaultSampling, params),
			Special:        g.Info.Special,
			MaxInputTokens: g.Info.MaxInputTokens,
			Constraint:     g.Constraint,
			Seed:           rand.Int63(),
		}

		stream := generator.New(ctx, g.Model, g.Tok, cfg, g.Log, span)
		if err := stream.Start(prompt.Text); err != nil {
			if span != nil {
				telemetry.RecordErrorOnSpan(span, err)
				span.End()
			}
			return nil, err
		}
		return stream, nil
	})
}

// mergeSamplingConfig overlays the caller-supplied SamplingParams onto the
// model's DefaultSampling: a zero-valued (unset) caller field falls back to
// the model's configured default instead of clobbering it, per spec.md §6.
// Penalty fields have no SamplingParams counterpart and always come from
// the model's defaults.
func mergeSamplingConfig(defaults modelkey.SamplingConfig, params capability.SamplingParams) modelkey.SamplingConfig {
	merged := defaults
	if params.Temperature > 0 {
		merged.Temperature = params.Temperature
	}
	if params.MaxTokens > 0 {
		merged.MaxTokens = params.MaxTokens
	}
	if params.TopK != nil {
		merged.TopK = params.TopK
	}
	if params.TopP != nil {
		merged.TopP = params.TopP
	}
	return merged
}

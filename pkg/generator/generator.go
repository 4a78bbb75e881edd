// Package generator implements the streaming token-by-token text generator:
// encode, forward-pass, sample, emit, loop until stop. Ported from
// original_source/packages/candle/src/core/generation/generator.rs's
// generate() control flow; this is the hardest and most spec-critical part
// of the core (spec.md §4.F).
package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/duskforge/infercore/pkg/capability"
	"github.com/duskforge/infercore/pkg/logits"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Model performs one forward pass: given the full token sequence and the
// position to evaluate from, returns logits over the vocabulary. Concrete
// tensor/model libraries are out of scope; callers adapt their model to
// this interface.
type Model interface {
	Forward(ctx context.Context, tokens []uint32, position int) ([]float64, error)
}

// Tokenizer encodes prompts and decodes sampled tokens. Embeds
// logits.Vocabulary so a Tokenizer can also back a JSON grammar constraint.
type Tokenizer interface {
	logits.Vocabulary
	Encode(prompt string) ([]uint32, error)
	Decode(tokens []uint32) (string, error)
}

// Stats accumulates per-run statistics, mirroring generator.rs's counters.
type Stats struct {
	InputTokens   int
	OutputTokens  int
	ForwardPasses int
	Wall          time.Duration
	Stopped       bool
}

// Config parameterises one generation run.
type Config struct {
	Sampling       modelkey.SamplingConfig
	Special        modelkey.SpecialTokens
	MaxInputTokens int
	Constraint     logits.Constraint
	Seed           int64
}

// Stream is a lazy, finite, pull-based stream of decoded text fragments.
// Call Next() to advance; Text() returns the fragment produced by the most
// recent Next() call that returned true.
type Stream struct {
	ctx   context.Context
	model Model
	tok   Tokenizer
	cfg   Config
	log   zerolog.Logger
	span  trace.Span

	rng *rand.Rand

	tokens   []uint32
	position int

	cstate logits.ConstraintState

	started bool
	stopped bool
	err     error
	cur     string

	startedAt time.Time
	stats     Stats
}

// New constructs a Stream for one generation invocation. The tokenizer and
// model are never shared across concurrent invocations (each worker owns
// its model exclusively); each invocation gets its own rng seeded from cfg.
func New(ctx context.Context, model Model, tok Tokenizer, cfg Config, log zerolog.Logger, span trace.Span) *Stream {
	return &Stream{
		ctx:   ctx,
		model: model,
		tok:   tok,
		cfg:   cfg,
		log:   log,
		span:  span,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Err returns the terminal error, if generation stopped abnormally.
func (s *Stream) Err() error { return s.err }

// Text returns the fragment produced by the most recent Next() call.
func (s *Stream) Text() string { return s.cur }

// Stats returns a snapshot of the run's statistics so far.
func (s *Stream) Stats() Stats { return s.stats }

// Usage reports token accounting in the shape orchestration.RawStream and
// the capability layer expect.
func (s *Stream) Usage() capability.Usage {
	return capability.Usage{InputTokens: s.stats.InputTokens, OutputTokens: s.stats.OutputTokens}
}

// Next advances the generator by one step, per spec.md §4.F's algorithm.
// Returns false once the stream is exhausted, either cleanly (EOS or
// max-tokens) or due to an error recorded in Err().
func (s *Stream) Next() bool {
	if s.stopped {
		return false
	}
	if !s.started {
		s.started = true
		s.startedAt = time.Now()
		if s.cfg.Sampling.MaxTokens <= 0 {
			s.finish()
			return false
		}
		return s.runFirstStep()
	}
	return s.loop()
}

// Start encodes prompt, checks it against the configured max input tokens,
// and primes the stream to begin generation on the first Next() call.
// Returns an error immediately if the prompt is too long, without running
// any forward pass, per spec.md §8's boundary behavior.
func (s *Stream) Start(prompt string) error {
	tokens, err := s.tok.Encode(prompt)
	if err != nil {
		return fmt.Errorf("generator: encode: %w", err)
	}
	if s.cfg.MaxInputTokens > 0 && len(tokens) > s.cfg.MaxInputTokens {
		return fmt.Errorf("generator: prompt exceeds max input tokens (%d > %d)", len(tokens), s.cfg.MaxInputTokens)
	}
	s.tokens = tokens
	s.stats.InputTokens = len(tokens)
	if s.cfg.Constraint != nil {
		s.cstate = s.cfg.Constraint.NewState()
	}
	return nil
}

func (s *Stream) runFirstStep() bool {
	logitsBuf, err := s.model.Forward(s.ctx, s.tokens, 0)
	if err != nil {
		return s.fail(fmt.Errorf("generator: forward pass: %w", err))
	}
	s.stats.ForwardPasses++

	tok, err := logits.Sample(logitsBuf, s.cfg.Sampling, s.tokens, s.cfg.Constraint, s.cstate, s.rng)
	if err != nil {
		return s.fail(fmt.Errorf("generator: sample: %w", err))
	}

	s.tokens = append(s.tokens, tok)
	s.position = len(s.tokens) - 1

	if s.cfg.Constraint != nil && s.cstate != nil {
		if _, err := s.cfg.Constraint.Update(s.cstate, tok); err != nil {
			return s.fail(fmt.Errorf("generator: update constraint: %w", err))
		}
	}

	text, err := s.tok.Decode([]uint32{tok})
	if err != nil {
		return s.fail(fmt.Errorf("generator: decode: %w", err))
	}
	s.cur = text
	s.stats.OutputTokens++

	// Emit the first fragment unconditionally, even if the token is EOS;
	// this guarantees every successful invocation yields >= 1 chunk.
	if s.isEOS(tok) {
		s.finish()
		return true
	}
	return true
}

func (s *Stream) loop() bool {
	if s.stats.OutputTokens >= s.cfg.Sampling.MaxTokens {
		s.finish()
		return false
	}

	logitsBuf, err := s.model.Forward(s.ctx, s.tokens, s.position)
	if err != nil {
		return s.fail(fmt.Errorf("generator: forward pass: %w", err))
	}
	s.stats.ForwardPasses++

	tok, err := logits.Sample(logitsBuf, s.cfg.Sampling, s.tokens, s.cfg.Constraint, s.cstate, s.rng)
	if err != nil {
		return s.fail(fmt.Errorf("generator: sample: %w", err))
	}

	if s.isEOS(tok) {
		s.finish()
		return false
	}

	s.tokens = append(s.tokens, tok)
	s.position = len(s.tokens) - 1

	if s.cfg.Constraint != nil && s.cstate != nil {
		if _, err := s.cfg.Constraint.Update(s.cstate, tok); err != nil {
			return s.fail(fmt.Errorf("generator: update constraint: %w", err))
		}
	}

	text, err := s.tok.Decode([]uint32{tok})
	if err != nil {
		return s.fail(fmt.Errorf("generator: decode: %w", err))
	}
	s.cur = text
	s.stats.OutputTokens++
	return true
}

func (s *Stream) isEOS(tok uint32) bool {
	return s.cfg.Special.EOS != nil && tok == *s.cfg.Special.EOS
}

func (s *Stream) fail(err error) bool {
	s.log.Error().Err(err).Msg("generation terminated")
	s.err = err
	if s.span != nil {
		s.span.RecordError(err)
	}
	s.finish()
	return false
}

func (s *Stream) finish() {
	s.stopped = true
	s.stats.Stopped = true
	s.stats.Wall = time.Since(s.startedAt)
	if s.span != nil {
		s.span.End()
	}
}

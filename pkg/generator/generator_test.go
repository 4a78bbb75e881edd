package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// fakeModel returns a fixed logits vector per forward pass, regardless of
// the token history, except when forwardErr is set.
type fakeModel struct {
	seq       [][]float64
	i         int
	forwardErr error
	calls      int
}

func (m *fakeModel) Forward(ctx context.Context, tokens []uint32, position int) ([]float64, error) {
	m.calls++
	if m.forwardErr != nil {
		return nil, m.forwardErr
	}
	if m.i >= len(m.seq) {
		return m.seq[len(m.seq)-1], nil
	}
	v := m.seq[m.i]
	m.i++
	return v, nil
}

// fakeTokenizer treats each rune of the prompt as one token id (its byte
// value), and decodes each token id back into the corresponding rune.
type fakeTokenizer struct {
	encodeErr error
	decodeErr error
}

func (fakeTokenizer) VocabSize() int { return 256 }
func (fakeTokenizer) TokenBytes(id uint32) []byte { return []byte{byte(id)} }

func (t fakeTokenizer) Encode(prompt string) ([]uint32, error) {
	if t.encodeErr != nil {
		return nil, t.encodeErr
	}
	toks := make([]uint32, len(prompt))
	for i, b := range []byte(prompt) {
		toks[i] = uint32(b)
	}
	return toks, nil
}

func (t fakeTokenizer) Decode(tokens []uint32) (string, error) {
	if t.decodeErr != nil {
		return "", t.decodeErr
	}
	b := make([]byte, len(tokens))
	for i, tok := range tokens {
		b[i] = byte(tok)
	}
	return string(b), nil
}

func newTestStream(model Model, cfg Config) *Stream {
	_, span := otel.Tracer("test").Start(context.Background(), "test")
	return New(context.Background(), model, fakeTokenizer{}, cfg, zerolog.Nop(), span)
}

func TestStartRejectsPromptExceedingMaxInputTokens(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	s := newTestStream(model, Config{
		Sampling:       modelkey.SamplingConfig{Temperature: 1, MaxTokens: 10},
		MaxInputTokens: 2,
	})
	if err := s.Start("abc"); err == nil {
		t.Fatal("expected an error when the encoded prompt exceeds max input tokens")
	}
	if model.calls != 0 {
		t.Error("expected no forward pass to run when the boundary check fails")
	}
}

func TestMaxTokensZeroEmitsNoChunks(t *testing.T) {
	t.Parallel()

	s := newTestStream(&fakeModel{}, Config{
		Sampling: modelkey.SamplingConfig{Temperature: 1, MaxTokens: 0},
	})
	if err := s.Start("hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Next() {
		t.Fatal("expected MaxTokens<=0 to emit zero chunks")
	}
	if s.Err() != nil {
		t.Errorf("expected a clean boundary stop, got error: %v", s.Err())
	}
	if s.Stats().OutputTokens != 0 {
		t.Errorf("expected zero output tokens, got %d", s.Stats().OutputTokens)
	}
}

func TestFirstTokenEmittedEvenIfEOS(t *testing.T) {
	t.Parallel()

	eos := uint32('Z')
	model := &fakeModel{seq: [][]float64{logitsFavoring('Z', 3)}}
	s := newTestStream(model, Config{
		Sampling: modelkey.SamplingConfig{Temperature: 1, TopK: intPtr(1), MaxTokens: 10},
		Special:  modelkey.SpecialTokens{EOS: &eos},
	})
	if err := s.Start("x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Next() {
		t.Fatalf("expected the first step to emit a chunk even though it is EOS, err=%v", s.Err())
	}
	if s.Text() != "Z" {
		t.Errorf("expected decoded text %q, got %q", "Z", s.Text())
	}
	if s.Next() {
		t.Error("expected the stream to be exhausted immediately after an EOS first token")
	}
}

func TestLoopStopsOnEOSWithoutEmittingIt(t *testing.T) {
	t.Parallel()

	eos := uint32('E')
	model := &fakeModel{seq: [][]float64{
		logitsFavoring('A', 3),
		logitsFavoring('E', 3),
	}}
	s := newTestStream(model, Config{
		Sampling: modelkey.SamplingConfig{Temperature: 1, TopK: intPtr(1), MaxTokens: 10},
		Special:  modelkey.SpecialTokens{EOS: &eos},
	})
	if err := s.Start("x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Next() {
		t.Fatalf("expected first token 'A' to be emitted, err=%v", s.Err())
	}
	if s.Text() != "A" {
		t.Errorf("expected first emitted text %q, got %q", "A", s.Text())
	}

	if s.Next() {
		t.Error("expected the loop step whose sampled token is EOS to stop without emitting")
	}
	if s.Err() != nil {
		t.Errorf("expected a clean stop, got error: %v", s.Err())
	}
	if s.Stats().OutputTokens != 1 {
		t.Errorf("expected exactly 1 output token (EOS itself not counted), got %d", s.Stats().OutputTokens)
	}
}

func TestLoopStopsAtMaxTokens(t *testing.T) {
	t.Parallel()

	model := &fakeModel{seq: [][]float64{
		logitsFavoring('A', 3),
		logitsFavoring('A', 3),
	}}
	s := newTestStream(model, Config{
		Sampling: modelkey.SamplingConfig{Temperature: 1, TopK: intPtr(1), MaxTokens: 1},
	})
	if err := s.Start("x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !s.Next() {
		t.Fatalf("expected the first token to be emitted, err=%v", s.Err())
	}
	if s.Next() {
		t.Error("expected generation to stop once MaxTokens output tokens have been produced")
	}
	if s.Stats().OutputTokens != 1 {
		t.Errorf("expected exactly 1 output token, got %d", s.Stats().OutputTokens)
	}
}

func TestForwardPassErrorStopsStreamCleanly(t *testing.T) {
	t.Parallel()

	model := &fakeModel{forwardErr: errors.New("boom")}
	s := newTestStream(model, Config{
		Sampling: modelkey.SamplingConfig{Temperature: 1, TopK: intPtr(1), MaxTokens: 10},
	})
	if err := s.Start("x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Next() {
		t.Fatal("expected a forward pass failure to stop the stream without yielding a chunk")
	}
	if s.Err() == nil {
		t.Error("expected Err() to report the forward pass failure")
	}
	if s.Text() != "" {
		t.Errorf("expected no partial text on failure, got %q", s.Text())
	}
}

func logitsFavoring(r byte, size int) []float64 {
	v := make([]float64, 256)
	for i := range v {
		v[i] = -10
	}
	v[r] = 10
	return v
}

func intPtr(i int) *int { return &i }

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duskforge/infercore/pkg/governor"
	"github.com/duskforge/infercore/pkg/lifecycle"
	"github.com/duskforge/infercore/pkg/modelkey"
	"github.com/rs/zerolog"
)

type fakeEmbedder struct {
	vec    []float32
	vecs   [][]float32
	err    error
	called int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, task string) ([]float32, error) {
	f.called++
	return f.vec, f.err
}

func (f *fakeEmbedder) BatchEmbed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	f.called++
	return f.vecs, f.err
}

func newEmbeddingHandleForTest(t *testing.T) *EmbeddingHandle {
	t.Helper()
	gov := governor.New(1024)
	guard, err := gov.Reserve(64)
	if err != nil {
		t.Fatalf("unexpected reservation error: %v", err)
	}
	core := NewCore(1, modelkey.Key("embed/model"), 64, guard)
	return NewEmbeddingHandle(core, EmbeddingInboxCapacities{Embed: 4, BatchEmbed: 4})
}

func TestRunEmbeddingServesSingleRequest(t *testing.T) {
	t.Parallel()

	h := newEmbeddingHandleForTest(t)
	model := &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}}

	go RunEmbedding(h, model, time.Hour, zerolog.Nop())

	reply := make(chan EmbedResult, 1)
	h.EmbedInbox <- &EmbedRequest{Ctx: context.Background(), Text: "hello", Reply: reply}

	select {
	case res := <-reply:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if len(res.Vector) != 3 {
			t.Errorf("expected 3-dim vector, got %d", len(res.Vector))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for embed reply")
	}

	h.RequestShutdown()
}

func TestRunEmbeddingServesBatchRequest(t *testing.T) {
	t.Parallel()

	h := newEmbeddingHandleForTest(t)
	model := &fakeEmbedder{vecs: [][]float32{{1}, {2}}}

	go RunEmbedding(h, model, time.Hour, zerolog.Nop())

	reply := make(chan BatchEmbedResult, 1)
	h.BatchInbox <- &BatchEmbedRequest{Ctx: context.Background(), Texts: []string{"a", "b"}, Reply: reply}

	select {
	case res := <-reply:
		if len(res.Vectors) != 2 {
			t.Errorf("expected 2 vectors, got %d", len(res.Vectors))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch embed reply")
	}

	h.RequestShutdown()
}

func TestRunEmbeddingPropagatesModelError(t *testing.T) {
	t.Parallel()

	h := newEmbeddingHandleForTest(t)
	model := &fakeEmbedder{err: errors.New("model failed")}

	go RunEmbedding(h, model, time.Hour, zerolog.Nop())

	reply := make(chan EmbedResult, 1)
	h.EmbedInbox <- &EmbedRequest{Ctx: context.Background(), Text: "x", Reply: reply}

	select {
	case res := <-reply:
		if res.Err == nil {
			t.Fatal("expected an error to be propagated")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for embed reply")
	}

	h.RequestShutdown()
}

func TestRunEmbeddingShutdownTransitionsToDead(t *testing.T) {
	t.Parallel()

	h := newEmbeddingHandleForTest(t)
	model := &fakeEmbedder{vec: []float32{1}}

	done := make(chan struct{})
	go func() {
		RunEmbedding(h, model, time.Hour, zerolog.Nop())
		close(done)
	}()

	h.RequestShutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after shutdown request")
	}
	if h.State().Load() != lifecycle.Dead {
		t.Errorf("expected final state Dead, got %v", h.State().Load())
	}
}

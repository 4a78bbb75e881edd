package xerr

import (
	"errors"
	"testing"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying failure")
	err := New("timeout", "pool.Embed", "request timed out", cause)

	msg := err.Error()
	if !containsSub(msg, "pool.Embed") || !containsSub(msg, "timeout") || !containsSub(msg, "underlying failure") {
		t.Errorf("expected error message to contain op, kind, and cause, got %q", msg)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	err := New("timeout", "op", "msg", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	t.Parallel()

	a := New("timeout", "op1", "msg1", nil)
	b := New("timeout", "op2", "msg2", errors.New("different cause"))
	c := New("not_found", "op3", "msg3", nil)

	if !errors.Is(a, b) {
		t.Error("expected two errors of the same Kind to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected errors of different Kind not to match")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := New("circuit_open", "op", "msg", nil)
	kind, ok := KindOf(err)
	if !ok || kind != "circuit_open" {
		t.Errorf("expected KindOf to extract circuit_open, got %v, %v", kind, ok)
	}

	_, ok = KindOf(errors.New("plain error"))
	if ok {
		t.Error("expected KindOf to fail for a non-xerr error")
	}
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

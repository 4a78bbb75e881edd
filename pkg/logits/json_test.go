package logits

import "testing"

// byteVocab is a trivial vocabulary where each token id is exactly one byte,
// letting tests drive the constraint string-by-string.
type byteVocab struct{}

func (byteVocab) VocabSize() int               { return 256 }
func (byteVocab) TokenBytes(id uint32) []byte { return []byte{byte(id)} }

func feedString(t *testing.T, c *JSONConstraint, state ConstraintState, s string) {
	t.Helper()
	for _, b := range []byte(s) {
		ok, err := c.TryNext(state, uint32(b))
		if err != nil {
			t.Fatalf("unexpected error feeding %q: %v", string(b), err)
		}
		if !ok {
			t.Fatalf("byte %q rejected by TryNext on valid input %q", string(b), s)
		}
		if _, err := c.Update(state, uint32(b)); err != nil {
			t.Fatalf("unexpected error updating state with %q: %v", string(b), err)
		}
	}
}

func TestJSONConstraintAcceptsValidObject(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()
	feedString(t, c, state, `{"a":1,"b":[true,false,null]}`)

	if !c.IsDone(state) {
		t.Error("expected a fully balanced object to be terminal")
	}
}

func TestJSONConstraintRejectsUnbalancedBraces(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()

	for _, b := range []byte(`{"a":1`) {
		if _, err := c.Update(state, uint32(b)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if c.IsDone(state) {
		t.Error("expected an unterminated object not to be marked done")
	}
}

func TestJSONConstraintRejectsInvalidValueStart(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()

	ok, err := c.TryNext(state, uint32('x'))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected 'x' to be rejected as an invalid value start")
	}
}

func TestJSONConstraintRejectsMismatchedClose(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()
	for _, b := range []byte(`{"a":[1,2`) {
		if _, err := c.Update(state, uint32(b)); err != nil {
			t.Fatalf("unexpected error priming state: %v", err)
		}
	}

	// Array is open; closing with '}' instead of ']' must be rejected.
	ok, _ := c.TryNext(state, uint32('}'))
	if ok {
		t.Error("expected mismatched '}' to be rejected while an array is open")
	}
}

func TestJSONConstraintRejectsLeadingZero(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()
	if _, err := c.Update(state, uint32('0')); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, _ := c.TryNext(state, uint32('1'))
	if ok {
		t.Error("expected a leading zero followed by another digit to be rejected")
	}
}

func TestJSONConstraintAcceptsNumberVariants(t *testing.T) {
	t.Parallel()

	for _, num := range []string{"0", "-1", "1.5", "1e10", "-2.5E-3"} {
		c := NewJSONConstraint(byteVocab{})
		state := c.NewState()
		for _, b := range []byte(num) {
			if _, err := c.Update(state, uint32(b)); err != nil {
				t.Fatalf("unexpected error parsing %q: %v", num, err)
			}
		}
		if !c.IsDone(state) {
			t.Errorf("expected number literal %q to be terminal", num)
		}
	}
}

func TestJSONConstraintRejectsInvalidEscape(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()
	for _, b := range []byte(`"ab`) {
		if _, err := c.Update(state, uint32(b)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := c.Update(state, uint32('\\')); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, _ := c.TryNext(state, uint32('q'))
	if ok {
		t.Error("expected an invalid escape character to be rejected")
	}
}

func TestJSONConstraintDepthLimit(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()

	for i := 0; i < maxJSONDepth; i++ {
		if _, err := c.Update(state, uint32('[')); err != nil {
			t.Fatalf("unexpected error at depth %d: %v", i, err)
		}
	}

	// One more nested array should exceed the fixed-size stack.
	_, err := c.Update(state, uint32('['))
	if err == nil {
		t.Error("expected exceeding the maximum nesting depth to error")
	}
}

func TestJSONConstraintTryNextDoesNotMutateState(t *testing.T) {
	t.Parallel()

	c := NewJSONConstraint(byteVocab{})
	state := c.NewState()
	if _, err := c.Update(state, uint32('{')); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Probing an invalid next byte must not affect the live state: '}' is
	// invalid right after '{' expects a key, but a subsequent '"' must
	// still be accepted as if the probe never happened.
	c.TryNext(state, uint32('}'))
	ok, err := c.TryNext(state, uint32('"'))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected TryNext to leave the live state unmutated across probes")
	}
}

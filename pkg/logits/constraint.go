package logits

// Vocabulary is the minimal tokenizer surface the grammar constraint needs:
// the byte representation of each token id. Concrete tokenizer libraries
// are out of scope per the core's design; callers adapt whatever tokenizer
// they use to this interface.
type Vocabulary interface {
	VocabSize() int
	TokenBytes(id uint32) []byte
}

// ConstraintState is opaque, clonable grammar-parsing state. Cloning is used
// by try-next probes that must not mutate the live state.
type ConstraintState interface {
	Clone() ConstraintState
}

// Constraint masks disallowed tokens during sampling by tracking grammar
// state across the tokens generated so far. Grounded on
// simd/src/logits/constraints/json.rs's GenerationConstraint trait.
type Constraint interface {
	NewState() ConstraintState

	// Update advances state by token's bytes, returning whether the
	// grammar is now syntactically complete.
	Update(state ConstraintState, token uint32) (done bool, err error)

	// TryNext reports whether token is a legal next token from state,
	// without mutating state.
	TryNext(state ConstraintState, token uint32) (bool, error)

	IsDone(state ConstraintState) bool
}

// Package logits implements the pure-function transformation pipeline a
// sampled token passes through: temperature scaling, top-k filtering,
// nucleus (top-p) filtering, repetition/frequency/presence penalties, an
// optional JSON grammar constraint, softmax, and final selection
// (argmax or weighted sampling). Stage order and masking semantics follow
// spec.md §4.G exactly; the grammar constraint runs after penalties but
// before softmax so masked probability mass cannot redistribute onto
// disallowed tokens.
package logits

import (
	"math"
	"math/rand"
	"sort"

	"github.com/duskforge/infercore/pkg/modelkey"
)

var negInf = math.Inf(-1)

// ApplyTemperature divides every logit by temperature, skipped when
// temperature is within epsilon of 1.0.
func ApplyTemperature(logits []float64, temperature float64) {
	if math.Abs(temperature-1.0) < 1e-6 {
		return
	}
	for i := range logits {
		logits[i] /= temperature
	}
}

// TopK masks every logit outside the k largest to -Inf. A k >= len(logits)
// is a no-op.
func TopK(logits []float64, k int) {
	if k <= 0 || k >= len(logits) {
		return
	}
	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })

	keep := make(map[int]bool, k)
	for _, i := range idx[:k] {
		keep[i] = true
	}
	for i := range logits {
		if !keep[i] {
			logits[i] = negInf
		}
	}
}

// TopP (nucleus sampling) keeps the smallest prefix of logits, sorted by
// probability descending, whose cumulative probability is >= p; the rest
// are masked to -Inf.
func TopP(logits []float64, p float64) {
	if p <= 0 || p >= 1 {
		return
	}
	probs := Softmax(logits)

	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	cumulative := 0.0
	keep := make(map[int]bool, len(idx))
	for _, i := range idx {
		keep[i] = true
		cumulative += probs[i]
		if cumulative >= p {
			break
		}
	}
	for i := range logits {
		if !keep[i] {
			logits[i] = negInf
		}
	}
}

// Penalties applies repetition, frequency, and presence penalties over the
// last contextLength tokens of history.
func Penalties(logits []float64, history []uint32, repetition, frequency, presence float64, contextLength int) {
	if len(history) == 0 {
		return
	}
	start := 0
	if contextLength > 0 && len(history) > contextLength {
		start = len(history) - contextLength
	}
	window := history[start:]

	counts := make(map[uint32]int, len(window))
	for _, t := range window {
		counts[t]++
	}

	for tok, count := range counts {
		if int(tok) >= len(logits) {
			continue
		}
		if repetition != 1.0 && repetition != 0 {
			if logits[tok] > 0 {
				logits[tok] /= repetition
			} else {
				logits[tok] *= repetition
			}
		}
		logits[tok] -= frequency * float64(count)
		logits[tok] -= presence
	}
}

// ApplyGrammarConstraint masks every token that would violate the grammar's
// state machine from the current state, run after penalties and before
// softmax per spec.md §4.G step 5.
func ApplyGrammarConstraint(logits []float64, c Constraint, state ConstraintState) error {
	if c == nil || state == nil {
		return nil
	}
	for tok := range logits {
		ok, err := c.TryNext(state, uint32(tok))
		if err != nil {
			return err
		}
		if !ok {
			logits[tok] = negInf
		}
	}
	return nil
}

// Softmax converts a logits buffer into a probability distribution.
// Entries at -Inf contribute zero probability.
func Softmax(logits []float64) []float64 {
	maxLogit := negInf
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(logits))
	if math.IsInf(maxLogit, -1) {
		return probs
	}
	var sum float64
	for i, v := range logits {
		if math.IsInf(v, -1) {
			continue
		}
		e := math.Exp(v - maxLogit)
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return probs
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index of the largest probability, breaking ties by
// the lowest index.
func Argmax(probs []float64) uint32 {
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	return uint32(best)
}

// WeightedSample draws one index from probs proportionally to its weight.
func WeightedSample(probs []float64, rng *rand.Rand) uint32 {
	r := rng.Float64()
	var cumulative float64
	for i, p := range probs {
		cumulative += p
		if r <= cumulative {
			return uint32(i)
		}
	}
	return uint32(len(probs) - 1)
}

// Sample runs the full pipeline over logits (mutated in place) and returns
// the chosen token id, following spec.md §4.G's stage order.
func Sample(logits []float64, cfg modelkey.SamplingConfig, history []uint32, constraint Constraint, state ConstraintState, rng *rand.Rand) (uint32, error) {
	if cfg.Temperature > 0 {
		ApplyTemperature(logits, cfg.Temperature)
	}

	if cfg.TopK != nil {
		TopK(logits, *cfg.TopK)
	}
	if cfg.TopP != nil {
		TopP(logits, *cfg.TopP)
	}

	Penalties(logits, history, cfg.RepetitionPenalty, cfg.FrequencyPenalty, cfg.PresencePenalty, cfg.RepetitionContextLength)

	if err := ApplyGrammarConstraint(logits, constraint, state); err != nil {
		return 0, err
	}

	probs := Softmax(logits)

	if cfg.IsDeterministic() {
		return Argmax(probs), nil
	}
	return WeightedSample(probs, rng), nil
}

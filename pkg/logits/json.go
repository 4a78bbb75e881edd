package logits

import "fmt"

// maxJSONDepth bounds nested object/array depth, matching the original's
// fixed-size stack (MAX_DEPTH = 32 in json.rs).
const maxJSONDepth = 32

type jsonStackItem int

const (
	jsonStackObject jsonStackItem = iota
	jsonStackArray
)

type numberState int

const (
	numAfterSign numberState = iota
	numAfterZero
	numAfterIntDigit
	numAfterDot
	numAfterFracDigit
	numAfterE
	numAfterExpSign
	numAfterExpDigit
)

type jsonPhase int

const (
	phaseExpectValue jsonPhase = iota
	phaseExpectObjectKey
	phaseExpectColon
	phaseExpectCommaOrObjectEnd
	phaseExpectCommaOrArrayEnd
	phaseInString
	phaseInNumber
	phaseInTrue
	phaseInFalse
	phaseInNull
)

// jsonCurrent is the sum-type the original expresses as a Rust enum with
// per-variant payloads; Go has no sum types, so every payload field is
// carried unconditionally and only the ones matching phase are meaningful.
type jsonCurrent struct {
	phase      jsonPhase
	escape     bool
	isKey      bool
	numState   numberState
	literalPos uint8
}

// JSONState is the grammar-parsing state for one in-flight JSON value,
// ported field-for-field from json.rs's JsonState.
type JSONState struct {
	stack    [maxJSONDepth]jsonStackItem
	stackLen int
	current  jsonCurrent
}

// NewJSONState returns a state in the initial value-expecting phase.
func NewJSONState() *JSONState {
	return &JSONState{current: jsonCurrent{phase: phaseExpectValue}}
}

// Clone implements ConstraintState.
func (s *JSONState) Clone() ConstraintState {
	cp := *s
	return &cp
}

func (s *JSONState) pushStack(item jsonStackItem) error {
	if s.stackLen >= maxJSONDepth {
		return fmt.Errorf("logits: json depth exceeds maximum")
	}
	s.stack[s.stackLen] = item
	s.stackLen++
	return nil
}

func (s *JSONState) popStack() (jsonStackItem, bool) {
	if s.stackLen == 0 {
		return 0, false
	}
	s.stackLen--
	return s.stack[s.stackLen], true
}

func (s *JSONState) topStack() (jsonStackItem, bool) {
	if s.stackLen == 0 {
		return 0, false
	}
	return s.stack[s.stackLen-1], true
}

func (s *JSONState) setAfterValue() {
	if top, ok := s.topStack(); ok {
		if top == jsonStackObject {
			s.current = jsonCurrent{phase: phaseExpectCommaOrObjectEnd}
		} else {
			s.current = jsonCurrent{phase: phaseExpectCommaOrArrayEnd}
		}
		return
	}
	s.current = jsonCurrent{phase: phaseExpectValue}
}

func isJSONEndChar(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', ',', ']', '}':
		return true
	default:
		return false
	}
}

func isWS(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

// advance feeds one byte through the state machine, mirroring json.rs's
// JsonState::advance match arms exactly, phase by phase.
func (s *JSONState) advance(b byte) error {
	switch s.current.phase {
	case phaseExpectValue:
		switch {
		case isWS(b):
			// stay in ExpectValue
		case b == '{':
			if err := s.pushStack(jsonStackObject); err != nil {
				return err
			}
			s.current = jsonCurrent{phase: phaseExpectObjectKey}
		case b == '[':
			if err := s.pushStack(jsonStackArray); err != nil {
				return err
			}
			s.current = jsonCurrent{phase: phaseExpectValue}
		case b == '"':
			s.current = jsonCurrent{phase: phaseInString}
		case b == 't':
			s.current = jsonCurrent{phase: phaseInTrue, literalPos: 1}
		case b == 'f':
			s.current = jsonCurrent{phase: phaseInFalse, literalPos: 1}
		case b == 'n':
			s.current = jsonCurrent{phase: phaseInNull, literalPos: 1}
		case b == '-':
			s.current = jsonCurrent{phase: phaseInNumber, numState: numAfterSign}
		case b == '0':
			s.current = jsonCurrent{phase: phaseInNumber, numState: numAfterZero}
		case b >= '1' && b <= '9':
			s.current = jsonCurrent{phase: phaseInNumber, numState: numAfterIntDigit}
		default:
			return fmt.Errorf("logits: invalid value start: %q", b)
		}

	case phaseExpectObjectKey:
		switch {
		case isWS(b):
		case b == '"':
			s.current = jsonCurrent{phase: phaseInString, isKey: true}
		case b == '}':
			item, ok := s.popStack()
			if !ok || item != jsonStackObject {
				return fmt.Errorf("logits: mismatched object close")
			}
			s.setAfterValue()
		default:
			return fmt.Errorf("logits: invalid key start: %q", b)
		}

	case phaseExpectColon:
		switch {
		case isWS(b):
		case b == ':':
			s.current = jsonCurrent{phase: phaseExpectValue}
		default:
			return fmt.Errorf("logits: expected colon, got: %q", b)
		}

	case phaseExpectCommaOrObjectEnd:
		switch {
		case isWS(b):
		case b == ',':
			s.current = jsonCurrent{phase: phaseExpectObjectKey}
		case b == '}':
			item, ok := s.popStack()
			if !ok || item != jsonStackObject {
				return fmt.Errorf("logits: mismatched object close")
			}
			s.setAfterValue()
		default:
			return fmt.Errorf("logits: expected comma or object end: %q", b)
		}

	case phaseExpectCommaOrArrayEnd:
		switch {
		case isWS(b):
		case b == ',':
			s.current = jsonCurrent{phase: phaseExpectValue}
		case b == ']':
			item, ok := s.popStack()
			if !ok || item != jsonStackArray {
				return fmt.Errorf("logits: mismatched array close")
			}
			s.setAfterValue()
		default:
			return fmt.Errorf("logits: expected comma or array end: %q", b)
		}

	case phaseInString:
		isKey := s.current.isKey
		if s.current.escape {
			switch b {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				s.current = jsonCurrent{phase: phaseInString, isKey: isKey}
			default:
				return fmt.Errorf("logits: invalid escape char: %q", b)
			}
		} else {
			switch {
			case b == '\\':
				s.current = jsonCurrent{phase: phaseInString, escape: true, isKey: isKey}
			case b == '"':
				if isKey {
					s.current = jsonCurrent{phase: phaseExpectColon}
				} else {
					s.setAfterValue()
				}
			case b >= 32 && b <= 126:
				s.current = jsonCurrent{phase: phaseInString, isKey: isKey}
			default:
				return fmt.Errorf("logits: invalid string char: %q", b)
			}
		}

	case phaseInNumber:
		if err := s.advanceNumber(b); err != nil {
			return err
		}

	case phaseInTrue:
		if err := s.advanceLiteral(b, "true"); err != nil {
			return err
		}

	case phaseInFalse:
		if err := s.advanceLiteral(b, "false"); err != nil {
			return err
		}

	case phaseInNull:
		if err := s.advanceLiteral(b, "null"); err != nil {
			return err
		}
	}
	return nil
}

func (s *JSONState) advanceNumber(b byte) error {
	switch s.current.numState {
	case numAfterSign:
		switch {
		case b == '0':
			s.current.numState = numAfterZero
		case b >= '1' && b <= '9':
			s.current.numState = numAfterIntDigit
		default:
			return fmt.Errorf("logits: expected digit after sign: %q", b)
		}

	case numAfterZero:
		switch {
		case b >= '0' && b <= '9':
			return fmt.Errorf("logits: no leading zeros")
		case b == '.':
			s.current.numState = numAfterDot
		case b == 'e' || b == 'E':
			s.current.numState = numAfterE
		case isJSONEndChar(b):
			s.setAfterValue()
			return s.advance(b)
		default:
			return fmt.Errorf("logits: invalid after zero: %q", b)
		}

	case numAfterIntDigit:
		switch {
		case b >= '0' && b <= '9':
			// stays AfterIntDigit
		case b == '.':
			s.current.numState = numAfterDot
		case b == 'e' || b == 'E':
			s.current.numState = numAfterE
		case isJSONEndChar(b):
			s.setAfterValue()
			return s.advance(b)
		default:
			return fmt.Errorf("logits: invalid after int digit: %q", b)
		}

	case numAfterDot:
		if b >= '0' && b <= '9' {
			s.current.numState = numAfterFracDigit
		} else {
			return fmt.Errorf("logits: expected digit after dot: %q", b)
		}

	case numAfterFracDigit:
		switch {
		case b >= '0' && b <= '9':
		case b == 'e' || b == 'E':
			s.current.numState = numAfterE
		case isJSONEndChar(b):
			s.setAfterValue()
			return s.advance(b)
		default:
			return fmt.Errorf("logits: invalid after frac digit: %q", b)
		}

	case numAfterE:
		switch {
		case b == '+' || b == '-':
			s.current.numState = numAfterExpSign
		case b >= '0' && b <= '9':
			s.current.numState = numAfterExpDigit
		default:
			return fmt.Errorf("logits: expected exp sign or digit: %q", b)
		}

	case numAfterExpSign:
		if b >= '0' && b <= '9' {
			s.current.numState = numAfterExpDigit
		} else {
			return fmt.Errorf("logits: expected exp digit: %q", b)
		}

	case numAfterExpDigit:
		switch {
		case b >= '0' && b <= '9':
		case isJSONEndChar(b):
			s.setAfterValue()
			return s.advance(b)
		default:
			return fmt.Errorf("logits: invalid after exp digit: %q", b)
		}
	}
	return nil
}

func (s *JSONState) advanceLiteral(b byte, word string) error {
	pos := s.current.literalPos
	if b != word[pos] {
		return fmt.Errorf("logits: invalid %q sequence", word)
	}
	if int(pos) == len(word)-1 {
		s.setAfterValue()
		return nil
	}
	s.current.literalPos = pos + 1
	return nil
}

func (s *JSONState) isTerminal() bool {
	if s.stackLen != 0 {
		return false
	}
	switch s.current.phase {
	case phaseExpectValue:
		return true
	case phaseInNumber:
		switch s.current.numState {
		case numAfterZero, numAfterIntDigit, numAfterFracDigit, numAfterExpDigit:
			return true
		}
	}
	return false
}

// JSONConstraint validates that generated tokens form valid JSON, masking
// tokens whose byte extension would violate the grammar. Ported from
// json.rs's JsonConstraint.
type JSONConstraint struct {
	vocab      Vocabulary
	tokenBytes [][]byte
}

// NewJSONConstraint precomputes the byte representation of every token in
// vocab, mirroring JsonConstraint::new's token_bytes table.
func NewJSONConstraint(vocab Vocabulary) *JSONConstraint {
	n := vocab.VocabSize()
	tb := make([][]byte, n)
	for i := 0; i < n; i++ {
		tb[i] = vocab.TokenBytes(uint32(i))
	}
	return &JSONConstraint{vocab: vocab, tokenBytes: tb}
}

func (c *JSONConstraint) NewState() ConstraintState {
	return NewJSONState()
}

func (c *JSONConstraint) Update(state ConstraintState, token uint32) (bool, error) {
	js := state.(*JSONState)
	for _, b := range c.bytesOf(token) {
		if err := js.advance(b); err != nil {
			return false, fmt.Errorf("logits: advance state in update: %w", err)
		}
	}
	return js.isTerminal(), nil
}

func (c *JSONConstraint) TryNext(state ConstraintState, token uint32) (bool, error) {
	cp := state.(*JSONState).Clone().(*JSONState)
	for _, b := range c.bytesOf(token) {
		if err := cp.advance(b); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func (c *JSONConstraint) IsDone(state ConstraintState) bool {
	return state.(*JSONState).isTerminal()
}

func (c *JSONConstraint) bytesOf(token uint32) []byte {
	if int(token) >= len(c.tokenBytes) {
		return nil
	}
	return c.tokenBytes[token]
}

package command

import (
	"strings"
	"unicode"
)

// Intent is the interpreted meaning of a recognized utterance
type Intent int

const (
	Unrecognized  Intent = iota // No accepted phrasing found
	DescribeScene               // "what's in front of me"
)

// String returns the intent name used in logs and metrics
func (i Intent) String() string {
	switch i {
	case DescribeScene:
		return "describe_scene"
	default:
		return "unrecognized"
	}
}

// describePhrases are the accepted phrasings for DescribeScene, matched as
// substrings of the normalized utterance.
var describePhrases = []string{
	"what's in front",
	"what is in front",
	"whats in front",
	"what is ahead",
	"what's ahead",
	"whats ahead",
}

// Interpreter maps recognized text to an Intent using fixed-phrase matching
type Interpreter struct {
	phrases []string
}

// NewInterpreter creates an interpreter with the built-in phrasings plus any
// extra ones supplied by configuration
func NewInterpreter(extra ...string) *Interpreter {
	seen := make(map[string]bool)
	phrases := make([]string, 0, len(describePhrases)+len(extra))
	for _, p := range append(append([]string(nil), describePhrases...), extra...) {
		n := Normalize(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		phrases = append(phrases, n)
	}
	return &Interpreter{phrases: phrases}
}

// Interpret returns DescribeScene when any accepted phrasing occurs in the
// normalized text, Unrecognized otherwise. It never fails.
func (in *Interpreter) Interpret(text string) Intent {
	normalized := Normalize(text)
	if normalized == "" {
		return Unrecognized
	}
	for _, phrase := range in.phrases {
		if strings.Contains(normalized, phrase) {
			return DescribeScene
		}
	}
	return Unrecognized
}

// Phrases returns the normalized phrasings the interpreter accepts
func (in *Interpreter) Phrases() []string {
	return append([]string(nil), in.phrases...)
}

var defaultInterpreter = NewInterpreter()

// Interpret uses the built-in phrase set
func Interpret(text string) Intent {
	return defaultInterpreter.Interpret(text)
}

// Normalize lower-cases text, turns punctuation into spaces and collapses
// whitespace. Apostrophes are kept so "what's" and "whats" stay distinct
// phrasings; typographic apostrophes are folded to ASCII.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			b.WriteRune('\'')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

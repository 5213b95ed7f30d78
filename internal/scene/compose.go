package scene

import (
	"fmt"
	"strings"
)

const (
	// NothingPhrase is the joined phrase for an empty count list
	NothingPhrase = "Nothing"

	sentenceSuffix = " are in front."
)

// Compose renders counts as one spoken sentence, e.g.
// "2 cats and a dog are in front.". Pluralization is naive: "s" is appended.
func Compose(counts []LabelCount) string {
	phrases := make([]string, 0, len(counts))
	for _, c := range counts {
		phrases = append(phrases, phrase(c))
	}
	return joinPhrases(phrases) + sentenceSuffix
}

// Describe aggregates and composes a detection result in one step
func Describe(result DetectionResult) string {
	return Compose(Aggregate(result))
}

func phrase(c LabelCount) string {
	if c.Count == 1 {
		return "a " + c.Label
	}
	return fmt.Sprintf("%d %ss", c.Count, c.Label)
}

// joinPhrases applies English list conjunction with a serial comma
func joinPhrases(phrases []string) string {
	switch len(phrases) {
	case 0:
		return NothingPhrase
	case 1:
		return phrases[0]
	case 2:
		return phrases[0] + " and " + phrases[1]
	default:
		last := len(phrases) - 1
		return strings.Join(phrases[:last], ", ") + ", and " + phrases[last]
	}
}

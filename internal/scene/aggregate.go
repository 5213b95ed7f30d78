package scene

import "strings"

// Aggregate folds a detection result into per-label counts. Each object
// contributes its top label (or FallbackLabel); the returned slice keeps the
// order in which labels were first seen. An empty result yields an empty slice.
func Aggregate(result DetectionResult) []LabelCount {
	if result.IsEmpty() {
		return nil
	}

	index := make(map[string]int, len(result.Objects))
	counts := make([]LabelCount, 0, len(result.Objects))

	for _, obj := range result.Objects {
		label := normalizeLabel(obj.TopLabel())

		if i, ok := index[label]; ok {
			counts[i].Count++
			continue
		}
		index[label] = len(counts)
		counts = append(counts, LabelCount{Label: label, Count: 1})
	}

	return counts
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.Join(strings.Fields(label), " "))
	if label == "" {
		return FallbackLabel
	}
	return label
}

// Total returns the number of objects represented by counts
func Total(counts []LabelCount) int {
	n := 0
	for _, c := range counts {
		n += c.Count
	}
	return n
}

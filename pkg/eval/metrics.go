package eval

import (
	"fmt"
	"strings"
)

// ExactMatch scores 1.0 when the string forms of prediction and ground
// truth are equal after trimming surrounding whitespace, 0.0 otherwise.
func ExactMatch(prediction, groundTruth any) (float64, error) {
	if normalize(prediction) == normalize(groundTruth) {
		return 1.0, nil
	}
	return 0.0, nil
}

// F1Token computes the token-level F1 between prediction and ground truth.
// Both values are lowercased and split on whitespace; the score is the
// harmonic mean of token precision and recall.
func F1Token(prediction, groundTruth any) (float64, error) {
	predTokens := strings.Fields(strings.ToLower(normalize(prediction)))
	truthTokens := strings.Fields(strings.ToLower(normalize(groundTruth)))

	if len(predTokens) == 0 && len(truthTokens) == 0 {
		return 1.0, nil
	}
	if len(predTokens) == 0 || len(truthTokens) == 0 {
		return 0.0, nil
	}

	truthCounts := make(map[string]int, len(truthTokens))
	for _, tok := range truthTokens {
		truthCounts[tok]++
	}

	common := 0
	for _, tok := range predTokens {
		if truthCounts[tok] > 0 {
			truthCounts[tok]--
			common++
		}
	}
	if common == 0 {
		return 0.0, nil
	}

	precision := float64(common) / float64(len(predTokens))
	recall := float64(common) / float64(len(truthTokens))
	return 2 * precision * recall / (precision + recall), nil
}

// normalize renders a metric operand as a trimmed string. Maps and other
// composite values fall back to their fmt representation.
func normalize(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

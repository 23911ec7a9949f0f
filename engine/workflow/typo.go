package workflow

import (
	"github.com/agext/levenshtein"
)

const (
	suggestionThreshold = 0.7
	likelyTypoThreshold = 0.85
)

// Suggestion is the result of comparing an unknown key against the known
// keys at its location.
type Suggestion struct {
	Field      string
	Closest    string
	Ratio      float64
	LikelyTypo bool
}

// suggestField returns the closest known key for an unknown field, or nil
// when nothing is similar enough to be worth suggesting.
func suggestField(unknown string, known []string) *Suggestion {
	best := ""
	bestRatio := 0.0
	for _, candidate := range known {
		ratio := levenshtein.Similarity(unknown, candidate, nil)
		if ratio > bestRatio {
			bestRatio = ratio
			best = candidate
		}
	}
	if bestRatio < suggestionThreshold {
		return nil
	}
	return &Suggestion{
		Field:      unknown,
		Closest:    best,
		Ratio:      bestRatio,
		LikelyTypo: bestRatio >= likelyTypoThreshold,
	}
}

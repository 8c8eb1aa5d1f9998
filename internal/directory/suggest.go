package directory

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// suggestThreshold is the minimum Jaro-Winkler similarity a canonical name
// must reach before it is offered as a "did you mean" suggestion.
const suggestThreshold = 0.80

// Suggest returns the canonical name most similar to query, or "" when no
// name is similar enough. Similarity is Jaro-Winkler on the lowercased
// strings, so a suggestion is cheap to compute and deterministic for a
// given speaker set.
func Suggest(query string, set SpeakerSet) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return ""
	}

	best := ""
	bestScore := suggestThreshold
	for name := range set {
		score := matchr.JaroWinkler(q, strings.ToLower(name), true)
		if score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best
}

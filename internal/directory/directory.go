// Package directory resolves free-text speaker names against the canonical
// names reported by the Sonos backend.
//
// The backend is the source of truth: callers fetch a fresh speaker set per
// command and pass it in, so every function here is pure. Lookups are
// case-insensitive and always return the backend's own casing.
package directory

import (
	"fmt"
	"strings"
)

// SpeakerSet is the live name→address mapping reported by the backend.
// Canonical names are assumed unique; addresses are opaque to this package.
type SpeakerSet map[string]string

// Names returns the canonical names in the set, in map order.
func (s SpeakerSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// byLower builds the lowercase→canonical index used by all lookups.
func (s SpeakerSet) byLower() map[string]string {
	m := make(map[string]string, len(s))
	for name := range s {
		m[strings.ToLower(name)] = name
	}
	return m
}

// NotFoundError reports a query fragment that matched no canonical speaker.
// Suggestion, when non-empty, is the closest-sounding canonical name.
type NotFoundError struct {
	Query      string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("directory: unknown speaker %q (did you mean %q?)", e.Query, e.Suggestion)
	}
	return fmt.Sprintf("directory: unknown speaker %q", e.Query)
}

// ParseError reports a greedy token scan that got stuck. Remainder holds the
// unconsumed tail of the query starting at the position that matched nothing.
type ParseError struct {
	Remainder string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("directory: could not parse speakers near %q", e.Remainder)
}

// GroupSizeError reports a group request that resolved fewer than two speakers.
type GroupSizeError struct {
	Resolved int
}

func (e *GroupSizeError) Error() string {
	return fmt.Sprintf("directory: need at least two speakers, got %d", e.Resolved)
}

// Resolve finds the canonical speaker whose name equals query ignoring case.
// Returns a [NotFoundError] (with a fuzzy suggestion when one is close
// enough) if nothing matches.
func Resolve(query string, set SpeakerSet) (string, error) {
	name := strings.TrimSpace(query)
	if canon, ok := set.byLower()[strings.ToLower(name)]; ok {
		return canon, nil
	}
	return "", &NotFoundError{Query: name, Suggestion: Suggest(name, set)}
}

// ResolveGroup resolves a group query into an ordered list of canonical
// speaker names. Order is meaningful — the first entry becomes the group
// coordinator.
//
// Comma-delimited queries are split strictly on commas and every trimmed
// segment must match a canonical name exactly (case-insensitive); the first
// miss fails the whole call. Queries without commas are scanned greedily:
// at each token position the longest span of tokens whose joined form is a
// canonical name is consumed, so "Bad 2 etg Edith" resolves as two speakers.
//
// Fewer than two resolved speakers is a [GroupSizeError].
func ResolveGroup(query string, set SpeakerSet) ([]string, error) {
	text := strings.TrimSpace(query)
	byLower := set.byLower()

	var resolved []string
	if strings.Contains(text, ",") {
		for _, raw := range strings.Split(text, ",") {
			name := strings.TrimSpace(raw)
			canon, ok := byLower[strings.ToLower(name)]
			if !ok {
				return nil, &NotFoundError{Query: name, Suggestion: Suggest(name, set)}
			}
			resolved = append(resolved, canon)
		}
	} else {
		tokens := strings.Fields(text)
		for i := 0; i < len(tokens); {
			span := 0
			var canon string
			for j := len(tokens); j > i; j-- {
				candidate := strings.ToLower(strings.Join(tokens[i:j], " "))
				if c, ok := byLower[candidate]; ok {
					canon = c
					span = j - i
					break
				}
			}
			if span == 0 {
				return nil, &ParseError{Remainder: strings.Join(tokens[i:], " ")}
			}
			resolved = append(resolved, canon)
			i += span
		}
	}

	if len(resolved) < 2 {
		return nil, &GroupSizeError{Resolved: len(resolved)}
	}
	return resolved, nil
}

// Package policy implements the allowlist that gates every bot command.
//
// An allowlist is an ordered list of rules, but evaluation is a plain
// logical OR — any single accepting rule authorizes and rule order never
// changes the outcome. Each rule is interpreted by shape rather than by an
// explicit type tag:
//
//   - an exact identity string ("@alice:vibb.me"),
//   - a domain suffix, written with a leading colon (":vibb.me"),
//   - anything else is tried as a regular expression against the identity.
//
// A rule that fails to compile as a regular expression is skipped for the
// regex interpretation only; it remains eligible for the exact and suffix
// interpretations. One malformed rule can therefore never break the whole
// allowlist.
package policy

import (
	"regexp"
	"strings"
	"sync"
)

// Allowlist evaluates caller identities against a fixed set of rules.
// It is read-only after construction and safe for concurrent use.
type Allowlist struct {
	rules []string

	// compiled caches regex compilation results per rule. Invalid patterns
	// are cached as nil so they are not recompiled on every command.
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// New creates an Allowlist from the given rules. Rules are kept verbatim;
// interpretation happens per [Allowlist.Allowed] call.
func New(rules []string) *Allowlist {
	r := make([]string, len(rules))
	copy(r, rules)
	return &Allowlist{
		rules:    r,
		compiled: make(map[string]*regexp.Regexp, len(rules)),
	}
}

// Rules returns a copy of the configured rules.
func (a *Allowlist) Rules() []string {
	out := make([]string, len(a.rules))
	copy(out, a.rules)
	return out
}

// Allowed reports whether identity is authorized by any rule.
//
// An exact match against any rule accepts immediately. Otherwise each rule
// is tried, in order, under three independent interpretations: regex match
// from the start of the identity, exact identity match for "@"-prefixed
// rules, and suffix match for ":"-prefixed domain rules. The first
// accepting interpretation wins. Pure predicate — no side effects.
func (a *Allowlist) Allowed(identity string) bool {
	for _, rule := range a.rules {
		if identity == rule {
			return true
		}
	}

	for _, rule := range a.rules {
		if re := a.pattern(rule); re != nil && re.MatchString(identity) {
			return true
		}
		if strings.HasPrefix(rule, "@") && identity == rule {
			return true
		}
		if strings.HasPrefix(rule, ":") && strings.HasSuffix(identity, rule) {
			return true
		}
	}
	return false
}

// pattern returns the compiled regex for rule, or nil when the rule is not
// a valid pattern. regexp.MatchString semantics in other languages match
// from the string start; Compile the rule unanchored and anchor the prefix
// explicitly to keep that behaviour.
func (a *Allowlist) pattern(rule string) *regexp.Regexp {
	a.mu.Lock()
	defer a.mu.Unlock()
	if re, ok := a.compiled[rule]; ok {
		return re
	}
	re, err := regexp.Compile("^(?:" + rule + ")")
	if err != nil {
		re = nil
	}
	a.compiled[rule] = re
	return re
}

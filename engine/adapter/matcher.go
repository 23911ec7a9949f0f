package adapter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher implements action pattern matching for adapters. Patterns are
// globs over dot-separated action names, so `http.request.*` claims every
// action in the http.request namespace. Adapters embed a Matcher to satisfy
// Supports and SupportedActions by composition.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns ...string) Matcher {
	return Matcher{patterns: patterns}
}

// Supports reports whether the action matches any declared pattern.
func (m Matcher) Supports(action string) bool {
	// doublestar matches path segments; actions use dots as separators.
	candidate := strings.ReplaceAll(action, ".", "/")
	for _, pattern := range m.patterns {
		p := strings.ReplaceAll(pattern, ".", "/")
		if ok, err := doublestar.Match(p, candidate); err == nil && ok {
			return true
		}
	}
	return false
}

// SupportedActions returns the declared patterns.
func (m Matcher) SupportedActions() []string {
	return m.patterns
}

// Namespace returns the segment of an action before the first dot.
func Namespace(action string) string {
	if idx := strings.IndexByte(action, '.'); idx >= 0 {
		return action[:idx]
	}
	return action
}

package executor

import (
	"strings"

	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// evalCondition evaluates a resolved `when` expression. The grammar is
// deliberately small: `left == right`, `left != right`, or a bare value
// judged for truthiness. Unresolved ${...} tokens compare as literal text,
// which makes a reference to an absent optional input read as falsy.
func evalCondition(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	if left, right, ok := splitOperator(expr, "!="); ok {
		return normalize(left) != normalize(right)
	}
	if left, right, ok := splitOperator(expr, "=="); ok {
		return normalize(left) == normalize(right)
	}
	return truthy(expr)
}

func splitOperator(expr, op string) (string, string, bool) {
	idx := strings.Index(expr, op)
	if idx < 0 {
		return "", "", false
	}
	return expr[:idx], expr[idx+len(op):], true
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	return s
}

func truthy(s string) bool {
	s = normalize(s)
	switch strings.ToLower(s) {
	case "", "false", "0", "null", "nil", "undefined":
		return false
	}
	// A still-unresolved reference means the value was not defined.
	if tplengine.HasTemplate(s) {
		return false
	}
	return true
}

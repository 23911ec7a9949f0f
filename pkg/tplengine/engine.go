// Package tplengine expands ${path[:default]} references inside workflow
// documents. Paths are dotted chains rooted at one of the run scopes
// (inputs, secrets, steps, context, env, workflow, run). A reference that
// resolves to nothing and carries no default is preserved literally so a
// later pass, or an operator, can still act on it.
package tplengine

import (
	"fmt"
	"strings"
)

// ValidRoots are the scopes a reference path may start with.
var ValidRoots = []string{"inputs", "secrets", "steps", "context", "env", "workflow", "run"}

// Engine resolves template references against a scope lookup. The engine is
// stateless and safe for concurrent use.
type Engine struct {
	strictRoots bool
}

func NewEngine() *Engine {
	return &Engine{}
}

// WithStrictRoots makes ResolveString return an error for references whose
// root is not one of ValidRoots instead of preserving them.
func (e *Engine) WithStrictRoots(strict bool) *Engine {
	e.strictRoots = strict
	return e
}

// HasTemplate reports whether the string contains at least one ${...}
// reference.
func HasTemplate(s string) bool {
	start := strings.Index(s, "${")
	return start >= 0 && strings.IndexByte(s[start:], '}') > 0
}

// Ref is one parsed ${...} occurrence.
type Ref struct {
	Raw        string
	Path       string
	Default    string
	HasDefault bool
}

// Root returns the first segment of the reference path.
func (r Ref) Root() string {
	if idx := strings.IndexByte(r.Path, '.'); idx >= 0 {
		return r.Path[:idx]
	}
	return r.Path
}

// ExtractRefs returns every ${...} reference in the string, in order.
func ExtractRefs(s string) []Ref {
	var refs []Ref
	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			break
		}
		start += i
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		refs = append(refs, parseRef(s[start:end+1]))
		i = end + 1
	}
	return refs
}

func parseRef(raw string) Ref {
	body := raw[2 : len(raw)-1]
	ref := Ref{Raw: raw, Path: body}
	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		ref.Path = body[:idx]
		ref.Default = body[idx+1:]
		ref.HasDefault = true
	}
	return ref
}

// Lookup resolves a dotted path against the scope tree. The second return
// reports whether the path resolved to a defined value.
type Lookup func(path string) (any, bool)

// MapLookup builds a Lookup over a nested map[string]any scope tree.
func MapLookup(scopes map[string]any) Lookup {
	return func(path string) (any, bool) {
		var current any = scopes
		for _, seg := range strings.Split(path, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[seg]
			if !ok {
				return nil, false
			}
		}
		return current, true
	}
}

// ResolveString expands every reference in the string in a single pass.
// A string that is exactly one reference resolves to the referenced value
// with its type intact; mixed content stringifies each resolved value.
func (e *Engine) ResolveString(s string, lookup Lookup) (any, error) {
	if !HasTemplate(s) {
		return s, nil
	}
	refs := ExtractRefs(s)
	if len(refs) == 1 && refs[0].Raw == s {
		return e.resolveRef(refs[0], lookup)
	}
	var b strings.Builder
	rest := s
	for _, ref := range refs {
		idx := strings.Index(rest, ref.Raw)
		b.WriteString(rest[:idx])
		val, err := e.resolveRef(ref, lookup)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		rest = rest[idx+len(ref.Raw):]
	}
	b.WriteString(rest)
	return b.String(), nil
}

func (e *Engine) resolveRef(ref Ref, lookup Lookup) (any, error) {
	if !isValidRoot(ref.Root()) {
		if e.strictRoots {
			return nil, fmt.Errorf("invalid reference root %q in %s", ref.Root(), ref.Raw)
		}
		return ref.Raw, nil
	}
	if val, ok := lookup(ref.Path); ok {
		return val, nil
	}
	if ref.HasDefault {
		return ref.Default, nil
	}
	// Undefined with no default: keep the literal token.
	return ref.Raw, nil
}

// ResolveValue walks maps and slices, resolving every string it finds.
func (e *Engine) ResolveValue(v any, lookup Lookup) (any, error) {
	switch val := v.(type) {
	case string:
		return e.ResolveString(val, lookup)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := e.ResolveValue(item, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := e.ResolveValue(item, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func isValidRoot(root string) bool {
	for _, r := range ValidRoots {
		if root == r {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

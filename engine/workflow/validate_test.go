package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/flowmatic/engine/core"
)

const minimalDoc = `
version: "1.0"
kind: workflow
metadata: { name: hello }
workflow:
  steps:
    - id: greet
      uses: shell.exec
      with: { command: "echo hi" }
`

func TestParse(t *testing.T) {
	t.Run("Should accept the minimum valid document", func(t *testing.T) {
		doc, err := Parse([]byte(minimalDoc))
		require.NoError(t, err)
		assert.Equal(t, "hello", doc.Name())
		assert.Equal(t, KindWorkflow, doc.Kind)
		require.Len(t, doc.Workflow.Steps, 1)
		assert.Equal(t, "shell.exec", doc.Workflow.Steps[0].Uses)
	})

	t.Run("Should accept JSON documents", func(t *testing.T) {
		doc, err := Parse([]byte(`{"version":"1.0","kind":"pipeline","metadata":{"name":"j"},` +
			`"workflow":{"steps":[{"id":"a","uses":"http.request.get"}]}}`))
		require.NoError(t, err)
		assert.Equal(t, KindPipeline, doc.Kind)
	})

	t.Run("Should reject malformed YAML", func(t *testing.T) {
		_, err := Parse([]byte("version: [unclosed"))
		requireCode(t, err, core.CodeSchemaParse)
	})
}

func TestValidate_Security(t *testing.T) {
	t.Run("Should reject reserved root fields before any other check", func(t *testing.T) {
		// The document is also structurally broken; the security violation
		// must win.
		doc := `
_billing: { plan: "free" }
kind: bogus
`
		_, err := Parse([]byte(doc))
		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.CodeSecurityReservedField, coreErr.Code)
		assert.Equal(t, "_billing", coreErr.Details["field"])
		assert.Equal(t, "workflow (root level)", coreErr.Path)
		assert.Equal(t, core.SeverityFatal, coreErr.Severity)
	})

	t.Run("Should reject reserved identifiers in step with", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - id: a
      uses: shell.exec
      with: { executionId: "override" }
`
		_, err := Parse([]byte(doc))
		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.CodeSecurityReservedField, coreErr.Code)
		assert.Equal(t, "workflow.steps[0].with", coreErr.Path)
	})

	t.Run("Should reject reserved annotation prefixes", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
annotations:
  billing.tier: gold
workflow:
  steps:
    - { id: a, uses: shell.exec }
`
		_, err := Parse([]byte(doc))
		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Equal(t, core.CodeSecurityReservedField, coreErr.Code)
	})

	t.Run("Should allow user annotation keys", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
annotations:
  team.example.com/owner: platform
workflow:
  steps:
    - { id: a, uses: shell.exec }
`
		_, err := Parse([]byte(doc))
		assert.NoError(t, err)
	})
}

func TestValidate_Structural(t *testing.T) {
	t.Run("Should suggest the closest field for typos", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - id: a
      uses: shell.exec
      neds: [b]
`
		_, err := Parse([]byte(doc))
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		found := false
		for _, e := range list.Errors {
			if e.Code == core.CodeSchemaUnknownField {
				found = true
				assert.Contains(t, e.Hint, "needs")
			}
		}
		assert.True(t, found, "expected an unknown-field error with suggestion")
	})

	t.Run("Should accumulate multiple structural errors", func(t *testing.T) {
		doc := `
kind: bogus
workflow:
  steps:
    - uses: shell.exec
`
		_, err := Parse([]byte(doc))
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		codes := make(map[string]bool)
		for _, e := range list.Errors {
			codes[e.Code] = true
		}
		assert.True(t, codes[core.CodeSchemaMissingField])
		assert.True(t, codes[core.CodeSchemaInvalidEnum])
	})

	t.Run("Should reject empty workflows", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps: []
`
		_, err := Parse([]byte(doc))
		requireCode(t, err, core.CodeValidationEmptyWorkflow)
	})

	t.Run("Should reject retry.max below one", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - id: a
      uses: shell.exec
      retry: { max: 0 }
`
		_, err := Parse([]byte(doc))
		requireCode(t, err, core.CodeSchemaWrongType)
	})

	t.Run("Should reject empty when expressions", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - id: a
      uses: shell.exec
      when: "  "
`
		_, err := Parse([]byte(doc))
		requireCode(t, err, core.CodeValidationInvalidCondition)
	})

	t.Run("Should restrict when references to run scopes", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
workflow:
  steps:
    - id: a
      uses: shell.exec
      when: "${workflow.name} == 'x'"
`
		_, err := Parse([]byte(doc))
		requireCode(t, err, core.CodeValidationInvalidVarRef)
	})

	t.Run("Should validate trigger types", func(t *testing.T) {
		doc := `
version: "1.0"
kind: workflow
metadata: { name: x }
triggers:
  - type: telepathy
workflow:
  steps:
    - { id: a, uses: shell.exec }
`
		_, err := Parse([]byte(doc))
		requireCode(t, err, core.CodeSchemaInvalidEnum)
	})
}

func TestBuildGraph(t *testing.T) {
	t.Run("Should partition steps into phases", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec"},
			Step{ID: "b", Uses: "shell.exec", Needs: []string{"a"}},
			Step{ID: "c", Uses: "shell.exec", Needs: []string{"a"}},
			Step{ID: "d", Uses: "shell.exec", Needs: []string{"b", "c"}},
		)
		g, err := BuildGraph(doc)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, g.Phases())
		assert.Equal(t, []string{"a", "b", "c", "d"}, g.TopoOrder())
	})

	t.Run("Should return a topological permutation of all ids", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "w", Uses: "shell.exec"},
			Step{ID: "x", Uses: "shell.exec", Needs: []string{"w"}},
			Step{ID: "y", Uses: "shell.exec"},
			Step{ID: "z", Uses: "shell.exec", Needs: []string{"x", "y"}},
		)
		g, err := BuildGraph(doc)
		require.NoError(t, err)
		order := g.TopoOrder()
		assert.ElementsMatch(t, []string{"w", "x", "y", "z"}, order)
		pos := make(map[string]int)
		for i, id := range order {
			pos[id] = i
		}
		for _, s := range g.Steps() {
			for _, need := range s.Needs {
				assert.Less(t, pos[need], pos[s.ID])
			}
		}
	})

	t.Run("Should reject dependency cycles with the cycle path", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec", Needs: []string{"b"}},
			Step{ID: "b", Uses: "shell.exec", Needs: []string{"c"}},
			Step{ID: "c", Uses: "shell.exec", Needs: []string{"a"}},
		)
		_, err := BuildGraph(doc)
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		first := list.First()
		assert.Equal(t, core.CodeValidationCircularDep, first.Code)
		assert.Equal(t, []string{"a", "b", "c", "a"}, first.Details["cycle"])
	})

	t.Run("Should reject unknown needs references with suggestion", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "fetch", Uses: "http.request.get"},
			Step{ID: "store", Uses: "fs.write", Needs: []string{"fetc"}},
		)
		_, err := BuildGraph(doc)
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		assert.Equal(t, core.CodeValidationUnknownStep, list.First().Code)
		assert.Contains(t, list.First().Hint, "fetch")
	})

	t.Run("Should reject duplicate step ids", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec"},
			Step{ID: "a", Uses: "shell.exec"},
		)
		_, err := BuildGraph(doc)
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		assert.Equal(t, core.CodeValidationDuplicateStep, list.First().Code)
	})

	t.Run("Should reject invalid step ids", func(t *testing.T) {
		doc := docWithSteps(Step{ID: "1bad", Uses: "shell.exec"})
		_, err := BuildGraph(doc)
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		assert.Equal(t, core.CodeValidationInvalidStepID, list.First().Code)
	})

	t.Run("Should reject forward references in outputs", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec", Outputs: map[string]any{"later": "${steps.b.outputs.x}"}},
			Step{ID: "b", Uses: "shell.exec", Needs: []string{"a"}},
		)
		_, err := BuildGraph(doc)
		var list *core.ErrorList
		require.ErrorAs(t, err, &list)
		assert.Equal(t, core.CodeValidationForwardRef, list.First().Code)
	})

	t.Run("Should allow backward references in outputs", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec"},
			Step{ID: "b", Uses: "shell.exec", Needs: []string{"a"},
				Outputs: map[string]any{"prev": "${steps.a.outputs.x}"}},
		)
		_, err := BuildGraph(doc)
		assert.NoError(t, err)
	})

	t.Run("Should compute transitive dependents", func(t *testing.T) {
		doc := docWithSteps(
			Step{ID: "a", Uses: "shell.exec"},
			Step{ID: "b", Uses: "shell.exec", Needs: []string{"a"}},
			Step{ID: "c", Uses: "shell.exec", Needs: []string{"b"}},
			Step{ID: "d", Uses: "shell.exec", Needs: []string{"a"}},
		)
		g, err := BuildGraph(doc)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, g.Dependents("b"))
		assert.Empty(t, g.Dependents("c"))
		assert.Equal(t, []string{"b", "c", "d"}, g.Dependents("a"))
	})
}

func TestResolveAdapter(t *testing.T) {
	t.Run("Should resolve builtin namespaces and default to plugin", func(t *testing.T) {
		cases := map[string]string{
			"http.request.get": "http",
			"shell.exec":       "shell",
			"fs.write":         "fs",
			"cli.run":          "cli",
			"webhook.post":     "webhook",
			"slack.message":    AdapterPlugin,
			"noop":             AdapterPlugin,
		}
		for uses, want := range cases {
			assert.Equal(t, want, ResolveAdapter(uses), "uses %q", uses)
		}
	})
}

func docWithSteps(steps ...Step) *Document {
	return &Document{
		Version:  "1.0",
		Kind:     KindWorkflow,
		Metadata: Metadata{Name: "test"},
		Workflow: Section{Steps: steps},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		assert.Equal(t, code, coreErr.Code)
		return
	}
	var list *core.ErrorList
	require.ErrorAs(t, err, &list)
	for _, e := range list.Errors {
		if e.Code == code {
			return
		}
	}
	t.Fatalf("expected error code %s, got %v", code, err)
}

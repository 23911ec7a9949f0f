package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowmatic/flowmatic/engine/core"
	"github.com/flowmatic/flowmatic/pkg/tplengine"
)

// Graph is the dependency DAG over a workflow's parsed steps, with the phase
// partition precomputed. Edges run from a step to each entry in its needs.
type Graph struct {
	steps  []ParsedStep
	byID   map[string]*ParsedStep
	phases [][]string
	// reverse[u] lists the steps that depend on u.
	reverse map[string][]string
}

// BuildGraph parses the document's steps, validates identifiers, needs
// references, acyclicity, and forward references, and returns the DAG.
func BuildGraph(doc *Document) (*Graph, error) {
	steps := make([]ParsedStep, len(doc.Workflow.Steps))
	for i, s := range doc.Workflow.Steps {
		steps[i] = ParseStep(s)
	}
	g := &Graph{
		steps:   steps,
		byID:    make(map[string]*ParsedStep, len(steps)),
		reverse: make(map[string][]string),
	}
	list := &core.ErrorList{}
	g.indexSteps(list)
	if list.Empty() {
		g.checkNeeds(list)
	}
	if list.Empty() {
		if cycle := g.findCycle(); cycle != nil {
			list.Add(core.ValidationError(core.CodeValidationCircularDep,
				fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> ")),
				"workflow.steps").WithHint("break the cycle by removing one of the needs entries"))
			list.First().Details = map[string]any{"cycle": cycle}
		}
	}
	if list.Empty() {
		g.computePhases()
		g.checkForwardRefs(list)
	}
	if !list.Empty() {
		return nil, list
	}
	return g, nil
}

func (g *Graph) indexSteps(list *core.ErrorList) {
	for i := range g.steps {
		step := &g.steps[i]
		if !ValidStepID(step.ID) {
			list.Add(core.ValidationError(core.CodeValidationInvalidStepID,
				fmt.Sprintf("invalid step id %q: must match [A-Za-z][A-Za-z0-9_-]*", step.ID),
				fmt.Sprintf("workflow.steps[%d].id", i)))
			continue
		}
		if _, dup := g.byID[step.ID]; dup {
			list.Add(core.ValidationError(core.CodeValidationDuplicateStep,
				fmt.Sprintf("duplicate step id %q", step.ID),
				fmt.Sprintf("workflow.steps[%d].id", i)))
			continue
		}
		g.byID[step.ID] = step
	}
}

func (g *Graph) checkNeeds(list *core.ErrorList) {
	ids := g.stepIDs()
	for i := range g.steps {
		step := &g.steps[i]
		for _, need := range step.Needs {
			if _, ok := g.byID[need]; !ok {
				err := core.ValidationError(core.CodeValidationUnknownStep,
					fmt.Sprintf("step %q needs unknown step %q", step.ID, need),
					fmt.Sprintf("workflow.steps[%d].needs", i))
				if s := suggestField(need, ids); s != nil {
					err = err.WithHint(fmt.Sprintf("did you mean %q?", s.Closest))
				}
				list.Add(err)
				continue
			}
			g.reverse[need] = append(g.reverse[need], step.ID)
		}
	}
}

// findCycle runs a three-color DFS and returns the cycle path (first node
// repeated at the end) when the needs graph is not acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, need := range g.byID[id].Needs {
			switch color[need] {
			case gray:
				// Found a back edge; slice the cycle out of the stack.
				start := 0
				for i, v := range stack {
					if v == need {
						start = i
						break
					}
				}
				cycle = append(cycle, stack[start:]...)
				cycle = append(cycle, need)
				return true
			case white:
				if visit(need) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.stepIDs() {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// computePhases runs Kahn's algorithm, grouping steps by topological level.
// Phase 0 holds steps with no dependencies; each later phase holds steps
// whose needs all live in earlier phases.
func (g *Graph) computePhases() {
	indegree := make(map[string]int, len(g.steps))
	for i := range g.steps {
		indegree[g.steps[i].ID] = len(g.steps[i].Needs)
	}
	remaining := len(g.steps)
	current := make([]string, 0)
	for _, id := range g.stepIDs() {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		g.phases = append(g.phases, current)
		remaining -= len(current)
		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range g.reverse[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
}

// checkForwardRefs rejects ${steps.X...} references in a step's outputs or
// when that do not point at one of its transitive dependencies.
func (g *Graph) checkForwardRefs(list *core.ErrorList) {
	for i := range g.steps {
		step := &g.steps[i]
		ancestors := g.ancestors(step.ID)
		refs := collectStepRefs(step)
		for _, target := range refs {
			if target == step.ID || !ancestors[target] {
				list.Add(core.ValidationError(core.CodeValidationForwardRef,
					fmt.Sprintf("step %q references steps.%s, which is not among its dependencies", step.ID, target),
					fmt.Sprintf("workflow.steps[%d]", i)).
					WithHint(fmt.Sprintf("add %q to the step's needs", target)))
			}
		}
	}
}

func collectStepRefs(step *ParsedStep) []string {
	var targets []string
	seen := make(map[string]bool)
	add := func(s string) {
		for _, ref := range tplengine.ExtractRefs(s) {
			if ref.Root() != "steps" {
				continue
			}
			parts := strings.SplitN(ref.Path, ".", 3)
			if len(parts) >= 2 && !seen[parts[1]] {
				seen[parts[1]] = true
				targets = append(targets, parts[1])
			}
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			add(val)
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(map[string]any(step.Outputs))
	add(step.When)
	return targets
}

// ancestors returns the transitive needs closure of a step.
func (g *Graph) ancestors(id string) map[string]bool {
	result := make(map[string]bool)
	var visit func(string)
	visit = func(current string) {
		step, ok := g.byID[current]
		if !ok {
			return
		}
		for _, need := range step.Needs {
			if !result[need] {
				result[need] = true
				visit(need)
			}
		}
	}
	visit(id)
	return result
}

// Dependents returns the transitive dependents of a step, BFS over reverse
// edges. Used by the skipDependent failure strategy.
func (g *Graph) Dependents(id string) []string {
	var result []string
	seen := map[string]bool{id: true}
	queue := append([]string(nil), g.reverse[id]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)
		queue = append(queue, g.reverse[current]...)
	}
	sort.Strings(result)
	return result
}

// Steps returns the parsed steps in document order.
func (g *Graph) Steps() []ParsedStep {
	return g.steps
}

// Step returns the parsed step with the given id.
func (g *Graph) Step(id string) (*ParsedStep, bool) {
	s, ok := g.byID[id]
	return s, ok
}

// Phases returns the topological level partition.
func (g *Graph) Phases() [][]string {
	return g.phases
}

// TopoOrder returns all step ids in a valid topological order.
func (g *Graph) TopoOrder() []string {
	var order []string
	for _, phase := range g.phases {
		order = append(order, phase...)
	}
	return order
}

// Needs returns the direct dependencies of a step.
func (g *Graph) Needs(id string) []string {
	if s, ok := g.byID[id]; ok {
		return s.Needs
	}
	return nil
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.steps)
}

func (g *Graph) stepIDs() []string {
	ids := make([]string, 0, len(g.steps))
	for i := range g.steps {
		if _, ok := g.byID[g.steps[i].ID]; ok {
			ids = append(ids, g.steps[i].ID)
		}
	}
	return ids
}

package orchestrator

import (
	"slices"

	"agentrouter/internal/domain"
)

// Plan is the layered execution order of a run. Every capability in a layer
// depends only on capabilities of earlier layers.
type Plan struct {
	Layers  [][]string
	prereqs map[string][]string
}

func (p Plan) Prerequisites(capability string) []string {
	return p.prereqs[capability]
}

// BuildPlan layers capabilities by their dependencies. Prerequisites that are
// not among the capabilities are dropped. A self dependency or any cycle is
// reported as a *domain.CycleError. Within a layer, capabilities keep the
// order they have in capabilities.
func BuildPlan(capabilities []string, dependencies map[string][]string) (Plan, error) {
	prereqs := make(map[string][]string, len(capabilities))
	for _, c := range capabilities {
		for _, p := range dependencies[c] {
			if p == c {
				return Plan{}, &domain.CycleError{Path: []string{c, c}}
			}
			if slices.Contains(capabilities, p) && !slices.Contains(prereqs[c], p) {
				prereqs[c] = append(prereqs[c], p)
			}
		}
	}

	if path := findCycle(capabilities, prereqs); path != nil {
		return Plan{}, &domain.CycleError{Path: path}
	}

	level := make(map[string]int, len(capabilities))
	var depth func(c string) int
	depth = func(c string) int {
		if d, ok := level[c]; ok {
			return d
		}
		d := 0
		for _, p := range prereqs[c] {
			d = max(d, depth(p)+1)
		}
		level[c] = d
		return d
	}

	var layers [][]string
	for _, c := range capabilities {
		d := depth(c)
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], c)
	}
	return Plan{Layers: layers, prereqs: prereqs}, nil
}

func findCycle(capabilities []string, prereqs map[string][]string) []string {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var stack []string
	var cycle []string

	var dfs func(c string) bool
	dfs = func(c string) bool {
		if visiting[c] {
			start := slices.Index(stack, c)
			cycle = append(slices.Clone(stack[start:]), c)
			return true
		}
		if visited[c] {
			return false
		}
		visiting[c] = true
		stack = append(stack, c)
		for _, p := range prereqs[c] {
			if dfs(p) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		visiting[c] = false
		visited[c] = true
		return false
	}
	for _, c := range capabilities {
		if dfs(c) {
			return cycle
		}
	}
	return nil
}

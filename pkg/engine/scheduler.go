package engine

import (
	"sort"
)

// Scheduler orders module specs into strictly sequential dependency batches.
type Scheduler struct{}

// NewScheduler creates a scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule validates the dependency graph of the enabled modules and
// partitions them into batches. Every dependency of a batch member resolved
// in an earlier batch; forced-sequential modules become singleton batches.
// Unknown dependencies and cycles are fatal and reported before any
// execution starts.
func (s *Scheduler) Schedule(specs []ModuleSpec) ([]Batch, error) {
	enabled := make(map[string]ModuleSpec)
	for _, spec := range specs {
		if spec.Enabled {
			enabled[spec.Name] = spec
		}
	}

	// Dangling references first, so a cycle report never hides a typo.
	for _, spec := range enabled {
		for _, dep := range spec.DependsOn {
			if _, ok := enabled[dep]; !ok {
				return nil, &UnknownDependencyError{Module: spec.Name, Dependency: dep}
			}
		}
	}

	if cycle := findCycle(enabled); cycle != nil {
		return nil, &DependencyCycleError{Cycle: cycle}
	}

	return buildBatches(enabled), nil
}

// findCycle runs a DFS with three-color marking and returns the cycle path
// (first node repeated last) or nil. Roots are visited in name order so the
// reported cycle is deterministic.
func findCycle(specs map[string]ModuleSpec) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(specs))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)
		deps := append([]string(nil), specs[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case gray:
				// Slice the stack from the first occurrence of dep to
				// report the cycle path.
				for i, n := range stack {
					if n == dep {
						cycle := append([]string(nil), stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// buildBatches performs rounds of ready-set extraction: a module is ready
// when all its dependencies are scheduled in earlier batches. Within a
// round the ready modules are ordered by (priority, name); forced-sequential
// members are carved off into singleton batches interleaved by that same
// order. The graph is already known acyclic, so every round makes progress.
func buildBatches(specs map[string]ModuleSpec) []Batch {
	scheduled := make(map[string]bool, len(specs))
	remaining := make(map[string]ModuleSpec, len(specs))
	for name, spec := range specs {
		remaining[name] = spec
	}

	var batches []Batch
	appendBatch := func(members []string) {
		batches = append(batches, Batch{Index: len(batches), Members: members})
	}

	for len(remaining) > 0 {
		var ready []ModuleSpec
		for _, spec := range remaining {
			ok := true
			for _, dep := range spec.DependsOn {
				if !scheduled[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, spec)
			}
		}

		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority < ready[j].Priority
			}
			return ready[i].Name < ready[j].Name
		})

		var shared []string
		flushShared := func() {
			if len(shared) > 0 {
				appendBatch(shared)
				shared = nil
			}
		}
		for _, spec := range ready {
			if spec.ForceSequential {
				flushShared()
				appendBatch([]string{spec.Name})
			} else {
				shared = append(shared, spec.Name)
			}
			scheduled[spec.Name] = true
			delete(remaining, spec.Name)
		}
		flushShared()
	}
	return batches
}

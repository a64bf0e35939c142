// Package planner computes the level structure a Program executes under:
// Kahn's algorithm with a stable, declaration-order tie-break, grounded in
// original_source/condukt/planner.py.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/condukt-run/missionengine/ast"
)

// Levels is the output of BuildLevels: an ordered list of levels, each a
// list of task names schedulable concurrently.
type Levels [][]string

// Flatten returns the levels concatenated in order, i.e. task_order.
func (l Levels) Flatten() []string {
	var out []string
	for _, lvl := range l {
		out = append(out, lvl...)
	}
	return out
}

// CycleError is returned when the after-graph does not fully resolve; it
// names every task that never reached in-degree zero.
type CycleError struct {
	Blocked []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in plan: %s", strings.Join(e.Blocked, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ast.ErrCyclicPlan
}

// BuildLevels computes the level structure of p.Tasks using Kahn's
// algorithm. Ties within a ready set are broken by original declaration
// index, making the result a deterministic function of task order alone
// (P1). It assumes I1-I3 already hold (unique names, valid after-edges);
// callers normally run the Static Validator first, but BuildLevels detects
// a cycle on its own and returns *CycleError rather than looping forever.
func BuildLevels(p *ast.Program) (Levels, error) {
	index := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		index[t.Name] = i
	}

	indegree := make(map[string]int, len(p.Tasks))
	successors := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		if _, ok := indegree[t.Name]; !ok {
			indegree[t.Name] = 0
		}
		for _, dep := range t.After {
			indegree[t.Name]++
			successors[dep] = append(successors[dep], t.Name)
		}
	}

	var levels Levels
	remaining := make(map[string]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	ready := readyAt(remaining, index, 0)
	emitted := 0
	for len(ready) > 0 {
		sortByDeclarationIndex(ready, index)
		levels = append(levels, ready)
		emitted += len(ready)

		var next []string
		seen := make(map[string]bool)
		for _, name := range ready {
			for _, succ := range successors[name] {
				remaining[succ]--
				if remaining[succ] == 0 && !seen[succ] {
					seen[succ] = true
					next = append(next, succ)
				}
			}
			delete(remaining, name)
		}
		ready = next
	}

	if emitted < len(p.Tasks) {
		var blocked []string
		for _, t := range p.Tasks {
			if _, ok := remaining[t.Name]; ok {
				blocked = append(blocked, t.Name)
			}
		}
		sort.Strings(blocked)
		return nil, &CycleError{Blocked: blocked}
	}
	return levels, nil
}

func readyAt(remaining map[string]int, index map[string]int, _ int) []string {
	var ready []string
	for name, deg := range remaining {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sortByDeclarationIndex(ready, index)
	return ready
}

func sortByDeclarationIndex(names []string, index map[string]int) {
	sort.Slice(names, func(i, j int) bool {
		return index[names[i]] < index[names[j]]
	})
}

// Mermaid renders the validated task list as a Mermaid flowchart, reusing
// BuildLevels so the diagram matches the plan that will actually run.
// Diagnostic only; not part of the execution path.
func Mermaid(p *ast.Program) (string, error) {
	levels, err := BuildLevels(p)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")
	for _, t := range p.Tasks {
		sb.WriteString(fmt.Sprintf("  %s[%s]\n", mermaidID(t.Name), t.Name))
		for _, dep := range t.After {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", mermaidID(dep), mermaidID(t.Name)))
		}
	}
	_ = levels
	return sb.String(), nil
}

func mermaidID(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// Package validate implements the Static Validator (spec §4.2), grounded in
// original_source/condukt/validator.py: it aggregates every structural
// error in a Program except the cycle check, which always runs last.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/condukt-run/missionengine/ast"
	"github.com/condukt-run/missionengine/planner"
)

// Program runs every static check against p and returns an ordered list of
// human-readable error strings, each prefixed "line <n>:" when a line
// number is available. An empty result means the Program may execute.
// granted is the set of capability tokens available at run time (I8).
func Program(p *ast.Program, granted []string) []string {
	var errs []string

	errs = append(errs, checkUniqueNames(p)...)
	errs = append(errs, checkAfterEdgesValid(p)...)
	errs = append(errs, checkSingleProducer(p)...)
	errs = append(errs, checkArtifactTypes(p)...)
	errs = append(errs, checkRetryConfig(p)...)
	errs = append(errs, checkCapabilities(p, granted)...)
	errs = append(errs, checkWorkerPaths(p)...)

	ancestors := buildAncestorMap(p)
	errs = append(errs, checkConsumerReachability(p, ancestors)...)

	// cycle check always runs last and may add one more error.
	if _, err := planner.BuildLevels(p); err != nil {
		errs = append(errs, err.Error())
	}
	return errs
}

func checkUniqueNames(p *ast.Program) []string {
	var errs []string
	seen := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if seen[t.Name] {
			errs = append(errs, fmt.Sprintf("duplicate task name %q", t.Name))
			continue
		}
		seen[t.Name] = true
	}
	return errs
}

func checkAfterEdgesValid(p *ast.Program) []string {
	var errs []string
	names := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		names[t.Name] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.After {
			if !names[dep] {
				errs = append(errs, fmt.Sprintf("task %q declares after dependency on unknown task %q", t.Name, dep))
			}
		}
	}
	return errs
}

func checkSingleProducer(p *ast.Program) []string {
	var errs []string
	producer := make(map[string]string)
	for _, t := range p.Tasks {
		for _, a := range t.Produces {
			if existing, ok := producer[a]; ok {
				errs = append(errs, fmt.Sprintf("artifact %q is produced by both %q and %q", a, existing, t.Name))
				continue
			}
			producer[a] = t.Name
		}
	}
	return errs
}

// buildAncestorMap returns, for each task name, the set of task names
// transitively reachable via after edges (its ancestors). A DFS with a
// visiting-guard avoids infinite recursion on a cycle; the cycle itself is
// reported separately by the final cycle check.
func buildAncestorMap(p *ast.Program) map[string]map[string]bool {
	byName := make(map[string]*ast.Task, len(p.Tasks))
	for _, t := range p.Tasks {
		byName[t.Name] = t
	}
	memo := make(map[string]map[string]bool, len(p.Tasks))
	var visit func(name string, visiting map[string]bool) map[string]bool
	visit = func(name string, visiting map[string]bool) map[string]bool {
		if m, ok := memo[name]; ok {
			return m
		}
		if visiting[name] {
			return map[string]bool{}
		}
		visiting[name] = true
		result := map[string]bool{}
		t := byName[name]
		if t != nil {
			for _, dep := range t.After {
				if byName[dep] == nil {
					continue
				}
				result[dep] = true
				for anc := range visit(dep, visiting) {
					result[anc] = true
				}
			}
		}
		delete(visiting, name)
		memo[name] = result
		return result
	}
	out := make(map[string]map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		out[t.Name] = visit(t.Name, map[string]bool{})
	}
	return out
}

func checkConsumerReachability(p *ast.Program, ancestors map[string]map[string]bool) []string {
	var errs []string
	producer := make(map[string]string)
	for _, t := range p.Tasks {
		for _, a := range t.Produces {
			producer[a] = t.Name
		}
	}
	for _, t := range p.Tasks {
		for _, a := range t.Consumes {
			prod, ok := producer[a]
			if !ok {
				errs = append(errs, fmt.Sprintf("task %q consumes artifact %q which no task produces", t.Name, a))
				continue
			}
			if !ancestors[t.Name][prod] {
				errs = append(errs, fmt.Sprintf("task %q consumes artifact %q but does not transitively depend on its producer %q", t.Name, a, prod))
			}
		}
	}
	return errs
}

func checkArtifactTypes(p *ast.Program) []string {
	var errs []string
	consumerType := make(map[string]string)
	for _, t := range p.Tasks {
		for a, typ := range t.ConsumesTypes {
			consumerType[a] = typ
		}
	}
	for _, t := range p.Tasks {
		for a, typ := range t.ProducesTypes {
			if ct, ok := consumerType[a]; ok {
				if ast.CanonicalArtifactType(ct) != ast.CanonicalArtifactType(typ) {
					errs = append(errs, fmt.Sprintf("artifact %q: producer %q declares type %q but a consumer declares %q", a, t.Name, typ, ct))
				}
			}
		}
	}
	return errs
}

func checkRetryConfig(p *ast.Program) []string {
	var errs []string
	for _, t := range p.Tasks {
		if t.TimeoutSeconds != 0 && t.TimeoutSeconds <= 0 {
			errs = append(errs, fmt.Sprintf("task %q: timeout_seconds must be positive if set", t.Name))
		}
		if t.Retries < 0 {
			errs = append(errs, fmt.Sprintf("task %q: retries must be non-negative", t.Name))
		}
		if (t.BackoffSeconds > 0 || t.JitterSeconds > 0) && t.Retries <= 0 {
			errs = append(errs, fmt.Sprintf("task %q: backoff_seconds/jitter_seconds require retries>0", t.Name))
		}
		if !ast.ValidRetryIf(t.RetryIf) {
			errs = append(errs, fmt.Sprintf("task %q: retry_if %q is not a recognized filter", t.Name, t.RetryIf))
		}
	}
	return errs
}

func checkCapabilities(p *ast.Program, granted []string) []string {
	grantedSet := make(map[string]bool, len(granted))
	for _, c := range granted {
		grantedSet[c] = true
	}
	var errs []string
	for _, t := range p.Tasks {
		for _, req := range t.Requires {
			if !grantedSet[req] {
				errs = append(errs, fmt.Sprintf("task %q requires capability %q which was not granted", t.Name, req))
			}
		}
	}
	return errs
}

func checkWorkerPaths(p *ast.Program) []string {
	var errs []string
	for _, t := range p.Tasks {
		resolved := t.Worker
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(p.BaseDir, resolved)
		}
		if _, err := os.Stat(resolved); err != nil {
			errs = append(errs, fmt.Sprintf("task %q: worker path %q does not exist", t.Name, resolved))
		}
	}
	sort.Strings(errs) // worker path errors are order-insensitive across tasks
	return errs
}

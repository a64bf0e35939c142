// Package schema validates a worker payload (input or output) against a
// Program's FieldSpec contracts, grounded in spec §4.6 and the dotted-path
// resolution of the original executor.py's _validate_schema/_matches_type.
package schema

import (
	"fmt"
	"strings"

	"github.com/condukt-run/missionengine/ast"
)

// Validate checks payload against specs, returning every violation found
// (it never short-circuits). An empty result means the payload satisfies
// every FieldSpec.
func Validate(specs []ast.FieldSpec, payload map[string]ast.Value) []string {
	var errs []string
	for _, spec := range specs {
		v, present := resolve(spec.Path, payload)
		if !present {
			if !spec.Optional {
				errs = append(errs, fmt.Sprintf("missing required field '%s' (line %d)", spec.Path, spec.Line))
			}
			continue
		}
		if !matchesType(v, spec.ExpectedType) {
			errs = append(errs, fmt.Sprintf("field '%s' expected %s but got %s (line %d)",
				spec.Path, spec.ExpectedType, v.TypeName(), spec.Line))
		}
	}
	return errs
}

// resolve walks a dotted path through nested maps. A missing intermediate
// key, or an intermediate value that is not a map, makes the field absent
// rather than an error.
func resolve(path string, payload map[string]ast.Value) (ast.Value, bool) {
	parts := strings.Split(path, ".")
	var cur ast.Value = ast.Value{Kind: ast.KindMap, Map: payload}
	for _, part := range parts {
		if cur.Kind != ast.KindMap {
			return ast.Value{}, false
		}
		next, ok := cur.Map[part]
		if !ok {
			return ast.Value{}, false
		}
		cur = next
	}
	return cur, true
}

// matchesType reports whether v's runtime kind satisfies expected, per the
// numeric semantics of spec §4.3: bool is distinct from int; "number"
// spans int and float but excludes bool; "none"/"null" are synonyms.
func matchesType(v ast.Value, expected string) bool {
	switch strings.ToLower(expected) {
	case "any", "":
		return true
	case "bool", "boolean":
		return v.Kind == ast.KindBool
	case "str", "string":
		return v.Kind == ast.KindString
	case "int", "integer":
		return v.Kind == ast.KindInt
	case "float":
		return v.Kind == ast.KindFloat
	case "number":
		return v.Kind == ast.KindInt || v.Kind == ast.KindFloat
	case "dict", "object":
		return v.Kind == ast.KindMap
	case "list", "array":
		return v.Kind == ast.KindList
	case "none", "null":
		return v.Kind == ast.KindNull
	default:
		return false
	}
}

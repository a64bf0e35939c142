package ast

import "strings"

// artifactPrimitiveTypes are the type tokens that canonicalize to
// "primitive:<name>" rather than "type:<name>".
var artifactPrimitiveTypes = map[string]bool{
	"str": true, "string": true,
	"int": true, "integer": true,
	"float": true,
	"bool": true, "boolean": true,
	"list": true, "array": true,
	"dict": true, "object": true,
	"any": true,
}

// artifactTypeAliases collapses surface spellings onto one canonical
// primitive name before the primitive/type split is applied.
var artifactTypeAliases = map[string]string{
	"array":   "list",
	"boolean": "bool",
	"integer": "int",
	"object":  "dict",
	"string":  "str",
}

// CanonicalArtifactType normalizes a declared artifact type name to
// "primitive:<lower>" for recognized primitives (after alias collapse) or
// "type:<exact>" for anything else, so that e.g. "Array" and "list" compare
// equal while a custom type name "Report" stays distinct from "report".
func CanonicalArtifactType(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := artifactTypeAliases[lower]; ok {
		lower = alias
	}
	if artifactPrimitiveTypes[lower] {
		return "primitive:" + lower
	}
	return "type:" + strings.TrimSpace(raw)
}

// retryIfValues is the closed set of legal Task.RetryIf values, "" meaning
// unset (treated as "error" by the Retry Controller).
var retryIfValues = map[string]bool{
	"":               true,
	"error":          true,
	"timeout":        true,
	"worker_failure": true,
}

// ValidRetryIf reports whether v is a recognized retry_if value.
func ValidRetryIf(v string) bool {
	return retryIfValues[v]
}

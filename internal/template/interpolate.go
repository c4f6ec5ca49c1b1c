package template

import (
	"encoding/json"
	"strings"
)

// Resolve implements C1: given a value and a scope, it returns a new value
// of the same shape with all string leaves resolved. Mappings and sequences
// are preserved and recursed into element-wise; scalars other than strings
// pass through unchanged.
func Resolve(value interface{}, scope *Scope) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			out[k] = Resolve(elem, scope)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = Resolve(elem, scope)
		}
		return out
	case string:
		return InterpolateString(v, scope)
	default:
		return v
	}
}

type occurrence struct {
	start, end int // byte offsets of the full "{{ ... }}" span
	expr       string
}

func findOccurrences(s string) []occurrence {
	var out []occurrence
	i := 0
	for {
		start := strings.Index(s[i:], "{{")
		if start == -1 {
			break
		}
		start += i
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			break
		}
		end += start
		out = append(out, occurrence{start: start, end: end + 2, expr: s[start+2 : end]})
		i = end + 2
	}
	return out
}

// InterpolateString resolves every `{{ expr }}` occurrence in s. When s is
// exactly one whole-string occurrence, the resolved value is returned
// verbatim (preserving its native type). Otherwise, every occurrence is
// substituted in place, serializing non-string resolved values as JSON.
func InterpolateString(s string, scope *Scope) interface{} {
	occs := findOccurrences(s)
	if len(occs) == 0 {
		return s
	}

	if len(occs) == 1 && occs[0].start == 0 && occs[0].end == len(s) {
		return evalExpr(occs[0].expr, scope)
	}

	var b strings.Builder
	last := 0
	for _, occ := range occs {
		b.WriteString(s[last:occ.start])
		resolved := evalExpr(occ.expr, scope)
		b.WriteString(stringify(resolved))
		last = occ.end
	}
	b.WriteString(s[last:])
	return b.String()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return toString(v)
		}
		return string(b)
	}
}

// evalExpr handles the optional pipe-filter extension: "path | filter | filter(arg)".
// Filters are resolved from DefaultFilters; unknown filter names pass the
// value through unchanged.
func evalExpr(expr string, scope *Scope) interface{} {
	parts := strings.Split(expr, "|")
	path := strings.TrimSpace(parts[0])

	v, ok := ResolvePath(path, scope)
	if !ok {
		v = ""
	}

	for _, stage := range parts[1:] {
		name, args := parseFilterStage(stage)
		if f, ok := DefaultFilters[name]; ok {
			v = f(v, args)
		}
	}
	return v
}

func parseFilterStage(stage string) (name string, args []string) {
	stage = strings.TrimSpace(stage)
	open := strings.IndexByte(stage, '(')
	if open == -1 || !strings.HasSuffix(stage, ")") {
		return stage, nil
	}
	name = strings.TrimSpace(stage[:open])
	inner := stage[open+1 : len(stage)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil
	}
	for _, a := range strings.Split(inner, ",") {
		a = strings.TrimSpace(a)
		a = strings.Trim(a, `"'`)
		args = append(args, a)
	}
	return name, args
}

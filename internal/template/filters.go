package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Filter is a named, single-argument transform applied to a resolved value
// by the optional pipe extension (`{{ value | upper }}`). Unknown filters
// pass the value through unchanged rather than failing.
type Filter func(value interface{}, args []string) interface{}

// DefaultFilters is the fixed, process-wide filter table, grouped as string,
// object/array, math, logic and regex filters; it has no date filters.
// Resolve and InterpolateString always look filters up in this table; no
// other table can be passed in.
var DefaultFilters = map[string]Filter{
	// string
	"upper": func(v interface{}, _ []string) interface{} { return strings.ToUpper(toString(v)) },
	"lower": func(v interface{}, _ []string) interface{} { return strings.ToLower(toString(v)) },
	"trim":  func(v interface{}, _ []string) interface{} { return strings.TrimSpace(toString(v)) },
	"replace": func(v interface{}, args []string) interface{} {
		if len(args) < 2 {
			return v
		}
		return strings.ReplaceAll(toString(v), args[0], args[1])
	},
	"split": func(v interface{}, args []string) interface{} {
		sep := ","
		if len(args) > 0 {
			sep = args[0]
		}
		parts := strings.Split(toString(v), sep)
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out
	},

	// object/array
	"length": func(v interface{}, _ []string) interface{} {
		switch t := v.(type) {
		case string:
			return len(t)
		case []interface{}:
			return len(t)
		case map[string]interface{}:
			return len(t)
		}
		return 0
	},
	"first": func(v interface{}, _ []string) interface{} {
		if s, ok := v.([]interface{}); ok && len(s) > 0 {
			return s[0]
		}
		return nil
	},
	"last": func(v interface{}, _ []string) interface{} {
		if s, ok := v.([]interface{}); ok && len(s) > 0 {
			return s[len(s)-1]
		}
		return nil
	},

	// math
	"round": func(v interface{}, _ []string) interface{} {
		f, ok := toFloat(v)
		if !ok {
			return v
		}
		return float64(int64(f + 0.5))
	},
	"abs": func(v interface{}, _ []string) interface{} {
		f, ok := toFloat(v)
		if !ok {
			return v
		}
		if f < 0 {
			return -f
		}
		return f
	},

	// logic
	"default": func(v interface{}, args []string) interface{} {
		if isEmpty(v) && len(args) > 0 {
			return args[0]
		}
		return v
	},
	"not": func(v interface{}, _ []string) interface{} { return !truthy(v) },

	// regex
	"match": func(v interface{}, args []string) interface{} {
		if len(args) == 0 {
			return false
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return false
		}
		return re.MatchString(toString(v))
	},
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return true
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

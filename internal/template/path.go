package template

import (
	"strconv"
	"strings"
)

type segmentKind int

const (
	segKey segmentKind = iota
	segIndex
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

// parsePath splits a dot-separated path with optional bracketed integer
// indices, e.g. "items[0].name", into root identifier + remaining segments.
func parsePath(path string) (root string, rest []segment) {
	var cur strings.Builder
	segs := make([]segment, 0, 4)
	i := 0
	n := len(path)
	for i < n {
		c := path[i]
		switch c {
		case '.':
			if cur.Len() > 0 {
				segs = append(segs, segment{kind: segKey, key: cur.String()})
				cur.Reset()
			}
			i++
		case '[':
			if cur.Len() > 0 {
				segs = append(segs, segment{kind: segKey, key: cur.String()})
				cur.Reset()
			}
			end := strings.IndexByte(path[i:], ']')
			if end == -1 {
				// Malformed index: consume rest as a literal key fragment.
				cur.WriteString(path[i:])
				i = n
				continue
			}
			idxStr := path[i+1 : i+end]
			if idx, err := strconv.Atoi(strings.TrimSpace(idxStr)); err == nil {
				segs = append(segs, segment{kind: segIndex, index: idx})
			}
			i += end + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if cur.Len() > 0 {
		segs = append(segs, segment{kind: segKey, key: cur.String()})
	}

	if len(segs) == 0 {
		return "", nil
	}
	root = segs[0].key
	return root, segs[1:]
}

// navigate walks value through the given path segments, returning false on
// any missing key, out-of-range index, or type mismatch.
func navigate(value interface{}, segs []segment) (interface{}, bool) {
	cur := value
	for _, seg := range segs {
		switch seg.kind {
		case segKey:
			m, ok := asMap(cur)
			if !ok {
				return nil, false
			}
			v, ok := m[seg.key]
			if !ok {
				return nil, false
			}
			cur = v
		case segIndex:
			s, ok := asSlice(cur)
			if !ok || seg.index < 0 || seg.index >= len(s) {
				return nil, false
			}
			cur = s[seg.index]
		}
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

// ResolvePath looks up a full dot-path against a scope, e.g.
// "inputs.user.name" or "item.id". Missing paths return (nil, false) —
// callers substitute an empty string, per §4.1.
func ResolvePath(path string, scope *Scope) (interface{}, bool) {
	root, rest := parsePath(strings.TrimSpace(path))
	if root == "" {
		return nil, false
	}
	v, ok := scope.Lookup(root)
	if !ok {
		return nil, false
	}
	if len(rest) == 0 {
		return v, true
	}
	return navigate(v, rest)
}

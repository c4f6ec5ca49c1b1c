package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWholeStringSubstitutionPreservesType(t *testing.T) {
	scope := NewScope(map[string]interface{}{"count": float64(5)}, nil)
	got := InterpolateString("{{ count }}", scope)
	assert.Equal(t, float64(5), got)
}

func TestMixedSubstitutionProducesString(t *testing.T) {
	scope := NewScope(map[string]interface{}{"count": float64(5)}, nil)
	got := InterpolateString("total: {{ count }} items", scope)
	assert.Equal(t, "total: 5 items", got)
}

func TestMixedSubstitutionSerializesNonStringAsJSON(t *testing.T) {
	scope := NewScope(map[string]interface{}{"items": []interface{}{float64(1), float64(2)}}, nil)
	got := InterpolateString("got {{ items }}", scope)
	assert.Equal(t, "got [1,2]", got)
}

func TestUndefinedPathResolvesToEmptyString(t *testing.T) {
	scope := NewScope(nil, nil)
	got := InterpolateString("{{ missing.deep.path }}", scope)
	assert.Equal(t, "", got)
}

func TestInputsAccessibleBareAndPrefixed(t *testing.T) {
	scope := NewScope(nil, map[string]interface{}{"name": "ada"})
	assert.Equal(t, "ada", InterpolateString("{{ name }}", scope), "bare access")
	assert.Equal(t, "ada", InterpolateString("{{ inputs.name }}", scope), "prefixed access")
}

func TestResolveRecursesIntoMappingsAndSequences(t *testing.T) {
	scope := NewScope(map[string]interface{}{"x": "y"}, nil)
	input := map[string]interface{}{
		"a": []interface{}{"{{ x }}", "literal"},
	}
	out, ok := Resolve(input, scope).(map[string]interface{})
	require.True(t, ok)
	list, ok := out["a"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "y", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestFilterPipelineAppliesInOrder(t *testing.T) {
	scope := NewScope(map[string]interface{}{"name": "  ada  "}, nil)
	got := InterpolateString("{{ name | trim | upper }}", scope)
	assert.Equal(t, "ADA", got)
}

func TestUnknownFilterPassesValueThrough(t *testing.T) {
	scope := NewScope(map[string]interface{}{"name": "ada"}, nil)
	got := InterpolateString("{{ name | nonexistent }}", scope)
	assert.Equal(t, "ada", got)
}

func TestInterpolationIsIdempotentOnResolvedStrings(t *testing.T) {
	scope := NewScope(map[string]interface{}{"x": "y"}, nil)
	once, ok := InterpolateString("value: {{ x }}", scope).(string)
	require.True(t, ok)
	twice := InterpolateString(once, scope)
	assert.Equal(t, once, twice)
}

func TestChildScopeShadowsAndRestoresOnExit(t *testing.T) {
	root := NewScope(map[string]interface{}{"item": "outer"}, nil)
	child := root.Child(map[string]interface{}{"item": "inner"})
	assert.Equal(t, "inner", InterpolateString("{{ item }}", child), "child scope")
	assert.Equal(t, "outer", InterpolateString("{{ item }}", root), "root scope after child created")
}

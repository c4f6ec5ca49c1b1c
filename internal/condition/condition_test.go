package condition

import (
	"testing"

	"github.com/reactorhq/reactor/internal/template"
)

func scopeWith(vars map[string]interface{}) *template.Scope {
	return template.NewScope(vars, nil)
}

func TestEqualityAndInequality(t *testing.T) {
	s := scopeWith(map[string]interface{}{"result": "skip"})
	if !Eval(`result == "skip"`, s) {
		t.Fatalf("expected true")
	}
	if Eval(`result != "skip"`, s) {
		t.Fatalf("expected false")
	}
}

func TestNumericOrdering(t *testing.T) {
	s := scopeWith(map[string]interface{}{"count": float64(5)})
	cases := map[string]bool{
		"count > 2":  true,
		"count < 2":  false,
		"count >= 5": true,
		"count <= 4": false,
	}
	for expr, want := range cases {
		if got := Eval(expr, s); got != want {
			t.Fatalf("%s: got %v, want %v", expr, got, want)
		}
	}
}

func TestLogicalOperators(t *testing.T) {
	s := scopeWith(map[string]interface{}{"a": true, "b": false})
	if !Eval("a && !b", s) {
		t.Fatalf("expected true for a && !b")
	}
	if !Eval("a or b", s) {
		t.Fatalf("expected true for a or b")
	}
	if Eval("a and b", s) {
		t.Fatalf("expected false for a and b")
	}
	if !Eval("not b", s) {
		t.Fatalf("expected true for not b")
	}
}

func TestMembershipAndContains(t *testing.T) {
	s := scopeWith(map[string]interface{}{
		"role":  "admin",
		"roles": []interface{}{"admin", "editor"},
		"name":  "Jane Doe",
	})
	if !Eval(`role in roles`, s) {
		t.Fatalf("expected membership true")
	}
	if !Eval(`name contains "Doe"`, s) {
		t.Fatalf("expected contains true")
	}
}

func TestParenthesization(t *testing.T) {
	s := scopeWith(map[string]interface{}{"a": true, "b": false, "c": false})
	if !Eval("(a || b) && !c", s) {
		t.Fatalf("expected true")
	}
}

func TestMalformedExpressionResolvesFalseNotError(t *testing.T) {
	s := scopeWith(nil)
	if Eval("((( unbalanced", s) {
		t.Fatalf("expected false for malformed expression")
	}
}

func TestUndefinedIdentifierResolvesFalse(t *testing.T) {
	s := scopeWith(nil)
	if Eval("missing == \"x\"", s) {
		t.Fatalf("expected false when comparing undefined to literal")
	}
}

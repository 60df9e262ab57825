package formula

import (
	"math"
	"testing"
)

func TestEvaluateArithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 4 - 3", 3},
		{"12 / 4 / 3", 1},
		{"2 ^ 3 ^ 2", 512},
		{"-3 + 5", 2},
		{"--4", 4},
		{"0.1 + 0.2", 0.1 + 0.2},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.src, nil)
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("%q = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestEvaluateFieldReferences(t *testing.T) {
	vars := map[string]float64{
		"Buffer":               50,
		"Dilution Factor":      2,
		"product_input_amount": 10,
	}
	got, err := Evaluate("({Buffer} + {product_input_amount}) * {Dilution Factor}", vars)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 120 {
		t.Fatalf("got %v, want 120", got)
	}
}

func TestEvaluateMissingFieldIsZero(t *testing.T) {
	got, err := Evaluate("{nope} + 5", map[string]float64{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != 5 {
		t.Fatalf("got %v, want 5", got)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"1 +",
		"(1 + 2",
		"{unterminated",
		"1 2",
		"foo + 1",
		"",
	}
	for _, src := range bad {
		if _, err := Parse(src); err == nil {
			t.Fatalf("Parse(%q) should fail", src)
		}
	}
}

func TestEvaluateNonFiniteResults(t *testing.T) {
	if _, err := Evaluate("1 / 0", nil); err == nil {
		t.Fatal("division by zero should fail")
	}
	if _, err := Evaluate("{x} / {y}", map[string]float64{"x": 1}); err == nil {
		t.Fatal("division by a zero field should fail")
	}
	if _, err := Evaluate("10 ^ 1000 * 10 ^ 1000", nil); err == nil {
		t.Fatal("overflow to infinity should fail")
	}
}

func TestParsedExpressionIsReusable(t *testing.T) {
	expr, err := Parse("{a} * 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, a := range []float64{1, 2.5, -4} {
		got, err := expr.Eval(map[string]float64{"a": a})
		if err != nil {
			t.Fatalf("Eval: %v", err)
		}
		if got != a*2 {
			t.Fatalf("got %v, want %v", got, a*2)
		}
	}
}

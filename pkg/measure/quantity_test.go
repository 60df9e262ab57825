package measure

import (
	"testing"
)

func TestToMeasuredUnknownSymbolFallsBackToCount(t *testing.T) {
	q := ToMeasured(3, "vials")
	if q.Symbol() != CountSymbol {
		t.Fatalf("symbol = %q, want %q", q.Symbol(), CountSymbol)
	}
	if q.Dimension() != Count {
		t.Fatalf("dimension = %q, want count", q.Dimension())
	}
	if q.Magnitude() != 3 {
		t.Fatalf("magnitude = %v, want 3", q.Magnitude())
	}
}

func TestConvertWithinDimension(t *testing.T) {
	cases := []struct {
		magnitude float64
		from, to  string
		want      float64
	}{
		{1, "mL", "uL", 1000},
		{1500, "uL", "mL", 1.5},
		{0.5, "L", "mL", 500},
		{2, "g", "mg", 2000},
		{250, "nM", "uM", 0.25},
	}
	for _, tc := range cases {
		got, err := ToMeasured(tc.magnitude, tc.from).ConvertTo(tc.to)
		if err != nil {
			t.Fatalf("%v %s -> %s: %v", tc.magnitude, tc.from, tc.to, err)
		}
		if got.Magnitude() != tc.want {
			t.Fatalf("%v %s -> %s = %v, want %v", tc.magnitude, tc.from, tc.to, got.Magnitude(), tc.want)
		}
		if got.Symbol() != tc.to {
			t.Fatalf("converted symbol = %q, want %q", got.Symbol(), tc.to)
		}
	}
}

func TestConvertAcrossDimensionsFails(t *testing.T) {
	if _, err := ToMeasured(1, "mL").ConvertTo("mg"); err == nil {
		t.Fatal("volume to mass conversion should fail")
	}
	if _, err := ToMeasured(1, "uL").Add(ToMeasured(1, "g")); err == nil {
		t.Fatal("adding mass to volume should fail")
	}
}

func TestArithmeticConvertsOperands(t *testing.T) {
	sum, err := ToMeasured(1, "mL").Add(ToMeasured(500, "uL"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Magnitude() != 1.5 || sum.Symbol() != "mL" {
		t.Fatalf("sum = %v %s, want 1.5 mL", sum.Magnitude(), sum.Symbol())
	}

	diff, err := ToMeasured(1, "mL").Sub(ToMeasured(250, "uL"))
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.Magnitude() != 0.75 {
		t.Fatalf("diff = %v, want 0.75", diff.Magnitude())
	}
}

func TestRepeatedDecimalArithmeticStaysExact(t *testing.T) {
	// 0.1 uL added ten times is exactly 1 uL in decimal arithmetic.
	total := ToMeasured(0, "uL")
	var err error
	for i := 0; i < 10; i++ {
		total, err = total.Add(ToMeasured(0.1, "uL"))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	cmp, err := total.Cmp(ToMeasured(1, "uL"))
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if cmp != 0 {
		t.Fatalf("total = %v uL, want exactly 1", total.Magnitude())
	}
}

func TestDeficitReportsInRequiredUnits(t *testing.T) {
	available := ToMeasured(30, "uL")
	required := ToMeasured(0.1, "mL")

	missing, short, err := available.Deficit(required)
	if err != nil {
		t.Fatalf("Deficit: %v", err)
	}
	if !short {
		t.Fatal("30 uL cannot satisfy 0.1 mL")
	}
	if missing.Symbol() != "mL" {
		t.Fatalf("deficit unit = %q, want the required unit", missing.Symbol())
	}
	if missing.Magnitude() != 0.07 {
		t.Fatalf("deficit = %v, want 0.07", missing.Magnitude())
	}

	_, short, err = ToMeasured(100, "uL").Deficit(ToMeasured(100, "uL"))
	if err != nil {
		t.Fatalf("Deficit: %v", err)
	}
	if short {
		t.Fatal("an exact match is not a shortage")
	}
}

func TestCmpAcrossUnits(t *testing.T) {
	less, err := ToMeasured(900, "uL").Less(ToMeasured(1, "mL"))
	if err != nil {
		t.Fatalf("Less: %v", err)
	}
	if !less {
		t.Fatal("900 uL should compare below 1 mL")
	}

	cmp, err := ToMeasured(1000, "uL").Cmp(ToMeasured(1, "mL"))
	if err != nil {
		t.Fatalf("Cmp: %v", err)
	}
	if cmp != 0 {
		t.Fatalf("cmp = %d, want equal", cmp)
	}
}

func TestKnown(t *testing.T) {
	if !Known("uL") || !Known("mg") || !Known("item") {
		t.Fatal("catalog units must be recognized")
	}
	if Known("parsecs") {
		t.Fatal("unrecognized unit reported as known")
	}
}

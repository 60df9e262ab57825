// Package measure implements unit-aware quantity arithmetic for inventory
// amounts. Recognized units convert exactly within their dimension;
// unrecognized unit strings degrade to a dimensionless count unit so that
// ad-hoc catalog measures never fail.
package measure

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Dimension classifies units that can be converted between each other.
type Dimension string

// Supported dimensions. Count is the fallback for unrecognized symbols.
const (
	Volume Dimension = "volume"
	Mass   Dimension = "mass"
	Molar  Dimension = "molar"
	Count  Dimension = "count"
)

// CountSymbol is the implicit unit applied when a symbol is unrecognized.
const CountSymbol = "item"

type unitDef struct {
	dimension Dimension
	// factor converts one unit into the dimension's base unit.
	factor decimal.Decimal
}

func exp(power int32) decimal.Decimal { return decimal.New(1, power) }

var units = map[string]unitDef{
	// Volume, base litre.
	"L":  {Volume, exp(0)},
	"l":  {Volume, exp(0)},
	"mL": {Volume, exp(-3)},
	"ml": {Volume, exp(-3)},
	"uL": {Volume, exp(-6)},
	"ul": {Volume, exp(-6)},
	"µL": {Volume, exp(-6)},
	"µl": {Volume, exp(-6)},
	"nL": {Volume, exp(-9)},
	"nl": {Volume, exp(-9)},

	// Mass, base gram.
	"kg": {Mass, exp(3)},
	"g":  {Mass, exp(0)},
	"mg": {Mass, exp(-3)},
	"ug": {Mass, exp(-6)},
	"µg": {Mass, exp(-6)},
	"ng": {Mass, exp(-9)},

	// Molar concentration, base molar.
	"M":  {Molar, exp(0)},
	"mM": {Molar, exp(-3)},
	"uM": {Molar, exp(-6)},
	"µM": {Molar, exp(-6)},
	"nM": {Molar, exp(-9)},

	// Dimensionless counts.
	"item":  {Count, exp(0)},
	"count": {Count, exp(0)},
}

// Quantity is a dimensioned value: magnitude plus unit symbol.
type Quantity struct {
	amount decimal.Decimal
	symbol string
	def    unitDef
}

// ToMeasured builds a quantity from a magnitude and a unit symbol. An
// unrecognized or empty symbol yields a dimensionless count quantity; this
// never fails, since catalog data may carry ad-hoc unit strings.
func ToMeasured(magnitude float64, symbol string) Quantity {
	def, ok := units[symbol]
	if !ok {
		return Quantity{
			amount: decimal.NewFromFloat(magnitude),
			symbol: CountSymbol,
			def:    units[CountSymbol],
		}
	}
	return Quantity{amount: decimal.NewFromFloat(magnitude), symbol: symbol, def: def}
}

// Known reports whether a unit symbol is recognized.
func Known(symbol string) bool {
	_, ok := units[symbol]
	return ok
}

// Magnitude returns the scalar value in the quantity's own unit.
func (q Quantity) Magnitude() float64 {
	f, _ := q.amount.Float64()
	return f
}

// Symbol returns the quantity's unit symbol.
func (q Quantity) Symbol() string { return q.symbol }

// Dimension returns the quantity's dimension.
func (q Quantity) Dimension() Dimension { return q.def.dimension }

// IsZero reports whether the magnitude is exactly zero.
func (q Quantity) IsZero() bool { return q.amount.IsZero() }

// Compatible reports whether two quantities share a dimension.
func (q Quantity) Compatible(other Quantity) bool {
	return q.def.dimension == other.def.dimension
}

// inUnitOf converts other's magnitude into q's unit. Factors are powers of
// ten so the division is exact.
func (q Quantity) inUnitOf(other Quantity) decimal.Decimal {
	if q.symbol == other.symbol {
		return other.amount
	}
	return other.amount.Mul(other.def.factor).Div(q.def.factor)
}

// Add returns q + other in q's unit. Dimensions must match.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if !q.Compatible(other) {
		return Quantity{}, fmt.Errorf("cannot add %s to %s: incompatible dimensions", other.symbol, q.symbol)
	}
	return Quantity{amount: q.amount.Add(q.inUnitOf(other)), symbol: q.symbol, def: q.def}, nil
}

// Sub returns q - other in q's unit. Dimensions must match.
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if !q.Compatible(other) {
		return Quantity{}, fmt.Errorf("cannot subtract %s from %s: incompatible dimensions", other.symbol, q.symbol)
	}
	return Quantity{amount: q.amount.Sub(q.inUnitOf(other)), symbol: q.symbol, def: q.def}, nil
}

// Cmp compares q against other: -1 if less, 0 if equal, 1 if greater.
func (q Quantity) Cmp(other Quantity) (int, error) {
	if !q.Compatible(other) {
		return 0, fmt.Errorf("cannot compare %s with %s: incompatible dimensions", q.symbol, other.symbol)
	}
	return q.amount.Cmp(q.inUnitOf(other)), nil
}

// Less reports whether q < other.
func (q Quantity) Less(other Quantity) (bool, error) {
	c, err := q.Cmp(other)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

// ConvertTo expresses q in the named unit. The target must share q's
// dimension.
func (q Quantity) ConvertTo(symbol string) (Quantity, error) {
	def, ok := units[symbol]
	if !ok {
		return Quantity{}, fmt.Errorf("unknown unit %q", symbol)
	}
	if def.dimension != q.def.dimension {
		return Quantity{}, fmt.Errorf("cannot convert %s to %s: incompatible dimensions", q.symbol, symbol)
	}
	target := Quantity{symbol: symbol, def: def}
	target.amount = target.inUnitOf(q)
	return target, nil
}

// Deficit reports how much of required is missing from q. When q covers the
// requirement the second return is false.
func (q Quantity) Deficit(required Quantity) (Quantity, bool, error) {
	less, err := q.Less(required)
	if err != nil {
		return Quantity{}, false, err
	}
	if !less {
		return Quantity{amount: decimal.Zero, symbol: q.symbol, def: q.def}, false, nil
	}
	missing, err := required.Sub(q)
	if err != nil {
		return Quantity{}, false, err
	}
	return missing, true, nil
}

// String renders the quantity as "<magnitude> <symbol>".
func (q Quantity) String() string {
	return fmt.Sprintf("%s %s", q.amount.String(), q.symbol)
}

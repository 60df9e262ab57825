package core

import (
	"testing"

	"labrun/pkg/domain"
)

func TestRecalculateEvaluatesFormulas(t *testing.T) {
	svc := NewInMemoryService(nil)

	values := TaskValues{
		ProductInputAmount: 10,
		InputFields: []domain.InputFieldValue{
			{Label: "Buffer", Amount: 50, Measure: "uL"},
			{Label: "Diluted", Measure: "uL", FromCalculation: true, CalculationLabel: "Total"},
		},
		VariableFields: []domain.VariableFieldValue{
			{Label: "Dilution Factor", Amount: 2},
		},
		CalculationFields: []domain.CalculationFieldValue{
			{Label: "Total", Expression: "({Buffer} + {product_input_amount}) * {Dilution Factor}"},
		},
	}

	resolved := svc.Recalculate(values)

	calc := resolved.CalculationFields[0]
	if calc.Result == nil {
		t.Fatal("calculation produced no result")
	}
	if *calc.Result != 120 {
		t.Fatalf("result = %v, want 120", *calc.Result)
	}
	if got := resolved.InputFields[1].Amount; got != 120 {
		t.Fatalf("calculated field amount = %v, want 120", got)
	}

	// The input is untouched.
	if values.CalculationFields[0].Result != nil {
		t.Fatal("Recalculate mutated its argument")
	}
	if values.InputFields[1].Amount != 0 {
		t.Fatal("Recalculate mutated the source field amount")
	}
}

func TestRecalculateMissingNamesEvaluateToZero(t *testing.T) {
	svc := NewInMemoryService(nil)

	resolved := svc.Recalculate(TaskValues{
		CalculationFields: []domain.CalculationFieldValue{
			{Label: "Ghost", Expression: "{does not exist} + 5"},
		},
	})
	if r := resolved.CalculationFields[0].Result; r == nil || *r != 5 {
		t.Fatalf("result = %v, want 5", r)
	}
}

func TestRecalculateInvalidFormulaLeavesFieldUntouched(t *testing.T) {
	svc := NewInMemoryService(nil)

	resolved := svc.Recalculate(TaskValues{
		InputFields: []domain.InputFieldValue{
			{Label: "Buffer", Amount: 30, FromCalculation: true, CalculationLabel: "Bad"},
		},
		CalculationFields: []domain.CalculationFieldValue{
			{Label: "Bad", Expression: "1 / 0"},
		},
	})
	if resolved.CalculationFields[0].Result != nil {
		t.Fatal("division by zero should leave a nil result")
	}
	if resolved.InputFields[0].Amount != 30 {
		t.Fatalf("field amount = %v, want the original 30", resolved.InputFields[0].Amount)
	}
}

func TestRecalculateStepPropertiesContribute(t *testing.T) {
	svc := NewInMemoryService(nil)

	resolved := svc.Recalculate(TaskValues{
		StepFields: []domain.StepFieldValue{
			{Label: "Wash", Properties: []domain.StepPropertyValue{
				{Label: "Wash Volume", Amount: 200},
				{Label: "Repeats", Amount: 3},
			}},
		},
		OutputFields: []domain.OutputFieldValue{
			{Label: "Waste", Measure: "uL", FromCalculation: true, CalculationLabel: "Total Waste"},
		},
		CalculationFields: []domain.CalculationFieldValue{
			{Label: "Total Waste", Expression: "{Wash Volume} * {Repeats}"},
		},
	})
	if got := resolved.OutputFields[0].Amount; got != 600 {
		t.Fatalf("output amount = %v, want 600", got)
	}
}

package core

import (
	"labrun/pkg/domain"
	"labrun/pkg/formula"
)

// flattenValues reduces task data to a single label -> amount mapping. Step
// fields contribute their property labels, not their parent's. Collisions
// resolve last-write-wins in group order: input, step, variable, output.
func flattenValues(values TaskValues) map[string]float64 {
	flat := make(map[string]float64)
	for _, f := range values.InputFields {
		flat[f.Label] = f.Amount
	}
	for _, sf := range values.StepFields {
		for _, prop := range sf.Properties {
			flat[prop.Label] = prop.Amount
		}
	}
	for _, f := range values.VariableFields {
		flat[f.Label] = f.Amount
	}
	for _, f := range values.OutputFields {
		flat[f.Label] = f.Amount
	}
	flat["product_input_amount"] = values.ProductInputAmount
	return flat
}

// applyCalculations evaluates every calculation field against the flattened
// values and pushes results into fields that declare a calculation source. A
// formula that fails to parse or evaluate leaves a nil result and the field
// amount untouched.
func applyCalculations(values *TaskValues) {
	flat := flattenValues(*values)

	results := make(map[string]*float64, len(values.CalculationFields))
	for i := range values.CalculationFields {
		calc := &values.CalculationFields[i]
		result, err := formula.Evaluate(calc.Expression, flat)
		if err != nil {
			calc.Result = nil
			results[calc.Label] = nil
			continue
		}
		r := result
		calc.Result = &r
		results[calc.Label] = &r
	}

	for i := range values.InputFields {
		f := &values.InputFields[i]
		if f.FromCalculation {
			if r := results[f.CalculationLabel]; r != nil {
				f.Amount = *r
			}
		}
	}
	for i := range values.StepFields {
		for j := range values.StepFields[i].Properties {
			prop := &values.StepFields[i].Properties[j]
			if prop.FromCalculation {
				if r := results[prop.CalculationLabel]; r != nil {
					prop.Amount = *r
				}
			}
		}
	}
	for i := range values.OutputFields {
		f := &values.OutputFields[i]
		if f.FromCalculation {
			if r := results[f.CalculationLabel]; r != nil {
				f.Amount = *r
			}
		}
	}
}

// Recalculate evaluates calculation fields over the supplied task values and
// returns the resolved copy without persisting anything.
func (s *Service) Recalculate(values TaskValues) TaskValues {
	resolved := cloneValues(values)
	applyCalculations(&resolved)
	return resolved
}

// valuesFromTemplate builds default task values from a template's field
// declarations. Callers may edit the result before starting the task.
func valuesFromTemplate(task TaskTemplate) TaskValues {
	values := TaskValues{
		TaskID:                  task.ID,
		ProductInputNotRequired: task.ProductInputNotRequired,
		ProductInput:            task.ProductInput,
		ProductInputAmount:      task.ProductInputAmount,
		ProductInputMeasure:     task.ProductInputMeasure,
		LabwareNotRequired:      task.LabwareNotRequired,
		LabwareAmount:           task.LabwareAmount,
	}
	for _, f := range task.InputFields {
		values.InputFields = append(values.InputFields, domain.InputFieldValue{
			Label:               f.Label,
			Amount:              f.Amount,
			Measure:             f.Measure,
			AutoFindInInventory: f.AutoFindInInventory,
			FromCalculation:     f.FromCalculation,
			CalculationLabel:    f.CalculationLabel,
		})
	}
	for _, f := range task.VariableFields {
		values.VariableFields = append(values.VariableFields, domain.VariableFieldValue{
			Label:   f.Label,
			Amount:  f.Amount,
			Measure: f.Measure,
		})
	}
	for _, f := range task.CalculationFields {
		values.CalculationFields = append(values.CalculationFields, domain.CalculationFieldValue{
			Label:      f.Label,
			Expression: f.Expression,
		})
	}
	for _, f := range task.OutputFields {
		values.OutputFields = append(values.OutputFields, domain.OutputFieldValue{
			Label:            f.Label,
			Amount:           f.Amount,
			Measure:          f.Measure,
			LookupType:       f.LookupType,
			FromCalculation:  f.FromCalculation,
			CalculationLabel: f.CalculationLabel,
		})
	}
	for _, sf := range task.StepFields {
		sfv := domain.StepFieldValue{Label: sf.Label}
		for _, prop := range sf.Properties {
			sfv.Properties = append(sfv.Properties, domain.StepPropertyValue{
				Label:            prop.Label,
				Amount:           prop.Amount,
				Measure:          prop.Measure,
				FromCalculation:  prop.FromCalculation,
				CalculationLabel: prop.CalculationLabel,
			})
		}
		values.StepFields = append(values.StepFields, sfv)
	}
	return values
}

func cloneValues(values TaskValues) TaskValues {
	cp := values
	cp.InputFields = append([]domain.InputFieldValue(nil), values.InputFields...)
	cp.VariableFields = append([]domain.VariableFieldValue(nil), values.VariableFields...)
	cp.OutputFields = append([]domain.OutputFieldValue(nil), values.OutputFields...)
	cp.CalculationFields = make([]domain.CalculationFieldValue, len(values.CalculationFields))
	for i, calc := range values.CalculationFields {
		c := calc
		if calc.Result != nil {
			r := *calc.Result
			c.Result = &r
		}
		cp.CalculationFields[i] = c
	}
	cp.StepFields = make([]domain.StepFieldValue, len(values.StepFields))
	for i, sf := range values.StepFields {
		sfCopy := sf
		sfCopy.Properties = append([]domain.StepPropertyValue(nil), sf.Properties...)
		cp.StepFields[i] = sfCopy
	}
	return cp
}

package core

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"labrun/internal/filetemplate"
	"labrun/pkg/domain"
	"labrun/pkg/measure"
)

// InputFile is an uploaded per-task CSV parsed against a file template and
// merged over task data per product key.
type InputFile struct {
	Name     string
	Template filetemplate.Template
	Data     []byte
}

// productEntry holds one product's resolved task values plus its matched
// product-input inventory items.
type productEntry struct {
	product Product
	values  TaskValues
	// productInputs maps consumed item IDs to per-product amounts; these
	// items form the provenance set for outputs created at finish.
	productInputs map[string]domain.ResolvedAmount
}

// aggregate is the total demand against one physical pool: an item, possibly
// narrowed to a container identified by barcode plus coordinates.
type aggregate struct {
	item        Item
	quantity    measure.Quantity
	barcode     string
	coordinates string
}

func (a aggregate) key() string {
	return a.item.ID + "\x00" + a.barcode + "\x00" + a.coordinates
}

// resolveEntries builds resolved per-product task data: template values
// overridden by file rows, calculations applied, and product input items
// matched by catalog type (descendants included, exclusions honored).
func resolveEntries(view TransactionView, run Run, values TaskValues, files []InputFile) ([]productEntry, error) {
	rows := make(map[string]filetemplate.RowData)
	for _, f := range files {
		parsed, err := f.Template.Parse(bytes.NewReader(f.Data))
		if err != nil {
			return nil, err
		}
		for key, row := range parsed {
			if existing, ok := rows[key]; ok {
				for col, val := range row {
					existing[col] = val
				}
				continue
			}
			rows[key] = row
		}
	}

	var inputTypes map[string]bool
	if !values.ProductInputNotRequired && values.ProductInput != "" {
		inputTypes = make(map[string]bool)
		for _, name := range view.ItemTypeWithDescendants(values.ProductInput) {
			inputTypes[name] = true
		}
	}
	excluded := make(map[string]bool, len(run.ExcludeItemIDs))
	for _, id := range run.ExcludeItemIDs {
		excluded[id] = true
	}

	entries := make([]productEntry, 0, len(run.ProductIDs))
	for _, pid := range run.ProductIDs {
		product, ok := view.FindProduct(pid)
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityProduct, Ref: pid}
		}
		key := product.Identifier

		pv := cloneValues(values)
		if row, ok := rows[key]; ok {
			applyRowOverrides(&pv, row)
		}
		applyCalculations(&pv)

		entry := productEntry{
			product:       product,
			values:        pv,
			productInputs: make(map[string]domain.ResolvedAmount),
		}
		if inputTypes != nil {
			for _, itemID := range product.LinkedItemIDs {
				if excluded[itemID] {
					continue
				}
				item, ok := view.FindItem(itemID)
				if !ok {
					continue
				}
				if !inputTypes[item.ItemType] {
					continue
				}
				entry.productInputs[item.ID] = domain.ResolvedAmount{
					ItemID:  item.ID,
					Name:    item.Name,
					Amount:  pv.ProductInputAmount,
					Measure: pv.ProductInputMeasure,
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// applyRowOverrides replaces field amounts with values from a parsed file
// row matched by field label.
func applyRowOverrides(values *TaskValues, row filetemplate.RowData) {
	parse := func(label string) (float64, bool) {
		raw, ok := row[label]
		if !ok || raw == "" {
			return 0, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	for i := range values.InputFields {
		if v, ok := parse(values.InputFields[i].Label); ok {
			values.InputFields[i].Amount = v
		}
	}
	for i := range values.VariableFields {
		if v, ok := parse(values.VariableFields[i].Label); ok {
			values.VariableFields[i].Amount = v
		}
	}
	for i := range values.OutputFields {
		if v, ok := parse(values.OutputFields[i].Label); ok {
			values.OutputFields[i].Amount = v
		}
	}
	for i := range values.StepFields {
		for j := range values.StepFields[i].Properties {
			if v, ok := parse(values.StepFields[i].Properties[j].Label); ok {
				values.StepFields[i].Properties[j].Amount = v
			}
		}
	}
	if v, ok := parse("product_input_amount"); ok {
		values.ProductInputAmount = v
	}
}

// demand is the allocator result: aggregate demand per physical pool, in
// deterministic order, plus the per-product amount breakdown.
type demand struct {
	aggregates []*aggregate
	index      map[string]*aggregate
	// perProduct maps product key -> itemID -> total amount for that product.
	perProduct map[string]map[string]domain.ResolvedAmount
}

func (d *demand) add(item Item, qty measure.Quantity, barcode, coordinates string) error {
	a := &aggregate{item: item, quantity: qty, barcode: barcode, coordinates: coordinates}
	if existing, ok := d.index[a.key()]; ok {
		sum, err := existing.quantity.Add(qty)
		if err != nil {
			return domain.ValidationError{Message: fmt.Sprintf("item %s: %v", item.Name, err)}
		}
		existing.quantity = sum
		return nil
	}
	d.index[a.key()] = a
	d.aggregates = append(d.aggregates, a)
	return nil
}

func (d *demand) addForProduct(productKey string, item Item, qty measure.Quantity, barcode, coordinates string) error {
	per, ok := d.perProduct[productKey]
	if !ok {
		per = make(map[string]domain.ResolvedAmount)
		d.perProduct[productKey] = per
	}
	if existing, ok := per[item.ID]; ok {
		sum, err := measure.ToMeasured(existing.Amount, existing.Measure).Add(qty)
		if err != nil {
			return domain.ValidationError{Message: fmt.Sprintf("item %s: %v", item.Name, err)}
		}
		existing.Amount = sum.Magnitude()
		per[item.ID] = existing
	} else {
		per[item.ID] = domain.ResolvedAmount{
			ItemID:  item.ID,
			Name:    item.Name,
			Amount:  qty.Magnitude(),
			Measure: qty.Symbol(),
		}
	}
	return d.add(item, qty, barcode, coordinates)
}

// computeDemand walks resolved entries and the task's labware requirement to
// produce total demand per pool. Auto-find input fields resolve their source
// item through the task_input property key "<productKey>/<label>"; anything
// but exactly one match is a hard error.
func computeDemand(view TransactionView, values TaskValues, entries []productEntry) (*demand, error) {
	d := &demand{
		index:      make(map[string]*aggregate),
		perProduct: make(map[string]map[string]domain.ResolvedAmount),
	}

	// Labware is required once per task, not per product.
	if !values.LabwareNotRequired && values.LabwareItemID != "" {
		labware, ok := view.FindItem(values.LabwareItemID)
		if !ok {
			return nil, domain.NotFoundError{Entity: domain.EntityItem, Ref: values.LabwareItemID}
		}
		qty := measure.ToMeasured(values.LabwareAmount, labware.AmountMeasure)
		if err := d.add(labware, qty, values.LabwareBarcode, ""); err != nil {
			return nil, err
		}
	}

	for ei := range entries {
		entry := &entries[ei]
		key := entry.product.Identifier
		for i := range entry.values.InputFields {
			field := &entry.values.InputFields[i]
			if field.AutoFindInInventory {
				lookupKey := fmt.Sprintf("%s/%s", key, field.Label)
				matches := view.FindItemsByProperty("task_input", lookupKey)
				if len(matches) != 1 {
					return nil, domain.NotFoundError{Entity: domain.EntityItem, Ref: lookupKey}
				}
				field.ItemID = matches[0].ID
			}
			if field.ItemID == "" {
				return nil, domain.ValidationError{Message: fmt.Sprintf("input field %q has no source item", field.Label)}
			}
			item, ok := view.FindItem(field.ItemID)
			if !ok {
				return nil, domain.NotFoundError{Entity: domain.EntityItem, Ref: field.ItemID}
			}
			qty := measure.ToMeasured(field.Amount, field.Measure)
			if err := d.addForProduct(key, item, qty, field.DestinationBarcode, field.DestinationCoordinates); err != nil {
				return nil, err
			}
		}
		for itemID, amount := range entry.productInputs {
			item, ok := view.FindItem(itemID)
			if !ok {
				return nil, domain.NotFoundError{Entity: domain.EntityItem, Ref: itemID}
			}
			qty := measure.ToMeasured(amount.Amount, amount.Measure)
			if err := d.addForProduct(key, item, qty, "", ""); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// checkShortages compares available against required per pool. When a
// barcode names a container with an open transfer, that transfer's remaining
// pool is the available amount instead of raw item stock. All shortages are
// accumulated so the caller reports them together.
func checkShortages(view TransactionView, d *demand) ([]domain.Shortage, error) {
	var shortages []domain.Shortage
	for _, agg := range d.aggregates {
		available := measure.ToMeasured(agg.item.AmountAvailable, agg.item.AmountMeasure)
		if agg.barcode != "" {
			if transfer, ok := view.FindOpenTransfer(agg.item.ID, agg.barcode, agg.coordinates); ok {
				available = measure.ToMeasured(transfer.AmountAvailable, transfer.Measure)
			}
		}
		deficit, short, err := available.Deficit(agg.quantity)
		if err != nil {
			return nil, domain.ValidationError{Message: fmt.Sprintf("item %s: %v", agg.item.Name, err)}
		}
		if short {
			shortages = append(shortages, domain.Shortage{
				ItemID:   agg.item.ID,
				ItemName: agg.item.Name,
				Deficit:  deficit.Magnitude(),
				Measure:  deficit.Symbol(),
				Message: fmt.Sprintf("Inventory item %s (%s) is short of amount by %.2f",
					agg.item.Identifier, agg.item.Name, deficit.Magnitude()),
			})
		}
	}
	return shortages, nil
}

// productAmounts flattens a product's demand breakdown into a stable list.
func (d *demand) productAmounts(productKey string) []domain.ResolvedAmount {
	per := d.perProduct[productKey]
	out := make([]domain.ResolvedAmount, 0, len(per))
	for _, amount := range per {
		out = append(out, amount)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

package core

import (
	"fmt"

	"labrun/pkg/domain"
	"labrun/pkg/measure"
)

// applyTransfer moves the transfer's amount between the inventory item and
// the transfer's own pool. A transfer that has not yet taken debits or
// credits the item; one that already has adjusts only its own pool, since
// the stock already left the inventory. Draining a pool to exactly zero is
// allowed.
func applyTransfer(tx Transaction, transferID string) error {
	view := tx.Snapshot()
	transfer, ok := view.FindTransfer(transferID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTransfer, Ref: transferID}
	}

	if !transfer.HasTaken {
		item, ok := view.FindItem(transfer.ItemID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityItem, Ref: transfer.ItemID}
		}
		stock := measure.ToMeasured(item.AmountAvailable, item.AmountMeasure)
		taken := measure.ToMeasured(transfer.AmountTaken, transfer.Measure)

		var next measure.Quantity
		var err error
		if transfer.IsAddition {
			next, err = stock.Add(taken)
		} else {
			var cmp int
			cmp, err = stock.Cmp(taken)
			if err == nil && cmp < 0 {
				deficit, _, derr := stock.Deficit(taken)
				if derr != nil {
					return derr
				}
				return domain.ShortageError{Shortages: []domain.Shortage{{
					ItemID:   item.ID,
					ItemName: item.Name,
					Deficit:  deficit.Magnitude(),
					Measure:  deficit.Symbol(),
					Message: fmt.Sprintf("Inventory item %s (%s) is short of amount by %.2f",
						item.Identifier, item.Name, deficit.Magnitude()),
				}}}
			}
			if err == nil {
				next, err = stock.Sub(taken)
			}
		}
		if err != nil {
			return domain.ValidationError{Message: fmt.Sprintf("item %s: %v", item.Name, err)}
		}
		if _, err := tx.UpdateItem(item.ID, func(it *Item) error {
			it.AmountAvailable = next.Magnitude()
			return nil
		}); err != nil {
			return err
		}
		_, err = tx.UpdateTransfer(transfer.ID, func(t *ItemTransfer) error {
			pool := measure.ToMeasured(t.AmountAvailable, t.Measure)
			left, serr := pool.Sub(taken)
			if serr != nil {
				return serr
			}
			t.AmountAvailable = left.Magnitude()
			return nil
		})
		return err
	}

	// Already taken from inventory; the adjustment hits this reservation.
	pool := measure.ToMeasured(transfer.AmountAvailable, transfer.Measure)
	adjust := measure.ToMeasured(transfer.AmountToTake, transfer.Measure)

	var next measure.Quantity
	var err error
	if transfer.IsAddition {
		next, err = pool.Add(adjust)
	} else {
		var cmp int
		cmp, err = pool.Cmp(adjust)
		if err == nil && cmp < 0 {
			item, _ := view.FindItem(transfer.ItemID)
			deficit, _, derr := pool.Deficit(adjust)
			if derr != nil {
				return derr
			}
			return domain.ShortageError{Shortages: []domain.Shortage{{
				ItemID:   transfer.ItemID,
				ItemName: item.Name,
				Deficit:  deficit.Magnitude(),
				Measure:  deficit.Symbol(),
				Message: fmt.Sprintf("Inventory item %s (%s) is short of amount by %.2f",
					item.Identifier, item.Name, deficit.Magnitude()),
			}}}
		}
		if err == nil {
			next, err = pool.Sub(adjust)
		}
	}
	if err != nil {
		return domain.ValidationError{Message: fmt.Sprintf("transfer %s: %v", transfer.ID, err)}
	}
	_, err = tx.UpdateTransfer(transfer.ID, func(t *ItemTransfer) error {
		t.AmountAvailable = next.Magnitude()
		return nil
	})
	return err
}

// completeTransfer seals a transfer after a task finishes. Once sealed the
// debit cannot be reversed; a drained pool becomes terminal.
func completeTransfer(tx Transaction, transferID string) error {
	_, err := tx.UpdateTransfer(transferID, func(t *ItemTransfer) error {
		if t.AmountAvailable == 0 {
			t.TransferComplete = true
		}
		t.HasTaken = true
		return nil
	})
	return err
}

// reverseTransfer undoes a not-yet-sealed transfer during a cancel by
// applying it again as an addition, restoring the item's stock.
func reverseTransfer(tx Transaction, transferID string) error {
	transfer, ok := tx.Snapshot().FindTransfer(transferID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTransfer, Ref: transferID}
	}
	if _, err := tx.UpdateTransfer(transferID, func(t *ItemTransfer) error {
		t.IsAddition = !t.IsAddition
		return nil
	}); err != nil {
		return err
	}
	if err := applyTransfer(tx, transferID); err != nil {
		return err
	}
	if !transfer.HasTaken {
		return tx.DeleteTransfer(transferID)
	}
	// A sealed container pool gets its reservation back but the record
	// itself stays, so restore the original direction.
	_, err := tx.UpdateTransfer(transferID, func(t *ItemTransfer) error {
		t.IsAddition = transfer.IsAddition
		return nil
	})
	return err
}

// materializeTransfers turns aggregate demand into transfer records tagged
// with the task-run identifier. Demand hitting a container with an open
// transfer adjusts that transfer instead of creating a second record for the
// same physical pool.
func materializeTransfers(tx Transaction, d *demand, taskRunID string) ([]string, error) {
	ids := make([]string, 0, len(d.aggregates))
	for _, agg := range d.aggregates {
		var transferID string
		if existing, ok := tx.Snapshot().FindOpenTransfer(agg.item.ID, agg.barcode, agg.coordinates); ok {
			adjusted, err := agg.quantity.ConvertTo(existing.Measure)
			if err != nil {
				return nil, domain.ValidationError{Message: fmt.Sprintf("item %s: %v", agg.item.Name, err)}
			}
			if _, err := tx.UpdateTransfer(existing.ID, func(t *ItemTransfer) error {
				t.AmountToTake = adjusted.Magnitude()
				t.RunIdentifier = taskRunID
				return nil
			}); err != nil {
				return nil, err
			}
			transferID = existing.ID
		} else {
			created, err := tx.CreateTransfer(ItemTransfer{
				ItemID:        agg.item.ID,
				AmountTaken:   agg.quantity.Magnitude(),
				Measure:       agg.quantity.Symbol(),
				Barcode:       agg.barcode,
				Coordinates:   agg.coordinates,
				RunIdentifier: taskRunID,
			})
			if err != nil {
				return nil, err
			}
			transferID = created.ID
		}
		if err := applyTransfer(tx, transferID); err != nil {
			return nil, err
		}
		ids = append(ids, transferID)
	}
	return ids, nil
}

package core

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"labrun/internal/blob"
	"labrun/pkg/domain"
)

// TransferPreview describes one pending inventory movement for reporting.
type TransferPreview struct {
	ItemID      string  `json:"item_id"`
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	Measure     string  `json:"measure"`
	Barcode     string  `json:"barcode,omitempty"`
	Coordinates string  `json:"coordinates,omitempty"`
}

// StartReport summarizes a task start or a check-only dry run.
type StartReport struct {
	EquipmentStatus domain.EquipmentStatus `json:"equipment_status"`
	Errors          []string               `json:"errors,omitempty"`
	Requirements    []TransferPreview      `json:"requirements"`
	// TaskRunID is set only when the task actually started.
	TaskRunID string `json:"task_run_id,omitempty"`
}

// TaskMonitor is a read-only view of an in-progress task.
type TaskMonitor struct {
	TaskIDs     []string       `json:"task_ids"`
	CurrentTask int            `json:"current_task"`
	Transfers   []ItemTransfer `json:"transfers"`
	Entries     []DataEntry    `json:"entries"`
}

func previews(d *demand) []TransferPreview {
	out := make([]TransferPreview, 0, len(d.aggregates))
	for _, agg := range d.aggregates {
		out = append(out, TransferPreview{
			ItemID:      agg.item.ID,
			Name:        agg.item.Name,
			Amount:      agg.quantity.Magnitude(),
			Measure:     agg.quantity.Symbol(),
			Barcode:     agg.barcode,
			Coordinates: agg.coordinates,
		})
	}
	return out
}

// resolveTaskValues picks the supplied values or falls back to the template
// defaults when none were given.
func resolveTaskValues(task TaskTemplate, values *TaskValues) TaskValues {
	if values == nil {
		return valuesFromTemplate(task)
	}
	resolved := cloneValues(*values)
	if resolved.TaskID == "" {
		resolved.TaskID = task.ID
	}
	return resolved
}

// StartTask validates task data against inventory and, unless isCheck is
// set, starts the run's current task: data entries are created per product,
// demand becomes transfers debited from inventory, and any required
// equipment is locked. A nil values starts with the template defaults.
// In check mode nothing is mutated and shortages come back as report errors
// instead of a failure.
func (s *Service) StartTask(ctx context.Context, runID string, values *TaskValues, files []InputFile, isCheck bool) (StartReport, Result, error) {
	var report StartReport
	var res Result

	if isCheck {
		err := s.run(ctx, "check_task", func(ctx context.Context) error {
			return s.store.View(ctx, func(view TransactionView) error {
				run, ok := view.FindRun(runID)
				if !ok {
					return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
				}
				task, err := taskForRun(view, run)
				if err != nil {
					return err
				}
				resolved := resolveTaskValues(task, values)
				entries, err := resolveEntries(view, run, resolved, files)
				if err != nil {
					return err
				}
				d, err := computeDemand(view, resolved, entries)
				if err != nil {
					return err
				}
				shortages, err := checkShortages(view, d)
				if err != nil {
					return err
				}
				for _, sh := range shortages {
					report.Errors = append(report.Errors, sh.Message)
				}
				report.Requirements = previews(d)
				report.EquipmentStatus, err = equipmentStatus(view, task, resolved)
				return err
			})
		})
		return report, res, err
	}

	err := s.run(ctx, "start_task", func(ctx context.Context) error {
		var archive []InputFile
		var taskRunID string
		var innerErr error
		res, innerErr = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			run, ok := view.FindRun(runID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
			}
			if run.TaskInProgress {
				return domain.LockViolationError{RunID: runID, Op: "start task", InProgress: true}
			}
			if !run.IsActive {
				return domain.ValidationError{Message: fmt.Sprintf("run %s is not active", runID)}
			}
			task, err := taskForRun(view, run)
			if err != nil {
				return err
			}
			resolved := resolveTaskValues(task, values)
			entries, err := resolveEntries(view, run, resolved, files)
			if err != nil {
				return err
			}
			d, err := computeDemand(view, resolved, entries)
			if err != nil {
				return err
			}
			shortages, err := checkShortages(view, d)
			if err != nil {
				return err
			}
			if len(shortages) > 0 {
				return domain.ShortageError{Shortages: shortages}
			}

			equipmentName, err := acquireEquipment(tx, task, resolved)
			if err != nil {
				return err
			}

			taskRunID = uuid.NewString()
			for _, entry := range entries {
				data := domain.EntryData{
					TaskValues:          entry.values,
					ProductInputs:       entry.productInputs,
					ProductInputAmounts: d.productAmounts(entry.product.Identifier),
				}
				if _, err := tx.CreateDataEntry(DataEntry{
					RunID:     run.ID,
					TaskRunID: taskRunID,
					ProductID: entry.product.ID,
					TaskID:    task.ID,
					State:     domain.EntryActive,
					Data:      data,
					CreatedBy: run.StartedBy,
				}); err != nil {
					return err
				}
			}

			transferIDs, err := materializeTransfers(tx, d, taskRunID)
			if err != nil {
				return err
			}

			if _, err := tx.UpdateRun(run.ID, func(r *Run) error {
				r.TaskInProgress = true
				r.HasStarted = true
				r.TaskRunID = &taskRunID
				r.TransferIDs = append(r.TransferIDs, transferIDs...)
				if equipmentName != "" {
					name := equipmentName
					r.EquipmentUsed = &name
				}
				return nil
			}); err != nil {
				return err
			}

			report.Requirements = previews(d)
			report.TaskRunID = taskRunID
			report.EquipmentStatus = domain.EquipmentIdle
			if equipmentName != "" {
				report.EquipmentStatus = domain.EquipmentActive
			}
			archive = files
			return nil
		})
		if innerErr != nil {
			return innerErr
		}
		s.archiveInputFiles(ctx, taskRunID, archive)
		return nil
	})
	return report, res, err
}

// archiveInputFiles stores uploaded files under the task-run identifier.
// Archival failures are logged, not surfaced, since the task has already
// committed.
func (s *Service) archiveInputFiles(ctx context.Context, taskRunID string, files []InputFile) {
	if s.blobs == nil || len(files) == 0 {
		return
	}
	for _, f := range files {
		key := fmt.Sprintf("runs/%s/%s", taskRunID, f.Name)
		opts := blob.PutOptions{ContentType: "text/csv"}
		if _, err := s.blobs.Put(ctx, key, bytes.NewReader(f.Data), opts); err != nil {
			s.logger.Warn("input file archive failed", "key", key, "error", err)
		}
	}
}

func equipmentStatus(view TransactionView, task TaskTemplate, values TaskValues) (domain.EquipmentStatus, error) {
	if len(task.CapableEquipment) == 0 {
		return domain.EquipmentIdle, nil
	}
	choice := values.EquipmentChoice
	if choice == "" {
		return "", domain.ValidationError{Message: "an equipment choice is required for this task"}
	}
	eq, ok := view.FindEquipment(choice)
	if !ok {
		return "", domain.NotFoundError{Entity: domain.EntityEquipment, Ref: choice}
	}
	return eq.Status, nil
}

// acquireEquipment locks the chosen instrument when the task names capable
// equipment. The returned name is empty when no lock was needed.
func acquireEquipment(tx Transaction, task TaskTemplate, values TaskValues) (string, error) {
	if len(task.CapableEquipment) == 0 {
		return "", nil
	}
	choice := values.EquipmentChoice
	if choice == "" {
		return "", domain.ValidationError{Message: "an equipment choice is required for this task"}
	}
	capable := false
	for _, name := range task.CapableEquipment {
		if name == choice {
			capable = true
			break
		}
	}
	if !capable {
		return "", domain.ValidationError{Message: fmt.Sprintf("equipment %s cannot perform this task", choice)}
	}
	eq, ok := tx.Snapshot().FindEquipment(choice)
	if !ok {
		return "", domain.NotFoundError{Entity: domain.EntityEquipment, Ref: choice}
	}
	if eq.Status != domain.EquipmentIdle {
		return "", domain.ResourceBusyError{Equipment: choice}
	}
	if _, err := tx.UpdateEquipment(choice, func(e *Equipment) error {
		e.Status = domain.EquipmentActive
		return nil
	}); err != nil {
		return "", err
	}
	return choice, nil
}

func releaseEquipment(tx Transaction, run Run) error {
	if run.EquipmentUsed == nil {
		return nil
	}
	_, err := tx.UpdateEquipment(*run.EquipmentUsed, func(e *Equipment) error {
		e.Status = domain.EquipmentIdle
		return nil
	})
	return err
}

// transfersForTaskRun lists transfers tagged with the identifier, ordered by
// record ID.
func transfersForTaskRun(view TransactionView, taskRunID string) []ItemTransfer {
	var out []ItemTransfer
	for _, t := range view.ListTransfers() {
		if t.RunIdentifier == taskRunID {
			out = append(out, t)
		}
	}
	return out
}

// CancelTask abandons the task in progress: every transfer tagged with the
// live task-run identifier is reversed, its data entries are deleted, and
// any equipment lock is released. The run returns to its pre-start position
// with no task index change.
func (s *Service) CancelTask(ctx context.Context, runID string) (Run, Result, error) {
	var updated Run
	var res Result
	err := s.run(ctx, "cancel_task", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			run, ok := view.FindRun(runID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
			}
			if !run.TaskInProgress || run.TaskRunID == nil {
				return domain.LockViolationError{RunID: runID, Op: "cancel task", InProgress: false}
			}
			taskRunID := *run.TaskRunID

			deleted := make(map[string]bool)
			for _, t := range transfersForTaskRun(view, taskRunID) {
				if !t.HasTaken {
					deleted[t.ID] = true
				}
				if err := reverseTransfer(tx, t.ID); err != nil {
					return err
				}
			}
			for _, entry := range view.EntriesForTaskRun(taskRunID) {
				if err := tx.DeleteDataEntry(entry.ID); err != nil {
					return err
				}
			}
			if err := releaseEquipment(tx, run); err != nil {
				return err
			}

			var err error
			updated, err = tx.UpdateRun(run.ID, func(r *Run) error {
				kept := r.TransferIDs[:0]
				for _, id := range r.TransferIDs {
					if !deleted[id] {
						kept = append(kept, id)
					}
				}
				r.TransferIDs = kept
				r.TaskInProgress = false
				r.HasStarted = false
				r.TaskRunID = nil
				r.EquipmentUsed = nil
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// FinishTask completes the task in progress. Transfers are sealed, data
// entries resolve to succeeded or failed, output items are created with
// provenance for each surviving product, and the run advances or terminates.
// Failed products split off onto a new run named after this one, positioned
// at restartIndex when given or at the current task otherwise.
func (s *Service) FinishTask(ctx context.Context, runID string, failedProductIDs []string, restartIndex *int, notes string) (Run, Result, error) {
	var updated Run
	var res Result
	err := s.run(ctx, "finish_task", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			run, ok := view.FindRun(runID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
			}
			if !run.TaskInProgress || run.TaskRunID == nil {
				return domain.LockViolationError{RunID: runID, Op: "finish task", InProgress: false}
			}
			if !run.IsActive {
				return domain.ValidationError{Message: fmt.Sprintf("run %s is not active", runID)}
			}
			taskRunID := *run.TaskRunID

			for _, t := range transfersForTaskRun(view, taskRunID) {
				if err := completeTransfer(tx, t.ID); err != nil {
					return err
				}
			}

			onRun := make(map[string]bool, len(run.ProductIDs))
			for _, pid := range run.ProductIDs {
				onRun[pid] = true
			}
			failed := make(map[string]bool, len(failedProductIDs))
			for _, pid := range failedProductIDs {
				if !onRun[pid] {
					return domain.ValidationError{Message: "invalid ids for failed products"}
				}
				failed[pid] = true
			}

			if len(failed) > 0 {
				restartAt := run.CurrentTask
				if restartIndex != nil {
					restartAt = *restartIndex
				}
				if restartAt < 0 || restartAt >= len(run.TaskIDs) {
					return domain.ValidationError{Message: fmt.Sprintf("restart index %d out of range", restartAt)}
				}
				failedProducts := make([]string, 0, len(failed))
				for _, pid := range run.ProductIDs {
					if failed[pid] {
						failedProducts = append(failedProducts, pid)
					}
				}
				if _, err := tx.CreateRun(Run{
					Name:        fmt.Sprintf("%s (failed)", run.Name),
					TaskIDs:     append([]string(nil), run.TaskIDs...),
					CurrentTask: restartAt,
					ProductIDs:  failedProducts,
					HasStarted:  true,
					IsActive:    true,
					StartedBy:   run.StartedBy,
				}); err != nil {
					return err
				}
			}

			for _, entry := range view.EntriesForTaskRun(taskRunID) {
				if !onRun[entry.ProductID] {
					continue
				}
				if failed[entry.ProductID] {
					if _, err := tx.UpdateDataEntry(entry.ID, func(e *DataEntry) error {
						e.State = domain.EntryFailed
						e.Notes = notes
						return nil
					}); err != nil {
						return err
					}
					continue
				}
				if _, err := tx.UpdateDataEntry(entry.ID, func(e *DataEntry) error {
					e.State = domain.EntrySucceeded
					return nil
				}); err != nil {
					return err
				}
				if err := createOutputs(tx, run, entry); err != nil {
					return err
				}
			}

			if err := releaseEquipment(tx, run); err != nil {
				return err
			}

			finishedAt := s.clock.Now()
			var err error
			updated, err = tx.UpdateRun(run.ID, func(r *Run) error {
				if len(failed) > 0 {
					kept := r.ProductIDs[:0]
					for _, pid := range r.ProductIDs {
						if !failed[pid] {
							kept = append(kept, pid)
						}
					}
					r.ProductIDs = kept
				}
				r.TaskInProgress = false
				r.EquipmentUsed = nil
				if r.CurrentTask == len(r.TaskIDs)-1 {
					r.IsActive = false
					r.DateFinished = &finishedAt
				} else {
					r.CurrentTask++
				}
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// createOutputs turns a succeeded entry's output fields into new inventory
// items linked to the product, each carrying the consumed product inputs as
// provenance.
func createOutputs(tx Transaction, run Run, entry DataEntry) error {
	product, ok := tx.Snapshot().FindProduct(entry.ProductID)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProduct, Ref: entry.ProductID}
	}
	location := entry.Data.OutputLocation
	if location == "" {
		location = "Lab"
	}
	provenance := make([]string, 0, len(entry.Data.ProductInputs))
	for itemID := range entry.Data.ProductInputs {
		provenance = append(provenance, itemID)
	}
	sort.Strings(provenance)

	for _, output := range entry.Data.OutputFields {
		item, err := tx.CreateItem(Item{
			Name:            fmt.Sprintf("%s %s %s", product.Identifier, product.Name, output.Label),
			Identifier:      fmt.Sprintf("%s/%s/%s", product.Identifier, run.ID, run.Name),
			ItemType:        output.LookupType,
			AmountAvailable: output.Amount,
			AmountMeasure:   output.Measure,
			Location:        location,
			CreatedFromIDs:  provenance,
			AddedBy:         run.StartedBy,
		})
		if err != nil {
			return err
		}
		if _, err := tx.UpdateProduct(product.ID, func(p *Product) error {
			p.LinkedItemIDs = append(p.LinkedItemIDs, item.ID)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// MonitorTask reports the live state of the task in progress: its transfers
// and per-product data entries. The second return is false when no task is
// running or the run has finished.
func (s *Service) MonitorTask(ctx context.Context, runID string) (TaskMonitor, bool, error) {
	var monitor TaskMonitor
	active := false
	err := s.run(ctx, "monitor_task", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			run, ok := view.FindRun(runID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
			}
			monitor.TaskIDs = append([]string(nil), run.TaskIDs...)
			monitor.CurrentTask = run.CurrentTask
			if !run.TaskInProgress || !run.IsActive || run.TaskRunID == nil {
				return nil
			}
			active = true
			monitor.Transfers = transfersForTaskRun(view, *run.TaskRunID)
			monitor.Entries = view.EntriesForTaskRun(*run.TaskRunID)
			return nil
		})
	})
	return monitor, active, err
}

package core

import (
	"context"
	"fmt"

	"labrun/pkg/domain"
)

// NewDefaultRulesEngine registers the invariant rules every store should
// enforce at commit time.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(nonNegativeStockRule{})
	engine.Register(exclusiveEquipmentRule{})
	engine.Register(runTaskIndexRule{})
	engine.Register(liveTaskEntriesRule{})
	return engine
}

// nonNegativeStockRule blocks any commit leaving an item or transfer pool
// below zero.
type nonNegativeStockRule struct{}

func (nonNegativeStockRule) Name() string { return "inventory.non_negative_stock" }

func (nonNegativeStockRule) Evaluate(ctx context.Context, view TransactionView, changes []domain.Change) (Result, error) {
	var res Result
	for _, item := range view.ListItems() {
		if item.AmountAvailable < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "inventory.non_negative_stock",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("item %s stock is negative", item.Name),
				Entity:   domain.EntityItem,
				EntityID: item.ID,
			})
		}
	}
	for _, t := range view.ListTransfers() {
		// A reversed fresh debit goes negative just before deletion, so
		// only records still present are checked.
		if t.AmountAvailable < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "inventory.non_negative_stock",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("transfer %s pool is negative", t.ID),
				Entity:   domain.EntityTransfer,
				EntityID: t.ID,
			})
		}
	}
	return res, nil
}

// exclusiveEquipmentRule blocks a commit where more than one run holds the
// same active equipment.
type exclusiveEquipmentRule struct{}

func (exclusiveEquipmentRule) Name() string { return "equipment.exclusive_lock" }

func (exclusiveEquipmentRule) Evaluate(ctx context.Context, view TransactionView, changes []domain.Change) (Result, error) {
	var res Result
	holders := make(map[string]int)
	for _, run := range view.ListRuns() {
		if run.TaskInProgress && run.EquipmentUsed != nil {
			holders[*run.EquipmentUsed]++
		}
	}
	for name, count := range holders {
		if count > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "equipment.exclusive_lock",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("equipment %s is held by %d runs", name, count),
				Entity:   domain.EntityEquipment,
				EntityID: name,
			})
		}
	}
	return res, nil
}

// runTaskIndexRule blocks a commit leaving a run's current task outside its
// task list. The index may equal the list length only on an inactive run.
type runTaskIndexRule struct{}

func (runTaskIndexRule) Name() string { return "run.task_index_in_range" }

func (runTaskIndexRule) Evaluate(ctx context.Context, view TransactionView, changes []domain.Change) (Result, error) {
	var res Result
	for _, run := range view.ListRuns() {
		limit := len(run.TaskIDs)
		if run.IsActive {
			limit--
		}
		if run.CurrentTask < 0 || run.CurrentTask > limit {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "run.task_index_in_range",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("run %s current task %d out of range", run.ID, run.CurrentTask),
				Entity:   domain.EntityRun,
				EntityID: run.ID,
			})
		}
	}
	return res, nil
}

// liveTaskEntriesRule blocks a commit where a run claims a task in progress
// without a task-run identifier, or where one of its live entries is not
// active.
type liveTaskEntriesRule struct{}

func (liveTaskEntriesRule) Name() string { return "run.live_task_entries" }

func (liveTaskEntriesRule) Evaluate(ctx context.Context, view TransactionView, changes []domain.Change) (Result, error) {
	var res Result
	for _, run := range view.ListRuns() {
		if !run.TaskInProgress {
			continue
		}
		if run.TaskRunID == nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "run.live_task_entries",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("run %s in progress without a task run identifier", run.ID),
				Entity:   domain.EntityRun,
				EntityID: run.ID,
			})
			continue
		}
		for _, entry := range view.EntriesForTaskRun(*run.TaskRunID) {
			if entry.State != domain.EntryActive {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "run.live_task_entries",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("entry %s for a live task is %s", entry.ID, entry.State),
					Entity:   domain.EntityDataEntry,
					EntityID: entry.ID,
				})
			}
		}
	}
	return res, nil
}

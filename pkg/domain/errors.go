package domain

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed task data. Surfaced to the caller with
// no state mutated.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// Shortage itemizes one inventory deficit.
type Shortage struct {
	ItemID   string
	ItemName string
	// Deficit is the missing amount in Measure units, already converted.
	Deficit float64
	Measure string
	Message string
}

// ShortageError reports insufficient inventory for a task start. It carries
// every deficit found so the caller can report them together.
type ShortageError struct {
	Shortages []Shortage
}

func (e ShortageError) Error() string {
	msgs := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		msgs = append(msgs, s.Message)
	}
	return strings.Join(msgs, "\n")
}

// ResourceBusyError reports equipment already held by another run.
type ResourceBusyError struct {
	Equipment string
}

func (e ResourceBusyError) Error() string {
	return fmt.Sprintf("equipment %s is currently in use", e.Equipment)
}

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Entity EntityType
	Ref    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Ref)
}

// LockViolationError reports a start while a task is already in progress, or
// a finish/cancel while idle.
type LockViolationError struct {
	RunID string
	Op    string
	// InProgress reports the run's task_in_progress flag at the time of the
	// conflicting call.
	InProgress bool
}

func (e LockViolationError) Error() string {
	if e.InProgress {
		return fmt.Sprintf("run %s: cannot %s, a task is already in progress", e.RunID, e.Op)
	}
	return fmt.Sprintf("run %s: cannot %s, no task is in progress", e.RunID, e.Op)
}

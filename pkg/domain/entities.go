// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by labrun.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityWorkflow identifies a workflow definition record.
	EntityWorkflow EntityType = "workflow"
	// EntityTaskTemplate identifies a task template record.
	EntityTaskTemplate EntityType = "task_template"
	// EntityRun identifies a run record.
	EntityRun EntityType = "run"
	// EntityProduct identifies a product record.
	EntityProduct EntityType = "product"
	// EntityItem identifies an inventory item record.
	EntityItem EntityType = "item"
	// EntityItemType identifies a catalog item type record.
	EntityItemType EntityType = "item_type"
	// EntityTransfer identifies an inventory transfer record.
	EntityTransfer EntityType = "transfer"
	// EntityDataEntry identifies a per-product task data record.
	EntityDataEntry EntityType = "data_entry"
	// EntityEquipment identifies an equipment record.
	EntityEquipment EntityType = "equipment"
	// EntityMeasure identifies an amount measure record.
	EntityMeasure EntityType = "measure"
	// EntityLocation identifies a physical location record.
	EntityLocation EntityType = "location"
)

// EquipmentStatus enumerates exclusive-use states for an equipment instance.
type EquipmentStatus string

// Canonical equipment statuses. Equipment is modeled as an exclusive status
// flag only, not as a controlled device.
const (
	EquipmentIdle   EquipmentStatus = "idle"
	EquipmentActive EquipmentStatus = "active"
)

// EntryState enumerates outcome states for a DataEntry.
type EntryState string

// Canonical data entry states used by the run state machine.
const (
	// EntryActive marks an entry belonging to the task currently in progress.
	EntryActive EntryState = "active"
	// EntrySucceeded marks an entry whose product passed the task.
	EntrySucceeded EntryState = "succeeded"
	// EntryFailed marks an entry whose product failed and was re-routed.
	EntryFailed EntryState = "failed"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Workflow is a named, ordered list of task template references. A Run copies
// the order at creation and does not observe later edits.
type Workflow struct {
	Base
	Name      string   `json:"name"`
	TaskIDs   []string `json:"task_ids"`
	CreatedBy string   `json:"created_by"`
}

// InputField declares required inventory consumption for a task.
type InputField struct {
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	Measure     string  `json:"measure"`
	LookupType  string  `json:"lookup_type"`
	// AutoFindInInventory resolves the source item by the task_input
	// property key "<productKey>/<label>" at task start.
	AutoFindInInventory bool   `json:"auto_find_in_inventory"`
	FromCalculation     bool   `json:"from_calculation"`
	CalculationLabel    string `json:"calculation_label,omitempty"`
}

// VariableField declares a freeform per-task value.
type VariableField struct {
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	Measure     string  `json:"measure,omitempty"`
}

// CalculationField stores a formula referencing other fields by label, plus a
// cached result. A nil result means the formula did not evaluate.
type CalculationField struct {
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Result      *float64 `json:"result"`
}

// OutputField declares inventory produced when a task finishes.
type OutputField struct {
	Label            string  `json:"label"`
	Description      string  `json:"description,omitempty"`
	Amount           float64 `json:"amount"`
	Measure          string  `json:"measure"`
	LookupType       string  `json:"lookup_type"`
	FromCalculation  bool    `json:"from_calculation"`
	CalculationLabel string  `json:"calculation_label,omitempty"`
}

// StepProperty is one sub-property of a step field.
type StepProperty struct {
	Label            string  `json:"label"`
	Amount           float64 `json:"amount"`
	Measure          string  `json:"measure,omitempty"`
	FromCalculation  bool    `json:"from_calculation"`
	CalculationLabel string  `json:"calculation_label,omitempty"`
}

// StepField groups sub-properties under a single label.
type StepField struct {
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Properties  []StepProperty `json:"properties"`
}

// TaskTemplate describes one executable task: its field groups, required
// product input, required labware and capable equipment. Templates are
// immutable once referenced by a run in progress.
type TaskTemplate struct {
	Base
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Main input taken from the inventory linked to each product.
	ProductInputNotRequired bool    `json:"product_input_not_required"`
	ProductInput            string  `json:"product_input,omitempty"`
	ProductInputAmount      float64 `json:"product_input_amount"`
	ProductInputMeasure     string  `json:"product_input_measure,omitempty"`

	LabwareNotRequired bool    `json:"labware_not_required"`
	LabwareType        string  `json:"labware_type,omitempty"`
	LabwareAmount      float64 `json:"labware_amount"`

	CapableEquipment []string `json:"capable_equipment"`

	InputFields       []InputField       `json:"input_fields"`
	VariableFields    []VariableField    `json:"variable_fields"`
	CalculationFields []CalculationField `json:"calculation_fields"`
	OutputFields      []OutputField      `json:"output_fields"`
	StepFields        []StepField        `json:"step_fields"`

	CreatedBy string `json:"created_by"`
}

// Run executes a copied task order against a set of products. A run with
// IsActive false is terminal.
type Run struct {
	Base
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids"`
	// CurrentTask indexes TaskIDs; runs cannot be at different stages, a new
	// run is split off when products fail.
	CurrentTask    int     `json:"current_task"`
	TaskInProgress bool    `json:"task_in_progress"`
	TaskRunID      *string `json:"task_run_id"`

	ProductIDs  []string `json:"product_ids"`
	TransferIDs []string `json:"transfer_ids"`
	// ExcludeItemIDs are inventory items never offered as product inputs.
	ExcludeItemIDs []string `json:"exclude_item_ids,omitempty"`

	EquipmentUsed *string `json:"equipment_used"`

	IsActive   bool `json:"is_active"`
	HasStarted bool `json:"has_started"`

	StartedBy    string     `json:"started_by"`
	DateFinished *time.Time `json:"date_finished"`
}

// Product is the physical or logical unit processed by a run. It carries the
// provenance chain of inventory items linked to it so far.
type Product struct {
	Base
	Identifier    string   `json:"identifier"`
	Name          string   `json:"name"`
	ProjectID     *string  `json:"project_id"`
	LinkedItemIDs []string `json:"linked_item_ids"`
}

// Item is an inventory entity. Amount is mutated only through transfers or
// direct additions, never directly during task execution.
type Item struct {
	Base
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
	Barcode    string `json:"barcode,omitempty"`
	ItemType   string `json:"item_type"`

	AmountAvailable float64 `json:"amount_available"`
	AmountMeasure   string  `json:"amount_measure"`

	Location string `json:"location,omitempty"`

	// Properties holds user defined key/value pairs; the task_input key
	// drives auto-find lookups.
	Properties map[string]string `json:"properties,omitempty"`

	// CreatedFromIDs are the input items this one was derived from.
	CreatedFromIDs []string `json:"created_from_ids,omitempty"`

	AddedBy string `json:"added_by,omitempty"`
}

// ItemType is a node in the catalog type tree. Demand matching expands a type
// to itself plus all descendants.
type ItemType struct {
	Base
	Name   string  `json:"name"`
	Parent *string `json:"parent"`
}

// AmountMeasure is a unit catalog record.
type AmountMeasure struct {
	Base
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Location is a named physical location for items.
type Location struct {
	Base
	Name   string  `json:"name"`
	Code   string  `json:"code,omitempty"`
	Parent *string `json:"parent"`
}

// Equipment is an exclusively lockable instrument. At most one in-progress
// task may hold it active.
type Equipment struct {
	Base
	Name   string          `json:"name"`
	Status EquipmentStatus `json:"status"`
}

// ItemTransfer is a reservation record against an inventory item, possibly
// tied to a physical container identified by barcode plus coordinates. Two
// open transfers with the same non-empty barcode and coordinates are the same
// physical container and are merged rather than duplicated.
type ItemTransfer struct {
	Base
	ItemID string `json:"item_id"`

	// AmountTaken is the amount originally requested from the inventory.
	AmountTaken float64 `json:"amount_taken"`
	// AmountAvailable is what remains in this reservation's own pool.
	AmountAvailable float64 `json:"amount_available"`
	// AmountToTake is the amount requested by the most recent adjustment.
	AmountToTake float64 `json:"amount_to_take"`
	Measure      string  `json:"measure"`

	Barcode     string `json:"barcode,omitempty"`
	Coordinates string `json:"coordinates,omitempty"`

	// RunIdentifier is the task-run identifier that created or last
	// adjusted this transfer.
	RunIdentifier string `json:"run_identifier"`

	// IsAddition credits rather than debits when the transfer is applied.
	IsAddition bool `json:"is_addition"`
	// HasTaken reports whether the debit against the source item happened;
	// once true, adjustments apply to this reservation, not the item.
	HasTaken bool `json:"has_taken"`
	// TransferComplete marks a terminal reservation with nothing left.
	TransferComplete bool `json:"transfer_complete"`
}

// ResolvedAmount is a concrete quantity attributed to one inventory item.
type ResolvedAmount struct {
	ItemID  string  `json:"item_id"`
	Name    string  `json:"name,omitempty"`
	Amount  float64 `json:"amount"`
	Measure string  `json:"measure"`
}

// InputFieldValue is an input field resolved for one product at task start.
type InputFieldValue struct {
	Label               string  `json:"label"`
	Amount              float64 `json:"amount"`
	Measure             string  `json:"measure"`
	ItemID              string  `json:"item_id,omitempty"`
	AutoFindInInventory bool    `json:"auto_find_in_inventory"`
	FromCalculation     bool    `json:"from_calculation"`
	CalculationLabel    string  `json:"calculation_label,omitempty"`
	// Destination container, when the consumed amount lands in a plate well.
	DestinationBarcode     string `json:"destination_barcode,omitempty"`
	DestinationCoordinates string `json:"destination_coordinates,omitempty"`
}

// OutputFieldValue is an output field resolved for one product.
type OutputFieldValue struct {
	Label            string  `json:"label"`
	Amount           float64 `json:"amount"`
	Measure          string  `json:"measure"`
	LookupType       string  `json:"lookup_type"`
	FromCalculation  bool    `json:"from_calculation"`
	CalculationLabel string  `json:"calculation_label,omitempty"`
}

// StepPropertyValue mirrors StepProperty with run-time amounts.
type StepPropertyValue struct {
	Label            string  `json:"label"`
	Amount           float64 `json:"amount"`
	Measure          string  `json:"measure,omitempty"`
	FromCalculation  bool    `json:"from_calculation"`
	CalculationLabel string  `json:"calculation_label,omitempty"`
}

// StepFieldValue groups resolved step properties.
type StepFieldValue struct {
	Label      string              `json:"label"`
	Properties []StepPropertyValue `json:"properties"`
}

// VariableFieldValue is a variable field with its run-time amount.
type VariableFieldValue struct {
	Label   string  `json:"label"`
	Amount  float64 `json:"amount"`
	Measure string  `json:"measure,omitempty"`
}

// CalculationFieldValue carries a formula and its evaluated result.
type CalculationFieldValue struct {
	Label      string   `json:"label"`
	Expression string   `json:"expression"`
	Result     *float64 `json:"result"`
}

// TaskValues is the per-task data supplied to start a task, possibly edited
// by the operator from the template defaults. The same shape, resolved per
// product, is persisted on each DataEntry.
type TaskValues struct {
	TaskID string `json:"task_id,omitempty"`

	ProductInputNotRequired bool    `json:"product_input_not_required"`
	ProductInput            string  `json:"product_input,omitempty"`
	ProductInputAmount      float64 `json:"product_input_amount"`
	ProductInputMeasure     string  `json:"product_input_measure,omitempty"`

	LabwareNotRequired bool    `json:"labware_not_required"`
	LabwareItemID      string  `json:"labware_item_id,omitempty"`
	LabwareAmount      float64 `json:"labware_amount"`
	LabwareBarcode     string  `json:"labware_barcode,omitempty"`

	EquipmentChoice string `json:"equipment_choice,omitempty"`

	// OutputLocation names the location new output items are placed in.
	OutputLocation string `json:"output_location,omitempty"`

	InputFields       []InputFieldValue       `json:"input_fields"`
	VariableFields    []VariableFieldValue    `json:"variable_fields"`
	CalculationFields []CalculationFieldValue `json:"calculation_fields"`
	OutputFields      []OutputFieldValue      `json:"output_fields"`
	StepFields        []StepFieldValue        `json:"step_fields"`
}

// EntryData is the resolved task data persisted for one product.
type EntryData struct {
	TaskValues
	// ProductInputs maps consumed item IDs to the per-product amount drawn
	// from each.
	ProductInputs map[string]ResolvedAmount `json:"product_inputs"`
	// ProductInputAmounts summarizes ProductInputs for reporting.
	ProductInputAmounts []ResolvedAmount `json:"product_input_amounts"`
}

// DataEntry records the resolved field values and outcome for one product's
// execution of one task. Created at task start, resolved at finish.
type DataEntry struct {
	Base
	RunID     string `json:"run_id"`
	TaskRunID string `json:"task_run_id"`
	ProductID string `json:"product_id"`
	TaskID    string `json:"task_id"`

	State EntryState `json:"state"`
	Notes string     `json:"notes,omitempty"`

	Data EntryData `json:"data"`

	CreatedBy string `json:"created_by,omitempty"`
}

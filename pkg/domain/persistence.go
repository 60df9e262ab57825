package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules and
// query paths. Implementations return defensive copies.
type TransactionView interface {
	FindWorkflow(id string) (Workflow, bool)
	FindTaskTemplate(id string) (TaskTemplate, bool)
	FindRun(id string) (Run, bool)
	ListRuns() []Run
	FindProduct(id string) (Product, bool)
	ListProducts() []Product
	FindItem(id string) (Item, bool)
	ListItems() []Item
	// FindItemsByProperty returns items whose named property equals value.
	FindItemsByProperty(name, value string) []Item
	FindItemType(name string) (ItemType, bool)
	// ItemTypeWithDescendants returns the names of the given type plus all
	// of its descendant types; unknown names yield just the name itself.
	ItemTypeWithDescendants(name string) []string
	FindMeasure(symbol string) (AmountMeasure, bool)
	ListMeasures() []AmountMeasure
	FindLocation(name string) (Location, bool)
	FindEquipment(name string) (Equipment, bool)
	ListEquipment() []Equipment
	FindTransfer(id string) (ItemTransfer, bool)
	ListTransfers() []ItemTransfer
	// FindOpenTransfer locates a not-yet-complete transfer for the same
	// physical container (item, barcode, coordinates).
	FindOpenTransfer(itemID, barcode, coordinates string) (ItemTransfer, bool)
	FindDataEntry(id string) (DataEntry, bool)
	ListDataEntries() []DataEntry
	// EntriesForTaskRun returns entries tagged with a task-run identifier.
	EntriesForTaskRun(taskRunID string) []DataEntry
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView

	CreateWorkflow(Workflow) (Workflow, error)
	CreateTaskTemplate(TaskTemplate) (TaskTemplate, error)
	UpdateTaskTemplate(id string, mutator func(*TaskTemplate) error) (TaskTemplate, error)
	DeleteTaskTemplate(id string) error

	CreateRun(Run) (Run, error)
	UpdateRun(id string, mutator func(*Run) error) (Run, error)

	CreateProduct(Product) (Product, error)
	UpdateProduct(id string, mutator func(*Product) error) (Product, error)

	CreateItem(Item) (Item, error)
	UpdateItem(id string, mutator func(*Item) error) (Item, error)

	CreateItemType(ItemType) (ItemType, error)
	CreateMeasure(AmountMeasure) (AmountMeasure, error)
	CreateLocation(Location) (Location, error)

	CreateEquipment(Equipment) (Equipment, error)
	UpdateEquipment(name string, mutator func(*Equipment) error) (Equipment, error)

	CreateTransfer(ItemTransfer) (ItemTransfer, error)
	UpdateTransfer(id string, mutator func(*ItemTransfer) error) (ItemTransfer, error)
	DeleteTransfer(id string) error

	CreateDataEntry(DataEntry) (DataEntry, error)
	UpdateDataEntry(id string, mutator func(*DataEntry) error) (DataEntry, error)
	DeleteDataEntry(id string) error
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRun(id string) (Run, bool)
	ListRuns() []Run
	GetItem(id string) (Item, bool)
	ListItems() []Item
	ListTransfers() []ItemTransfer
	ListDataEntries() []DataEntry
	GetEquipment(name string) (Equipment, bool)
}

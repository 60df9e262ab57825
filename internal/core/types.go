package core

import "labrun/pkg/domain"

type (
	// Workflow is an alias of domain.Workflow.
	Workflow = domain.Workflow
	// TaskTemplate is an alias of domain.TaskTemplate.
	TaskTemplate = domain.TaskTemplate
	// Run is an alias of domain.Run.
	Run = domain.Run
	// Product is an alias of domain.Product.
	Product = domain.Product
	// Item is an alias of domain.Item.
	Item = domain.Item
	// ItemType is an alias of domain.ItemType.
	ItemType = domain.ItemType
	// AmountMeasure is an alias of domain.AmountMeasure.
	AmountMeasure = domain.AmountMeasure
	// Location is an alias of domain.Location.
	Location = domain.Location
	// Equipment is an alias of domain.Equipment.
	Equipment = domain.Equipment
	// ItemTransfer is an alias of domain.ItemTransfer.
	ItemTransfer = domain.ItemTransfer
	// DataEntry is an alias of domain.DataEntry.
	DataEntry = domain.DataEntry
	// TaskValues is an alias of domain.TaskValues.
	TaskValues = domain.TaskValues
	// Result is an alias of domain.Result.
	Result = domain.Result
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore is an alias of domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

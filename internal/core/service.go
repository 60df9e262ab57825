// Package core implements the run/task execution engine: transactional CRUD
// for the domain schema, the run state machine, inventory allocation, the
// transfer ledger, and equipment locking.
package core

import (
	"context"
	"fmt"

	"labrun/internal/blob"
	"labrun/internal/infra/persistence/memory"
	"labrun/pkg/domain"
	"labrun/pkg/measure"
)

// Service exposes higher-level transactional operations for the core schema.
type Service struct {
	store   PersistentStore
	blobs   blob.Store
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger overrides the no-op default logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the service time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer installs a tracer around service operations.
func WithTracer(t Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithBlobStore installs the blob store used to archive uploaded input files.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: noopLogger{},
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// run wraps an operation with tracing, metrics, and outcome logging.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := s.clock.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, s.clock.Now().Sub(start))
	}
	if span != nil {
		span.End(err)
	}
	if err != nil {
		s.logger.Warn("operation failed", "operation", operation, "error", err)
	} else {
		s.logger.Debug("operation complete", "operation", operation)
	}
	return err
}

// CreateWorkflow persists a new workflow definition.
func (s *Service) CreateWorkflow(ctx context.Context, workflow Workflow) (Workflow, Result, error) {
	var created Workflow
	var res Result
	err := s.run(ctx, "create_workflow", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateWorkflow(workflow)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateTaskTemplate persists a new task template.
func (s *Service) CreateTaskTemplate(ctx context.Context, task TaskTemplate) (TaskTemplate, Result, error) {
	var created TaskTemplate
	var res Result
	err := s.run(ctx, "create_task_template", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateTaskTemplate(task)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateRun persists a new run executing the named workflow's task order
// against the supplied products. The order is copied at creation; later
// workflow edits are not observed.
func (s *Service) CreateRun(ctx context.Context, workflowID string, run Run) (Run, Result, error) {
	var created Run
	var res Result
	err := s.run(ctx, "create_run", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			workflow, ok := view.FindWorkflow(workflowID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityWorkflow, Ref: workflowID}
			}
			if len(run.ProductIDs) == 0 {
				return domain.ValidationError{Message: "a run requires at least one product"}
			}
			for _, pid := range run.ProductIDs {
				if _, ok := view.FindProduct(pid); !ok {
					return domain.NotFoundError{Entity: domain.EntityProduct, Ref: pid}
				}
			}
			run.TaskIDs = append([]string(nil), workflow.TaskIDs...)
			run.CurrentTask = 0
			run.TaskInProgress = false
			run.IsActive = true
			var err error
			created, err = tx.CreateRun(run)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateProduct persists a new product.
func (s *Service) CreateProduct(ctx context.Context, product Product) (Product, Result, error) {
	var created Product
	var res Result
	err := s.run(ctx, "create_product", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateProduct(product)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateItem persists a new inventory item.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, Result, error) {
	var created Item
	var res Result
	err := s.run(ctx, "create_item", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateItem(item)
			return err
		})
		return err
	})
	return created, res, err
}

// LinkItemToProduct attaches an inventory item to a product's provenance set.
func (s *Service) LinkItemToProduct(ctx context.Context, productID, itemID string) (Product, Result, error) {
	var updated Product
	var res Result
	err := s.run(ctx, "link_item_to_product", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.Snapshot().FindItem(itemID); !ok {
				return domain.NotFoundError{Entity: domain.EntityItem, Ref: itemID}
			}
			var err error
			updated, err = tx.UpdateProduct(productID, func(p *Product) error {
				for _, id := range p.LinkedItemIDs {
					if id == itemID {
						return nil
					}
				}
				p.LinkedItemIDs = append(p.LinkedItemIDs, itemID)
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// AddItemAmount credits an item's stock directly, outside task execution.
// The amount is converted into the item's own measure.
func (s *Service) AddItemAmount(ctx context.Context, itemID string, amount float64, symbol string) (Item, Result, error) {
	var updated Item
	var res Result
	err := s.run(ctx, "add_item_amount", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateItem(itemID, func(i *Item) error {
				existing := measure.ToMeasured(i.AmountAvailable, i.AmountMeasure)
				credit := measure.ToMeasured(amount, symbol)
				total, err := existing.Add(credit)
				if err != nil {
					return domain.ValidationError{Message: err.Error()}
				}
				i.AmountAvailable = total.Magnitude()
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// SetItemProperty sets a free key/value property on an item. The task_input
// property drives auto-find lookups at task start.
func (s *Service) SetItemProperty(ctx context.Context, itemID, name, value string) (Item, Result, error) {
	var updated Item
	var res Result
	err := s.run(ctx, "set_item_property", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateItem(itemID, func(i *Item) error {
				if i.Properties == nil {
					i.Properties = make(map[string]string)
				}
				i.Properties[name] = value
				return nil
			})
			return err
		})
		return err
	})
	return updated, res, err
}

// CreateItemType persists a catalog type node.
func (s *Service) CreateItemType(ctx context.Context, itemType ItemType) (ItemType, Result, error) {
	var created ItemType
	var res Result
	err := s.run(ctx, "create_item_type", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if itemType.Parent != nil {
				if _, ok := tx.Snapshot().FindItemType(*itemType.Parent); !ok {
					return domain.NotFoundError{Entity: domain.EntityItemType, Ref: *itemType.Parent}
				}
			}
			var err error
			created, err = tx.CreateItemType(itemType)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateMeasure persists a unit catalog record.
func (s *Service) CreateMeasure(ctx context.Context, m AmountMeasure) (AmountMeasure, Result, error) {
	var created AmountMeasure
	var res Result
	err := s.run(ctx, "create_measure", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateMeasure(m)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateLocation persists a location record.
func (s *Service) CreateLocation(ctx context.Context, l Location) (Location, Result, error) {
	var created Location
	var res Result
	err := s.run(ctx, "create_location", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateLocation(l)
			return err
		})
		return err
	})
	return created, res, err
}

// CreateEquipment persists an equipment record, defaulting to idle.
func (s *Service) CreateEquipment(ctx context.Context, e Equipment) (Equipment, Result, error) {
	var created Equipment
	var res Result
	err := s.run(ctx, "create_equipment", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateEquipment(e)
			return err
		})
		return err
	})
	return created, res, err
}

// WorkflowFromRun creates a new workflow out of a run's copied task order.
func (s *Service) WorkflowFromRun(ctx context.Context, runID, name, createdBy string) (Workflow, Result, error) {
	var created Workflow
	var res Result
	err := s.run(ctx, "workflow_from_run", func(ctx context.Context) error {
		if name == "" {
			return domain.ValidationError{Message: "please supply a name"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			run, ok := tx.Snapshot().FindRun(runID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
			}
			var err error
			created, err = tx.CreateWorkflow(Workflow{
				Name:      name,
				TaskIDs:   append([]string(nil), run.TaskIDs...),
				CreatedBy: createdBy,
			})
			return err
		})
		return err
	})
	return created, res, err
}

// GetRun retrieves a run by ID.
func (s *Service) GetRun(runID string) (Run, error) {
	run, ok := s.store.GetRun(runID)
	if !ok {
		return Run{}, domain.NotFoundError{Entity: domain.EntityRun, Ref: runID}
	}
	return run, nil
}

// GetItem retrieves an item by ID.
func (s *Service) GetItem(itemID string) (Item, error) {
	item, ok := s.store.GetItem(itemID)
	if !ok {
		return Item{}, domain.NotFoundError{Entity: domain.EntityItem, Ref: itemID}
	}
	return item, nil
}

func taskForRun(view TransactionView, run Run) (TaskTemplate, error) {
	if run.CurrentTask < 0 || run.CurrentTask >= len(run.TaskIDs) {
		return TaskTemplate{}, domain.ValidationError{Message: fmt.Sprintf("run %s has no task at index %d", run.ID, run.CurrentTask)}
	}
	task, ok := view.FindTaskTemplate(run.TaskIDs[run.CurrentTask])
	if !ok {
		return TaskTemplate{}, domain.NotFoundError{Entity: domain.EntityTaskTemplate, Ref: run.TaskIDs[run.CurrentTask]}
	}
	return task, nil
}

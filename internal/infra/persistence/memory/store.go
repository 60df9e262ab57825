// Package memory provides an in-memory implementation of the core
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"labrun/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Workflow aliases domain.Workflow for in-memory persistence operations.
	Workflow = domain.Workflow
	// TaskTemplate aliases domain.TaskTemplate.
	TaskTemplate = domain.TaskTemplate
	// Run aliases domain.Run.
	Run = domain.Run
	// Product aliases domain.Product.
	Product = domain.Product
	// Item aliases domain.Item.
	Item = domain.Item
	// ItemType aliases domain.ItemType.
	ItemType = domain.ItemType
	// AmountMeasure aliases domain.AmountMeasure.
	AmountMeasure = domain.AmountMeasure
	// Location aliases domain.Location.
	Location = domain.Location
	// Equipment aliases domain.Equipment.
	Equipment = domain.Equipment
	// ItemTransfer aliases domain.ItemTransfer.
	ItemTransfer = domain.ItemTransfer
	// DataEntry aliases domain.DataEntry.
	DataEntry = domain.DataEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	workflows map[string]Workflow
	tasks     map[string]TaskTemplate
	runs      map[string]Run
	products  map[string]Product
	items     map[string]Item
	itemTypes map[string]ItemType
	measures  map[string]AmountMeasure
	locations map[string]Location
	equipment map[string]Equipment
	transfers map[string]ItemTransfer
	entries   map[string]DataEntry
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Workflows map[string]Workflow      `json:"workflows"`
	Tasks     map[string]TaskTemplate  `json:"tasks"`
	Runs      map[string]Run           `json:"runs"`
	Products  map[string]Product       `json:"products"`
	Items     map[string]Item          `json:"items"`
	ItemTypes map[string]ItemType      `json:"item_types"`
	Measures  map[string]AmountMeasure `json:"measures"`
	Locations map[string]Location      `json:"locations"`
	Equipment map[string]Equipment     `json:"equipment"`
	Transfers map[string]ItemTransfer  `json:"transfers"`
	Entries   map[string]DataEntry     `json:"entries"`
}

func newMemoryState() memoryState {
	return memoryState{
		workflows: make(map[string]Workflow),
		tasks:     make(map[string]TaskTemplate),
		runs:      make(map[string]Run),
		products:  make(map[string]Product),
		items:     make(map[string]Item),
		itemTypes: make(map[string]ItemType),
		measures:  make(map[string]AmountMeasure),
		locations: make(map[string]Location),
		equipment: make(map[string]Equipment),
		transfers: make(map[string]ItemTransfer),
		entries:   make(map[string]DataEntry),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.workflows {
		cloned.workflows[k] = cloneWorkflow(v)
	}
	for k, v := range s.tasks {
		cloned.tasks[k] = cloneTask(v)
	}
	for k, v := range s.runs {
		cloned.runs[k] = cloneRun(v)
	}
	for k, v := range s.products {
		cloned.products[k] = cloneProduct(v)
	}
	for k, v := range s.items {
		cloned.items[k] = cloneItem(v)
	}
	for k, v := range s.itemTypes {
		cloned.itemTypes[k] = v
	}
	for k, v := range s.measures {
		cloned.measures[k] = v
	}
	for k, v := range s.locations {
		cloned.locations[k] = v
	}
	for k, v := range s.equipment {
		cloned.equipment[k] = v
	}
	for k, v := range s.transfers {
		cloned.transfers[k] = v
	}
	for k, v := range s.entries {
		cloned.entries[k] = cloneEntry(v)
	}
	return cloned
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneWorkflow(w Workflow) Workflow {
	cp := w
	cp.TaskIDs = cloneStrings(w.TaskIDs)
	return cp
}

func cloneTask(t TaskTemplate) TaskTemplate {
	cp := t
	cp.CapableEquipment = cloneStrings(t.CapableEquipment)
	cp.InputFields = append([]domain.InputField(nil), t.InputFields...)
	cp.VariableFields = append([]domain.VariableField(nil), t.VariableFields...)
	cp.CalculationFields = append([]domain.CalculationField(nil), t.CalculationFields...)
	cp.OutputFields = append([]domain.OutputField(nil), t.OutputFields...)
	cp.StepFields = make([]domain.StepField, len(t.StepFields))
	for i, sf := range t.StepFields {
		sfCopy := sf
		sfCopy.Properties = append([]domain.StepProperty(nil), sf.Properties...)
		cp.StepFields[i] = sfCopy
	}
	return cp
}

func cloneRun(r Run) Run {
	cp := r
	cp.TaskIDs = cloneStrings(r.TaskIDs)
	cp.ProductIDs = cloneStrings(r.ProductIDs)
	cp.TransferIDs = cloneStrings(r.TransferIDs)
	cp.ExcludeItemIDs = cloneStrings(r.ExcludeItemIDs)
	if r.TaskRunID != nil {
		id := *r.TaskRunID
		cp.TaskRunID = &id
	}
	if r.EquipmentUsed != nil {
		name := *r.EquipmentUsed
		cp.EquipmentUsed = &name
	}
	if r.DateFinished != nil {
		at := *r.DateFinished
		cp.DateFinished = &at
	}
	return cp
}

func cloneProduct(p Product) Product {
	cp := p
	cp.LinkedItemIDs = cloneStrings(p.LinkedItemIDs)
	if p.ProjectID != nil {
		id := *p.ProjectID
		cp.ProjectID = &id
	}
	return cp
}

func cloneItem(i Item) Item {
	cp := i
	cp.CreatedFromIDs = cloneStrings(i.CreatedFromIDs)
	if i.Properties != nil {
		cp.Properties = make(map[string]string, len(i.Properties))
		for k, v := range i.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

func cloneEntry(e DataEntry) DataEntry {
	cp := e
	cp.Data.InputFields = append([]domain.InputFieldValue(nil), e.Data.InputFields...)
	cp.Data.VariableFields = append([]domain.VariableFieldValue(nil), e.Data.VariableFields...)
	cp.Data.CalculationFields = append([]domain.CalculationFieldValue(nil), e.Data.CalculationFields...)
	cp.Data.OutputFields = append([]domain.OutputFieldValue(nil), e.Data.OutputFields...)
	cp.Data.StepFields = make([]domain.StepFieldValue, len(e.Data.StepFields))
	for i, sf := range e.Data.StepFields {
		sfCopy := sf
		sfCopy.Properties = append([]domain.StepPropertyValue(nil), sf.Properties...)
		cp.Data.StepFields[i] = sfCopy
	}
	if e.Data.ProductInputs != nil {
		cp.Data.ProductInputs = make(map[string]domain.ResolvedAmount, len(e.Data.ProductInputs))
		for k, v := range e.Data.ProductInputs {
			cp.Data.ProductInputs[k] = v
		}
	}
	cp.Data.ProductInputAmounts = append([]domain.ResolvedAmount(nil), e.Data.ProductInputAmounts...)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source, primarily for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.nowFn = now
	}
}

func newID() string { return uuid.NewString() }

// transaction implements domain.Transaction over a cloned state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// view exposes a read-only snapshot of transactional state.
type view struct {
	state *memoryState
}

// RunInTransaction executes fn within a transactional copy of the store
// state, evaluates rules against the result, and commits only when fn and
// every blocking rule pass. Mutations from a failed transaction are
// discarded wholesale.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

// ImportState replaces the committed state with the supplied snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	for k, v := range snap.Workflows {
		state.workflows[k] = v
	}
	for k, v := range snap.Tasks {
		state.tasks[k] = v
	}
	for k, v := range snap.Runs {
		state.runs[k] = v
	}
	for k, v := range snap.Products {
		state.products[k] = v
	}
	for k, v := range snap.Items {
		state.items[k] = v
	}
	for k, v := range snap.ItemTypes {
		state.itemTypes[k] = v
	}
	for k, v := range snap.Measures {
		state.measures[k] = v
	}
	for k, v := range snap.Locations {
		state.locations[k] = v
	}
	for k, v := range snap.Equipment {
		state.equipment[k] = v
	}
	for k, v := range snap.Transfers {
		state.transfers[k] = v
	}
	for k, v := range snap.Entries {
		state.entries[k] = v
	}
	s.state = state
}

// ExportState clones the committed state into a serializable snapshot.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cloned := s.state.clone()
	return Snapshot{
		Workflows: cloned.workflows,
		Tasks:     cloned.tasks,
		Runs:      cloned.runs,
		Products:  cloned.products,
		Items:     cloned.items,
		ItemTypes: cloned.itemTypes,
		Measures:  cloned.measures,
		Locations: cloned.locations,
		Equipment: cloned.equipment,
		Transfers: cloned.transfers,
		Entries:   cloned.entries,
	}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view of the transaction's working state.
func (tx *transaction) Snapshot() TransactionView {
	return view{state: &tx.state}
}

// CreateWorkflow stores a new workflow within the transaction.
func (tx *transaction) CreateWorkflow(w Workflow) (Workflow, error) {
	if w.ID == "" {
		w.ID = newID()
	}
	if _, exists := tx.state.workflows[w.ID]; exists {
		return Workflow{}, fmt.Errorf("workflow %q already exists", w.ID)
	}
	w.CreatedAt = tx.now
	w.UpdatedAt = tx.now
	tx.state.workflows[w.ID] = cloneWorkflow(w)
	tx.recordChange(Change{Entity: domain.EntityWorkflow, Action: domain.ActionCreate, After: cloneWorkflow(w)})
	return cloneWorkflow(w), nil
}

// CreateTaskTemplate stores a new task template.
func (tx *transaction) CreateTaskTemplate(t TaskTemplate) (TaskTemplate, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if _, exists := tx.state.tasks[t.ID]; exists {
		return TaskTemplate{}, fmt.Errorf("task template %q already exists", t.ID)
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.tasks[t.ID] = cloneTask(t)
	tx.recordChange(Change{Entity: domain.EntityTaskTemplate, Action: domain.ActionCreate, After: cloneTask(t)})
	return cloneTask(t), nil
}

// runReferencesTask reports whether any run in the given state references the
// task template, and whether any such run currently has a task in progress.
func runReferencesTask(state *memoryState, taskID string) (referenced, inProgress bool) {
	for _, r := range state.runs {
		for _, id := range r.TaskIDs {
			if id == taskID {
				referenced = true
				if r.TaskInProgress {
					inProgress = true
				}
			}
		}
	}
	return referenced, inProgress
}

// UpdateTaskTemplate mutates a task template. Templates referenced by a run
// with a task in progress are immutable.
func (tx *transaction) UpdateTaskTemplate(id string, mutator func(*TaskTemplate) error) (TaskTemplate, error) {
	current, ok := tx.state.tasks[id]
	if !ok {
		return TaskTemplate{}, fmt.Errorf("task template %q not found", id)
	}
	if _, inProgress := runReferencesTask(&tx.state, id); inProgress {
		return TaskTemplate{}, fmt.Errorf("task template %q is referenced by a run in progress", id)
	}
	before := cloneTask(current)
	if err := mutator(&current); err != nil {
		return TaskTemplate{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.tasks[id] = cloneTask(current)
	tx.recordChange(Change{Entity: domain.EntityTaskTemplate, Action: domain.ActionUpdate, Before: before, After: cloneTask(current)})
	return cloneTask(current), nil
}

// DeleteTaskTemplate removes a task template. Referenced templates cannot be
// deleted.
func (tx *transaction) DeleteTaskTemplate(id string) error {
	current, ok := tx.state.tasks[id]
	if !ok {
		return fmt.Errorf("task template %q not found", id)
	}
	if referenced, _ := runReferencesTask(&tx.state, id); referenced {
		return fmt.Errorf("task template %q is referenced by a run", id)
	}
	delete(tx.state.tasks, id)
	tx.recordChange(Change{Entity: domain.EntityTaskTemplate, Action: domain.ActionDelete, Before: cloneTask(current)})
	return nil
}

// CreateRun stores a new run.
func (tx *transaction) CreateRun(r Run) (Run, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if _, exists := tx.state.runs[r.ID]; exists {
		return Run{}, fmt.Errorf("run %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.runs[r.ID] = cloneRun(r)
	tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionCreate, After: cloneRun(r)})
	return cloneRun(r), nil
}

// UpdateRun mutates a run using the provided mutator.
func (tx *transaction) UpdateRun(id string, mutator func(*Run) error) (Run, error) {
	current, ok := tx.state.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %q not found", id)
	}
	before := cloneRun(current)
	if err := mutator(&current); err != nil {
		return Run{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.runs[id] = cloneRun(current)
	tx.recordChange(Change{Entity: domain.EntityRun, Action: domain.ActionUpdate, Before: before, After: cloneRun(current)})
	return cloneRun(current), nil
}

// CreateProduct stores a new product.
func (tx *transaction) CreateProduct(p Product) (Product, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	if _, exists := tx.state.products[p.ID]; exists {
		return Product{}, fmt.Errorf("product %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.products[p.ID] = cloneProduct(p)
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionCreate, After: cloneProduct(p)})
	return cloneProduct(p), nil
}

// UpdateProduct mutates a product.
func (tx *transaction) UpdateProduct(id string, mutator func(*Product) error) (Product, error) {
	current, ok := tx.state.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %q not found", id)
	}
	before := cloneProduct(current)
	if err := mutator(&current); err != nil {
		return Product{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.products[id] = cloneProduct(current)
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionUpdate, Before: before, After: cloneProduct(current)})
	return cloneProduct(current), nil
}

// CreateItem stores a new inventory item.
func (tx *transaction) CreateItem(i Item) (Item, error) {
	if i.ID == "" {
		i.ID = newID()
	}
	if _, exists := tx.state.items[i.ID]; exists {
		return Item{}, fmt.Errorf("item %q already exists", i.ID)
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.items[i.ID] = cloneItem(i)
	tx.recordChange(Change{Entity: domain.EntityItem, Action: domain.ActionCreate, After: cloneItem(i)})
	return cloneItem(i), nil
}

// UpdateItem mutates an inventory item.
func (tx *transaction) UpdateItem(id string, mutator func(*Item) error) (Item, error) {
	current, ok := tx.state.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %q not found", id)
	}
	before := cloneItem(current)
	if err := mutator(&current); err != nil {
		return Item{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.items[id] = cloneItem(current)
	tx.recordChange(Change{Entity: domain.EntityItem, Action: domain.ActionUpdate, Before: before, After: cloneItem(current)})
	return cloneItem(current), nil
}

// CreateItemType stores a catalog type node, keyed by name.
func (tx *transaction) CreateItemType(t ItemType) (ItemType, error) {
	if t.Name == "" {
		return ItemType{}, fmt.Errorf("item type name required")
	}
	if _, exists := tx.state.itemTypes[t.Name]; exists {
		return ItemType{}, fmt.Errorf("item type %q already exists", t.Name)
	}
	if t.ID == "" {
		t.ID = newID()
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.itemTypes[t.Name] = t
	tx.recordChange(Change{Entity: domain.EntityItemType, Action: domain.ActionCreate, After: t})
	return t, nil
}

// CreateMeasure stores a unit catalog record, keyed by symbol.
func (tx *transaction) CreateMeasure(m AmountMeasure) (AmountMeasure, error) {
	if m.Symbol == "" {
		return AmountMeasure{}, fmt.Errorf("measure symbol required")
	}
	if _, exists := tx.state.measures[m.Symbol]; exists {
		return AmountMeasure{}, fmt.Errorf("measure %q already exists", m.Symbol)
	}
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.measures[m.Symbol] = m
	tx.recordChange(Change{Entity: domain.EntityMeasure, Action: domain.ActionCreate, After: m})
	return m, nil
}

// CreateLocation stores a location record, keyed by name.
func (tx *transaction) CreateLocation(l Location) (Location, error) {
	if l.Name == "" {
		return Location{}, fmt.Errorf("location name required")
	}
	if _, exists := tx.state.locations[l.Name]; exists {
		return Location{}, fmt.Errorf("location %q already exists", l.Name)
	}
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = tx.now
	l.UpdatedAt = tx.now
	tx.state.locations[l.Name] = l
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionCreate, After: l})
	return l, nil
}

// CreateEquipment stores an equipment record, keyed by name.
func (tx *transaction) CreateEquipment(e Equipment) (Equipment, error) {
	if e.Name == "" {
		return Equipment{}, fmt.Errorf("equipment name required")
	}
	if _, exists := tx.state.equipment[e.Name]; exists {
		return Equipment{}, fmt.Errorf("equipment %q already exists", e.Name)
	}
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Status == "" {
		e.Status = domain.EquipmentIdle
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.equipment[e.Name] = e
	tx.recordChange(Change{Entity: domain.EntityEquipment, Action: domain.ActionCreate, After: e})
	return e, nil
}

// UpdateEquipment mutates an equipment record by name.
func (tx *transaction) UpdateEquipment(name string, mutator func(*Equipment) error) (Equipment, error) {
	current, ok := tx.state.equipment[name]
	if !ok {
		return Equipment{}, fmt.Errorf("equipment %q not found", name)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Equipment{}, err
	}
	current.Name = name
	current.UpdatedAt = tx.now
	tx.state.equipment[name] = current
	tx.recordChange(Change{Entity: domain.EntityEquipment, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateTransfer stores a reservation record. At creation the reservation
// pool and the pending adjustment both equal the requested amount.
func (tx *transaction) CreateTransfer(t ItemTransfer) (ItemTransfer, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if _, exists := tx.state.transfers[t.ID]; exists {
		return ItemTransfer{}, fmt.Errorf("transfer %q already exists", t.ID)
	}
	if _, ok := tx.state.items[t.ItemID]; !ok {
		return ItemTransfer{}, fmt.Errorf("transfer references unknown item %q", t.ItemID)
	}
	if t.AmountAvailable == 0 {
		t.AmountAvailable = t.AmountTaken
	}
	if t.AmountToTake == 0 {
		t.AmountToTake = t.AmountTaken
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.transfers[t.ID] = t
	tx.recordChange(Change{Entity: domain.EntityTransfer, Action: domain.ActionCreate, After: t})
	return t, nil
}

// UpdateTransfer mutates a reservation record.
func (tx *transaction) UpdateTransfer(id string, mutator func(*ItemTransfer) error) (ItemTransfer, error) {
	current, ok := tx.state.transfers[id]
	if !ok {
		return ItemTransfer{}, fmt.Errorf("transfer %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return ItemTransfer{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.transfers[id] = current
	tx.recordChange(Change{Entity: domain.EntityTransfer, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteTransfer removes a reservation record.
func (tx *transaction) DeleteTransfer(id string) error {
	current, ok := tx.state.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %q not found", id)
	}
	delete(tx.state.transfers, id)
	tx.recordChange(Change{Entity: domain.EntityTransfer, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreateDataEntry stores a per-product task data record.
func (tx *transaction) CreateDataEntry(e DataEntry) (DataEntry, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if _, exists := tx.state.entries[e.ID]; exists {
		return DataEntry{}, fmt.Errorf("data entry %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.entries[e.ID] = cloneEntry(e)
	tx.recordChange(Change{Entity: domain.EntityDataEntry, Action: domain.ActionCreate, After: cloneEntry(e)})
	return cloneEntry(e), nil
}

// UpdateDataEntry mutates a data entry.
func (tx *transaction) UpdateDataEntry(id string, mutator func(*DataEntry) error) (DataEntry, error) {
	current, ok := tx.state.entries[id]
	if !ok {
		return DataEntry{}, fmt.Errorf("data entry %q not found", id)
	}
	before := cloneEntry(current)
	if err := mutator(&current); err != nil {
		return DataEntry{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.entries[id] = cloneEntry(current)
	tx.recordChange(Change{Entity: domain.EntityDataEntry, Action: domain.ActionUpdate, Before: before, After: cloneEntry(current)})
	return cloneEntry(current), nil
}

// DeleteDataEntry removes a data entry.
func (tx *transaction) DeleteDataEntry(id string) error {
	current, ok := tx.state.entries[id]
	if !ok {
		return fmt.Errorf("data entry %q not found", id)
	}
	delete(tx.state.entries, id)
	tx.recordChange(Change{Entity: domain.EntityDataEntry, Action: domain.ActionDelete, Before: cloneEntry(current)})
	return nil
}

// View methods -------------------------------------------------------------

// FindWorkflow retrieves a workflow by ID from the snapshot.
func (v view) FindWorkflow(id string) (Workflow, bool) {
	w, ok := v.state.workflows[id]
	if !ok {
		return Workflow{}, false
	}
	return cloneWorkflow(w), true
}

// FindTaskTemplate retrieves a task template by ID.
func (v view) FindTaskTemplate(id string) (TaskTemplate, bool) {
	t, ok := v.state.tasks[id]
	if !ok {
		return TaskTemplate{}, false
	}
	return cloneTask(t), true
}

// FindRun retrieves a run by ID.
func (v view) FindRun(id string) (Run, bool) {
	r, ok := v.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return cloneRun(r), true
}

// ListRuns returns all runs within the snapshot.
func (v view) ListRuns() []Run {
	out := make([]Run, 0, len(v.state.runs))
	for _, r := range v.state.runs {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindProduct retrieves a product by ID.
func (v view) FindProduct(id string) (Product, bool) {
	p, ok := v.state.products[id]
	if !ok {
		return Product{}, false
	}
	return cloneProduct(p), true
}

// ListProducts returns all products.
func (v view) ListProducts() []Product {
	out := make([]Product, 0, len(v.state.products))
	for _, p := range v.state.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindItem retrieves an item by ID.
func (v view) FindItem(id string) (Item, bool) {
	i, ok := v.state.items[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(i), true
}

// ListItems returns all items.
func (v view) ListItems() []Item {
	out := make([]Item, 0, len(v.state.items))
	for _, i := range v.state.items {
		out = append(out, cloneItem(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindItemsByProperty returns items whose named property equals value.
func (v view) FindItemsByProperty(name, value string) []Item {
	var out []Item
	for _, i := range v.state.items {
		if i.Properties != nil && i.Properties[name] == value {
			out = append(out, cloneItem(i))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindItemType retrieves a catalog type by name.
func (v view) FindItemType(name string) (ItemType, bool) {
	t, ok := v.state.itemTypes[name]
	return t, ok
}

// ItemTypeWithDescendants expands a type name to itself plus all descendant
// type names. Unknown names yield just the name itself.
func (v view) ItemTypeWithDescendants(name string) []string {
	children := make(map[string][]string)
	for _, t := range v.state.itemTypes {
		if t.Parent != nil {
			children[*t.Parent] = append(children[*t.Parent], t.Name)
		}
	}
	out := []string{name}
	queue := []string{name}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		kids := children[next]
		sort.Strings(kids)
		out = append(out, kids...)
		queue = append(queue, kids...)
	}
	return out
}

// FindMeasure retrieves a measure by symbol.
func (v view) FindMeasure(symbol string) (AmountMeasure, bool) {
	m, ok := v.state.measures[symbol]
	return m, ok
}

// ListMeasures returns all measures.
func (v view) ListMeasures() []AmountMeasure {
	out := make([]AmountMeasure, 0, len(v.state.measures))
	for _, m := range v.state.measures {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// FindLocation retrieves a location by name.
func (v view) FindLocation(name string) (Location, bool) {
	l, ok := v.state.locations[name]
	return l, ok
}

// FindEquipment retrieves an equipment record by name.
func (v view) FindEquipment(name string) (Equipment, bool) {
	e, ok := v.state.equipment[name]
	return e, ok
}

// ListEquipment returns all equipment records.
func (v view) ListEquipment() []Equipment {
	out := make([]Equipment, 0, len(v.state.equipment))
	for _, e := range v.state.equipment {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindTransfer retrieves a transfer by ID.
func (v view) FindTransfer(id string) (ItemTransfer, bool) {
	t, ok := v.state.transfers[id]
	return t, ok
}

// ListTransfers returns all transfers.
func (v view) ListTransfers() []ItemTransfer {
	out := make([]ItemTransfer, 0, len(v.state.transfers))
	for _, t := range v.state.transfers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindOpenTransfer locates a not-yet-complete transfer matching the same
// physical container. Containers are identified by non-empty barcode plus
// coordinates on the same item.
func (v view) FindOpenTransfer(itemID, barcode, coordinates string) (ItemTransfer, bool) {
	if barcode == "" {
		return ItemTransfer{}, false
	}
	var (
		found ItemTransfer
		ok    bool
	)
	for _, t := range v.state.transfers {
		if t.TransferComplete || t.ItemID != itemID {
			continue
		}
		if t.Barcode != barcode || t.Coordinates != coordinates {
			continue
		}
		// Prefer the oldest open transfer when several match.
		if !ok || t.CreatedAt.Before(found.CreatedAt) {
			found = t
			ok = true
		}
	}
	return found, ok
}

// FindDataEntry retrieves a data entry by ID.
func (v view) FindDataEntry(id string) (DataEntry, bool) {
	e, ok := v.state.entries[id]
	if !ok {
		return DataEntry{}, false
	}
	return cloneEntry(e), true
}

// ListDataEntries returns all data entries.
func (v view) ListDataEntries() []DataEntry {
	out := make([]DataEntry, 0, len(v.state.entries))
	for _, e := range v.state.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EntriesForTaskRun returns entries tagged with a task-run identifier.
func (v view) EntriesForTaskRun(taskRunID string) []DataEntry {
	var out []DataEntry
	for _, e := range v.state.entries {
		if e.TaskRunID == taskRunID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Read helpers -------------------------------------------------------------

// GetRun retrieves a run by ID from committed state.
func (s *Store) GetRun(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.runs[id]
	if !ok {
		return Run{}, false
	}
	return cloneRun(r), true
}

// ListRuns returns all runs from committed state.
func (s *Store) ListRuns() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListRuns()
}

// GetItem retrieves an item by ID from committed state.
func (s *Store) GetItem(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.state.items[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(i), true
}

// ListItems returns all items from committed state.
func (s *Store) ListItems() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListItems()
}

// ListTransfers returns all transfers from committed state.
func (s *Store) ListTransfers() []ItemTransfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListTransfers()
}

// ListDataEntries returns all data entries from committed state.
func (s *Store) ListDataEntries() []DataEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListDataEntries()
}

// GetEquipment retrieves an equipment record by name from committed state.
func (s *Store) GetEquipment(name string) (Equipment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.equipment[name]
	return e, ok
}

package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"labrun/internal/blob"
	"labrun/internal/filetemplate"
	"labrun/pkg/domain"
)

type fixture struct {
	svc    *Service
	buffer Item
	task   TaskTemplate
	run    Run
	p1, p2 Product
}

// setupFixture seeds a single-task run over two products consuming 20 uL of
// buffer each from a 100 uL stock.
func setupFixture(t *testing.T, template TaskTemplate) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithBlobStore(blob.NewMemory()))

	mustCreate := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture setup: %v", err)
		}
	}

	_, _, err := svc.CreateMeasure(ctx, AmountMeasure{Name: "microlitre", Symbol: "uL"})
	mustCreate(err)
	_, _, err = svc.CreateItemType(ctx, ItemType{Name: "Reagent"})
	mustCreate(err)

	buffer, _, err := svc.CreateItem(ctx, Item{
		Name:            "Elution Buffer",
		Identifier:      "EB1",
		ItemType:        "Reagent",
		AmountAvailable: 100,
		AmountMeasure:   "uL",
	})
	mustCreate(err)

	task, _, err := svc.CreateTaskTemplate(ctx, template)
	mustCreate(err)
	workflow, _, err := svc.CreateWorkflow(ctx, Workflow{Name: "Extraction", TaskIDs: []string{task.ID}})
	mustCreate(err)

	p1, _, err := svc.CreateProduct(ctx, Product{Identifier: "P1", Name: "Sample One"})
	mustCreate(err)
	p2, _, err := svc.CreateProduct(ctx, Product{Identifier: "P2", Name: "Sample Two"})
	mustCreate(err)

	run, _, err := svc.CreateRun(ctx, workflow.ID, Run{
		Name:       "Extraction 1",
		ProductIDs: []string{p1.ID, p2.ID},
		StartedBy:  "tech1",
	})
	mustCreate(err)

	return &fixture{svc: svc, buffer: buffer, task: task, run: run, p1: p1, p2: p2}
}

func bufferTemplate(amount float64) TaskTemplate {
	return TaskTemplate{
		Name:                    "Elute",
		ProductInputNotRequired: true,
		LabwareNotRequired:      true,
		InputFields: []domain.InputField{
			{Label: "Buffer", Amount: amount, Measure: "uL"},
		},
	}
}

// bufferValues resolves the template's single input field to the fixture's
// buffer item.
func (f *fixture) bufferValues() *TaskValues {
	values := valuesFromTemplate(f.task)
	values.InputFields[0].ItemID = f.buffer.ID
	return &values
}

func TestStartTaskDebitsInventory(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	report, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if report.TaskRunID == "" {
		t.Fatal("expected a task run identifier")
	}

	item, err := f.svc.GetItem(f.buffer.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.AmountAvailable != 60 {
		t.Fatalf("stock = %v, want 60", item.AmountAvailable)
	}

	run, err := f.svc.GetRun(f.run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !run.TaskInProgress || !run.HasStarted {
		t.Fatalf("run flags: in_progress=%v has_started=%v", run.TaskInProgress, run.HasStarted)
	}
	if run.TaskRunID == nil || *run.TaskRunID != report.TaskRunID {
		t.Fatal("run does not carry the task run identifier")
	}

	transfers := f.svc.Store().ListTransfers()
	if len(transfers) != 1 {
		t.Fatalf("transfers = %d, want 1 aggregate", len(transfers))
	}
	tr := transfers[0]
	if tr.RunIdentifier != report.TaskRunID {
		t.Fatalf("transfer run identifier = %q", tr.RunIdentifier)
	}
	if tr.AmountTaken != 40 {
		t.Fatalf("aggregate amount = %v, want 40", tr.AmountTaken)
	}
	if tr.HasTaken {
		t.Fatal("transfer should not be sealed before finish")
	}

	entries := f.svc.Store().ListDataEntries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want one per product", len(entries))
	}
	for _, e := range entries {
		if e.State != domain.EntryActive {
			t.Fatalf("entry state = %q, want active", e.State)
		}
		if e.TaskRunID != report.TaskRunID {
			t.Fatalf("entry task run id = %q", e.TaskRunID)
		}
	}
}

func TestStartTaskShortageLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(70))

	_, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false)
	var shortage domain.ShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("err = %v, want ShortageError", err)
	}
	if len(shortage.Shortages) != 1 {
		t.Fatalf("shortages = %d, want 1", len(shortage.Shortages))
	}
	msg := shortage.Shortages[0].Message
	if !strings.Contains(msg, "Elution Buffer") || !strings.Contains(msg, "40.00") {
		t.Fatalf("unexpected shortage message %q", msg)
	}

	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 100 {
		t.Fatalf("stock mutated to %v on failed start", item.AmountAvailable)
	}
	if n := len(f.svc.Store().ListTransfers()); n != 0 {
		t.Fatalf("transfers created on failed start: %d", n)
	}
	if n := len(f.svc.Store().ListDataEntries()); n != 0 {
		t.Fatalf("entries created on failed start: %d", n)
	}
	run, _ := f.svc.GetRun(f.run.ID)
	if run.TaskInProgress {
		t.Fatal("run locked after failed start")
	}
}

func TestStartTaskCheckModeReportsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(70))

	report, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, true)
	if err != nil {
		t.Fatalf("check should not fail on shortage: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("report errors = %d, want 1", len(report.Errors))
	}
	if report.TaskRunID != "" {
		t.Fatal("check mode must not start the task")
	}
	if len(report.Requirements) != 1 || report.Requirements[0].Amount != 140 {
		t.Fatalf("unexpected requirements %+v", report.Requirements)
	}

	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 100 {
		t.Fatalf("check mode mutated stock to %v", item.AmountAvailable)
	}
	run, _ := f.svc.GetRun(f.run.ID)
	if run.TaskInProgress {
		t.Fatal("check mode locked the run")
	}
}

func TestStartTaskWhileInProgress(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false)
	var lock domain.LockViolationError
	if !errors.As(err, &lock) {
		t.Fatalf("err = %v, want LockViolationError", err)
	}
	if !lock.InProgress {
		t.Fatal("violation should report the task as in progress")
	}
}

func TestCancelTaskRestoresInventory(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	run, _, err := f.svc.CancelTask(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 100 {
		t.Fatalf("stock = %v after cancel, want 100", item.AmountAvailable)
	}
	if n := len(f.svc.Store().ListTransfers()); n != 0 {
		t.Fatalf("transfers remaining after cancel: %d", n)
	}
	if n := len(f.svc.Store().ListDataEntries()); n != 0 {
		t.Fatalf("entries remaining after cancel: %d", n)
	}
	if run.TaskInProgress || run.HasStarted || run.TaskRunID != nil {
		t.Fatalf("run not reset: %+v", run)
	}
	if run.CurrentTask != 0 {
		t.Fatalf("cancel advanced the task index to %d", run.CurrentTask)
	}

	// The run can start again cleanly.
	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}
}

func TestCancelTaskRequiresTaskInProgress(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	_, _, err := f.svc.CancelTask(ctx, f.run.ID)
	var lock domain.LockViolationError
	if !errors.As(err, &lock) {
		t.Fatalf("err = %v, want LockViolationError", err)
	}
}

func TestFinishTaskCreatesOutputsAndTerminates(t *testing.T) {
	ctx := context.Background()
	template := bufferTemplate(20)
	template.OutputFields = []domain.OutputField{
		{Label: "Purified DNA", Amount: 15, Measure: "uL", LookupType: "Reagent"},
	}
	f := setupFixture(t, template)

	report, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	run, _, err := f.svc.FinishTask(ctx, f.run.ID, nil, nil, "")
	if err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	if run.TaskInProgress {
		t.Fatal("run still locked after finish")
	}
	if run.IsActive {
		t.Fatal("single task run should terminate on finish")
	}
	if run.DateFinished == nil {
		t.Fatal("terminal run has no finish date")
	}

	for _, tr := range f.svc.Store().ListTransfers() {
		if !tr.HasTaken {
			t.Fatalf("transfer %s not sealed at finish", tr.ID)
		}
		if tr.AmountAvailable == 0 && !tr.TransferComplete {
			t.Fatalf("drained transfer %s not completed", tr.ID)
		}
	}

	var outputs []Item
	for _, item := range f.svc.Store().ListItems() {
		if item.ID != f.buffer.ID {
			outputs = append(outputs, item)
		}
	}
	if len(outputs) != 2 {
		t.Fatalf("output items = %d, want one per product", len(outputs))
	}
	for _, out := range outputs {
		if !strings.HasSuffix(out.Name, "Purified DNA") {
			t.Fatalf("output name = %q", out.Name)
		}
		if !strings.Contains(out.Identifier, run.ID) {
			t.Fatalf("output identifier %q does not reference the run", out.Identifier)
		}
		if out.AmountAvailable != 15 || out.AmountMeasure != "uL" {
			t.Fatalf("output amount = %v %s", out.AmountAvailable, out.AmountMeasure)
		}
		if out.Location != "Lab" {
			t.Fatalf("output location = %q, want default Lab", out.Location)
		}
	}

	for _, e := range f.svc.Store().ListDataEntries() {
		if e.TaskRunID != report.TaskRunID {
			continue
		}
		if e.State != domain.EntrySucceeded {
			t.Fatalf("entry state = %q, want succeeded", e.State)
		}
	}
}

func TestFinishTaskSplitsFailedProducts(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	run, _, err := f.svc.FinishTask(ctx, f.run.ID, []string{f.p2.ID}, nil, "failed QC")
	if err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	if len(run.ProductIDs) != 1 || run.ProductIDs[0] != f.p1.ID {
		t.Fatalf("surviving products = %v", run.ProductIDs)
	}

	var failedRun *Run
	for _, r := range f.svc.Store().ListRuns() {
		if r.Name == "Extraction 1 (failed)" {
			cp := r
			failedRun = &cp
		}
	}
	if failedRun == nil {
		t.Fatal("no failed run created")
	}
	if len(failedRun.ProductIDs) != 1 || failedRun.ProductIDs[0] != f.p2.ID {
		t.Fatalf("failed run products = %v", failedRun.ProductIDs)
	}
	if !failedRun.IsActive || !failedRun.HasStarted {
		t.Fatalf("failed run flags: active=%v started=%v", failedRun.IsActive, failedRun.HasStarted)
	}
	if failedRun.CurrentTask != 0 {
		t.Fatalf("failed run restarts at %d, want current task", failedRun.CurrentTask)
	}

	for _, e := range f.svc.Store().ListDataEntries() {
		switch e.ProductID {
		case f.p1.ID:
			if e.State != domain.EntrySucceeded {
				t.Fatalf("surviving entry state = %q", e.State)
			}
		case f.p2.ID:
			if e.State != domain.EntryFailed {
				t.Fatalf("failed entry state = %q", e.State)
			}
			if e.Notes != "failed QC" {
				t.Fatalf("failed entry notes = %q", e.Notes)
			}
		}
	}
}

func TestFinishTaskRejectsUnknownFailures(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	_, _, err := f.svc.FinishTask(ctx, f.run.ID, []string{"bogus"}, nil, "")
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestFinishTaskOutputProvenance(t *testing.T) {
	ctx := context.Background()
	template := TaskTemplate{
		Name:                "Digest",
		ProductInput:        "Reagent",
		ProductInputAmount:  10,
		ProductInputMeasure: "uL",
		LabwareNotRequired:  true,
		OutputFields: []domain.OutputField{
			{Label: "Digested", Amount: 5, Measure: "uL", LookupType: "Reagent"},
		},
	}
	f := setupFixture(t, template)

	// Link the buffer to product one so it is consumed as the product input.
	if _, _, err := f.svc.LinkItemToProduct(ctx, f.p1.ID, f.buffer.ID); err != nil {
		t.Fatalf("LinkItemToProduct: %v", err)
	}

	values := valuesFromTemplate(f.task)
	if _, _, err := f.svc.StartTask(ctx, f.run.ID, &values, nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, _, err := f.svc.FinishTask(ctx, f.run.ID, nil, nil, ""); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}

	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 90 {
		t.Fatalf("product input debit wrong, stock = %v", item.AmountAvailable)
	}

	var found bool
	for _, out := range f.svc.Store().ListItems() {
		if strings.HasSuffix(out.Name, "Digested") && strings.HasPrefix(out.Name, "P1") {
			found = true
			if len(out.CreatedFromIDs) != 1 || out.CreatedFromIDs[0] != f.buffer.ID {
				t.Fatalf("output provenance = %v, want [%s]", out.CreatedFromIDs, f.buffer.ID)
			}
		}
	}
	if !found {
		t.Fatal("no output item created for product one")
	}
}

func TestConcurrentStartsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine())

	if _, _, err := svc.CreateMeasure(ctx, AmountMeasure{Name: "microlitre", Symbol: "uL"}); err != nil {
		t.Fatalf("CreateMeasure: %v", err)
	}
	if _, _, err := svc.CreateItemType(ctx, ItemType{Name: "Reagent"}); err != nil {
		t.Fatalf("CreateItemType: %v", err)
	}
	item, _, err := svc.CreateItem(ctx, Item{
		Name: "Scarce Enzyme", Identifier: "SE1", ItemType: "Reagent",
		AmountAvailable: 5, AmountMeasure: "uL",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	task, _, err := svc.CreateTaskTemplate(ctx, bufferTemplate(5))
	if err != nil {
		t.Fatalf("CreateTaskTemplate: %v", err)
	}
	workflow, _, err := svc.CreateWorkflow(ctx, Workflow{Name: "Scarce", TaskIDs: []string{task.ID}})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	runIDs := make([]string, 2)
	for i := range runIDs {
		p, _, err := svc.CreateProduct(ctx, Product{Identifier: "P", Name: "Sample"})
		if err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
		run, _, err := svc.CreateRun(ctx, workflow.ID, Run{Name: "Race", ProductIDs: []string{p.ID}})
		if err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		runIDs[i] = run.ID
	}

	values := valuesFromTemplate(task)
	values.InputFields[0].ItemID = item.ID

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, runID := range runIDs {
		wg.Add(1)
		go func(i int, runID string) {
			defer wg.Done()
			v := cloneValues(values)
			_, _, results[i] = svc.StartTask(ctx, runID, &v, nil, false)
		}(i, runID)
	}
	wg.Wait()

	var wins, shortages int
	for _, err := range results {
		var shortage domain.ShortageError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &shortage):
			shortages++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || shortages != 1 {
		t.Fatalf("wins=%d shortages=%d, want exactly one of each", wins, shortages)
	}

	final, _ := svc.GetItem(item.ID)
	if final.AmountAvailable != 0 {
		t.Fatalf("stock = %v, want exact drain to 0", final.AmountAvailable)
	}
}

func TestEquipmentLocking(t *testing.T) {
	ctx := context.Background()
	template := bufferTemplate(10)
	template.CapableEquipment = []string{"OT-2"}
	f := setupFixture(t, template)

	if _, _, err := f.svc.CreateEquipment(ctx, Equipment{Name: "OT-2", Status: domain.EquipmentIdle}); err != nil {
		t.Fatalf("CreateEquipment: %v", err)
	}

	p3, _, err := f.svc.CreateProduct(ctx, Product{Identifier: "P3", Name: "Sample Three"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	workflow, _, err := f.svc.CreateWorkflow(ctx, Workflow{Name: "Second", TaskIDs: []string{f.task.ID}})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	other, _, err := f.svc.CreateRun(ctx, workflow.ID, Run{Name: "Extraction 2", ProductIDs: []string{p3.ID}})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	values := f.bufferValues()
	values.EquipmentChoice = "OT-2"

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, values, nil, false); err != nil {
		t.Fatalf("first start: %v", err)
	}
	eq, _ := f.svc.Store().GetEquipment("OT-2")
	if eq.Status != domain.EquipmentActive {
		t.Fatalf("equipment status = %q, want active", eq.Status)
	}

	otherValues := f.bufferValues()
	otherValues.EquipmentChoice = "OT-2"
	_, _, err = f.svc.StartTask(ctx, other.ID, otherValues, nil, false)
	var busy domain.ResourceBusyError
	if !errors.As(err, &busy) {
		t.Fatalf("err = %v, want ResourceBusyError", err)
	}

	if _, _, err := f.svc.FinishTask(ctx, f.run.ID, nil, nil, ""); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	eq, _ = f.svc.Store().GetEquipment("OT-2")
	if eq.Status != domain.EquipmentIdle {
		t.Fatalf("equipment not released, status = %q", eq.Status)
	}

	// Released equipment is acquirable by the waiting run.
	if _, _, err := f.svc.StartTask(ctx, other.ID, otherValues, nil, false); err != nil {
		t.Fatalf("start after release: %v", err)
	}
}

func TestMonitorTask(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	_, active, err := f.svc.MonitorTask(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}
	if active {
		t.Fatal("no task in progress yet")
	}

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	monitor, active, err := f.svc.MonitorTask(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}
	if !active {
		t.Fatal("task should be live")
	}
	if len(monitor.Transfers) != 1 || len(monitor.Entries) != 2 {
		t.Fatalf("monitor transfers=%d entries=%d", len(monitor.Transfers), len(monitor.Entries))
	}

	// Monitoring is read only; a second call sees identical state.
	again, _, err := f.svc.MonitorTask(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}
	if len(again.Transfers) != 1 || len(again.Entries) != 2 {
		t.Fatal("monitor mutated state")
	}

	if _, _, err := f.svc.FinishTask(ctx, f.run.ID, nil, nil, ""); err != nil {
		t.Fatalf("FinishTask: %v", err)
	}
	_, active, err = f.svc.MonitorTask(ctx, f.run.ID)
	if err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}
	if active {
		t.Fatal("finished run still reports a live task")
	}
}

func TestBarcodeDemandMergesIntoOpenTransfer(t *testing.T) {
	ctx := context.Background()
	template := bufferTemplate(20)
	template.InputFields[0].Label = "Master Mix"
	f := setupFixture(t, template)

	// Seed an already sealed container pool for the buffer on plate PL1.
	_, err := f.svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateTransfer(ItemTransfer{
			ItemID:          f.buffer.ID,
			AmountTaken:     60,
			AmountAvailable: 60,
			Measure:         "uL",
			Barcode:         "PL1",
			Coordinates:     "A1",
			HasTaken:        true,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed transfer: %v", err)
	}

	values := f.bufferValues()
	values.InputFields[0].DestinationBarcode = "PL1"
	values.InputFields[0].DestinationCoordinates = "A1"

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, values, nil, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	transfers := f.svc.Store().ListTransfers()
	if len(transfers) != 1 {
		t.Fatalf("transfers = %d, want the merged pool only", len(transfers))
	}
	pool := transfers[0]
	if pool.AmountAvailable != 20 {
		t.Fatalf("pool = %v after drawing 40 from 60", pool.AmountAvailable)
	}
	if pool.AmountToTake != 40 {
		t.Fatalf("pool adjustment = %v, want 40", pool.AmountToTake)
	}

	// The sealed pool was debited, not the item stock.
	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 100 {
		t.Fatalf("item stock = %v, want untouched 100", item.AmountAvailable)
	}

	// Cancelling returns the draw to the pool and keeps the record.
	if _, _, err := f.svc.CancelTask(ctx, f.run.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	transfers = f.svc.Store().ListTransfers()
	if len(transfers) != 1 || transfers[0].AmountAvailable != 60 {
		t.Fatalf("pool not restored: %+v", transfers)
	}
}

func TestAutoFindInputResolvesByProperty(t *testing.T) {
	ctx := context.Background()
	template := bufferTemplate(10)
	template.InputFields[0].Label = "DNA"
	template.InputFields[0].AutoFindInInventory = true
	f := setupFixture(t, template)

	dna, _, err := f.svc.CreateItem(ctx, Item{
		Name: "Extracted DNA", Identifier: "DNA1", ItemType: "Reagent",
		AmountAvailable: 50, AmountMeasure: "uL",
		Properties: map[string]string{"task_input": "P1/DNA"},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	values := valuesFromTemplate(f.task)
	_, _, err = f.svc.StartTask(ctx, f.run.ID, &values, nil, false)
	// Product two has no tagged item, so resolution fails as a whole.
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError for product two", err)
	}

	dna2, _, err := f.svc.CreateItem(ctx, Item{
		Name: "Extracted DNA 2", Identifier: "DNA2", ItemType: "Reagent",
		AmountAvailable: 50, AmountMeasure: "uL",
		Properties: map[string]string{"task_input": "P2/DNA"},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, &values, nil, false); err != nil {
		t.Fatalf("StartTask with tagged items: %v", err)
	}

	first, _ := f.svc.GetItem(dna.ID)
	second, _ := f.svc.GetItem(dna2.ID)
	if first.AmountAvailable != 40 || second.AmountAvailable != 40 {
		t.Fatalf("auto-found debits = %v, %v, want 40 each", first.AmountAvailable, second.AmountAvailable)
	}
}

func TestStartTaskFileOverridesFieldAmounts(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t, bufferTemplate(20))

	file := InputFile{
		Name: "amounts.csv",
		Template: filetemplate.Template{
			Name:              "amounts",
			IdentifierColumns: []string{"Identifier"},
			Columns:           []string{"Buffer"},
		},
		Data: []byte("Identifier,Buffer\nP1,30\nP2,10\n"),
	}

	if _, _, err := f.svc.StartTask(ctx, f.run.ID, f.bufferValues(), []InputFile{file}, false); err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	item, _ := f.svc.GetItem(f.buffer.ID)
	if item.AmountAvailable != 60 {
		t.Fatalf("stock = %v, want 60 after 30+10 debit", item.AmountAvailable)
	}

	// Per product amounts follow the file, not the template default.
	for _, e := range f.svc.Store().ListDataEntries() {
		want := 30.0
		if e.ProductID == f.p2.ID {
			want = 10.0
		}
		if got := e.Data.InputFields[0].Amount; got != want {
			t.Fatalf("entry amount for %s = %v, want %v", e.ProductID, got, want)
		}
	}
}

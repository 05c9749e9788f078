package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yunaamelia/debian-vps-workstation/pkg/rollback"
	"github.com/yunaamelia/debian-vps-workstation/pkg/telemetry"
)

// memActionStore is an in-memory rollback backend.
type memActionStore struct {
	mu      sync.Mutex
	actions []rollback.Action
}

func (s *memActionStore) AppendAction(ctx context.Context, installationID string, action *rollback.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, *action)
	return nil
}

func (s *memActionStore) ActionsByOwner(ctx context.Context, installationID, owner string) ([]rollback.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rollback.Action
	for _, a := range s.actions {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memActionStore) AllActions(ctx context.Context, installationID string) ([]rollback.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rollback.Action(nil), s.actions...), nil
}

func (s *memActionStore) MarkConsumed(ctx context.Context, installationID string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].Sequence == sequence {
			s.actions[i].Consumed = true
			return nil
		}
	}
	return fmt.Errorf("sequence %d not found", sequence)
}

func (s *memActionStore) MaxSequence(ctx context.Context, installationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, a := range s.actions {
		if a.Sequence > max {
			max = a.Sequence
		}
	}
	return max, nil
}

// cmdUndoer records replayed compensating commands.
type cmdUndoer struct {
	mu    sync.Mutex
	calls []string
}

func (u *cmdUndoer) RunCommand(ctx context.Context, argv []string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, argv[0])
	return nil
}

func (u *cmdUndoer) RemovePackages(ctx context.Context, packages []string) error { return nil }
func (u *cmdUndoer) RestoreFile(ctx context.Context, backup, dest string) error  { return nil }
func (u *cmdUndoer) StopService(ctx context.Context, unit string, d bool) error  { return nil }
func (u *cmdUndoer) DeleteUser(ctx context.Context, name string) error           { return nil }
func (u *cmdUndoer) RemoveSymlink(ctx context.Context, link string) error        { return nil }

func (u *cmdUndoer) undone() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.calls...)
}

// memCheckpoints is an in-memory checkpoint store.
type memCheckpoints struct {
	mu    sync.Mutex
	saved []*Checkpoint
}

func (c *memCheckpoints) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, cp)
	return nil
}

func (c *memCheckpoints) LatestCheckpoint(ctx context.Context, installationID string) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.saved) == 0 {
		return nil, nil
	}
	return c.saved[len(c.saved)-1], nil
}

// fakeModule drives the lifecycle with scripted outcomes. Configure records
// one compensating action named after the module so tests can observe
// rollback order.
type fakeModule struct {
	name        string
	failStage   Stage
	skipLedger  bool
	mu          sync.Mutex
	stagesSeen  []Stage
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) saw(stage Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stagesSeen = append(m.stagesSeen, stage)
}

func (m *fakeModule) ran(stage Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stagesSeen {
		if s == stage {
			return true
		}
	}
	return false
}

func (m *fakeModule) Validate(ctx context.Context, rc *RunContext) (bool, error) {
	m.saw(StageValidate)
	if m.failStage == StageValidate {
		return false, errors.New("scripted validate failure")
	}
	return true, nil
}

func (m *fakeModule) Configure(ctx context.Context, rc *RunContext) error {
	m.saw(StageConfigure)
	if !m.skipLedger {
		err := rc.Ledger.Record(ctx, m.name, rollback.KindRunCommand,
			rollback.RunCommandPayload{Argv: []string{"undo-" + m.name}})
		if err != nil {
			return err
		}
	}
	if m.failStage == StageConfigure {
		return errors.New("scripted configure failure")
	}
	return nil
}

func (m *fakeModule) Verify(ctx context.Context, rc *RunContext) (bool, error) {
	m.saw(StageVerify)
	if m.failStage == StageVerify {
		return false, errors.New("scripted verify failure")
	}
	return true, nil
}

type harness struct {
	rc          *RunContext
	undoer      *cmdUndoer
	checkpoints *memCheckpoints
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	undoer := &cmdUndoer{}
	ledger, err := rollback.NewLedger(context.Background(), "test-install", &memActionStore{}, undoer, log, nil)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	checkpoints := &memCheckpoints{}
	return &harness{
		rc: &RunContext{
			InstallationID: "test-install",
			MaxWorkers:     4,
			LargeCost:      80,
			Ledger:         ledger,
			Checkpoints:    checkpoints,
			Log:            log,
		},
		undoer:      undoer,
		checkpoints: checkpoints,
	}
}

func run(t *testing.T, h *harness, specs []ModuleSpec, mods map[string]Module) (*RunReport, error) {
	t.Helper()
	batches, err := NewScheduler().Schedule(specs)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return NewHybridExecutor(h.rc).Run(context.Background(), specs, batches, mods)
}

func TestExecutorRunsAllModules(t *testing.T) {
	h := newHarness(t)
	specs := []ModuleSpec{
		spec("base", 1),
		spec("app", 1, "base"),
	}
	mods := map[string]Module{
		"base": &fakeModule{name: "base"},
		"app":  &fakeModule{name: "app"},
	}

	report, err := run(t, h, specs, mods)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != RunSucceeded {
		t.Fatalf("status = %s, want %s", report.Status, RunSucceeded)
	}
	for name, mr := range report.Runs {
		if mr.Status != StatusSucceeded {
			t.Fatalf("module %s status = %s, want %s", name, mr.Status, StatusSucceeded)
		}
	}
	// One checkpoint per batch.
	if len(h.checkpoints.saved) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(h.checkpoints.saved))
	}
	last := h.checkpoints.saved[1]
	if last.CompletedBatchIndex != 1 || len(last.CompletedModules) != 2 {
		t.Fatalf("final checkpoint = %+v", last)
	}
}

func TestExecutorNonMandatoryFailureSkipsDependents(t *testing.T) {
	h := newHarness(t)
	specs := []ModuleSpec{
		spec("base", 1),
		spec("broken", 1, "base"),
		spec("leaf", 1, "broken"),
		spec("bystander", 1, "base"),
	}
	mods := map[string]Module{
		"base":      &fakeModule{name: "base"},
		"broken":    &fakeModule{name: "broken", failStage: StageConfigure},
		"leaf":      &fakeModule{name: "leaf"},
		"bystander": &fakeModule{name: "bystander"},
	}

	report, err := run(t, h, specs, mods)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != RunPartial {
		t.Fatalf("status = %s, want %s", report.Status, RunPartial)
	}
	if report.Runs["broken"].Status != StatusFailed {
		t.Fatalf("broken status = %s, want %s", report.Runs["broken"].Status, StatusFailed)
	}
	if report.Runs["leaf"].Status != StatusSkipped {
		t.Fatalf("leaf status = %s, want %s", report.Runs["leaf"].Status, StatusSkipped)
	}
	if dep := report.Skipped["leaf"]; dep != "broken" {
		t.Fatalf("leaf skip reason = %q, want broken", dep)
	}
	if report.Runs["bystander"].Status != StatusSucceeded {
		t.Fatalf("bystander status = %s, want %s", report.Runs["bystander"].Status, StatusSucceeded)
	}
	if mods["leaf"].(*fakeModule).ran(StageValidate) {
		t.Fatal("skipped module must not run any stage")
	}

	// Only the failed module's action is undone.
	if got := h.undoer.undone(); len(got) != 1 || got[0] != "undo-broken" {
		t.Fatalf("undone = %v, want [undo-broken]", got)
	}
}

func TestExecutorSkipPropagatesThroughSkipped(t *testing.T) {
	h := newHarness(t)
	specs := []ModuleSpec{
		spec("broken", 1),
		spec("child", 1, "broken"),
		spec("grandchild", 1, "child"),
	}
	mods := map[string]Module{
		"broken":     &fakeModule{name: "broken", failStage: StageVerify},
		"child":      &fakeModule{name: "child"},
		"grandchild": &fakeModule{name: "grandchild"},
	}

	report, err := run(t, h, specs, mods)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Runs["child"].Status != StatusSkipped {
		t.Fatalf("child status = %s, want %s", report.Runs["child"].Status, StatusSkipped)
	}
	if report.Runs["grandchild"].Status != StatusSkipped {
		t.Fatalf("grandchild status = %s, want %s", report.Runs["grandchild"].Status, StatusSkipped)
	}
	if dep := report.Skipped["grandchild"]; dep != "child" {
		t.Fatalf("grandchild skip reason = %q, want child", dep)
	}
}

func TestExecutorMandatoryFailureAbortsAndRollsBack(t *testing.T) {
	h := newHarness(t)
	critical := spec("critical", 2, "base")
	critical.Mandatory = true
	specs := []ModuleSpec{
		spec("base", 1),
		critical,
		spec("later", 1, "critical"),
	}
	mods := map[string]Module{
		"base":     &fakeModule{name: "base"},
		"critical": &fakeModule{name: "critical", failStage: StageConfigure},
		"later":    &fakeModule{name: "later"},
	}

	report, err := run(t, h, specs, mods)
	if err == nil {
		t.Fatal("Run should return the abort cause")
	}
	if report.Status != RunFailed || !report.Fatal {
		t.Fatalf("status = %s fatal = %v, want %s/true", report.Status, report.Fatal, RunFailed)
	}
	if report.Runs["base"].Status != StatusRolledBack {
		t.Fatalf("base status = %s, want %s", report.Runs["base"].Status, StatusRolledBack)
	}
	if report.Runs["later"].Status != StatusPending {
		t.Fatalf("later status = %s, want %s (never reached)", report.Runs["later"].Status, StatusPending)
	}
	if mods["later"].(*fakeModule).ran(StageValidate) {
		t.Fatal("module after the aborted batch must not run")
	}

	// The failed module is undone first, then the whole-run replay covers
	// base. Replay is idempotent, so undo-critical appears once.
	undone := h.undoer.undone()
	want := map[string]bool{"undo-critical": true, "undo-base": true}
	if len(undone) != 2 {
		t.Fatalf("undone = %v, want exactly undo-critical and undo-base", undone)
	}
	for _, call := range undone {
		if !want[call] {
			t.Fatalf("unexpected undo call %q", call)
		}
	}
}

func TestExecutorValidateFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	specs := []ModuleSpec{spec("picky", 1)}
	mods := map[string]Module{
		"picky": &fakeModule{name: "picky", failStage: StageValidate, skipLedger: true},
	}

	report, err := run(t, h, specs, mods)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Runs["picky"].Status != StatusFailed {
		t.Fatalf("status = %s, want %s", report.Runs["picky"].Status, StatusFailed)
	}
	if got := h.undoer.undone(); len(got) != 0 {
		t.Fatalf("validate failure triggered rollback: %v", got)
	}
	if mods["picky"].(*fakeModule).ran(StageConfigure) {
		t.Fatal("configure must not run after a validate failure")
	}
}

func TestExecutorDryRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.rc.DryRun = true
	specs := []ModuleSpec{spec("base", 1)}
	mod := &fakeModule{name: "base"}

	report, err := run(t, h, specs, map[string]Module{"base": mod})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != RunSucceeded {
		t.Fatalf("status = %s, want %s", report.Status, RunSucceeded)
	}
	if mod.ran(StageConfigure) || mod.ran(StageVerify) {
		t.Fatal("dry run must stop after validation")
	}
	if len(h.checkpoints.saved) != 0 {
		t.Fatalf("dry run wrote %d checkpoints", len(h.checkpoints.saved))
	}
	if h.rc.Ledger.LastSequence() != 0 {
		t.Fatal("dry run recorded ledger actions")
	}
}

func TestExecutorResumeSkipsCheckpointedBatches(t *testing.T) {
	h := newHarness(t)
	h.rc.Resume = true
	h.checkpoints.saved = []*Checkpoint{{
		InstallationID:      "test-install",
		CompletedBatchIndex: 0,
		CompletedModules:    []string{"base"},
	}}

	specs := []ModuleSpec{
		spec("base", 1),
		spec("app", 1, "base"),
	}
	baseMod := &fakeModule{name: "base"}
	appMod := &fakeModule{name: "app"}

	report, err := run(t, h, specs, map[string]Module{"base": baseMod, "app": appMod})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if baseMod.ran(StageValidate) {
		t.Fatal("checkpointed module must not run again")
	}
	if !appMod.ran(StageConfigure) {
		t.Fatal("module after the checkpoint must run")
	}
	if report.Runs["base"].Status != StatusSucceeded {
		t.Fatalf("base status = %s, want %s (from checkpoint)", report.Runs["base"].Status, StatusSucceeded)
	}
	if report.Status != RunSucceeded {
		t.Fatalf("status = %s, want %s", report.Status, RunSucceeded)
	}
}

func TestExecutorRoutesByCostAndFlag(t *testing.T) {
	h := newHarness(t)
	heavy := spec("heavy", 1)
	heavy.Cost = 90
	seq := spec("seq", 2)
	seq.ForceSequential = true
	specs := []ModuleSpec{spec("light", 1), heavy, seq}

	mods := map[string]Module{
		"light": &fakeModule{name: "light"},
		"heavy": &fakeModule{name: "heavy"},
		"seq":   &fakeModule{name: "seq"},
	}

	report, err := run(t, h, specs, mods)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Runs["light"].Path; got != PathParallel {
		t.Fatalf("light path = %s, want %s", got, PathParallel)
	}
	if got := report.Runs["heavy"].Path; got != PathPipeline {
		t.Fatalf("heavy path = %s, want %s", got, PathPipeline)
	}
	if got := report.Runs["seq"].Path; got != PathPipeline {
		t.Fatalf("seq path = %s, want %s", got, PathPipeline)
	}
}

func TestExecutorCancellationRollsBack(t *testing.T) {
	h := newHarness(t)
	specs := []ModuleSpec{
		spec("base", 1),
		spec("app", 1, "base"),
	}
	mods := map[string]Module{
		"base": &fakeModule{name: "base"},
		"app":  &fakeModule{name: "app"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	batches, err := NewScheduler().Schedule(specs)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Cancel between batches: the first batch's module completes, then the
	// executor sees the cancelled context before starting the second batch.
	mods["base"] = &cancelAfterVerify{inner: &fakeModule{name: "base"}, cancel: cancel}

	report, err := NewHybridExecutor(h.rc).Run(ctx, specs, batches, mods)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if report.Status != RunCancelled {
		t.Fatalf("status = %s, want %s", report.Status, RunCancelled)
	}
	// base succeeded, then the abort replay rolled it back.
	if report.Runs["base"].Status != StatusRolledBack {
		t.Fatalf("base status = %s, want %s", report.Runs["base"].Status, StatusRolledBack)
	}
	if got := h.undoer.undone(); len(got) != 1 || got[0] != "undo-base" {
		t.Fatalf("undone = %v, want [undo-base]", got)
	}
}

func TestExecutorCancellationDuringMandatoryFailureReportsCancelled(t *testing.T) {
	h := newHarness(t)
	critical := spec("critical", 2, "base")
	critical.Mandatory = true
	specs := []ModuleSpec{
		spec("base", 1),
		critical,
	}

	ctx, cancel := context.WithCancel(context.Background())
	batches, err := NewScheduler().Schedule(specs)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// The mandatory module dies because the run context is cancelled under
	// it. That is a cancellation, not a fatal failure.
	mods := map[string]Module{
		"base": &fakeModule{name: "base"},
		"critical": &cancelThenFailConfigure{
			inner:  &fakeModule{name: "critical", failStage: StageConfigure},
			cancel: cancel,
		},
	}

	report, err := NewHybridExecutor(h.rc).Run(ctx, specs, batches, mods)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if report.Status != RunCancelled {
		t.Fatalf("status = %s, want %s", report.Status, RunCancelled)
	}
	if report.Fatal {
		t.Fatal("cancellation must not be reported as fatal")
	}

	// Rollback is unchanged: both recorded actions are compensated, the
	// failed module's exactly once.
	undone := h.undoer.undone()
	want := map[string]bool{"undo-critical": true, "undo-base": true}
	if len(undone) != 2 {
		t.Fatalf("undone = %v, want exactly undo-critical and undo-base", undone)
	}
	for _, call := range undone {
		if !want[call] {
			t.Fatalf("unexpected undo call %q", call)
		}
	}
}

func TestExecutorRollbackOverrideConsumesLedgerEntries(t *testing.T) {
	h := newHarness(t)
	ovr := spec("ovr", 2, "base")
	ovr.Mandatory = true
	specs := []ModuleSpec{
		spec("base", 1),
		ovr,
	}

	ovrMod := &overrideModule{fakeModule: fakeModule{name: "ovr", failStage: StageConfigure}}
	mods := map[string]Module{
		"base": &fakeModule{name: "base"},
		"ovr":  ovrMod,
	}

	report, err := run(t, h, specs, mods)
	if err == nil {
		t.Fatal("Run should return the abort cause")
	}
	if report.Status != RunFailed {
		t.Fatalf("status = %s, want %s", report.Status, RunFailed)
	}
	if ovrMod.rollbackCalls != 1 {
		t.Fatalf("Rollback called %d times, want 1", ovrMod.rollbackCalls)
	}

	// The override compensated for undo-ovr; the whole-run replay must not
	// apply it a second time on top.
	if got := h.undoer.undone(); len(got) != 1 || got[0] != "undo-base" {
		t.Fatalf("undone = %v, want [undo-base]", got)
	}
}

// cancelAfterVerify cancels the run context once its inner module has
// completed its whole lifecycle successfully.
type cancelAfterVerify struct {
	inner  *fakeModule
	cancel context.CancelFunc
}

func (m *cancelAfterVerify) Name() string { return m.inner.Name() }

func (m *cancelAfterVerify) Validate(ctx context.Context, rc *RunContext) (bool, error) {
	return m.inner.Validate(ctx, rc)
}

func (m *cancelAfterVerify) Configure(ctx context.Context, rc *RunContext) error {
	return m.inner.Configure(ctx, rc)
}

func (m *cancelAfterVerify) Verify(ctx context.Context, rc *RunContext) (bool, error) {
	ok, err := m.inner.Verify(ctx, rc)
	if err == nil && ok {
		m.cancel()
	}
	return ok, err
}

// cancelThenFailConfigure cancels the run context at the top of its configure
// stage and then fails it, modelling a module interrupted mid-apply by a
// shutdown signal.
type cancelThenFailConfigure struct {
	inner  *fakeModule
	cancel context.CancelFunc
}

func (m *cancelThenFailConfigure) Name() string { return m.inner.Name() }

func (m *cancelThenFailConfigure) Validate(ctx context.Context, rc *RunContext) (bool, error) {
	return m.inner.Validate(ctx, rc)
}

func (m *cancelThenFailConfigure) Configure(ctx context.Context, rc *RunContext) error {
	m.cancel()
	return m.inner.Configure(ctx, rc)
}

func (m *cancelThenFailConfigure) Verify(ctx context.Context, rc *RunContext) (bool, error) {
	return m.inner.Verify(ctx, rc)
}

// overrideModule compensates through its own Rollback instead of ledger
// replay.
type overrideModule struct {
	fakeModule
	rollbackCalls int
}

func (m *overrideModule) Rollback(ctx context.Context, rc *RunContext) error {
	m.rollbackCalls++
	return nil
}

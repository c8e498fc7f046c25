package state_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []state.ExecutionState
	err   error
}

func (r *recordingSaver) Save(s state.ExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return r.err
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func TestExecutionState_Clone(t *testing.T) {
	s := state.New("demo", "run-1")
	s.BeginStage("build")
	s.CompleteStage("build")
	s.Metadata["k"] = "v"

	c := s.Clone()
	c.CompletedStages[0] = "mutated"
	*c.CurrentStage = "mutated"
	c.Metadata["k"] = "mutated"

	if s.CompletedStages[0] != "build" {
		t.Errorf("clone shares CompletedStages backing array")
	}
	if s.CurrentStageName() != "build" {
		t.Errorf("clone shares CurrentStage pointer")
	}
	if s.Metadata["k"] != "v" {
		t.Errorf("clone shares Metadata map")
	}
}

func TestExecutionState_CompleteStageOnce(t *testing.T) {
	s := state.New("demo", "run-1")
	s.CompleteStage("build")
	s.CompleteStage("build")
	s.MarkDeployed("db")
	s.MarkDeployed("db")

	if len(s.CompletedStages) != 1 {
		t.Errorf("expected 1 completed stage, got %v", s.CompletedStages)
	}
	if len(s.DeployedServices) != 1 {
		t.Errorf("expected 1 deployed service, got %v", s.DeployedServices)
	}
}

func TestTracker_UpdatePersistsEachMutation(t *testing.T) {
	saver := &recordingSaver{}
	tr := state.NewTracker(state.New("demo", "run-1"), saver, nil)

	if err := tr.Update(func(s *state.ExecutionState) { s.Status = types.StatusRunning }); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := tr.Update(func(s *state.ExecutionState) { s.BeginStage("build") }); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if saver.count() != 2 {
		t.Errorf("expected 2 saves, got %d", saver.count())
	}
	if got := tr.Snapshot().CurrentStageName(); got != "build" {
		t.Errorf("expected current stage build, got %q", got)
	}
}

func TestTracker_TransitionRules(t *testing.T) {
	tests := []struct {
		name    string
		steps   []types.PipelineStatus
		wantErr bool
	}{
		{"start then complete", []types.PipelineStatus{types.StatusRunning, types.StatusCompleted}, false},
		{"stop before start", []types.PipelineStatus{types.StatusStopped}, false},
		{"back to not started", []types.PipelineStatus{types.StatusRunning, types.StatusNotStarted}, true},
		{"unknown status", []types.PipelineStatus{"bogus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := state.NewTracker(state.New("demo", "run"), nil, nil)
			var err error
			for _, st := range tt.steps {
				status := st
				err = tr.Update(func(s *state.ExecutionState) { s.Status = status })
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTracker_NoMutationAfterTerminal(t *testing.T) {
	saver := &recordingSaver{}
	tr := state.NewTracker(state.New("demo", "run-1"), saver, nil)

	_ = tr.Update(func(s *state.ExecutionState) { s.Finish(types.StatusFailed, "boom") })
	err := tr.Update(func(s *state.ExecutionState) { s.CompleteStage("late") })

	if !errors.Is(err, state.ErrRunFinished) {
		t.Fatalf("expected ErrRunFinished, got %v", err)
	}
	snap := tr.Snapshot()
	if snap.HasCompleted("late") {
		t.Error("terminal record was mutated")
	}
	if snap.ErrorMessage() != "boom" {
		t.Errorf("expected error boom, got %q", snap.ErrorMessage())
	}
	if snap.EndTime == nil {
		t.Error("expected EndTime to be stamped")
	}
	if saver.count() != 1 {
		t.Errorf("expected 1 save, got %d", saver.count())
	}
}

func TestTracker_SaveFailureDoesNotFailUpdate(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	tr := state.NewTracker(state.New("demo", "run-1"), saver, nil)

	if err := tr.Update(func(s *state.ExecutionState) { s.Status = types.StatusRunning }); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tr.Snapshot().Status != types.StatusRunning {
		t.Error("update was not applied")
	}
}

func TestTracker_ConcurrentSnapshots(t *testing.T) {
	tr := state.NewTracker(state.New("demo", "run-1"), nil, nil)
	_ = tr.Update(func(s *state.ExecutionState) { s.Status = types.StatusRunning })

	stages := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, name := range stages {
			prev := ""
			if i > 0 {
				prev = stages[i-1]
			}
			_ = tr.Update(func(s *state.ExecutionState) {
				if prev != "" {
					s.CompleteStage(prev)
				}
				s.BeginStage(name)
			})
		}
		close(done)
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := tr.Snapshot()
				cur := snap.CurrentStageName()
				for j, name := range stages {
					if name == cur && j > 0 && !snap.HasCompleted(stages[j-1]) {
						t.Errorf("observed current=%s without %s completed", cur, stages[j-1])
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	store := state.NewFileStore(tmpDir)

	s := state.New("demo", "run-1")
	s.Status = types.StatusRunning
	s.CompleteStage("build")

	if err := store.Save(s); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	path := filepath.Join(tmpDir, "demo", "state.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file missing: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := store.Load("demo")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.Status != types.StatusRunning {
		t.Errorf("unexpected loaded state: %+v", loaded)
	}
	if !loaded.HasCompleted("build") {
		t.Error("completed stages not persisted")
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := state.NewFileStore(t.TempDir())
	if _, err := store.Load("nope"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestSQLiteStore_UpsertLatest(t *testing.T) {
	store, err := state.OpenSQLiteStore(filepath.Join(t.TempDir(), "conveyor.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer store.Close()

	first := state.New("demo", "run-1")
	second := state.New("demo", "run-2")
	second.Status = types.StatusRunning

	if err := store.Save(first); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(second); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load("demo")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RunID != "run-2" {
		t.Errorf("expected latest run-2, got %s", loaded.RunID)
	}

	if _, err := store.Load("other"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMultiSaver_JoinsErrors(t *testing.T) {
	ok := &recordingSaver{}
	bad := &recordingSaver{err: errors.New("nope")}
	m := state.MultiSaver{ok, bad}

	if err := m.Save(state.New("demo", "run")); err == nil {
		t.Error("expected joined error")
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Error("expected both savers to be called")
	}
}

// Package pipeline provides the engine that runs a pipeline's build stages
// and then deploys its services
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/poltergeist/conveyor/pkg/cancellation"
	pcontext "github.com/poltergeist/conveyor/pkg/context"
	"github.com/poltergeist/conveyor/pkg/deploy"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/stage"
	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

// DefaultWorkspace is used when neither Options nor the pipeline name one
const DefaultWorkspace = ".conveyor"

// Dependencies holds the executor's collaborators. Only Logger has a
// default; a nil Runtime is fine for pipelines without images or services.
type Dependencies struct {
	Runtime  interfaces.ContainerRuntime
	Logs     interfaces.LogSink
	Monitor  interfaces.MonitoringSink
	Store    state.Saver
	Notifier interfaces.PipelineNotifier
	Logger   logger.Logger
}

// Options configures an executor
type Options struct {
	Workspace string
	Stage     stage.Config
}

// Executor runs pipelines. It owns a single cancellation token: once Stop
// has been called every later Execute finishes as stopped.
type Executor struct {
	deps   Dependencies
	opts   Options
	logger logger.Logger
	token  *cancellation.Token

	mu      sync.RWMutex
	tracker *state.Tracker
	running bool
}

// New creates an executor
func New(deps Dependencies, opts Options) *Executor {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	if deps.Monitor == nil {
		deps.Monitor = nopMonitor{}
	}
	return &Executor{
		deps:    deps,
		opts:    opts,
		logger:  log,
		token:   cancellation.New(),
		tracker: state.NewTracker(state.New("", ""), nil, log),
	}
}

// Stop requests cancellation of the current run. It never blocks and may be
// called any number of times from any goroutine.
func (e *Executor) Stop() {
	if !e.token.Tripped() {
		e.logger.Info("Stopping pipeline...")
	}
	e.token.Trip()
}

// Status returns a consistent copy of the latest run's record
func (e *Executor) Status() state.ExecutionState {
	e.mu.RLock()
	tracker := e.tracker
	e.mu.RUnlock()
	return tracker.Snapshot()
}

// Plan resolves what Execute would do for cfg without running anything
func (e *Executor) Plan(cfg types.PipelineConfig) (Plan, error) {
	return NewPlan(cfg, e.workspace(cfg))
}

func (e *Executor) workspace(cfg types.PipelineConfig) string {
	switch {
	case cfg.Workspace != "":
		return cfg.Workspace
	case e.opts.Workspace != "":
		return e.opts.Workspace
	default:
		return DefaultWorkspace
	}
}

// Execute runs cfg to completion and reports whether it completed. The
// details of the outcome are available from Status. Cancelling ctx has the
// same effect as Stop.
func (e *Executor) Execute(ctx context.Context, cfg types.PipelineConfig) (ok bool) {
	runID := pcontext.GenerateRunID()
	tracker := state.NewTracker(state.New(cfg.Name, runID), e.deps.Store, e.logger)

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("Pipeline is already running", logger.WithField("pipeline", cfg.Name))
		return false
	}
	e.running = true
	e.tracker = tracker
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ctx = pcontext.ForRun(ctx, runID, cfg.Name)
	log := logger.WithContext(ctx, e.logger)

	stopWatch := e.token.TripOnDone(ctx)
	defer stopWatch()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			finish(tracker, types.StatusFailed, fmt.Sprintf("unexpected error: %v", r))
			ok = false
		}
		if e.deps.Notifier != nil {
			e.deps.Notifier.NotifyPipelineResult(tracker.Snapshot())
		}
	}()

	workspace := e.workspace(cfg)
	pipelineDir := filepath.Join(workspace, cfg.Name)

	if e.token.Tripped() {
		log.Warn("Pipeline cancelled before start")
		finish(tracker, types.StatusStopped, "")
		return false
	}

	if err := os.MkdirAll(pipelineDir, 0755); err != nil {
		finish(tracker, types.StatusFailed, fmt.Sprintf("failed to create workspace: %v", err))
		return false
	}

	_ = tracker.Update(func(s *state.ExecutionState) {
		s.Status = types.StatusRunning
		s.StartTime = time.Now()
		s.Metadata["workspace"] = pipelineDir
		s.Metadata["stages"] = fmt.Sprintf("%d", len(cfg.BuildStages))
		s.Metadata["services"] = fmt.Sprintf("%d", len(cfg.Services))
	})
	log.Info(fmt.Sprintf("Running pipeline %s", cfg.Name), logger.WithField("stages", len(cfg.BuildStages)))

	runner := stage.NewRunner(cfg.Name, e.opts.Stage, e.deps.Runtime, e.deps.Logs, e.logger)
	for _, st := range cfg.BuildStages {
		if !e.runStage(ctx, tracker, runner, cfg.Name, st, pipelineDir) {
			return false
		}
	}

	return e.deployServices(ctx, tracker, cfg, log)
}

// runStage runs one stage and records its outcome. It returns false when the
// run must stop.
func (e *Executor) runStage(
	ctx context.Context,
	tracker *state.Tracker,
	runner *stage.Runner,
	pipeline string,
	st types.BuildStage,
	workDir string,
) bool {
	if e.token.Tripped() {
		finish(tracker, types.StatusStopped, "")
		return false
	}

	_ = tracker.Update(func(s *state.ExecutionState) { s.BeginStage(st.Name) })

	e.deps.Monitor.StartMonitoring(pipeline, st.Name)
	if e.deps.Logs != nil {
		e.deps.Logs.StartLogging(pipeline, st.Name)
	}

	outcome := runner.Run(ctx, st, workDir, e.token)

	e.deps.Monitor.StopMonitoring(pipeline, st.Name)
	if e.deps.Logs != nil {
		if err := e.deps.Logs.SaveLogs(); err != nil {
			e.logger.Warn("Failed to save stage logs", logger.WithField("stage", st.Name), logger.WithError(err))
		}
	}

	switch outcome.Status {
	case stage.Succeeded:
		_ = tracker.Update(func(s *state.ExecutionState) { s.CompleteStage(st.Name) })
		return true
	case stage.Cancelled:
		finish(tracker, types.StatusStopped, "")
		return false
	default:
		msg := fmt.Sprintf("Stage %s failed: %v", st.Name, outcome.Err)
		_ = tracker.Update(func(s *state.ExecutionState) {
			s.FailedStages = append(s.FailedStages, st.Name)
			s.Finish(types.StatusFailed, msg)
		})
		return false
	}
}

func (e *Executor) deployServices(ctx context.Context, tracker *state.Tracker, cfg types.PipelineConfig, log logger.Logger) bool {
	if len(cfg.Services) > 0 {
		log.Info(fmt.Sprintf("Deploying %d service(s)", len(cfg.Services)))
	}

	deployer := deploy.NewDeployer(cfg.Name, e.deps.Runtime, &stateObserver{tracker: tracker, logger: log}, e.logger)
	_, err := deployer.Deploy(ctx, cfg.Services, e.token)
	switch {
	case errors.Is(err, types.ErrCancelled):
		finish(tracker, types.StatusStopped, "")
		return false
	case err != nil:
		finish(tracker, types.StatusFailed, err.Error())
		return false
	}

	_ = tracker.Update(func(s *state.ExecutionState) {
		s.CurrentStage = nil
		delete(s.Metadata, "deploying")
		s.Finish(types.StatusCompleted, "")
	})
	log.Success(fmt.Sprintf("Pipeline %s completed", cfg.Name))
	return true
}

func finish(tracker *state.Tracker, status types.PipelineStatus, msg string) {
	_ = tracker.Update(func(s *state.ExecutionState) { s.Finish(status, msg) })
}

// stateObserver records deployment progress in the run's state
type stateObserver struct {
	tracker *state.Tracker
	logger  logger.Logger
}

func (o *stateObserver) ServiceStarting(name string) {
	_ = o.tracker.Update(func(s *state.ExecutionState) { s.Metadata["deploying"] = name })
}

func (o *stateObserver) ServiceDeployed(name string) {
	if err := o.tracker.Update(func(s *state.ExecutionState) { s.MarkDeployed(name) }); err != nil {
		o.logger.Warn("Failed to record deployed service", logger.WithField("service", name), logger.WithError(err))
	}
}

type nopMonitor struct{}

func (nopMonitor) StartMonitoring(string, string) {}
func (nopMonitor) StopMonitoring(string, string)  {}

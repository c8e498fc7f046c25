// Package stage runs a single build stage: its shell commands under a
// per-command timeout, whole-stage retries with exponential backoff and an
// optional image build once the commands succeed.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/conveyor/pkg/cancellation"
	pcontext "github.com/poltergeist/conveyor/pkg/context"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/types"
)

// Status is the result class of a stage run
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Outcome reports how a stage run ended. Attempts counts attempts started.
type Outcome struct {
	Status   Status
	Attempts int
	Err      error
}

// Succeeded reports whether the stage completed
func (o Outcome) Succeeded() bool { return o.Status == Succeeded }

// Runner executes build stages
type Runner struct {
	pipeline string
	config   Config
	runtime  interfaces.ContainerRuntime
	logs     interfaces.LogSink
	logger   logger.Logger
}

// NewRunner creates a runner for stages of the named pipeline. runtime may
// be nil when no stage declares a Dockerfile.
func NewRunner(
	pipeline string,
	config Config,
	runtime interfaces.ContainerRuntime,
	logs interfaces.LogSink,
	log logger.Logger,
) *Runner {
	if logs == nil {
		logs = discardSink{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		pipeline: pipeline,
		config:   config.withDefaults(),
		runtime:  runtime,
		logs:     logs,
		logger:   log,
	}
}

// Run executes stage inside workDir/{stage.Name}. Cancellation is observed
// before every command, at every poll tick and during backoff; it never
// consumes a retry.
func (r *Runner) Run(ctx context.Context, stage types.BuildStage, workDir string, token *cancellation.Token) Outcome {
	stop := token.TripOnDone(ctx)
	defer stop()

	ctx = pcontext.WithStage(ctx, stage.Name)
	ctx = pcontext.WithOperation(ctx, pcontext.OperationBuild)
	log := logger.WithContext(ctx, r.logger.WithStage(stage.Name))

	if token.Tripped() {
		return Outcome{Status: Cancelled, Err: types.ErrCancelled}
	}

	stageDir, binDir, err := prepareDirs(workDir, stage.Name)
	if err != nil {
		return Outcome{Status: Failed, Err: err}
	}
	env := buildEnv(stage.Environment, binDir, stageDir)

	var lastErr error
	attempts := stage.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		log.Info(fmt.Sprintf("Attempt %d/%d", attempt+1, attempts))

		err := r.runAttempt(stage, stageDir, env, token)
		if err == nil {
			if stage.Dockerfile != "" {
				if err := r.buildImage(ctx, stage, stageDir, token); err != nil {
					if errors.Is(err, types.ErrCancelled) {
						return Outcome{Status: Cancelled, Attempts: attempt + 1, Err: err}
					}
					log.Error("Image build failed", logger.WithError(err))
					return Outcome{Status: Failed, Attempts: attempt + 1, Err: err}
				}
			}
			log.Success("Stage succeeded", logger.WithField("attempts", attempt+1))
			return Outcome{Status: Succeeded, Attempts: attempt + 1}
		}
		if errors.Is(err, types.ErrCancelled) {
			log.Warn("Stage cancelled")
			return Outcome{Status: Cancelled, Attempts: attempt + 1, Err: err}
		}

		lastErr = err
		log.Warn("Attempt failed", logger.WithField("attempt", attempt+1), logger.WithError(err))

		if attempt < attempts-1 {
			delay := r.config.Backoff(attempt)
			log.Info(fmt.Sprintf("Retrying in %s", delay))
			if !token.Sleep(delay) {
				return Outcome{Status: Cancelled, Attempts: attempt + 1, Err: types.ErrCancelled}
			}
		}
	}

	log.Error("Stage failed", logger.WithField("attempts", attempts), logger.WithError(lastErr))
	return Outcome{Status: Failed, Attempts: attempts, Err: lastErr}
}

func (r *Runner) runAttempt(stage types.BuildStage, stageDir string, env []string, token *cancellation.Token) error {
	for _, command := range stage.Commands {
		if token.Tripped() {
			return types.ErrCancelled
		}
		r.logs.Log(types.LogLevelInfo, "$ "+command)
		if err := r.runCommand(command, stageDir, env, stage.TimeoutDuration(), token); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) buildImage(ctx context.Context, stage types.BuildStage, stageDir string, token *cancellation.Token) error {
	if r.runtime == nil {
		return fmt.Errorf("stage %s declares a Dockerfile but no container runtime is configured", stage.Name)
	}

	tag := types.ImageTag(r.pipeline, stage.Name)
	r.logs.Log(types.LogLevelInfo, fmt.Sprintf("Building image %s from %s", tag, stage.Dockerfile))

	stream, err := r.runtime.BuildImage(ctx, stageDir, stage.Dockerfile, tag)
	if err != nil {
		return fmt.Errorf("failed to start image build %s: %w", tag, err)
	}
	defer stream.Close()

	for {
		if token.Tripped() {
			return types.ErrCancelled
		}
		event, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read build output for %s: %w", tag, err)
		}
		if event.IsError() {
			r.logs.Log(types.LogLevelError, event.Error)
			return &types.DockerBuildError{Tag: tag, Message: event.Error}
		}
		if line := strings.TrimRight(event.Stream, "\r\n"); strings.TrimSpace(line) != "" {
			r.logs.Log(types.LogLevelInfo, line)
		}
	}
}

func prepareDirs(workDir, name string) (string, string, error) {
	stageDir, err := filepath.Abs(filepath.Join(workDir, name))
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve stage directory: %w", err)
	}
	binDir := filepath.Join(stageDir, "bin")
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create stage directory: %w", err)
	}
	return stageDir, binDir, nil
}

type discardSink struct{}

func (discardSink) StartLogging(string, string) {}
func (discardSink) Log(types.LogLevel, string)  {}
func (discardSink) SaveLogs() error             { return nil }

// Package interfaces provides abstractions for dependency injection and testability
package interfaces

//go:generate mockgen -destination=../mocks/runtime_mock.go -package=mocks github.com/poltergeist/conveyor/pkg/interfaces ContainerRuntime,BuildStream

import (
	"context"

	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

// MonitoringSink observes stage boundaries
type MonitoringSink interface {
	StartMonitoring(pipeline, stage string)
	StopMonitoring(pipeline, stage string)
}

// LogSink receives stage output and build log lines
type LogSink interface {
	StartLogging(pipeline, stage string)
	Log(level types.LogLevel, message string)
	SaveLogs() error
}

// BuildStream yields the decoded lines of an image build.
// Next returns io.EOF once the stream is exhausted.
type BuildStream interface {
	Next() (types.BuildEvent, error)
	Close() error
}

// ContainerRuntime abstracts the container engine
type ContainerRuntime interface {
	BuildImage(ctx context.Context, contextDir, dockerfile, tag string) (BuildStream, error)
	CreateContainer(ctx context.Context, spec types.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, cmd []string) (int, error)
	RemoveContainer(ctx context.Context, id string, force bool) error
}

// StateStore persists the latest snapshot of a pipeline run
type StateStore interface {
	Save(snapshot state.ExecutionState) error
	Load(pipeline string) (*state.ExecutionState, error)
}

// PipelineNotifier reports run outcomes to the user
type PipelineNotifier interface {
	NotifyPipelineResult(snapshot state.ExecutionState)
}

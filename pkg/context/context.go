// Package context carries run tracing values through pipeline execution
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

// Context keys for run tracing
const (
	runIDKey ctxKey = iota
	pipelineKey
	stageKey
	serviceKey
	operationKey
	startTimeKey
)

// Operations recorded on stage and service contexts
const (
	OperationBuild  = "build"
	OperationDeploy = "deploy"
)

// Placeholder values returned when a key is absent
const (
	UnknownRun       = "unknown-run"
	UnknownOperation = "unknown-operation"
)

// WithRunID adds a run ID to the context, generating one when empty
func WithRunID(parent context.Context, runID string) context.Context {
	if runID == "" {
		runID = GenerateRunID()
	}
	return context.WithValue(parent, runIDKey, runID)
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		return id
	}
	return UnknownRun
}

// WithPipeline adds the pipeline name to the context
func WithPipeline(parent context.Context, pipeline string) context.Context {
	return context.WithValue(parent, pipelineKey, pipeline)
}

// GetPipeline retrieves the pipeline name, or "" when absent
func GetPipeline(ctx context.Context) string {
	p, _ := ctx.Value(pipelineKey).(string)
	return p
}

// WithStage adds the current stage name to the context
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the stage name, or "" when absent
func GetStage(ctx context.Context) string {
	s, _ := ctx.Value(stageKey).(string)
	return s
}

// WithService adds the service being deployed to the context
func WithService(parent context.Context, service string) context.Context {
	return context.WithValue(parent, serviceKey, service)
}

// GetService retrieves the service name, or "" when absent
func GetService(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey).(string)
	return s
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		return op
	}
	return UnknownOperation
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the start time; ok is false when none was recorded
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration returns the time elapsed since the recorded start, or zero
func GetDuration(ctx context.Context) time.Duration {
	start, ok := GetStartTime(ctx)
	if !ok {
		return 0
	}
	return time.Since(start)
}

// GenerateRunID creates a new unique run ID
func GenerateRunID() string {
	return uuid.New().String()
}

// ForRun returns a context tagged with the run ID, pipeline and start time
func ForRun(parent context.Context, runID, pipeline string) context.Context {
	ctx := WithRunID(parent, runID)
	ctx = WithPipeline(ctx, pipeline)
	return WithStartTime(ctx, time.Now())
}

// TracingFields returns the tracing values present in ctx
func TracingFields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{}
	if id := GetRunID(ctx); id != UnknownRun {
		fields["run_id"] = id
	}
	if p := GetPipeline(ctx); p != "" {
		fields["pipeline"] = p
	}
	if s := GetStage(ctx); s != "" {
		fields["stage"] = s
	}
	if s := GetService(ctx); s != "" {
		fields["service"] = s
	}
	if op := GetOperation(ctx); op != UnknownOperation {
		fields["operation"] = op
	}
	if d := GetDuration(ctx); d > 0 {
		fields["duration_ms"] = d.Milliseconds()
	}
	return fields
}

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCancelled is returned when the run's cancellation token trips mid-operation
var ErrCancelled = errors.New("operation cancelled")

// ConfigurationError reports an unsatisfiable pipeline configuration,
// such as a cyclic or dangling service dependency.
type ConfigurationError struct {
	Reason     string
	Unresolved []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Unresolved) == 0 {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s (unresolved: %s)", e.Reason, strings.Join(e.Unresolved, ", "))
}

// CommandFailureError reports a command that exited nonzero
type CommandFailureError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandFailureError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// CommandTimeoutError reports a command killed after exceeding the stage timeout
type CommandTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// DockerBuildError reports an error line in an image build stream
type DockerBuildError struct {
	Tag     string
	Message string
}

func (e *DockerBuildError) Error() string {
	return fmt.Sprintf("image build %s failed: %s", e.Tag, e.Message)
}

// HealthCheckError reports a service that never became healthy
type HealthCheckError struct {
	Service  string
	Attempts int
	Last     error
}

func (e *HealthCheckError) Error() string {
	msg := fmt.Sprintf("service %s failed health check after %d attempts", e.Service, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *HealthCheckError) Unwrap() error { return e.Last }

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

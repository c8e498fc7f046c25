// Package types provides the core configuration and runtime types for conveyor
package types

import (
	"fmt"
	"time"
)

// PipelineStatus represents the lifecycle state of a pipeline run
type PipelineStatus string

const (
	StatusNotStarted PipelineStatus = "not_started"
	StatusRunning    PipelineStatus = "running"
	StatusStopped    PipelineStatus = "stopped"
	StatusFailed     PipelineStatus = "failed"
	StatusCompleted  PipelineStatus = "completed"
)

// IsTerminal reports whether no further transition is allowed from s
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Default resource and health check values applied at deploy time
const (
	DefaultMemoryLimit         = "512m"
	DefaultCPULimit            = 1.0
	DefaultHealthCheckInterval = 5 * time.Second
	DefaultHealthCheckTimeout  = 10 * time.Second
)

// BuildStage is one entry of the ordered build stage list.
// Dependencies are informational; stages always run in list order.
type BuildStage struct {
	Name         string            `json:"name" yaml:"name" mapstructure:"name"`
	Commands     []string          `json:"commands" yaml:"commands" mapstructure:"commands"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty" mapstructure:"dependencies"`
	Environment  map[string]string `json:"environment,omitempty" yaml:"environment,omitempty" mapstructure:"environment"`
	Timeout      float64           `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Retries      int               `json:"retries" yaml:"retries" mapstructure:"retries"`
	Dockerfile   string            `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty" mapstructure:"dockerfile"`
}

// TimeoutDuration returns the per-command timeout
func (s BuildStage) TimeoutDuration() time.Duration {
	return Seconds(s.Timeout)
}

// PortMapping maps a container port to a host port
type PortMapping struct {
	Container int    `json:"container" yaml:"container" mapstructure:"container"`
	Host      int    `json:"host" yaml:"host" mapstructure:"host"`
	Protocol  string `json:"protocol,omitempty" yaml:"protocol,omitempty" mapstructure:"protocol"`
}

// VolumeMapping mounts a host path into the container
type VolumeMapping struct {
	Host      string `json:"host" yaml:"host" mapstructure:"host"`
	Container string `json:"container" yaml:"container" mapstructure:"container"`
	ReadOnly  bool   `json:"readOnly,omitempty" yaml:"readOnly,omitempty" mapstructure:"readOnly"`
}

// Resources holds container resource limits
type Resources struct {
	Memory string  `json:"memory,omitempty" yaml:"memory,omitempty" mapstructure:"memory"`
	CPU    float64 `json:"cpu,omitempty" yaml:"cpu,omitempty" mapstructure:"cpu"`
}

// MemoryOrDefault returns the memory limit, falling back to DefaultMemoryLimit
func (r Resources) MemoryOrDefault() string {
	if r.Memory == "" {
		return DefaultMemoryLimit
	}
	return r.Memory
}

// CPUOrDefault returns the CPU limit, falling back to DefaultCPULimit
func (r Resources) CPUOrDefault() float64 {
	if r.CPU <= 0 {
		return DefaultCPULimit
	}
	return r.CPU
}

// HealthCheck describes the probe gating a service's deployed status.
// An empty Test means the service is ready as soon as it starts.
type HealthCheck struct {
	Test     string  `json:"test,omitempty" yaml:"test,omitempty" mapstructure:"test"`
	Interval float64 `json:"interval,omitempty" yaml:"interval,omitempty" mapstructure:"interval"`
	Timeout  float64 `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retries  int     `json:"retries,omitempty" yaml:"retries,omitempty" mapstructure:"retries"`
}

// Enabled reports whether a probe command is configured
func (h HealthCheck) Enabled() bool { return h.Test != "" }

// IntervalDuration returns the wait between probes
func (h HealthCheck) IntervalDuration() time.Duration {
	if h.Interval <= 0 {
		return DefaultHealthCheckInterval
	}
	return Seconds(h.Interval)
}

// TimeoutDuration returns the bound on a single probe
func (h HealthCheck) TimeoutDuration() time.Duration {
	if h.Timeout <= 0 {
		return DefaultHealthCheckTimeout
	}
	return Seconds(h.Timeout)
}

// Attempts returns the number of probes to run. Retries caps the probes, but
// a declared test is always probed once: Retries 0 or less means one probe,
// never zero, so a service with a test cannot skip its health check.
func (h HealthCheck) Attempts() int {
	if h.Retries < 1 {
		return 1
	}
	return h.Retries
}

// ServiceSpec describes a deployable container
type ServiceSpec struct {
	Name        string            `json:"name" yaml:"name" mapstructure:"name"`
	Image       string            `json:"image" yaml:"image" mapstructure:"image"`
	Ports       []PortMapping     `json:"ports,omitempty" yaml:"ports,omitempty" mapstructure:"ports"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty" mapstructure:"environment"`
	Volumes     []VolumeMapping   `json:"volumes,omitempty" yaml:"volumes,omitempty" mapstructure:"volumes"`
	Resources   Resources         `json:"resources,omitempty" yaml:"resources,omitempty" mapstructure:"resources"`
	HealthCheck HealthCheck       `json:"healthCheck,omitempty" yaml:"healthCheck,omitempty" mapstructure:"healthCheck"`
	DependsOn   []string          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty" mapstructure:"dependsOn"`
}

// PipelineConfig is the validated input of a single pipeline run
type PipelineConfig struct {
	Name        string        `json:"name" yaml:"name" mapstructure:"name"`
	Workspace   string        `json:"workspace,omitempty" yaml:"workspace,omitempty" mapstructure:"workspace"`
	BuildStages []BuildStage  `json:"buildStages" yaml:"buildStages" mapstructure:"buildStages"`
	Services    []ServiceSpec `json:"services,omitempty" yaml:"services,omitempty" mapstructure:"services"`
}

// ContainerName returns the runtime name of a service container
func ContainerName(pipeline, service string) string {
	return fmt.Sprintf("%s-%s", pipeline, service)
}

// ImageTag returns the tag used for a stage's image build
func ImageTag(pipeline, stage string) string {
	return fmt.Sprintf("%s-%s", pipeline, stage)
}

// Seconds converts fractional seconds into a duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ContainerSpec is the runtime-neutral description of a container to create
type ContainerSpec struct {
	Name        string
	Image       string
	Ports       []PortMapping
	Volumes     []VolumeMapping
	Environment map[string]string
	MemoryLimit string
	CPULimit    float64
	HealthCheck *HealthCheck
	Detached    bool
	Labels      map[string]string
}

// BuildEvent is one decoded line of an image build log stream
type BuildEvent struct {
	Stream string
	Error  string
}

// IsError reports whether the line reports a build failure
func (e BuildEvent) IsError() bool { return e.Error != "" }

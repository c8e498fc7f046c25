package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/docker/go-units"

	"github.com/poltergeist/conveyor/pkg/deploy"
	"github.com/poltergeist/conveyor/pkg/types"
)

// ValidationLevel represents problem severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

// ValidationError is one problem found in a pipeline definition
type ValidationError struct {
	Subject string
	Field   string
	Message string
	Level   ValidationLevel
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Level, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Subject, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds a problem to the result
func (r *ValidationResult) AddError(subject, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Subject: subject,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Problems returns the entries at level
func (r *ValidationResult) Problems(level ValidationLevel) []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Err folds the error-level problems into a ConfigurationError, or returns
// nil when the result is valid
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Problems(ValidationLevelError) {
		msgs = append(msgs, e.Error())
	}
	return &types.ConfigurationError{Reason: strings.Join(msgs, "; ")}
}

// Validate checks the rules a schema cannot express: unique names,
// resolvable service dependencies and parseable resource limits
func Validate(cfg *types.PipelineConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if cfg.Name == "" {
		result.AddError("", "name", "pipeline name is required", ValidationLevelError)
	}
	if strings.ContainsAny(cfg.Name, `/\`) {
		result.AddError("", "name", "pipeline name cannot contain path separators", ValidationLevelError)
	}
	if len(cfg.BuildStages) == 0 && len(cfg.Services) == 0 {
		result.AddError("", "buildStages", "pipeline defines no stages and no services", ValidationLevelWarning)
	}

	validateStages(cfg.BuildStages, result)
	validateServices(cfg.Services, result)
	return result
}

func validateStages(stages []types.BuildStage, result *ValidationResult) {
	seen := make(map[string]bool, len(stages))
	for _, st := range stages {
		name := st.Name
		if name == "" {
			result.AddError("", "buildStages", "stage name is required", ValidationLevelError)
			continue
		}
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			result.AddError(name, "name", "stage name must be a single path segment", ValidationLevelError)
		}
		if seen[name] {
			result.AddError(name, "name", "duplicate stage name", ValidationLevelError)
		}

		if st.Timeout < 0 {
			result.AddError(name, "timeout", "timeout cannot be negative", ValidationLevelError)
		} else if st.Timeout == 0 && len(st.Commands) > 0 {
			result.AddError(name, "timeout", "no timeout set; commands may run indefinitely", ValidationLevelInfo)
		}
		if st.Retries < 0 {
			result.AddError(name, "retries", "retries cannot be negative", ValidationLevelError)
		}
		if len(st.Commands) == 0 {
			result.AddError(name, "commands", "stage has no commands", ValidationLevelWarning)
		}
		for i, cmd := range st.Commands {
			if strings.TrimSpace(cmd) == "" {
				result.AddError(name, fmt.Sprintf("commands[%d]", i), "empty command", ValidationLevelError)
			}
		}
		for _, dep := range st.Dependencies {
			if !seen[dep] {
				result.AddError(name, "dependencies",
					fmt.Sprintf("%s does not run before this stage; stages always run in list order", dep),
					ValidationLevelWarning)
			}
		}
		seen[name] = true
	}
}

func validateServices(services []types.ServiceSpec, result *ValidationResult) {
	for _, svc := range services {
		name := svc.Name
		if svc.Image == "" {
			result.AddError(name, "image", "image is required", ValidationLevelError)
		}
		if svc.Resources.Memory != "" {
			if _, err := units.RAMInBytes(svc.Resources.Memory); err != nil {
				result.AddError(name, "resources.memory", fmt.Sprintf("invalid memory limit %q", svc.Resources.Memory), ValidationLevelError)
			}
		}
		if svc.Resources.CPU < 0 {
			result.AddError(name, "resources.cpu", "cpu limit cannot be negative", ValidationLevelError)
		}

		hostPorts := make(map[string]bool)
		for _, p := range svc.Ports {
			if p.Container < 1 || p.Container > 65535 {
				result.AddError(name, "ports", fmt.Sprintf("container port %d out of range", p.Container), ValidationLevelError)
			}
			if p.Host == 0 {
				continue
			}
			key := fmt.Sprintf("%d/%s", p.Host, p.Protocol)
			if hostPorts[key] {
				result.AddError(name, "ports", fmt.Sprintf("host port %d mapped twice", p.Host), ValidationLevelError)
			}
			hostPorts[key] = true
		}
		for _, v := range svc.Volumes {
			if v.Host == "" || v.Container == "" {
				result.AddError(name, "volumes", "volume needs both host and container paths", ValidationLevelError)
			}
		}

		hc := svc.HealthCheck
		if hc.Retries < 0 {
			result.AddError(name, "healthCheck.retries", "retries cannot be negative", ValidationLevelError)
		}
		if hc.Interval < 0 || hc.Timeout < 0 {
			result.AddError(name, "healthCheck", "interval and timeout cannot be negative", ValidationLevelError)
		}
		if !hc.Enabled() && dependedOn(name, services) {
			result.AddError(name, "healthCheck",
				"no health check; dependents start as soon as the container starts", ValidationLevelInfo)
		}
	}

	if _, err := deploy.ResolveOrder(services); err != nil {
		var cfgErr *types.ConfigurationError
		if errors.As(err, &cfgErr) {
			result.AddError("", "services", cfgErr.Reason, ValidationLevelError)
		} else {
			result.AddError("", "services", err.Error(), ValidationLevelError)
		}
	}
}

func dependedOn(name string, services []types.ServiceSpec) bool {
	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if dep == name {
				return true
			}
		}
	}
	return false
}

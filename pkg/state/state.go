// Package state holds the execution record of a pipeline run and its persistence
package state

import (
	"time"

	"github.com/poltergeist/conveyor/pkg/types"
)

// ExecutionState is the mutable record of a single pipeline run
type ExecutionState struct {
	PipelineName     string               `json:"pipelineName"`
	RunID            string               `json:"runId"`
	StartTime        time.Time            `json:"startTime"`
	EndTime          *time.Time           `json:"endTime,omitempty"`
	Status           types.PipelineStatus `json:"status"`
	CompletedStages  []string             `json:"completedStages"`
	FailedStages     []string             `json:"failedStages"`
	CurrentStage     *string              `json:"currentStage,omitempty"`
	DeployedServices []string             `json:"deployedServices"`
	Error            *string              `json:"error,omitempty"`
	Metadata         map[string]string    `json:"metadata,omitempty"`
}

// New returns a not-yet-started record for pipeline
func New(pipeline, runID string) ExecutionState {
	return ExecutionState{
		PipelineName:     pipeline,
		RunID:            runID,
		StartTime:        time.Now(),
		Status:           types.StatusNotStarted,
		CompletedStages:  []string{},
		FailedStages:     []string{},
		DeployedServices: []string{},
		Metadata:         map[string]string{},
	}
}

// Clone returns a deep copy sharing no mutable memory with s
func (s ExecutionState) Clone() ExecutionState {
	c := s
	c.CompletedStages = append([]string{}, s.CompletedStages...)
	c.FailedStages = append([]string{}, s.FailedStages...)
	c.DeployedServices = append([]string{}, s.DeployedServices...)
	if s.CurrentStage != nil {
		v := *s.CurrentStage
		c.CurrentStage = &v
	}
	if s.Error != nil {
		v := *s.Error
		c.Error = &v
	}
	if s.EndTime != nil {
		v := *s.EndTime
		c.EndTime = &v
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Duration returns the wall time of the run so far, or in total once finished
func (s ExecutionState) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// ErrorMessage returns the error text or ""
func (s ExecutionState) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// CurrentStageName returns the current stage or ""
func (s ExecutionState) CurrentStageName() string {
	if s.CurrentStage == nil {
		return ""
	}
	return *s.CurrentStage
}

// HasCompleted reports whether stage is already in CompletedStages
func (s ExecutionState) HasCompleted(stage string) bool {
	return contains(s.CompletedStages, stage)
}

// IsDeployed reports whether service is already in DeployedServices
func (s ExecutionState) IsDeployed(service string) bool {
	return contains(s.DeployedServices, service)
}

// Mutators used inside Tracker.Update

// BeginStage marks stage as the current one
func (s *ExecutionState) BeginStage(stage string) {
	name := stage
	s.CurrentStage = &name
}

// CompleteStage records stage as completed, at most once
func (s *ExecutionState) CompleteStage(stage string) {
	if !s.HasCompleted(stage) {
		s.CompletedStages = append(s.CompletedStages, stage)
	}
}

// MarkDeployed records service as deployed, at most once
func (s *ExecutionState) MarkDeployed(service string) {
	if !s.IsDeployed(service) {
		s.DeployedServices = append(s.DeployedServices, service)
	}
}

// Finish moves the record to a terminal status, stamping EndTime
func (s *ExecutionState) Finish(status types.PipelineStatus, err string) {
	s.Status = status
	now := time.Now()
	s.EndTime = &now
	if err != "" {
		msg := err
		s.Error = &msg
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

package pipeline

import (
	"path/filepath"
	"time"

	"github.com/poltergeist/conveyor/pkg/deploy"
	"github.com/poltergeist/conveyor/pkg/types"
)

// Plan describes what a run of a pipeline would do
type Plan struct {
	Pipeline  string
	Directory string
	Stages    []PlannedStage
	Services  []PlannedService
}

// PlannedStage is a stage as it will be executed
type PlannedStage struct {
	Name     string
	Commands []string
	Attempts int
	Timeout  time.Duration
	Image    string
}

// PlannedService is a service in deployment order
type PlannedService struct {
	Name        string
	Container   string
	Image       string
	DependsOn   []string
	HealthCheck string
}

// NewPlan resolves the stage list and the service deployment order of cfg.
// It fails with a ConfigurationError when the services cannot be ordered.
func NewPlan(cfg types.PipelineConfig, workspace string) (Plan, error) {
	order, err := deploy.ResolveOrder(cfg.Services)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Pipeline:  cfg.Name,
		Directory: filepath.Join(workspace, cfg.Name),
		Stages:    make([]PlannedStage, 0, len(cfg.BuildStages)),
		Services:  make([]PlannedService, 0, len(order)),
	}

	for _, st := range cfg.BuildStages {
		ps := PlannedStage{
			Name:     st.Name,
			Commands: st.Commands,
			Attempts: st.Retries + 1,
			Timeout:  st.TimeoutDuration(),
		}
		if st.Dockerfile != "" {
			ps.Image = types.ImageTag(cfg.Name, st.Name)
		}
		plan.Stages = append(plan.Stages, ps)
	}

	for _, svc := range order {
		plan.Services = append(plan.Services, PlannedService{
			Name:        svc.Name,
			Container:   types.ContainerName(cfg.Name, svc.Name),
			Image:       svc.Image,
			DependsOn:   svc.DependsOn,
			HealthCheck: svc.HealthCheck.Test,
		})
	}
	return plan, nil
}

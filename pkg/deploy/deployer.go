// Package deploy rolls out a pipeline's services in dependency order, each
// gated by its health check.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poltergeist/conveyor/pkg/cancellation"
	pcontext "github.com/poltergeist/conveyor/pkg/context"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/types"
)

// removeTimeout bounds the cleanup of a failed container
const removeTimeout = 30 * time.Second

// Observer is told when a service's deployment begins and when it is healthy
type Observer interface {
	ServiceStarting(name string)
	ServiceDeployed(name string)
}

type nopObserver struct{}

func (nopObserver) ServiceStarting(string) {}
func (nopObserver) ServiceDeployed(string) {}

// Deployer deploys services through a container runtime
type Deployer struct {
	pipeline string
	runtime  interfaces.ContainerRuntime
	observer Observer
	logger   logger.Logger
}

// NewDeployer creates a deployer for the named pipeline. observer may be nil.
func NewDeployer(pipeline string, runtime interfaces.ContainerRuntime, observer Observer, log logger.Logger) *Deployer {
	if observer == nil {
		observer = nopObserver{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Deployer{
		pipeline: pipeline,
		runtime:  runtime,
		observer: observer,
		logger:   log,
	}
}

// Deploy resolves the dependency order up front, then deploys services one
// at a time. The first failure aborts the rollout; services deployed earlier
// in the same call are left running. It returns the names deployed so far.
func (d *Deployer) Deploy(ctx context.Context, services []types.ServiceSpec, token *cancellation.Token) ([]string, error) {
	order, err := ResolveOrder(services)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 && d.runtime == nil {
		return nil, errors.New("services declared but no container runtime is configured")
	}

	deployed := make([]string, 0, len(order))
	for _, svc := range order {
		if token.Tripped() {
			return deployed, types.ErrCancelled
		}

		d.observer.ServiceStarting(svc.Name)
		if err := d.DeployOne(ctx, svc, token); err != nil {
			return deployed, err
		}
		deployed = append(deployed, svc.Name)
		d.observer.ServiceDeployed(svc.Name)
	}
	return deployed, nil
}

// DeployOne creates and starts the service's container and waits for it to
// become healthy. On any failure after creation the container is force
// removed so no unhealthy container is left behind.
func (d *Deployer) DeployOne(ctx context.Context, svc types.ServiceSpec, token *cancellation.Token) error {
	ctx = pcontext.WithService(ctx, svc.Name)
	ctx = pcontext.WithOperation(ctx, pcontext.OperationDeploy)
	log := logger.WithContext(ctx, d.logger)

	if token.Tripped() {
		return types.ErrCancelled
	}

	spec := ContainerSpec(d.pipeline, svc)
	log.Info(fmt.Sprintf("Deploying %s", svc.Name), logger.WithField("image", svc.Image))

	id, err := d.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to create container for service %s: %w", svc.Name, err)
	}

	if token.Tripped() {
		d.remove(ctx, id, log)
		return types.ErrCancelled
	}

	if err := d.runtime.StartContainer(ctx, id); err != nil {
		d.remove(ctx, id, log)
		return fmt.Errorf("failed to start container for service %s: %w", svc.Name, err)
	}

	if err := d.waitHealthy(ctx, svc, id, token, log); err != nil {
		d.remove(ctx, id, log)
		if !errors.Is(err, types.ErrCancelled) {
			log.Error("Service failed health check", logger.WithError(err))
		}
		return err
	}

	log.Success(fmt.Sprintf("Service %s is healthy", svc.Name))
	return nil
}

// waitHealthy probes the health check up to its retry count, waiting the
// configured interval before each probe. Each probe is bounded by the health
// check timeout and is abandoned as soon as the token trips.
func (d *Deployer) waitHealthy(ctx context.Context, svc types.ServiceSpec, id string, token *cancellation.Token, log logger.Logger) error {
	hc := svc.HealthCheck
	if !hc.Enabled() {
		return nil
	}

	attempts := hc.Attempts()
	var last error
	for i := 0; i < attempts; i++ {
		if !token.Sleep(hc.IntervalDuration()) {
			return types.ErrCancelled
		}

		code, err := d.probe(ctx, id, hc, token)
		if token.Tripped() {
			return types.ErrCancelled
		}
		if err == nil && code == 0 {
			return nil
		}
		if err != nil {
			last = err
		} else {
			last = fmt.Errorf("health check exited with code %d", code)
		}
		log.Debug("Health probe failed",
			logger.WithField("attempt", i+1),
			logger.WithField("of", attempts),
			logger.WithError(last))
	}
	return &types.HealthCheckError{Service: svc.Name, Attempts: attempts, Last: last}
}

func (d *Deployer) probe(ctx context.Context, id string, hc types.HealthCheck, token *cancellation.Token) (int, error) {
	tokenCtx, cancelToken := token.Context(ctx)
	defer cancelToken()
	probeCtx, cancel := context.WithTimeout(tokenCtx, hc.TimeoutDuration())
	defer cancel()

	code, err := d.runtime.Exec(probeCtx, id, []string{"sh", "-c", hc.Test})
	if err != nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return -1, fmt.Errorf("health check timed out after %s", hc.TimeoutDuration())
	}
	return code, err
}

// remove force-removes a container even when ctx is already cancelled
func (d *Deployer) remove(ctx context.Context, id string, log logger.Logger) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	if err := d.runtime.RemoveContainer(rmCtx, id, true); err != nil {
		log.Warn("Failed to remove container", logger.WithField("container", id), logger.WithError(err))
		return
	}
	log.Info("Removed container", logger.WithField("container", id))
}

// ContainerSpec builds the runtime container description of a service,
// applying the default resource limits
func ContainerSpec(pipeline string, svc types.ServiceSpec) types.ContainerSpec {
	spec := types.ContainerSpec{
		Name:        types.ContainerName(pipeline, svc.Name),
		Image:       svc.Image,
		Ports:       svc.Ports,
		Volumes:     svc.Volumes,
		Environment: svc.Environment,
		MemoryLimit: svc.Resources.MemoryOrDefault(),
		CPULimit:    svc.Resources.CPUOrDefault(),
		Detached:    true,
		Labels: map[string]string{
			"conveyor.pipeline": pipeline,
			"conveyor.service":  svc.Name,
		},
	}
	if svc.HealthCheck.Enabled() {
		hc := svc.HealthCheck
		spec.HealthCheck = &hc
	}
	return spec
}

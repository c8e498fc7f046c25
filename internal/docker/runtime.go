// Package docker implements the container runtime on top of the Docker Engine API
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/moby/go-archive"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/types"
)

// execPollInterval is how often a running exec is inspected for its exit code
const execPollInterval = 100 * time.Millisecond

// apiClient is the subset of the Docker client used by Runtime
type apiClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Runtime talks to the Docker daemon
type Runtime struct {
	api    apiClient
	logger logger.Logger
}

var _ interfaces.ContainerRuntime = (*Runtime)(nil)

// New connects to the daemon configured by the DOCKER_* environment
func New(log logger.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newRuntime(cli, log), nil
}

func newRuntime(api apiClient, log logger.Logger) *Runtime {
	if log == nil {
		log = logger.Discard()
	}
	return &Runtime{api: api, logger: log}
}

// Close releases the client connection
func (r *Runtime) Close() error {
	return r.api.Close()
}

// BuildImage sends contextDir as the build context and returns the decoded
// build output
func (r *Runtime) BuildImage(ctx context.Context, contextDir, dockerfile, tag string) (interfaces.BuildStream, error) {
	tarball, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}

	resp, err := r.api.ImageBuild(ctx, tarball, build.ImageBuildOptions{
		Dockerfile:  dockerfile,
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		tarball.Close()
		return nil, fmt.Errorf("failed to build image %s: %w", tag, err)
	}

	r.logger.Debug("Image build started", logger.WithField("tag", tag))
	return newMessageStream(resp.Body, tarball), nil
}

// CreateContainer creates a container from spec and returns its ID
func (r *Runtime) CreateContainer(ctx context.Context, spec types.ContainerSpec) (string, error) {
	cfg, hostCfg, err := containerConfig(spec)
	if err != nil {
		return "", err
	}

	resp, err := r.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		r.logger.Warn(w, logger.WithField("container", spec.Name))
	}
	return resp.ID, nil
}

// StartContainer starts a created container
func (r *Runtime) StartContainer(ctx context.Context, id string) error {
	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Exec runs cmd inside the container and waits for its exit code. The wait
// is abandoned when ctx is done.
func (r *Runtime) Exec(ctx context.Context, id string, cmd []string) (int, error) {
	created, err := r.api.ContainerExecCreate(ctx, id, container.ExecOptions{Cmd: cmd})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec in %s: %w", id, err)
	}
	if err := r.api.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return -1, fmt.Errorf("failed to start exec in %s: %w", id, err)
	}

	ticker := time.NewTicker(execPollInterval)
	defer ticker.Stop()
	for {
		inspect, err := r.api.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return -1, fmt.Errorf("failed to inspect exec in %s: %w", id, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RemoveContainer removes the container and its anonymous volumes
func (r *Runtime) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// containerConfig translates a ContainerSpec into Docker API structures
func containerConfig(spec types.ContainerSpec) (*container.Config, *container.HostConfig, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.Container))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %d/%s: %w", p.Container, proto, err)
		}
		exposed[port] = struct{}{}
		hostPort := ""
		if p.Host != 0 {
			hostPort = strconv.Itoa(p.Host)
		}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: hostPort})
	}

	binds := make([]string, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		bind := v.Host + ":" + v.Container
		if v.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	env := make([]string, 0, len(spec.Environment))
	for k, v := range spec.Environment {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	var memory int64
	if spec.MemoryLimit != "" {
		m, err := units.RAMInBytes(spec.MemoryLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid memory limit %q: %w", spec.MemoryLimit, err)
		}
		memory = m
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposed,
		Labels:       spec.Labels,
	}
	if hc := spec.HealthCheck; hc != nil && hc.Enabled() {
		cfg.Healthcheck = &container.HealthConfig{
			Test:     []string{"CMD-SHELL", hc.Test},
			Interval: hc.IntervalDuration(),
			Timeout:  hc.TimeoutDuration(),
			Retries:  hc.Attempts(),
		}
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds,
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: int64(spec.CPULimit * 1e9),
		},
	}
	return cfg, hostCfg, nil
}

// messageStream decodes the JSON message stream of an image build
type messageStream struct {
	body    io.ReadCloser
	context io.Closer
	decoder *json.Decoder
}

func newMessageStream(body io.ReadCloser, buildContext io.Closer) *messageStream {
	return &messageStream{body: body, context: buildContext, decoder: json.NewDecoder(body)}
}

func (s *messageStream) Next() (types.BuildEvent, error) {
	var msg jsonmessage.JSONMessage
	if err := s.decoder.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return types.BuildEvent{}, io.EOF
		}
		return types.BuildEvent{}, fmt.Errorf("failed to decode build output: %w", err)
	}

	event := types.BuildEvent{Stream: msg.Stream}
	switch {
	case msg.Error != nil && msg.Error.Message != "":
		event.Error = msg.Error.Message
	case msg.ErrorMessage != "":
		event.Error = msg.ErrorMessage
	}
	if event.Stream == "" && msg.Status != "" {
		event.Stream = msg.Status
		if msg.ID != "" {
			event.Stream = msg.ID + ": " + msg.Status
		}
	}
	return event, nil
}

func (s *messageStream) Close() error {
	err := s.body.Close()
	if s.context != nil {
		err = errors.Join(err, s.context.Close())
	}
	return err
}

package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/poltergeist/conveyor/pkg/types"
)

// fakeAPI implements apiClient. Calls not configured by a test fail loudly.
type fakeAPI struct {
	created     *container.Config
	hostCfg     *container.HostConfig
	createdName string
	removed     []container.RemoveOptions
	inspects    []container.ExecInspect
	inspectN    int
	execCmd     []string
}

func (f *fakeAPI) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	return build.ImageBuildResponse{}, errors.New("not configured")
}

func (f *fakeAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.created = config
	f.hostCfg = hostConfig
	f.createdName = containerName
	return container.CreateResponse{ID: "abc123"}, nil
}

func (f *fakeAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeAPI) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.execCmd = options.Cmd
	return container.ExecCreateResponse{ID: "exec1"}, nil
}

func (f *fakeAPI) ContainerExecStart(ctx context.Context, execID string, config container.ExecStartOptions) error {
	return nil
}

func (f *fakeAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	if f.inspectN >= len(f.inspects) {
		return f.inspects[len(f.inspects)-1], nil
	}
	in := f.inspects[f.inspectN]
	f.inspectN++
	return in, nil
}

func (f *fakeAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed = append(f.removed, options)
	return nil
}

func (f *fakeAPI) Close() error { return nil }

func TestContainerConfig(t *testing.T) {
	spec := types.ContainerSpec{
		Name:  "demo-api",
		Image: "api:1",
		Ports: []types.PortMapping{
			{Container: 8080, Host: 80},
			{Container: 53, Protocol: "udp"},
		},
		Volumes: []types.VolumeMapping{
			{Host: "/data", Container: "/var/lib/data"},
			{Host: "/etc/conf", Container: "/conf", ReadOnly: true},
		},
		Environment: map[string]string{"B": "2", "A": "1"},
		MemoryLimit: "512m",
		CPULimit:    1.5,
		HealthCheck: &types.HealthCheck{Test: "curl -f localhost", Interval: 2, Timeout: 3, Retries: 4},
		Labels:      map[string]string{"conveyor.service": "api"},
	}

	cfg, host, err := containerConfig(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Join(cfg.Env, ",") != "A=1,B=2" {
		t.Errorf("unexpected env %v", cfg.Env)
	}
	if _, ok := cfg.ExposedPorts[nat.Port("8080/tcp")]; !ok {
		t.Errorf("8080/tcp not exposed: %v", cfg.ExposedPorts)
	}
	if b := host.PortBindings[nat.Port("8080/tcp")]; len(b) != 1 || b[0].HostPort != "80" {
		t.Errorf("unexpected binding %v", b)
	}
	if b := host.PortBindings[nat.Port("53/udp")]; len(b) != 1 || b[0].HostPort != "" {
		t.Errorf("unexpected udp binding %v", b)
	}
	if strings.Join(host.Binds, ",") != "/data:/var/lib/data,/etc/conf:/conf:ro" {
		t.Errorf("unexpected binds %v", host.Binds)
	}
	if host.Memory != 512*1024*1024 {
		t.Errorf("expected 512MiB, got %d", host.Memory)
	}
	if host.NanoCPUs != 1_500_000_000 {
		t.Errorf("expected 1.5 cpus, got %d", host.NanoCPUs)
	}
	if cfg.Healthcheck == nil || cfg.Healthcheck.Test[0] != "CMD-SHELL" || cfg.Healthcheck.Retries != 4 {
		t.Errorf("unexpected health config %+v", cfg.Healthcheck)
	}
	if cfg.Healthcheck.Interval != 2*time.Second || cfg.Healthcheck.Timeout != 3*time.Second {
		t.Errorf("unexpected health timings %+v", cfg.Healthcheck)
	}
}

func TestContainerConfig_InvalidMemory(t *testing.T) {
	_, _, err := containerConfig(types.ContainerSpec{Image: "x", MemoryLimit: "lots"})
	if err == nil || !strings.Contains(err.Error(), "invalid memory limit") {
		t.Errorf("expected memory error, got %v", err)
	}
}

func TestRuntime_CreateUsesSpecName(t *testing.T) {
	api := &fakeAPI{}
	rt := newRuntime(api, nil)

	id, err := rt.CreateContainer(context.Background(), types.ContainerSpec{Name: "demo-db", Image: "postgres", MemoryLimit: "1g"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc123" || api.createdName != "demo-db" || api.created.Image != "postgres" {
		t.Errorf("unexpected create: id=%s name=%s", id, api.createdName)
	}
	if api.created.Healthcheck != nil {
		t.Error("expected no health config")
	}
}

func TestRuntime_ExecWaitsForExit(t *testing.T) {
	api := &fakeAPI{inspects: []container.ExecInspect{
		{Running: true},
		{Running: false, ExitCode: 3},
	}}
	rt := newRuntime(api, nil)

	code, err := rt.Exec(context.Background(), "abc123", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 3 {
		t.Errorf("expected exit code 3, got %d", code)
	}
	if strings.Join(api.execCmd, " ") != "sh -c exit 3" {
		t.Errorf("unexpected command %v", api.execCmd)
	}
}

func TestRuntime_ExecHonoursContext(t *testing.T) {
	api := &fakeAPI{inspects: []container.ExecInspect{{Running: true}}}
	rt := newRuntime(api, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := rt.Exec(ctx, "abc123", []string{"sleep", "60"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRuntime_RemoveForce(t *testing.T) {
	api := &fakeAPI{}
	rt := newRuntime(api, nil)

	if err := rt.RemoveContainer(context.Background(), "abc123", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.removed) != 1 || !api.removed[0].Force {
		t.Errorf("expected forced removal, got %+v", api.removed)
	}
}

type nopCloser struct{ closed bool }

func (n *nopCloser) Close() error {
	n.closed = true
	return nil
}

func TestMessageStream(t *testing.T) {
	body := `{"stream":"Step 1/2 : FROM alpine\n"}
{"status":"Pulling fs layer","id":"a1b2"}
{"stream":"Step 2/2 : RUN false\n"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c false' returned a non-zero code: 1"},"error":"The command '/bin/sh -c false' returned a non-zero code: 1"}
`
	ctxCloser := &nopCloser{}
	stream := newMessageStream(io.NopCloser(strings.NewReader(body)), ctxCloser)

	var events []types.BuildEvent
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Stream != "Step 1/2 : FROM alpine\n" || events[0].IsError() {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[1].Stream != "a1b2: Pulling fs layer" {
		t.Errorf("unexpected status event %+v", events[1])
	}
	if !events[3].IsError() || !strings.Contains(events[3].Error, "non-zero code") {
		t.Errorf("expected error event, got %+v", events[3])
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !ctxCloser.closed {
		t.Error("build context was not closed")
	}
}

// Package mocks provides test doubles for the engine's collaborators
package mocks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

// LogEntry is one line received by MockLogSink
type LogEntry struct {
	Stage   string
	Level   types.LogLevel
	Message string
}

// MockLogSink records everything it is given
type MockLogSink struct {
	mu      sync.Mutex
	stage   string
	Started []string
	Entries []LogEntry
	Saves   int
}

// NewMockLogSink creates a new recording log sink
func NewMockLogSink() *MockLogSink {
	return &MockLogSink{}
}

// StartLogging records the stage switch
func (m *MockLogSink) StartLogging(pipeline, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stage = stage
	m.Started = append(m.Started, stage)
}

// Log records a line
func (m *MockLogSink) Log(level types.LogLevel, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Stage: m.stage, Level: level, Message: message})
}

// SaveLogs counts saves
func (m *MockLogSink) SaveLogs() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saves++
	return nil
}

// Messages returns the recorded messages at level, or all when level is ""
func (m *MockLogSink) Messages(level types.LogLevel) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.Entries {
		if level == "" || e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// MockMonitoringSink records start/stop events as "start:stage" and "stop:stage"
type MockMonitoringSink struct {
	mu     sync.Mutex
	Events []string
}

// NewMockMonitoringSink creates a new recording monitoring sink
func NewMockMonitoringSink() *MockMonitoringSink {
	return &MockMonitoringSink{}
}

// StartMonitoring records a start event
func (m *MockMonitoringSink) StartMonitoring(pipeline, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, "start:"+stage)
}

// StopMonitoring records a stop event
func (m *MockMonitoringSink) StopMonitoring(pipeline, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, "stop:"+stage)
}

// Recorded returns a copy of the events
func (m *MockMonitoringSink) Recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Events...)
}

// MockStateStore keeps snapshots in memory
type MockStateStore struct {
	mu      sync.Mutex
	latest  map[string]state.ExecutionState
	History []state.ExecutionState
	SaveErr error
}

// NewMockStateStore creates an empty in-memory store
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{latest: make(map[string]state.ExecutionState)}
}

// Save records the snapshot
func (m *MockStateStore) Save(snapshot state.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History = append(m.History, snapshot.Clone())
	m.latest[snapshot.PipelineName] = snapshot.Clone()
	return m.SaveErr
}

// Load returns the latest snapshot
func (m *MockStateStore) Load(pipeline string) (*state.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.latest[pipeline]
	if !ok {
		return nil, os.ErrNotExist
	}
	c := s.Clone()
	return &c, nil
}

// Snapshots returns a copy of every saved snapshot
func (m *MockStateStore) Snapshots() []state.ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]state.ExecutionState(nil), m.History...)
}

// FakeRuntime is an in-memory ContainerRuntime. Container IDs equal the
// container names, which makes assertions on Events straightforward.
type FakeRuntime struct {
	mu sync.Mutex

	// HealthResults holds the exit codes returned by successive Exec calls per
	// container name; the last code repeats once the list is exhausted.
	HealthResults map[string][]int
	// StartErrors fails StartContainer for the named containers
	StartErrors map[string]error
	// BuildEvents is replayed by every BuildImage call
	BuildEvents []types.BuildEvent
	// OnExec runs before each Exec returns
	OnExec func(id string)

	Events     []string
	Specs      map[string]types.ContainerSpec
	Running    map[string]bool
	Removed    []string
	BuildTags  []string
	execCounts map[string]int
}

var _ interfaces.ContainerRuntime = (*FakeRuntime)(nil)

// NewFakeRuntime creates a runtime where every health check passes
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		HealthResults: make(map[string][]int),
		StartErrors:   make(map[string]error),
		Specs:         make(map[string]types.ContainerSpec),
		Running:       make(map[string]bool),
		execCounts:    make(map[string]int),
	}
}

// BuildImage replays BuildEvents
func (f *FakeRuntime) BuildImage(ctx context.Context, contextDir, dockerfile, tag string) (interfaces.BuildStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildTags = append(f.BuildTags, tag)
	f.Events = append(f.Events, "build:"+tag)
	return NewSliceStream(f.BuildEvents...), nil
}

// CreateContainer records the spec
func (f *FakeRuntime) CreateContainer(ctx context.Context, spec types.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.Specs[spec.Name]; exists && !f.wasRemoved(spec.Name) {
		return "", fmt.Errorf("container %s already exists", spec.Name)
	}
	f.Specs[spec.Name] = spec
	f.Events = append(f.Events, "create:"+spec.Name)
	return spec.Name, nil
}

// StartContainer marks the container running unless StartErrors says otherwise
func (f *FakeRuntime) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, "start:"+id)
	if err := f.StartErrors[id]; err != nil {
		return err
	}
	f.Running[id] = true
	return nil
}

// Exec returns the next configured health result for the container
func (f *FakeRuntime) Exec(ctx context.Context, id string, cmd []string) (int, error) {
	f.mu.Lock()
	n := f.execCounts[id]
	f.execCounts[id]++
	f.Events = append(f.Events, "exec:"+id)
	code := 0
	if results := f.HealthResults[id]; len(results) > 0 {
		if n >= len(results) {
			n = len(results) - 1
		}
		code = results[n]
	}
	hook := f.OnExec
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return code, nil
}

// RemoveContainer drops the container
func (f *FakeRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, "remove:"+id)
	f.Removed = append(f.Removed, id)
	delete(f.Running, id)
	return nil
}

// Recorded returns a copy of Events
func (f *FakeRuntime) Recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Events...)
}

// IsRunning reports whether the container is started and not removed
func (f *FakeRuntime) IsRunning(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[id]
}

// ExecCount returns how many probes ran against the container
func (f *FakeRuntime) ExecCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execCounts[id]
}

func (f *FakeRuntime) wasRemoved(id string) bool {
	for _, r := range f.Removed {
		if r == id {
			return true
		}
	}
	return false
}

// SliceStream is a BuildStream over fixed events
type SliceStream struct {
	mu     sync.Mutex
	events []types.BuildEvent
	Closed bool
	// Delay is slept before each event
	Delay time.Duration
}

// NewSliceStream creates a stream yielding events then io.EOF
func NewSliceStream(events ...types.BuildEvent) *SliceStream {
	return &SliceStream{events: events}
}

// Next returns the next event or io.EOF
func (s *SliceStream) Next() (types.BuildEvent, error) {
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return types.BuildEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// Close marks the stream closed
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

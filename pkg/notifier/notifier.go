// Package notifier records stage timings and reports pipeline outcomes
package notifier

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

// Config represents notification configuration
type Config struct {
	Enabled bool
	Sound   bool
}

// StageTiming is the measured wall time of one stage
type StageTiming struct {
	Pipeline string
	Stage    string
	Started  time.Time
	Duration time.Duration
}

// Monitor implements the monitoring sink and desktop notifications
type Monitor struct {
	config Config
	logger logger.Logger

	// replaced in tests
	notify func(title, message, icon string) error
	beep   func(freq float64, duration int) error
	now    func() time.Time

	mu      sync.Mutex
	running map[string]time.Time
	timings []StageTiming
}

// New creates a monitor
func New(config Config, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Discard()
	}
	return &Monitor{
		config:  config,
		logger:  log,
		notify:  beeep.Notify,
		beep:    beeep.Beep,
		now:     time.Now,
		running: make(map[string]time.Time),
	}
}

func key(pipeline, stage string) string { return pipeline + "/" + stage }

// StartMonitoring records the start of a stage
func (m *Monitor) StartMonitoring(pipeline, stage string) {
	m.mu.Lock()
	m.running[key(pipeline, stage)] = m.now()
	m.mu.Unlock()

	m.logger.WithStage(stage).Debug("Monitoring started", logger.WithField("pipeline", pipeline))
}

// StopMonitoring records the duration of a stage started with StartMonitoring
func (m *Monitor) StopMonitoring(pipeline, stage string) {
	m.mu.Lock()
	started, ok := m.running[key(pipeline, stage)]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, key(pipeline, stage))
	timing := StageTiming{
		Pipeline: pipeline,
		Stage:    stage,
		Started:  started,
		Duration: m.now().Sub(started),
	}
	m.timings = append(m.timings, timing)
	m.mu.Unlock()

	m.logger.WithStage(stage).Debug("Monitoring stopped",
		logger.WithField("pipeline", pipeline),
		logger.WithField("duration", FormatDuration(timing.Duration)))
}

// Timings returns the recorded stage timings in completion order
func (m *Monitor) Timings() []StageTiming {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageTiming(nil), m.timings...)
}

// NotifyPipelineResult sends a desktop notification summarising the run
func (m *Monitor) NotifyPipelineResult(snapshot state.ExecutionState) {
	title, message := Summary(snapshot)
	m.logger.Debug(title + ": " + message)

	if !m.config.Enabled {
		return
	}
	if err := m.notify(title, message, ""); err != nil {
		m.logger.Debug("Failed to send notification", logger.WithError(err))
	}
	if m.config.Sound && snapshot.Status == types.StatusFailed {
		if err := m.beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			m.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}

// Summary renders the notification title and message for a finished run
func Summary(snapshot state.ExecutionState) (string, string) {
	duration := FormatDuration(snapshot.Duration())
	switch snapshot.Status {
	case types.StatusCompleted:
		msg := fmt.Sprintf("%d stages in %s", len(snapshot.CompletedStages), duration)
		if n := len(snapshot.DeployedServices); n > 0 {
			msg += fmt.Sprintf(", deployed %s", strings.Join(snapshot.DeployedServices, ", "))
		}
		return fmt.Sprintf("Pipeline %s completed", snapshot.PipelineName), msg
	case types.StatusFailed:
		return fmt.Sprintf("Pipeline %s failed", snapshot.PipelineName), snapshot.ErrorMessage()
	case types.StatusStopped:
		msg := "stopped"
		if stage := snapshot.CurrentStageName(); stage != "" {
			msg = "stopped during " + stage
		}
		return fmt.Sprintf("Pipeline %s stopped", snapshot.PipelineName), msg
	default:
		return fmt.Sprintf("Pipeline %s", snapshot.PipelineName), string(snapshot.Status)
	}
}

// FormatDuration renders d compactly
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

package notifier

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMonitor_RecordsStageDurations(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := New(Config{}, nil)
	m.now = clock.now

	m.StartMonitoring("demo", "build")
	clock.t = clock.t.Add(1500 * time.Millisecond)
	m.StopMonitoring("demo", "build")

	timings := m.Timings()
	if len(timings) != 1 {
		t.Fatalf("expected 1 timing, got %d", len(timings))
	}
	if timings[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", timings[0].Duration)
	}
}

func TestMonitor_StopWithoutStartIsIgnored(t *testing.T) {
	m := New(Config{}, nil)
	m.StopMonitoring("demo", "never-started")
	if len(m.Timings()) != 0 {
		t.Error("expected no timings")
	}
}

func TestMonitor_NotifyPipelineResult(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		status    types.PipelineStatus
		wantCalls int
		wantBeeps int
	}{
		{"disabled", Config{Enabled: false}, types.StatusFailed, 0, 0},
		{"completed", Config{Enabled: true, Sound: true}, types.StatusCompleted, 1, 0},
		{"failed with sound", Config{Enabled: true, Sound: true}, types.StatusFailed, 1, 1},
		{"failed silent", Config{Enabled: true}, types.StatusFailed, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.config, nil)
			calls, beeps := 0, 0
			m.notify = func(title, message, icon string) error {
				calls++
				return errors.New("no display")
			}
			m.beep = func(float64, int) error {
				beeps++
				return nil
			}

			snap := state.New("demo", "run")
			snap.Finish(tt.status, "")
			m.NotifyPipelineResult(snap)

			if calls != tt.wantCalls {
				t.Errorf("expected %d notifications, got %d", tt.wantCalls, calls)
			}
			if beeps != tt.wantBeeps {
				t.Errorf("expected %d beeps, got %d", tt.wantBeeps, beeps)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	snap := state.New("demo", "run")
	snap.CompleteStage("build")
	snap.MarkDeployed("db")
	snap.Finish(types.StatusCompleted, "")

	title, msg := Summary(snap)
	if title != "Pipeline demo completed" {
		t.Errorf("unexpected title %q", title)
	}
	if !strings.Contains(msg, "1 stages") || !strings.Contains(msg, "db") {
		t.Errorf("unexpected message %q", msg)
	}

	failed := state.New("demo", "run")
	failed.Finish(types.StatusFailed, "Stage test failed: boom")
	if _, msg := Summary(failed); msg != "Stage test failed: boom" {
		t.Errorf("unexpected failure message %q", msg)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{2500 * time.Millisecond, "2.5s"},
		{125 * time.Second, "2m5s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

package logger_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pcontext "github.com/poltergeist/conveyor/pkg/context"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/types"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		visible  []string
		filtered []string
	}{
		{"debug", []string{"dbg", "inf", "wrn", "err"}, nil},
		{"info", []string{"inf", "wrn", "err"}, []string{"dbg"}},
		{"warn", []string{"wrn", "err"}, []string{"dbg", "inf"}},
		{"error", []string{"err"}, []string{"dbg", "inf", "wrn"}},
		{"bogus", []string{"inf"}, []string{"dbg"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.CreateLoggerWithOutput(tt.level, &buf)

			log.Debug("dbg")
			log.Info("inf")
			log.Warn("wrn")
			log.Error("err")

			output := buf.String()
			for _, want := range tt.visible {
				if !strings.Contains(output, want) {
					t.Errorf("expected %q in output", want)
				}
			}
			for _, unwanted := range tt.filtered {
				if strings.Contains(output, unwanted) {
					t.Errorf("did not expect %q in output", unwanted)
				}
			}
		})
	}
}

func TestLogger_WithStage(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.WithStage("compile").Info("running command")

	output := buf.String()
	if !strings.Contains(output, "[compile] running command") {
		t.Errorf("expected stage prefix in output, got %q", output)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Info("msg", logger.WithField("zeta", 1), logger.WithField("alpha", "x"))

	output := buf.String()
	if !strings.Contains(output, "{alpha=x, zeta=1}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Success("pipeline completed")

	if !strings.Contains(buf.String(), "pipeline completed") {
		t.Error("expected success message in log output")
	}
}

func TestWithContext_AddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	ctx := pcontext.WithPipeline(pcontext.WithRunID(context.Background(), "run-42"), "demo")
	logger.WithContext(ctx, base).Info("hello")

	output := buf.String()
	if !strings.Contains(output, "run_id=run-42") {
		t.Errorf("expected run_id field, got %q", output)
	}
	if !strings.Contains(output, "pipeline=demo") {
		t.Errorf("expected pipeline field, got %q", output)
	}
}

func TestWithContext_LayeredStageKeepsRunFields(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	ctx := pcontext.ForRun(context.Background(), "run-42", "demo")
	ctx = pcontext.WithStage(ctx, "build")
	ctx = pcontext.WithOperation(ctx, pcontext.OperationBuild)
	logger.WithContext(ctx, base).Info("hello")

	output := buf.String()
	for _, want := range []string{"[build] hello", "operation=build", "pipeline=demo", "run_id=run-42"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
	if strings.Contains(output, "service=") {
		t.Errorf("unexpected service field in %q", output)
	}
}

func TestFileSink_TranscriptLevels(t *testing.T) {
	root := t.TempDir()
	sink := logger.NewFileSink(root, nil)

	sink.StartLogging("demo", "lint")
	sink.Log(types.LogLevelWarn, "unused import\n")
	sink.Log(types.LogLevelDebug, "cache hit")
	if err := sink.SaveLogs(); err != nil {
		t.Fatalf("SaveLogs failed: %v", err)
	}

	data, err := os.ReadFile(logger.LogPath(root, "demo", "lint"))
	if err != nil {
		t.Fatalf("lint log missing: %v", err)
	}
	log := string(data)
	if !strings.Contains(log, "=== lint started at") {
		t.Errorf("missing header: %q", log)
	}
	if !strings.Contains(log, "WARN unused import\n") {
		t.Errorf("expected warn line, got %q", log)
	}
	if !strings.Contains(log, "DEBUG cache hit") {
		t.Errorf("expected debug line, got %q", log)
	}
	if strings.Contains(log, "\x1b[") {
		t.Errorf("transcript should not contain color codes: %q", log)
	}
}

func TestFileSink_WritesPerStageFiles(t *testing.T) {
	root := t.TempDir()
	var console bytes.Buffer
	sink := logger.NewFileSink(root, logger.CreateLoggerWithOutput("info", &console))

	sink.StartLogging("demo", "build")
	sink.Log(types.LogLevelInfo, "compiling")
	sink.StartLogging("demo", "test")
	sink.Log(types.LogLevelError, "assertion failed")
	if err := sink.SaveLogs(); err != nil {
		t.Fatalf("SaveLogs failed: %v", err)
	}

	build, err := os.ReadFile(filepath.Join(root, "demo", "logs", "build.log"))
	if err != nil {
		t.Fatalf("build log missing: %v", err)
	}
	if !strings.Contains(string(build), "INFO compiling") {
		t.Errorf("unexpected build log: %q", build)
	}
	if strings.Contains(string(build), "assertion failed") {
		t.Error("test output leaked into build log")
	}

	testLog, err := os.ReadFile(logger.LogPath(root, "demo", "test"))
	if err != nil {
		t.Fatalf("test log missing: %v", err)
	}
	if !strings.Contains(string(testLog), "ERROR assertion failed") {
		t.Errorf("unexpected test log: %q", testLog)
	}

	if !strings.Contains(console.String(), "[test] assertion failed") {
		t.Errorf("expected console mirror, got %q", console.String())
	}
}

func TestFileSink_LogWithoutStart(t *testing.T) {
	sink := logger.NewFileSink(t.TempDir(), nil)
	sink.Log(types.LogLevelInfo, "dropped")
	if err := sink.SaveLogs(); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

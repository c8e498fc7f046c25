package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/conveyor/pkg/config"
	"github.com/poltergeist/conveyor/pkg/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadConfig_JSON(t *testing.T) {
	doc := map[string]interface{}{
		"name": "shop",
		"buildStages": []map[string]interface{}{
			{"name": "build", "commands": []string{"make"}, "timeout": 120, "retries": 2},
		},
		"services": []map[string]interface{}{
			{"name": "db", "image": "postgres:16", "healthCheck": map[string]interface{}{"test": "pg_isready", "retries": 5}},
			{"name": "api", "image": "shop-api", "dependsOn": []string{"db"}, "ports": []map[string]interface{}{{"container": 8080, "host": 80}}},
		},
	}
	data, _ := json.Marshal(doc)
	path := writeFile(t, "pipeline.json", string(data))

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Name != "shop" {
		t.Errorf("expected name shop, got %s", cfg.Name)
	}
	if len(cfg.BuildStages) != 1 || cfg.BuildStages[0].Timeout != 120 || cfg.BuildStages[0].Retries != 2 {
		t.Errorf("unexpected stages %+v", cfg.BuildStages)
	}
	if len(cfg.Services) != 2 || cfg.Services[1].Ports[0].Host != 80 || cfg.Services[0].HealthCheck.Retries != 5 {
		t.Errorf("unexpected services %+v", cfg.Services)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", `
name: shop
buildStages:
  - name: build
    commands: ["go build ./..."]
    timeout: 1m30s
    environment:
      CGO_ENABLED: 0
      GOOS: linux
services:
  - name: cache
    image: redis:7
    healthCheck:
      test: redis-cli ping
      interval: 500ms
    volumes:
      - host: ./data
        container: /data
        readOnly: true
`)

	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	st := cfg.BuildStages[0]
	if st.Timeout != 90 {
		t.Errorf("expected 90s timeout, got %v", st.Timeout)
	}
	if st.Environment["CGO_ENABLED"] != "0" || st.Environment["GOOS"] != "linux" {
		t.Errorf("environment keys or values altered: %v", st.Environment)
	}
	svc := cfg.Services[0]
	if svc.HealthCheck.Interval != 0.5 {
		t.Errorf("expected 0.5s interval, got %v", svc.HealthCheck.Interval)
	}
	if len(svc.Volumes) != 1 || !svc.Volumes[0].ReadOnly {
		t.Errorf("unexpected volumes %+v", svc.Volumes)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{"missing name", `buildStages: []`, "name"},
		{"unknown field", "name: x\ntargets: []", "targets"},
		{"negative retries", "name: x\nbuildStages:\n  - name: a\n    retries: -1", "retries"},
		{"service without image", "name: x\nservices:\n  - name: db", "image"},
		{"bad port", "name: x\nservices:\n  - name: db\n    image: db\n    ports:\n      - container: 70000", "container"},
		{"duplicate stage", "name: x\nbuildStages:\n  - name: a\n    commands: [make]\n  - name: a\n    commands: [make]", "duplicate stage name"},
		{"service cycle", "name: x\nservices:\n  - {name: a, image: a, dependsOn: [b]}\n  - {name: b, image: b, dependsOn: [a]}", "circular"},
		{"unknown dependency", "name: x\nservices:\n  - {name: a, image: a, dependsOn: [ghost]}", "a -> ghost"},
		{"bad memory", "name: x\nservices:\n  - {name: a, image: a, resources: {memory: lots}}", "invalid memory limit"},
		{"not yaml", "name: [unclosed", "failed to parse"},
		{"empty", "", "empty pipeline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewManager().Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("expected %q in %q", tt.contains, err.Error())
			}
		})
	}
}

func TestLoadConfig_ConfigurationErrorType(t *testing.T) {
	_, err := config.NewManager().Parse([]byte("name: x\nservices:\n  - {name: a, image: a, dependsOn: [a]}"))
	if !types.IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %T %v", err, err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.NewManager().LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestValidate_Warnings(t *testing.T) {
	result := config.Validate(&types.PipelineConfig{
		Name: "x",
		BuildStages: []types.BuildStage{
			{Name: "test", Commands: []string{"go test"}, Dependencies: []string{"build"}, Timeout: 10},
			{Name: "build", Commands: []string{"go build"}, Timeout: 10},
			{Name: "empty"},
		},
	})

	if !result.Valid {
		t.Fatalf("expected valid result, got %v", result.Errors)
	}
	warnings := result.Problems(config.ValidationLevelWarning)
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if warnings[0].Subject != "test" || warnings[0].Field != "dependencies" {
		t.Errorf("unexpected warning %v", warnings[0])
	}
	if warnings[1].Subject != "empty" || warnings[1].Field != "commands" {
		t.Errorf("unexpected warning %v", warnings[1])
	}
}

func TestExample_IsValid(t *testing.T) {
	m := config.NewManager()
	data, err := yaml.Marshal(m.Example("demo"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if _, err := m.Parse(data); err != nil {
		t.Errorf("example does not validate: %v", err)
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := config.LoadSettings(viper.New(), "", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Workspace != ".conveyor" || s.LogLevel != "info" || s.StateBackend != config.StateBackendFile {
		t.Errorf("unexpected defaults %+v", s)
	}
	if s.PollInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %s", s.PollInterval)
	}
	if s.DatabasePath() != filepath.Join(".conveyor", "conveyor.db") {
		t.Errorf("unexpected database path %s", s.DatabasePath())
	}
}

func TestLoadSettings_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	content := "workspace: /var/conveyor\nlog_level: warn\npoll_interval: 250ms\nnotifications:\n  enabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, "conveyor.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONVEYOR_LOG_LEVEL", "debug")
	t.Setenv("CONVEYOR_STATE_BACKEND", "both")

	s, err := config.LoadSettings(viper.New(), "", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Workspace != "/var/conveyor" {
		t.Errorf("expected workspace from file, got %s", s.Workspace)
	}
	if s.LogLevel != "debug" {
		t.Errorf("environment should override file, got %s", s.LogLevel)
	}
	if s.StateBackend != config.StateBackendBoth {
		t.Errorf("expected both backend, got %s", s.StateBackend)
	}
	if s.PollInterval != 250*time.Millisecond || !s.Notifications.Enabled {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "bad backend", env: map[string]string{"CONVEYOR_STATE_BACKEND": "etcd"}},
		{name: "bad level", env: map[string]string{"CONVEYOR_LOG_LEVEL": "loud"}},
		{name: "explicit file missing", file: "/nonexistent/conveyor.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := config.LoadSettings(viper.New(), tt.file, t.TempDir()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

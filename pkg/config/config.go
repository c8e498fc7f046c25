// Package config loads and validates pipeline definitions
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/conveyor/pkg/types"
)

//go:embed schema.json
var pipelineSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(pipelineSchema))
	})
	return compiledSchema, compileErr
}

// Manager loads pipeline files
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig reads a pipeline file, validates it against the pipeline
// schema and the semantic rules, and decodes it. YAML and JSON are accepted
// regardless of the file extension.
func (m *Manager) LoadConfig(path string) (*types.PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := m.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Parse decodes and validates a pipeline document
func (m *Manager) Parse(data []byte) (*types.PipelineConfig, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", err)
	}
	if doc == nil {
		return nil, &types.ConfigurationError{Reason: "empty pipeline definition"}
	}

	problems, err := ValidateSchema(doc)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		return nil, &types.ConfigurationError{Reason: "schema validation failed: " + strings.Join(problems, "; ")}
	}

	cfg, err := decode(doc)
	if err != nil {
		return nil, err
	}

	if result := Validate(cfg); !result.Valid {
		return nil, result.Err()
	}
	return cfg, nil
}

// ValidateSchema checks a decoded document against the pipeline schema and
// returns one description per violation
func ValidateSchema(doc interface{}) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling pipeline schema: %w", err)
	}

	// round-trip through JSON so YAML-only scalar types are normalised
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise pipeline document: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating pipeline: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

func decode(doc interface{}) (*types.PipelineConfig, error) {
	var cfg types.PipelineConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(durationSecondsHook()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, &types.ConfigurationError{Reason: err.Error()}
	}
	return &cfg, nil
}

// durationSecondsHook lets second-valued fields be written as Go durations
// such as "90s" or "1m30s"
func durationSecondsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Float64 {
			return data, nil
		}
		d, err := time.ParseDuration(data.(string))
		if err != nil {
			return data, nil
		}
		return d.Seconds(), nil
	}
}

// Example returns a small pipeline showing every section
func (m *Manager) Example(name string) *types.PipelineConfig {
	return &types.PipelineConfig{
		Name: name,
		BuildStages: []types.BuildStage{
			{Name: "build", Commands: []string{"go build ./..."}, Timeout: 300, Retries: 1},
			{Name: "test", Commands: []string{"go test ./..."}, Timeout: 600, Dependencies: []string{"build"}},
		},
		Services: []types.ServiceSpec{
			{
				Name:        "db",
				Image:       "postgres:16",
				Environment: map[string]string{"POSTGRES_PASSWORD": "postgres"},
				HealthCheck: types.HealthCheck{Test: "pg_isready", Interval: 2, Timeout: 5, Retries: 10},
			},
			{
				Name:      "api",
				Image:     name + "-api",
				Ports:     []types.PortMapping{{Container: 8080, Host: 8080}},
				DependsOn: []string{"db"},
			},
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read into Settings
const EnvPrefix = "CONVEYOR"

// State backends
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendBoth   = "both"
)

// NotificationSettings controls desktop notifications
type NotificationSettings struct {
	Enabled bool `mapstructure:"enabled"`
	Sound   bool `mapstructure:"sound"`
}

// Settings configures the engine itself, as opposed to a pipeline
type Settings struct {
	Workspace     string               `mapstructure:"workspace"`
	LogLevel      string               `mapstructure:"log_level"`
	LogFile       string               `mapstructure:"log_file"`
	PollInterval  time.Duration        `mapstructure:"poll_interval"`
	StateBackend  string               `mapstructure:"state_backend"`
	SQLitePath    string               `mapstructure:"sqlite_path"`
	Notifications NotificationSettings `mapstructure:"notifications"`
}

// SetDefaults registers the default engine settings on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".conveyor")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("state_backend", StateBackendFile)
	v.SetDefault("sqlite_path", "")
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.sound", false)
}

// LoadSettings reads engine settings from, in increasing precedence,
// defaults, the settings file (conveyor.yaml in dir unless file is set),
// CONVEYOR_* environment variables and any flags already bound to v
func LoadSettings(v *viper.Viper, file, dir string) (Settings, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("conveyor")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	err := v.Unmarshal(&s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, s.Validate()
}

// Validate checks setting values
func (s Settings) Validate() error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	switch s.StateBackend {
	case StateBackendFile, StateBackendSQLite, StateBackendBoth:
	default:
		return fmt.Errorf("invalid state backend %q (want file, sqlite or both)", s.StateBackend)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.PollInterval)
	}
	return nil
}

// DatabasePath returns the SQLite database location
func (s Settings) DatabasePath() string {
	if s.SQLitePath != "" {
		return s.SQLitePath
	}
	return filepath.Join(s.Workspace, "conveyor.db")
}

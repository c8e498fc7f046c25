// Package cli provides the command-line interface for conveyor
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/conveyor/internal/docker"
	"github.com/poltergeist/conveyor/pkg/config"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
)

// DefaultPipelineFile is read when --pipeline is not given
const DefaultPipelineFile = "pipeline.yaml"

// containerRuntime is a runtime the CLI must release after a run
type containerRuntime interface {
	interfaces.ContainerRuntime
	Close() error
}

// CLI holds the command tree and everything its commands share. Tests build
// one with NewCLIWithOutput instead of touching process globals.
type CLI struct {
	version      string
	settingsFile string
	pipelineFile string
	rootDir      string

	viper    *viper.Viper
	settings config.Settings
	logger   logger.Logger

	rootCmd  *cobra.Command
	output   io.Writer
	errorOut io.Writer

	// replaced in tests
	newRuntime func(logger.Logger) (containerRuntime, error)
}

// NewCLI creates the command tree
func NewCLI(version string) *CLI {
	c := &CLI{
		version:  version,
		viper:    viper.New(),
		output:   &syncWriter{w: os.Stdout},
		errorOut: &syncWriter{w: os.Stderr},
		newRuntime: func(log logger.Logger) (containerRuntime, error) {
			return docker.New(log)
		},
	}
	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(version string, output, errorOut io.Writer) *CLI {
	c := NewCLI(version)
	c.output = &syncWriter{w: output}
	c.errorOut = &syncWriter{w: errorOut}
	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)
	return c
}

// Execute runs the command line
func Execute(version string) error {
	return NewCLI(version).ExecuteContext(context.Background(), os.Args[1:])
}

// ExecuteContext runs the CLI with the given arguments
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "conveyor",
		Short: "Run build pipelines and deploy their services",
		Long: `conveyor runs a pipeline's build stages in order, then deploys its
services as containers in dependency order, waiting for each to report healthy.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.settingsFile, "config", "", "settings file (default: conveyor.yaml in --root)")
	flags.StringVarP(&c.pipelineFile, "pipeline", "f", DefaultPipelineFile, "pipeline definition (YAML or JSON)")
	flags.StringVar(&c.rootDir, "root", ".", "directory searched for the settings file")
	flags.String("workspace", "", "workspace directory for logs and state")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = c.viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = c.viper.BindPFlag("log_level", flags.Lookup("log-level"))

	c.rootCmd.Version = c.version
	c.rootCmd.SetVersionTemplate("conveyor v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newPlanCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(c.viper, c.settingsFile, c.rootDir)
	if err != nil {
		return err
	}
	c.settings = settings
	c.logger = logger.CreateLoggerWithOutput(settings.LogLevel, c.output)
	if settings.LogFile != "" {
		c.logger = logger.CreateLogger(settings.LogFile, settings.LogLevel)
	}

	if used := c.viper.ConfigFileUsed(); used != "" {
		c.logger.Debug("Using settings file", logger.WithField("file", used))
	}
	return nil
}

// Helper methods for structured output

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.GreenString("[conveyor]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "%s %s\n", color.RedString("[conveyor]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.CyanString("[conveyor]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.YellowString("[conveyor]"), message)
}

// syncWriter serialises writes from the logger and the progress reporter
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

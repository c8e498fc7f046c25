package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/conveyor/pkg/config"
	"github.com/poltergeist/conveyor/pkg/interfaces"
	"github.com/poltergeist/conveyor/pkg/logger"
	"github.com/poltergeist/conveyor/pkg/notifier"
	"github.com/poltergeist/conveyor/pkg/pipeline"
	"github.com/poltergeist/conveyor/pkg/process"
	"github.com/poltergeist/conveyor/pkg/stage"
	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

// progressInterval is how often `run` samples the executor for progress lines
const progressInterval = 250 * time.Millisecond

func (c *CLI) newRunCmd() *cobra.Command {
	var heartbeat time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline's build stages and deploy its services",
		Long: `Run executes every build stage in order and, when all of them succeed,
deploys the pipeline's services in dependency order. The first SIGINT or
SIGTERM stops the run gracefully; a second one exits immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd.Context(), heartbeat)
		},
	}

	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 30*time.Second, "interval between status log lines (0 disables)")
	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	var follow, asJSON bool

	cmd := &cobra.Command{
		Use:   "status [pipeline]",
		Short: "Show the latest run of a pipeline",
		Long: `Status prints the persisted record of the latest run. Without an argument
the pipeline named in the pipeline file is used. With --follow the record is
re-printed on every change until the run reaches a terminal status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.runStatus(cmd.Context(), name, follow, asJSON)
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "keep printing until the run finishes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state record")
	return cmd
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the stages and service deployment order without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPlan()
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "conveyor v%s\n", c.version)
		},
	}
}

func (c *CLI) loadPipeline() (*types.PipelineConfig, error) {
	cfg, err := config.NewManager().LoadConfig(c.pipelineFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// workspaceFor resolves the workspace the same way the executor does
func (c *CLI) workspaceFor(cfg *types.PipelineConfig) string {
	switch {
	case cfg != nil && cfg.Workspace != "":
		return cfg.Workspace
	case c.settings.Workspace != "":
		return c.settings.Workspace
	default:
		return pipeline.DefaultWorkspace
	}
}

func (c *CLI) databasePath(workspace string) string {
	if c.settings.SQLitePath != "" {
		return c.settings.SQLitePath
	}
	return filepath.Join(workspace, "conveyor.db")
}

func (c *CLI) openSQLite(workspace string) (*state.SQLiteStore, error) {
	path := c.databasePath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return state.OpenSQLiteStore(path)
}

// openSaver returns the store every snapshot of a run is written to
func (c *CLI) openSaver(workspace string) (state.Saver, func() error, error) {
	files := state.NewFileStore(workspace)
	switch c.settings.StateBackend {
	case config.StateBackendSQLite, config.StateBackendBoth:
		db, err := c.openSQLite(workspace)
		if err != nil {
			return nil, nil, err
		}
		if c.settings.StateBackend == config.StateBackendSQLite {
			return db, db.Close, nil
		}
		return state.MultiSaver{files, db}, db.Close, nil
	default:
		return files, func() error { return nil }, nil
	}
}

// openReader returns the store `status` reads from
func (c *CLI) openReader(workspace string) (interfaces.StateStore, func() error, error) {
	if c.settings.StateBackend == config.StateBackendSQLite {
		db, err := c.openSQLite(workspace)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return state.NewFileStore(workspace), func() error { return nil }, nil
}

func needsRuntime(cfg *types.PipelineConfig) bool {
	if len(cfg.Services) > 0 {
		return true
	}
	for _, st := range cfg.BuildStages {
		if st.Dockerfile != "" {
			return true
		}
	}
	return false
}

func (c *CLI) runPipeline(ctx context.Context, heartbeat time.Duration) error {
	cfg, err := c.loadPipeline()
	if err != nil {
		c.printError(fmt.Sprintf("Invalid pipeline: %v", err))
		return err
	}
	for _, w := range config.Validate(cfg).Problems(config.ValidationLevelWarning) {
		c.printWarning(w.Error())
	}

	workspace := c.workspaceFor(cfg)
	log := c.logger

	deps := pipeline.Dependencies{Logger: log}
	if needsRuntime(cfg) {
		rt, err := c.newRuntime(log)
		if err != nil {
			return fmt.Errorf("failed to connect to container runtime: %w", err)
		}
		defer rt.Close()
		deps.Runtime = rt
	}

	store, closeStore, err := c.openSaver(workspace)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("Failed to close state store", logger.WithError(err))
		}
	}()

	monitor := notifier.New(notifier.Config{
		Enabled: c.settings.Notifications.Enabled,
		Sound:   c.settings.Notifications.Sound,
	}, log)
	deps.Store = store
	deps.Monitor = monitor
	deps.Notifier = monitor
	deps.Logs = logger.NewFileSink(workspace, log)

	executor := pipeline.New(deps, pipeline.Options{
		Workspace: workspace,
		Stage:     stage.Config{PollInterval: c.settings.PollInterval},
	})

	pm := process.NewManager(log)
	pm.RegisterShutdownHandler(executor.Stop)
	if heartbeat > 0 {
		pm.SetHeartbeat(heartbeat, func() {
			s := executor.Status()
			log.Info("Pipeline heartbeat",
				logger.WithField("status", s.Status),
				logger.WithField("stage", s.CurrentStageName()),
				logger.WithField("elapsed", notifier.FormatDuration(s.Duration())))
		})
	}
	pm.Start(ctx)
	defer pm.Stop()

	c.printInfo(fmt.Sprintf("Running pipeline %s (%d stages, %d services)",
		cfg.Name, len(cfg.BuildStages), len(cfg.Services)))

	g, gctx := process.NewSafeGroup(ctx, log)
	done := make(chan struct{})
	var ok bool
	g.Go(func() error {
		defer close(done)
		ok = executor.Execute(gctx, *cfg)
		return nil
	})
	g.Go(func() error {
		c.reportProgress(done, executor.Status, progressInterval)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	final := executor.Status()
	for _, t := range monitor.Timings() {
		log.Debug("Stage timing",
			logger.WithField("stage", t.Stage),
			logger.WithField("duration", notifier.FormatDuration(t.Duration)))
	}
	fmt.Fprintln(c.output, renderStatus(final))

	if !ok {
		title, message := notifier.Summary(final)
		c.printError(fmt.Sprintf("%s: %s", title, message))
		return fmt.Errorf("pipeline %s %s", cfg.Name, final.Status)
	}
	c.printSuccess(fmt.Sprintf("Pipeline %s completed in %s", cfg.Name, notifier.FormatDuration(final.Duration())))
	return nil
}

// reportProgress prints a line whenever the run enters a stage, starts
// deploying a service or finishes deploying one, until done is closed
func (c *CLI) reportProgress(done <-chan struct{}, status func() state.ExecutionState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStage, lastDeploying string
	deployed := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		s := status()
		if st := s.CurrentStageName(); st != "" && st != lastStage {
			lastStage = st
			c.printInfo(fmt.Sprintf("Stage %s running", st))
		}
		if svc := s.Metadata["deploying"]; svc != "" && svc != lastDeploying {
			lastDeploying = svc
			c.printInfo(fmt.Sprintf("Deploying %s", svc))
		}
		if len(s.DeployedServices) > deployed {
			for _, svc := range s.DeployedServices[deployed:] {
				c.printSuccess(fmt.Sprintf("Service %s is healthy", svc))
			}
			deployed = len(s.DeployedServices)
		}
	}
}

func (c *CLI) runStatus(ctx context.Context, name string, follow, asJSON bool) error {
	workspace := c.workspaceFor(nil)
	if name == "" {
		cfg, err := c.loadPipeline()
		if err != nil {
			return fmt.Errorf("no pipeline given and %w", err)
		}
		name = cfg.Name
		workspace = c.workspaceFor(cfg)
	}

	if follow {
		if c.settings.StateBackend == config.StateBackendSQLite {
			return errors.New("--follow needs the file state backend")
		}
		return c.followStatus(ctx, state.NewFileStore(workspace).Path(name), asJSON)
	}

	store, closeStore, err := c.openReader(workspace)
	if err != nil {
		return err
	}
	defer closeStore()

	snapshot, err := store.Load(name)
	if errors.Is(err, os.ErrNotExist) {
		c.printWarning(fmt.Sprintf("Pipeline %s has not been run yet", name))
		return nil
	}
	if err != nil {
		return err
	}
	return c.printSnapshot(*snapshot, asJSON)
}

func (c *CLI) printSnapshot(s state.ExecutionState, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		fmt.Fprintln(c.output, string(data))
		return nil
	}
	fmt.Fprintln(c.output, renderStatus(s))
	return nil
}

func (c *CLI) followStatus(ctx context.Context, path string, asJSON bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan state.ExecutionState, 1)
	w := state.NewWatcher(path, c.logger)
	err := w.Start(ctx, func(s *state.ExecutionState, err error) {
		if err != nil {
			c.logger.Warn("Failed to read state", logger.WithError(err))
			return
		}
		// keep only the newest snapshot
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- *s:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Stop()

	c.printInfo(fmt.Sprintf("Following %s", path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-updates:
			if err := c.printSnapshot(s, asJSON); err != nil {
				return err
			}
			if s.Status.IsTerminal() {
				return nil
			}
		}
	}
}

func (c *CLI) runValidate() error {
	data, err := os.ReadFile(c.pipelineFile)
	if err != nil {
		return fmt.Errorf("failed to read pipeline file: %w", err)
	}

	cfg, err := config.NewManager().Parse(data)
	if err != nil {
		c.printError(fmt.Sprintf("%s is invalid", c.pipelineFile))
		fmt.Fprintf(c.errorOut, "  ✗ %v\n", err)
		return err
	}

	result := config.Validate(cfg)
	if warnings := result.Problems(config.ValidationLevelWarning); len(warnings) > 0 {
		c.printWarning("Pipeline warnings:")
		for _, w := range warnings {
			fmt.Fprintf(c.output, "  ⚠ %s\n", w.Error())
		}
	}
	for _, info := range result.Problems(config.ValidationLevelInfo) {
		c.logger.Debug(info.Error())
	}

	c.printSuccess(fmt.Sprintf("Pipeline %s is valid (%d stages, %d services)",
		cfg.Name, len(cfg.BuildStages), len(cfg.Services)))
	return nil
}

func (c *CLI) runPlan() error {
	cfg, err := c.loadPipeline()
	if err != nil {
		c.printError(fmt.Sprintf("Invalid pipeline: %v", err))
		return err
	}

	plan, err := pipeline.NewPlan(*cfg, c.workspaceFor(cfg))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.output, renderPlan(plan))
	return nil
}

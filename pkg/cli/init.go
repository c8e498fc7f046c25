package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/conveyor/pkg/config"
)

var pipelineName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func (c *CLI) newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Write an example pipeline definition",
		Long: `Init writes an example pipeline to the --pipeline path. The pipeline is
named after the current directory unless a name is given. A path ending in
.json produces JSON, anything else YAML.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.runInit(name, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pipeline file")
	return cmd
}

func (c *CLI) runInit(name string, force bool) error {
	path := c.pipelineFile

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", path)
	}

	if name == "" {
		name = defaultPipelineName(path)
	}
	if !pipelineName.MatchString(name) {
		return fmt.Errorf("invalid pipeline name %q", name)
	}

	example := config.NewManager().Example(name)

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(example, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(example)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pipeline: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Created %s", path))
	c.printInfo("Edit the stages and services, then run 'conveyor validate'")
	return nil
}

// defaultPipelineName derives a name from the directory holding path
func defaultPipelineName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "app"
	}
	base := strings.ToLower(filepath.Base(filepath.Dir(abs)))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, base)
	base = strings.TrimLeft(base, "-_.")
	if base == "" {
		return "app"
	}
	return base
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/poltergeist/conveyor/pkg/notifier"
	"github.com/poltergeist/conveyor/pkg/pipeline"
	"github.com/poltergeist/conveyor/pkg/state"
	"github.com/poltergeist/conveyor/pkg/types"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
	valueStyle  = lipgloss.NewStyle()
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	statusStyles = map[types.PipelineStatus]lipgloss.Style{
		types.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		types.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		types.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		types.StatusStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
)

type row struct {
	key   string
	value string
}

func renderBox(title string, rows []row) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(keyStyle.Render(r.key))
		b.WriteString(" ")
		b.WriteString(valueStyle.Render(r.value))
	}
	return borderStyle.Render(b.String())
}

func list(items []string) string {
	if len(items) == 0 {
		return mutedStyle.Render("-")
	}
	return strings.Join(items, ", ")
}

func renderStatus(s state.ExecutionState) string {
	status := string(s.Status)
	if style, ok := statusStyles[s.Status]; ok {
		status = style.Render(status)
	}

	rows := []row{
		{"Status", status},
		{"Run", s.RunID},
		{"Started", s.StartTime.Format(time.RFC3339)},
		{"Duration", notifier.FormatDuration(s.Duration())},
	}
	if stage := s.CurrentStageName(); stage != "" {
		rows = append(rows, row{"Stage", stage})
	}
	if svc := s.Metadata["deploying"]; svc != "" {
		rows = append(rows, row{"Deploying", svc})
	}
	rows = append(rows,
		row{"Completed", list(s.CompletedStages)},
		row{"Failed", list(s.FailedStages)},
		row{"Deployed", list(s.DeployedServices)},
	)
	if msg := s.ErrorMessage(); msg != "" {
		rows = append(rows, row{"Error", statusStyles[types.StatusFailed].Render(msg)})
	}
	return renderBox("Pipeline "+s.PipelineName, rows)
}

func renderPlan(p pipeline.Plan) string {
	rows := []row{{"Directory", p.Directory}}

	for i, st := range p.Stages {
		detail := fmt.Sprintf("%d commands, %d attempts", len(st.Commands), st.Attempts)
		if st.Timeout > 0 {
			detail += ", timeout " + st.Timeout.String()
		}
		if st.Image != "" {
			detail += ", image " + st.Image
		}
		rows = append(rows, row{fmt.Sprintf("Stage %d", i+1), st.Name + " " + mutedStyle.Render("("+detail+")")})
	}
	if len(p.Stages) == 0 {
		rows = append(rows, row{"Stages", list(nil)})
	}

	for i, svc := range p.Services {
		detail := "container " + svc.Container + ", image " + svc.Image
		if len(svc.DependsOn) > 0 {
			detail += ", after " + strings.Join(svc.DependsOn, ", ")
		}
		if svc.HealthCheck != "" {
			detail += ", probe " + svc.HealthCheck
		}
		rows = append(rows, row{fmt.Sprintf("Deploy %d", i+1), svc.Name + " " + mutedStyle.Render("("+detail+")")})
	}
	if len(p.Services) == 0 {
		rows = append(rows, row{"Services", list(nil)})
	}

	return renderBox("Plan for "+p.Pipeline, rows)
}

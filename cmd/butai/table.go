package main

import (
	"fmt"
	"time"

	"github.com/harunnryd/butai/internal/orchestrator"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type instanceFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func newInstanceFormatter() *instanceFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &instanceFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *instanceFormatter) FormatInstances(instances []orchestrator.InstanceStatus) string {
	if len(instances) == 0 {
		return "No instances found"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers("Run ID", "Project", "Template", "Port", "Running", "Age")

	for _, inst := range instances {
		t.Row(
			inst.RunID,
			truncateString(inst.ProjectName, 24),
			truncateString(inst.TemplateName, 24),
			fmt.Sprintf("%d", inst.AllocatedPort),
			fmt.Sprintf("%t", inst.Running),
			formatAge(inst.StartTime),
		)
	}

	return t.String()
}

func (f *instanceFormatter) FormatInstance(inst *orchestrator.InstanceStatus) string {
	if inst == nil {
		return "No instance found"
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})

	t.Row("Run ID", inst.RunID)
	t.Row("Project", inst.ProjectName)
	t.Row("Template", inst.TemplateName)
	t.Row("Started", inst.StartTime.Format(time.RFC3339))
	t.Row("Preview URL", inst.PreviewURL)
	t.Row("Tunnel URL", inst.TunnelURL)
	t.Row("Process", inst.ProcessID)
	t.Row("Port", fmt.Sprintf("%d", inst.AllocatedPort))
	t.Row("Running", fmt.Sprintf("%t", inst.Running))

	return t.String()
}

func formatCreateResult(result *orchestrator.CreateResult) string {
	out := fmt.Sprintf("Instance %s created (%s)\n", result.RunID, result.Status)
	if result.PreviewURL != "" {
		out += fmt.Sprintf("  Preview: %s\n", result.PreviewURL)
	}
	if result.TunnelURL != "" {
		out += fmt.Sprintf("  Tunnel:  %s\n", result.TunnelURL)
	}
	if !result.Ready {
		out += "  Dev server not confirmed ready yet\n"
	}
	return out
}

func formatAge(start time.Time) string {
	if start.IsZero() {
		return "-"
	}
	return time.Since(start).Truncate(time.Second).String()
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
)

func renderRunsTable(table *tview.Table, runs []domain.RunSummary, selectedTaskID string) {
	table.Clear()
	headers := []string{"Run", "Status", "Execs", "Updated", "Task"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.TaskID)))
		table.SetCell(row, 1, tview.NewTableCell(string(r.Status)).SetTextColor(statusColor(r.Status)))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", r.Executions)))
		table.SetCell(row, 3, tview.NewTableCell(r.UpdatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(r.OriginalTask, 64)))
		if r.TaskID == selectedTaskID {
			table.Select(row, 0)
		}
	}
}

func statusColor(s domain.Status) tcell.Color {
	switch s {
	case domain.StatusCompleted:
		return tcell.ColorGreen
	case domain.StatusFailed:
		return tcell.ColorRed
	case domain.StatusPending:
		return tcell.ColorGray
	default:
		return tcell.ColorYellow
	}
}

// renderPlan shows what the analyzer detected and how it was matched.
func renderPlan(state domain.GraphState) string {
	if len(state.DetectedCapabilities) == 0 {
		if state.Error != "" {
			return "[red]" + tview.Escape(state.Error) + "[-]"
		}
		return "No capabilities yet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", tview.Escape(state.OriginalTask))
	for _, c := range state.DetectedCapabilities {
		m, ok := state.Match(c)
		switch {
		case !ok:
			fmt.Fprintf(&b, "[yellow]%s[-]\n", c)
		case m.Matched:
			fmt.Fprintf(&b, "[green]%s[-] -> %s\n", c, strings.Join(m.AgentIDs, ", "))
		default:
			fmt.Fprintf(&b, "[red]%s[-] -> no agent\n", c)
		}
		if deps := state.Dependencies[c]; len(deps) > 0 {
			fmt.Fprintf(&b, "  after: %s\n", strings.Join(deps, ", "))
		}
		if sub := state.Subtasks[c]; sub != "" && sub != state.OriginalTask {
			fmt.Fprintf(&b, "  subtask: %s\n", tview.Escape(trimLine(sub, 100)))
		}
	}
	return b.String()
}

func renderExecutions(items []domain.ExecutionRecord) string {
	if len(items) == 0 {
		return "No executions"
	}
	var b strings.Builder
	for _, rec := range items {
		mark := "[green]ok[-]"
		if !rec.Success {
			mark = "[red]failed[-]"
		}
		fmt.Fprintf(&b, "[%s] %s %s via %s  %dms\n",
			rec.StartedAt.Local().Format("15:04:05"),
			mark,
			rec.Capability,
			rec.AgentID,
			rec.DurationMS,
		)
		if rec.Error != "" {
			b.WriteString("  error: " + tview.Escape(trimLine(rec.Error, 120)) + "\n")
		} else {
			b.WriteString("  output: " + tview.Escape(trimLine(firstLine(rec.OutputText), 120)) + "\n")
		}
	}
	return b.String()
}

func renderOutput(state domain.GraphState) string {
	switch {
	case state.FinalOutput != "":
		var b strings.Builder
		if state.Synthesis != nil {
			fmt.Fprintf(&b, "[::d]synthesized from %s in %dms[::-]\n\n", strings.Join(state.Synthesis.Sources, ", "), state.Synthesis.DurationMS)
		}
		b.WriteString(tview.Escape(state.FinalOutput))
		return b.String()
	case state.Status == domain.StatusFailed:
		return "[red]" + tview.Escape(state.Error) + "[-]"
	case state.Status.IsFinal():
		return "No output"
	default:
		return "Running..."
	}
}

func renderEvent(ev domain.Event) string {
	ts := ev.Timestamp.Local().Format("15:04:05")
	id := shortID(ev.TaskID)
	switch ev.Type {
	case domain.EventNodeStarted, domain.EventNodeCompleted:
		if ev.Error != "" {
			return fmt.Sprintf("[%s] %s %s %s [red]%s[-]", ts, id, ev.Type, ev.Node, tview.Escape(trimLine(ev.Error, 80)))
		}
		return fmt.Sprintf("[%s] %s %s %s", ts, id, ev.Type, ev.Node)
	case domain.EventExecutionStarted:
		return fmt.Sprintf("[%s] %s %s %s via %s", ts, id, ev.Type, ev.Capability, ev.AgentID)
	case domain.EventExecutionCompleted:
		ok := ev.Success != nil && *ev.Success
		return fmt.Sprintf("[%s] %s %s %s success=%t %dms", ts, id, ev.Type, ev.Capability, ok, ev.DurationMS)
	case domain.EventRunFailed:
		return fmt.Sprintf("[%s] %s [red]%s[-] %s", ts, id, ev.Type, tview.Escape(trimLine(ev.Error, 80)))
	case domain.EventRunCompleted:
		return fmt.Sprintf("[%s] %s [green]%s[-]", ts, id, ev.Type)
	default:
		return fmt.Sprintf("[%s] %s %s", ts, id, ev.Type)
	}
}

func renderAgents(items []agent.Info) string {
	if len(items) == 0 {
		return "No agents"
	}
	items = slices.Clone(items)
	slices.SortFunc(items, func(a, b agent.Info) int { return strings.Compare(a.ID, b.ID) })
	var b strings.Builder
	for _, a := range items {
		fmt.Fprintf(&b, "%-12s %s\n", a.ID, strings.Join(a.Capabilities, ", "))
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

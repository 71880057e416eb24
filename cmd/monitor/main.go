package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agentrouter/internal/domain"
)

const maxEventLines = 500

type embeddedServer struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8091", "agentrouter base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", true, "start agentrouter serve for the lifetime of the monitor")
	serverBinary := flag.String("agentrouter-bin", "", "path to the agentrouter binary (optional in embedded mode)")
	configPath := flag.String("config", "", "config file handed to the embedded server")
	flag.Parse()

	c := newClient(*addr)

	if *embedded {
		proc, err := startEmbeddedServer(*addr, *serverBinary, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded server: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "agentrouter health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, Ctrl+X cancel, F10 quit)").SetBorder(true)

	agentsView := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	planView := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	planView.SetTitle("Plan").SetBorder(true)

	executionsView := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	executionsView.SetTitle("Executions").SetBorder(true)

	outputView := tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	outputView.SetTitle("Output").SetBorder(true)

	eventsView := tview.NewTextView().SetDynamicColors(true).SetWrap(false).SetMaxLines(maxEventLines)
	eventsView.SetTitle("Live events").SetBorder(true)
	eventsView.SetChangedFunc(func() { app.Draw() })

	promptInput := tview.NewInputField().
		SetLabel("Task -> agentrouter: ")
	promptInput.SetBorder(true).SetTitle("Enter = start run")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus runs, Ctrl+X cancel run",
		c.baseURL,
		*embedded,
	))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(runsTable, 0, 3, false).
		AddItem(agentsView, 10, 0, false)
	rightTop := tview.NewFlex().
		AddItem(planView, 0, 1, false).
		AddItem(executionsView, 0, 2, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 2, false).
		AddItem(outputView, 0, 2, false).
		AddItem(eventsView, 0, 1, false)

	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var (
		mu             sync.Mutex
		selectedTaskID string
		lastRuns       []domain.RunSummary
		detailsVersion uint64
	)
	selected := func() string {
		mu.Lock()
		defer mu.Unlock()
		return selectedTaskID
	}
	selectTask := func(id string) {
		mu.Lock()
		selectedTaskID = id
		mu.Unlock()
	}

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshRuns := func() {
		runs, err := c.listRuns(100)
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		mu.Lock()
		lastRuns = runs
		if selectedTaskID == "" && len(runs) > 0 {
			selectedTaskID = runs[0].TaskID
		}
		current := selectedTaskID
		mu.Unlock()
		app.QueueUpdateDraw(func() {
			renderRunsTable(runsTable, runs, current)
		})
	}

	refreshAgents := func() {
		agents, err := c.listAgents()
		app.QueueUpdateDraw(func() {
			if err != nil {
				agentsView.SetText(fmt.Sprintf("error: %v", err))
				return
			}
			agentsView.SetText(renderAgents(agents))
		})
	}

	refreshDetailsAsync := func(taskID string) {
		if strings.TrimSpace(taskID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)
		go func(id string, v uint64) {
			state, err := c.getRun(id)
			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if id != selected() {
					return
				}
				if err != nil {
					planView.SetText(fmt.Sprintf("error: %v", err))
					executionsView.Clear()
					outputView.Clear()
					return
				}
				planView.SetText(renderPlan(state))
				executionsView.SetText(renderExecutions(state.Executions))
				outputView.SetText(renderOutput(state))
			})
		}(taskID, version)
	}

	submitPrompt := func(prompt string) {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}
		setStatusUI("Starting run...")
		promptInput.SetText("")
		go func(input string) {
			taskID, err := c.startRun(input)
			if err != nil {
				setStatusAsync("Failed to start run: " + err.Error())
				return
			}
			selectTask(taskID)
			refreshRuns()
			refreshDetailsAsync(taskID)
			setStatusAsync("Run started: " + taskID)
		}(prompt)
	}

	cancelSelected := func() {
		id := selected()
		if id == "" {
			return
		}
		go func() {
			if err := c.cancelRun(id); err != nil {
				setStatusAsync("Cancel failed: " + err.Error())
				return
			}
			setStatusAsync("Cancel requested: " + id)
		}()
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	runsTable.SetSelectedFunc(func(row, _ int) {
		mu.Lock()
		if row <= 0 || row > len(lastRuns) {
			mu.Unlock()
			return
		}
		id := lastRuns[row-1].TaskID
		selectedTaskID = id
		mu.Unlock()
		refreshDetailsAsync(id)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(runsTable)
				setStatusUI("Focus -> runs")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(runsTable)
			setStatusUI("Focus -> runs")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshRuns()
				refreshAgents()
				refreshDetailsAsync(selected())
			}()
			setStatusUI("Manual refresh")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyCtrlX:
			cancelSelected()
			return nil
		case tcell.KeyRune:
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		for ctx.Err() == nil {
			err := c.follow(ctx, func(ev domain.Event) {
				fmt.Fprintln(eventsView, renderEvent(ev))
				if ev.TaskID == selected() && (ev.IsTerminal() || ev.Type == domain.EventExecutionCompleted || ev.Type == domain.EventNodeCompleted) {
					refreshDetailsAsync(ev.TaskID)
				}
			})
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				setStatusAsync("Event stream: " + err.Error())
			}
			time.Sleep(time.Second)
		}
	}()

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshAgents()
		refreshRuns()
		refreshDetailsAsync(selected())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshRuns()
				refreshDetailsAsync(selected())
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := c.health(); err == nil {
			return nil
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func startEmbeddedServer(addr, binary, configPath string) (*embeddedServer, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"serve", "--addr", ":" + port, "--log-format", "json"}
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(binary) != "" {
		cmd = exec.Command(binary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			for _, name := range []string{"agentrouter", "agentrouter.exe"} {
				sibling := filepath.Join(filepath.Dir(self), name)
				if fileExists(sibling) {
					cmd = exec.Command(sibling, args...)
					break
				}
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/agentrouter"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	// Logs would corrupt the terminal UI.
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agentrouter process: %w", err)
	}
	return &embeddedServer{cmd: cmd}, nil
}

func (e *embeddedServer) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

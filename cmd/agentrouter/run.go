package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentrouter/internal/domain"
	"agentrouter/internal/orchestrator"
)

type runOptions struct {
	json   bool
	quiet  bool
	preset string
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task in-process and stream its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runTask(cmd.Context(), rt.runner, strings.Join(args, " "), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the final state as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print progress events")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "run a built-in pipeline instead of analyzing the task (chain, research)")
	return cmd
}

func runTask(ctx context.Context, runner *orchestrator.Runner, task string, out io.Writer, opts *runOptions) error {
	var runOpts []orchestrator.RunOption
	if opts.preset != "" {
		p, ok := orchestrator.LookupPreset(opts.preset)
		if !ok {
			return fmt.Errorf("unknown preset %q", opts.preset)
		}
		runOpts = append(runOpts, orchestrator.WithPreset(p))
	}
	taskID, err := runner.Start(ctx, task, runOpts...)
	if err != nil {
		return err
	}

	events, err := runner.Events(ctx, taskID)
	if err != nil {
		return err
	}
	for ev := range events {
		if !opts.quiet && !opts.json {
			printEvent(out, ev)
		}
	}
	if ctx.Err() != nil {
		runner.Cancel(taskID)
		runner.Wait()
	}

	state, err := runner.Get(context.WithoutCancel(ctx), taskID)
	if err != nil {
		return err
	}
	if opts.json {
		if err := writeIndented(out, state); err != nil {
			return err
		}
	} else {
		printResult(out, state)
	}
	if state.Status == domain.StatusFailed {
		return errors.New(state.Error)
	}
	return nil
}

func printEvent(w io.Writer, ev domain.Event) {
	dim := color.New(color.Faint).SprintFunc()
	ts := dim(ev.Timestamp.Format("15:04:05.000"))

	switch ev.Type {
	case domain.EventRunStarted:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.CyanString("▶ run"), ev.TaskID)
	case domain.EventNodeStarted:
		fmt.Fprintf(w, "%s   %s %s\n", ts, color.BlueString("→"), ev.Node)
	case domain.EventNodeCompleted:
		if ev.Error != "" {
			fmt.Fprintf(w, "%s   %s %s %s\n", ts, color.RedString("✗"), ev.Node, dim(ev.Error))
			return
		}
		fmt.Fprintf(w, "%s   %s %s %s\n", ts, color.GreenString("✓"), ev.Node, dim(fmt.Sprintf("%dms", ev.DurationMS)))
	case domain.EventExecutionStarted:
		fmt.Fprintf(w, "%s     %s %s %s\n", ts, color.YellowString("●"), ev.Capability, dim(ev.AgentID))
	case domain.EventExecutionCompleted:
		if ev.Success != nil && *ev.Success {
			fmt.Fprintf(w, "%s     %s %s %s\n", ts, color.GreenString("✓"), ev.Capability, dim(fmt.Sprintf("%s %dms", ev.AgentID, ev.DurationMS)))
			return
		}
		fmt.Fprintf(w, "%s     %s %s %s\n", ts, color.RedString("✗"), ev.Capability, dim(ev.Error))
	case domain.EventRunCompleted:
		fmt.Fprintf(w, "%s %s\n", ts, color.GreenString("■ completed"))
	case domain.EventRunFailed:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.RedString("■ failed"), ev.Error)
	}
}

func printResult(w io.Writer, state domain.GraphState) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w)
	bold.Fprintf(w, "Task %s: %s\n", state.TaskID, state.Status)
	if len(state.DetectedCapabilities) > 0 {
		fmt.Fprintf(w, "Capabilities: %s\n", strings.Join(state.DetectedCapabilities, ", "))
	}
	if state.Synthesis != nil {
		fmt.Fprintf(w, "Synthesized from: %s\n", strings.Join(state.Synthesis.Sources, ", "))
	}
	if state.FinalOutput != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, state.FinalOutput)
	}
}

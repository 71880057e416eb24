package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"agentrouter/internal/agent"
	"agentrouter/internal/orchestrator"
)

func newAgentsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the agents of the configured catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), catalog.Agents)
			}
			return printAgents(cmd.OutOrStdout(), catalog.Agents)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print definitions as JSON")
	return cmd
}

func newGraphCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the run graph as Mermaid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g := orchestrator.GraphStructure()
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), g)
			}
			_, err := io.WriteString(cmd.OutOrStdout(), g.Mermaid)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print nodes and edges as JSON")
	return cmd
}

func printAgents(w io.Writer, defs []agent.Definition) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(tw, "%s\t%s\t%s\n", header("ID"), header("KIND"), header("CAPABILITIES"))
	for _, d := range defs {
		kind := d.Kind
		if kind == "" {
			kind = agent.KindLLM
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, kind, strings.Join(capabilitiesOf(d), ", "))
	}
	return tw.Flush()
}

// capabilitiesOf reports the capabilities of builtins, which their
// definitions leave implicit.
func capabilitiesOf(d agent.Definition) []string {
	switch d.Kind {
	case agent.KindEcho:
		return agent.NewEcho(d.ID).Capabilities()
	case agent.KindCalculator:
		return agent.NewCalculator(d.ID).Capabilities()
	}
	return d.Capabilities
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

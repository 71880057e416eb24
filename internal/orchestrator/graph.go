package orchestrator

import (
	"fmt"
	"strings"

	"agentrouter/internal/domain"
)

const (
	GraphStart = "__start__"
	GraphEnd   = "__end__"
)

type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Conditional bool   `json:"conditional"`
	Label       string `json:"label,omitempty"`
}

// Structure describes the fixed run graph for visualisation.
type Structure struct {
	Nodes   []string `json:"nodes"`
	Edges   []Edge   `json:"edges"`
	Mermaid string   `json:"mermaid"`
}

func GraphStructure() Structure {
	nodes := []string{
		GraphStart,
		string(domain.NodeAnalyze),
		string(domain.NodeDiscover),
		string(domain.NodeExecute),
		string(domain.NodeSynthesize),
		GraphEnd,
	}
	edges := []Edge{
		{Source: GraphStart, Target: string(domain.NodeAnalyze)},
		{Source: string(domain.NodeAnalyze), Target: string(domain.NodeDiscover)},
		{Source: string(domain.NodeDiscover), Target: string(domain.NodeExecute)},
		{Source: string(domain.NodeExecute), Target: string(domain.NodeSynthesize), Conditional: true, Label: string(RouteSynthesize)},
		{Source: string(domain.NodeExecute), Target: GraphEnd, Conditional: true, Label: string(RouteEnd)},
		{Source: string(domain.NodeSynthesize), Target: GraphEnd},
	}
	return Structure{Nodes: nodes, Edges: edges, Mermaid: mermaid(nodes, edges)}
}

func mermaid(nodes []string, edges []Edge) string {
	var b strings.Builder
	b.WriteString("graph TD;\n")
	for _, n := range nodes {
		switch n {
		case GraphStart:
			fmt.Fprintf(&b, "\t%s([<p>%s</p>]):::first\n", n, n)
		case GraphEnd:
			fmt.Fprintf(&b, "\t%s([<p>%s</p>]):::last\n", n, n)
		default:
			fmt.Fprintf(&b, "\t%s(%s)\n", n, n)
		}
	}
	for _, e := range edges {
		if e.Conditional {
			fmt.Fprintf(&b, "\t%s -. &nbsp;%s&nbsp; .-> %s;\n", e.Source, e.Label, e.Target)
			continue
		}
		fmt.Fprintf(&b, "\t%s --> %s;\n", e.Source, e.Target)
	}
	b.WriteString("\tclassDef default fill:#f2f0ff,line-height:1.2\n")
	b.WriteString("\tclassDef first fill-opacity:0\n")
	b.WriteString("\tclassDef last fill:#bfb6fc\n")
	return b.String()
}

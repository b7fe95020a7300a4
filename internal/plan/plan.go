// Package plan renders the resolved release step list for humans and tools.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"git.home.luguber.info/inful/forkpack/internal/pipeline"
)

// Format represents the output format for plan rendering.
type Format string

const (
	FormatText    Format = "text"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatJSON    Format = "json"
)

// haltNode is the sink every checked step can fall into.
const haltNode = "halt"

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatText, FormatMermaid, FormatDOT, FormatJSON}
}

// Render produces a representation of steps in the given format.
func Render(format Format, steps []pipeline.StepDef) (string, error) {
	switch format {
	case FormatText:
		return renderText(steps), nil
	case FormatMermaid:
		return renderMermaid(steps), nil
	case FormatDOT:
		return renderDOT(steps)
	case FormatJSON:
		return renderJSON(steps)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

func renderText(steps []pipeline.StepDef) string {
	var sb strings.Builder
	sb.WriteString("Release Pipeline\n")
	sb.WriteString("================\n\n")
	checked := 0
	for i, st := range steps {
		fmt.Fprintf(&sb, "%2d. %-22s %s\n", i+1, st.Name, st.Policy)
		if st.Policy == pipeline.PolicyChecked {
			checked++
			if st.Diagnostic != "" {
				fmt.Fprintf(&sb, "    on failure: %s\n", st.Diagnostic)
			}
		}
	}
	fmt.Fprintf(&sb, "\nTotal: %d steps (%d checked, %d best-effort)\n", len(steps), checked, len(steps)-checked)
	return sb.String()
}

func renderMermaid(steps []pipeline.StepDef) string {
	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("graph TD\n")
	for _, st := range steps {
		shape := "[\"%s\"]"
		if st.Policy == pipeline.PolicyBestEffort {
			shape = "([\"%s\"])"
		}
		fmt.Fprintf(&sb, "    %s"+shape+"\n", mermaidID(st.Name), st.Name)
	}
	fmt.Fprintf(&sb, "    %s{{\"%s\"}}\n", haltNode, "exit 1")
	sb.WriteString("\n")
	for i, st := range steps {
		if i+1 < len(steps) {
			fmt.Fprintf(&sb, "    %s --> %s\n", mermaidID(st.Name), mermaidID(steps[i+1].Name))
		}
		if st.Policy == pipeline.PolicyChecked {
			fmt.Fprintf(&sb, "    %s -.->|\"%s\"| %s\n", mermaidID(st.Name), escapeQuotes(st.Diagnostic), haltNode)
		}
	}
	sb.WriteString("```\n")
	return sb.String()
}

func renderDOT(steps []pipeline.StepDef) (string, error) {
	g := graph.New(graph.StringHash, graph.Directed())

	for _, st := range steps {
		opts := []func(*graph.VertexProperties){graph.VertexAttribute("shape", "box")}
		if st.Policy == pipeline.PolicyBestEffort {
			opts = append(opts, graph.VertexAttribute("style", "dashed"))
		}
		if err := g.AddVertex(string(st.Name), opts...); err != nil {
			return "", fmt.Errorf("unable to add vertex %s: %w", st.Name, err)
		}
	}
	if err := g.AddVertex(haltNode, graph.VertexAttribute("shape", "octagon")); err != nil {
		return "", fmt.Errorf("unable to add vertex %s: %w", haltNode, err)
	}

	for i, st := range steps {
		if i+1 < len(steps) {
			if err := g.AddEdge(string(st.Name), string(steps[i+1].Name)); err != nil {
				return "", fmt.Errorf("unable to add edge from %s: %w", st.Name, err)
			}
		}
		if st.Policy == pipeline.PolicyChecked {
			err := g.AddEdge(string(st.Name), haltNode,
				graph.EdgeAttribute("style", "dotted"),
				graph.EdgeAttribute("label", escapeQuotes(st.Diagnostic)))
			if err != nil {
				return "", fmt.Errorf("unable to add failure edge from %s: %w", st.Name, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := draw.DOT(g, &buf); err != nil {
		return "", fmt.Errorf("unable to render dot: %w", err)
	}
	return buf.String(), nil
}

type jsonStep struct {
	Order      int    `json:"order"`
	Name       string `json:"name"`
	Policy     string `json:"policy"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

func renderJSON(steps []pipeline.StepDef) (string, error) {
	out := make([]jsonStep, 0, len(steps))
	for i, st := range steps {
		out = append(out, jsonStep{Order: i + 1, Name: string(st.Name), Policy: string(st.Policy), Diagnostic: st.Diagnostic})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}

// mermaidID strips characters Mermaid treats specially in node IDs.
func mermaidID(name pipeline.StepName) string {
	return strings.NewReplacer("_", "", "-", "").Replace(string(name))
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `'`)
}

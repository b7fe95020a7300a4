package plan

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/forkpack/internal/pipeline"
)

func sampleSteps() []pipeline.StepDef {
	noop := func(context.Context) error { return nil }
	return []pipeline.StepDef{
		{Name: "clean", Fn: noop, Policy: pipeline.PolicyBestEffort},
		{Name: "set_version", Fn: noop, Policy: pipeline.PolicyChecked, Diagnostic: "Failed to set version number to 1.0.0"},
		{Name: "pack", Fn: noop, Policy: pipeline.PolicyChecked, Diagnostic: "Failed to generate tarball"},
	}
}

func TestRender_Text(t *testing.T) {
	out, err := Render(FormatText, sampleSteps())
	require.NoError(t, err)
	assert.Contains(t, out, " 1. clean")
	assert.Contains(t, out, "best_effort")
	assert.Contains(t, out, "on failure: Failed to generate tarball")
	assert.Contains(t, out, "Total: 3 steps (2 checked, 1 best-effort)")

	// Ordering follows execution order.
	assert.Less(t, strings.Index(out, "clean"), strings.Index(out, "set_version"))
	assert.Less(t, strings.Index(out, "set_version"), strings.Index(out, "pack"))
}

func TestRender_Mermaid(t *testing.T) {
	out, err := Render(FormatMermaid, sampleSteps())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "```mermaid\ngraph TD\n"))
	assert.Contains(t, out, `clean(["clean"])`)
	assert.Contains(t, out, "clean --> setversion")
	assert.Contains(t, out, "setversion --> pack")
	assert.Contains(t, out, `pack -.->|"Failed to generate tarball"| halt`)
	assert.NotContains(t, out, "clean -.->")
}

func TestRender_DOT(t *testing.T) {
	out, err := Render(FormatDOT, sampleSteps())
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, `"clean" -> "set_version"`)
	assert.Contains(t, out, `"set_version" -> "pack"`)
	assert.Contains(t, out, `"pack" -> "halt"`)
	assert.Contains(t, out, "dashed")
}

func TestRender_JSON(t *testing.T) {
	out, err := Render(FormatJSON, sampleSteps())
	require.NoError(t, err)

	var got []jsonStep
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "set_version", got[1].Name)
	assert.Equal(t, 2, got[1].Order)
	assert.Equal(t, "checked", got[1].Policy)
}

func TestRender_Unsupported(t *testing.T) {
	_, err := Render("svg", sampleSteps())
	require.Error(t, err)
}

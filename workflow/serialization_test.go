package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compiledChain(t *testing.T) *CompiledWorkflow {
	t.Helper()
	g := newChainGraph(t, "A", "B", "C")
	require.NoError(t, g.AssignTool("B", "web_search"))
	task := "draft the report"
	require.NoError(t, g.UpdateNode("C", NodePatch{Task: &task}))
	wf, err := Compile(g, "Report Flow", "research then write")
	require.NoError(t, err)
	return wf
}

func TestCompiledWorkflow_JSONWireFormat(t *testing.T) {
	wf := compiledChain(t)
	data, err := wf.ToJSON()
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"id": "report_flow"`, `"type": "sequence"`, `"agent_ref": "agent-B"`, `"tools": [`, `"dependencies": [`, `"version": "v1"`} {
		assert.Contains(t, s, key)
	}

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, wf, back)
}

func TestCompiledWorkflow_YAMLRoundTrip(t *testing.T) {
	wf := compiledChain(t)
	data, err := wf.ToYAML()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "agent_ref: agent-A"))

	back, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, wf, back)
}

func TestFromJSON_RejectsInvalid(t *testing.T) {
	_, err := FromJSON([]byte(`{"id":"x","name":"x","type":"sequence","nodes":[]}`))
	assert.ErrorIs(t, err, ErrEmptyGraph)

	_, err = FromJSON([]byte(`{not json`))
	assert.Error(t, err)

	_, err = FromYAML([]byte("id: x\nname: x\ntype: dag\nnodes:\n  - id: a\n    dependencies: [b]\n"))
	assert.ErrorIs(t, err, ErrDanglingEdge)
}

func TestCompiledWorkflow_FileRoundTrip(t *testing.T) {
	wf := compiledChain(t)
	dir := t.TempDir()

	for _, name := range []string{"wf.json", "wf.yaml", "wf.yml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, wf.SaveToFile(path))

		back, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, wf, back, name)
	}

	_, err := LoadFromFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCanvas_ExportLoadRoundTrip(t *testing.T) {
	g := newChainGraph(t, "A", "B")
	require.NoError(t, g.UpdateNode("A", NodePatch{Position: &Position{X: 10, Y: 20}}))
	require.NoError(t, g.AssignTool("B", "calculator"))

	canvas := ExportCanvas(g, "wf", "Canvas", "desc")
	data, err := canvas.JSON()
	require.NoError(t, err)

	parsed, err := ParseCanvas(data)
	require.NoError(t, err)
	loaded, err := LoadCanvas(parsed)
	require.NoError(t, err)

	assert.Equal(t, g.Edges(), loaded.Edges())
	a, _ := loaded.Node("A")
	require.NotNil(t, a.Position)
	assert.Equal(t, Position{X: 10, Y: 20}, *a.Position)
	b, _ := loaded.Node("B")
	assert.Equal(t, []string{"calculator"}, b.ToolRefs)
}

func TestLoadCanvas_KeepsInvalidEdgesForCompiler(t *testing.T) {
	canvas := &Canvas{
		Nodes: []CanvasNode{{ID: "A", AgentRef: "a"}, {ID: "B", AgentRef: "b"}},
		Edges: []Edge{
			{ID: "e1", Source: "A", Target: "B"},
			{ID: "e2", Source: "B", Target: "A"},
		},
	}
	g, err := LoadCanvas(canvas)
	require.NoError(t, err)
	assert.Len(t, g.Edges(), 2)

	_, err = Compile(g, "loaded", "")
	assert.ErrorIs(t, err, ErrCyclicGraph)

	_, err = LoadCanvas(&Canvas{Nodes: []CanvasNode{{ID: "A"}, {ID: "A"}}})
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

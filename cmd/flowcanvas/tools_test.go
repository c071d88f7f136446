package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/testutil/fixtures"
	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
	"github.com/BaSui01/flowcanvas/workflow/transport"
)

func TestCompileCanvas_Formats(t *testing.T) {
	ctx := context.Background()

	var yamlOut bytes.Buffer
	require.NoError(t, compileCanvas(ctx, fixtures.ResearchCanvasJSON(t), compileOptions{}, &yamlOut, zap.NewNop()))
	wf, err := workflow.FromYAML(yamlOut.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "research_flow", wf.ID)
	assert.Equal(t, "search then write", wf.Description)
	assert.Equal(t, workflow.WorkflowSequence, wf.Type)

	var jsonOut bytes.Buffer
	opts := compileOptions{id: "custom", name: "Renamed", format: "json"}
	require.NoError(t, compileCanvas(ctx, fixtures.ResearchCanvasJSON(t), opts, &jsonOut, zap.NewNop()))
	wf, err = workflow.FromJSON(jsonOut.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "custom", wf.ID)
	assert.Equal(t, "Renamed", wf.Name)
	require.Len(t, wf.Nodes, 2)
	assert.Equal(t, []string{"research"}, wf.Nodes[1].Dependencies)
}

func TestCompileCanvas_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported format", func(t *testing.T) {
		err := compileCanvas(ctx, fixtures.ResearchCanvasJSON(t), compileOptions{format: "toml"}, &bytes.Buffer{}, zap.NewNop())
		assert.ErrorContains(t, err, "unsupported output format")
	})

	t.Run("malformed canvas", func(t *testing.T) {
		err := compileCanvas(ctx, []byte(`{"nodes":`), compileOptions{}, &bytes.Buffer{}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("cycle", func(t *testing.T) {
		cyclic := `{
		  "name": "Loop",
		  "nodes": [{"id": "a", "agent_ref": "x"}, {"id": "b", "agent_ref": "y"}],
		  "edges": [
		    {"id": "a->b", "source": "a", "target": "b"},
		    {"id": "b->a", "source": "b", "target": "a"}
		  ]
		}`
		err := compileCanvas(ctx, []byte(cyclic), compileOptions{}, &bytes.Buffer{}, zap.NewNop())
		assert.True(t, errors.Is(err, workflow.ErrCyclicGraph), "got %v", err)
	})

	t.Run("strict catalog", func(t *testing.T) {
		canvas := fixtures.ResearchCanvas()
		canvas.Nodes[1].AgentRef = "ghostwriter"
		data, err := canvas.JSON()
		require.NoError(t, err)

		opts := compileOptions{catalogDir: fixtures.WriteCatalog(t)}
		err = compileCanvas(ctx, data, opts, &bytes.Buffer{}, zap.NewNop())
		assert.True(t, errors.Is(err, workflow.ErrUnknownAgent), "got %v", err)
	})
}

type replayResult struct {
	Frame struct {
		RunStatus execution.RunStatus `json:"run_status"`
		Nodes     []struct {
			ID     string               `json:"id"`
			Status execution.NodeStatus `json:"status"`
		} `json:"nodes"`
	} `json:"frame"`
	Stats execution.Stats `json:"stats"`
}

func TestReplay_SliceSource(t *testing.T) {
	wf := fixtures.ResearchWorkflow(t)

	var out bytes.Buffer
	src := &transport.SliceSource{Events: fixtures.FailedResearchEvents(wf.ID)}
	require.NoError(t, replay(context.Background(), wf, src, &out, false))

	var res replayResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, execution.RunFailed, res.Frame.RunStatus)
	assert.Equal(t, 7, res.Stats.Applied)
	require.Len(t, res.Frame.Nodes, 2)
	statuses := map[string]execution.NodeStatus{}
	for _, n := range res.Frame.Nodes {
		statuses[n.ID] = n.Status
	}
	assert.Equal(t, execution.NodeCompleted, statuses["research"])
	assert.Equal(t, execution.NodeFailed, statuses["write"])
}

func TestReplay_VerboseFromFile(t *testing.T) {
	wf := fixtures.ResearchWorkflow(t)

	var lines bytes.Buffer
	enc := json.NewEncoder(&lines)
	for _, ev := range fixtures.FailedResearchEvents(wf.ID) {
		require.NoError(t, enc.Encode(ev))
	}
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, lines.Bytes(), 0o644))

	var out bytes.Buffer
	require.NoError(t, replay(context.Background(), wf, transport.FileSource(path), &out, true))

	text := out.String()
	assert.Contains(t, text, string(execution.EventNodeStarted))
	assert.Contains(t, text, "research")
	assert.Contains(t, text, "progress=100%")
	// 进度行之后是最终帧
	assert.Contains(t, text, `"frame"`)
}

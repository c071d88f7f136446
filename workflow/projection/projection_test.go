package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowcanvas/workflow"
	"github.com/BaSui01/flowcanvas/workflow/execution"
)

// diamond builds A -> {B, C} -> D plus a free node E.
func diamond(t *testing.T) *workflow.Graph {
	t.Helper()
	g := workflow.NewGraph()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		_, err := g.AddNodeWithID(id, "agent-"+id)
		require.NoError(t, err)
	}
	for _, e := range [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}
	return g
}

func TestProject_GridLayout(t *testing.T) {
	d := Project(diamond(t), nil)

	want := map[string][2]int{ // column, row
		"A": {0, 0},
		"B": {1, 0},
		"C": {1, 1},
		"D": {2, 0},
		"E": {0, 1},
	}
	for id, cr := range want {
		n, ok := d.Node(id)
		require.True(t, ok, id)
		assert.Equal(t, cr[0], n.Column, id)
		assert.Equal(t, cr[1], n.Row, id)
		assert.Equal(t, execution.NodePending, n.Status)
	}

	c, _ := d.Node("C")
	assert.Equal(t, workflow.Position{X: 150 + 300, Y: 100 + 250}, c.Position)
	assert.Equal(t, 3, d.Columns)
	assert.Equal(t, execution.RunIdle, d.RunStatus)
}

func TestProject_EdgeStyles(t *testing.T) {
	g := diamond(t)
	wf, err := workflow.Compile(g, "diamond", "")
	require.NoError(t, err)

	r := execution.NewReducer(nil, execution.WithWorkflow(wf))
	r.ApplyAll([]execution.Event{
		execution.NewRunStarted(wf.ID, 5),
		execution.NewNodeCompleted("A", nil),
		execution.NewNodeCompleted("B", nil),
		execution.NewNodeStarted("D"),
	})

	d := Project(g, r.State())
	styles := make(map[string]execution.EdgeStatus)
	for _, e := range d.Edges {
		styles[e.Source+e.Target] = e.Style
	}
	assert.Equal(t, execution.EdgeCompleted, styles["AB"])
	assert.Equal(t, execution.EdgePending, styles["AC"])
	assert.Equal(t, execution.EdgeActive, styles["BD"])
	assert.Equal(t, execution.EdgePending, styles["CD"])

	summary := d.Summary()
	assert.Equal(t, 2, summary[execution.NodeCompleted])
	assert.Equal(t, 1, summary[execution.NodeActive])
	assert.Equal(t, 2, summary[execution.NodePending])
	assert.Equal(t, execution.RunRunning, d.RunStatus)
	assert.InDelta(t, 0.4, d.Progress, 1e-9)
}

func TestProject_DeterministicAndPure(t *testing.T) {
	g := diamond(t)
	wf, err := workflow.Compile(g, "diamond", "")
	require.NoError(t, err)
	st, _ := execution.Transition(wf, nil, execution.NewRunStarted(wf.ID, 5))
	st, _ = execution.Transition(wf, st, execution.NewNodeMessage("A", "search", "x"))

	graphBefore := g.Clone()
	stateBefore := st.Clone()

	first := Project(g, st)
	second := Project(g, st)
	assert.Equal(t, first, second)

	first.Nodes[0].ToolsUsed[0] = "mutated"
	assert.Equal(t, graphBefore.Nodes(), g.Nodes())
	assert.Equal(t, graphBefore.Edges(), g.Edges())
	assert.Equal(t, stateBefore, st)
}

func TestProject_CyclicBatchGraphStillLaysOut(t *testing.T) {
	g := workflow.NewGraph()
	for _, id := range []string{"A", "B", "C"} {
		_, err := g.AddNodeWithID(id, "x")
		require.NoError(t, err)
	}
	g.PutEdge(workflow.Edge{Source: "B", Target: "C"})
	g.PutEdge(workflow.Edge{Source: "C", Target: "B"})

	d := Project(g, nil)
	a, _ := d.Node("A")
	b, _ := d.Node("B")
	c, _ := d.Node("C")
	assert.Equal(t, 0, a.Column)
	assert.Equal(t, 1, b.Column)
	assert.Equal(t, 1, c.Column)
	assert.Equal(t, 1, c.Row)
}

func TestProject_LabelsAndLayoutOptions(t *testing.T) {
	g := workflow.NewGraph()
	n := g.AddNode("researcher")
	label := "Custom"
	other := g.AddNode("writer")
	require.NoError(t, g.UpdateNode(other.ID, workflow.NodePatch{Label: &label}))

	d := Project(g, nil,
		WithLayout(Layout{ColumnWidth: 10, RowHeight: 10}),
		WithLabeler(func(ref string) string { return "Agent " + ref }),
	)

	first, _ := d.Node(n.ID)
	second, _ := d.Node(other.ID)
	assert.Equal(t, "Agent researcher", first.Label)
	assert.Equal(t, "Custom", second.Label)
	assert.Equal(t, workflow.Position{X: 0, Y: 10}, second.Position)
}

func TestProjectCompiled(t *testing.T) {
	wf, err := workflow.Compile(diamond(t), "diamond", "")
	require.NoError(t, err)

	d := ProjectCompiled(wf, nil)
	assert.Len(t, d.Nodes, 5)
	assert.Len(t, d.Edges, 4)
}

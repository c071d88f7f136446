package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const propertyNodes = 6

// buildRandomGraph 按 pairs 两两取值尝试连边，返回图与被接受的边数
func buildRandomGraph(t *testing.T, pairs []int) (*Graph, int) {
	g := NewGraph()
	for i := range propertyNodes {
		if _, err := g.AddNodeWithID(fmt.Sprintf("n%d", i), "agent"); err != nil {
			t.Fatalf("add node: %v", err)
		}
	}
	accepted := 0
	seen := make(map[[2]int]bool)
	for i := 0; i+1 < len(pairs); i += 2 {
		src, tgt := pairs[i], pairs[i+1]
		_, err := g.AddEdge(fmt.Sprintf("n%d", src), fmt.Sprintf("n%d", tgt))
		var edgeErr *EdgeError
		switch {
		case err == nil:
			if !seen[[2]int{src, tgt}] {
				seen[[2]int{src, tgt}] = true
				accepted++
			}
		case errors.As(err, &edgeErr):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return g, accepted
}

func TestProperty_EditedGraphsAlwaysCompile(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("edges accepted by AddEdge never form a cycle", prop.ForAll(
		func(pairs []int) bool {
			g, accepted := buildRandomGraph(t, pairs)
			wf, err := Compile(g, "property", "")
			if err != nil {
				t.Logf("compile failed: %v", err)
				return false
			}

			deps := 0
			position := make(map[string]int, len(wf.Nodes))
			for i, n := range wf.Nodes {
				position[n.ID] = i
			}
			for _, n := range wf.Nodes {
				for _, d := range n.Dependencies {
					if position[d] >= position[n.ID] {
						t.Logf("dependency %s does not precede %s", d, n.ID)
						return false
					}
				}
				deps += len(n.Dependencies)
			}
			return deps == accepted && len(wf.Nodes) == propertyNodes
		},
		gen.SliceOf(gen.IntRange(0, propertyNodes-1)),
	))

	properties.Property("workflow type matches the dependency shape", prop.ForAll(
		func(pairs []int) bool {
			g, _ := buildRandomGraph(t, pairs)
			wf, err := Compile(g, "property", "")
			if err != nil {
				return false
			}
			chain := true
			for i, n := range wf.Nodes {
				want := 1
				if i == 0 {
					want = 0
				}
				if len(n.Dependencies) != want || (i > 0 && n.Dependencies[0] != wf.Nodes[i-1].ID) {
					chain = false
				}
			}
			if chain {
				return wf.Type == WorkflowSequence
			}
			return wf.Type == WorkflowDAG
		},
		gen.SliceOf(gen.IntRange(0, propertyNodes-1)),
	))

	properties.TestingRun(t)
}

// applyEdits 把整数序列按三元组解释为编辑操作：
// op%4 ∈ {0,1} 连边，2 删除第 a 条边，3 删除或重新添加节点 a
func applyEdits(g *Graph, script []int) error {
	for i := 0; i+2 < len(script); i += 3 {
		op, a, b := script[i]%4, script[i+1]%propertyNodes, script[i+2]%propertyNodes
		src, tgt := fmt.Sprintf("n%d", a), fmt.Sprintf("n%d", b)
		switch op {
		case 0, 1:
			var edgeErr *EdgeError
			if _, err := g.AddEdge(src, tgt); err != nil && !errors.As(err, &edgeErr) {
				return err
			}
		case 2:
			edges := g.Edges()
			if len(edges) == 0 {
				continue
			}
			if err := g.RemoveEdge(edges[a%len(edges)].ID); err != nil {
				return err
			}
		case 3:
			if g.HasNode(src) {
				if err := g.RemoveNode(src); err != nil {
					return err
				}
			} else if _, err := g.AddNodeWithID(src, "agent"); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestProperty_EditSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300

	properties := gopter.NewProperties(parameters)

	properties.Property("edit sequences keep the graph acyclic, compile deterministically and preserve dependencies", prop.ForAll(
		func(script []int) bool {
			g := NewGraph()
			for i := range propertyNodes {
				if _, err := g.AddNodeWithID(fmt.Sprintf("n%d", i), "agent"); err != nil {
					return false
				}
			}
			if err := applyEdits(g, script); err != nil {
				t.Logf("edit failed: %v", err)
				return false
			}

			// 无环：任何边的终点都不能回到起点
			for _, e := range g.Edges() {
				if g.Reaches(e.Target, e.Source) {
					t.Logf("edge %s closes a cycle", e.ID)
					return false
				}
			}

			if g.Len() == 0 {
				_, err := Compile(g, "property", "")
				return errors.Is(err, ErrEmptyGraph)
			}

			first, err := Compile(g, "property", "")
			if err != nil {
				t.Logf("compile failed: %v", err)
				return false
			}
			second, err := Compile(g, "property", "")
			if err != nil {
				return false
			}
			a, errA := first.ToJSON()
			b, errB := second.ToJSON()
			if errA != nil || errB != nil || !bytes.Equal(a, b) {
				t.Logf("compile output differs between runs")
				return false
			}

			sources := make(map[string][]string, g.Len())
			for _, e := range g.Edges() {
				if !slices.Contains(sources[e.Target], e.Source) {
					sources[e.Target] = append(sources[e.Target], e.Source)
				}
			}
			if len(first.Nodes) != g.Len() {
				return false
			}
			for _, n := range first.Nodes {
				want := slices.Clone(sources[n.ID])
				got := slices.Clone(n.Dependencies)
				slices.Sort(want)
				slices.Sort(got)
				if !slices.Equal(want, got) {
					t.Logf("node %s: dependencies %v, edge sources %v", n.ID, got, want)
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4*propertyNodes)),
	))

	properties.TestingRun(t)
}

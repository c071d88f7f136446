package execution

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// nodeScript draws a plausible in-order event sequence for one node.
func nodeScript(rt *rapid.T, id string) []Event {
	var evs []Event
	if rapid.Bool().Draw(rt, id+"/started") {
		evs = append(evs, NewNodeStarted(id))
	}
	msgs := rapid.IntRange(0, 3).Draw(rt, id+"/messages")
	for i := 0; i < msgs; i++ {
		tool := rapid.SampledFrom([]string{"", "search", "calculator"}).Draw(rt, id+"/tool")
		evs = append(evs, NewNodeMessage(id, tool, "chunk").WithSequence(uint64(i+1)))
	}
	switch rapid.IntRange(0, 2).Draw(rt, id+"/end") {
	case 1:
		evs = append(evs, NewNodeCompleted(id, "ok"))
	case 2:
		evs = append(evs, NewNodeFailed(id, "boom"))
	}
	return evs
}

// interleave merges per-node scripts, keeping each node's own order.
func interleave(rt *rapid.T, scripts [][]Event) []Event {
	idx := make([]int, len(scripts))
	var out []Event
	for {
		var live []int
		for i, s := range scripts {
			if idx[i] < len(s) {
				live = append(live, i)
			}
		}
		if len(live) == 0 {
			return out
		}
		pick := rapid.SampledFrom(live).Draw(rt, "pick")
		out = append(out, scripts[pick][idx[pick]])
		idx[pick]++
	}
}

// Property: cross-node interleaving and redelivery never change the final
// per-node state.
func TestProperty_ReducerConvergesAcrossInterleavings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "nodes")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("N%d", i)
		}
		wf := chainWorkflow(rt, ids...)

		scripts := make([][]Event, n)
		for i, id := range ids {
			scripts[i] = nodeScript(rt, id)
		}

		// Reference: nodes fed one after another.
		ref := NewReducer(nil, WithWorkflow(wf))
		ref.Apply(NewRunStarted(wf.ID, n))
		for _, s := range scripts {
			ref.ApplyAll(s)
		}

		// Interleaved with random duplicate deliveries.
		got := NewReducer(nil, WithWorkflow(wf))
		got.Apply(NewRunStarted(wf.ID, n))
		for _, ev := range interleave(rt, scripts) {
			got.Apply(ev)
			if rapid.Bool().Draw(rt, "redeliver") {
				got.Apply(ev)
			}
		}

		want, have := ref.State(), got.State()
		for _, id := range ids {
			w, h := want.Node(id), have.Node(id)
			if w.Status != h.Status || w.MessageCount != h.MessageCount || w.LastError != h.LastError {
				rt.Fatalf("node %s diverged: want %+v, got %+v", id, w, h)
			}
		}
	})
}

// Property: a whole stream applied twice in a row ends where it ended after
// the first pass, as long as the stream is hinted.
func TestProperty_ReplayIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		wf := chainWorkflow(rt, "A", "B", "C")
		var stream []Event
		for _, id := range []string{"A", "B", "C"} {
			stream = append(stream, nodeScript(rt, id)...)
		}

		r := NewReducer(nil, WithWorkflow(wf))
		r.Apply(NewRunStarted(wf.ID, 3))
		r.ApplyAll(stream)
		first := r.State()

		r.ApplyAll(stream)
		second := r.State()

		for _, id := range []string{"A", "B", "C"} {
			if first.NodeStatus(id) != second.NodeStatus(id) ||
				first.Node(id).MessageCount != second.Node(id).MessageCount {
				rt.Fatalf("node %s changed on replay", id)
			}
		}
	})
}

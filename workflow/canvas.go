package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Canvas is the editor document: a graph plus the metadata the editor shows
// around it. Canvas documents are stored and exchanged as JSON.
type Canvas struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Nodes       []CanvasNode `json:"nodes"`
	Edges       []Edge       `json:"edges"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CanvasNode is a node as laid out on the canvas.
type CanvasNode struct {
	ID       string   `json:"id"`
	Label    string   `json:"label,omitempty"`
	Position Position `json:"position"`
	AgentRef string   `json:"agent_ref"`
	Task     string   `json:"task"`
	ToolRefs []string `json:"tools,omitempty"`
}

// ExportCanvas snapshots g into a canvas document.
func ExportCanvas(g *Graph, id, name, description string) *Canvas {
	c := &Canvas{
		ID:          id,
		Name:        name,
		Description: description,
		Nodes:       make([]CanvasNode, 0, g.Len()),
		Edges:       g.Edges(),
		UpdatedAt:   time.Now(),
	}
	for _, n := range g.Nodes() {
		cn := CanvasNode{
			ID:       n.ID,
			Label:    n.Label,
			AgentRef: n.AgentRef,
			Task:     n.Task,
			ToolRefs: n.ToolRefs,
		}
		if n.Position != nil {
			cn.Position = *n.Position
		}
		c.Nodes = append(c.Nodes, cn)
	}
	return c
}

// LoadCanvas rebuilds a graph from a canvas document. Edges are inserted
// as-is, so a hand-edited document may yield a graph that fails to compile.
func LoadCanvas(c *Canvas) (*Graph, error) {
	g := NewGraph()
	for _, cn := range c.Nodes {
		pos := cn.Position
		n := Node{
			ID:       cn.ID,
			AgentRef: cn.AgentRef,
			Task:     cn.Task,
			ToolRefs: cn.ToolRefs,
			Label:    cn.Label,
			Position: &pos,
		}
		if err := g.PutNode(n); err != nil {
			return nil, fmt.Errorf("failed to load node %s: %w", cn.ID, err)
		}
	}
	for _, e := range c.Edges {
		g.PutEdge(e)
	}
	return g, nil
}

// ParseCanvas decodes a canvas document.
func ParseCanvas(data []byte) (*Canvas, error) {
	var c Canvas
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal canvas: %w", err)
	}
	return &c, nil
}

// JSON encodes the canvas document.
func (c *Canvas) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

package workflow

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CompileObserver receives the outcome of every compile call. outcome is
// "ok" or the CompileErrorKind of the failure.
type CompileObserver func(outcome string, duration time.Duration)

// Compiler validates editor graphs and lowers them to CompiledWorkflow.
type Compiler struct {
	resolver Resolver
	logger   *zap.Logger
	tracer   trace.Tracer
	observer CompileObserver
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithResolver enables agent and tool reference checks.
func WithResolver(r Resolver) CompilerOption {
	return func(c *Compiler) { c.resolver = r }
}

// WithLogger sets the compiler logger.
func WithLogger(logger *zap.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger.With(zap.String("component", "compiler"))
		}
	}
}

// WithObserver registers a callback invoked after every compile.
func WithObserver(o CompileObserver) CompilerOption {
	return func(c *Compiler) { c.observer = o }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) CompilerOption {
	return func(c *Compiler) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewCompiler creates a compiler.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/BaSui01/flowcanvas/workflow"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile validates g without reference checks and lowers it. The workflow
// id is derived from the name.
func Compile(g *Graph, name, description string) (*CompiledWorkflow, error) {
	return NewCompiler().Compile(context.Background(), g, name, description)
}

// Compile validates g and lowers it. The workflow id is derived from the name.
func (c *Compiler) Compile(ctx context.Context, g *Graph, name, description string) (*CompiledWorkflow, error) {
	return c.CompileWithID(ctx, "", g, name, description)
}

// CompileWithID is Compile with an explicit workflow id. An empty id falls
// back to the name slug.
func (c *Compiler) CompileWithID(ctx context.Context, id string, g *Graph, name, description string) (*CompiledWorkflow, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "workflow.compile",
		trace.WithAttributes(attribute.String("workflow.name", name)))
	defer span.End()

	wf, err := c.compile(ctx, id, g, name, description)

	outcome := "ok"
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			outcome = string(ce.Kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Debug("compile rejected", zap.String("name", name), zap.Error(err))
	} else {
		span.SetAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.Int("workflow.nodes", len(wf.Nodes)),
			attribute.String("workflow.type", string(wf.Type)),
		)
		c.logger.Info("workflow compiled",
			zap.String("id", wf.ID),
			zap.String("name", wf.Name),
			zap.String("type", string(wf.Type)),
			zap.Int("nodes", len(wf.Nodes)),
		)
	}
	if c.observer != nil {
		c.observer(outcome, time.Since(start))
	}
	return wf, err
}

func (c *Compiler) compile(ctx context.Context, id string, g *Graph, name, description string) (*CompiledWorkflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &CompileError{Kind: CompileMissingName}
	}
	if g == nil || g.Len() == 0 {
		return nil, &CompileError{Kind: CompileEmptyGraph}
	}
	for _, e := range g.Edges() {
		if !g.HasNode(e.Source) {
			return nil, &CompileError{Kind: CompileDanglingEdge, EdgeID: e.ID, NodeID: e.Source}
		}
		if !g.HasNode(e.Target) {
			return nil, &CompileError{Kind: CompileDanglingEdge, EdgeID: e.ID, NodeID: e.Target}
		}
	}

	order, ok := stableTopoOrder(g)
	if !ok {
		return nil, &CompileError{Kind: CompileCyclicGraph, Cycle: findCycle(g)}
	}

	nodes := g.Nodes()
	if c.resolver != nil {
		for _, n := range nodes {
			for _, ref := range n.ToolRefs {
				if r, found := c.resolver.Resolve(ctx, ref); !found || r.Kind != RefTool {
					return nil, &CompileError{Kind: CompileUnknownTool, NodeID: n.ID, Ref: ref}
				}
			}
		}
		for _, n := range nodes {
			if r, found := c.resolver.Resolve(ctx, n.AgentRef); !found || r.Kind != RefAgent {
				return nil, &CompileError{Kind: CompileUnknownAgent, NodeID: n.ID, Ref: n.AgentRef}
			}
		}
	}

	position := make(map[string]int, len(order))
	for i, nid := range order {
		position[nid] = i
	}
	deps := make(map[string][]string, len(order))
	for _, e := range g.Edges() {
		if !slices.Contains(deps[e.Target], e.Source) {
			deps[e.Target] = append(deps[e.Target], e.Source)
		}
	}

	compiled := make([]CompiledNode, 0, len(order))
	for _, nid := range order {
		n, _ := g.Node(nid)
		d := deps[nid]
		slices.SortFunc(d, func(a, b string) int { return position[a] - position[b] })
		if d == nil {
			d = []string{}
		}
		compiled = append(compiled, CompiledNode{
			ID:           n.ID,
			AgentRef:     n.AgentRef,
			Task:         n.Task,
			ToolRefs:     normalizeRefs(n.ToolRefs),
			Dependencies: d,
		})
	}

	if id == "" {
		id = Slug(name)
	}
	return &CompiledWorkflow{
		ID:          id,
		Name:        name,
		Description: description,
		Type:        classify(compiled),
		Nodes:       compiled,
		Version:     FormatVersion,
	}, nil
}

// Slug derives a workflow id from a display name: lower case, whitespace
// runs replaced by underscores.
func Slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// stableTopoOrder runs Kahn's algorithm, always releasing the ready node
// that was inserted first. ok is false when a cycle remains.
func stableTopoOrder(g *Graph) ([]string, bool) {
	nodes := g.Nodes()
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	indegree := make(map[string]int, len(nodes))
	succ := make(map[string][]string, len(nodes))
	seen := make(map[[2]string]bool)
	for _, e := range g.Edges() {
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		succ[e.Source] = append(succ[e.Source], e.Target)
		indegree[e.Target]++
	}

	// ready holds insertion indexes, kept sorted.
	var ready []int
	push := func(i int) {
		pos, _ := slices.BinarySearch(ready, i)
		ready = slices.Insert(ready, pos, i)
	}
	for i, n := range nodes {
		if indegree[n.ID] == 0 {
			push(i)
		}
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		id := nodes[i].ID
		order = append(order, id)
		for _, next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				push(index[next])
			}
		}
	}
	return order, len(order) == len(nodes)
}

// findCycle returns one cycle as a node path whose last element repeats the
// first, or nil when the graph is acyclic.
func findCycle(g *Graph) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		path = append(path, id)
		for _, eid := range g.out[id] {
			next := g.edges[eid].Target
			switch color[next] {
			case grey:
				start := slices.Index(path, next)
				cycle = append(slices.Clone(path[start:]), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.nodeOrder {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

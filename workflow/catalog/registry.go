package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 📚 定义文件格式
// =============================================================================

// AgentDef is the on-disk description of an agent. Only id, name and the
// tool list matter to the editor; the remaining fields are carried opaquely.
type AgentDef struct {
	ID            string         `yaml:"id" json:"id"`
	Name          string         `yaml:"name" json:"name"`
	Type          string         `yaml:"type,omitempty" json:"type,omitempty"`
	LLMConfig     map[string]any `yaml:"llm_config,omitempty" json:"llm_config,omitempty"`
	Tools         []string       `yaml:"tools,omitempty" json:"tools,omitempty"`
	Communication map[string]any `yaml:"communication,omitempty" json:"communication,omitempty"`
	Version       string         `yaml:"version,omitempty" json:"version,omitempty"`
}

// ToolDef is the on-disk description of a tool.
type ToolDef struct {
	ID      string         `yaml:"id" json:"id"`
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type,omitempty" json:"type,omitempty"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Version string         `yaml:"version,omitempty" json:"version,omitempty"`
}

// Ref converts the definition to a resolver answer. The agent's tools become
// its capabilities.
func (d AgentDef) Ref() workflow.ResolvedRef {
	return workflow.ResolvedRef{
		ID:           d.ID,
		Kind:         workflow.RefAgent,
		Name:         d.Name,
		Capabilities: slices.Clone(d.Tools),
	}
}

// Ref converts the definition to a resolver answer. A typed tool reports its
// type as its only capability.
func (d ToolDef) Ref() workflow.ResolvedRef {
	ref := workflow.ResolvedRef{ID: d.ID, Kind: workflow.RefTool, Name: d.Name}
	if d.Type != "" {
		ref.Capabilities = []string{d.Type}
	}
	return ref
}

// =============================================================================
// 🗂️ Registry
// =============================================================================

var (
	// ErrInvalidRef is returned for refs without an id or with an unknown kind.
	ErrInvalidRef = errors.New("invalid catalog reference")
	// ErrKindConflict is returned when an id is already registered as the
	// other kind.
	ErrKindConflict = errors.New("catalog id already registered with another kind")
)

// Registry is an in-memory set of agents and tools keyed by id. Agent and
// tool ids share one namespace: re-registering an id of the same kind
// replaces it, reusing it for the other kind is rejected.
type Registry struct {
	mu     sync.RWMutex
	refs   map[string]workflow.ResolvedRef
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		refs:   make(map[string]workflow.ResolvedRef),
		logger: logger.With(zap.String("component", "catalog")),
	}
}

// Register adds or replaces ref.
func (r *Registry) Register(ref workflow.ResolvedRef) error {
	ref.ID = strings.TrimSpace(ref.ID)
	if ref.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRef)
	}
	if ref.Kind != workflow.RefAgent && ref.Kind != workflow.RefTool {
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidRef, ref.ID, ref.Kind)
	}
	if ref.Name == "" {
		ref.Name = ref.ID
	}
	ref.Capabilities = slices.Clone(ref.Capabilities)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.refs[ref.ID]; ok && prev.Kind != ref.Kind {
		r.logger.Warn("catalog id reused across kinds",
			zap.String("id", ref.ID),
			zap.String("previous", string(prev.Kind)),
			zap.String("kind", string(ref.Kind)),
		)
		return fmt.Errorf("%w: %s is a %s", ErrKindConflict, ref.ID, prev.Kind)
	}
	r.refs[ref.ID] = ref
	return nil
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.refs[id]
	delete(r.refs, id)
	return ok
}

// Resolve implements workflow.Resolver.
func (r *Registry) Resolve(_ context.Context, id string) (*workflow.ResolvedRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[id]
	if !ok {
		return nil, false
	}
	ref.Capabilities = slices.Clone(ref.Capabilities)
	return &ref, true
}

// Label returns the display name of id, or id itself when unknown.
func (r *Registry) Label(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ref, ok := r.refs[id]; ok {
		return ref.Name
	}
	return id
}

// List returns the refs of kind sorted by id. An empty kind lists all.
func (r *Registry) List(kind workflow.RefKind) []workflow.ResolvedRef {
	r.mu.RLock()
	out := make([]workflow.ResolvedRef, 0, len(r.refs))
	for _, ref := range r.refs {
		if kind != "" && ref.Kind != kind {
			continue
		}
		ref.Capabilities = slices.Clone(ref.Capabilities)
		out = append(out, ref)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b workflow.ResolvedRef) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of registered refs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}

// =============================================================================
// 📂 文件加载
// =============================================================================

// LoadFile reads one agent or tool definition.
func (r *Registry) LoadFile(path string, kind workflow.RefKind) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var ref workflow.ResolvedRef
	switch kind {
	case workflow.RefAgent:
		var def AgentDef
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("failed to parse agent %s: %w", path, err)
		}
		ref = def.Ref()
	case workflow.RefTool:
		var def ToolDef
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("failed to parse tool %s: %w", path, err)
		}
		ref = def.Ref()
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidRef, kind)
	}

	if ref.ID == "" {
		// Definition files are named after their id.
		ref.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := r.Register(ref); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Reload replaces the whole registry with the contents of dir. On error the
// previous contents stay in place.
func (r *Registry) Reload(dir string) (int, error) {
	fresh := NewRegistry(nil)
	n, err := fresh.LoadDir(dir)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.refs = fresh.refs
	r.mu.Unlock()

	r.logger.Info("catalog reloaded", zap.String("dir", dir), zap.Int("files", n))
	return n, nil
}

// LoadDir loads dir/agents/*.yaml and dir/tools/*.yaml. Missing
// subdirectories are skipped. It returns the number of files loaded.
func (r *Registry) LoadDir(dir string) (int, error) {
	loaded := 0
	for _, sub := range []struct {
		name string
		kind workflow.RefKind
	}{
		{"agents", workflow.RefAgent},
		{"tools", workflow.RefTool},
	} {
		paths, err := filepath.Glob(filepath.Join(dir, sub.name, "*.yaml"))
		if err != nil {
			return loaded, err
		}
		slices.Sort(paths)
		for _, p := range paths {
			if err := r.LoadFile(p, sub.kind); err != nil {
				return loaded, err
			}
			loaded++
		}
	}

	r.logger.Debug("catalog loaded", zap.String("dir", dir), zap.Int("files", loaded))
	return loaded, nil
}

// Package persistence provides storage backends for compiled workflows.
//
// Supported backends:
//   - Memory: for development and tests (default)
//   - File: YAML per workflow plus a JSON copy, for single-node deployments
//   - Redis: JSON values with a sorted-set index, for distributed deployments
//   - SQL: gorm over postgres, mysql or sqlite
//   - Mongo: one document per workflow
//
// Any backend can be fronted by CachedStore and wrapped by Instrument.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/flowcanvas/workflow"
)

// Common errors
var (
	ErrNotFound     = errors.New("workflow not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Kind names a storage backend.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindRedis  Kind = "redis"
	KindSQL    Kind = "sql"
	KindMongo  Kind = "mongo"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMemory, KindFile, KindRedis, KindSQL, KindMongo:
		return k, nil
	case "":
		return KindMemory, nil
	default:
		return "", fmt.Errorf("unsupported store backend: %q", s)
	}
}

// Store is a workflow catalog with lifecycle hooks.
type Store interface {
	workflow.Catalog

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close releases resources. Further calls return ErrStoreClosed.
	Close() error
}

// Summary is the listing view of a stored workflow.
type Summary struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Type      workflow.WorkflowType `json:"type"`
	NodeCount int                   `json:"node_count"`
	UpdatedAt time.Time             `json:"updated_at,omitempty"`
}

// Summarize builds the listing view of w.
func Summarize(w *workflow.CompiledWorkflow) Summary {
	return Summary{ID: w.ID, Name: w.Name, Type: w.Type, NodeCount: len(w.Nodes)}
}

// checkWorkflow rejects nil or structurally invalid workflows before they
// reach a backend.
func checkWorkflow(w *workflow.CompiledWorkflow) error {
	if w == nil {
		return fmt.Errorf("%w: nil workflow", ErrInvalidInput)
	}
	if err := checkID(w.ID); err != nil {
		return err
	}
	if err := workflow.ValidateCompiled(w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// checkID rejects ids that cannot be used as keys or file names.
func checkID(id string) error {
	if id == "" || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: workflow id %q", ErrInvalidInput, id)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: workflow id %q", ErrInvalidInput, id)
	}
	return nil
}

func sortByID(ws []*workflow.CompiledWorkflow) {
	slices.SortFunc(ws, func(a, b *workflow.CompiledWorkflow) int { return strings.Compare(a.ID, b.ID) })
}

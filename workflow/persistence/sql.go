package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/flowcanvas/workflow"
)

// WorkflowRecord is the row layout of the workflows table. Definition holds
// the compiled workflow as JSON; the other columns serve listings.
type WorkflowRecord struct {
	ID         string    `gorm:"primaryKey;size:128"`
	Name       string    `gorm:"size:255;not null"`
	Type       string    `gorm:"size:16;not null"`
	NodeCount  int       `gorm:"not null;default:0"`
	Definition string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (WorkflowRecord) TableName() string { return "workflows" }

// Transactor runs fn inside a database transaction.
type Transactor func(ctx context.Context, fn func(tx *gorm.DB) error) error

// SQLStore persists workflows through gorm. The schema is created by the
// migrations in internal/migration or by AutoMigrate.
type SQLStore struct {
	db     *gorm.DB
	tx     Transactor
	closed atomic.Bool
}

// SQLStoreOption configures a SQLStore.
type SQLStoreOption func(*SQLStore)

// WithTransactor routes writes through t, e.g. the pool manager's
// WithTransaction. Nil keeps the default.
func WithTransactor(t Transactor) SQLStoreOption {
	return func(s *SQLStore) {
		if t != nil {
			s.tx = t
		}
	}
}

// NewSQLStore wraps an open gorm handle. The caller owns the connection.
func NewSQLStore(db *gorm.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{db: db}
	s.tx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or updates the workflows table.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&WorkflowRecord{})
}

func toRecord(w *workflow.CompiledWorkflow) (*WorkflowRecord, error) {
	data, err := w.ToJSON()
	if err != nil {
		return nil, err
	}
	return &WorkflowRecord{
		ID:         w.ID,
		Name:       w.Name,
		Type:       string(w.Type),
		NodeCount:  len(w.Nodes),
		Definition: string(data),
	}, nil
}

func (r *WorkflowRecord) workflow() (*workflow.CompiledWorkflow, error) {
	w, err := workflow.FromJSON([]byte(r.Definition))
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", r.ID, err)
	}
	return w, nil
}

// Save implements workflow.Store.
func (s *SQLStore) Save(ctx context.Context, w *workflow.CompiledWorkflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	rec, err := toRecord(w)
	if err != nil {
		return err
	}
	err = s.tx(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "type", "node_count", "definition", "updated_at"}),
		}).Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// Load implements workflow.Store.
func (s *SQLStore) Load(ctx context.Context, id string) (*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var rec WorkflowRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return rec.workflow()
}

// List implements workflow.Catalog.
func (s *SQLStore) List(ctx context.Context) ([]*workflow.CompiledWorkflow, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var recs []WorkflowRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	out := make([]*workflow.CompiledWorkflow, 0, len(recs))
	for i := range recs {
		w, err := recs[i].workflow()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Summaries lists workflows from the indexed columns without decoding
// their definitions.
func (s *SQLStore) Summaries(ctx context.Context) ([]Summary, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var recs []WorkflowRecord
	err := s.db.WithContext(ctx).
		Select("id", "name", "type", "node_count", "updated_at").
		Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	out := make([]Summary, len(recs))
	for i, r := range recs {
		out[i] = Summary{
			ID:        r.ID,
			Name:      r.Name,
			Type:      workflow.WorkflowType(r.Type),
			NodeCount: r.NodeCount,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return out, nil
}

// Delete implements workflow.Catalog.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	var affected int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Delete(&WorkflowRecord{}, "id = ?", id)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close marks the store closed; the connection pool stays with its owner.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

package persistence

import (
	"context"
	"time"

	"github.com/BaSui01/flowcanvas/workflow"
)

// OpObserver receives the outcome of every store operation.
type OpObserver func(backend Kind, op string, d time.Duration, err error)

type instrumented struct {
	Store
	kind    Kind
	observe OpObserver
}

// Instrument reports every Save, Load, List and Delete of s to observe.
func Instrument(s Store, kind Kind, observe OpObserver) Store {
	if observe == nil {
		return s
	}
	return &instrumented{Store: s, kind: kind, observe: observe}
}

func (s *instrumented) done(op string, start time.Time, err error) {
	s.observe(s.kind, op, time.Since(start), err)
}

func (s *instrumented) Save(ctx context.Context, w *workflow.CompiledWorkflow) (err error) {
	defer func(start time.Time) { s.done("save", start, err) }(time.Now())
	return s.Store.Save(ctx, w)
}

func (s *instrumented) Load(ctx context.Context, id string) (w *workflow.CompiledWorkflow, err error) {
	defer func(start time.Time) { s.done("load", start, err) }(time.Now())
	return s.Store.Load(ctx, id)
}

func (s *instrumented) List(ctx context.Context) (ws []*workflow.CompiledWorkflow, err error) {
	defer func(start time.Time) { s.done("list", start, err) }(time.Now())
	return s.Store.List(ctx)
}

func (s *instrumented) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.done("delete", start, err) }(time.Now())
	return s.Store.Delete(ctx, id)
}

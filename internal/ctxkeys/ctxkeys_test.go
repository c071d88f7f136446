package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSubject(ctx, "ci-bot")

	for name, get := range map[string]func(context.Context) (string, bool){
		"req-1":   RequestID,
		"trace-1": TraceID,
		"run-1":   RunID,
		"ci-bot":  Subject,
	} {
		v, ok := get(ctx)
		assert.True(t, ok)
		assert.Equal(t, name, v)
	}

	_, ok = RunID(WithRunID(context.Background(), ""))
	assert.False(t, ok, "empty values read as absent")
}

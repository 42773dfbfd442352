package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartWithoutInitIsNoop(t *testing.T) {
	//nolint:staticcheck // nil context is the fallback under test
	ctx, span := Start(nil, "sync.pass")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}

func TestInitWritesSpansToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	require.NoError(t, Init("delphi-sync-test", Options{Enabled: true, Path: path}))

	_, span := Start(context.Background(), "sync.pass", attribute.Int("connection_id", 4))
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync.pass")

	require.NoError(t, Init("delphi-sync-test", Options{}))
}

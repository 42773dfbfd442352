// pkg/testutil/context.go

// Package testutil holds helpers shared by command and integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/delphi-sync/pkg/eos_io"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// RuntimeContext returns a RuntimeContext that logs through t and is
// cancelled when the test ends. otelzap.Ctx also writes to t until then.
func RuntimeContext(t *testing.T) *eos_io.RuntimeContext {
	t.Helper()
	log := zaptest.NewLogger(t)
	undo := otelzap.ReplaceGlobals(otelzap.New(log))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		undo()
	})

	_, span := noop.NewTracerProvider().Tracer("test").Start(ctx, t.Name())
	return &eos_io.RuntimeContext{
		Ctx:        ctx,
		Log:        log.With(zap.String("test", t.Name())),
		Timestamp:  time.Now(),
		Span:       span,
		Command:    t.Name(),
		Component:  "test",
		Attributes: make(map[string]string),
	}
}

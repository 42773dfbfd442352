package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.TicketsCreated.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TicketsCreated))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TicketsCreated))
}

func TestObservePassAndRecords(t *testing.T) {
	m := New()
	m.ObservePass("agents", nil, time.Second)
	m.ObservePass("agents", errors.New("boom"), time.Second)
	m.ObservePass("agents", nil, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PassesTotal.WithLabelValues("agents", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PassesTotal.WithLabelValues("agents", "failure")))

	m.AddRecords("vulnerabilities", 3, 1, 0, 2, 4)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("vulnerabilities", "created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("vulnerabilities", "failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DiscontinuedTotal.WithLabelValues("vulnerabilities")))
}

func TestSetStateIsOneHot(t *testing.T) {
	m := New()
	states := []string{"idle", "fetching", "error"}
	m.SetState(7, "fetching", states)
	m.SetState(7, "error", states)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("7", "fetching")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("7", "error")))
}

func TestHandlerExposesInstruments(t *testing.T) {
	m := New()
	m.MarkSuccess(3, time.Unix(1700000000, 0))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `delphi_sync_last_success_timestamp_seconds{connection="3"} 1.7e+09`)
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	m := New("test")
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded("feed_inactive", 3*time.Second)
	m.TurnFinished("", time.Second)
	m.TurnFinished("synthesize", time.Second)
	m.ConfigSwitched(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("feed_inactive")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TurnsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StageErrors.WithLabelValues("synthesize")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConfigSwitches.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionEnded("closed", time.Second)
		m.BatchReceived()
		m.TurnFinished("", time.Second)
		m.AudioDelivered(10)
		m.FeedReconnected()
		m.ConfigSwitched(true)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m := New("vtuber")
	m.BatchReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "vtuber_chat_batches_total 1")
}

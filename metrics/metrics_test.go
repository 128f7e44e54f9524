package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveToolCall(t *testing.T) {
	m := New()

	m.ObserveToolCall("stock_price", "success", 0, 120*time.Millisecond)
	m.ObserveToolCall("stock_price", "retried", 2, time.Second)
	m.ObserveToolCall("web_search", "timeout", 1, 3*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("stock_price", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("web_search", "timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolRetries.WithLabelValues("stock_price")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.toolDuration))
}

func TestObserveLoop(t *testing.T) {
	m := New()

	m.ObserveRound()
	m.ObserveRound()
	m.ObserveTrace()
	m.ObserveTopics(1, 0, 3, 1)
	m.ObserveStop("ceiling", 5*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rounds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolTraces))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.topics.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stops.WithLabelValues("ceiling")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveToolCall("news_search", "failed", 0, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `scout_tools_calls_total{status="failed",tool="news_search"} 1`))
}

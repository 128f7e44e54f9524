package tools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig(retries int) Config {
	return Config{
		Timeout:    time.Second,
		MaxRetries: retries,
		RetryDelay: 0,
	}
}

func newTestRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	return NewRouter(cfg, NewRegistry()).WithLogger(zaptest.NewLogger(t))
}

func TestExecuteAlwaysFailingMakesBoundedAttempts(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 4} {
		router := newTestRouter(t, fastConfig(retries))
		var calls int32
		require.NoError(t, router.Register("flaky", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("upstream unavailable")
		})))

		res := router.Execute(context.Background(), "flaky", map[string]any{"symbol": "AAPL"})

		assert.Equal(t, int32(retries+1), atomic.LoadInt32(&calls), "retries=%d", retries)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, retries, res.Retries)
		assert.Equal(t, "upstream unavailable", res.Error)
		assert.Nil(t, res.Data)
	}
}

func TestExecuteFailOnceThenSucceedIsRetried(t *testing.T) {
	router := newTestRouter(t, fastConfig(2))
	var calls int32
	require.NoError(t, router.Register("stock_price", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("connection reset")
		}
		return map[string]any{"prices": []any{}}, nil
	})))

	res := router.Execute(context.Background(), "stock_price", nil)

	assert.Equal(t, StatusRetried, res.Status)
	assert.Equal(t, 1, res.Retries)
	assert.Empty(t, res.Error)
	assert.NotNil(t, res.Data)
	assert.True(t, res.OK())
}

func TestExecuteImmediateSuccess(t *testing.T) {
	router := newTestRouter(t, fastConfig(2))
	require.NoError(t, router.Register("stock_info", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		return map[string]any{"name": "Apple"}, nil
	})))

	res := router.Execute(context.Background(), "stock_info", map[string]any{"symbol": "AAPL"})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, "AAPL", res.Query["symbol"])
	assert.False(t, res.Timestamp.IsZero())
}

func TestExecuteUnknownToolMakesNoAttempt(t *testing.T) {
	router := newTestRouter(t, fastConfig(3))
	var calls int32
	require.NoError(t, router.Register("known", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})))

	res := router.Execute(context.Background(), "no_such_tool", map[string]any{})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Unknown tool type: no_such_tool", res.Error)
	assert.Equal(t, 0, res.Retries)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestExecuteSlowHandlerTimesOut(t *testing.T) {
	router := newTestRouter(t, Config{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 2,
		RetryDelay: 0,
	})
	var calls int32
	require.NoError(t, router.Register("slow", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(time.Second)
		return map[string]any{"late": true}, nil
	})))

	start := time.Now()
	res := router.Execute(context.Background(), "slow", nil)
	elapsed := time.Since(start)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 2, res.Retries)
	assert.Contains(t, res.Error, "Timeout after")
	assert.Nil(t, res.Data)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Less(t, elapsed, 900*time.Millisecond, "attempts must be abandoned, not awaited")
	assert.GreaterOrEqual(t, res.ExecutionTime, 150*time.Millisecond)
}

func TestExecuteLastFailureDecidesStatus(t *testing.T) {
	router := newTestRouter(t, Config{Timeout: 30 * time.Millisecond, MaxRetries: 1})
	var calls int32
	require.NoError(t, router.Register("mixed", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, errors.New("bad request")
	})))

	res := router.Execute(context.Background(), "mixed", nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "bad request", res.Error)
	assert.Equal(t, 1, res.Retries)
}

func TestExecuteEmptyPayloadIsFailure(t *testing.T) {
	payloads := []any{nil, map[string]any{}, []any{}, ""}
	for _, payload := range payloads {
		router := newTestRouter(t, fastConfig(0))
		require.NoError(t, router.Register("empty", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
			return payload, nil
		})))

		res := router.Execute(context.Background(), "empty", nil)

		assert.Equal(t, StatusFailed, res.Status, "payload %#v", payload)
		assert.Equal(t, "Handler returned no data", res.Error)
	}
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	router := newTestRouter(t, fastConfig(0))
	require.NoError(t, router.Register("boom", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		panic("nil map write")
	})))

	res := router.Execute(context.Background(), "boom", nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "handler panic")
}

func TestExecuteSleepsBetweenAttemptsOnly(t *testing.T) {
	router := newTestRouter(t, Config{Timeout: time.Second, MaxRetries: 2, RetryDelay: 40 * time.Millisecond})
	require.NoError(t, router.Register("fail", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		return nil, errors.New("nope")
	})))

	res := router.Execute(context.Background(), "fail", nil)

	// Two pauses for three attempts.
	assert.GreaterOrEqual(t, res.ExecutionTime, 80*time.Millisecond)
	assert.Less(t, res.ExecutionTime, 500*time.Millisecond)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	router := newTestRouter(t, Config{Timeout: time.Second, MaxRetries: 5, RetryDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	require.NoError(t, router.Register("fail", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return nil, errors.New("nope")
	})))

	res := router.Execute(ctx, "fail", nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, res.Retries)
}

func TestExecuteParallelPreservesOrder(t *testing.T) {
	router := newTestRouter(t, fastConfig(0))
	require.NoError(t, router.Register("echo", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		if d, ok := p["delay"].(time.Duration); ok {
			time.Sleep(d)
		}
		return map[string]any{"id": p["id"]}, nil
	})))

	calls := []Call{
		{ToolType: "echo", Params: map[string]any{"id": 0, "delay": 40 * time.Millisecond}},
		{ToolType: "", Params: map[string]any{"id": 1}},
		{ToolType: "echo", Params: map[string]any{"id": 2}},
		{ToolType: "missing", Params: map[string]any{"id": 3}},
	}

	results := router.ExecuteParallel(context.Background(), calls)

	require.Len(t, results, 4)
	assert.Equal(t, StatusSuccess, results[0].Status)
	assert.Equal(t, 0, results[0].Data.(map[string]any)["id"])

	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, "unknown", results[1].ToolType)
	assert.Equal(t, "Missing tool_type", results[1].Error)

	assert.Equal(t, 2, results[2].Data.(map[string]any)["id"])

	assert.Equal(t, StatusFailed, results[3].Status)
	assert.Equal(t, "Unknown tool type: missing", results[3].Error)
}

func TestExecuteParallelRunsConcurrently(t *testing.T) {
	router := newTestRouter(t, Config{Timeout: time.Second, ParallelLimit: 4})
	require.NoError(t, router.Register("wait", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		time.Sleep(60 * time.Millisecond)
		return "done", nil
	})))

	calls := make([]Call, 4)
	for i := range calls {
		calls[i] = Call{ToolType: "wait"}
	}

	start := time.Now()
	results := router.ExecuteParallel(context.Background(), calls)

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	status []string
}

func (o *recordingObserver) ObserveToolCall(toolType, status string, retries int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = append(o.status, toolType+":"+status)
}

func TestExecuteNotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	router := newTestRouter(t, fastConfig(0)).WithObserver(obs)
	require.NoError(t, router.Register("ok", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		return "fine", nil
	})))

	router.Execute(context.Background(), "ok", nil)
	router.Execute(context.Background(), "nope", nil)

	assert.Equal(t, []string{"ok:success", "nope:failed"}, obs.status)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	router := newTestRouter(t, Config{
		Timeout:    time.Second,
		MaxRetries: 0,
		Breaker: BreakerConfig{
			Enabled:      true,
			MinRequests:  2,
			FailureRatio: 0.5,
			OpenTimeout:  time.Minute,
		},
	})
	var calls int32
	require.NoError(t, router.Register("down", HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("503")
	})))

	router.Execute(context.Background(), "down", nil)
	router.Execute(context.Background(), "down", nil)
	res := router.Execute(context.Background(), "down", nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "circuit breaker is open")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRouterAvailableTools(t *testing.T) {
	router := newTestRouter(t, DefaultConfig())
	noop := HandlerFunc(func(ctx context.Context, p map[string]any) (any, error) { return "x", nil })
	require.NoError(t, router.Register("web_search", noop))
	require.NoError(t, router.Register("stock_price", noop))

	assert.Equal(t, []string{"stock_price", "web_search"}, router.AvailableTools())
	assert.Error(t, router.Register("web_search", noop))
}

func TestConfigNormalizeKeepsZeroRetries(t *testing.T) {
	cfg := Config{}.normalize()
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.RetryDelay)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxResultSize, cfg.MaxResultSize)
	assert.Equal(t, DefaultParallelLimit, cfg.ParallelLimit)
}

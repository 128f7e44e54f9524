// Tool Router with timeout and retry policy.
//
// Information Hiding:
// - Attempt timeout and abandonment hidden
// - Retry pacing hidden
// - Circuit breaker and rate limiter state hidden

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNoData is returned for handlers that succeed with an empty payload.
var ErrNoData = errors.New("Handler returned no data")

// TimeoutError marks an attempt abandoned after the configured timeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timeout after %gs", e.After.Seconds())
}

// IsTimeout reports whether err is an attempt timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Observer receives one callback per finished Execute call.
type Observer interface {
	ObserveToolCall(toolType, status string, retries int, elapsed time.Duration)
}

// Router executes registered handlers under a fixed timeout/retry policy.
// Safe for concurrent use.
type Router struct {
	config   Config
	registry *Registry
	logger   *zap.Logger
	observer Observer
	tracer   trace.Tracer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
	limiters map[string]*rate.Limiter
}

// NewRouter creates a router over registry. A nil registry starts empty.
func NewRouter(config Config, registry *Registry) *Router {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Router{
		config:   config.normalize(),
		registry: registry,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/richinex/scout/tools"),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithLogger sets the logger used for attempt failures.
func (r *Router) WithLogger(logger *zap.Logger) *Router {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithObserver sets a metrics observer.
func (r *Router) WithObserver(o Observer) *Router {
	r.observer = o
	return r
}

// Config returns the normalised policy.
func (r *Router) Config() Config {
	return r.config
}

// Registry returns the handler registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Register adds a handler at runtime.
// Must not race with in-flight Execute calls for the same tool type.
func (r *Router) Register(toolType string, h Handler) error {
	return r.registry.Register(toolType, h)
}

// AvailableTools returns the registered tool types, sorted.
func (r *Router) AvailableTools() []string {
	return r.registry.Names()
}

// Execute runs one tool call. It never returns an error: every outcome is a Result.
func (r *Router) Execute(ctx context.Context, toolType string, params map[string]any) Result {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "tools.execute",
		trace.WithAttributes(attribute.String("tool.type", toolType)))
	defer span.End()

	query := copyParams(params)

	handler, ok := r.registry.Get(toolType)
	if !ok {
		return r.finish(span, Result{
			ToolType: toolType,
			Query:    query,
			Status:   StatusFailed,
			Error:    fmt.Sprintf("Unknown tool type: %s", toolType),
		}, start)
	}

	maxAttempts := r.config.MaxRetries + 1
	attempts := 0
	var lastErr error

	for attempts < maxAttempts {
		attempts++

		data, err := r.guarded(ctx, toolType, handler, query)
		if err == nil {
			status := StatusSuccess
			if attempts > 1 {
				status = StatusRetried
			}
			return r.finish(span, Result{
				ToolType: toolType,
				Query:    query,
				Status:   status,
				Data:     data,
				Retries:  attempts - 1,
			}, start)
		}

		lastErr = err
		r.logger.Warn("tool_attempt_failed",
			zap.String("tool_type", toolType),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Bool("timeout", IsTimeout(err)),
			zap.Error(err),
		)

		if ctx.Err() != nil || IsCircuitOpen(err) {
			break
		}

		if attempts < maxAttempts && r.config.RetryDelay > 0 {
			timer := time.NewTimer(r.config.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	status := StatusFailed
	if IsTimeout(lastErr) {
		status = StatusTimeout
	}
	return r.finish(span, Result{
		ToolType: toolType,
		Query:    query,
		Status:   status,
		Error:    lastErr.Error(),
		Retries:  attempts - 1,
	}, start)
}

// ExecuteParallel runs independent calls concurrently and returns results in
// input order. Entries without a tool type fail without reaching a handler.
func (r *Router) ExecuteParallel(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	g.SetLimit(r.config.ParallelLimit)

	for i, call := range calls {
		if strings.TrimSpace(call.ToolType) == "" {
			results[i] = Result{
				ToolType:  "unknown",
				Query:     copyParams(call.Params),
				Status:    StatusFailed,
				Error:     "Missing tool_type",
				Timestamp: time.Now().UTC(),
			}
			continue
		}
		g.Go(func() error {
			results[i] = r.Execute(ctx, call.ToolType, call.Params)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return results
}

func (r *Router) finish(span trace.Span, res Result, start time.Time) Result {
	res.ExecutionTime = time.Since(start)
	res.Timestamp = time.Now().UTC()

	span.SetAttributes(
		attribute.String("tool.status", string(res.Status)),
		attribute.Int("tool.retries", res.Retries),
	)
	if !res.Status.OK() {
		span.SetStatus(codes.Error, res.Error)
	}

	if r.observer != nil {
		r.observer.ObserveToolCall(res.ToolType, string(res.Status), res.Retries, res.ExecutionTime)
	}
	return res
}

// guarded applies the rate limiter and breaker around one attempt.
func (r *Router) guarded(ctx context.Context, toolType string, h Handler, params map[string]any) (any, error) {
	if limiter := r.limiter(toolType); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	breaker := r.breaker(toolType)
	if breaker == nil {
		return r.attempt(ctx, h, params)
	}
	return breaker.Execute(func() (any, error) {
		return r.attempt(ctx, h, params)
	})
}

// attempt runs the handler once under the attempt timeout.
// A timed-out handler goroutine is abandoned, not killed.
func (r *Router) attempt(ctx context.Context, h Handler, params map[string]any) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		data, err := h.Call(attemptCtx, copyParams(params))
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &TimeoutError{After: r.config.Timeout}
			}
			return nil, out.err
		}
		if isEmpty(out.data) {
			return nil, ErrNoData
		}
		return out.data, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{After: r.config.Timeout}
	}
}

func (r *Router) limiter(toolType string) *rate.Limiter {
	if r.config.RatePerSecond <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[toolType]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(r.config.RatePerSecond), 1)
	r.limiters[toolType] = l
	return l
}

func (r *Router) breaker(toolType string) *gobreaker.CircuitBreaker[any] {
	if !r.config.Breaker.Enabled {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[toolType]; ok {
		return b
	}

	cfg := r.config.Breaker
	settings := gobreaker.Settings{
		Name:        toolType,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit_breaker_state_change",
				zap.String("tool_type", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	b := gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[toolType] = b
	return b
}

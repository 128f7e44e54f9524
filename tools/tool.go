// Package tools provides the tool execution router.
//
// Information Hiding:
// - Handler implementations hidden behind the Handler interface
// - Timeout, retry, breaker and rate-limit policy internal to Router
// - Registry storage and lookup hidden
package tools

import (
	"context"
	"time"
)

// Handler is one external capability reached through the router.
// Call receives a flat parameter map and returns a JSON-serialisable payload.
// Read-only handlers must tolerate being abandoned when an attempt times out.
type Handler interface {
	Call(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Call implements Handler.
func (f HandlerFunc) Call(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Describer is implemented by handlers that can describe themselves for prompts.
type Describer interface {
	Description() string
}

// described attaches a description to a handler.
type described struct {
	Handler
	description string
}

func (d described) Description() string { return d.description }

// WithDescription wraps h so the registry can describe it.
func WithDescription(h Handler, description string) Handler {
	return described{Handler: h, description: description}
}

// Call is one entry for ExecuteParallel.
type Call struct {
	ToolType string         `json:"tool_type"`
	Params   map[string]any `json:"params"`
}

// BreakerConfig configures the optional per-tool circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// Config holds router execution policy. It is fixed once the router is built.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// MaxResultSize is the byte ceiling for raw answers before truncation.
	MaxResultSize int
	// ParallelLimit caps concurrent calls in ExecuteParallel.
	ParallelLimit int
	// RatePerSecond limits attempts per tool type. Zero disables limiting.
	RatePerSecond float64
	Breaker       BreakerConfig
}

// Default policy values.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryDelay    = time.Second
	DefaultMaxResultSize = 50 * 1024
	DefaultParallelLimit = 8
)

// DefaultConfig returns the default router policy.
func DefaultConfig() Config {
	return Config{
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxResultSize: DefaultMaxResultSize,
		ParallelLimit: DefaultParallelLimit,
	}
}

// normalize fills fields where zero has no useful meaning.
// Zero retries and zero delay are honoured.
func (c Config) normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxResultSize <= 0 {
		c.MaxResultSize = DefaultMaxResultSize
	}
	if c.ParallelLimit <= 0 {
		c.ParallelLimit = DefaultParallelLimit
	}
	if c.Breaker.Enabled {
		if c.Breaker.MinRequests == 0 {
			c.Breaker.MinRequests = 5
		}
		if c.Breaker.FailureRatio <= 0 {
			c.Breaker.FailureRatio = 0.6
		}
		if c.Breaker.OpenTimeout <= 0 {
			c.Breaker.OpenTimeout = 30 * time.Second
		}
		if c.Breaker.HalfOpenMaxCalls == 0 {
			c.Breaker.HalfOpenMaxCalls = 1
		}
	}
	return c
}

// Known router tool types.
const (
	TypeStockPrice          = "stock_price"
	TypeStockInfo           = "stock_info"
	TypeFinancialRatios     = "financial_ratios"
	TypeFinancialStatements = "financial_statements"
	TypeTechnicalIndicators = "technical_indicators"
	TypeNewsSearch          = "news_search"
	TypeWebSearch           = "web_search"
	TypeFinanceNews         = "finance_news"
	TypeRAGSearch           = "rag_search"
	TypeYouTubeTranscript   = "youtube_transcript"
	TypeYouTubeChannel      = "youtube_channel"
)

// KnownTypes lists every tool type the research agents know how to address.
func KnownTypes() []string {
	return []string{
		TypeStockPrice, TypeStockInfo, TypeFinancialRatios, TypeFinancialStatements,
		TypeTechnicalIndicators, TypeNewsSearch, TypeWebSearch, TypeFinanceNews,
		TypeRAGSearch, TypeYouTubeTranscript, TypeYouTubeChannel,
	}
}

// Package config provides application settings loaded from environment
// variables and an optional config file.
//
// Settings are created via New() or Load() which handle:
// - Default value application
// - Config file values (YAML, JSON or TOML through viper)
// - Environment variable parsing with validation; env wins over the file
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Router   RouterConfig
	Research ResearchConfig
	Storage  StorageConfig
	Events   EventsConfig
	Metrics  MetricsConfig
	Log      LogConfig
	// Endpoints maps router tool types to HTTP endpoints.
	Endpoints map[string]string
	MCP       MCPConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
	// BaseURL points OpenAI or DeepSeek at a compatible endpoint.
	BaseURL string
}

// RouterConfig holds tool router policy.
type RouterConfig struct {
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxResultSize int
	ParallelLimit int
	RatePerSecond float64
	Breaker       bool
}

// ResearchConfig bounds a research run.
type ResearchConfig struct {
	MaxTopics             int
	MaxIterations         int
	MaxIterationsPerTopic int
	MaxDuration           time.Duration
	ReportLanguage        string
}

// StorageConfig selects where snapshots are kept.
type StorageConfig struct {
	// Backend is one of file, sqlite, redis or none.
	Backend        string
	StateDir       string
	SqlitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TTL            time.Duration
	PersistTimeout time.Duration
}

// EventsConfig configures progress event sinks.
type EventsConfig struct {
	Log         bool
	NATSURL     string
	NATSSubject string
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// MCPConfig points at an MCP servers file.
type MCPConfig struct {
	ConfigPath string
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSqlite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// endpointEnvPrefix prefixes per-tool endpoint variables, e.g.
// SCOUT_ENDPOINT_WEB_SEARCH=http://localhost:8081/search.
const endpointEnvPrefix = "SCOUT_ENDPOINT_"

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o-mini", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.0-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider from defaults and
// environment variables. An empty provider falls back to LLM_PROVIDER, then openai.
func New(provider string) (Settings, error) {
	return Load("", provider)
}

// Defaults returns the built-in settings for provider.
func Defaults(provider string) Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			MaxTokens:   4096,
			Temperature: 0.3,
		},
		Router: RouterConfig{
			Timeout:       30 * time.Second,
			MaxRetries:    2,
			RetryDelay:    time.Second,
			MaxResultSize: 50 * 1024,
			ParallelLimit: 8,
		},
		Research: ResearchConfig{
			MaxTopics:             5,
			MaxIterations:         50,
			MaxIterationsPerTopic: 5,
			ReportLanguage:        "en",
		},
		Storage: StorageConfig{
			Backend:        BackendFile,
			StateDir:       ".scout/state",
			SqlitePath:     ".scout/scout.db",
			RedisAddr:      "localhost:6379",
			PersistTimeout: 5 * time.Second,
		},
		Events: EventsConfig{
			Log:         true,
			NATSSubject: "scout.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Endpoints: map[string]string{},
	}
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate reports settings that cannot work.
func (s Settings) Validate() error {
	if _, err := getProviderInfo(s.LLM.Provider); err != nil {
		return err
	}
	switch s.Storage.Backend {
	case BackendFile, BackendSqlite, BackendRedis, BackendNone:
	default:
		return fmt.Errorf("unknown storage backend: %q", s.Storage.Backend)
	}
	if s.Research.MaxTopics <= 0 {
		return fmt.Errorf("research max topics must be positive, got %d", s.Research.MaxTopics)
	}
	if s.Research.MaxIterations <= 0 {
		return fmt.Errorf("research max iterations must be positive, got %d", s.Research.MaxIterations)
	}
	if s.Router.MaxRetries < 0 {
		return fmt.Errorf("router max retries cannot be negative, got %d", s.Router.MaxRetries)
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// endpointsFromEnv collects SCOUT_ENDPOINT_* variables keyed by lower-cased tool type.
func endpointsFromEnv() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || val == "" || !strings.HasPrefix(key, endpointEnvPrefix) {
			continue
		}
		toolType := strings.ToLower(strings.TrimPrefix(key, endpointEnvPrefix))
		if toolType != "" {
			out[toolType] = val
		}
	}
	return out
}

// Environment variable helpers with proper error handling

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load builds settings from defaults, then the config file at path (if
// any), then environment variables. The provider argument wins over
// LLM_PROVIDER, which wins over the file's llm.provider.
func Load(path, provider string) (Settings, error) {
	var v *viper.Viper
	if path != "" {
		v = viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	provider = resolveProvider(provider, v)
	s := Defaults(provider)
	if v != nil {
		applyFile(v, &s)
	}
	if err := applyEnv(&s); err != nil {
		return Settings{}, err
	}

	if s.LLM.Model == "" {
		model, err := ModelFor(provider)
		if err != nil {
			return Settings{}, err
		}
		s.LLM.Model = model
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func resolveProvider(provider string, v *viper.Viper) string {
	switch {
	case provider != "":
	case os.Getenv("LLM_PROVIDER") != "":
		provider = os.Getenv("LLM_PROVIDER")
	case v != nil && v.GetString("llm.provider") != "":
		provider = v.GetString("llm.provider")
	default:
		provider = "openai"
	}
	return normalizeProvider(provider)
}

// applyFile copies every key present in the file onto s.
func applyFile(v *viper.Viper, s *Settings) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	integer := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	if v.GetString("llm.provider") == "" || normalizeProvider(v.GetString("llm.provider")) == s.LLM.Provider {
		str("llm.model", &s.LLM.Model)
	}
	if v.IsSet("llm.max_tokens") {
		s.LLM.MaxTokens = v.GetUint32("llm.max_tokens")
	}
	float("llm.temperature", &s.LLM.Temperature)
	str("llm.base_url", &s.LLM.BaseURL)

	duration("router.timeout", &s.Router.Timeout)
	integer("router.max_retries", &s.Router.MaxRetries)
	duration("router.retry_delay", &s.Router.RetryDelay)
	integer("router.max_result_size", &s.Router.MaxResultSize)
	integer("router.parallel_limit", &s.Router.ParallelLimit)
	float("router.rate_per_second", &s.Router.RatePerSecond)
	boolean("router.breaker", &s.Router.Breaker)

	integer("research.max_topics", &s.Research.MaxTopics)
	integer("research.max_iterations", &s.Research.MaxIterations)
	integer("research.max_iterations_per_topic", &s.Research.MaxIterationsPerTopic)
	duration("research.max_duration", &s.Research.MaxDuration)
	str("research.report_language", &s.Research.ReportLanguage)

	str("storage.backend", &s.Storage.Backend)
	str("storage.state_dir", &s.Storage.StateDir)
	str("storage.sqlite_path", &s.Storage.SqlitePath)
	str("storage.redis_addr", &s.Storage.RedisAddr)
	str("storage.redis_password", &s.Storage.RedisPassword)
	integer("storage.redis_db", &s.Storage.RedisDB)
	duration("storage.ttl", &s.Storage.TTL)
	duration("storage.persist_timeout", &s.Storage.PersistTimeout)

	boolean("events.log", &s.Events.Log)
	str("events.nats_url", &s.Events.NATSURL)
	str("events.nats_subject", &s.Events.NATSSubject)

	str("metrics.addr", &s.Metrics.Addr)

	str("log.level", &s.Log.Level)
	str("log.format", &s.Log.Format)

	str("mcp.config", &s.MCP.ConfigPath)

	// viper lower-cases map keys, which matches tool type naming.
	for toolType, endpoint := range v.GetStringMapString("endpoints") {
		s.Endpoints[toolType] = endpoint
	}
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) str(key string, dst *string) {
	*dst = getEnvString(key, *dst)
}

func (r *envReader) integer(key string, dst *int) {
	if r.err != nil {
		return
	}
	*dst, r.err = getEnvInt(key, *dst)
}

func (r *envReader) u32(key string, dst *uint32) {
	if r.err != nil {
		return
	}
	*dst, r.err = getEnvUint32(key, *dst)
}

func (r *envReader) float(key string, dst *float64) {
	if r.err != nil {
		return
	}
	*dst, r.err = getEnvFloat64(key, *dst)
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if r.err != nil {
		return
	}
	*dst, r.err = getEnvDuration(key, *dst)
}

func (r *envReader) boolean(key string, dst *bool) {
	if r.err != nil {
		return
	}
	*dst, r.err = getEnvBool(key, *dst)
}

func applyEnv(s *Settings) error {
	info, err := getProviderInfo(s.LLM.Provider)
	if err != nil {
		return err
	}

	var r envReader
	r.str(info.modelEnv, &s.LLM.Model)
	r.u32("LLM_MAX_TOKENS", &s.LLM.MaxTokens)
	r.float("LLM_TEMPERATURE", &s.LLM.Temperature)
	r.str("LLM_BASE_URL", &s.LLM.BaseURL)

	r.duration("ROUTER_TIMEOUT", &s.Router.Timeout)
	r.integer("ROUTER_MAX_RETRIES", &s.Router.MaxRetries)
	r.duration("ROUTER_RETRY_DELAY", &s.Router.RetryDelay)
	r.integer("ROUTER_MAX_RESULT_SIZE", &s.Router.MaxResultSize)
	r.integer("ROUTER_PARALLEL_LIMIT", &s.Router.ParallelLimit)
	r.float("ROUTER_RATE_PER_SECOND", &s.Router.RatePerSecond)
	r.boolean("ROUTER_BREAKER", &s.Router.Breaker)

	r.integer("RESEARCH_MAX_TOPICS", &s.Research.MaxTopics)
	r.integer("RESEARCH_MAX_ITERATIONS", &s.Research.MaxIterations)
	r.integer("RESEARCH_MAX_ITERATIONS_PER_TOPIC", &s.Research.MaxIterationsPerTopic)
	r.duration("RESEARCH_MAX_DURATION", &s.Research.MaxDuration)
	r.str("RESEARCH_REPORT_LANGUAGE", &s.Research.ReportLanguage)

	r.str("STORAGE_BACKEND", &s.Storage.Backend)
	r.str("STORAGE_STATE_DIR", &s.Storage.StateDir)
	r.str("STORAGE_SQLITE_PATH", &s.Storage.SqlitePath)
	r.str("REDIS_ADDR", &s.Storage.RedisAddr)
	r.str("REDIS_PASSWORD", &s.Storage.RedisPassword)
	r.integer("REDIS_DB", &s.Storage.RedisDB)
	r.duration("STORAGE_TTL", &s.Storage.TTL)
	r.duration("STORAGE_PERSIST_TIMEOUT", &s.Storage.PersistTimeout)

	r.boolean("EVENTS_LOG", &s.Events.Log)
	r.str("NATS_URL", &s.Events.NATSURL)
	r.str("NATS_SUBJECT", &s.Events.NATSSubject)

	r.str("METRICS_ADDR", &s.Metrics.Addr)

	r.str("LOG_LEVEL", &s.Log.Level)
	r.str("LOG_FORMAT", &s.Log.Format)

	r.str("MCP_CONFIG", &s.MCP.ConfigPath)
	if r.err != nil {
		return r.err
	}

	s.Storage.Backend = strings.ToLower(s.Storage.Backend)
	for toolType, endpoint := range endpointsFromEnv() {
		s.Endpoints[toolType] = endpoint
	}
	return nil
}

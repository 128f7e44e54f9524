// Runtime wiring shared by CLI commands.
//
// Information Hiding:
// - Backend selection (file, SQLite, Redis) hidden
// - Tool registration from HTTP endpoints and MCP servers hidden
// - Event sink and metrics endpoint setup hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/scout/agent"
	"github.com/richinex/scout/config"
	"github.com/richinex/scout/events"
	"github.com/richinex/scout/internal/logging"
	"github.com/richinex/scout/llm"
	"github.com/richinex/scout/mcp"
	"github.com/richinex/scout/metrics"
	"github.com/richinex/scout/orchestration"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/storage"
	"github.com/richinex/scout/tools"
)

// runtime holds the infrastructure a command runs against.
type runtime struct {
	settings config.Settings
	logger   *zap.Logger
	router   *tools.Router
	metrics  *metrics.Metrics
	store    storage.SnapshotStore
	archive  *storage.RawArchive
	sinks    events.Multi
	closers  []func() error
}

// loadSettings resolves settings from the config file and environment, then
// applies command-line overrides.
func loadSettings(opts Options) (config.Settings, error) {
	s, err := config.Load(opts.ConfigPath, opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.MaxTopics > 0 {
		s.Research.MaxTopics = opts.MaxTopics
	}
	if opts.MaxIterations > 0 {
		s.Research.MaxIterations = opts.MaxIterations
	}
	if opts.MaxDuration > 0 {
		s.Research.MaxDuration = opts.MaxDuration
	}
	if opts.MetricsAddr != "" {
		s.Metrics.Addr = opts.MetricsAddr
	}
	if opts.MCPConfigPath != "" {
		s.MCP.ConfigPath = opts.MCPConfigPath
	}
	if opts.Verbose {
		s.Log.Level = "debug"
	}
	return s, nil
}

// newRuntime builds logger, router, storage, events and metrics.
// withTools=false skips MCP servers for commands that never call tools.
func newRuntime(ctx context.Context, opts Options, withTools bool) (*runtime, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(settings.Log.Level, settings.Log.Format)
	if err != nil {
		return nil, err
	}

	rt := &runtime{settings: settings, logger: logger}
	rt.closers = append(rt.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	if err := rt.openStorage(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	if settings.Metrics.Addr != "" {
		rt.metrics = metrics.New()
		rt.serveMetrics(settings.Metrics.Addr)
	}

	rt.router = tools.NewRouter(routerConfig(settings.Router), tools.NewRegistry()).WithLogger(logger)
	if rt.metrics != nil {
		rt.router = rt.router.WithObserver(rt.metrics)
	}
	if err := rt.registerEndpoints(); err != nil {
		rt.Close()
		return nil, err
	}
	if withTools {
		rt.registerMCP(ctx)
	}

	if err := rt.openEvents(); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func routerConfig(rc config.RouterConfig) tools.Config {
	return tools.Config{
		Timeout:       rc.Timeout,
		MaxRetries:    rc.MaxRetries,
		RetryDelay:    rc.RetryDelay,
		MaxResultSize: rc.MaxResultSize,
		ParallelLimit: rc.ParallelLimit,
		RatePerSecond: rc.RatePerSecond,
		Breaker:       tools.BreakerConfig{Enabled: rc.Breaker},
	}
}

func (rt *runtime) openStorage(ctx context.Context) error {
	sc := rt.settings.Storage
	switch sc.Backend {
	case config.BackendFile:
		store, err := storage.NewFileStore(sc.StateDir)
		if err != nil {
			return err
		}
		rt.store = store
	case config.BackendSqlite:
		db, err := storage.OpenSqlite(sc.SqlitePath)
		if err != nil {
			return err
		}
		rt.store = db
		rt.archive = storage.NewRawArchive(db)
	case config.BackendRedis:
		store, err := storage.OpenRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB)
		if err != nil {
			return err
		}
		rt.store = store.WithTTL(sc.TTL)
	case config.BackendNone:
	}
	if rt.store != nil {
		rt.closers = append(rt.closers, rt.store.Close)
	}

	// The raw answer archive lives in SQLite whatever the snapshot backend is.
	if rt.archive == nil && sc.SqlitePath != "" && sc.Backend != config.BackendNone {
		db, err := storage.OpenSqlite(sc.SqlitePath)
		if err != nil {
			return err
		}
		rt.archive = storage.NewRawArchive(db)
		rt.closers = append(rt.closers, db.Close)
	}
	return nil
}

func (rt *runtime) registerEndpoints() error {
	timeout := rt.settings.Router.Timeout
	types := make([]string, 0, len(rt.settings.Endpoints))
	for toolType := range rt.settings.Endpoints {
		types = append(types, toolType)
	}
	sort.Strings(types)

	for _, toolType := range types {
		h := tools.NewHTTPHandler(rt.settings.Endpoints[toolType], timeout).
			WithDescription("HTTP endpoint " + rt.settings.Endpoints[toolType])
		if err := rt.router.Register(toolType, h); err != nil {
			return fmt.Errorf("register endpoint for %s: %w", toolType, err)
		}
	}
	return nil
}

// registerMCP starts configured MCP servers. A server that fails to start
// is logged and skipped.
func (rt *runtime) registerMCP(ctx context.Context) {
	path := rt.settings.MCP.ConfigPath
	if path == "" {
		return
	}
	cfg, err := mcp.LoadConfig(path)
	if err != nil {
		rt.logger.Warn("mcp_config_failed", zap.String("path", path), zap.Error(err))
		return
	}
	for _, name := range cfg.ServerNames() {
		session, err := mcp.RegisterTools(ctx, rt.router, name, cfg.MCPServers[name], rt.logger)
		if err != nil {
			rt.logger.Warn("mcp_server_failed", zap.String("server", name), zap.Error(err))
			continue
		}
		rt.closers = append(rt.closers, session.Close)
	}
}

func (rt *runtime) openEvents() error {
	ec := rt.settings.Events
	if ec.Log {
		rt.sinks = append(rt.sinks, events.NewLogSink(rt.logger))
	}
	if ec.NATSURL != "" {
		sink, err := events.ConnectNATS(ec.NATSURL, ec.NATSSubject, events.NATSOptions{}, rt.logger)
		if err != nil {
			return err
		}
		rt.sinks = append(rt.sinks, sink)
		rt.closers = append(rt.closers, sink.Close)
	}
	return nil
}

func (rt *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics_server_failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	rt.logger.Info("metrics_listening", zap.String("addr", addr))
	rt.closers = append(rt.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// Close releases everything in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cleanup failed: %v\n", err)
		}
	}
	rt.closers = nil
}

// createProvider builds the LLM provider the settings select.
func createProvider(s config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(s.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(s.LLM.Provider)
	if err != nil {
		return nil, err
	}

	builder := providerType.
		Model(s.LLM.Model).
		MaxTokens(s.LLM.MaxTokens).
		Temperature(float32(s.LLM.Temperature))
	if s.LLM.BaseURL != "" {
		builder = builder.BaseURL(s.LLM.BaseURL)
	}
	return builder.APIKey(apiKey)
}

// pipeline wires the LLM agent and the runtime into a research pipeline.
func (rt *runtime) pipeline(a *agent.Agent, extra events.Sink) *orchestration.Pipeline {
	rc := rt.settings.Research
	p := orchestration.NewPipeline(rt.router, a, a, a, orchestration.PipelineConfig{
		MaxTopics: rc.MaxTopics,
		Loop: orchestration.LoopConfig{
			MaxIterations:         rc.MaxIterations,
			MaxIterationsPerTopic: rc.MaxIterationsPerTopic,
			MaxDuration:           rc.MaxDuration,
			MaxRawAnswer:          rt.settings.Router.MaxResultSize,
		},
	}).
		WithProposer(a).
		WithReporter(a).
		WithLogger(rt.logger)

	sinks := append(events.Multi{}, rt.sinks...)
	if extra != nil {
		sinks = append(sinks, extra)
	}
	p = p.WithEvents(sinks)

	if rt.store != nil {
		store, timeout := rt.store, rt.settings.Storage.PersistTimeout
		p = p.WithPersisters(func(string) research.Persister {
			return storage.NewPersister(store, timeout)
		})
	}
	if rt.archive != nil {
		p = p.WithArchive(rt.archive)
	}
	if rt.metrics != nil {
		p = p.WithObserver(rt.metrics)
	}
	return p
}

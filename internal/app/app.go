// Package app assembles the scan engine from configuration. Both binaries
// build the same graph; only the surface around it differs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/controller/ws"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/featurecache"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/prediction"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/rolloutcfg"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/external/threatintel"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/repository/clickhouse"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/adapter/sink"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/budget"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/features"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/domain/fusion"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/metrics"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/usecase/scan"
)

// ResultStore persists results and comparisons and answers agreement queries
type ResultStore interface {
	sink.Store
	AgreementRate(ctx context.Context, since time.Time) ([]entity.AgreementStats, error)
}

// App is the assembled engine
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *threatintel.Registry
	Chains   map[entity.ScanPath]*prediction.Chain
	Rollout  rolloutcfg.Provider
	// Static is set when the rollout is configured from the environment and
	// can be changed at runtime
	Static *rolloutcfg.StaticProvider
	Store  ResultStore
	Sink   *sink.Sink
	// Hub streams completed results and comparisons to WebSocket subscribers
	Hub  *ws.Hub
	Scan *scan.Service
	// Checks are health probes of stateful dependencies
	Checks map[string]func(ctx context.Context) error

	runners []func(ctx context.Context)
	closers []func() error
}

// Options adjust how the graph is built
type Options struct {
	Registerer prometheus.Registerer
	Clock      clockwork.Clock
	// SkipStore keeps results in memory even when ClickHouse is enabled
	SkipStore bool
}

// New builds the engine. Call Run to start background refreshers and Close
// to drain.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(opts.Registerer),
		Checks:  make(map[string]func(ctx context.Context) error),
	}

	a.Registry = a.buildSources(opts.Clock)
	aggCfg := threatintel.DefaultAggregatorConfig()
	if f := cfg.ThreatIntel.MinResponseFraction; f > 0 {
		aggCfg.MinResponseFraction = f
	}
	if f := cfg.ThreatIntel.MaxUnavailableFraction; f > 0 {
		aggCfg.MaxUnavailableFraction = f
	}
	aggCfg.MaxConcurrency = cfg.ThreatIntel.MaxConcurrency
	aggregator := threatintel.NewAggregator(a.Registry, aggCfg, opts.Clock, logger, a.Metrics)

	featureCache, err := a.buildFeatureCache(opts.Clock)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	chains, err := a.buildChains(opts.Clock)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Chains = chains

	if err := a.buildRollout(); err != nil {
		a.closeAll()
		return nil, err
	}

	if err := a.buildStore(ctx, opts.SkipStore); err != nil {
		a.closeAll()
		return nil, err
	}
	a.Sink = sink.New(a.Store, sink.Config{
		QueueSize:    cfg.Sink.QueueSize,
		Workers:      cfg.Sink.Workers,
		WriteTimeout: cfg.Sink.WriteTimeout,
	}, logger, a.Metrics)
	a.Sink.Start()
	a.Hub = ws.NewHub(logger)
	a.runners = append(a.runners, a.Hub.Run)

	lexical := features.NewLexical()
	a.Scan, err = scan.NewService(scan.Config{
		Budget: budget.Config{
			Stage1:          cfg.Scan.Stage1Budget,
			Total:           cfg.Scan.TotalBudget,
			Stage2MinViable: cfg.Scan.Stage2MinViable,
		},
		ShadowTimeout: cfg.Scan.ShadowTimeout,
	}, scan.Deps{
		Rollout:  a.Rollout,
		Intel:    aggregator,
		Features: featureCache,
		Pipelines: []scan.Pipeline{
			{Path: entity.PathV1, Extractor: lexical, Chain: chains[entity.PathV1]},
			{Path: entity.PathV2, Extractor: lexical, Chain: chains[entity.PathV2]},
		},
		Fusion:  fusion.NewEngine(aggregator.Tiers()),
		Sink:    sink.NewTee(a.Sink, a.Hub),
		Clock:   opts.Clock,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("build scan service: %w", err)
	}
	return a, nil
}

// Run starts the background refreshers. It returns immediately.
func (a *App) Run(ctx context.Context) {
	for _, run := range a.runners {
		go run(ctx)
	}
}

// Close waits for shadow runs, drains the sink and releases connections
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scan != nil {
		if err := a.Scan.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait shadow runs: %w", err))
		}
	}
	if a.Sink != nil {
		if err := a.Sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain sink: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// configured reports sources that have the credentials they need
type configured interface {
	IsConfigured() bool
}

func (a *App) buildSources(clock clockwork.Clock) *threatintel.Registry {
	ti := a.Config.ThreatIntel
	registry := threatintel.NewRegistry()
	cache := threatintel.NewReportCache(ti.CacheTTL, clock)
	a.runners = append(a.runners, func(ctx context.Context) {
		cache.RunSweeper(ctx, orDefault(ti.CacheTTL, 15*time.Minute))
	})

	register := func(src threatintel.Source, sc config.SourceConfig) {
		enabled := sc.Enabled
		if c, ok := src.(configured); ok && !c.IsConfigured() {
			enabled = false
		}
		registry.Register(threatintel.WithCache(src, cache), entity.ThreatIntelSource{
			Tier:    sc.Tier,
			Timeout: sc.Timeout,
			Enabled: enabled,
		})
		a.Logger.Info("Threat intel source registered",
			"source", src.ID(),
			"tier", sc.Tier,
			"enabled", enabled)
	}

	register(threatintel.NewURLhausClient(threatintel.URLhausConfig{APIKey: ti.AbuseCHKey}), ti.URLhaus)
	register(threatintel.NewVirusTotalClient(threatintel.VirusTotalConfig{APIKey: ti.VirusTotalKey}), ti.VirusTotal)
	register(threatintel.NewThreatFoxClient(threatintel.ThreatFoxConfig{APIKey: ti.AbuseCHKey}), ti.ThreatFox)
	register(threatintel.NewOTXClient(threatintel.OTXConfig{APIKey: ti.AlienVaultKey}), ti.OTX)
	register(threatintel.NewHTTPSource(threatintel.HTTPSourceConfig{
		ServerURL: ti.HTTPSourceURL,
		APIKey:    ti.HTTPSourceKey,
		RateLimit: int(ti.RateLimit * 60),
	}), ti.HTTPSource)

	// the blocklist is answered locally and is never cached
	blocklist := threatintel.NewBlocklistClient(threatintel.BlocklistConfig{
		FeedURL:       ti.BlocklistFeedURL,
		RefreshPeriod: ti.BlocklistRefresh,
	}, clock, a.Logger)
	if ti.Blocklist.Enabled && ti.BlocklistFeedURL != "" {
		a.runners = append(a.runners, blocklist.Run)
	}
	registry.Register(blocklist, entity.ThreatIntelSource{
		Tier:     ti.Blocklist.Tier,
		Timeout:  ti.Blocklist.Timeout,
		Enabled:  ti.Blocklist.Enabled && ti.BlocklistFeedURL != "",
		Endpoint: ti.BlocklistFeedURL,
	})

	return registry
}

func (a *App) buildFeatureCache(clock clockwork.Clock) (*featurecache.Cache, error) {
	fc := a.Config.FeatureCache
	var store featurecache.Store
	switch fc.Backend {
	case "", "memory":
		mem, err := featurecache.NewMemoryStore(fc.Size, clock)
		if err != nil {
			return nil, fmt.Errorf("feature cache: %w", err)
		}
		store = mem
	case "sqlite":
		lite, err := featurecache.OpenSQLite(fc.Path, clock)
		if err != nil {
			return nil, fmt.Errorf("feature cache: %w", err)
		}
		a.closers = append(a.closers, lite.Close)
		a.runners = append(a.runners, func(ctx context.Context) {
			ticker := clock.NewTicker(orDefault(fc.TTL, time.Hour))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.Chan():
					if n, err := lite.Purge(ctx); err != nil {
						a.Logger.Warn("Feature cache purge failed", "error", err)
					} else if n > 0 {
						a.Logger.Debug("Feature cache purged", "removed", n)
					}
				}
			}
		})
		store = lite
	default:
		return nil, fmt.Errorf("feature cache: unknown backend %q", fc.Backend)
	}
	a.Logger.Info("Feature cache ready", "backend", fc.Backend, "ttl", fc.TTL)
	return featurecache.New(store, fc.TTL, a.Logger, a.Metrics), nil
}

// buildChains gives each path its own chain. V2 uses its own model endpoints
// where configured and the shared ones otherwise; the heuristic rule sets
// always differ and each chain keeps its own breakers.
func (a *App) buildChains(clock clockwork.Clock) (map[entity.ScanPath]*prediction.Chain, error) {
	mc := a.Config.Model

	var primary, secondary prediction.Backend
	if mc.PrimaryURL != "" {
		primary = a.httpModel("primary", mc.PrimaryURL, mc.PrimaryKey)
	}
	if mc.SecondaryAddr != "" {
		b, err := a.grpcModel("secondary", mc.SecondaryAddr)
		if err != nil {
			return nil, err
		}
		secondary = b
	}

	v2Primary, v2Secondary := primary, secondary
	if mc.V2PrimaryURL != "" {
		key := mc.V2PrimaryKey
		if key == "" {
			key = mc.PrimaryKey
		}
		v2Primary = a.httpModel("primary-v2", mc.V2PrimaryURL, key)
	}
	if mc.V2SecondaryAddr != "" {
		b, err := a.grpcModel("secondary-v2", mc.V2SecondaryAddr)
		if err != nil {
			return nil, err
		}
		v2Secondary = b
	}

	backends := map[entity.ScanPath][]prediction.Backend{
		entity.PathV1: present(primary, secondary),
		entity.PathV2: present(v2Primary, v2Secondary),
	}
	rules := map[entity.ScanPath][]prediction.Rule{
		entity.PathV1: prediction.LegacyRules(),
		entity.PathV2: prediction.PatternRules(),
	}

	chains := make(map[entity.ScanPath]*prediction.Chain, len(rules))
	for path, rs := range rules {
		if len(backends[path]) == 0 {
			a.Logger.Warn("No model backend configured, Stage 2 answers from the heuristic only", "path", path)
		}
		chains[path] = prediction.NewChain(backends[path],
			prediction.NewHeuristic("heuristic-"+string(path), "1", rs, mc.CIHalfWidth),
			prediction.ChainOptions{
				Label:           string(path),
				BreakerFailures: mc.BreakerFailures,
				BreakerCooldown: mc.BreakerCooldown,
				Clock:           clock,
				Logger:          a.Logger,
				Metrics:         a.Metrics,
			})
	}
	return chains, nil
}

func (a *App) httpModel(name, url, key string) prediction.Backend {
	mc := a.Config.Model
	return prediction.NewHTTPBackend(prediction.HTTPBackendConfig{
		Name:      name,
		URL:       url,
		APIKey:    key,
		Timeout:   mc.PrimaryTimeout,
		HalfWidth: mc.CIHalfWidth,
	})
}

func (a *App) grpcModel(name, addr string) (prediction.Backend, error) {
	mc := a.Config.Model
	b, err := prediction.NewGRPCBackend(prediction.GRPCBackendConfig{
		Name:      name,
		Addr:      addr,
		Timeout:   mc.SecondaryTimeout,
		HalfWidth: mc.CIHalfWidth,
	})
	if err != nil {
		return nil, fmt.Errorf("%s model backend: %w", name, err)
	}
	a.closers = append(a.closers, b.Close)
	return b, nil
}

// present drops unconfigured slots, keeping order
func present(backends ...prediction.Backend) []prediction.Backend {
	var out []prediction.Backend
	for _, b := range backends {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (a *App) buildRollout() error {
	rc := a.Config.Rollout
	if rc.File != "" {
		fp, err := rolloutcfg.NewFileProvider(rc.File, a.Logger, a.Metrics)
		if err != nil {
			return fmt.Errorf("rollout config: %w", err)
		}
		a.Rollout = fp
		a.runners = append(a.runners, func(ctx context.Context) {
			if err := fp.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("Rollout config watcher stopped", "file", rc.File, "error", err)
			}
		})
		return nil
	}

	snap := StaticSnapshot(a.Config)
	if err := rolloutcfg.Validate(snap); err != nil {
		return fmt.Errorf("rollout config: %w", err)
	}
	a.Static = rolloutcfg.NewStaticProvider(&snap)
	a.Rollout = a.Static
	a.Metrics.SetConfigVersion(snap.Version)
	return nil
}

// StaticSnapshot builds the rollout snapshot from environment config. V2
// starts from the V1 decision settings and applies its own overrides.
func StaticSnapshot(cfg *config.Config) entity.ConfigSnapshot {
	v1 := withOverrides(entity.DefaultDecisionConfig(), cfg.Decision)
	v2 := withOverrides(v1, cfg.DecisionV2)

	return entity.ConfigSnapshot{
		Version: 1,
		Rollout: entity.RolloutConfig{
			Percentage: cfg.Rollout.Percentage,
			Shadow:     cfg.Rollout.Shadow,
			Salt:       cfg.Rollout.Salt,
			StickyBy:   entity.StickyKey(cfg.Rollout.StickyBy),
		},
		Decision: map[entity.ScanPath]entity.DecisionConfig{
			entity.PathV1: v1,
			entity.PathV2: v2,
		},
	}
}

// withOverrides applies the non-zero fields of d to base
func withOverrides(base entity.DecisionConfig, d config.DecisionConfig) entity.DecisionConfig {
	if d.MaliciousThreshold > 0 {
		base.Thresholds.Malicious = d.MaliciousThreshold
	}
	if d.SuspiciousThreshold > 0 {
		base.Thresholds.Suspicious = d.SuspiciousThreshold
	}
	if d.IntelWeight > 0 || d.ModelWeight > 0 {
		base.Blend.Intel = d.IntelWeight
		base.Blend.Model = d.ModelWeight
	}
	return base
}

func (a *App) buildStore(ctx context.Context, skip bool) error {
	if skip || !a.Config.ClickHouse.Enabled {
		a.Store = sink.NewMemoryStore(0)
		return nil
	}

	conn, err := clickhouse.NewConnection(ctx, &a.Config.ClickHouse, a.Logger)
	if err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	a.closers = append(a.closers, conn.Close)
	if err := conn.Migrate(ctx); err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	a.Store = clickhouse.NewScansRepository(conn)
	a.Checks["clickhouse"] = conn.Ping
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

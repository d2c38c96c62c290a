package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig
	ClickHouse   ClickHouseConfig
	Scan         ScanConfig
	ThreatIntel  ThreatIntelConfig
	Model        ModelConfig
	FeatureCache FeatureCacheConfig
	Rollout      RolloutConfig
	Decision     DecisionConfig
	// DecisionV2 overrides Decision for the V2 path; zero fields inherit
	DecisionV2 DecisionConfig
	Sink         SinkConfig
}

type AppConfig struct {
	Env  string
	Port int
	Host string
	// RateLimit is requests per minute per client IP on the scan API
	RateLimit int
}

type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Secure   bool
}

type ScanConfig struct {
	TotalBudget     time.Duration
	Stage1Budget    time.Duration
	Stage2MinViable time.Duration
	// ShadowTimeout bounds the background run of the non-primary path
	ShadowTimeout time.Duration
}

// SourceConfig is the tier and timeout of one threat intel source
type SourceConfig struct {
	Enabled bool
	Tier    int
	Timeout time.Duration
}

type ThreatIntelConfig struct {
	AbuseCHKey    string // URLhaus and ThreatFox share the abuse.ch Auth-Key
	VirusTotalKey string
	AlienVaultKey string

	URLhaus    SourceConfig
	VirusTotal SourceConfig
	ThreatFox  SourceConfig
	OTX        SourceConfig
	Blocklist  SourceConfig
	HTTPSource SourceConfig

	BlocklistFeedURL string
	BlocklistRefresh time.Duration
	HTTPSourceURL    string
	HTTPSourceKey    string

	CacheTTL               time.Duration
	RateLimit              float64 // requests per second per source
	MinResponseFraction    float64
	MaxUnavailableFraction float64
	MaxConcurrency         int
}

type ModelConfig struct {
	PrimaryURL       string
	PrimaryKey       string
	PrimaryTimeout   time.Duration
	SecondaryAddr    string
	SecondaryTimeout time.Duration
	CIHalfWidth      float64
	BreakerFailures  int
	BreakerCooldown  time.Duration
	// V2 endpoints replace the shared ones on the V2 path when set
	V2PrimaryURL    string
	V2PrimaryKey    string
	V2SecondaryAddr string
}

type FeatureCacheConfig struct {
	Backend string // memory or sqlite
	TTL     time.Duration
	Size    int
	Path    string
}

type RolloutConfig struct {
	// File, when set, is a YAML snapshot watched for changes
	File       string
	Percentage float64
	Shadow     bool
	Salt       string
	StickyBy   string
}

type DecisionConfig struct {
	MaliciousThreshold  float64
	SuspiciousThreshold float64
	IntelWeight         float64
	ModelWeight         float64
}

type SinkConfig struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/urlverdict")

	// Environment variables
	viper.AutomaticEnv()

	bindEnvVars()
	setDefaults()

	// Try to read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Env:       viper.GetString("APP_ENV"),
			Port:      viper.GetInt("APP_PORT"),
			Host:      viper.GetString("APP_HOST"),
			RateLimit: viper.GetInt("APP_RATE_LIMIT"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  viper.GetBool("CLICKHOUSE_ENABLED"),
			Host:     viper.GetString("CLICKHOUSE_HOST"),
			Port:     viper.GetInt("CLICKHOUSE_PORT"),
			User:     viper.GetString("CLICKHOUSE_USER"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
			Database: viper.GetString("CLICKHOUSE_DATABASE"),
			Secure:   viper.GetBool("CLICKHOUSE_SECURE"),
		},
		Scan: ScanConfig{
			TotalBudget:     viper.GetDuration("SCAN_TOTAL_BUDGET"),
			Stage1Budget:    viper.GetDuration("SCAN_STAGE1_BUDGET"),
			Stage2MinViable: viper.GetDuration("SCAN_STAGE2_MIN_VIABLE"),
			ShadowTimeout:   viper.GetDuration("SCAN_SHADOW_TIMEOUT"),
		},
		ThreatIntel: ThreatIntelConfig{
			AbuseCHKey:    viper.GetString("ABUSECH_AUTH_KEY"),
			VirusTotalKey: viper.GetString("VIRUSTOTAL_API_KEY"),
			AlienVaultKey: viper.GetString("ALIENVAULT_API_KEY"),

			URLhaus:    sourceConfig("URLHAUS"),
			VirusTotal: sourceConfig("VIRUSTOTAL"),
			ThreatFox:  sourceConfig("THREATFOX"),
			OTX:        sourceConfig("OTX"),
			Blocklist:  sourceConfig("BLOCKLIST"),
			HTTPSource: sourceConfig("HTTP_SOURCE"),

			BlocklistFeedURL: viper.GetString("BLOCKLIST_FEED_URL"),
			BlocklistRefresh: viper.GetDuration("BLOCKLIST_REFRESH"),
			HTTPSourceURL:    viper.GetString("HTTP_SOURCE_URL"),
			HTTPSourceKey:    viper.GetString("HTTP_SOURCE_API_KEY"),

			CacheTTL:               viper.GetDuration("THREAT_INTEL_CACHE_TTL"),
			RateLimit:              viper.GetFloat64("THREAT_INTEL_RATE_LIMIT"),
			MinResponseFraction:    viper.GetFloat64("THREAT_INTEL_MIN_RESPONSE_FRACTION"),
			MaxUnavailableFraction: viper.GetFloat64("THREAT_INTEL_MAX_UNAVAILABLE_FRACTION"),
			MaxConcurrency:         viper.GetInt("THREAT_INTEL_MAX_CONCURRENCY"),
		},
		Model: ModelConfig{
			PrimaryURL:       viper.GetString("MODEL_PRIMARY_URL"),
			PrimaryKey:       viper.GetString("MODEL_PRIMARY_API_KEY"),
			PrimaryTimeout:   viper.GetDuration("MODEL_PRIMARY_TIMEOUT"),
			SecondaryAddr:    viper.GetString("MODEL_SECONDARY_ADDR"),
			SecondaryTimeout: viper.GetDuration("MODEL_SECONDARY_TIMEOUT"),
			CIHalfWidth:      viper.GetFloat64("MODEL_CI_HALF_WIDTH"),
			BreakerFailures:  viper.GetInt("MODEL_BREAKER_FAILURES"),
			BreakerCooldown:  viper.GetDuration("MODEL_BREAKER_COOLDOWN"),
			V2PrimaryURL:     viper.GetString("MODEL_V2_PRIMARY_URL"),
			V2PrimaryKey:     viper.GetString("MODEL_V2_PRIMARY_API_KEY"),
			V2SecondaryAddr:  viper.GetString("MODEL_V2_SECONDARY_ADDR"),
		},
		FeatureCache: FeatureCacheConfig{
			Backend: strings.ToLower(viper.GetString("FEATURE_CACHE_BACKEND")),
			TTL:     viper.GetDuration("FEATURE_CACHE_TTL"),
			Size:    viper.GetInt("FEATURE_CACHE_SIZE"),
			Path:    viper.GetString("FEATURE_CACHE_PATH"),
		},
		Rollout: RolloutConfig{
			File:       viper.GetString("ROLLOUT_FILE"),
			Percentage: viper.GetFloat64("ROLLOUT_PERCENTAGE"),
			Shadow:     viper.GetBool("ROLLOUT_SHADOW"),
			Salt:       viper.GetString("ROLLOUT_SALT"),
			StickyBy:   viper.GetString("ROLLOUT_STICKY_BY"),
		},
		Decision: DecisionConfig{
			MaliciousThreshold:  viper.GetFloat64("DECISION_MALICIOUS_THRESHOLD"),
			SuspiciousThreshold: viper.GetFloat64("DECISION_SUSPICIOUS_THRESHOLD"),
			IntelWeight:         viper.GetFloat64("DECISION_INTEL_WEIGHT"),
			ModelWeight:         viper.GetFloat64("DECISION_MODEL_WEIGHT"),
		},
		DecisionV2: DecisionConfig{
			MaliciousThreshold:  viper.GetFloat64("DECISION_V2_MALICIOUS_THRESHOLD"),
			SuspiciousThreshold: viper.GetFloat64("DECISION_V2_SUSPICIOUS_THRESHOLD"),
			IntelWeight:         viper.GetFloat64("DECISION_V2_INTEL_WEIGHT"),
			ModelWeight:         viper.GetFloat64("DECISION_V2_MODEL_WEIGHT"),
		},
		Sink: SinkConfig{
			QueueSize:    viper.GetInt("SINK_QUEUE_SIZE"),
			Workers:      viper.GetInt("SINK_WORKERS"),
			WriteTimeout: viper.GetDuration("SINK_WRITE_TIMEOUT"),
		},
	}

	return config, nil
}

// sourceNames are the env prefixes of the threat intel sources
var sourceNames = []string{"URLHAUS", "VIRUSTOTAL", "THREATFOX", "OTX", "BLOCKLIST", "HTTP_SOURCE"}

func sourceConfig(prefix string) SourceConfig {
	return SourceConfig{
		Enabled: viper.GetBool(prefix + "_ENABLED"),
		Tier:    viper.GetInt(prefix + "_TIER"),
		Timeout: viper.GetDuration(prefix + "_TIMEOUT"),
	}
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")
	viper.BindEnv("APP_RATE_LIMIT")

	// ClickHouse
	viper.BindEnv("CLICKHOUSE_ENABLED")
	viper.BindEnv("CLICKHOUSE_HOST")
	viper.BindEnv("CLICKHOUSE_PORT")
	viper.BindEnv("CLICKHOUSE_USER")
	viper.BindEnv("CLICKHOUSE_PASSWORD")
	viper.BindEnv("CLICKHOUSE_DATABASE")
	viper.BindEnv("CLICKHOUSE_SECURE")

	// Scan budget
	viper.BindEnv("SCAN_TOTAL_BUDGET")
	viper.BindEnv("SCAN_STAGE1_BUDGET")
	viper.BindEnv("SCAN_STAGE2_MIN_VIABLE")
	viper.BindEnv("SCAN_SHADOW_TIMEOUT")

	// Threat Intel
	viper.BindEnv("ABUSECH_AUTH_KEY")
	viper.BindEnv("VIRUSTOTAL_API_KEY")
	viper.BindEnv("ALIENVAULT_API_KEY")
	for _, name := range sourceNames {
		viper.BindEnv(name + "_ENABLED")
		viper.BindEnv(name + "_TIER")
		viper.BindEnv(name + "_TIMEOUT")
	}
	viper.BindEnv("BLOCKLIST_FEED_URL")
	viper.BindEnv("BLOCKLIST_REFRESH")
	viper.BindEnv("HTTP_SOURCE_URL")
	viper.BindEnv("HTTP_SOURCE_API_KEY")
	viper.BindEnv("THREAT_INTEL_CACHE_TTL")
	viper.BindEnv("THREAT_INTEL_RATE_LIMIT")
	viper.BindEnv("THREAT_INTEL_MIN_RESPONSE_FRACTION")
	viper.BindEnv("THREAT_INTEL_MAX_UNAVAILABLE_FRACTION")
	viper.BindEnv("THREAT_INTEL_MAX_CONCURRENCY")

	// Model backends
	viper.BindEnv("MODEL_PRIMARY_URL")
	viper.BindEnv("MODEL_PRIMARY_API_KEY")
	viper.BindEnv("MODEL_PRIMARY_TIMEOUT")
	viper.BindEnv("MODEL_SECONDARY_ADDR")
	viper.BindEnv("MODEL_V2_PRIMARY_URL")
	viper.BindEnv("MODEL_V2_PRIMARY_API_KEY")
	viper.BindEnv("MODEL_V2_SECONDARY_ADDR")
	viper.BindEnv("MODEL_SECONDARY_TIMEOUT")
	viper.BindEnv("MODEL_CI_HALF_WIDTH")
	viper.BindEnv("MODEL_BREAKER_FAILURES")
	viper.BindEnv("MODEL_BREAKER_COOLDOWN")

	// Feature cache
	viper.BindEnv("FEATURE_CACHE_BACKEND")
	viper.BindEnv("FEATURE_CACHE_TTL")
	viper.BindEnv("FEATURE_CACHE_SIZE")
	viper.BindEnv("FEATURE_CACHE_PATH")

	// Rollout
	viper.BindEnv("ROLLOUT_FILE")
	viper.BindEnv("ROLLOUT_PERCENTAGE")
	viper.BindEnv("ROLLOUT_SHADOW")
	viper.BindEnv("ROLLOUT_SALT")
	viper.BindEnv("ROLLOUT_STICKY_BY")

	// Decision
	viper.BindEnv("DECISION_MALICIOUS_THRESHOLD")
	viper.BindEnv("DECISION_SUSPICIOUS_THRESHOLD")
	viper.BindEnv("DECISION_INTEL_WEIGHT")
	viper.BindEnv("DECISION_MODEL_WEIGHT")
	viper.BindEnv("DECISION_V2_MALICIOUS_THRESHOLD")
	viper.BindEnv("DECISION_V2_SUSPICIOUS_THRESHOLD")
	viper.BindEnv("DECISION_V2_INTEL_WEIGHT")
	viper.BindEnv("DECISION_V2_MODEL_WEIGHT")

	// Sink
	viper.BindEnv("SINK_QUEUE_SIZE")
	viper.BindEnv("SINK_WORKERS")
	viper.BindEnv("SINK_WRITE_TIMEOUT")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_HOST", "0.0.0.0")
	viper.SetDefault("APP_RATE_LIMIT", 600)

	// ClickHouse defaults
	viper.SetDefault("CLICKHOUSE_ENABLED", false)
	viper.SetDefault("CLICKHOUSE_HOST", "localhost")
	viper.SetDefault("CLICKHOUSE_PORT", 9000)
	viper.SetDefault("CLICKHOUSE_USER", "urlverdict")
	viper.SetDefault("CLICKHOUSE_DATABASE", "urlverdict")

	// Scan budget defaults
	viper.SetDefault("SCAN_TOTAL_BUDGET", 800*time.Millisecond)
	viper.SetDefault("SCAN_STAGE1_BUDGET", 300*time.Millisecond)
	viper.SetDefault("SCAN_STAGE2_MIN_VIABLE", 50*time.Millisecond)
	viper.SetDefault("SCAN_SHADOW_TIMEOUT", 2*time.Second)

	// Threat Intel defaults: exact-URL feeds are tier 1, reputation tier 2,
	// local and generic lists tier 3
	tiers := map[string]int{
		"URLHAUS": 1, "VIRUSTOTAL": 1,
		"THREATFOX": 2, "OTX": 2,
		"BLOCKLIST": 3, "HTTP_SOURCE": 3,
	}
	for _, name := range sourceNames {
		viper.SetDefault(name+"_ENABLED", true)
		viper.SetDefault(name+"_TIER", tiers[name])
		viper.SetDefault(name+"_TIMEOUT", 250*time.Millisecond)
	}
	viper.SetDefault("BLOCKLIST_TIMEOUT", 10*time.Millisecond)
	viper.SetDefault("BLOCKLIST_FEED_URL", "https://urlhaus.abuse.ch/downloads/text_online/")
	viper.SetDefault("BLOCKLIST_REFRESH", 30*time.Minute)
	viper.SetDefault("THREAT_INTEL_CACHE_TTL", 15*time.Minute)
	viper.SetDefault("THREAT_INTEL_RATE_LIMIT", 5.0)
	viper.SetDefault("THREAT_INTEL_MIN_RESPONSE_FRACTION", 0.8)
	viper.SetDefault("THREAT_INTEL_MAX_UNAVAILABLE_FRACTION", 0.5)
	viper.SetDefault("THREAT_INTEL_MAX_CONCURRENCY", 8)

	// Model defaults
	viper.SetDefault("MODEL_PRIMARY_TIMEOUT", 200*time.Millisecond)
	viper.SetDefault("MODEL_SECONDARY_TIMEOUT", 150*time.Millisecond)
	viper.SetDefault("MODEL_CI_HALF_WIDTH", 0.1)
	viper.SetDefault("MODEL_BREAKER_FAILURES", 5)
	viper.SetDefault("MODEL_BREAKER_COOLDOWN", 30*time.Second)

	// Feature cache defaults
	viper.SetDefault("FEATURE_CACHE_BACKEND", "memory")
	viper.SetDefault("FEATURE_CACHE_TTL", time.Hour)
	viper.SetDefault("FEATURE_CACHE_SIZE", 50000)
	viper.SetDefault("FEATURE_CACHE_PATH", "/var/lib/urlverdict/features.db")

	// Rollout defaults
	viper.SetDefault("ROLLOUT_PERCENTAGE", 0.0)
	viper.SetDefault("ROLLOUT_SHADOW", false)
	viper.SetDefault("ROLLOUT_SALT", "urlverdict")
	viper.SetDefault("ROLLOUT_STICKY_BY", "target")

	// Decision defaults
	viper.SetDefault("DECISION_MALICIOUS_THRESHOLD", 0.75)
	viper.SetDefault("DECISION_SUSPICIOUS_THRESHOLD", 0.45)
	viper.SetDefault("DECISION_INTEL_WEIGHT", 0.4)
	viper.SetDefault("DECISION_MODEL_WEIGHT", 0.6)

	// Sink defaults
	viper.SetDefault("SINK_QUEUE_SIZE", 1024)
	viper.SetDefault("SINK_WORKERS", 2)
	viper.SetDefault("SINK_WRITE_TIMEOUT", 10*time.Second)
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

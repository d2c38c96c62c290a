package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/config"
)

// Connection wraps the ClickHouse connection
type Connection struct {
	conn   driver.Conn
	config *config.ClickHouseConfig
	logger *slog.Logger
}

// NewConnection opens a ClickHouse connection and pings it within five
// seconds
func NewConnection(ctx context.Context, cfg *config.ClickHouseConfig, logger *slog.Logger) (*Connection, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	logger.Info("Connected to ClickHouse",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
	)

	return &Connection{
		conn:   conn,
		config: cfg,
		logger: logger,
	}, nil
}

// Close closes the connection
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Ping tests the connection
func (c *Connection) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Migrate creates the tables the scan store writes to
func (c *Connection) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS scan_results (
		request_id String,
		target_id String,
		url String,
		path LowCardinality(String),
		config_version Int64,
		verdict LowCardinality(String),
		probability Float64,
		ci_lower Float64,
		ci_upper Float64,
		fallback_level Int8,
		model_id String,
		degraded UInt8,
		stage1_degraded UInt8,
		stage1_insufficient UInt8,
		stage2_skipped UInt8,
		cache_degraded UInt8,
		low_confidence UInt8,
		sources_responded UInt16,
		sources_total UInt16,
		decision_graph String,
		latency_ms Float64,
		created_at DateTime64(3)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(created_at)
	ORDER BY (created_at, target_id)
	TTL toDateTime(created_at) + INTERVAL 90 DAY`,
	`CREATE TABLE IF NOT EXISTS shadow_comparisons (
		request_id String,
		target_id String,
		config_version Int64,
		primary_path LowCardinality(String),
		v1_verdict LowCardinality(String),
		v2_verdict LowCardinality(String),
		v1_probability Float64,
		v2_probability Float64,
		probability_delta Float64,
		agreement UInt8,
		recorded_at DateTime64(3)
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(recorded_at)
	ORDER BY (recorded_at, target_id)
	TTL toDateTime(recorded_at) + INTERVAL 90 DAY`,
}

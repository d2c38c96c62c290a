package featurecache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub005/internal/entity"
)

// SQLiteStore persists vectors across restarts
type SQLiteStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

// OpenSQLite opens or creates the store at path. ":memory:" is accepted.
func OpenSQLite(path string, clock clockwork.Clock) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir cache dir: %w", err)
		}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, clock: clock}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS feature_vectors (
			cache_key TEXT PRIMARY KEY,
			schema_version TEXT NOT NULL,
			expires_unix_ns INTEGER NOT NULL,
			vector_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_feature_vectors_expiry ON feature_vectors(expires_unix_ns);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

// Get returns the vector if present and not expired
func (s *SQLiteStore) Get(ctx context.Context, key string) (entity.FeatureVector, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT vector_json FROM feature_vectors WHERE cache_key = ? AND expires_unix_ns > ?`,
		key, s.clock.Now().UnixNano(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return entity.FeatureVector{}, false, nil
	}
	if err != nil {
		return entity.FeatureVector{}, false, fmt.Errorf("query vector: %w", err)
	}

	var v entity.FeatureVector
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return entity.FeatureVector{}, false, fmt.Errorf("decode vector: %w", err)
	}
	return v, true, nil
}

// Put upserts the vector
func (s *SQLiteStore) Put(ctx context.Context, key string, vector entity.FeatureVector, ttl time.Duration) error {
	b, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feature_vectors (cache_key, schema_version, expires_unix_ns, vector_json)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
			schema_version = excluded.schema_version,
			expires_unix_ns = excluded.expires_unix_ns,
			vector_json = excluded.vector_json`,
		key, vector.SchemaVersion, s.clock.Now().Add(ttl).UnixNano(), string(b),
	)
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feature_vectors WHERE expires_unix_ns <= ?`, s.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge vectors: %w", err)
	}
	return res.RowsAffected()
}

// Package sqlstore persists trial results, user votes, provider statistics and rating
// state in SQLite through database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver
)

const (
	driverName      = "sqlite"
	memoryPath      = ":memory:"
	busyTimeoutMs   = 5000
	errFmtStorageOp = "%w: %s: %w"
)

// ErrDBNotInitialized is returned when the store has no database handle.
var ErrDBNotInitialized = errors.New("database connection not initialized")

// schema is applied in order by Migrate.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trial_results (
		row_id INTEGER PRIMARY KEY AUTOINCREMENT,
		trial_id TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		sample_id TEXT NOT NULL DEFAULT '',
		voice TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		latency_ms REAL NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		audio_key TEXT NOT NULL DEFAULT '',
		ping_latency_ms REAL NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trial_results_provider ON trial_results(provider)`,
	`CREATE INDEX IF NOT EXISTS idx_trial_results_sample ON trial_results(sample_id)`,
	`CREATE INDEX IF NOT EXISTS idx_trial_results_timestamp ON trial_results(timestamp)`,
	`CREATE TABLE IF NOT EXISTS elo_ratings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'all',
		rating REAL NOT NULL,
		games_played INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL,
		UNIQUE(provider, language)
	)`,
	`CREATE TABLE IF NOT EXISTS provider_stats (
		provider TEXT PRIMARY KEY,
		total_tests INTEGER NOT NULL DEFAULT 0,
		successful_tests INTEGER NOT NULL DEFAULT 0,
		avg_latency REAL NOT NULL DEFAULT 0,
		avg_file_size REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_votes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vote_id TEXT NOT NULL UNIQUE,
		winner TEXT NOT NULL,
		loser TEXT NOT NULL,
		vote_type TEXT NOT NULL,
		text_sample TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'all',
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_votes_language ON user_votes(language)`,
}

// Config holds the settings of a Store.
type Config struct {
	// SeedRating is the rating given to a (provider, language) pair on first sight.
	SeedRating float64
}

// Store implements core.RatingStore and core.TrialStore on one SQLite database.
// Every write holds writeMu for its whole read-modify-write transaction.
type Store struct {
	db         *sql.DB
	seedRating float64
	writeMu    sync.Mutex
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// An empty path opens a private in-memory database.
func Open(ctx context.Context, path string, cfg Config) (*Store, error) {
	if cfg.SeedRating != 0 {
		err := core.ValidateRating(cfg.SeedRating)
		if err != nil {
			return nil, fmt.Errorf("seed rating: %w", err)
		}
	}

	if path == "" {
		path = memoryPath
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, "open database", err)
	}

	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	store := NewWithDB(db, cfg)

	_, err = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs))
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(
			fmt.Errorf(errFmtStorageOp, core.ErrStorage, "configure database", err), closeErr)
	}

	err = store.Migrate(ctx)
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(err, closeErr)
	}

	return store, nil
}

// NewWithDB wraps an existing handle without touching the schema.
func NewWithDB(db *sql.DB, cfg Config) *Store {
	seed := cfg.SeedRating
	if seed == 0 {
		seed = elo.DefaultRating
	}

	return &Store{
		db:         db,
		seedRating: seed,
	}
}

// Migrate creates the tables and indexes when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return ErrDBNotInitialized
	}

	for _, statement := range schema {
		_, err := s.db.ExecContext(ctx, statement)
		if err != nil {
			return fmt.Errorf(errFmtStorageOp, core.ErrStorage, "apply schema", err)
		}
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction under writeMu and wraps any failure in
// core.ErrStorage.
func (s *Store) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, ErrDBNotInitialized)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	err = fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			err = errors.Join(err, rollbackErr)
		}

		return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	return nil
}

func (s *Store) checkDB(operation string) error {
	if s.db == nil {
		return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, ErrDBNotInitialized)
	}

	return nil
}

func toEpochMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromEpochMicros(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}

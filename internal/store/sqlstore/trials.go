package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
)

const (
	insertTrialQuery = `INSERT INTO trial_results
		(trial_id, provider, sample_id, voice, text, success, latency_ms, size_bytes,
		 error_message, metadata, audio_key, ping_latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectTrialColumns = `SELECT trial_id, provider, sample_id, voice, text, success, latency_ms,
		size_bytes, error_message, metadata, audio_key, ping_latency_ms, timestamp
		FROM trial_results`
	selectProviderStatsQuery = `SELECT total_tests, successful_tests, avg_latency, avg_file_size
		FROM provider_stats WHERE provider = ?`
	upsertProviderStatsQuery = `INSERT INTO provider_stats
		(provider, total_tests, successful_tests, avg_latency, avg_file_size, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			total_tests = excluded.total_tests,
			successful_tests = excluded.successful_tests,
			avg_latency = excluded.avg_latency,
			avg_file_size = excluded.avg_file_size,
			last_updated = excluded.last_updated`
	listProviderStatsQuery = `SELECT provider, total_tests, successful_tests, avg_latency,
		avg_file_size, last_updated FROM provider_stats ORDER BY provider ASC`
	purgeTrialsQuery = `DELETE FROM trial_results WHERE timestamp < ?`
)

// AppendTrial stores one trial result and folds it into the provider's running
// statistics in the same transaction.
func (s *Store) AppendTrial(ctx context.Context, result core.TrialResult) error {
	err := result.Validate()
	if err != nil {
		return err
	}

	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("%w: encode metadata of trial %q: %w", core.ErrValidation, result.ID, err)
	}

	return s.withTx(ctx, "append trial", func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, insertTrialQuery,
			result.ID,
			string(result.Provider),
			result.SampleID,
			result.Voice,
			result.Text,
			result.Success,
			result.LatencyMs,
			result.SizeBytes,
			result.Error,
			string(metadata),
			result.AudioKey,
			result.PingLatencyMs,
			toEpochMicros(result.Timestamp),
		)
		if execErr != nil {
			return fmt.Errorf("insert trial %q: %w", result.ID, execErr)
		}

		return foldProviderStats(ctx, tx, result)
	})
}

// foldProviderStats updates the running tally. Averages cover successful trials only.
func foldProviderStats(ctx context.Context, tx *sql.Tx, result core.TrialResult) error {
	var stats core.ProviderStats

	err := tx.QueryRowContext(ctx, selectProviderStatsQuery, string(result.Provider)).
		Scan(&stats.TotalTests, &stats.SuccessfulTests, &stats.AvgLatencyMs, &stats.AvgSizeBytes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read stats for %s: %w", result.Provider, err)
	}

	stats.TotalTests++

	if result.Success {
		stats.SuccessfulTests++
		n := float64(stats.SuccessfulTests)
		stats.AvgLatencyMs += (result.LatencyMs - stats.AvgLatencyMs) / n
		stats.AvgSizeBytes += (float64(result.SizeBytes) - stats.AvgSizeBytes) / n
	}

	_, err = tx.ExecContext(ctx, upsertProviderStatsQuery,
		string(result.Provider),
		stats.TotalTests,
		stats.SuccessfulTests,
		stats.AvgLatencyMs,
		stats.AvgSizeBytes,
		toEpochMicros(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("write stats for %s: %w", result.Provider, err)
	}

	return nil
}

// ListTrials returns trials newest first, narrowed by filter.
func (s *Store) ListTrials(ctx context.Context, filter core.TrialFilter) ([]core.TrialResult, error) {
	const operation = "list trials"

	err := s.checkDB(operation)
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)

	if filter.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, string(filter.Provider))
	}

	if filter.SampleID != "" {
		clauses = append(clauses, "sample_id = ?")
		args = append(args, filter.SampleID)
	}

	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, toEpochMicros(filter.Since))
	}

	query := selectTrialColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	query += " ORDER BY timestamp DESC, row_id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}
	defer rows.Close()

	results := make([]core.TrialResult, 0)

	for rows.Next() {
		result, scanErr := scanTrial(rows)
		if scanErr != nil {
			return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, scanErr)
		}

		results = append(results, result)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	return results, nil
}

func scanTrial(rows *sql.Rows) (core.TrialResult, error) {
	var (
		result    core.TrialResult
		provider  string
		metadata  string
		timestamp int64
	)

	err := rows.Scan(
		&result.ID,
		&provider,
		&result.SampleID,
		&result.Voice,
		&result.Text,
		&result.Success,
		&result.LatencyMs,
		&result.SizeBytes,
		&result.Error,
		&metadata,
		&result.AudioKey,
		&result.PingLatencyMs,
		&timestamp,
	)
	if err != nil {
		return core.TrialResult{}, fmt.Errorf("scan trial: %w", err)
	}

	if metadata != "" {
		err = json.Unmarshal([]byte(metadata), &result.Metadata)
		if err != nil {
			return core.TrialResult{}, fmt.Errorf("decode metadata of trial %q: %w", result.ID, err)
		}
	}

	result.Provider = core.ProviderID(provider)
	result.Timestamp = fromEpochMicros(timestamp)

	return result, nil
}

// ProviderStats returns the running tally of every provider seen so far.
func (s *Store) ProviderStats(ctx context.Context) ([]core.ProviderStats, error) {
	const operation = "list provider stats"

	err := s.checkDB(operation)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, listProviderStatsQuery)
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}
	defer rows.Close()

	stats := make([]core.ProviderStats, 0)

	for rows.Next() {
		var (
			entry       core.ProviderStats
			provider    string
			lastUpdated int64
		)

		err = rows.Scan(&provider, &entry.TotalTests, &entry.SuccessfulTests,
			&entry.AvgLatencyMs, &entry.AvgSizeBytes, &lastUpdated)
		if err != nil {
			return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
		}

		entry.Provider = core.ProviderID(provider)
		entry.LastUpdated = fromEpochMicros(lastUpdated)
		stats = append(stats, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	return stats, nil
}

// PurgeOlderThan deletes trials recorded more than age ago and returns how many
// rows were removed. Ratings, votes and provider statistics are kept.
func (s *Store) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("%w: retention age must be positive, got %s", core.ErrValidation, age)
	}

	cutoff := toEpochMicros(time.Now().Add(-age))

	var removed int64

	err := s.withTx(ctx, "purge trials", func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, purgeTrialsQuery, cutoff)
		if execErr != nil {
			return fmt.Errorf("delete trials: %w", execErr)
		}

		affected, affectedErr := res.RowsAffected()
		if affectedErr != nil {
			return fmt.Errorf("count deleted trials: %w", affectedErr)
		}

		removed = affected

		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

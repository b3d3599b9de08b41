package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
)

const (
	insertRatingQuery = `INSERT OR IGNORE INTO elo_ratings
		(provider, language, rating, games_played, wins, losses, last_updated)
		VALUES (?, ?, ?, 0, 0, 0, ?)`
	selectRatingQuery = `SELECT rating FROM elo_ratings WHERE provider = ? AND language = ?`
	recordWinQuery    = `UPDATE elo_ratings
		SET rating = ?, games_played = games_played + 1, wins = wins + 1, last_updated = ?
		WHERE provider = ? AND language = ?`
	recordLossQuery = `UPDATE elo_ratings
		SET rating = ?, games_played = games_played + 1, losses = losses + 1, last_updated = ?
		WHERE provider = ? AND language = ?`
	listRatingColumns = `SELECT provider, language, rating, games_played, wins, losses, last_updated
		FROM elo_ratings`
)

// GetOrInitRating returns the provider's rating in the scope, seeding it on first sight.
func (s *Store) GetOrInitRating(
	ctx context.Context,
	provider core.ProviderID,
	language string,
) (float64, error) {
	err := core.ValidateProvider(provider)
	if err != nil {
		return 0, err
	}

	language = core.NormalizeLanguage(language)

	var rating float64

	err = s.withTx(ctx, "get rating", func(tx *sql.Tx) error {
		ensureErr := ensureRating(ctx, tx, provider, language, s.seedRating)
		if ensureErr != nil {
			return ensureErr
		}

		var readErr error

		rating, readErr = readRating(ctx, tx, provider, language)

		return readErr
	})
	if err != nil {
		return 0, err
	}

	return rating, nil
}

// InitRating creates the row at the given rating unless it already exists.
func (s *Store) InitRating(
	ctx context.Context,
	provider core.ProviderID,
	rating float64,
	language string,
) error {
	err := core.ValidateProvider(provider)
	if err != nil {
		return err
	}

	err = core.ValidateRating(rating)
	if err != nil {
		return err
	}

	language = core.NormalizeLanguage(language)

	return s.withTx(ctx, "init rating", func(tx *sql.Tx) error {
		return ensureRating(ctx, tx, provider, language, rating)
	})
}

// UpdatePair applies one win of winner over loser inside a single transaction.
func (s *Store) UpdatePair(
	ctx context.Context,
	winner, loser core.ProviderID,
	kFactor float64,
	language string,
) (float64, float64, error) {
	err := core.ValidatePair(winner, loser, kFactor)
	if err != nil {
		return 0, 0, err
	}

	language = core.NormalizeLanguage(language)

	var newWinner, newLoser float64

	err = s.withTx(ctx, "update pair", func(tx *sql.Tx) error {
		for _, provider := range []core.ProviderID{winner, loser} {
			ensureErr := ensureRating(ctx, tx, provider, language, s.seedRating)
			if ensureErr != nil {
				return ensureErr
			}
		}

		winnerRating, readErr := readRating(ctx, tx, winner, language)
		if readErr != nil {
			return readErr
		}

		loserRating, readErr := readRating(ctx, tx, loser, language)
		if readErr != nil {
			return readErr
		}

		newWinner, newLoser = elo.UpdatePair(winnerRating, loserRating, kFactor)
		now := toEpochMicros(time.Now())

		_, execErr := tx.ExecContext(ctx, recordWinQuery, newWinner, now, string(winner), language)
		if execErr != nil {
			return fmt.Errorf("record win: %w", execErr)
		}

		_, execErr = tx.ExecContext(ctx, recordLossQuery, newLoser, now, string(loser), language)
		if execErr != nil {
			return fmt.Errorf("record loss: %w", execErr)
		}

		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return newWinner, newLoser, nil
}

// ListRatings returns the scope ordered by rating descending, ties in insertion order.
func (s *Store) ListRatings(ctx context.Context, language string) ([]core.RatingState, error) {
	return s.queryRatings(ctx, "list ratings",
		listRatingColumns+` WHERE language = ? ORDER BY rating DESC, id ASC`,
		core.NormalizeLanguage(language))
}

// ListAllRatings returns the rows of every language scope.
func (s *Store) ListAllRatings(ctx context.Context) ([]core.RatingState, error) {
	return s.queryRatings(ctx, "list all ratings",
		listRatingColumns+` ORDER BY language ASC, rating DESC, id ASC`)
}

func (s *Store) queryRatings(
	ctx context.Context,
	operation, query string,
	args ...any,
) ([]core.RatingState, error) {
	err := s.checkDB(operation)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}
	defer rows.Close()

	states := make([]core.RatingState, 0)

	for rows.Next() {
		var (
			state       core.RatingState
			provider    string
			lastUpdated int64
		)

		err = rows.Scan(&provider, &state.Language, &state.Rating,
			&state.GamesPlayed, &state.Wins, &state.Losses, &lastUpdated)
		if err != nil {
			return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
		}

		state.Provider = core.ProviderID(provider)
		state.LastUpdated = fromEpochMicros(lastUpdated)
		states = append(states, state)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	return states, nil
}

func ensureRating(
	ctx context.Context,
	tx *sql.Tx,
	provider core.ProviderID,
	language string,
	seed float64,
) error {
	_, err := tx.ExecContext(ctx, insertRatingQuery,
		string(provider), language, seed, toEpochMicros(time.Now()))
	if err != nil {
		return fmt.Errorf("seed rating for %s/%s: %w", provider, language, err)
	}

	return nil
}

func readRating(
	ctx context.Context,
	tx *sql.Tx,
	provider core.ProviderID,
	language string,
) (float64, error) {
	var rating float64

	err := tx.QueryRowContext(ctx, selectRatingQuery, string(provider), language).Scan(&rating)
	if err != nil {
		return 0, fmt.Errorf("read rating for %s/%s: %w", provider, language, err)
	}

	return rating, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/google/uuid"
)

const (
	recentVotesLimit = 10

	insertVoteQuery = `INSERT INTO user_votes
		(vote_id, winner, loser, vote_type, text_sample, session_id, language, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	selectVoteColumns = `SELECT vote_id, winner, loser, vote_type, text_sample, session_id,
		language, timestamp FROM user_votes`
)

// AppendVote persists one human preference.
func (s *Store) AppendVote(ctx context.Context, vote core.UserVote) error {
	err := vote.Validate()
	if err != nil {
		return err
	}

	if vote.ID == "" {
		vote.ID = uuid.NewString()
	}

	if vote.VoteType == "" {
		vote.VoteType = core.VoteTypeUserPreference
	}

	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now()
	}

	vote.Language = core.NormalizeLanguage(vote.Language)

	return s.withTx(ctx, "append vote", func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, insertVoteQuery,
			vote.ID,
			string(vote.Winner),
			string(vote.Loser),
			vote.VoteType,
			vote.TextSample,
			vote.SessionID,
			vote.Language,
			toEpochMicros(vote.Timestamp),
		)
		if execErr != nil {
			return fmt.Errorf("insert vote %q: %w", vote.ID, execErr)
		}

		return nil
	})
}

// VoteStatistics summarizes the votes of one language. LanguageAll applies no filter.
func (s *Store) VoteStatistics(ctx context.Context, language string) (core.VoteStatistics, error) {
	const operation = "vote statistics"

	stats := core.VoteStatistics{
		WinsByProvider:   make(map[core.ProviderID]int),
		LossesByProvider: make(map[core.ProviderID]int),
		RecentVotes:      make([]core.UserVote, 0),
	}

	err := s.checkDB(operation)
	if err != nil {
		return stats, err
	}

	where, args := "", []any{}

	language = core.NormalizeLanguage(language)
	if language != core.LanguageAll {
		where, args = " WHERE language = ?", []any{language}
	}

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_votes"+where, args...).
		Scan(&stats.TotalVotes)
	if err != nil {
		return stats, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	err = s.countVotesBy(ctx, "winner", where, args, stats.WinsByProvider)
	if err != nil {
		return stats, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	err = s.countVotesBy(ctx, "loser", where, args, stats.LossesByProvider)
	if err != nil {
		return stats, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	stats.RecentVotes, err = s.recentVotes(ctx, where, args)
	if err != nil {
		return stats, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	return stats, nil
}

func (s *Store) countVotesBy(
	ctx context.Context,
	column, where string,
	args []any,
	into map[core.ProviderID]int,
) error {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM user_votes%s GROUP BY %s", column, where, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			provider string
			count    int
		)

		err = rows.Scan(&provider, &count)
		if err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}

		into[core.ProviderID(provider)] = count
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}

	return nil
}

func (s *Store) recentVotes(ctx context.Context, where string, args []any) ([]core.UserVote, error) {
	query := selectVoteColumns + where + " ORDER BY timestamp DESC, id DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, append(args, recentVotesLimit)...)
	if err != nil {
		return nil, fmt.Errorf("recent votes: %w", err)
	}
	defer rows.Close()

	votes := make([]core.UserVote, 0, recentVotesLimit)

	for rows.Next() {
		var (
			vote          core.UserVote
			winner, loser string
			timestamp     int64
		)

		err = rows.Scan(&vote.ID, &winner, &loser, &vote.VoteType, &vote.TextSample,
			&vote.SessionID, &vote.Language, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}

		vote.Winner = core.ProviderID(winner)
		vote.Loser = core.ProviderID(loser)
		vote.Timestamp = fromEpochMicros(timestamp)
		votes = append(votes, vote)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}

	return votes, nil
}

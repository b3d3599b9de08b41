// Package core defines the domain types and the interfaces shared by the benchmark
// components: rating stores, trial persistence, audio storage and vendor invokers.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
// It holds synthesized audio payloads referenced by TrialResult.AudioKey.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// RatingStore owns every RatingState. Implementations must apply UpdatePair as one
// atomic read-modify-write with respect to concurrent updates of the same scope.
type RatingStore interface {
	// GetOrInitRating returns the current rating, creating the (provider, language)
	// row at the seed rating when it has never been seen.
	GetOrInitRating(ctx context.Context, provider ProviderID, language string) (float64, error)
	// InitRating creates the row with the given seed and zero counters. It is a no-op
	// when the row already exists.
	InitRating(ctx context.Context, provider ProviderID, rating float64, language string) error
	// UpdatePair applies one win of winner over loser with the given K-factor.
	UpdatePair(
		ctx context.Context,
		winner, loser ProviderID,
		kFactor float64,
		language string,
	) (newWinner, newLoser float64, err error)
	// ListRatings returns the scope's rows ordered by rating descending, ties in
	// insertion order.
	ListRatings(ctx context.Context, language string) ([]RatingState, error)
	// ListAllRatings returns the rows of every language scope.
	ListAllRatings(ctx context.Context) ([]RatingState, error)
}

// TrialStore persists trial results, user votes and per-provider running statistics.
// Trials and votes are append-only; only PurgeOlderThan removes trials.
type TrialStore interface {
	AppendTrial(ctx context.Context, result TrialResult) error
	ListTrials(ctx context.Context, filter TrialFilter) ([]TrialResult, error)
	ProviderStats(ctx context.Context) ([]ProviderStats, error)
	AppendVote(ctx context.Context, vote UserVote) error
	VoteStatistics(ctx context.Context, language string) (VoteStatistics, error)
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Invoker performs one synthesis call against a vendor. Ordinary failures such as
// timeouts or HTTP errors are reported as a TrialResult with Success=false; Invoke
// never returns an error.
type Invoker interface {
	Invoke(ctx context.Context, provider ProviderID, text, voice string) TrialResult
}

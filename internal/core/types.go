package core

import (
	"strings"
	"time"
)

// LanguageAll is the default rating scope and, for vote statistics, the "no filter" tag.
const LanguageAll = "all"

// VoteTypeUserPreference marks votes that come from a human blind test.
const VoteTypeUserPreference = "user_preference"

// NormalizeLanguage maps an empty or "All Languages" tag onto LanguageAll and trims
// surrounding whitespace from any other tag.
func NormalizeLanguage(language string) string {
	trimmed := strings.TrimSpace(language)

	switch strings.ToLower(trimmed) {
	case "", LanguageAll, "all languages":
		return LanguageAll
	default:
		return trimmed
	}
}

// TrialMetadata carries the free-form attributes of the sample a trial was run on.
type TrialMetadata struct {
	Category        string  `json:"category,omitempty"`
	LengthCategory  string  `json:"length_category,omitempty"`
	WordCount       int     `json:"word_count,omitempty"`
	ComplexityScore float64 `json:"complexity_score,omitempty"`
	Language        string  `json:"language,omitempty"`
	ModelName       string  `json:"model_name,omitempty"`
	Iteration       int     `json:"iteration,omitempty"`
	Format          string  `json:"format,omitempty"`
}

// TrialResult is the immutable outcome of one provider/sample/voice invocation.
type TrialResult struct {
	ID            string        `json:"id" validate:"required"`
	Provider      ProviderID    `json:"provider" validate:"required"`
	SampleID      string        `json:"sample_id"`
	Text          string        `json:"text"`
	Voice         string        `json:"voice"`
	Success       bool          `json:"success"`
	LatencyMs     float64       `json:"latency_ms" validate:"gte=0"`
	SizeBytes     int64         `json:"size_bytes" validate:"gte=0"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Metadata      TrialMetadata `json:"metadata"`
	AudioKey      string        `json:"audio_key,omitempty"`
	Audio         []byte        `json:"-"`
	PingLatencyMs float64       `json:"ping_latency_ms" validate:"gte=0"`
}

// ErrorType returns the part of the error description before its first colon.
func (r TrialResult) ErrorType() string {
	errorType, _, _ := strings.Cut(r.Error, ":")

	return errorType
}

// RatingState is one provider's skill estimate within a language scope.
type RatingState struct {
	Provider    ProviderID `json:"provider"`
	Language    string     `json:"language"`
	Rating      float64    `json:"rating"`
	GamesPlayed int        `json:"games_played"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	LastUpdated time.Time  `json:"last_updated"`
}

// PairwiseOutcome is one derived head-to-head result. Ties carry no winner semantics
// and never mutate ratings.
type PairwiseOutcome struct {
	Winner   ProviderID `json:"winner"`
	Loser    ProviderID `json:"loser"`
	Language string     `json:"language"`
	Tie      bool       `json:"tie,omitempty"`
}

// UserVote is a persisted human preference.
type UserVote struct {
	ID         string     `json:"id"`
	Winner     ProviderID `json:"winner" validate:"required"`
	Loser      ProviderID `json:"loser" validate:"required,nefield=Winner"`
	VoteType   string     `json:"vote_type"`
	TextSample string     `json:"text_sample"`
	SessionID  string     `json:"session_id"`
	Language   string     `json:"language"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ProviderStats is the running per-provider tally maintained by RecordTrial.
type ProviderStats struct {
	Provider        ProviderID `json:"provider"`
	TotalTests      int        `json:"total_tests"`
	SuccessfulTests int        `json:"successful_tests"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	AvgSizeBytes    float64    `json:"avg_size_bytes"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// SuccessRate returns the share of successful tests in percent.
func (s ProviderStats) SuccessRate() float64 {
	if s.TotalTests == 0 {
		return 0
	}

	return float64(s.SuccessfulTests) / float64(s.TotalTests) * 100
}

// TrialFilter narrows ListTrials. Zero values mean "no constraint".
type TrialFilter struct {
	Provider ProviderID
	SampleID string
	Since    time.Time
	Limit    int
}

// VoteStatistics summarizes the user_votes table.
type VoteStatistics struct {
	TotalVotes       int                `json:"total_votes"`
	WinsByProvider   map[ProviderID]int `json:"wins_by_provider"`
	LossesByProvider map[ProviderID]int `json:"losses_by_provider"`
	RecentVotes      []UserVote         `json:"recent_votes"`
}

// BenchmarkSummary is the per-provider aggregate over a result set.
type BenchmarkSummary struct {
	Provider        ProviderID     `json:"provider"`
	TotalTests      int            `json:"total_tests"`
	SuccessRate     float64        `json:"success_rate"`
	AvgLatencyMs    float64        `json:"avg_latency_ms"`
	MedianLatencyMs float64        `json:"median_latency_ms"`
	P90LatencyMs    float64        `json:"p90_latency_ms"`
	P95LatencyMs    float64        `json:"p95_latency_ms"`
	P99LatencyMs    float64        `json:"p99_latency_ms"`
	AvgSizeBytes    float64        `json:"avg_size_bytes"`
	TotalErrors     int            `json:"total_errors"`
	ErrorTypes      map[string]int `json:"error_types"`
}

// LatencyPercentiles describes the latency distribution of one provider.
type LatencyPercentiles struct {
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"n"`
}

// LeaderboardEntry is one ranked row of a leaderboard view.
type LeaderboardEntry struct {
	Rank        int        `json:"rank"`
	Provider    ProviderID `json:"provider"`
	Rating      float64    `json:"rating"`
	GamesPlayed int        `json:"games_played"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	WinRate     float64    `json:"win_rate"`
}

// ProviderComparison is the statistical head-to-head of two providers over a result set.
type ProviderComparison struct {
	ProviderA                ProviderID `json:"provider_a"`
	ProviderB                ProviderID `json:"provider_b"`
	Winner                   ProviderID `json:"winner"`
	InsufficientData         bool       `json:"insufficient_data"`
	LatencyImprovementPct    float64    `json:"latency_improvement_pct"`
	SuccessRateDiff          float64    `json:"success_rate_diff"`
	AvgSizeDiffBytes         float64    `json:"avg_size_diff_bytes"`
	StatisticallySignificant bool       `json:"statistically_significant"`
	ConfidenceLevel          float64    `json:"confidence_level"`
}

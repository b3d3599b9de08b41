// Package aggregate derives read-only views from stored trials and ratings:
// percentiles, per-provider summaries, leaderboards and head-to-head comparisons.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/book-expert/tts-bench/internal/core"
)

const (
	percentMultiplier       = 100.0
	significanceThreshold   = 5.0
	highConfidenceThreshold = 10.0
	highConfidence          = 95.0
	lowConfidence           = 80.0
)

// Percentile returns the p-th percentile of an ascending slice using linear
// interpolation between closest ranks: index = p/100 * (n-1). An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	p = max(0, min(percentMultiplier, p))
	index := p / percentMultiplier * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)

	return sorted[lower] + fraction*(sorted[upper]-sorted[lower])
}

// CalculateSummaryStats summarizes results per provider. Latency and size figures
// cover successful trials only and are 0 when a provider has none.
func CalculateSummaryStats(results []core.TrialResult) map[core.ProviderID]core.BenchmarkSummary {
	byProvider := groupByProvider(results)
	summaries := make(map[core.ProviderID]core.BenchmarkSummary, len(byProvider))

	for provider, providerResults := range byProvider {
		summary := core.BenchmarkSummary{
			Provider:   provider,
			TotalTests: len(providerResults),
			ErrorTypes: make(map[string]int),
		}

		var (
			latencies []float64
			totalSize float64
		)

		for _, result := range providerResults {
			if result.Success {
				latencies = append(latencies, result.LatencyMs)
				totalSize += float64(result.SizeBytes)

				continue
			}

			summary.TotalErrors++
			summary.ErrorTypes[result.ErrorType()]++
		}

		summary.SuccessRate = float64(len(latencies)) / float64(summary.TotalTests) * percentMultiplier

		if len(latencies) > 0 {
			slices.Sort(latencies)
			summary.AvgLatencyMs = mean(latencies)
			summary.MedianLatencyMs = Percentile(latencies, 50)
			summary.P90LatencyMs = Percentile(latencies, 90)
			summary.P95LatencyMs = Percentile(latencies, 95)
			summary.P99LatencyMs = Percentile(latencies, 99)
			summary.AvgSizeBytes = totalSize / float64(len(latencies))
		}

		summaries[provider] = summary
	}

	return summaries
}

// LatencyPercentilesByProvider computes the latency distribution of each provider
// over successful trials with a positive latency.
func LatencyPercentilesByProvider(results []core.TrialResult) map[core.ProviderID]core.LatencyPercentiles {
	latencies := make(map[core.ProviderID][]float64)

	for _, result := range results {
		if result.Success && result.LatencyMs > 0 {
			latencies[result.Provider] = append(latencies[result.Provider], result.LatencyMs)
		}
	}

	percentiles := make(map[core.ProviderID]core.LatencyPercentiles, len(latencies))

	for provider, values := range latencies {
		slices.Sort(values)

		percentiles[provider] = core.LatencyPercentiles{
			P50:   Percentile(values, 50),
			P90:   Percentile(values, 90),
			P95:   Percentile(values, 95),
			P99:   Percentile(values, 99),
			Min:   values[0],
			Max:   values[len(values)-1],
			Avg:   mean(values),
			Count: len(values),
		}
	}

	return percentiles
}

// Leaderboard ranks states by rating descending. Equal ratings keep their input order.
func Leaderboard(states []core.RatingState) []core.LeaderboardEntry {
	ordered := slices.Clone(states)
	slices.SortStableFunc(ordered, func(a, b core.RatingState) int {
		return cmp.Compare(b.Rating, a.Rating)
	})

	entries := make([]core.LeaderboardEntry, 0, len(ordered))

	for i, state := range ordered {
		entries = append(entries, core.LeaderboardEntry{
			Rank:        i + 1,
			Provider:    state.Provider,
			Rating:      state.Rating,
			GamesPlayed: state.GamesPlayed,
			Wins:        state.Wins,
			Losses:      state.Losses,
			WinRate:     winRate(state.Wins, state.GamesPlayed),
		})
	}

	return entries
}

// GetLeaderboard reads one language scope and ranks it.
func GetLeaderboard(ctx context.Context, store core.RatingStore, language string) ([]core.LeaderboardEntry, error) {
	states, err := store.ListRatings(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard for %q: %w", core.NormalizeLanguage(language), err)
	}

	return Leaderboard(states), nil
}

// CrossLanguageLeaderboard merges every scope into one ranking. Counters are summed;
// the rating is the games-weighted mean of the provider's scoped ratings, or
// seedRating for a provider that never played.
func CrossLanguageLeaderboard(states []core.RatingState, seedRating float64) []core.LeaderboardEntry {
	type accumulator struct {
		state         core.RatingState
		weightedTotal float64
	}

	order := make([]core.ProviderID, 0)
	merged := make(map[core.ProviderID]*accumulator)

	for _, state := range states {
		acc, ok := merged[state.Provider]
		if !ok {
			acc = &accumulator{state: core.RatingState{Provider: state.Provider, Language: core.LanguageAll}}
			merged[state.Provider] = acc
			order = append(order, state.Provider)
		}

		acc.state.GamesPlayed += state.GamesPlayed
		acc.state.Wins += state.Wins
		acc.state.Losses += state.Losses
		acc.weightedTotal += state.Rating * float64(state.GamesPlayed)

		if state.LastUpdated.After(acc.state.LastUpdated) {
			acc.state.LastUpdated = state.LastUpdated
		}
	}

	slices.Sort(order)

	combined := make([]core.RatingState, 0, len(order))

	for _, provider := range order {
		acc := merged[provider]

		acc.state.Rating = seedRating
		if acc.state.GamesPlayed > 0 {
			acc.state.Rating = acc.weightedTotal / float64(acc.state.GamesPlayed)
		}

		combined = append(combined, acc.state)
	}

	return Leaderboard(combined)
}

// GetCrossLanguageLeaderboard reads every scope and merges them into one ranking.
func GetCrossLanguageLeaderboard(
	ctx context.Context,
	store core.RatingStore,
	seedRating float64,
) ([]core.LeaderboardEntry, error) {
	states, err := store.ListAllRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cross-language leaderboard: %w", err)
	}

	return CrossLanguageLeaderboard(states, seedRating), nil
}

// CompareProviders compares two providers over results. The winner has the higher
// product of inverse mean latency and success rate; a provider without successful
// trials makes the comparison inconclusive.
func CompareProviders(providerA, providerB core.ProviderID, results []core.TrialResult) core.ProviderComparison {
	comparison := core.ProviderComparison{ProviderA: providerA, ProviderB: providerB}

	statsA := sideStats(providerA, results)
	statsB := sideStats(providerB, results)

	if statsA.successes == 0 || statsB.successes == 0 {
		comparison.InsufficientData = true

		return comparison
	}

	comparison.Winner = providerB
	if statsA.score() > statsB.score() {
		comparison.Winner = providerA
	}

	var improvement float64
	if statsA.avgLatency > 0 {
		improvement = (statsA.avgLatency - statsB.avgLatency) / statsA.avgLatency * percentMultiplier
	}

	comparison.LatencyImprovementPct = math.Abs(improvement)
	comparison.SuccessRateDiff = math.Abs(statsA.successRate() - statsB.successRate())
	comparison.AvgSizeDiffBytes = math.Abs(statsA.avgSize - statsB.avgSize)
	comparison.StatisticallySignificant = comparison.LatencyImprovementPct > significanceThreshold

	comparison.ConfidenceLevel = lowConfidence
	if comparison.LatencyImprovementPct > highConfidenceThreshold {
		comparison.ConfidenceLevel = highConfidence
	}

	return comparison
}

type providerSide struct {
	total      int
	successes  int
	avgLatency float64
	avgSize    float64
}

func sideStats(provider core.ProviderID, results []core.TrialResult) providerSide {
	var (
		side      providerSide
		latencies []float64
		totalSize float64
	)

	for _, result := range results {
		if result.Provider != provider {
			continue
		}

		side.total++

		if result.Success {
			latencies = append(latencies, result.LatencyMs)
			totalSize += float64(result.SizeBytes)
		}
	}

	side.successes = len(latencies)
	if side.successes > 0 {
		side.avgLatency = mean(latencies)
		side.avgSize = totalSize / float64(side.successes)
	}

	return side
}

func (s providerSide) successRate() float64 {
	if s.total == 0 {
		return 0
	}

	return float64(s.successes) / float64(s.total) * percentMultiplier
}

func (s providerSide) score() float64 {
	if s.avgLatency <= 0 {
		return 0
	}

	return 1 / s.avgLatency * (s.successRate() / percentMultiplier)
}

func groupByProvider(results []core.TrialResult) map[core.ProviderID][]core.TrialResult {
	grouped := make(map[core.ProviderID][]core.TrialResult)
	for _, result := range results {
		grouped[result.Provider] = append(grouped[result.Provider], result)
	}

	return grouped
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var total float64
	for _, value := range values {
		total += value
	}

	return total / float64(len(values))
}

func winRate(wins, games int) float64 {
	if games == 0 {
		return 0
	}

	return float64(wins) / float64(games) * percentMultiplier
}

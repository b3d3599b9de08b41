package display

import (
	"io"
	"slices"
	"strconv"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/olekukonko/tablewriter"
)

// RenderLeaderboard writes entries as a table in rank order.
func RenderLeaderboard(w io.Writer, entries []core.LeaderboardEntry) {
	table := newTable(w, []string{"Rank", "Provider", "Rating", "Games", "Wins", "Losses", "Win Rate"})

	for _, entry := range entries {
		table.Append([]string{
			strconv.Itoa(entry.Rank),
			entry.Provider.String(),
			FormatRating(entry.Rating),
			strconv.Itoa(entry.GamesPlayed),
			strconv.Itoa(entry.Wins),
			strconv.Itoa(entry.Losses),
			FormatPercent(entry.WinRate),
		})
	}

	table.Render()
}

// RenderSummaries writes one row per provider, sorted by provider.
func RenderSummaries(w io.Writer, summaries map[core.ProviderID]core.BenchmarkSummary) {
	table := newTable(w, []string{"Provider", "Tests", "Success", "Avg", "Median", "P95", "Avg Size", "Errors"})

	providers := make([]core.ProviderID, 0, len(summaries))
	for provider := range summaries {
		providers = append(providers, provider)
	}

	slices.Sort(providers)

	for _, provider := range providers {
		summary := summaries[provider]
		table.Append([]string{
			provider.String(),
			strconv.Itoa(summary.TotalTests),
			FormatPercent(summary.SuccessRate),
			FormatLatency(summary.AvgLatencyMs),
			FormatLatency(summary.MedianLatencyMs),
			FormatLatency(summary.P95LatencyMs),
			FormatFileSize(int64(summary.AvgSizeBytes)),
			strconv.Itoa(summary.TotalErrors),
		})
	}

	table.Render()
}

// RenderProviderStats writes the running per-provider tallies.
func RenderProviderStats(w io.Writer, stats []core.ProviderStats) {
	table := newTable(w, []string{"Provider", "Tests", "Success", "Avg Latency", "Avg Size"})

	for _, stat := range stats {
		table.Append([]string{
			stat.Provider.String(),
			strconv.Itoa(stat.TotalTests),
			FormatPercent(stat.SuccessRate()),
			FormatLatency(stat.AvgLatencyMs),
			FormatFileSize(int64(stat.AvgSizeBytes)),
		})
	}

	table.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)

	return table
}

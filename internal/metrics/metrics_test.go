package metrics_test

import (
	"strings"
	"testing"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTrial(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())

	m.ObserveTrial(core.TrialResult{Provider: core.ProviderOpenAI, Success: true, LatencyMs: 250})
	m.ObserveTrial(core.TrialResult{Provider: core.ProviderOpenAI, Success: true, LatencyMs: 750})
	m.ObserveTrial(core.TrialResult{Provider: core.ProviderMurf, Error: "Timeout: slow"})

	expected := `
		# HELP tts_bench_trials_total Recorded TTS trials by provider and outcome.
		# TYPE tts_bench_trials_total counter
		tts_bench_trials_total{outcome="failure",provider="murf"} 1
		tts_bench_trials_total{outcome="success",provider="openai"} 2
	`
	require.NoError(t, testutil.CollectAndCompare(m.TrialsTotal, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TrialLatency))
}

func TestObserveOutcomeAndRating(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())

	m.ObserveOutcome("all", metrics.OutcomeApplied)
	m.ObserveOutcome("all", metrics.OutcomeApplied)
	m.ObserveOutcome("Tamil", metrics.OutcomeTie)
	m.SetRating(core.ProviderElevenLabs, "Tamil", 1516)
	m.ObserveVote("Tamil")

	assert.InDelta(t, 2.0, testutil.ToFloat64(m.RatingUpdatesTotal.WithLabelValues("all", metrics.OutcomeApplied)), 1e-9)
	assert.InDelta(t, 1516.0, testutil.ToFloat64(m.ProviderRating.WithLabelValues("elevenlabs", "Tamil")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.VotesTotal.WithLabelValues("Tamil")), 1e-9)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveTrial(core.TrialResult{Provider: core.ProviderMurf, Success: true, LatencyMs: 1})
		m.ObserveOutcome("all", metrics.OutcomeTie)
		m.SetRating(core.ProviderMurf, "all", 1500)
		m.ObserveVote("all")
	})
}

// Package metrics exposes Prometheus instruments for trials, rating updates and votes.
package metrics

import (
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tts_bench"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeApplied = "applied"
	OutcomeTie     = "tie"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics holds the benchmark instruments. A nil *Metrics is a no-op recorder.
type Metrics struct {
	TrialsTotal        *prometheus.CounterVec
	TrialLatency       *prometheus.HistogramVec
	RatingUpdatesTotal *prometheus.CounterVec
	VotesTotal         *prometheus.CounterVec
	ProviderRating     *prometheus.GaugeVec
}

// New registers the instruments with registerer. Passing nil uses the default registry.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registerer)

	return &Metrics{
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Recorded TTS trials by provider and outcome.",
		}, []string{"provider", "outcome"}),
		TrialLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_latency_seconds",
			Help:      "Synthesis latency of successful trials.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		RatingUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_updates_total",
			Help:      "Pairwise outcomes by language scope and outcome.",
		}, []string{"language", "outcome"}),
		VotesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Human votes by language scope.",
		}, []string{"language"}),
		ProviderRating: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_rating",
			Help:      "Latest ELO rating by provider and language scope.",
		}, []string{"provider", "language"}),
	}
}

// ObserveTrial counts a trial and, when it succeeded, records its latency.
func (m *Metrics) ObserveTrial(result core.TrialResult) {
	if m == nil {
		return
	}

	outcome := OutcomeFailure
	if result.Success {
		outcome = OutcomeSuccess
		m.TrialLatency.WithLabelValues(string(result.Provider)).Observe(result.LatencyMs / 1000)
	}

	m.TrialsTotal.WithLabelValues(string(result.Provider), outcome).Inc()
}

// ObserveOutcome counts one pairwise outcome.
func (m *Metrics) ObserveOutcome(language, outcome string) {
	if m == nil {
		return
	}

	m.RatingUpdatesTotal.WithLabelValues(language, outcome).Inc()
}

// SetRating publishes the latest rating of a provider.
func (m *Metrics) SetRating(provider core.ProviderID, language string, rating float64) {
	if m == nil {
		return
	}

	m.ProviderRating.WithLabelValues(string(provider), language).Set(rating)
}

// ObserveVote counts one persisted human vote.
func (m *Metrics) ObserveVote(language string) {
	if m == nil {
		return
	}

	m.VotesTotal.WithLabelValues(language).Inc()
}

// Package orchestrator turns trial results and human votes into rating updates.
// It owns no state: every dependency is injected and the rating store remains the
// only shared mutable resource.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
	"github.com/book-expert/tts-bench/internal/metrics"
	"github.com/google/uuid"
)

var (
	// ErrRatingStoreNil indicates that no rating store was provided.
	ErrRatingStoreNil = errors.New("rating store cannot be nil")
	// ErrTrialStoreNil indicates that no trial store was provided.
	ErrTrialStoreNil = errors.New("trial store cannot be nil")
	// ErrLoggerNil indicates that no logger was provided.
	ErrLoggerNil = errors.New("logger cannot be nil")
)

// AudioSink stores the audio payload of a trial and returns its key.
type AudioSink interface {
	StoreAudio(ctx context.Context, result core.TrialResult) (string, error)
}

// Config holds the tunables of an Orchestrator.
type Config struct {
	KFactor float64
}

// AppliedUpdate is one pairwise update that reached the rating store.
type AppliedUpdate struct {
	Winner          core.ProviderID `json:"winner"`
	Loser           core.ProviderID `json:"loser"`
	NewWinnerRating float64         `json:"new_winner_rating"`
	NewLoserRating  float64         `json:"new_loser_rating"`
}

// ComparisonReport describes what a latency race did to the ratings.
type ComparisonReport struct {
	Language string          `json:"language"`
	Applied  []AppliedUpdate `json:"applied"`
	Ties     int             `json:"ties"`
	Skipped  int             `json:"skipped"`
}

// Orchestrator records trials and votes and applies the resulting rating updates.
type Orchestrator struct {
	ratings core.RatingStore
	trials  core.TrialStore
	audio   AudioSink
	metrics *metrics.Metrics
	log     *logger.Logger
	kFactor float64
}

// New creates an Orchestrator. audio and m may be nil.
func New(
	ratings core.RatingStore,
	trials core.TrialStore,
	audio AudioSink,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) (*Orchestrator, error) {
	if ratings == nil {
		return nil, ErrRatingStoreNil
	}

	if trials == nil {
		return nil, ErrTrialStoreNil
	}

	if log == nil {
		return nil, ErrLoggerNil
	}

	kFactor := cfg.KFactor
	if kFactor == 0 {
		kFactor = elo.DefaultKFactor
	}

	err := core.ValidateKFactor(kFactor)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		ratings: ratings,
		trials:  trials,
		audio:   audio,
		metrics: m,
		log:     log,
		kFactor: kFactor,
	}, nil
}

// RecordTrial validates and persists one trial. Audio, when present and a sink is
// configured, is uploaded first; an upload failure is logged and the trial is kept
// without an audio key.
func (o *Orchestrator) RecordTrial(ctx context.Context, result core.TrialResult) (core.TrialResult, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	err := result.Validate()
	if err != nil {
		return result, err
	}

	if o.audio != nil && len(result.Audio) > 0 {
		key, uploadErr := o.audio.StoreAudio(ctx, result)
		if uploadErr != nil {
			o.log.Warn("Failed to store audio for trial %s (%s): %v", result.ID, result.Provider, uploadErr)
		} else {
			result.AudioKey = key
		}
	}

	err = o.trials.AppendTrial(ctx, result)
	if err != nil {
		return result, fmt.Errorf("failed to record trial %s: %w", result.ID, err)
	}

	o.metrics.ObserveTrial(result)

	return result, nil
}

// DeriveLatencyOutcomes returns the head-to-head outcomes of a latency race in the
// order they are applied. Same-provider pairs are left out.
func DeriveLatencyOutcomes(results []core.TrialResult, language string) []core.PairwiseOutcome {
	outcomes, _ := deriveLatencyOutcomes(results, core.NormalizeLanguage(language))

	return outcomes
}

// deriveLatencyOutcomes groups successful results by sample (samples sorted), sorts
// each group by (provider, voice, id) and compares every unordered pair.
func deriveLatencyOutcomes(results []core.TrialResult, language string) ([]core.PairwiseOutcome, int) {
	bySample := make(map[string][]core.TrialResult)

	for _, result := range results {
		if !result.Success {
			continue
		}

		bySample[result.SampleID] = append(bySample[result.SampleID], result)
	}

	sampleIDs := make([]string, 0, len(bySample))
	for sampleID := range bySample {
		sampleIDs = append(sampleIDs, sampleID)
	}

	slices.Sort(sampleIDs)

	var (
		outcomes []core.PairwiseOutcome
		skipped  int
	)

	for _, sampleID := range sampleIDs {
		group := bySample[sampleID]
		slices.SortFunc(group, func(a, b core.TrialResult) int {
			return cmp.Or(
				cmp.Compare(a.Provider, b.Provider),
				cmp.Compare(a.Voice, b.Voice),
				cmp.Compare(a.ID, b.ID),
			)
		})

		for i := range group {
			for j := i + 1; j < len(group); j++ {
				first, second := group[i], group[j]
				if first.Provider == second.Provider {
					skipped++

					continue
				}

				outcomes = append(outcomes, latencyOutcome(first, second, language))
			}
		}
	}

	return outcomes, skipped
}

func latencyOutcome(first, second core.TrialResult, language string) core.PairwiseOutcome {
	switch {
	case first.LatencyMs < second.LatencyMs:
		return core.PairwiseOutcome{Winner: first.Provider, Loser: second.Provider, Language: language}
	case second.LatencyMs < first.LatencyMs:
		return core.PairwiseOutcome{Winner: second.Provider, Loser: first.Provider, Language: language}
	default:
		return core.PairwiseOutcome{Winner: first.Provider, Loser: second.Provider, Language: language, Tie: true}
	}
}

// CompareAndUpdate runs the automated latency race over results and applies every
// decisive outcome to the language scope. The first store failure stops the batch;
// updates already applied stay and are listed in the report.
func (o *Orchestrator) CompareAndUpdate(
	ctx context.Context,
	results []core.TrialResult,
	language string,
) (ComparisonReport, error) {
	language = core.NormalizeLanguage(language)
	outcomes, skipped := deriveLatencyOutcomes(results, language)

	report := ComparisonReport{
		Language: language,
		Applied:  make([]AppliedUpdate, 0, len(outcomes)),
		Skipped:  skipped,
	}

	for _, outcome := range outcomes {
		if outcome.Tie {
			report.Ties++
			o.metrics.ObserveOutcome(language, metrics.OutcomeTie)

			continue
		}

		update, err := o.applyOutcome(ctx, outcome.Winner, outcome.Loser, language)
		if err != nil {
			o.log.Error("Comparison batch in scope %s stopped after %d of %d outcomes: %v",
				language, len(report.Applied), len(outcomes), err)

			return report, err
		}

		report.Applied = append(report.Applied, update)
	}

	for range skipped {
		o.metrics.ObserveOutcome(language, metrics.OutcomeSkipped)
	}

	return report, nil
}

func (o *Orchestrator) applyOutcome(
	ctx context.Context,
	winner, loser core.ProviderID,
	language string,
) (AppliedUpdate, error) {
	newWinner, newLoser, err := o.ratings.UpdatePair(ctx, winner, loser, o.kFactor, language)
	if err != nil {
		o.metrics.ObserveOutcome(language, metrics.OutcomeError)

		return AppliedUpdate{}, fmt.Errorf("failed to apply %s over %s in scope %s: %w",
			winner, loser, language, err)
	}

	o.metrics.ObserveOutcome(language, metrics.OutcomeApplied)
	o.metrics.SetRating(winner, language, newWinner)
	o.metrics.SetRating(loser, language, newLoser)

	return AppliedUpdate{
		Winner:          winner,
		Loser:           loser,
		NewWinnerRating: newWinner,
		NewLoserRating:  newLoser,
	}, nil
}

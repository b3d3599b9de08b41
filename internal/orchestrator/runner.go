package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/sample"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers     = 4
	defaultCallTimeout = 30 * time.Second
	defaultVoice       = "default"
)

var (
	// ErrInvokerNil indicates that no invoker was provided.
	ErrInvokerNil = errors.New("invoker cannot be nil")
	// ErrOrchestratorNil indicates that no orchestrator was provided.
	ErrOrchestratorNil = errors.New("orchestrator cannot be nil")
	// ErrEmptySuite indicates a suite without providers or samples.
	ErrEmptySuite = fmt.Errorf("%w: suite needs at least one provider and one sample", core.ErrValidation)
)

// RunnerConfig bounds the concurrency of a Runner.
type RunnerConfig struct {
	Workers     int
	CallTimeout time.Duration
}

// Suite describes one benchmark run.
type Suite struct {
	Providers []core.ProviderID
	Samples   []sample.Sample
	// Voices lists the voices per provider; a provider without entries uses "default".
	Voices     map[core.ProviderID][]string
	Iterations int
	Language   string
	// Compare feeds the recorded results into CompareAndUpdate.
	Compare bool
}

// SuiteResult holds every trial of a run in job order and the comparison report
// when one was requested.
type SuiteResult struct {
	Results []core.TrialResult `json:"results"`
	Report  *ComparisonReport  `json:"report,omitempty"`
}

// Runner executes suites against an Invoker with a bounded worker pool.
type Runner struct {
	invoker      core.Invoker
	orchestrator *Orchestrator
	normalizer   *sample.Normalizer
	log          *logger.Logger
	workers      int
	callTimeout  time.Duration
}

type job struct {
	provider  core.ProviderID
	sample    sample.Sample
	voice     string
	iteration int
}

// NewRunner creates a Runner.
func NewRunner(
	invoker core.Invoker,
	orchestrator *Orchestrator,
	log *logger.Logger,
	cfg RunnerConfig,
) (*Runner, error) {
	if invoker == nil {
		return nil, ErrInvokerNil
	}

	if orchestrator == nil {
		return nil, ErrOrchestratorNil
	}

	if log == nil {
		return nil, ErrLoggerNil
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &Runner{
		invoker:      invoker,
		orchestrator: orchestrator,
		normalizer:   sample.NewNormalizer(),
		log:          log,
		workers:      workers,
		callTimeout:  callTimeout,
	}, nil
}

// RunSuite invokes every (provider, sample, voice, iteration) combination
// concurrently and records each result. Recording failures are logged and do not
// stop the run; the failed trials are reported but left out of the comparison.
// Results come back in job order regardless of completion order.
func (r *Runner) RunSuite(ctx context.Context, suite Suite) (SuiteResult, error) {
	jobs, err := r.plan(suite)
	if err != nil {
		return SuiteResult{}, err
	}

	r.log.Info("Running benchmark suite: %d jobs with %d workers", len(jobs), r.workers)

	results := make([]core.TrialResult, len(jobs))
	persisted := make([]bool, len(jobs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	for i, j := range jobs {
		group.Go(func() error {
			result := r.invoke(groupCtx, j)

			recorded, recordErr := r.orchestrator.RecordTrial(groupCtx, result)
			if recordErr != nil {
				r.log.Error("Failed to record trial %s for %s: %v", result.ID, j.provider, recordErr)
			}

			results[i] = recorded
			persisted[i] = recordErr == nil

			return nil
		})
	}

	waitErr := group.Wait()
	if waitErr != nil {
		return SuiteResult{Results: results}, fmt.Errorf("benchmark suite failed: %w", waitErr)
	}

	outcome := SuiteResult{Results: results}

	err = ctx.Err()
	if err != nil {
		return outcome, fmt.Errorf("benchmark suite interrupted: %w", err)
	}

	if suite.Compare {
		comparable := make([]core.TrialResult, 0, len(results))

		for i, result := range results {
			if persisted[i] {
				comparable = append(comparable, result)
			}
		}

		report, compareErr := r.orchestrator.CompareAndUpdate(ctx, comparable, suite.Language)
		outcome.Report = &report

		if compareErr != nil {
			return outcome, compareErr
		}
	}

	return outcome, nil
}

func (r *Runner) plan(suite Suite) ([]job, error) {
	if len(suite.Providers) == 0 || len(suite.Samples) == 0 {
		return nil, ErrEmptySuite
	}

	providers := slices.Clone(suite.Providers)
	slices.Sort(providers)
	providers = slices.Compact(providers)

	samples := make([]sample.Sample, 0, len(suite.Samples))

	for i, raw := range suite.Samples {
		prepared, err := r.normalizer.Prepare(raw, i)
		if err != nil {
			return nil, err
		}

		if prepared.Language == core.LanguageAll && suite.Language != "" {
			prepared.Language = core.NormalizeLanguage(suite.Language)
		}

		samples = append(samples, prepared)
	}

	iterations := max(suite.Iterations, 1)

	var jobs []job

	for _, provider := range providers {
		err := core.ValidateProvider(provider)
		if err != nil {
			return nil, err
		}

		voices := suite.Voices[provider]
		if len(voices) == 0 {
			voices = []string{defaultVoice}
		}

		for _, s := range samples {
			for _, voice := range voices {
				for iteration := 1; iteration <= iterations; iteration++ {
					jobs = append(jobs, job{provider: provider, sample: s, voice: voice, iteration: iteration})
				}
			}
		}
	}

	return jobs, nil
}

// invoke runs one vendor call bounded by the per-call timeout. A call that does not
// return in time becomes a failed trial.
func (r *Runner) invoke(ctx context.Context, j job) core.TrialResult {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	done := make(chan core.TrialResult, 1)

	go func() {
		done <- r.invoker.Invoke(callCtx, j.provider, j.sample.Text, j.voice)
	}()

	var result core.TrialResult

	select {
	case result = <-done:
	case <-callCtx.Done():
		result = core.TrialResult{
			Provider: j.provider,
			Error:    fmt.Sprintf("Timeout: no response within %s: %v", r.callTimeout, callCtx.Err()),
		}
	}

	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	result.Provider = j.provider
	result.SampleID = j.sample.ID
	result.Text = j.sample.Text
	if result.Voice == "" {
		result.Voice = j.voice
	}

	metadata := j.sample.Metadata(j.iteration)
	metadata.ModelName = result.Metadata.ModelName
	metadata.Format = result.Metadata.Format
	result.Metadata = metadata

	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	if !result.Success && result.Error == "" {
		result.Error = "Unknown: provider returned no result"
	}

	return result
}

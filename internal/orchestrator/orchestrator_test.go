package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/aggregate"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/metrics"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/book-expert/tts-bench/internal/store/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-6

var errStoreDown = errors.New("store down")

// countingStore counts UpdatePair calls and can fail after a number of them.
type countingStore struct {
	core.RatingStore

	mu        sync.Mutex
	calls     int
	failAfter int
}

func (c *countingStore) UpdatePair(
	ctx context.Context,
	winner, loser core.ProviderID,
	kFactor float64,
	language string,
) (float64, float64, error) {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()

	if c.failAfter > 0 && calls > c.failAfter {
		return 0, 0, errors.Join(core.ErrStorage, errStoreDown)
	}

	return c.RatingStore.UpdatePair(ctx, winner, loser, kFactor, language)
}

func (c *countingStore) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

type fakeAudioSink struct {
	err error
}

func (f fakeAudioSink) StoreAudio(_ context.Context, result core.TrialResult) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	return "audio/" + string(result.Provider) + "/" + result.ID + ".mp3", nil
}

type fixture struct {
	store        *sqlstore.Store
	ratings      *countingStore
	orchestrator *orchestrator.Orchestrator
	log          *logger.Logger
}

func newFixture(t *testing.T, failAfter int, audio orchestrator.AudioSink) fixture {
	t.Helper()

	store, err := sqlstore.Open(context.Background(), "", sqlstore.Config{})
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := store.Close()
		if closeErr != nil {
			t.Logf("failed to close store: %v", closeErr)
		}
	})

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		closeErr := log.Close()
		if closeErr != nil {
			t.Logf("failed to close logger: %v", closeErr)
		}
	})

	ratings := &countingStore{RatingStore: store, failAfter: failAfter}

	orch, err := orchestrator.New(ratings, store, audio, metrics.New(prometheus.NewRegistry()), log,
		orchestrator.Config{KFactor: 32})
	require.NoError(t, err)

	return fixture{store: store, ratings: ratings, orchestrator: orch, log: log}
}

func race(sampleID string, latencies map[core.ProviderID]float64) []core.TrialResult {
	results := make([]core.TrialResult, 0, len(latencies))
	for provider, latency := range latencies {
		results = append(results, core.TrialResult{
			ID:        sampleID + "-" + string(provider),
			Provider:  provider,
			SampleID:  sampleID,
			Success:   true,
			LatencyMs: latency,
			SizeBytes: 1024,
		})
	}

	return results
}

func TestNew_RejectsMissingDependencies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	_, err := orchestrator.New(nil, f.store, nil, nil, f.log, orchestrator.Config{})
	require.ErrorIs(t, err, orchestrator.ErrRatingStoreNil)

	_, err = orchestrator.New(f.store, nil, nil, nil, f.log, orchestrator.Config{})
	require.ErrorIs(t, err, orchestrator.ErrTrialStoreNil)

	_, err = orchestrator.New(f.store, f.store, nil, nil, nil, orchestrator.Config{})
	require.ErrorIs(t, err, orchestrator.ErrLoggerNil)

	_, err = orchestrator.New(f.store, f.store, nil, nil, f.log, orchestrator.Config{KFactor: -4})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestDeriveLatencyOutcomes_ThreeWayRace(t *testing.T) {
	t.Parallel()

	results := race("s1", map[core.ProviderID]float64{"a": 100, "b": 200, "c": 300})

	outcomes := orchestrator.DeriveLatencyOutcomes(results, "")

	assert.Equal(t, []core.PairwiseOutcome{
		{Winner: "a", Loser: "b", Language: core.LanguageAll},
		{Winner: "a", Loser: "c", Language: core.LanguageAll},
		{Winner: "b", Loser: "c", Language: core.LanguageAll},
	}, outcomes)
}

func TestDeriveLatencyOutcomes_GroupsBySampleAndIgnoresFailures(t *testing.T) {
	t.Parallel()

	results := append(
		race("s2", map[core.ProviderID]float64{"a": 300, "b": 100}),
		race("s1", map[core.ProviderID]float64{"a": 100, "b": 300})...,
	)
	results = append(results, core.TrialResult{
		ID: "failed", Provider: "c", SampleID: "s1", Error: "HTTP 500: boom",
	})

	outcomes := orchestrator.DeriveLatencyOutcomes(results, "German")

	require.Len(t, outcomes, 2)
	assert.Equal(t, core.ProviderID("a"), outcomes[0].Winner)
	assert.Equal(t, core.ProviderID("b"), outcomes[1].Winner)
	assert.Equal(t, "German", outcomes[0].Language)
}

func TestCompareAndUpdate_ThreeWayRaceRanksByLatency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	report, err := f.orchestrator.CompareAndUpdate(ctx,
		race("s1", map[core.ProviderID]float64{"a": 100, "b": 200, "c": 300}), core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, report.Applied, 3)
	assert.Equal(t, 3, f.ratings.Calls())

	board, err := aggregate.GetLeaderboard(ctx, f.store, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, core.ProviderID("a"), board[0].Provider)
	assert.Equal(t, core.ProviderID("b"), board[1].Provider)
	assert.Equal(t, core.ProviderID("c"), board[2].Provider)
}

func TestCompareAndUpdate_TieWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	report, err := f.orchestrator.CompareAndUpdate(ctx,
		race("s1", map[core.ProviderID]float64{"a": 150, "b": 150}), core.LanguageAll)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ties)
	assert.Empty(t, report.Applied)
	assert.Zero(t, f.ratings.Calls())

	states, err := f.store.ListAllRatings(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestCompareAndUpdate_SkipsSameProviderPairs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	results := []core.TrialResult{
		{ID: "1", Provider: "a", SampleID: "s", Voice: "v1", Success: true, LatencyMs: 10},
		{ID: "2", Provider: "a", SampleID: "s", Voice: "v2", Success: true, LatencyMs: 20},
		{ID: "3", Provider: "b", SampleID: "s", Voice: "v1", Success: true, LatencyMs: 30},
	}

	report, err := f.orchestrator.CompareAndUpdate(ctx, results, core.LanguageAll)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, report.Applied, 2)
}

func TestCompareAndUpdate_StoreFailureKeepsEarlierUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 1, nil)

	report, err := f.orchestrator.CompareAndUpdate(ctx,
		race("s1", map[core.ProviderID]float64{"a": 100, "b": 200, "c": 300}), core.LanguageAll)
	require.ErrorIs(t, err, core.ErrStorage)
	require.Len(t, report.Applied, 1)
	assert.Equal(t, core.ProviderID("a"), report.Applied[0].Winner)
	assert.Equal(t, core.ProviderID("b"), report.Applied[0].Loser)

	states, err := f.store.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.InDelta(t, 1516.0, states[0].Rating, tolerance)
}

func TestCompareAndUpdate_IsDeterministic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	results := append(
		race("s1", map[core.ProviderID]float64{"a": 120, "b": 90, "c": 300, "d": 45}),
		race("s2", map[core.ProviderID]float64{"a": 80, "b": 95, "c": 60, "d": 300})...,
	)

	ratingsOf := func() []core.RatingState {
		f := newFixture(t, 0, nil)

		_, err := f.orchestrator.CompareAndUpdate(ctx, results, core.LanguageAll)
		require.NoError(t, err)

		states, err := f.store.ListRatings(ctx, core.LanguageAll)
		require.NoError(t, err)

		return states
	}

	first, second := ratingsOf(), ratingsOf()
	require.Len(t, first, len(second))

	for i := range first {
		assert.Equal(t, first[i].Provider, second[i].Provider)
		assert.InDelta(t, first[i].Rating, second[i].Rating, 0)
	}
}

func TestRecordTrial_AssignsIDAndAudioKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, fakeAudioSink{})

	recorded, err := f.orchestrator.RecordTrial(ctx, core.TrialResult{
		Provider:  core.ProviderOpenAI,
		SampleID:  "s1",
		Success:   true,
		LatencyMs: 42,
		SizeBytes: 3,
		Audio:     []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, recorded.ID)
	assert.Equal(t, "audio/openai/"+recorded.ID+".mp3", recorded.AudioKey)

	stored, err := f.store.ListTrials(ctx, core.TrialFilter{Provider: core.ProviderOpenAI})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, recorded.AudioKey, stored[0].AudioKey)
}

func TestRecordTrial_AudioFailureStillRecordsTrial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, fakeAudioSink{err: errStoreDown})

	recorded, err := f.orchestrator.RecordTrial(ctx, core.TrialResult{
		ID: "t1", Provider: core.ProviderMurf, Success: true, LatencyMs: 10, Audio: []byte{9},
	})
	require.NoError(t, err)
	assert.Empty(t, recorded.AudioKey)

	stats, err := f.store.ProviderStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].SuccessfulTests)
}

func TestRecordTrial_RejectsInvalidTrial(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	_, err := f.orchestrator.RecordTrial(context.Background(), core.TrialResult{Provider: core.ProviderMurf})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordUserVote_UpdatesOnlyItsScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	receipt, err := f.orchestrator.RecordUserVote(ctx, orchestrator.VoteRequest{
		Winner:     core.ProviderElevenLabs,
		Loser:      core.ProviderMurf,
		TextSample: "வணக்கம்",
		Language:   "Tamil",
	})
	require.NoError(t, err)
	require.Len(t, receipt.Updates, 1)
	assert.InDelta(t, 1516.0, receipt.Updates[0].NewWinnerRating, tolerance)

	tamil, err := f.store.ListRatings(ctx, "Tamil")
	require.NoError(t, err)
	require.Len(t, tamil, 2)
	assert.Equal(t, core.ProviderElevenLabs, tamil[0].Provider)

	all, err := f.store.ListAllRatings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	allScope, err := f.store.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	assert.Empty(t, allScope)

	stats, err := f.store.VoteStatistics(ctx, core.LanguageAll)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVotes)
	require.Len(t, stats.RecentVotes, 1)
	assert.Equal(t, "Tamil", stats.RecentVotes[0].Language)
}

func TestRecordUserVote_RejectsSelfVote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	_, err := f.orchestrator.RecordUserVote(ctx, orchestrator.VoteRequest{
		Winner: core.ProviderMurf,
		Loser:  core.ProviderMurf,
	})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Zero(t, f.ratings.Calls())

	stats, err := f.store.VoteStatistics(ctx, core.LanguageAll)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVotes)
}

func TestRecordBlindTestVote_StarTopology(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	receipt, err := f.orchestrator.RecordBlindTestVote(ctx, orchestrator.BlindVote{
		Winner:     core.ProviderCartesiaSonic2,
		Losers:     []core.ProviderID{core.ProviderOpenAI, core.ProviderDeepgram, core.ProviderOpenAI},
		TextSample: strings.Repeat("x", 150),
	})
	require.NoError(t, err)
	require.Len(t, receipt.Updates, 2)
	assert.Equal(t, core.ProviderDeepgram, receipt.Updates[0].Loser)
	assert.Equal(t, core.ProviderOpenAI, receipt.Updates[1].Loser)

	board, err := aggregate.GetLeaderboard(ctx, f.store, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, core.ProviderCartesiaSonic2, board[0].Provider)
	assert.Equal(t, 2, board[0].Wins)

	stats, err := f.store.VoteStatistics(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalVotes)
	assert.Equal(t, core.ProviderDeepgram, stats.RecentVotes[0].Loser)
	assert.Len(t, stats.RecentVotes[0].TextSample, 103)
}

func TestRecordBlindTestVote_RejectsWinnerAmongLosers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, nil)

	_, err := f.orchestrator.RecordBlindTestVote(context.Background(), orchestrator.BlindVote{
		Winner: core.ProviderMurf,
		Losers: []core.ProviderID{core.ProviderOpenAI, core.ProviderMurf},
	})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Zero(t, f.ratings.Calls())

	_, err = f.orchestrator.RecordBlindTestVote(context.Background(), orchestrator.BlindVote{
		Winner: core.ProviderMurf,
	})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestRecordBlindTestVote_RejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	_, err := f.orchestrator.RecordBlindTestVote(ctx, orchestrator.BlindVote{
		Winner: core.ProviderMurf,
		Losers: []core.ProviderID{core.ProviderOpenAI, "acme"},
	})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = f.orchestrator.RecordUserVote(ctx, orchestrator.VoteRequest{
		Winner: "acme",
		Loser:  core.ProviderMurf,
	})
	require.ErrorIs(t, err, core.ErrValidation)

	assert.Zero(t, f.ratings.Calls())

	states, err := f.store.ListAllRatings(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestRecordTrial_RejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 0, nil)

	_, err := f.orchestrator.RecordTrial(ctx, core.TrialResult{
		Provider:  "acme",
		SampleID:  "s1",
		Success:   true,
		LatencyMs: 90,
	})
	require.ErrorIs(t, err, core.ErrValidation)

	stored, err := f.store.ListTrials(ctx, core.TrialFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestTruncateSample(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", orchestrator.TruncateSample("short"))

	exact := strings.Repeat("é", 100)
	assert.Equal(t, exact, orchestrator.TruncateSample(exact))

	long := strings.Repeat("é", 101)
	assert.Equal(t, strings.Repeat("é", 100)+"...", orchestrator.TruncateSample(long))
}

package natskv_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
	"github.com/book-expert/tts-bench/internal/store/natskv"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tolerance  = 1e-6
	bucketName = "tts-ratings-test"
)

func startJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	return jetstreamContext
}

func newStore(t *testing.T, cfg natskv.Config) *natskv.Store {
	t.Helper()

	store, err := natskv.New(startJetStream(t), bucketName, cfg)
	require.NoError(t, err)

	return store
}

func TestGetOrInitRating_SeedsNewProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, natskv.Config{})

	rating, err := store.GetOrInitRating(ctx, "new_provider", core.LanguageAll)
	require.NoError(t, err)
	assert.InDelta(t, elo.DefaultRating, rating, tolerance)

	states, err := store.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Zero(t, states[0].GamesPlayed)
}

func TestNew_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jetstreamContext := startJetStream(t)

	first, err := natskv.New(jetstreamContext, bucketName, natskv.Config{})
	require.NoError(t, err)
	require.NoError(t, first.InitRating(ctx, core.ProviderMurf, 1650, "German"))

	second, err := natskv.New(jetstreamContext, bucketName, natskv.Config{})
	require.NoError(t, err)

	rating, err := second.GetOrInitRating(ctx, core.ProviderMurf, "German")
	require.NoError(t, err)
	assert.InDelta(t, 1650.0, rating, tolerance)
}

func TestUpdatePair_SingleWinFromSeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, natskv.Config{})

	newWinner, newLoser, err := store.UpdatePair(ctx, "x", "y", elo.DefaultKFactor, core.LanguageAll)
	require.NoError(t, err)
	assert.InDelta(t, 1516.0, newWinner, tolerance)
	assert.InDelta(t, 1484.0, newLoser, tolerance)

	states, err := store.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, core.ProviderID("x"), states[0].Provider)
	assert.Equal(t, 1, states[0].Wins)
	assert.Equal(t, 1, states[1].Losses)
}

func TestUpdatePair_ScopesAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, natskv.Config{})

	_, _, err := store.UpdatePair(ctx, core.ProviderElevenLabs, core.ProviderMurf, elo.DefaultKFactor, "Tamil")
	require.NoError(t, err)
	_, _, err = store.UpdatePair(ctx, core.ProviderMurf, core.ProviderOpenAI, elo.DefaultKFactor, "Português (BR)")
	require.NoError(t, err)

	allScope, err := store.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	assert.Empty(t, allScope)

	everything, err := store.ListAllRatings(ctx)
	require.NoError(t, err)
	require.Len(t, everything, 4)

	languages := map[string]int{}
	for _, state := range everything {
		languages[state.Language]++
	}

	assert.Equal(t, map[string]int{"Tamil": 2, "Português (BR)": 2}, languages)
}

func TestUpdatePair_ConcurrentWritersConverge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jetstreamContext := startJetStream(t)

	const (
		writers = 4
		rounds  = 5
	)

	var wg sync.WaitGroup

	errs := make(chan error, writers*rounds)

	for range writers {
		store, err := natskv.New(jetstreamContext, bucketName, natskv.Config{MaxConflictRetries: 100})
		require.NoError(t, err)

		wg.Add(1)

		go func() {
			defer wg.Done()

			for range rounds {
				_, _, updateErr := store.UpdatePair(ctx, "a", "b", elo.DefaultKFactor, core.LanguageAll)
				errs <- updateErr
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	reader, err := natskv.New(jetstreamContext, bucketName, natskv.Config{})
	require.NoError(t, err)

	states, err := reader.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, writers*rounds, states[0].GamesPlayed)
	assert.Equal(t, writers*rounds, states[1].Losses)
	assert.InDelta(t, 2*elo.DefaultRating, states[0].Rating+states[1].Rating, tolerance)
}

func TestUpdatePair_RetryExhaustionIsConcurrencyConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jetstreamContext := startJetStream(t)

	const (
		writers = 16
		rounds  = 10
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
		others    []error
	)

	start := make(chan struct{})

	for range writers {
		store, err := natskv.New(jetstreamContext, bucketName, natskv.Config{MaxConflictRetries: 1})
		require.NoError(t, err)

		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start

			for range rounds {
				_, _, updateErr := store.UpdatePair(ctx, core.ProviderMurf, core.ProviderOpenAI,
					elo.DefaultKFactor, core.LanguageAll)

				mu.Lock()

				switch {
				case updateErr == nil:
					applied++
				case errors.Is(updateErr, core.ErrConcurrencyConflict) && errors.Is(updateErr, core.ErrStorage):
					conflicts++
				default:
					others = append(others, updateErr)
				}

				mu.Unlock()
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Positive(t, applied)
	require.Positive(t, conflicts)
	assert.Equal(t, writers*rounds, applied+conflicts)

	reader, err := natskv.New(jetstreamContext, bucketName, natskv.Config{})
	require.NoError(t, err)

	states, err := reader.ListRatings(ctx, core.LanguageAll)
	require.NoError(t, err)
	require.Len(t, states, 2)

	byProvider := map[core.ProviderID]core.RatingState{}
	for _, state := range states {
		byProvider[state.Provider] = state
	}

	winner := byProvider[core.ProviderMurf]
	loser := byProvider[core.ProviderOpenAI]

	assert.Equal(t, applied, winner.GamesPlayed)
	assert.Equal(t, applied, winner.Wins)
	assert.Equal(t, applied, loser.GamesPlayed)
	assert.Equal(t, applied, loser.Losses)
	assert.InDelta(t, 2*elo.DefaultRating, winner.Rating+loser.Rating, tolerance)
}

func TestInitRating_RejectsInvalidRating(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t, natskv.Config{})

	for _, rating := range []float64{0, -10, math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := store.InitRating(ctx, core.ProviderMurf, rating, core.LanguageAll)
		require.ErrorIs(t, err, core.ErrValidation, rating)
	}

	states, err := store.ListAllRatings(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestNew_RejectsInvalidSeedRating(t *testing.T) {
	t.Parallel()

	_, err := natskv.New(startJetStream(t), bucketName, natskv.Config{SeedRating: math.NaN()})
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestUpdatePair_RejectsSelfPlay(t *testing.T) {
	t.Parallel()

	store := newStore(t, natskv.Config{})

	_, _, err := store.UpdatePair(context.Background(), "a", "a", elo.DefaultKFactor, core.LanguageAll)
	require.ErrorIs(t, err, core.ErrValidation)
}

func TestListAllRatings_EmptyBucket(t *testing.T) {
	t.Parallel()

	store := newStore(t, natskv.Config{})

	states, err := store.ListAllRatings(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestCanceledContextIsStorageError(t *testing.T) {
	t.Parallel()

	store := newStore(t, natskv.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.UpdatePair(ctx, "a", "b", elo.DefaultKFactor, core.LanguageAll)
	require.ErrorIs(t, err, core.ErrStorage)
	require.ErrorIs(t, err, context.Canceled)
}

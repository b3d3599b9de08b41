// Package core_test tests the domain types and validation rules.
package core_test

import (
	"math"
	"testing"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTrial() core.TrialResult {
	return core.TrialResult{
		ID:        "trial-1",
		Provider:  core.ProviderOpenAI,
		SampleID:  "sample-1",
		Text:      "hello",
		Voice:     "alloy",
		Success:   true,
		LatencyMs: 120.5,
		SizeBytes: 2048,
		Timestamp: time.Now(),
	}
}

func TestTrialResult_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*core.TrialResult)
		wantErr bool
	}{
		{name: "valid success", mutate: func(*core.TrialResult) {}},
		{
			name: "valid failure",
			mutate: func(r *core.TrialResult) {
				r.Success = false
				r.LatencyMs = 0
				r.Error = "Timeout: deadline exceeded"
			},
		},
		{name: "empty provider", mutate: func(r *core.TrialResult) { r.Provider = "" }, wantErr: true},
		{name: "unknown provider", mutate: func(r *core.TrialResult) { r.Provider = "acme" }, wantErr: true},
		{name: "empty id", mutate: func(r *core.TrialResult) { r.ID = "" }, wantErr: true},
		{name: "negative size", mutate: func(r *core.TrialResult) { r.SizeBytes = -1 }, wantErr: true},
		{name: "success without latency", mutate: func(r *core.TrialResult) { r.LatencyMs = 0 }, wantErr: true},
		{
			name: "failure without error",
			mutate: func(r *core.TrialResult) {
				r.Success = false
				r.Error = ""
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			trial := validTrial()
			testCase.mutate(&trial)

			err := trial.Validate()
			if testCase.wantErr {
				require.ErrorIs(t, err, core.ErrValidation)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestTrialResult_ErrorType(t *testing.T) {
	t.Parallel()

	trial := core.TrialResult{Error: "HTTP 500: upstream exploded: again"}
	assert.Equal(t, "HTTP 500", trial.ErrorType())

	trial.Error = "connection refused"
	assert.Equal(t, "connection refused", trial.ErrorType())
}

func TestUserVote_Validate(t *testing.T) {
	t.Parallel()

	vote := core.UserVote{Winner: core.ProviderElevenLabs, Loser: core.ProviderMurf}
	require.NoError(t, vote.Validate())

	vote.Loser = core.ProviderElevenLabs
	require.ErrorIs(t, vote.Validate(), core.ErrValidation)

	vote.Loser = ""
	require.ErrorIs(t, vote.Validate(), core.ErrValidation)

	vote.Loser = "acme"
	require.ErrorIs(t, vote.Validate(), core.ErrValidation)

	vote = core.UserVote{Winner: "acme", Loser: core.ProviderMurf}
	require.ErrorIs(t, vote.Validate(), core.ErrValidation)
}

func TestValidateRating(t *testing.T) {
	t.Parallel()

	require.NoError(t, core.ValidateRating(1500))

	for _, rating := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.ErrorIs(t, core.ValidateRating(rating), core.ErrValidation, rating)
	}
}

func TestValidateKnownProvider(t *testing.T) {
	t.Parallel()

	for _, id := range core.KnownProviders() {
		require.NoError(t, core.ValidateKnownProvider(id))
	}

	require.ErrorIs(t, core.ValidateKnownProvider("acme"), core.ErrValidation)
	require.ErrorIs(t, core.ValidateKnownProvider(""), core.ErrValidation)
}

func TestValidatePair(t *testing.T) {
	t.Parallel()

	require.NoError(t, core.ValidatePair("a", "b", 32))
	require.ErrorIs(t, core.ValidatePair("", "b", 32), core.ErrValidation)
	require.ErrorIs(t, core.ValidatePair("a", "a", 32), core.ErrValidation)
	require.ErrorIs(t, core.ValidatePair("a", "b", -1), core.ErrValidation)
	require.ErrorIs(t, core.ValidatePair("a", "b", 0), core.ErrValidation)
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, core.LanguageAll, core.NormalizeLanguage(""))
	assert.Equal(t, core.LanguageAll, core.NormalizeLanguage("All Languages"))
	assert.Equal(t, core.LanguageAll, core.NormalizeLanguage(" ALL "))
	assert.Equal(t, "Tamil", core.NormalizeLanguage(" Tamil "))
}

func TestParseProviderID(t *testing.T) {
	t.Parallel()

	id, err := core.ParseProviderID("elevenlabs")
	require.NoError(t, err)
	assert.Equal(t, core.ProviderElevenLabs, id)

	_, err = core.ParseProviderID("acme")
	require.ErrorIs(t, err, core.ErrValidation)

	assert.Len(t, core.KnownProviders(), 8)
}

func TestProviderStats_SuccessRate(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.0, core.ProviderStats{}.SuccessRate(), 1e-9)
	assert.InDelta(t, 75.0, core.ProviderStats{TotalTests: 4, SuccessfulTests: 3}.SuccessRate(), 1e-9)
}

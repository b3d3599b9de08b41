package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/google/uuid"
)

const (
	maxTextSampleRunes = 100
	truncationSuffix   = "..."
)

// VoteRequest is one human preference between two providers.
type VoteRequest struct {
	Winner     core.ProviderID `json:"winner" binding:"required"`
	Loser      core.ProviderID `json:"loser" binding:"required"`
	TextSample string          `json:"text_sample"`
	SessionID  string          `json:"session_id"`
	Language   string          `json:"language"`
}

// BlindVote is the result of a blind test: the winner was preferred over every loser.
type BlindVote struct {
	Winner     core.ProviderID   `json:"winner" binding:"required"`
	Losers     []core.ProviderID `json:"losers" binding:"required,min=1"`
	TextSample string            `json:"text_sample"`
	SessionID  string            `json:"session_id"`
	Language   string            `json:"language"`
}

// VoteReceipt reports the persisted vote and the rating updates it caused.
type VoteReceipt struct {
	VoteID   string          `json:"vote_id"`
	Language string          `json:"language"`
	Updates  []AppliedUpdate `json:"updates"`
}

// RecordUserVote applies one human win of Winner over Loser to the request's
// language scope and persists the vote.
func (o *Orchestrator) RecordUserVote(ctx context.Context, request VoteRequest) (VoteReceipt, error) {
	return o.RecordBlindTestVote(ctx, BlindVote{
		Winner:     request.Winner,
		Losers:     []core.ProviderID{request.Loser},
		TextSample: request.TextSample,
		SessionID:  request.SessionID,
		Language:   request.Language,
	})
}

// RecordBlindTestVote applies a win of Winner over each distinct loser, losers in
// sorted order, and persists a single vote of Winner against the first loser.
// Nothing is written when the vote is invalid.
func (o *Orchestrator) RecordBlindTestVote(ctx context.Context, vote BlindVote) (VoteReceipt, error) {
	language := core.NormalizeLanguage(vote.Language)

	losers := slices.Clone(vote.Losers)
	slices.Sort(losers)
	losers = slices.Compact(losers)

	if len(losers) == 0 {
		return VoteReceipt{}, fmt.Errorf("%w: vote needs at least one loser", core.ErrValidation)
	}

	for _, provider := range append([]core.ProviderID{vote.Winner}, losers...) {
		err := core.ValidateKnownProvider(provider)
		if err != nil {
			return VoteReceipt{}, err
		}
	}

	for _, loser := range losers {
		err := core.ValidatePair(vote.Winner, loser, o.kFactor)
		if err != nil {
			return VoteReceipt{}, err
		}
	}

	record := core.UserVote{
		ID:         uuid.NewString(),
		Winner:     vote.Winner,
		Loser:      losers[0],
		VoteType:   core.VoteTypeUserPreference,
		TextSample: TruncateSample(vote.TextSample),
		SessionID:  vote.SessionID,
		Language:   language,
		Timestamp:  time.Now().UTC(),
	}

	err := record.Validate()
	if err != nil {
		return VoteReceipt{}, err
	}

	receipt := VoteReceipt{
		VoteID:   record.ID,
		Language: language,
		Updates:  make([]AppliedUpdate, 0, len(losers)),
	}

	for _, loser := range losers {
		update, applyErr := o.applyOutcome(ctx, vote.Winner, loser, language)
		if applyErr != nil {
			o.log.Error("Vote %s in scope %s stopped after %d of %d updates: %v",
				record.ID, language, len(receipt.Updates), len(losers), applyErr)

			return receipt, applyErr
		}

		receipt.Updates = append(receipt.Updates, update)
	}

	err = o.trials.AppendVote(ctx, record)
	if err != nil {
		return receipt, fmt.Errorf("failed to persist vote %s: %w", record.ID, err)
	}

	o.metrics.ObserveVote(language)
	o.log.Info("Recorded vote %s: %s over %v in scope %s", record.ID, vote.Winner, losers, language)

	return receipt, nil
}

// TruncateSample shortens text to 100 characters plus an ellipsis.
func TruncateSample(text string) string {
	if utf8.RuneCountInString(text) <= maxTextSampleRunes {
		return text
	}

	runes := []rune(text)

	return string(runes[:maxTextSampleRunes]) + truncationSuffix
}

package core

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// structValidator caches struct metadata and is safe for concurrent use.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints and the success/error invariant of a trial:
// a successful trial has a positive latency, a failed one carries an error description.
func (r TrialResult) Validate() error {
	err := structValidator.Struct(r)
	if err != nil {
		return fmt.Errorf("%w: trial %q: %w", ErrValidation, r.ID, err)
	}

	err = ValidateKnownProvider(r.Provider)
	if err != nil {
		return fmt.Errorf("trial %q: %w", r.ID, err)
	}

	if r.Success && r.LatencyMs <= 0 {
		return fmt.Errorf("%w: trial %q: successful trial needs latency > 0, got %f",
			ErrValidation, r.ID, r.LatencyMs)
	}

	if !r.Success && r.Error == "" {
		return fmt.Errorf("%w: trial %q: failed trial needs an error description", ErrValidation, r.ID)
	}

	return nil
}

// Validate checks that a vote names two distinct providers.
func (v UserVote) Validate() error {
	err := structValidator.Struct(v)
	if err != nil {
		return fmt.Errorf("%w: vote: %w", ErrValidation, err)
	}

	for _, provider := range []ProviderID{v.Winner, v.Loser} {
		err = ValidateKnownProvider(provider)
		if err != nil {
			return fmt.Errorf("vote: %w", err)
		}
	}

	return nil
}

// ValidatePair rejects pairwise updates that could not describe a real game.
func ValidatePair(winner, loser ProviderID, kFactor float64) error {
	if winner == "" || loser == "" {
		return fmt.Errorf("%w: provider id cannot be empty", ErrValidation)
	}

	if winner == loser {
		return fmt.Errorf("%w: provider %q cannot play against itself", ErrValidation, winner)
	}

	return ValidateKFactor(kFactor)
}

// ValidateKFactor rejects a K-factor that is not a positive finite number.
func ValidateKFactor(kFactor float64) error {
	if kFactor <= 0 || math.IsNaN(kFactor) || math.IsInf(kFactor, 0) {
		return fmt.Errorf("%w: k-factor must be a positive finite number, got %f", ErrValidation, kFactor)
	}

	return nil
}

// ValidateKnownProvider rejects a provider outside the supported set.
func ValidateKnownProvider(provider ProviderID) error {
	if !provider.Known() {
		return fmt.Errorf("%w: unknown provider %q", ErrValidation, provider)
	}

	return nil
}

// ValidateRating rejects a rating that is not a positive finite number.
func ValidateRating(rating float64) error {
	if rating <= 0 || math.IsNaN(rating) || math.IsInf(rating, 0) {
		return fmt.Errorf("%w: rating must be a positive finite number, got %f", ErrValidation, rating)
	}

	return nil
}

// ValidateProvider rejects an empty provider id.
func ValidateProvider(provider ProviderID) error {
	if provider == "" {
		return fmt.Errorf("%w: provider id cannot be empty", ErrValidation)
	}

	return nil
}

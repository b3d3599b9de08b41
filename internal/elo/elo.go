// Package elo implements the pairwise ELO rating update. It performs no I/O and
// never returns errors.
package elo

import "math"

const (
	// DefaultKFactor is the update step used when none is configured.
	DefaultKFactor = 32.0
	// DefaultRating is the seed rating of a provider that has never played.
	DefaultRating = 1500.0

	scale = 400.0
	// maxExponent keeps 10^x finite; beyond it the expected score is already 0 or 1
	// at float64 precision.
	maxExponent = 300.0
)

// ExpectedScore returns the probability that a player rated ratingA beats a player
// rated ratingB. ExpectedScore(a, b) + ExpectedScore(b, a) == 1.
func ExpectedScore(ratingA, ratingB float64) float64 {
	exponent := (ratingB - ratingA) / scale
	exponent = math.Max(-maxExponent, math.Min(maxExponent, exponent))

	return 1 / (1 + math.Pow(10, exponent))
}

// UpdatePair returns the ratings after one win of winner over loser.
func UpdatePair(winnerRating, loserRating, kFactor float64) (newWinner, newLoser float64) {
	newWinner = winnerRating + kFactor*(1-ExpectedScore(winnerRating, loserRating))
	newLoser = loserRating + kFactor*(0-ExpectedScore(loserRating, winnerRating))

	return newWinner, newLoser
}

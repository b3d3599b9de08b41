// Package natskv implements core.RatingStore on a NATS JetStream key-value bucket.
// Each language scope is one JSON document, so a pairwise update is a single
// compare-and-swap on the key's revision.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/elo"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	keyPrefix            = "ratings."
	defaultConflictRetry = 8
	errFmtStorageOp      = "%w: %s: %w"
)

// Config holds the settings of a Store.
type Config struct {
	// SeedRating is the rating given to a (provider, language) pair on first sight.
	SeedRating float64
	// MaxConflictRetries bounds how often a lost compare-and-swap is retried.
	MaxConflictRetries int
}

type ratingRecord struct {
	Provider    core.ProviderID `json:"provider"`
	Rating      float64         `json:"rating"`
	GamesPlayed int             `json:"games_played"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	LastUpdated time.Time       `json:"last_updated"`
}

// scopeDocument keeps its records in insertion order.
type scopeDocument struct {
	Language string         `json:"language"`
	Ratings  []ratingRecord `json:"ratings"`
}

func (d *scopeDocument) find(provider core.ProviderID) int {
	return slices.IndexFunc(d.Ratings, func(r ratingRecord) bool { return r.Provider == provider })
}

// ensure returns the index of provider's record, appending a seeded one when missing.
func (d *scopeDocument) ensure(provider core.ProviderID, seed float64, now time.Time) (int, bool) {
	idx := d.find(provider)
	if idx >= 0 {
		return idx, false
	}

	d.Ratings = append(d.Ratings, ratingRecord{
		Provider:    provider,
		Rating:      seed,
		LastUpdated: now,
	})

	return len(d.Ratings) - 1, true
}

// Store implements core.RatingStore on a JetStream key-value bucket.
type Store struct {
	kv         nats.KeyValue
	bucket     string
	seedRating float64
	maxRetries int
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string, cfg Config) (*Store, error) {
	if cfg.SeedRating != 0 {
		seedErr := core.ValidateRating(cfg.SeedRating)
		if seedErr != nil {
			return nil, fmt.Errorf("seed rating: %w", seedErr)
		}
	}

	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "ELO rating state per language scope.",
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing key-value bucket '%s': %w", bucketName, err)
		}
	}

	seed := cfg.SeedRating
	if seed == 0 {
		seed = elo.DefaultRating
	}

	retries := cfg.MaxConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetry
	}

	return &Store{
		kv:         kv,
		bucket:     bucketName,
		seedRating: seed,
		maxRetries: retries,
	}, nil
}

// GetOrInitRating returns the provider's rating in the scope, seeding it on first sight.
func (s *Store) GetOrInitRating(
	ctx context.Context,
	provider core.ProviderID,
	language string,
) (float64, error) {
	err := core.ValidateProvider(provider)
	if err != nil {
		return 0, err
	}

	var rating float64

	err = s.mutate(ctx, "get rating", core.NormalizeLanguage(language), func(doc *scopeDocument) bool {
		idx, created := doc.ensure(provider, s.seedRating, time.Now().UTC())
		rating = doc.Ratings[idx].Rating

		return created
	})
	if err != nil {
		return 0, err
	}

	return rating, nil
}

// InitRating creates the record at the given rating unless it already exists.
func (s *Store) InitRating(
	ctx context.Context,
	provider core.ProviderID,
	rating float64,
	language string,
) error {
	err := core.ValidateProvider(provider)
	if err != nil {
		return err
	}

	err = core.ValidateRating(rating)
	if err != nil {
		return err
	}

	return s.mutate(ctx, "init rating", core.NormalizeLanguage(language), func(doc *scopeDocument) bool {
		_, created := doc.ensure(provider, rating, time.Now().UTC())

		return created
	})
}

// UpdatePair applies one win of winner over loser as a single compare-and-swap.
func (s *Store) UpdatePair(
	ctx context.Context,
	winner, loser core.ProviderID,
	kFactor float64,
	language string,
) (float64, float64, error) {
	err := core.ValidatePair(winner, loser, kFactor)
	if err != nil {
		return 0, 0, err
	}

	var newWinner, newLoser float64

	err = s.mutate(ctx, "update pair", core.NormalizeLanguage(language), func(doc *scopeDocument) bool {
		now := time.Now().UTC()
		winnerIdx, _ := doc.ensure(winner, s.seedRating, now)
		loserIdx, _ := doc.ensure(loser, s.seedRating, now)

		w, l := &doc.Ratings[winnerIdx], &doc.Ratings[loserIdx]
		newWinner, newLoser = elo.UpdatePair(w.Rating, l.Rating, kFactor)

		w.Rating, w.GamesPlayed, w.Wins, w.LastUpdated = newWinner, w.GamesPlayed+1, w.Wins+1, now
		l.Rating, l.GamesPlayed, l.Losses, l.LastUpdated = newLoser, l.GamesPlayed+1, l.Losses+1, now

		return true
	})
	if err != nil {
		return 0, 0, err
	}

	return newWinner, newLoser, nil
}

// ListRatings returns the scope ordered by rating descending, ties in insertion order.
func (s *Store) ListRatings(ctx context.Context, language string) ([]core.RatingState, error) {
	language = core.NormalizeLanguage(language)

	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, "list ratings", err)
	}

	doc, _, err := s.load(language)
	if err != nil {
		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, "list ratings", err)
	}

	return doc.states(), nil
}

// ListAllRatings returns the records of every language scope, scopes in key order.
func (s *Store) ListAllRatings(ctx context.Context) ([]core.RatingState, error) {
	const operation = "list all ratings"

	keys, err := s.kv.Keys(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return make([]core.RatingState, 0), nil
		}

		return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
	}

	slices.Sort(keys)

	states := make([]core.RatingState, 0)

	for _, key := range keys {
		language, ok := languageFromKey(key)
		if !ok {
			continue
		}

		doc, _, loadErr := s.load(language)
		if loadErr != nil {
			return nil, fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, loadErr)
		}

		states = append(states, doc.states()...)
	}

	return states, nil
}

// mutate loads the scope document, applies fn and writes it back guarded by the
// revision it read. fn reports whether it changed the document; it may run more
// than once.
func (s *Store) mutate(
	ctx context.Context,
	operation, language string,
	fn func(doc *scopeDocument) bool,
) error {
	key := scopeKey(language)

	for range s.maxRetries {
		err := ctx.Err()
		if err != nil {
			return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
		}

		doc, revision, err := s.load(language)
		if err != nil {
			return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
		}

		if !fn(&doc) {
			return nil
		}

		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf(errFmtStorageOp, core.ErrStorage, operation, err)
		}

		if revision == 0 {
			_, err = s.kv.Create(key, payload)
		} else {
			_, err = s.kv.Update(key, payload, revision)
		}

		if err == nil {
			return nil
		}

		if !isRevisionConflict(err) {
			return fmt.Errorf("%w: %s: failed to write key '%s' to bucket '%s': %w",
				core.ErrStorage, operation, key, s.bucket, err)
		}
	}

	return fmt.Errorf("%w: %s: scope %q after %d attempts: %w",
		core.ErrStorage, operation, language, s.maxRetries, core.ErrConcurrencyConflict)
}

// load returns the scope document and its revision; revision 0 means the key does
// not exist yet.
func (s *Store) load(language string) (scopeDocument, uint64, error) {
	entry, err := s.kv.Get(scopeKey(language))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return scopeDocument{Language: language}, 0, nil
		}

		return scopeDocument{}, 0, fmt.Errorf("failed to get key for scope %q: %w", language, err)
	}

	var doc scopeDocument

	err = json.Unmarshal(entry.Value(), &doc)
	if err != nil {
		return scopeDocument{}, 0, fmt.Errorf("failed to decode scope %q: %w", language, err)
	}

	doc.Language = language

	return doc, entry.Revision(), nil
}

func (d *scopeDocument) states() []core.RatingState {
	states := make([]core.RatingState, 0, len(d.Ratings))
	for _, record := range d.Ratings {
		states = append(states, core.RatingState{
			Provider:    record.Provider,
			Language:    d.Language,
			Rating:      record.Rating,
			GamesPlayed: record.GamesPlayed,
			Wins:        record.Wins,
			Losses:      record.Losses,
			LastUpdated: record.LastUpdated,
		})
	}

	slices.SortStableFunc(states, func(a, b core.RatingState) int {
		switch {
		case a.Rating > b.Rating:
			return -1
		case a.Rating < b.Rating:
			return 1
		default:
			return 0
		}
	})

	return states
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}

	var apiErr *nats.APIError

	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

// scopeKey encodes the language tag, which may hold characters NATS keys reject.
func scopeKey(language string) string {
	return keyPrefix + base64.RawURLEncoding.EncodeToString([]byte(language))
}

func languageFromKey(key string) (string, bool) {
	encoded, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}

	return string(decoded), true
}

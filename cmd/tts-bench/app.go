package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/config"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/metrics"
	"github.com/book-expert/tts-bench/internal/objectstore"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/book-expert/tts-bench/internal/store/natskv"
	"github.com/book-expert/tts-bench/internal/store/sqlstore"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the components shared by the commands.
type app struct {
	cfg          *config.Config
	log          *logger.Logger
	store        *sqlstore.Store
	ratings      core.RatingStore
	natsConn     *nats.Conn
	audio        *objectstore.NatsObjectStore
	metrics      *metrics.Metrics
	orchestrator *orchestrator.Orchestrator
}

type appOptions struct {
	// withNATS connects to NATS even when the rating backend does not need it.
	withNATS bool
	// withAudio keeps synthesized audio in the object store; implies withNATS.
	withAudio bool
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger, opts appOptions) (*app, error) {
	store, err := sqlstore.Open(ctx, cfg.Store.Path, sqlstore.Config{SeedRating: cfg.Rating.InitialRating})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.Store.Path, err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		ratings: store,
		metrics: metrics.New(prometheus.DefaultRegisterer),
	}

	err = a.connect(opts)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	var audio orchestrator.AudioSink
	if a.audio != nil {
		audio = a.audio
	}

	a.orchestrator, err = orchestrator.New(a.ratings, store, audio, a.metrics, log,
		orchestrator.Config{KFactor: cfg.Rating.KFactor})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	return a, nil
}

func (a *app) connect(opts appOptions) error {
	needsNATS := opts.withNATS || opts.withAudio || a.cfg.Store.Backend == config.BackendNATSKV
	if !needsNATS {
		return nil
	}

	natsConn, err := nats.Connect(a.cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}

	a.natsConn = natsConn

	jetstreamContext, err := natsConn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if a.cfg.Store.Backend == config.BackendNATSKV {
		kvStore, kvErr := natskv.New(jetstreamContext, a.cfg.NATS.RatingsBucket, natskv.Config{
			SeedRating:         a.cfg.Rating.InitialRating,
			MaxConflictRetries: a.cfg.Store.MaxConflictRetries,
		})
		if kvErr != nil {
			return kvErr
		}

		a.ratings = kvStore
		a.log.Info("Ratings kept in key-value bucket %s", a.cfg.NATS.RatingsBucket)
	}

	if opts.withAudio {
		audio, audioErr := objectstore.New(jetstreamContext, a.cfg.NATS.AudioObjectStoreBucket)
		if audioErr != nil {
			return audioErr
		}

		a.audio = audio
		a.log.Info("Audio kept in object store bucket %s", a.cfg.NATS.AudioObjectStoreBucket)
	}

	return nil
}

// audioStore returns the object store as a core.ObjectStore, or nil when audio is
// not kept.
func (a *app) audioStore() core.ObjectStore {
	if a.audio == nil {
		return nil
	}

	return a.audio
}

// Close releases the NATS connection and the database.
func (a *app) Close() error {
	if a.natsConn != nil {
		drainErr := a.natsConn.Drain()
		if drainErr != nil {
			a.log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}

	return a.store.Close()
}

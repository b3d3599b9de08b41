package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/tts-bench/internal/aggregate"
	"github.com/book-expert/tts-bench/internal/api"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/display"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/book-expert/tts-bench/internal/provider"
	"github.com/book-expert/tts-bench/internal/sample"
	"github.com/book-expert/tts-bench/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	hoursPerDay       = 24
)

// ErrNoProviders indicates a benchmark run without enabled providers.
var ErrNoProviders = errors.New("no providers enabled; set providers.<id>.enabled in the configuration")

func buildServeCmd(configPath *string) *cobra.Command {
	var (
		address    string
		withoutBus bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the NATS worker",
		Long: `Serve the leaderboard, vote, trial and statistics API over HTTP and, unless
--no-worker is given, consume trial batches and blind votes from NATS.`,
		Example: `  tts-bench serve
  tts-bench serve --address 127.0.0.1:9090 --no-worker`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			if address != "" {
				cfg.Server.Address = address
			}

			ctx := cmd.Context()

			application, err := newApp(ctx, cfg, log, appOptions{withNATS: !withoutBus, withAudio: !withoutBus})
			if err != nil {
				log.Error("Failed to start: %v", err)

				return err
			}

			defer func() {
				closeErr := application.Close()
				if closeErr != nil {
					log.Error("Failed to close: %v", closeErr)
				}
			}()

			return serve(ctx, application, !withoutBus)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides server.address)")
	cmd.Flags().BoolVar(&withoutBus, "no-worker", false, "Serve only the HTTP API without NATS")

	return cmd
}

func serve(ctx context.Context, application *app, withWorker bool) error {
	server, err := api.New(api.Deps{
		Orchestrator: application.orchestrator,
		Ratings:      application.ratings,
		Trials:       application.store,
		Audio:        application.audioStore(),
		Gatherer:     prometheus.DefaultGatherer,
		SeedRating:   application.cfg.Rating.InitialRating,
		Log:          application.log,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              application.cfg.Server.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		application.log.System("HTTP API listening on %s", httpServer.Addr)

		listenErr := httpServer.ListenAndServe()
		if errors.Is(listenErr, http.ErrServerClosed) {
			return nil
		}

		return listenErr
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if withWorker {
		natsWorker, workerErr := worker.NewNatsWorker(application.natsConn, worker.Subjects{
			Trials: application.cfg.NATS.TrialSubject,
			Votes:  application.cfg.NATS.VoteSubject,
		}, application.orchestrator, application.ratings, application.log)
		if workerErr != nil {
			return workerErr
		}

		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil {
		application.log.Error("Service stopped with error: %v", err)

		return err
	}

	application.log.System("Service shut down gracefully.")

	return nil
}

func buildRunCmd(configPath *string) *cobra.Command {
	var (
		samplesPath string
		iterations  int
		language    string
		noCompare   bool
		keepAudio   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark the enabled providers",
		Long: `Synthesize every sample with every enabled provider, record the trials,
update the latency ratings and print a summary per provider.`,
		Example: `  tts-bench run
  tts-bench run --samples samples.toml --iterations 3 --language German`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			providers := cfg.EnabledProviders()
			if len(providers) == 0 {
				return ErrNoProviders
			}

			if samplesPath == "" {
				samplesPath = cfg.Benchmark.SamplesFile
			}

			samples := sample.Builtin()
			if samplesPath != "" {
				samples, err = sample.LoadFile(samplesPath)
				if err != nil {
					return err
				}
			}

			if iterations == 0 {
				iterations = cfg.Benchmark.Iterations
			}

			ctx := cmd.Context()

			application, err := newApp(ctx, cfg, log, appOptions{withAudio: keepAudio})
			if err != nil {
				return err
			}

			defer func() {
				closeErr := application.Close()
				if closeErr != nil {
					log.Error("Failed to close: %v", closeErr)
				}
			}()

			endpoints := cfg.Endpoints(os.Getenv)
			invoker := provider.NewHTTPInvoker(endpoints, cfg.CallTimeout(), provider.WithPingTimeout(cfg.PingTimeout()))

			runner, err := orchestrator.NewRunner(invoker, application.orchestrator, log, orchestrator.RunnerConfig{
				Workers:     cfg.Benchmark.Workers,
				CallTimeout: cfg.CallTimeout(),
			})
			if err != nil {
				return err
			}

			result, err := runner.RunSuite(ctx, orchestrator.Suite{
				Providers:  providers,
				Samples:    samples,
				Iterations: iterations,
				Language:   language,
				Compare:    !noCompare,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			display.RenderSummaries(out, aggregate.CalculateSummaryStats(result.Results))

			if result.Report != nil {
				fmt.Fprintf(out, "\nRatings updated (%s): %d, ties: %d, same-provider pairs skipped: %d\n",
					result.Report.Language, len(result.Report.Applied), result.Report.Ties, result.Report.Skipped)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&samplesPath, "samples", "", "TOML file with [[samples]] (defaults to the built-in set)")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "Repetitions per sample (overrides benchmark.iterations)")
	cmd.Flags().StringVar(&language, "language", "", "Rating scope of the latency race")
	cmd.Flags().BoolVar(&noCompare, "no-compare", false, "Record trials without updating ratings")
	cmd.Flags().BoolVar(&keepAudio, "keep-audio", false, "Store synthesized audio in the NATS object store")

	return cmd
}

func buildLeaderboardCmd(configPath *string) *cobra.Command {
	var (
		language      string
		allLanguages  bool
		providerStats bool
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the ELO leaderboard",
		Example: `  tts-bench leaderboard --language German
  tts-bench leaderboard --all --stats`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			ctx := cmd.Context()

			application, err := newApp(ctx, cfg, log, appOptions{})
			if err != nil {
				return err
			}

			defer func() {
				closeErr := application.Close()
				if closeErr != nil {
					log.Error("Failed to close: %v", closeErr)
				}
			}()

			var board []core.LeaderboardEntry
			if allLanguages {
				board, err = aggregate.GetCrossLanguageLeaderboard(ctx, application.ratings, cfg.Rating.InitialRating)
			} else {
				board, err = aggregate.GetLeaderboard(ctx, application.ratings, language)
			}

			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			display.RenderLeaderboard(out, board)

			if !providerStats {
				return nil
			}

			stats, err := application.store.ProviderStats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			display.RenderProviderStats(out, stats)

			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Rating scope (defaults to all)")
	cmd.Flags().BoolVar(&allLanguages, "all", false, "Aggregate every language scope")
	cmd.Flags().BoolVar(&providerStats, "stats", false, "Also print per-provider trial statistics")

	return cmd
}

func buildPurgeCmd(configPath *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:     "purge",
		Short:   "Delete trials older than the retention window",
		Example: "  tts-bench purge --days 30",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer closeLogger(log)

			retention := cfg.Retention()
			if days > 0 {
				retention = time.Duration(days) * hoursPerDay * time.Hour
			}

			ctx := cmd.Context()

			application, err := newApp(ctx, cfg, log, appOptions{})
			if err != nil {
				return err
			}

			defer func() {
				closeErr := application.Close()
				if closeErr != nil {
					log.Error("Failed to close: %v", closeErr)
				}
			}()

			removed, err := application.store.PurgeOlderThan(ctx, retention)
			if err != nil {
				return err
			}

			log.Info("Purged %d trials older than %s", removed, retention)
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d trials older than %s\n", removed, retention)

			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (overrides store.retention_days)")

	return cmd
}

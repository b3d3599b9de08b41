// Package main provides the tts-bench command line: it serves the benchmark API and
// NATS worker, runs benchmark suites against TTS vendors and prints leaderboards.
//
// # Basic Usage
//
// Start the API and worker:
//
//	tts-bench serve
//
// Benchmark the enabled providers:
//
//	tts-bench run --samples samples.toml --iterations 3
//
// Show the ratings of one language:
//
//	tts-bench leaderboard --language German
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/config"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogFile = "tts-bench-bootstrap.log"
	logFile          = "tts-bench.log"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// loadConfig reads the configuration with a bootstrap logger and returns it with the
// final logger.
func loadConfig(configPath string) (*config.Config, *logger.Logger, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, nil, err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, nil, err
	}

	return cfg, finalLog, nil
}

func closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tts-bench",
		Short:         "Benchmark TTS vendors and rank them with ELO ratings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to project.toml (defaults to searching up the directory tree)")

	root.AddCommand(
		buildServeCmd(&configPath),
		buildRunCmd(&configPath),
		buildLeaderboardCmd(&configPath),
		buildPurgeCmd(&configPath),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := buildRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "tts-bench exited with error: %v\n", err)
		os.Exit(1)
	}
}

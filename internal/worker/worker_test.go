// Package worker_test tests the NATS worker for the benchmark service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/book-expert/tts-bench/internal/store/sqlstore"
	"github.com/book-expert/tts-bench/internal/worker"
	"github.com/google/uuid"

	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subjects = worker.Subjects{Trials: "bench.trials", Votes: "bench.votes"}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		natsConnection.Close()
		server.Shutdown()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (*worker.NatsWorker, *sqlstore.Store, *nats.Conn) {
	t.Helper()

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	store, err := sqlstore.Open(context.Background(), "", sqlstore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		closeErr := store.Close()
		if closeErr != nil {
			t.Logf("failed to close store: %v", closeErr)
		}
	})

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	orch, err := orchestrator.New(store, store, nil, nil, testLogger, orchestrator.Config{})
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(natsConnection, subjects, orch, store, testLogger)
	require.NoError(t, err)

	return workerInstance, store, natsConnection
}

// startWorker runs the worker until the test ends and waits for its subscriptions.
func startWorker(t *testing.T, workerInstance *worker.NatsWorker, natsConnection *nats.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		shutdownErr := <-errChan
		assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		_, err := natsConnection.Request(subjects.Votes, []byte("{"), 100*time.Millisecond)

		return !errors.Is(err, nats.ErrNoResponders)
	}, 5*time.Second, 20*time.Millisecond)
}

func request[T any](t *testing.T, natsConnection *nats.Conn, subject string, payload any) T {
	t.Helper()

	eventData, err := json.Marshal(payload)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(subject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply T

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)

	return reply
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
	}
}

func TestNewNatsWorker_RejectsMissingDependencies(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, subjects, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrConnectionNil)

	natsConnection, cleanup := createTestNatsClient(t)
	t.Cleanup(cleanup)

	_, err = worker.NewNatsWorker(natsConnection, worker.Subjects{Trials: "x"}, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)

	_, err = worker.NewNatsWorker(natsConnection, subjects, nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrOrchestratorNil)
}

func TestTrialBatch_RecordsComparesAndReplies(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	event := worker.TrialBatchEvent{
		Header:   newHeader(),
		Language: "German",
		Results: []core.TrialResult{
			{Provider: core.ProviderOpenAI, SampleID: "s1", Success: true, LatencyMs: 300},
			{Provider: core.ProviderDeepgram, SampleID: "s1", Success: true, LatencyMs: 100},
			{Provider: core.ProviderElevenLabs, SampleID: "s1", Success: true, LatencyMs: 200},
		},
	}

	reply := request[worker.TrialBatchReply](t, natsConnection, subjects.Trials, event)

	assert.Empty(t, reply.Error)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, 3, reply.Recorded)
	assert.Equal(t, "German", reply.Report.Language)
	assert.Len(t, reply.Report.Applied, 3)

	require.Len(t, reply.Leaderboard, 3)
	assert.Equal(t, core.ProviderDeepgram, reply.Leaderboard[0].Provider)
	assert.Equal(t, core.ProviderOpenAI, reply.Leaderboard[2].Provider)

	stored, err := store.ListTrials(context.Background(), core.TrialFilter{SampleID: "s1"})
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	global, err := store.ListRatings(context.Background(), core.LanguageAll)
	require.NoError(t, err)
	assert.Empty(t, global)
}

func TestTrialBatch_EmptyBatchReportsValidationError(t *testing.T) {
	t.Parallel()

	workerInstance, _, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	reply := request[worker.TrialBatchReply](t, natsConnection, subjects.Trials, worker.TrialBatchEvent{
		Header: newHeader(),
	})

	assert.Contains(t, reply.Error, core.ErrValidation.Error())
	assert.Zero(t, reply.Recorded)
}

func TestVote_AppliesBlindTestResult(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	reply := request[worker.VoteReply](t, natsConnection, subjects.Votes, worker.VoteEvent{
		Header: newHeader(),
		Vote: orchestrator.BlindVote{
			Winner:     core.ProviderMurf,
			Losers:     []core.ProviderID{core.ProviderOpenAI, core.ProviderCartesiaSonic2},
			TextSample: "The quick brown fox.",
		},
	})

	require.Empty(t, reply.Error)
	assert.NotEmpty(t, reply.Receipt.VoteID)
	assert.Len(t, reply.Receipt.Updates, 2)

	stats, err := store.VoteStatistics(context.Background(), core.LanguageAll)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalVotes)
	assert.Equal(t, 1, stats.WinsByProvider[core.ProviderMurf])
}

func TestVote_InvalidVoteIsRejected(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	reply := request[worker.VoteReply](t, natsConnection, subjects.Votes, worker.VoteEvent{
		Header: newHeader(),
		Vote:   orchestrator.BlindVote{Winner: core.ProviderMurf, Losers: []core.ProviderID{core.ProviderMurf}},
	})

	assert.Contains(t, reply.Error, core.ErrValidation.Error())

	stats, err := store.VoteStatistics(context.Background(), core.LanguageAll)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalVotes)
}

func TestVote_MalformedPayload(t *testing.T) {
	t.Parallel()

	workerInstance, _, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	replyMsg, err := natsConnection.Request(subjects.Votes, []byte("not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.VoteReply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Contains(t, reply.Error, core.ErrValidation.Error())
}

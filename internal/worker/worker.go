// Package worker provides a NATS worker that feeds trial batches and blind-test votes
// into the rating orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/aggregate"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

var (
	// ErrConnectionNil indicates that no NATS connection was provided.
	ErrConnectionNil = errors.New("nats connection cannot be nil")
	// ErrOrchestratorNil indicates that no orchestrator was provided.
	ErrOrchestratorNil = errors.New("orchestrator cannot be nil")
	// ErrRatingStoreNil indicates that no rating store was provided.
	ErrRatingStoreNil = errors.New("rating store cannot be nil")
	// ErrSubjectEmpty indicates that a subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrEmptyBatch indicates a trial batch without results.
	ErrEmptyBatch = fmt.Errorf("%w: trial batch has no results", core.ErrValidation)
)

// TrialBatchEvent carries results produced elsewhere, to be recorded and compared
// within one language scope.
type TrialBatchEvent struct {
	Header   events.EventHeader `json:"header"`
	Results  []core.TrialResult `json:"results"`
	Language string             `json:"language"`
}

// TrialBatchReply answers a TrialBatchEvent with the comparison outcome and the
// scope leaderboard after the update.
type TrialBatchReply struct {
	Header      events.EventHeader            `json:"header"`
	Recorded    int                           `json:"recorded"`
	Report      orchestrator.ComparisonReport `json:"report"`
	Leaderboard []core.LeaderboardEntry       `json:"leaderboard"`
	Error       string                        `json:"error,omitempty"`
}

// VoteEvent carries one blind-test preference.
type VoteEvent struct {
	Header events.EventHeader     `json:"header"`
	Vote   orchestrator.BlindVote `json:"vote"`
}

// VoteReply answers a VoteEvent.
type VoteReply struct {
	Header  events.EventHeader       `json:"header"`
	Receipt orchestrator.VoteReceipt `json:"receipt"`
	Error   string                   `json:"error,omitempty"`
}

// Subjects names the subjects the worker listens on.
type Subjects struct {
	Trials string
	Votes  string
}

// NatsWorker listens for trial batches and votes on NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	orchestrator   *orchestrator.Orchestrator
	ratings        core.RatingStore
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	orch *orchestrator.Orchestrator,
	ratings core.RatingStore,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, ErrConnectionNil
	}

	if subjects.Trials == "" || subjects.Votes == "" {
		return nil, ErrSubjectEmpty
	}

	if orch == nil {
		return nil, ErrOrchestratorNil
	}

	if ratings == nil {
		return nil, ErrRatingStoreNil
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		orchestrator:   orch,
		ratings:        ratings,
		log:            log,
	}, nil
}

// Run subscribes to both subjects and blocks until ctx is done, then drains the
// subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	trialSub, err := w.natsConnection.Subscribe(w.subjects.Trials, w.handleTrialBatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Trials, err)
	}

	voteSub, err := w.natsConnection.Subscribe(w.subjects.Votes, w.handleVote)
	if err != nil {
		_ = trialSub.Unsubscribe()

		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Votes, err)
	}

	flushErr := w.natsConnection.Flush()
	if flushErr != nil {
		w.log.Warn("Failed to flush subscriptions: %v", flushErr)
	}

	w.log.Info("Worker listening on %s and %s", w.subjects.Trials, w.subjects.Votes)

	<-ctx.Done()

	drainErr := errors.Join(trialSub.Drain(), voteSub.Drain())
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscriptions: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleTrialBatch(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event TrialBatchEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal trial batch: %v", err)
		w.respond(msg, TrialBatchReply{Error: fmt.Sprintf("%v: %v", core.ErrValidation, err)})

		return
	}

	reply := w.processTrialBatch(ctx, event)
	if reply.Error != "" {
		w.log.Error("Failed to process trial batch for workflow %s: %s", event.Header.WorkflowID, reply.Error)
	}

	w.respond(msg, reply)
}

// processTrialBatch records every result, compares the recorded batch and reads the
// scope leaderboard. Results that fail to record are left out of the comparison.
func (w *NatsWorker) processTrialBatch(ctx context.Context, event TrialBatchEvent) TrialBatchReply {
	reply := TrialBatchReply{Header: event.Header}

	if len(event.Results) == 0 {
		reply.Error = ErrEmptyBatch.Error()

		return reply
	}

	recorded := make([]core.TrialResult, 0, len(event.Results))

	for _, result := range event.Results {
		stored, err := w.orchestrator.RecordTrial(ctx, result)
		if err != nil {
			w.log.Warn("Skipping trial %s from workflow %s: %v", result.ID, event.Header.WorkflowID, err)

			continue
		}

		recorded = append(recorded, stored)
	}

	reply.Recorded = len(recorded)

	report, err := w.orchestrator.CompareAndUpdate(ctx, recorded, event.Language)
	reply.Report = report

	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	board, err := aggregate.GetLeaderboard(ctx, w.ratings, event.Language)
	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	reply.Leaderboard = board

	return reply
}

func (w *NatsWorker) handleVote(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event VoteEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal vote event: %v", err)
		w.respond(msg, VoteReply{Error: fmt.Sprintf("%v: %v", core.ErrValidation, err)})

		return
	}

	reply := VoteReply{Header: event.Header}

	receipt, err := w.orchestrator.RecordBlindTestVote(ctx, event.Vote)
	if err != nil {
		w.log.Error("Failed to record vote for workflow %s: %v", event.Header.WorkflowID, err)
		reply.Error = err.Error()
	}

	reply.Receipt = receipt
	w.respond(msg, reply)
}

// respond marshals reply and sends it when the message expects one.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}

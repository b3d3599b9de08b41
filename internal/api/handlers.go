package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/tts-bench/internal/aggregate"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

// TrialBatchRequest submits externally measured trials.
type TrialBatchRequest struct {
	Results  []core.TrialResult `json:"results" binding:"required,min=1"`
	Language string             `json:"language"`
	// Compare runs a latency race over the recorded results.
	Compare bool `json:"compare"`
}

// TrialBatchResponse lists the recorded trials and, when requested, the comparison.
type TrialBatchResponse struct {
	Recorded []core.TrialResult             `json:"recorded"`
	Rejected []string                       `json:"rejected,omitempty"`
	Report   *orchestrator.ComparisonReport `json:"report,omitempty"`
}

// ComparisonRequest selects two providers and the window of stored trials to compare.
type ComparisonRequest struct {
	ProviderA core.ProviderID `json:"provider_a" binding:"required"`
	ProviderB core.ProviderID `json:"provider_b" binding:"required,nefield=ProviderA"`
	Since     time.Time       `json:"since"`
	Limit     int             `json:"limit" binding:"gte=0"`
}

func (s *Server) getLeaderboard(c *gin.Context) {
	language := c.Query("language")

	board, err := aggregate.GetLeaderboard(c.Request.Context(), s.deps.Ratings, language)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"language":    core.NormalizeLanguage(language),
		"leaderboard": board,
	})
}

func (s *Server) getCrossLanguageLeaderboard(c *gin.Context) {
	board, err := aggregate.GetCrossLanguageLeaderboard(c.Request.Context(), s.deps.Ratings, s.deps.SeedRating)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

func (s *Server) getVoteStatistics(c *gin.Context) {
	stats, err := s.deps.Trials.VoteStatistics(c.Request.Context(), c.Query("language"))
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) postVote(c *gin.Context) {
	var request orchestrator.VoteRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", core.ErrValidation, err))

		return
	}

	receipt, err := s.deps.Orchestrator.RecordUserVote(c.Request.Context(), request)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusCreated, receipt)
}

func (s *Server) postBlindVote(c *gin.Context) {
	var vote orchestrator.BlindVote

	err := c.ShouldBindJSON(&vote)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", core.ErrValidation, err))

		return
	}

	receipt, err := s.deps.Orchestrator.RecordBlindTestVote(c.Request.Context(), vote)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusCreated, receipt)
}

// postTrials records each submitted trial. Invalid trials are reported and left out;
// a storage failure aborts the request.
func (s *Server) postTrials(c *gin.Context) {
	var request TrialBatchRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", core.ErrValidation, err))

		return
	}

	ctx := c.Request.Context()
	response := TrialBatchResponse{Recorded: make([]core.TrialResult, 0, len(request.Results))}

	for _, result := range request.Results {
		recorded, recordErr := s.deps.Orchestrator.RecordTrial(ctx, result)
		if recordErr != nil {
			if !errors.Is(recordErr, core.ErrValidation) {
				abortWithError(c, recordErr)

				return
			}

			response.Rejected = append(response.Rejected, recordErr.Error())

			continue
		}

		response.Recorded = append(response.Recorded, recorded)
	}

	if request.Compare {
		report, compareErr := s.deps.Orchestrator.CompareAndUpdate(ctx, response.Recorded, request.Language)
		if compareErr != nil {
			abortWithError(c, compareErr)

			return
		}

		response.Report = &report
	}

	c.JSON(http.StatusCreated, response)
}

func (s *Server) getTrials(c *gin.Context) {
	filter, err := trialFilterFromQuery(c)
	if err != nil {
		abortWithError(c, err)

		return
	}

	trials, err := s.deps.Trials.ListTrials(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"trials": trials})
}

func (s *Server) postComparison(c *gin.Context) {
	var request ComparisonRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", core.ErrValidation, err))

		return
	}

	limit := request.Limit
	if limit == 0 {
		limit = defaultTrialLimit
	}

	var results []core.TrialResult

	for _, provider := range []core.ProviderID{request.ProviderA, request.ProviderB} {
		trials, listErr := s.deps.Trials.ListTrials(c.Request.Context(), core.TrialFilter{
			Provider: provider,
			Since:    request.Since,
			Limit:    limit,
		})
		if listErr != nil {
			abortWithError(c, listErr)

			return
		}

		results = append(results, trials...)
	}

	c.JSON(http.StatusOK, aggregate.CompareProviders(request.ProviderA, request.ProviderB, results))
}

func (s *Server) getLatencyPercentiles(c *gin.Context) {
	results, ok := s.listForStats(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, aggregate.LatencyPercentilesByProvider(results))
}

func (s *Server) getSummary(c *gin.Context) {
	results, ok := s.listForStats(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, aggregate.CalculateSummaryStats(results))
}

func (s *Server) getProviderStats(c *gin.Context) {
	stats, err := s.deps.Trials.ProviderStats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"providers": stats})
}

func (s *Server) getAudio(c *gin.Context) {
	if s.deps.Audio == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
			"error": gin.H{"message": "audio storage is not configured", "type": "not_found"},
		})

		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")

	data, err := s.deps.Audio.Download(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": gin.H{"message": err.Error(), "type": "not_found"},
			})

			return
		}

		abortWithError(c, err)

		return
	}

	c.Data(http.StatusOK, audioContentType(key), data)
}

func (s *Server) listForStats(c *gin.Context) ([]core.TrialResult, bool) {
	filter, err := trialFilterFromQuery(c)
	if err != nil {
		abortWithError(c, err)

		return nil, false
	}

	if filter.Limit == 0 {
		filter.Limit = defaultTrialLimit
	}

	results, err := s.deps.Trials.ListTrials(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)

		return nil, false
	}

	return results, true
}

// trialFilterFromQuery reads provider, sample_id, since (RFC 3339) and limit.
func trialFilterFromQuery(c *gin.Context) (core.TrialFilter, error) {
	filter := core.TrialFilter{
		Provider: core.ProviderID(c.Query("provider")),
		SampleID: c.Query("sample_id"),
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid since %q: %w", core.ErrValidation, raw, err)
		}

		filter.Since = since
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: invalid limit %q", core.ErrValidation, raw)
		}

		filter.Limit = limit
	}

	return filter, nil
}

func audioContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(key, ".mp3"):
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// Package api exposes leaderboards, votes, trial ingestion and statistics as a JSON
// HTTP API.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-bench/internal/core"
	"github.com/book-expert/tts-bench/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	apiPrefix         = "/api/v1"
	defaultTrialLimit = 1000
)

var (
	// ErrOrchestratorNil indicates that no orchestrator was provided.
	ErrOrchestratorNil = errors.New("orchestrator cannot be nil")
	// ErrStoreNil indicates that a rating or trial store is missing.
	ErrStoreNil = errors.New("rating and trial stores are required")
	// ErrLoggerNil indicates that no logger was provided.
	ErrLoggerNil = errors.New("logger cannot be nil")
)

// Deps are the components served by the API. Audio and Gatherer may be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Ratings      core.RatingStore
	Trials       core.TrialStore
	Audio        core.ObjectStore
	Gatherer     prometheus.Gatherer
	SeedRating   float64
	Log          *logger.Logger
}

// Server routes HTTP requests onto the benchmark components.
type Server struct {
	deps   Deps
	engine *gin.Engine
}

// New builds the router.
func New(deps Deps) (*Server, error) {
	if deps.Orchestrator == nil {
		return nil, ErrOrchestratorNil
	}

	if deps.Ratings == nil || deps.Trials == nil {
		return nil, ErrStoreNil
	}

	if deps.Log == nil {
		return nil, ErrLoggerNil
	}

	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	server := &Server{deps: deps, engine: gin.New()}
	server.engine.Use(gin.Recovery(), server.requestLogger())
	server.routes()

	return server, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.engine.Group(apiPrefix)
	v1.GET("/leaderboard", s.getLeaderboard)
	v1.GET("/leaderboard/all-languages", s.getCrossLanguageLeaderboard)
	v1.GET("/votes/stats", s.getVoteStatistics)
	v1.POST("/votes", s.postVote)
	v1.POST("/votes/blind", s.postBlindVote)
	v1.POST("/trials", s.postTrials)
	v1.GET("/trials", s.getTrials)
	v1.POST("/comparisons", s.postComparison)
	v1.GET("/stats/latency", s.getLatencyPercentiles)
	v1.GET("/stats/summary", s.getSummary)
	v1.GET("/stats/providers", s.getProviderStats)
	v1.GET("/audio/*key", s.getAudio)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			s.deps.Log.Error("%s %s -> %d (%s): %s",
				c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.Errors.String())

			return
		}

		s.deps.Log.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	errorType := "internal_error"

	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
		errorType = "validation_error"
	case errors.Is(err, core.ErrStorage):
		status = http.StatusServiceUnavailable
		errorType = "storage_error"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    errorType,
		},
	})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"l7agent/pkg/command"
	"l7agent/pkg/report"
	"l7agent/pkg/requester"
)

// AgentState is what the status API reads from the executor
type AgentState interface {
	Status() command.Status
	ClockOffset() time.Duration
	Statistics() *requester.Statistics
}

// APIHandler serves the local status API
type APIHandler struct {
	state     AgentState
	sampler   *report.Sampler
	store     *report.Store
	metrics   http.Handler
	startedAt time.Time
	logger    zerolog.Logger
}

// NewAPIHandler creates the handler and its prometheus registry. sampler and
// store are optional.
func NewAPIHandler(state AgentState, sampler *report.Sampler, store *report.Store, logger zerolog.Logger) *APIHandler {
	reg := report.NewRegistry(state.Statistics())
	return &APIHandler{
		state:     state,
		sampler:   sampler,
		store:     store,
		metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "status-api").Logger(),
	}
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

// StatusResponse is returned by /status
type StatusResponse struct {
	Status        string          `json:"status"`
	RunID         *uint64         `json:"run_id,omitempty"`
	Until         *time.Time      `json:"until,omitempty"`
	ClockOffsetMs int64           `json:"clock_offset_ms"`
	HostLoad      report.HostLoad `json:"host_load"`
}

// ErrorResponse is returned on failures
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is returned by /stats
type StatsResponse struct {
	requester.Snapshot
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// HealthCheck implements the health check endpoint
func (h *APIHandler) HealthCheck(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: now,
		Uptime:    int(now.Sub(h.startedAt).Seconds()),
		Version:   version,
	})
}

// GetStatus reports the executor status and the host load
func (h *APIHandler) GetStatus(c *gin.Context) {
	status := h.state.Status()
	response := StatusResponse{
		Status:        command.StatusName(status),
		ClockOffsetMs: h.state.ClockOffset().Milliseconds(),
	}
	if id, ok := status.RunID(); ok {
		response.RunID = &id
	}
	if w, ok := status.(command.Waiting); ok {
		response.Until = &w.Until
	}
	if h.sampler != nil {
		response.HostLoad = h.sampler.Sample(c.Request.Context())
	}
	c.JSON(http.StatusOK, response)
}

// GetStats reports the statistics counters
func (h *APIHandler) GetStats(c *gin.Context) {
	snap := h.state.Statistics().Snapshot()
	c.JSON(http.StatusOK, StatsResponse{
		Snapshot:          snap,
		RequestsPerSecond: snap.RequestsPerSecond(),
	})
}

// ListRuns lists the stored run summaries
func (h *APIHandler) ListRuns(c *gin.Context) {
	runs, err := h.store.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list run summaries")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []report.RunInfo{}
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun returns one stored run summary
func (h *APIHandler) GetRun(c *gin.Context) {
	summary, err := h.store.Load(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, summary)
	case errors.Is(err, report.ErrInvalidRunID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "run not found"})
	default:
		h.logger.Error().Err(err).Str("run_id", c.Param("id")).Msg("Failed to load run summary")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}

func (h *APIHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Handled request")
	}
}

// Router registers the routes of the status API
func (h *APIHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(h.requestLogger(), gin.Recovery())

	router.GET("/health", h.HealthCheck)
	router.GET("/status", h.GetStatus)
	router.GET("/stats", h.GetStats)
	router.GET("/metrics", gin.WrapH(h.metrics))
	if h.store != nil {
		router.GET("/runs", h.ListRuns)
		router.GET("/runs/:id", h.GetRun)
	}
	return router
}

// serveStatus runs the status API until ctx is cancelled
func serveStatus(ctx context.Context, addr string, h *APIHandler, logger zerolog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Starting status server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Status server forced to shutdown")
	}
	return nil
}

package streamapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/tabulon-lab/project-tabulon/internal/api/v1"
	"github.com/tabulon-lab/project-tabulon/internal/chart"
	"github.com/tabulon-lab/project-tabulon/internal/core/aggregation"
	httperr "github.com/tabulon-lab/project-tabulon/internal/core/errors"
	"github.com/tabulon-lab/project-tabulon/internal/registry"
)

const (
	msgInvalidJSON       = "Invalid JSON body"
	msgReportNotFound    = "Report not found"
	msgStreamNotFound    = "Stream not found"
	msgStreamTerminal    = "Stream already finished"
	msgStartStreamFailed = "Failed to start stream"
	msgAggregateNotFound = "Aggregation not found on this stream"
)

// RegisterRoutes registers the stream API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/streams", s.StartStreamHandler)
	r.GET("/v1/streams", s.ListStreamsHandler)
	r.GET("/v1/streams/:stream_id", s.StreamStatusHandler)
	r.POST("/v1/streams/:stream_id/pause", s.PauseStreamHandler)
	r.POST("/v1/streams/:stream_id/resume", s.ResumeStreamHandler)
	r.POST("/v1/streams/:stream_id/cancel", s.CancelStreamHandler)
	r.GET("/v1/streams/:stream_id/aggregates", s.AggregatesHandler)
	r.GET("/v1/streams/:stream_id/chart/:aggregation", s.ChartHandler)
}

// StartStreamHandler handles POST /v1/streams.
func (s *Service) StartStreamHandler(c *gin.Context) {
	var req v1.StartStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("[StreamAPI] Invalid JSON body received", "error", err)
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   err.Error(),
		})
		return
	}

	resp, err := s.StartStream(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, aggregation.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpReportNotFoundError,
				Message:   msgReportNotFound,
				Details:   err.Error(),
			})
			return
		}
		slog.Error("[StreamAPI] Failed to start stream", "report", req.Report, "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   msgStartStreamFailed,
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListStreamsHandler handles GET /v1/streams.
func (s *Service) ListStreamsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.ListStreams())
}

// StreamStatusHandler handles GET /v1/streams/:stream_id.
func (s *Service) StreamStatusHandler(c *gin.Context) {
	resp, err := s.StreamStatus(c.Param("stream_id"))
	if err != nil {
		writeStreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PauseStreamHandler handles POST /v1/streams/:stream_id/pause.
func (s *Service) PauseStreamHandler(c *gin.Context) {
	s.controlHandler(c, "paused", s.PauseStream)
}

// ResumeStreamHandler handles POST /v1/streams/:stream_id/resume.
func (s *Service) ResumeStreamHandler(c *gin.Context) {
	s.controlHandler(c, "running", s.ResumeStream)
}

// CancelStreamHandler handles POST /v1/streams/:stream_id/cancel.
func (s *Service) CancelStreamHandler(c *gin.Context) {
	s.controlHandler(c, "cancelled", s.CancelStream)
}

func (s *Service) controlHandler(c *gin.Context, target string, op func(string) error) {
	id := c.Param("stream_id")
	if err := op(id); err != nil {
		writeStreamError(c, err)
		return
	}
	// The producer observes the new status on its next fetch cycle.
	c.JSON(http.StatusAccepted, gin.H{"stream_id": id, "status": target})
}

// AggregatesHandler handles GET /v1/streams/:stream_id/aggregates.
func (s *Service) AggregatesHandler(c *gin.Context) {
	snap, err := s.Aggregates(c.Param("stream_id"))
	if err != nil {
		writeStreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ChartHandler handles GET /v1/streams/:stream_id/chart/:aggregation.
func (s *Service) ChartHandler(c *gin.Context) {
	series, err := s.Chart(c.Param("stream_id"), c.Param("aggregation"))
	if err != nil {
		if errors.Is(err, chart.ErrAggregationNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpAggregationNotFoundError,
				Message:   msgAggregateNotFound,
			})
			return
		}
		writeStreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

// writeStreamError maps service errors onto the HTTP error envelope.
func writeStreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrStreamNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpStreamNotFoundError,
			Message:   msgStreamNotFound,
		})
	case errors.Is(err, registry.ErrTerminalStatus):
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpStreamTerminalError,
			Message:   msgStreamTerminal,
		})
	default:
		slog.Error("[StreamAPI] Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Internal error",
		})
	}
}

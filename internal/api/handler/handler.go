package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobService is the worker surface the handlers call
type JobService interface {
	Submit(ctx context.Context, sourceURL, name, mode string) (domain.Job, error)
	Cancel(jobID string) bool
	Status(jobID string) (domain.StatusReport, error)
	Completed() []domain.Summary
	CompletedPage(cursor string, size int) ([]domain.Summary, string, error)
	Artifacts(jobID, name string) ([]domain.Artifact, error)
	ArtifactPath(jobID, name, file string) (string, error)
	SongDir(jobID, name string) (string, error)
	QueueSnapshot() domain.QueueSnapshot
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Jobs   JobService
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

// jobIDParam reads and validates the :job_id path parameter. It writes the
// 400 response itself and returns false when the id is not a UUID.
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Warn("Invalid job_id format",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// respondError maps domain errors to HTTP status codes
func (h *JobHandler) respondError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidJob):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrWorkerStopped):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

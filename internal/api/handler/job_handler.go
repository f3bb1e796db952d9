package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/stem-splitter/internal/api/dto"
	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/gin-gonic/gin"
)

const maxPageSize = 100

// SubmitJob handles POST /api/v1/jobs
// Queues a job and returns immediately; clients poll the status route
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "url and name are required",
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.URL, req.Name, req.Mode)
	if err != nil {
		h.respondError(c, err, "Failed to submit job")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:     job.JobID,
		Name:      job.Name,
		Mode:      job.Mode,
		Status:    domain.StatusQueued,
		StatusURL: fmt.Sprintf("/api/v1/jobs/%s", job.JobID),
	})
}

// ListQueue handles GET /api/v1/jobs
// Returns the pending jobs in order plus the job being processed
func (h *JobHandler) ListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.QueueSnapshot())
}

// GetJobStatus handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	report, err := h.jobs.Status(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, domain.StatusReport{Status: domain.StatusNotFound})
			return
		}
		h.respondError(c, err, "Failed to get job status")
		return
	}

	c.JSON(http.StatusOK, report)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Only a job that is still queued can be cancelled
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	if !h.jobs.Cancel(jobID) {
		c.JSON(http.StatusNotFound, dto.CancelJobResponse{
			JobID:  jobID,
			Reason: "job is not queued",
		})
		return
	}

	h.logger.Info("Job cancelled via API", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, dto.CancelJobResponse{JobID: jobID, Removed: true})
}

// ListCompleted handles GET /api/v1/completed
// Lists finished jobs, most recent first. Without page_size the whole list is returned.
func (h *JobHandler) ListCompleted(c *gin.Context) {
	var req dto.ListCompletedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize == 0 && req.Cursor == "" {
		c.JSON(http.StatusOK, dto.ListCompletedResponse{Jobs: h.jobs.Completed()})
		return
	}

	if req.PageSize < 0 {
		req.PageSize = 0
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	jobs, next, err := h.jobs.CompletedPage(req.Cursor, req.PageSize)
	if err != nil {
		h.respondError(c, err, "Failed to list completed jobs")
		return
	}

	c.JSON(http.StatusOK, dto.ListCompletedResponse{
		Jobs:       jobs,
		NextCursor: next,
	})
}

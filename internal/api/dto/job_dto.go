package dto

import "github.com/cuongbtq/stem-splitter/internal/worker/domain"

// SubmitJobRequest is accepted as JSON or as form fields
type SubmitJobRequest struct {
	URL  string `json:"url" form:"url" binding:"required"`
	Name string `json:"name" form:"name" binding:"required"`
	Mode string `json:"mode" form:"mode"`
}

type SubmitJobResponse struct {
	JobID     string        `json:"job_id"`
	Name      string        `json:"name"`
	Mode      domain.Mode   `json:"mode"`
	Status    domain.Status `json:"status"`
	StatusURL string        `json:"status_url"`
}

type CancelJobResponse struct {
	JobID   string `json:"job_id"`
	Removed bool   `json:"removed"`
	Reason  string `json:"reason,omitempty"`
}

type ListCompletedRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListCompletedResponse struct {
	Jobs       []domain.Summary `json:"jobs"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type ListFilesResponse struct {
	JobID string            `json:"job_id"`
	Name  string            `json:"name"`
	Files []domain.Artifact `json:"files"`
}

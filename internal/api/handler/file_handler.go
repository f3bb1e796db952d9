package handler

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuongbtq/stem-splitter/internal/api/dto"
	"github.com/gin-gonic/gin"
)

// ListFiles handles GET /api/v1/jobs/:job_id/files/:name
func (h *JobHandler) ListFiles(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}
	name := c.Param("name")

	files, err := h.jobs.Artifacts(jobID, name)
	if err != nil {
		h.respondError(c, err, "Failed to list files")
		return
	}

	c.JSON(http.StatusOK, dto.ListFilesResponse{
		JobID: jobID,
		Name:  name,
		Files: files,
	})
}

// DownloadFile handles GET /api/v1/jobs/:job_id/files/:name/:file
func (h *JobHandler) DownloadFile(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}
	file := c.Param("file")

	path, err := h.jobs.ArtifactPath(jobID, c.Param("name"), file)
	if err != nil {
		h.respondError(c, err, "Failed to resolve file")
		return
	}

	c.FileAttachment(path, file)
}

// DownloadArchive handles GET /api/v1/jobs/:job_id/archive/:name
// Streams every artifact of the song as one zip
func (h *JobHandler) DownloadArchive(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}
	name := c.Param("name")

	files, err := h.jobs.Artifacts(jobID, name)
	if err != nil {
		h.respondError(c, err, "Failed to list files")
		return
	}
	dir, err := h.jobs.SongDir(jobID, name)
	if err != nil {
		h.respondError(c, err, "Failed to resolve song directory")
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	c.Status(http.StatusOK)

	zw := zip.NewWriter(c.Writer)
	for _, file := range files {
		if err := addToZip(zw, filepath.Join(dir, file.Name), file.Name); err != nil {
			// headers are already sent; the truncated zip fails on the client
			h.logger.Error("Failed to write archive",
				slog.String("job_id", jobID),
				slog.String("file", file.Name),
				slog.String("error", err.Error()),
			)
			_ = c.Error(err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		h.logger.Error("Failed to finish archive",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

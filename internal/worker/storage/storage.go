package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

const (
	statusFile   = "status.txt"
	errorFile    = "error.txt"
	metadataFile = "metadata.txt"
)

// Storage is the on-disk status store. Every job owns <root>/<job_id>/ with one
// file per field, so a status poll never has to read metadata.
type Storage struct {
	root   string
	logger *slog.Logger
}

// NewStorage creates the output root if needed and returns a Storage over it
func NewStorage(root string, logger *slog.Logger) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}
	return &Storage{
		root:   root,
		logger: logger,
	}, nil
}

// Root returns the output root directory
func (s *Storage) Root() string {
	return s.root
}

// JobDir returns the directory owned by jobID
func (s *Storage) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// SongDir returns the artifact directory for a job's display name
func (s *Storage) SongDir(jobID, name string) string {
	return filepath.Join(s.root, jobID, name)
}

// CreateJob prepares the job directories and writes the initial queued status
func (s *Storage) CreateJob(jobID, name string) error {
	if err := os.MkdirAll(s.SongDir(jobID, name), 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	return s.UpdateStatus(jobID, domain.StatusQueued)
}

// UpdateStatus overwrites the job status
func (s *Storage) UpdateStatus(jobID string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("failed to update job status: invalid status %q", status)
	}
	if err := s.writeField(jobID, statusFile, string(status)); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Debug("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return nil
}

// DeleteJob removes everything stored for jobID
func (s *Storage) DeleteJob(jobID string) error {
	if !ValidPathElement(jobID) {
		return fmt.Errorf("%w: invalid job id %q", domain.ErrInvalidJob, jobID)
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// MarkFailed records the error detail and then the error status, so a reader
// that sees the error status always finds the detail.
func (s *Storage) MarkFailed(jobID, detail string) error {
	if err := s.writeField(jobID, errorFile, detail); err != nil {
		return fmt.Errorf("failed to write job error: %w", err)
	}
	return s.UpdateStatus(jobID, domain.StatusError)
}

// SaveMetadata writes the tempo and key of a job
func (s *Storage) SaveMetadata(jobID string, meta domain.Metadata) error {
	var b strings.Builder
	if meta.BPM != nil {
		fmt.Fprintf(&b, "BPM: %.1f\n", *meta.BPM)
	}
	if meta.Key != nil {
		fmt.Fprintf(&b, "Key: %s\n", *meta.Key)
	}
	if err := s.writeField(jobID, metadataFile, b.String()); err != nil {
		return fmt.Errorf("failed to write job metadata: %w", err)
	}
	return nil
}

// GetStatus returns only the status of a job
func (s *Storage) GetStatus(jobID string) (domain.Status, error) {
	raw, err := s.readField(jobID, statusFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	return domain.Status(raw), nil
}

// GetReport returns the status plus the error detail or metadata that goes with it
func (s *Storage) GetReport(jobID string) (*domain.StatusReport, error) {
	status, err := s.GetStatus(jobID)
	if err != nil {
		return nil, err
	}

	report := &domain.StatusReport{Status: status}
	switch status {
	case domain.StatusError:
		detail, err := s.readField(jobID, errorFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read job error: %w", err)
		}
		report.Error = detail
	case domain.StatusDone:
		meta, err := s.GetMetadata(jobID)
		if err != nil {
			// metadata is optional; a fetch-only job has none
			s.logger.Debug("Job metadata unavailable",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			break
		}
		report.Metadata = meta
	}

	return report, nil
}

// GetMetadata parses metadata.txt. A missing file yields ErrJobNotFound.
func (s *Storage) GetMetadata(jobID string) (domain.Metadata, error) {
	raw, err := s.readField(jobID, metadataFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Metadata{}, domain.ErrJobNotFound
		}
		return domain.Metadata{}, fmt.Errorf("failed to read job metadata: %w", err)
	}
	return parseMetadata(raw), nil
}

// ListArtifacts enumerates the regular files in a job's song directory
func (s *Storage) ListArtifacts(jobID, name string) ([]domain.Artifact, error) {
	entries, err := os.ReadDir(s.SongDir(jobID, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	artifacts := make([]domain.Artifact, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		artifacts = append(artifacts, domain.Artifact{
			Name: entry.Name(),
			URL:  DownloadPath(jobID, name, entry.Name()),
			Size: info.Size(),
		})
	}
	return artifacts, nil
}

// ArtifactPath resolves an artifact file, rejecting anything outside the song directory
func (s *Storage) ArtifactPath(jobID, name, file string) (string, error) {
	for _, part := range []string{jobID, name, file} {
		if !ValidPathElement(part) {
			return "", fmt.Errorf("%w: invalid path element %q", domain.ErrInvalidJob, part)
		}
	}
	path := filepath.Join(s.SongDir(jobID, name), file)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", domain.ErrJobNotFound
	}
	return path, nil
}

// DownloadPath is the API route that serves one artifact
func DownloadPath(jobID, name, file string) string {
	return fmt.Sprintf("/api/v1/jobs/%s/files/%s/%s", jobID, name, file)
}

// ValidPathElement reports whether p can be used as a single directory entry
func ValidPathElement(p string) bool {
	if p == "" || p == "." || p == ".." {
		return false
	}
	if strings.ContainsAny(p, `/\`) || strings.ContainsRune(p, 0) {
		return false
	}
	return filepath.Base(p) == p
}

// writeField replaces one job file atomically via a temp file and rename
func (s *Storage) writeField(jobID, field, value string) error {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+field+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, field)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Storage) readField(jobID, field string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.JobDir(jobID), field))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func parseMetadata(raw string) domain.Metadata {
	var meta domain.Metadata
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "BPM:"):
			value := strings.TrimSpace(strings.TrimPrefix(line, "BPM:"))
			if bpm, err := strconv.ParseFloat(value, 64); err == nil {
				meta.BPM = &bpm
			}
		case strings.HasPrefix(line, "Key:"):
			key := strings.TrimSpace(strings.TrimPrefix(line, "Key:"))
			if key != "" {
				meta.Key = &key
			}
		}
	}
	return meta
}

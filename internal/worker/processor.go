package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/events"
	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// Pipeline stages recorded on failures
const (
	stageDownload = "download"
	stageSplit    = "split"
	stageFinalize = "finalize"
)

// processJob runs one job to a terminal status. Nothing that goes wrong
// inside the job, panics included, escapes to the loop.
func (w *Worker) processJob(ctx context.Context, job domain.Job) {
	defer w.queue.Finish(job.JobID)

	logger := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("mode", string(job.Mode)),
	)
	logger.Info("Processing job",
		slog.String("name", job.Name),
		slog.String("url", job.SourceURL),
	)
	started := time.Now()

	summary, err := w.executeJob(ctx, job, logger)
	if err != nil {
		w.failJob(ctx, job, err, logger)
		return
	}

	// done is already on disk, so the ledger never runs ahead of the store
	w.ledger.Append(*summary)

	logger.Info("Job completed successfully",
		slog.Int("artifacts", len(summary.Stems)),
		slog.Duration("elapsed", time.Since(started)),
	)

	w.publish(ctx, events.Event{
		Event:   events.EventJobDone,
		JobID:   job.JobID,
		Status:  domain.StatusDone,
		Summary: summary,
	})
}

func (w *Worker) failJob(ctx context.Context, job domain.Job, err error, logger *slog.Logger) {
	detail := err.Error()
	logger.Error("Job execution failed",
		slog.String("stage", domain.StageOf(err)),
		slog.String("error", detail),
	)

	if markErr := w.storage.MarkFailed(job.JobID, detail); markErr != nil {
		logger.Error("Failed to update job status to error",
			slog.String("error", markErr.Error()),
		)
	}

	w.publish(ctx, events.Event{
		Event:  events.EventJobError,
		JobID:  job.JobID,
		Status: domain.StatusError,
		Error:  detail,
	})
}

// executeJob walks the state machine and returns the summary of a finished job
func (w *Worker) executeJob(ctx context.Context, job domain.Job, logger *slog.Logger) (summary *domain.Summary, err error) {
	stage := stageDownload
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			summary = nil
			err = domain.NewJobError(stage, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := w.storage.UpdateStatus(job.JobID, domain.StatusDownloading); err != nil {
		return nil, domain.NewJobError(stage, err)
	}

	songDir := w.storage.SongDir(job.JobID, job.Name)
	fetched, err := w.fetcher.Fetch(ctx, job.SourceURL, w.fetchDest(job, songDir), w.maxDuration)
	if err != nil {
		return nil, domain.NewJobError(stage, err)
	}

	var meta domain.Metadata
	switch job.Mode {
	case domain.ModeFetchOnly:
		stage = stageFinalize

	case domain.ModeFullPipeline:
		stage = stageSplit
		if err := w.storage.UpdateStatus(job.JobID, domain.StatusSplitting); err != nil {
			return nil, domain.NewJobError(stage, err)
		}

		separation, err := w.separator.Separate(ctx, fetched.Path, songDir, job.Name)
		if err != nil {
			return nil, domain.NewJobError(stage, err)
		}

		meta = w.analyze(ctx, separation, logger)
		if err := w.storage.SaveMetadata(job.JobID, meta); err != nil {
			return nil, domain.NewJobError(stage, err)
		}
		w.tagStems(ctx, separation, *meta.BPM, logger)

		stage = stageFinalize
		if err := os.Remove(fetched.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("Failed to remove downloaded source", slog.String("error", err.Error()))
		}

	default:
		return nil, domain.NewJobError(stage, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidJob, job.Mode))
	}

	artifacts, err := w.storage.ListArtifacts(job.JobID, job.Name)
	if err != nil {
		return nil, domain.NewJobError(stage, err)
	}
	if err := w.storage.UpdateStatus(job.JobID, domain.StatusDone); err != nil {
		return nil, domain.NewJobError(stage, err)
	}

	return &domain.Summary{
		JobID:       job.JobID,
		SongName:    job.Name,
		Stems:       artifacts,
		BPM:         meta.BPM,
		Key:         meta.Key,
		SourceURL:   job.SourceURL,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// fetchDest is where the fetcher writes. A fetch-only job keeps the download
// as its full-mix artifact; the full pipeline fetches an intermediate file.
func (w *Worker) fetchDest(job domain.Job, songDir string) string {
	if job.Mode == domain.ModeFetchOnly {
		return filepath.Join(songDir, domain.ArtifactFileName(job.Name, domain.StemFull, "mp3"))
	}
	return filepath.Join(songDir, job.Name+".mp3")
}

// analyze estimates tempo from the drums and key from the melody, using the
// full mix for whichever stem is missing
func (w *Worker) analyze(ctx context.Context, separation domain.Separation, logger *slog.Logger) domain.Metadata {
	tempoSource := separation.Stems[domain.StemDrums]
	if tempoSource == "" {
		tempoSource = separation.FullMix
	}
	keySource := separation.Stems[domain.StemMelody]
	if keySource == "" {
		keySource = separation.FullMix
	}

	bpm := w.analyzer.EstimateTempo(ctx, tempoSource)
	key := w.analyzer.EstimateKey(ctx, keySource)

	logger.Info("Audio analyzed",
		slog.Float64("bpm", bpm),
		slog.String("key", key),
	)
	return domain.Metadata{BPM: &bpm, Key: &key}
}

// tagStems embeds the tempo in every stem. Failures only cost the tag.
func (w *Worker) tagStems(ctx context.Context, separation domain.Separation, bpm float64, logger *slog.Logger) {
	if w.tagger == nil {
		return
	}
	for _, tag := range domain.StemTags {
		path, ok := separation.Stems[tag]
		if !ok {
			continue
		}
		if err := w.tagger.TagTempo(ctx, path, bpm); err != nil {
			logger.Warn("Failed to embed tempo tag",
				slog.String("stem", tag),
				slog.String("error", err.Error()),
			)
		}
	}
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/cuongbtq/stem-splitter/internal/config"
	"github.com/cuongbtq/stem-splitter/internal/pipeline"
	"github.com/cuongbtq/stem-splitter/internal/worker"
	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/cuongbtq/stem-splitter/internal/worker/storage"
	"github.com/cuongbtq/stem-splitter/shared/logger"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions, use, short, mode string) *cobra.Command {
	var (
		sourceURL string
		name      string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			appLogger, err := logger.New(&logger.Config{
				Level:  cfg.Logging.Level,
				Format: "console",
				Output: "stderr",
				Color:  cfg.Logging.Color,
			})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer appLogger.Close()

			jobWorker, err := newWorker(cfg, appLogger)
			if err != nil {
				return err
			}

			job, err := jobWorker.Submit(cmd.Context(), sourceURL, name, mode)
			if err != nil {
				return err
			}
			if err := jobWorker.Drain(cmd.Context()); err != nil {
				return err
			}

			return reportJob(cmd.OutOrStdout(), jobWorker, job)
		},
	}

	cmd.Flags().StringVarP(&sourceURL, "url", "u", "", "Source URL")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name used for the output files")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.output != "" {
		cfg.Storage.OutputRoot = opts.output
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

func newWorker(cfg *config.Config, appLogger *logger.Logger) (*worker.Worker, error) {
	store, err := storage.NewStorage(cfg.Storage.OutputRoot, appLogger.Component("storage"))
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	pipelineLogger := appLogger.Component("pipeline")
	return worker.NewWorker(&worker.Config{
		Logger:  appLogger.Component("worker"),
		Storage: store,
		Fetcher: pipeline.NewYtDlpFetcher(pipeline.FetcherConfig{
			Binary:       cfg.Tools.YtDlp,
			AudioQuality: cfg.Tools.AudioQuality,
			Logger:       pipelineLogger,
		}),
		Separator: pipeline.NewDemucsSeparator(pipeline.SeparatorConfig{
			DemucsBinary: cfg.Tools.Demucs,
			Model:        cfg.Tools.DemucsModel,
			FFmpegBinary: cfg.Tools.FFmpeg,
			Bitrate:      cfg.Tools.MixBitrate,
			Logger:       pipelineLogger,
		}),
		Analyzer: pipeline.NewCommandAnalyzer(pipeline.AnalyzerConfig{
			AubioBinary:     cfg.Tools.Aubio,
			KeyFinderBinary: cfg.Tools.KeyFinder,
			Logger:          pipelineLogger,
		}),
		Tagger: pipeline.NewFFmpegTagger(pipeline.TaggerConfig{
			FFmpegBinary: cfg.Tools.FFmpeg,
			Logger:       pipelineLogger,
		}),
		MaxDuration: cfg.Worker.MaxDuration,
	}), nil
}

type jobReader interface {
	Status(jobID string) (domain.StatusReport, error)
	Artifacts(jobID, name string) ([]domain.Artifact, error)
	SongDir(jobID, name string) (string, error)
}

func reportJob(out io.Writer, jobs jobReader, job domain.Job) error {
	report, err := jobs.Status(job.JobID)
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if report.Status != domain.StatusDone {
		return fmt.Errorf("job %s failed: %s", job.JobID, report.Error)
	}

	artifacts, err := jobs.Artifacts(job.JobID, job.Name)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	dir, err := jobs.SongDir(job.JobID, job.Name)
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}

	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderSummary(job, report, dir, colorize))
	fmt.Fprintln(out, renderArtifacts(artifacts))
	return nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/dustin/go-humanize"
)

// YtDlpFetcher downloads the audio of a media URL as mp3 with yt-dlp
type YtDlpFetcher struct {
	binary       string
	audioQuality string
	runner       Runner
	logger       *slog.Logger
}

// FetcherConfig configures YtDlpFetcher
type FetcherConfig struct {
	Binary       string
	AudioQuality string
	Runner       Runner
	Logger       *slog.Logger
}

// NewYtDlpFetcher creates a fetcher, defaulting to "yt-dlp" at 192K
func NewYtDlpFetcher(cfg FetcherConfig) *YtDlpFetcher {
	f := &YtDlpFetcher{
		binary:       cfg.Binary,
		audioQuality: cfg.AudioQuality,
		runner:       cfg.Runner,
		logger:       cfg.Logger,
	}
	if f.binary == "" {
		f.binary = "yt-dlp"
	}
	if f.audioQuality == "" {
		f.audioQuality = "192K"
	}
	if f.runner == nil {
		f.runner = ExecRunner{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

type probeInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// Fetch probes the source, rejects it when it is longer than maxDuration, then
// downloads it to dest (an .mp3 path). A maxDuration <= 0 disables the ceiling.
func (f *YtDlpFetcher) Fetch(ctx context.Context, url, dest string, maxDuration time.Duration) (domain.FetchResult, error) {
	info, err := f.probe(ctx, url)
	if err != nil {
		return domain.FetchResult{}, err
	}

	duration := time.Duration(info.Duration * float64(time.Second))
	if maxDuration > 0 && duration > maxDuration {
		return domain.FetchResult{}, fmt.Errorf("%w: %dm > %dm limit",
			domain.ErrDurationExceeded,
			int(duration/time.Minute),
			int(maxDuration/time.Minute),
		)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return domain.FetchResult{}, fmt.Errorf("%w: failed to create download directory: %v", domain.ErrRetrievalFailed, err)
	}

	// yt-dlp reads % as a template field, so literal percent signs are doubled
	base := strings.ReplaceAll(strings.TrimSuffix(dest, filepath.Ext(dest)), "%", "%%")
	template := base + ".%(ext)s"
	args := []string{
		"--format", "bestaudio/best",
		"--no-playlist",
		"--quiet",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", f.audioQuality,
		"--output", template,
		url,
	}
	result, err := f.runner.Run(ctx, f.binary, args...)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("%w: %s", domain.ErrRetrievalFailed, describe(result, err))
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("%w: mp3 not created", domain.ErrRetrievalFailed)
	}

	title := info.Title
	if title == "" {
		title = "Unknown"
	}

	f.logger.Info("Source downloaded",
		slog.String("title", title),
		slog.Duration("duration", duration),
		slog.String("size", humanize.Bytes(uint64(stat.Size()))),
		slog.String("path", dest),
	)

	return domain.FetchResult{
		Path:     dest,
		Title:    title,
		Duration: duration,
	}, nil
}

func (f *YtDlpFetcher) probe(ctx context.Context, url string) (probeInfo, error) {
	result, err := f.runner.Run(ctx, f.binary,
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		url,
	)
	if err != nil {
		return probeInfo{}, fmt.Errorf("%w: %s", domain.ErrRetrievalFailed, describe(result, err))
	}

	var info probeInfo
	if err := json.Unmarshal([]byte(result.Stdout), &info); err != nil {
		return probeInfo{}, fmt.Errorf("%w: unreadable source metadata: %v", domain.ErrRetrievalFailed, err)
	}
	return info, nil
}

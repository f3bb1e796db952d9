package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// FFmpegTagger writes the detected tempo into stem WAVs as ID3 tags (a TBPM
// frame plus a TXXX:BPM frame) so DAWs pick it up on import
type FFmpegTagger struct {
	ffmpeg string
	runner Runner
	logger *slog.Logger
}

// TaggerConfig configures FFmpegTagger
type TaggerConfig struct {
	FFmpegBinary string
	Runner       Runner
	Logger       *slog.Logger
}

// NewFFmpegTagger creates a tagger, defaulting to "ffmpeg"
func NewFFmpegTagger(cfg TaggerConfig) *FFmpegTagger {
	t := &FFmpegTagger{
		ffmpeg: cfg.FFmpegBinary,
		runner: cfg.Runner,
		logger: cfg.Logger,
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.runner == nil {
		t.runner = ExecRunner{}
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// TagTempo rewrites path with the BPM tag. The audio stream is copied, the
// tagged file replaces the original only once ffmpeg succeeded.
func (t *FFmpegTagger) TagTempo(ctx context.Context, path string, bpm float64) error {
	value := strconv.FormatFloat(bpm, 'f', 1, 64)
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tagging")

	result, err := t.runner.Run(ctx, t.ffmpeg,
		"-y",
		"-loglevel", "error",
		"-i", path,
		"-map_metadata", "0",
		"-metadata", "TBPM="+value,
		"-metadata", "BPM="+value,
		"-write_id3v2", "1",
		"-c", "copy",
		"-f", "wav",
		tmp,
	)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to tag %s: %s", filepath.Base(path), describe(result, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	t.logger.Debug("Tempo tag written",
		slog.String("file", filepath.Base(path)),
		slog.String("bpm", value),
	)
	return nil
}

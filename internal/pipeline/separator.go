package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// demucs source names mapped to artifact stem tags
var demucsStems = map[string]string{
	"drums":  domain.StemDrums,
	"bass":   domain.StemBass,
	"other":  domain.StemMelody,
	"vocals": domain.StemVocals,
}

// DemucsSeparator splits audio into four stems with demucs and exports the
// mono full mix with ffmpeg
type DemucsSeparator struct {
	demucs  string
	model   string
	ffmpeg  string
	bitrate string
	runner  Runner
	logger  *slog.Logger
}

// SeparatorConfig configures DemucsSeparator
type SeparatorConfig struct {
	DemucsBinary string
	Model        string
	FFmpegBinary string
	Bitrate      string
	Runner       Runner
	Logger       *slog.Logger
}

// NewDemucsSeparator creates a separator, defaulting to the mdx_extra_q model
func NewDemucsSeparator(cfg SeparatorConfig) *DemucsSeparator {
	s := &DemucsSeparator{
		demucs:  cfg.DemucsBinary,
		model:   cfg.Model,
		ffmpeg:  cfg.FFmpegBinary,
		bitrate: cfg.Bitrate,
		runner:  cfg.Runner,
		logger:  cfg.Logger,
	}
	if s.demucs == "" {
		s.demucs = "demucs"
	}
	if s.model == "" {
		s.model = "mdx_extra_q"
	}
	if s.ffmpeg == "" {
		s.ffmpeg = "ffmpeg"
	}
	if s.bitrate == "" {
		s.bitrate = "192k"
	}
	if s.runner == nil {
		s.runner = ExecRunner{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Separate writes {baseName}[drums|bass|melody|vocals].wav and
// {baseName}[full].mp3 into outDir. Scratch files live next to outDir and are
// always removed.
func (s *DemucsSeparator) Separate(ctx context.Context, input, outDir, baseName string) (domain.Separation, error) {
	if _, err := os.Stat(input); err != nil {
		return domain.Separation{}, fmt.Errorf("%w: input not found: %s", domain.ErrSeparationFailed, filepath.Base(input))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return domain.Separation{}, fmt.Errorf("%w: failed to create output directory: %v", domain.ErrSeparationFailed, err)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(outDir), ".separate-*")
	if err != nil {
		return domain.Separation{}, fmt.Errorf("%w: failed to create scratch directory: %v", domain.ErrSeparationFailed, err)
	}
	defer os.RemoveAll(scratch)

	s.logger.Info("Splitting stems",
		slog.String("model", s.model),
		slog.String("input", filepath.Base(input)),
	)

	result, err := s.runner.Run(ctx, s.demucs,
		"-n", s.model,
		"-o", scratch,
		"--filename", "{stem}.{ext}",
		input,
	)
	if err != nil {
		return domain.Separation{}, fmt.Errorf("%w: %s", domain.ErrSeparationFailed, describe(result, err))
	}

	separation := domain.Separation{Stems: make(map[string]string, len(demucsStems))}
	for source, tag := range demucsStems {
		src := filepath.Join(scratch, s.model, source+".wav")
		dst := filepath.Join(outDir, domain.ArtifactFileName(baseName, tag, "wav"))
		if err := moveFile(src, dst); err != nil {
			return domain.Separation{}, fmt.Errorf("%w: missing %s stem: %v", domain.ErrSeparationFailed, source, err)
		}
		separation.Stems[tag] = dst
	}

	fullMix := filepath.Join(outDir, domain.ArtifactFileName(baseName, domain.StemFull, "mp3"))
	result, err = s.runner.Run(ctx, s.ffmpeg,
		"-y",
		"-loglevel", "error",
		"-i", input,
		"-ac", "1",
		"-b:a", s.bitrate,
		fullMix,
	)
	if err != nil {
		return domain.Separation{}, fmt.Errorf("%w: full mix export: %s", domain.ErrSeparationFailed, describe(result, err))
	}
	separation.FullMix = fullMix

	return separation, nil
}

// moveFile renames src to dst, copying when the rename crosses devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

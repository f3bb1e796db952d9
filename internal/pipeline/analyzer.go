package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// CommandAnalyzer estimates tempo with aubio and key with keyfinder-cli.
// Both estimates are best effort: any failure is logged and replaced by
// domain.DefaultBPM or domain.UnknownKey.
type CommandAnalyzer struct {
	aubio     string
	keyfinder string
	runner    Runner
	logger    *slog.Logger
}

// AnalyzerConfig configures CommandAnalyzer
type AnalyzerConfig struct {
	AubioBinary     string
	KeyFinderBinary string
	Runner          Runner
	Logger          *slog.Logger
}

// NewCommandAnalyzer creates an analyzer with default binary names
func NewCommandAnalyzer(cfg AnalyzerConfig) *CommandAnalyzer {
	a := &CommandAnalyzer{
		aubio:     cfg.AubioBinary,
		keyfinder: cfg.KeyFinderBinary,
		runner:    cfg.Runner,
		logger:    cfg.Logger,
	}
	if a.aubio == "" {
		a.aubio = "aubio"
	}
	if a.keyfinder == "" {
		a.keyfinder = "keyfinder-cli"
	}
	if a.runner == nil {
		a.runner = ExecRunner{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

var bpmPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*bpm`)

// EstimateTempo returns the tempo of the audio at path in beats per minute
func (a *CommandAnalyzer) EstimateTempo(ctx context.Context, path string) float64 {
	bpm, err := a.tempo(ctx, path)
	if err != nil {
		a.logger.Warn("BPM detection failed, using fallback",
			slog.String("path", path),
			slog.Float64("fallback", domain.DefaultBPM),
			slog.String("error", err.Error()),
		)
		return domain.DefaultBPM
	}
	return bpm
}

func (a *CommandAnalyzer) tempo(ctx context.Context, path string) (float64, error) {
	result, err := a.runner.Run(ctx, a.aubio, "tempo", "-i", path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", domain.ErrAnalysisFailed, describe(result, err))
	}

	match := bpmPattern.FindStringSubmatch(strings.ToLower(result.Stdout))
	if match == nil {
		return 0, fmt.Errorf("%w: no tempo in output %q", domain.ErrAnalysisFailed, lastLine(result.Stdout))
	}
	bpm, err := strconv.ParseFloat(match[1], 64)
	if err != nil || bpm <= 0 {
		return 0, fmt.Errorf("%w: invalid tempo %q", domain.ErrAnalysisFailed, match[1])
	}
	return bpm, nil
}

// EstimateKey returns a key label such as "A minor"
func (a *CommandAnalyzer) EstimateKey(ctx context.Context, path string) string {
	key, err := a.key(ctx, path)
	if err != nil {
		a.logger.Warn("Key detection failed, using fallback",
			slog.String("path", path),
			slog.String("fallback", domain.UnknownKey),
			slog.String("error", err.Error()),
		)
		return domain.UnknownKey
	}
	return key
}

func (a *CommandAnalyzer) key(ctx context.Context, path string) (string, error) {
	result, err := a.runner.Run(ctx, a.keyfinder, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrAnalysisFailed, describe(result, err))
	}

	key, ok := NormalizeKey(lastLine(result.Stdout))
	if !ok {
		return "", fmt.Errorf("%w: unrecognized key %q", domain.ErrAnalysisFailed, lastLine(result.Stdout))
	}
	return key, nil
}

var keyPattern = regexp.MustCompile(`^([A-Ga-g])([#b]?)\s*(m|min|minor|maj|major)?$`)

// NormalizeKey turns keyfinder notation ("Am", "F#", "Eb minor") into
// "<root> major" / "<root> minor"
func NormalizeKey(raw string) (string, bool) {
	match := keyPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return "", false
	}

	root := strings.ToUpper(match[1]) + match[2]
	quality := "major"
	switch match[3] {
	case "m", "min", "minor":
		quality = "minor"
	}
	return root + " " + quality, true
}

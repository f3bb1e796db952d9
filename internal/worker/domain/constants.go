package domain

import (
	"fmt"
	"strings"
)

// Status is the durable lifecycle state of a job
type Status string

// Job status constants, stored verbatim in status.txt
const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusSplitting   Status = "splitting"
	StatusDone        Status = "done"
	StatusError       Status = "error"

	// StatusNotFound is only reported to API callers, never written to disk
	StatusNotFound Status = "not_found"
)

// IsActive reports whether the job is mid-pipeline
func (s Status) IsActive() bool {
	return s == StatusDownloading || s == StatusSplitting
}

// IsTerminal reports whether the job has finished, successfully or not
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Valid reports whether s is one of the statuses the worker writes
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusSplitting, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// Mode selects which pipeline the worker runs for a job
type Mode string

const (
	// ModeFullPipeline fetches, separates into stems and analyzes tempo/key
	ModeFullPipeline Mode = "stem"
	// ModeFetchOnly fetches the audio and stores it as the full mix
	ModeFetchOnly Mode = "youtube"
)

// ParseMode maps a client-supplied mode to the closed Mode set.
// An empty string selects the full pipeline.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "stem", "stems", "full", "full_pipeline":
		return ModeFullPipeline, nil
	case "youtube", "audio", "mp3", "fetch", "fetch_only":
		return ModeFetchOnly, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidJob, raw)
	}
}

// Stem tags used in artifact file names: {name}[{tag}].{ext}
const (
	StemDrums  = "drums"
	StemBass   = "bass"
	StemMelody = "melody"
	StemVocals = "vocals"
	StemFull   = "full"
)

// StemTags lists the separated stems in output order
var StemTags = []string{StemDrums, StemBass, StemMelody, StemVocals}

// Analysis fallbacks used when tempo or key estimation fails
const (
	DefaultBPM = 128.0
	UnknownKey = "Unknown"
)

// ArtifactFileName builds the {name}[{tag}].{ext} artifact file name
func ArtifactFileName(name, tag, ext string) string {
	return fmt.Sprintf("%s[%s].%s", name, tag, strings.TrimPrefix(ext, "."))
}

package domain

import "time"

// Job is the immutable descriptor of one submitted request
type Job struct {
	JobID       string    `json:"job_id"`
	SourceURL   string    `json:"url"`
	Name        string    `json:"name"`
	Mode        Mode      `json:"mode"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Artifact references one output file of a job
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Metadata holds the tempo and key of a fully processed job
type Metadata struct {
	BPM *float64 `json:"bpm,omitempty"`
	Key *string  `json:"key,omitempty"`
}

// StatusReport is what a status poll returns
type StatusReport struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Metadata
}

// Summary describes a finished job. It is created once and never mutated.
type Summary struct {
	JobID       string     `json:"job_id"`
	SongName    string     `json:"song_name"`
	Stems       []Artifact `json:"stems"`
	BPM         *float64   `json:"bpm"`
	Key         *string    `json:"key"`
	SourceURL   string     `json:"url"`
	CompletedAt time.Time  `json:"completed_at"`
}

// QueueSnapshot lists the pending jobs in FIFO order and the job being processed
type QueueSnapshot struct {
	Queue   []Job `json:"queue"`
	Current *Job  `json:"current_job"`
}

// FetchResult is what a Fetcher returns for a retrieved source
type FetchResult struct {
	Path     string
	Title    string
	Duration time.Duration
}

// Separation maps stem tags to the written stem files plus the full mix
type Separation struct {
	Stems   map[string]string
	FullMix string
}

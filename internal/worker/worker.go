package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/events"
	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/cuongbtq/stem-splitter/internal/worker/storage"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// DefaultMaxDuration is the longest source the worker accepts when
	// Config.MaxDuration is 0. A negative MaxDuration disables the ceiling.
	DefaultMaxDuration = 360 * time.Second
	// DefaultIdleInterval is how long the loop waits on an empty queue before re-checking
	DefaultIdleInterval = time.Second

	lockFileName = ".worker.lock"
)

// Fetcher retrieves the audio of a source URL into dest
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, maxDuration time.Duration) (domain.FetchResult, error)
}

// Separator splits an audio file into stems plus a full mix
type Separator interface {
	Separate(ctx context.Context, input, outDir, baseName string) (domain.Separation, error)
}

// Analyzer estimates tempo and key. Implementations fall back to
// domain.DefaultBPM and domain.UnknownKey instead of failing.
type Analyzer interface {
	EstimateTempo(ctx context.Context, path string) float64
	EstimateKey(ctx context.Context, path string) string
}

// TempoTagger writes the detected tempo into a stem file's tags
type TempoTagger interface {
	TagTempo(ctx context.Context, path string, bpm float64) error
}

// Config holds worker configuration. Tagger is optional.
type Config struct {
	Logger       *slog.Logger
	Storage      *storage.Storage
	Fetcher      Fetcher
	Separator    Separator
	Analyzer     Analyzer
	Tagger       TempoTagger
	Publisher    events.Publisher
	MaxDuration  time.Duration
	IdleInterval time.Duration
}

// Worker owns the job queue, the completed-jobs ledger and the single
// goroutine that processes jobs one at a time
type Worker struct {
	logger       *slog.Logger
	storage      *storage.Storage
	fetcher      Fetcher
	separator    Separator
	analyzer     Analyzer
	tagger       TempoTagger
	publisher    events.Publisher
	maxDuration  time.Duration
	idleInterval time.Duration

	queue  *Queue
	ledger *Ledger
	lock   *flock.Flock

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:       cfg.Logger,
		storage:      cfg.Storage,
		fetcher:      cfg.Fetcher,
		separator:    cfg.Separator,
		analyzer:     cfg.Analyzer,
		tagger:       cfg.Tagger,
		publisher:    cfg.Publisher,
		maxDuration:  cfg.MaxDuration,
		idleInterval: cfg.IdleInterval,
		queue:        NewQueue(),
		ledger:       NewLedger(),
		lock:         flock.New(filepath.Join(cfg.Storage.Root(), lockFileName)),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.publisher == nil {
		w.publisher = events.NopPublisher{}
	}
	if w.maxDuration == 0 {
		w.maxDuration = DefaultMaxDuration
	}
	if w.idleInterval <= 0 {
		w.idleInterval = DefaultIdleInterval
	}
	return w
}

// Start acquires the output root lock and launches the processing loop.
// It returns once the loop is running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("worker already started")
	}
	if w.stopped.Load() {
		return domain.ErrWorkerStopped
	}
	if err := w.acquireLock(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting worker",
		slog.String("output_root", w.storage.Root()),
		slog.Duration("max_duration", w.maxDuration),
		slog.Duration("idle_interval", w.idleInterval),
	)

	w.wg.Add(1)
	go w.run(loopCtx)
	return nil
}

// Stop cancels the loop, waits for it to exit and releases the lock.
// A job in progress sees its context canceled.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped.CompareAndSwap(false, true) {
		return
	}

	w.logger.Info("Stopping worker...")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.releaseLock()
	w.logger.Info("Worker stopped")
}

// Drain processes queued jobs on the calling goroutine until the queue is
// empty. It is the synchronous alternative to Start for one-shot use.
func (w *Worker) Drain(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("worker loop is running")
	}
	if err := w.acquireLock(); err != nil {
		return err
	}
	defer w.releaseLock()

	for ctx.Err() == nil {
		job, ok := w.queue.Dequeue()
		if !ok {
			return nil
		}
		w.processJob(ctx, job)
	}
	return ctx.Err()
}

func (w *Worker) acquireLock() error {
	locked, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock output root: %w", err)
	}
	if !locked {
		return fmt.Errorf("another worker is using %s", w.storage.Root())
	}
	return nil
}

func (w *Worker) releaseLock() {
	if err := w.lock.Unlock(); err != nil {
		w.logger.Warn("Failed to release output root lock",
			slog.String("path", w.lock.Path()),
			slog.String("error", err.Error()),
		)
	}
}

// Submit validates a request, records it as queued and appends it to the queue
func (w *Worker) Submit(ctx context.Context, sourceURL, name, mode string) (domain.Job, error) {
	if w.stopped.Load() {
		return domain.Job{}, domain.ErrWorkerStopped
	}

	job, err := newJob(sourceURL, name, mode)
	if err != nil {
		return domain.Job{}, err
	}

	// queued must be on disk before the worker can dequeue the job
	if err := w.storage.CreateJob(job.JobID, job.Name); err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	// job.queued goes out before the loop can see the job, so it always
	// precedes job.done or job.error
	w.publish(ctx, events.Event{
		Event:  events.EventJobQueued,
		JobID:  job.JobID,
		Status: domain.StatusQueued,
	})
	w.queue.Enqueue(job)

	w.logger.Info("Job queued",
		slog.String("job_id", job.JobID),
		slog.String("name", job.Name),
		slog.String("mode", string(job.Mode)),
		slog.Int("queue_length", w.queue.Len()),
	)
	return job, nil
}

func newJob(sourceURL, name, mode string) (domain.Job, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	parsed, err := url.Parse(sourceURL)
	if sourceURL == "" || err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.Job{}, fmt.Errorf("%w: url must be an absolute http(s) URL", domain.ErrInvalidJob)
	}

	name = strings.TrimSpace(name)
	if !storage.ValidPathElement(name) || strings.HasPrefix(name, ".") {
		return domain.Job{}, fmt.Errorf("%w: invalid name %q", domain.ErrInvalidJob, name)
	}

	parsedMode, err := domain.ParseMode(mode)
	if err != nil {
		return domain.Job{}, err
	}

	return domain.Job{
		JobID:       uuid.NewString(),
		SourceURL:   sourceURL,
		Name:        name,
		Mode:        parsedMode,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// Cancel removes a job that is still waiting in the queue and forgets it.
// It returns false once the worker has dequeued the job.
func (w *Worker) Cancel(jobID string) bool {
	if !w.queue.Remove(jobID) {
		return false
	}

	if err := w.storage.DeleteJob(jobID); err != nil {
		w.logger.Warn("Failed to delete cancelled job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	w.logger.Info("Job cancelled", slog.String("job_id", jobID))
	return true
}

// Status returns the stored status of a job, or domain.ErrJobNotFound
func (w *Worker) Status(jobID string) (domain.StatusReport, error) {
	if !storage.ValidPathElement(jobID) {
		return domain.StatusReport{}, domain.ErrJobNotFound
	}
	report, err := w.storage.GetReport(jobID)
	if err != nil {
		return domain.StatusReport{}, err
	}
	return *report, nil
}

// Completed returns every finished job, most recent first
func (w *Worker) Completed() []domain.Summary {
	return w.ledger.List()
}

// CompletedPage returns one page of finished jobs, most recent first
func (w *Worker) CompletedPage(cursor string, size int) ([]domain.Summary, string, error) {
	summaries, next, err := w.ledger.Page(cursor, size)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	return summaries, next, nil
}

// Artifacts lists the files currently in a job's song directory
func (w *Worker) Artifacts(jobID, name string) ([]domain.Artifact, error) {
	if !storage.ValidPathElement(jobID) || !storage.ValidPathElement(name) {
		return nil, domain.ErrJobNotFound
	}
	return w.storage.ListArtifacts(jobID, name)
}

// ArtifactPath resolves one artifact file for download
func (w *Worker) ArtifactPath(jobID, name, file string) (string, error) {
	return w.storage.ArtifactPath(jobID, name, file)
}

// SongDir returns the artifact directory of a job
func (w *Worker) SongDir(jobID, name string) (string, error) {
	if !storage.ValidPathElement(jobID) || !storage.ValidPathElement(name) {
		return "", domain.ErrJobNotFound
	}
	return w.storage.SongDir(jobID, name), nil
}

// QueueSnapshot returns the pending jobs and the job being processed
func (w *Worker) QueueSnapshot() domain.QueueSnapshot {
	return w.queue.Snapshot()
}

// publish sends an event without letting a broker problem affect the job
func (w *Worker) publish(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.publisher.Publish(ctx, event); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.DeadlineExceeded) {
			level = slog.LevelError
		}
		w.logger.Log(ctx, level, "Failed to publish job event",
			slog.String("event", event.Event),
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}

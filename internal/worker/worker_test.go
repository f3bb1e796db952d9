package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/stem-splitter/internal/events"
	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
	"github.com/cuongbtq/stem-splitter/internal/worker/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activity tracks how many pipeline calls run at the same time
type activity struct {
	active atomic.Int32
	max    atomic.Int32
}

func (a *activity) enter() {
	n := a.active.Add(1)
	for {
		m := a.max.Load()
		if n <= m || a.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (a *activity) leave() {
	a.active.Add(-1)
}

type fakeFetcher struct {
	activity  *activity
	durations map[string]time.Duration
	delay     time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string, maxDuration time.Duration) (domain.FetchResult, error) {
	f.activity.enter()
	defer f.activity.leave()
	time.Sleep(f.delay)

	duration := f.durations[url]
	if duration == 0 {
		duration = 3 * time.Minute
	}
	if maxDuration > 0 && duration > maxDuration {
		return domain.FetchResult{}, fmt.Errorf("%w: %dm > %dm limit",
			domain.ErrDurationExceeded, int(duration/time.Minute), int(maxDuration/time.Minute))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return domain.FetchResult{}, err
	}
	if err := os.WriteFile(dest, []byte("audio:"+url), 0o644); err != nil {
		return domain.FetchResult{}, err
	}
	return domain.FetchResult{Path: dest, Title: "title", Duration: duration}, nil
}

type fakeSeparator struct {
	activity *activity
	failFor  map[string]error
	panicFor map[string]bool
	noMelody bool
}

func (s *fakeSeparator) Separate(_ context.Context, input, outDir, baseName string) (domain.Separation, error) {
	s.activity.enter()
	defer s.activity.leave()

	if s.panicFor[baseName] {
		panic("boom")
	}
	if err := s.failFor[baseName]; err != nil {
		return domain.Separation{}, err
	}

	separation := domain.Separation{Stems: map[string]string{}}
	for _, tag := range domain.StemTags {
		if tag == domain.StemMelody && s.noMelody {
			continue
		}
		path := filepath.Join(outDir, domain.ArtifactFileName(baseName, tag, "wav"))
		if err := os.WriteFile(path, []byte(tag), 0o644); err != nil {
			return domain.Separation{}, err
		}
		separation.Stems[tag] = path
	}
	separation.FullMix = filepath.Join(outDir, domain.ArtifactFileName(baseName, domain.StemFull, "mp3"))
	if err := os.WriteFile(separation.FullMix, []byte("mix"), 0o644); err != nil {
		return domain.Separation{}, err
	}
	return separation, nil
}

type fakeAnalyzer struct {
	mu         sync.Mutex
	tempoPaths []string
	keyPaths   []string
}

func (a *fakeAnalyzer) EstimateTempo(_ context.Context, path string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tempoPaths = append(a.tempoPaths, path)
	return 124.0
}

func (a *fakeAnalyzer) EstimateKey(_ context.Context, path string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keyPaths = append(a.keyPaths, path)
	return "A minor"
}

type fakeTagger struct {
	mu     sync.Mutex
	tagged map[string]float64
	fail   bool
}

func (f *fakeTagger) TagTempo(_ context.Context, path string, bpm float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("ffmpeg exited 1")
	}
	f.tagged[filepath.Base(path)] = bpm
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	delays map[string]time.Duration // per event name, applied before recording
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	time.Sleep(p.delays[event.Event])
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Event+":"+e.JobID)
	}
	return out
}

type harness struct {
	worker    *Worker
	storage   *storage.Storage
	fetcher   *fakeFetcher
	separator *fakeSeparator
	analyzer  *fakeAnalyzer
	tagger    *fakeTagger
	publisher *recordingPublisher
	activity  *activity
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewStorage(t.TempDir(), logger)
	require.NoError(t, err)

	h := &harness{
		storage:   store,
		activity:  &activity{},
		analyzer:  &fakeAnalyzer{},
		tagger:    &fakeTagger{tagged: map[string]float64{}},
		publisher: &recordingPublisher{},
	}
	h.fetcher = &fakeFetcher{activity: h.activity, durations: map[string]time.Duration{}}
	h.separator = &fakeSeparator{activity: h.activity, failFor: map[string]error{}, panicFor: map[string]bool{}}
	h.worker = NewWorker(&Config{
		Logger:       logger,
		Storage:      store,
		Fetcher:      h.fetcher,
		Separator:    h.separator,
		Analyzer:     h.analyzer,
		Tagger:       h.tagger,
		Publisher:    h.publisher,
		IdleInterval: 10 * time.Millisecond,
	})
	t.Cleanup(h.worker.Stop)
	return h
}

func (h *harness) submit(t *testing.T, url, name string, mode domain.Mode) domain.Job {
	t.Helper()
	job, err := h.worker.Submit(context.Background(), url, name, string(mode))
	require.NoError(t, err)
	return job
}

func (h *harness) status(t *testing.T, jobID string) domain.StatusReport {
	t.Helper()
	report, err := h.worker.Status(jobID)
	require.NoError(t, err)
	return report
}

func artifactNames(artifacts []domain.Artifact) []string {
	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

func TestWorker_StatusQueuedAndNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.worker.Status("3f1c9a55-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	job := h.submit(t, "https://example.com/a", "song", domain.ModeFullPipeline)
	assert.Equal(t, domain.StatusQueued, h.status(t, job.JobID).Status)

	snapshot := h.worker.QueueSnapshot()
	require.Len(t, snapshot.Queue, 1)
	assert.Equal(t, job.JobID, snapshot.Queue[0].JobID)
	assert.Nil(t, snapshot.Current)

	assert.Equal(t, []string{"job.queued:" + job.JobID}, h.publisher.names())
}

func TestWorker_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		display string
		mode    string
	}{
		{name: "empty url", url: "", display: "song", mode: "stem"},
		{name: "relative url", url: "/watch?v=1", display: "song", mode: "stem"},
		{name: "unsupported scheme", url: "ftp://example.com/a", display: "song", mode: "stem"},
		{name: "empty name", url: "https://example.com/a", display: "  ", mode: "stem"},
		{name: "name with separator", url: "https://example.com/a", display: "a/b", mode: "stem"},
		{name: "dot name", url: "https://example.com/a", display: "..", mode: "stem"},
		{name: "hidden name", url: "https://example.com/a", display: ".song", mode: "stem"},
		{name: "unknown mode", url: "https://example.com/a", display: "song", mode: "karaoke"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.worker.Submit(context.Background(), tt.url, tt.display, tt.mode)
			assert.ErrorIs(t, err, domain.ErrInvalidJob)
			assert.Empty(t, h.worker.QueueSnapshot().Queue)
		})
	}
}

func TestWorker_SubmitDefaultsToFullPipeline(t *testing.T) {
	h := newHarness(t)

	job, err := h.worker.Submit(context.Background(), " https://example.com/a ", " song ", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeFullPipeline, job.Mode)
	assert.Equal(t, "https://example.com/a", job.SourceURL)
	assert.Equal(t, "song", job.Name)
	assert.Len(t, job.JobID, 36)
}

func TestWorker_CancelOnlyWhileQueued(t *testing.T) {
	h := newHarness(t)

	first := h.submit(t, "https://example.com/a", "first", domain.ModeFetchOnly)
	second := h.submit(t, "https://example.com/b", "second", domain.ModeFetchOnly)

	assert.True(t, h.worker.Cancel(first.JobID))
	assert.False(t, h.worker.Cancel(first.JobID))
	assert.False(t, h.worker.Cancel("unknown"))

	_, err := h.worker.Status(first.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	require.NoError(t, h.worker.Drain(context.Background()))

	assert.Equal(t, domain.StatusDone, h.status(t, second.JobID).Status)
	assert.False(t, h.worker.Cancel(second.JobID))

	completed := h.worker.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, second.JobID, completed[0].JobID)
}

func TestWorker_FullPipelineJobs(t *testing.T) {
	h := newHarness(t)

	first := h.submit(t, "https://example.com/a", "alpha", domain.ModeFullPipeline)
	second := h.submit(t, "https://example.com/b", "beta", domain.ModeFullPipeline)

	require.NoError(t, h.worker.Drain(context.Background()))

	for _, job := range []domain.Job{first, second} {
		report := h.status(t, job.JobID)
		assert.Equal(t, domain.StatusDone, report.Status)
		require.NotNil(t, report.BPM)
		require.NotNil(t, report.Key)
		assert.InDelta(t, 124.0, *report.BPM, 0.001)
		assert.Equal(t, "A minor", *report.Key)

		artifacts, err := h.worker.Artifacts(job.JobID, job.Name)
		require.NoError(t, err)
		assert.Equal(t, []string{
			job.Name + "[bass].wav",
			job.Name + "[drums].wav",
			job.Name + "[full].mp3",
			job.Name + "[melody].wav",
			job.Name + "[vocals].wav",
		}, artifactNames(artifacts))

		// the intermediate download is gone
		assert.NoFileExists(t, filepath.Join(h.storage.SongDir(job.JobID, job.Name), job.Name+".mp3"))
	}

	completed := h.worker.Completed()
	require.Len(t, completed, 2)
	assert.Equal(t, second.JobID, completed[0].JobID)
	assert.Equal(t, first.JobID, completed[1].JobID)
	assert.Len(t, completed[0].Stems, 5)
	assert.Equal(t, "beta", completed[0].SongName)
	assert.Equal(t, "https://example.com/b", completed[0].SourceURL)
	require.NotNil(t, completed[0].BPM)

	assert.Equal(t, []string{
		filepath.Join(h.storage.SongDir(first.JobID, "alpha"), "alpha[drums].wav"),
		filepath.Join(h.storage.SongDir(second.JobID, "beta"), "beta[drums].wav"),
	}, h.analyzer.tempoPaths)
	assert.Equal(t, []string{
		filepath.Join(h.storage.SongDir(first.JobID, "alpha"), "alpha[melody].wav"),
		filepath.Join(h.storage.SongDir(second.JobID, "beta"), "beta[melody].wav"),
	}, h.analyzer.keyPaths)

	assert.Equal(t, []string{
		"job.queued:" + first.JobID,
		"job.queued:" + second.JobID,
		"job.done:" + first.JobID,
		"job.done:" + second.JobID,
	}, h.publisher.names())
}

func TestWorker_StemsTaggedWithTempo(t *testing.T) {
	h := newHarness(t)

	job := h.submit(t, "https://example.com/a", "alpha", domain.ModeFullPipeline)
	clip := h.submit(t, "https://example.com/b", "clip", domain.ModeFetchOnly)
	require.NoError(t, h.worker.Drain(context.Background()))

	assert.Equal(t, domain.StatusDone, h.status(t, job.JobID).Status)
	assert.Equal(t, domain.StatusDone, h.status(t, clip.JobID).Status)
	assert.Equal(t, map[string]float64{
		"alpha[drums].wav":  124.0,
		"alpha[bass].wav":   124.0,
		"alpha[melody].wav": 124.0,
		"alpha[vocals].wav": 124.0,
	}, h.tagger.tagged)
}

func TestWorker_TaggingFailureKeepsJobDone(t *testing.T) {
	h := newHarness(t)
	h.tagger.fail = true

	job := h.submit(t, "https://example.com/a", "alpha", domain.ModeFullPipeline)
	require.NoError(t, h.worker.Drain(context.Background()))

	report := h.status(t, job.JobID)
	assert.Equal(t, domain.StatusDone, report.Status)
	require.NotNil(t, report.BPM)
	assert.InDelta(t, 124.0, *report.BPM, 0.001)
	assert.Len(t, h.worker.Completed(), 1)
}

func TestWorker_KeyFallsBackToFullMix(t *testing.T) {
	h := newHarness(t)
	h.separator.noMelody = true

	job := h.submit(t, "https://example.com/a", "song", domain.ModeFullPipeline)
	require.NoError(t, h.worker.Drain(context.Background()))

	assert.Equal(t, domain.StatusDone, h.status(t, job.JobID).Status)
	assert.Equal(t, []string{
		filepath.Join(h.storage.SongDir(job.JobID, "song"), "song[full].mp3"),
	}, h.analyzer.keyPaths)
}

func TestWorker_FetchOnlyJob(t *testing.T) {
	h := newHarness(t)

	job := h.submit(t, "https://example.com/a", "song", domain.ModeFetchOnly)
	require.NoError(t, h.worker.Drain(context.Background()))

	report := h.status(t, job.JobID)
	assert.Equal(t, domain.StatusDone, report.Status)
	assert.Nil(t, report.BPM)
	assert.Nil(t, report.Key)

	artifacts, err := h.worker.Artifacts(job.JobID, "song")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "song[full].mp3", artifacts[0].Name)
	assert.Equal(t, "/api/v1/jobs/"+job.JobID+"/files/song/song[full].mp3", artifacts[0].URL)

	completed := h.worker.Completed()
	require.Len(t, completed, 1)
	assert.Nil(t, completed[0].BPM)
	assert.Nil(t, completed[0].Key)
	assert.Equal(t, artifacts, completed[0].Stems)
	assert.Empty(t, h.analyzer.tempoPaths)
}

func TestWorker_DurationCeiling(t *testing.T) {
	h := newHarness(t)
	h.fetcher.durations["https://example.com/long"] = 500 * time.Second

	job := h.submit(t, "https://example.com/long", "long", domain.ModeFullPipeline)
	require.NoError(t, h.worker.Drain(context.Background()))

	report := h.status(t, job.JobID)
	assert.Equal(t, domain.StatusError, report.Status)
	assert.Equal(t, "video too long: 8m > 6m limit", report.Error)
	assert.Empty(t, h.worker.Completed())
	assert.Equal(t, []string{
		"job.queued:" + job.JobID,
		"job.error:" + job.JobID,
	}, h.publisher.names())
}

func TestWorker_NegativeMaxDurationDisablesCeiling(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewStorage(t.TempDir(), logger)
	require.NoError(t, err)

	act := &activity{}
	fetcher := &fakeFetcher{activity: act, durations: map[string]time.Duration{
		"https://example.com/long": time.Hour,
	}}
	w := NewWorker(&Config{
		Logger:      logger,
		Storage:     store,
		Fetcher:     fetcher,
		Separator:   &fakeSeparator{activity: act},
		Analyzer:    &fakeAnalyzer{},
		MaxDuration: -time.Second,
	})
	t.Cleanup(w.Stop)

	job, err := w.Submit(context.Background(), "https://example.com/long", "long", "youtube")
	require.NoError(t, err)
	require.NoError(t, w.Drain(context.Background()))

	report, err := w.Status(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, report.Status)
}

func TestWorker_QueuedEventPrecedesOutcome(t *testing.T) {
	h := newHarness(t)
	h.publisher.delays = map[string]time.Duration{events.EventJobQueued: 100 * time.Millisecond}
	h.fetcher.durations["https://example.com/long"] = 500 * time.Second
	require.NoError(t, h.worker.Start(context.Background()))

	job := h.submit(t, "https://example.com/long", "long", domain.ModeFullPipeline)

	require.Eventually(t, func() bool {
		return len(h.publisher.names()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"job.queued:" + job.JobID,
		"job.error:" + job.JobID,
	}, h.publisher.names())
}

func TestWorker_FailedJobDoesNotStopLoop(t *testing.T) {
	h := newHarness(t)
	h.separator.failFor["broken"] = fmt.Errorf("%w: demucs exited 1", domain.ErrSeparationFailed)
	h.separator.panicFor["crash"] = true

	broken := h.submit(t, "https://example.com/a", "broken", domain.ModeFullPipeline)
	crash := h.submit(t, "https://example.com/b", "crash", domain.ModeFullPipeline)
	fine := h.submit(t, "https://example.com/c", "fine", domain.ModeFullPipeline)

	require.NoError(t, h.worker.Start(context.Background()))
	require.Eventually(t, func() bool {
		report, err := h.worker.Status(fine.JobID)
		return err == nil && report.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	report := h.status(t, broken.JobID)
	assert.Equal(t, domain.StatusError, report.Status)
	assert.Equal(t, "separation failed: demucs exited 1", report.Error)

	report = h.status(t, crash.JobID)
	assert.Equal(t, domain.StatusError, report.Status)
	assert.Equal(t, "internal error: boom", report.Error)

	assert.Equal(t, domain.StatusDone, h.status(t, fine.JobID).Status)

	completed := h.worker.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, fine.JobID, completed[0].JobID)
}

func TestWorker_LoopProcessesOneJobAtATime(t *testing.T) {
	h := newHarness(t)
	h.fetcher.delay = 20 * time.Millisecond

	require.NoError(t, h.worker.Start(context.Background()))

	var jobs []domain.Job
	for i := 0; i < 4; i++ {
		jobs = append(jobs, h.submit(t, fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("song%d", i), domain.ModeFullPipeline))
	}

	require.Eventually(t, func() bool {
		return len(h.worker.Completed()) == len(jobs)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), h.activity.max.Load())

	completed := h.worker.Completed()
	for i, summary := range completed {
		assert.Equal(t, jobs[len(jobs)-1-i].JobID, summary.JobID)
	}

	require.Eventually(t, func() bool {
		snapshot := h.worker.QueueSnapshot()
		return len(snapshot.Queue) == 0 && snapshot.Current == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWorker_ArtifactsMatchDirectory(t *testing.T) {
	h := newHarness(t)

	job := h.submit(t, "https://example.com/a", "song", domain.ModeFullPipeline)
	require.NoError(t, h.worker.Drain(context.Background()))

	dir := h.storage.SongDir(job.JobID, "song")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var want []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			want = append(want, entry.Name())
		}
	}
	sort.Strings(want)

	artifacts, err := h.worker.Artifacts(job.JobID, "song")
	require.NoError(t, err)
	assert.Equal(t, want, artifactNames(artifacts))

	_, err = h.worker.Artifacts(job.JobID, "../..")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestWorker_CompletedPage(t *testing.T) {
	h := newHarness(t)

	var jobs []domain.Job
	for i := 0; i < 3; i++ {
		jobs = append(jobs, h.submit(t, fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("song%d", i), domain.ModeFetchOnly))
	}
	require.NoError(t, h.worker.Drain(context.Background()))

	page, next, err := h.worker.CompletedPage("", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, jobs[2].JobID, page[0].JobID)
	require.NotEmpty(t, next)

	page, next, err = h.worker.CompletedPage(next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, jobs[0].JobID, page[0].JobID)
	assert.Empty(t, next)

	_, _, err = h.worker.CompletedPage("!!!", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
}

func TestWorker_SingleWorkerPerOutputRoot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.Start(context.Background()))

	other := NewWorker(&Config{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage:   h.storage,
		Fetcher:   h.fetcher,
		Separator: h.separator,
		Analyzer:  h.analyzer,
	})
	err := other.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another worker")

	assert.Error(t, h.worker.Start(context.Background()))
}

func TestWorker_SubmitAfterStop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.worker.Start(context.Background()))
	h.worker.Stop()

	_, err := h.worker.Submit(context.Background(), "https://example.com/a", "song", "stem")
	assert.ErrorIs(t, err, domain.ErrWorkerStopped)
	assert.ErrorIs(t, h.worker.Start(context.Background()), domain.ErrWorkerStopped)
}

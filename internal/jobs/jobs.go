// Package jobs runs transcription jobs in the background and hands the
// caller a per-job handle for progress polling. Each handle owns its
// own progress state; there are no process-wide progress or result
// maps, and no synchronization is shared between jobs.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/events"
	"github.com/snarg/vidscribe/internal/metrics"
	"github.com/snarg/vidscribe/internal/pipeline"
	"github.com/snarg/vidscribe/internal/storage"
	"github.com/snarg/vidscribe/internal/store"
)

// State is a job's lifecycle phase.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Snapshot is a point-in-time view of a job, safe to serialize.
type Snapshot struct {
	ID         string           `json:"job_id"`
	SourceName string           `json:"source_name"`
	State      State            `json:"state"`
	Label      string           `json:"label"`
	Percentage float64          `json:"percentage"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	Result     *pipeline.Result `json:"result,omitempty"`
}

// Job is the caller-owned handle for one submitted run.
type Job struct {
	ID string

	mu      sync.RWMutex
	snap    Snapshot
	updates chan progressUpdate
	drained chan struct{}
	done    chan struct{}
}

type progressUpdate struct {
	label string
	pct   float64
}

// Snapshot returns the current state of the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snap
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// RunFunc executes one transcription run. Implemented by
// pipeline.Pipeline.TranscribeAndAnalyze via a small closure in the
// server binary; tests substitute fakes.
type RunFunc func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error)

// Options configures the manager. Artifacts, History, and Events are
// optional; nil disables the corresponding side effect.
type Options struct {
	Run       RunFunc
	Artifacts storage.ArtifactStore
	History   *store.DB
	Events    *events.Publisher
	Workers   int
	Log       zerolog.Logger
}

// Manager launches and tracks jobs.
type Manager struct {
	opts Options
	sem  chan struct{}
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	wg sync.WaitGroup
}

// NewManager creates a job manager with bounded worker concurrency.
func NewManager(opts Options) *Manager {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		opts: opts,
		sem:  make(chan struct{}, workers),
		log:  opts.Log.With().Str("component", "jobs").Logger(),
		jobs: make(map[string]*Job),
	}
}

// SubmitRequest describes one background run.
type SubmitRequest struct {
	VideoPath    string
	SourceName   string
	Model        string
	Language     string
	Analyze      bool
	RemoveSource bool // delete VideoPath when the job ends (uploaded files)
}

// Submit registers a job and starts it in the background.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) *Job {
	j := &Job{
		ID:      uuid.NewString(),
		updates: make(chan progressUpdate, 16),
		drained: make(chan struct{}),
		done:    make(chan struct{}),
	}
	j.snap = Snapshot{
		ID:         j.ID,
		SourceName: req.SourceName,
		State:      StateProcessing,
		Label:      "Queued...",
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	m.opts.Events.Publish(events.Event{JobID: j.ID, Type: "submitted"})

	m.wg.Add(1)
	// The job must outlive the submitting request: detach from the
	// caller's cancellation while keeping its values. Lifetime is
	// bounded by Wait, not by the submitter.
	go m.run(context.WithoutCancel(ctx), j, req)
	go j.drain()

	return j
}

// Get returns the handle for a job id, or nil when unknown.
func (m *Manager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Wait blocks until all in-flight jobs finish. Used during shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

// drain applies progress updates to the snapshot until the channel closes.
func (j *Job) drain() {
	defer close(j.drained)
	for u := range j.updates {
		j.mu.Lock()
		j.snap.Label = u.label
		j.snap.Percentage = u.pct
		j.mu.Unlock()
	}
}

func (m *Manager) run(ctx context.Context, j *Job, req SubmitRequest) {
	defer m.wg.Done()
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	start := time.Now()
	log := m.log.With().Str("job_id", j.ID).Str("source", req.SourceName).Logger()

	// The pipeline's synchronous callback feeds the handle through a
	// buffered channel; a burst of milestones never blocks the pipeline.
	progress := func(label string, pct float64) {
		select {
		case j.updates <- progressUpdate{label, pct}:
		default:
		}
		m.opts.Events.Publish(events.Event{
			JobID: j.ID, Type: "progress", Label: label, Percentage: pct,
		})
	}

	result, err := m.opts.Run(ctx, pipeline.Request{
		VideoPath: req.VideoPath,
		Model:     req.Model,
		Language:  req.Language,
	}, req.Analyze, progress)

	// Let drain apply every buffered milestone before the terminal
	// snapshot is written, so a stale update can't overwrite it.
	close(j.updates)
	<-j.drained

	if req.RemoveSource {
		os.Remove(req.VideoPath)
	}

	elapsed := time.Since(start)
	metrics.JobDuration.Observe(elapsed.Seconds())

	if err != nil {
		kind := pipeline.ErrorKind(err)
		metrics.JobsTotal.WithLabelValues(kind).Inc()
		log.Error().Err(err).Str("kind", kind).Dur("elapsed", elapsed).Msg("job failed")

		j.mu.Lock()
		j.snap.State = StateFailed
		j.snap.ErrorKind = kind
		j.snap.Error = err.Error()
		j.mu.Unlock()
		close(j.done)

		m.opts.Events.Publish(events.Event{JobID: j.ID, Type: "failed", ErrorKind: kind})
		m.recordFailed(ctx, j, req, kind)
		return
	}

	srtKey, analysisKey := m.saveArtifacts(ctx, log, j.ID, req.SourceName, result)

	metrics.JobsTotal.WithLabelValues("completed").Inc()
	log.Info().Dur("elapsed", elapsed).Msg("job completed")

	j.mu.Lock()
	j.snap.State = StateCompleted
	j.snap.Label = "Transcription complete."
	j.snap.Percentage = 100
	j.snap.Result = result
	j.mu.Unlock()
	close(j.done)

	m.opts.Events.Publish(events.Event{JobID: j.ID, Type: "completed", Percentage: 100})
	m.recordCompleted(ctx, j, req, result, srtKey, analysisKey)
}

// saveArtifacts writes the SRT and, when present, the analysis record
// through the artifact store. Failures are logged, not fatal: the
// result still lives on the job handle.
func (m *Manager) saveArtifacts(ctx context.Context, log zerolog.Logger, jobID, sourceName string, result *pipeline.Result) (srtKey, analysisKey string) {
	if m.opts.Artifacts == nil {
		return "", ""
	}

	base := filepath.Base(strings.TrimSuffix(sourceName, filepath.Ext(sourceName)))
	if base == "" || base == "." {
		base = "transcription"
	}

	srtKey = jobID + "/" + base + ".srt"
	if err := m.opts.Artifacts.Save(ctx, srtKey, []byte(result.Subtitles), "application/x-subrip"); err != nil {
		log.Error().Err(err).Msg("failed to save srt artifact")
		srtKey = ""
	}

	if result.Analysis != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Analysis); err != nil {
			log.Error().Err(err).Msg("failed to encode analysis record")
		} else {
			analysisKey = jobID + "/" + base + "_analysis.json"
			if err := m.opts.Artifacts.Save(ctx, analysisKey, buf.Bytes(), "application/json; charset=utf-8"); err != nil {
				log.Error().Err(err).Msg("failed to save analysis artifact")
				analysisKey = ""
			}
		}
	}
	return srtKey, analysisKey
}

func (m *Manager) recordFailed(ctx context.Context, j *Job, req SubmitRequest, errorKind string) {
	if m.opts.History == nil {
		return
	}
	rec := store.Record{
		JobID:      j.ID,
		SourceName: req.SourceName,
		Model:      req.Model,
		Language:   req.Language,
		Status:     "failed",
		ErrorKind:  errorKind,
	}
	if err := m.opts.History.Save(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("job_id", j.ID).Msg("failed to record job history")
	}
}

func (m *Manager) recordCompleted(ctx context.Context, j *Job, req SubmitRequest, result *pipeline.Result, srtKey, analysisKey string) {
	if m.opts.History == nil {
		return
	}
	words := 0
	if result.Analysis != nil {
		words = result.Analysis.WordCount
	} else {
		words = len(strings.Fields(result.Subtitles))
	}
	rec := store.Record{
		JobID:        j.ID,
		SourceName:   req.SourceName,
		Model:        req.Model,
		Language:     req.Language,
		Status:       "completed",
		SRTPath:      srtKey,
		AnalysisPath: analysisKey,
		WordCount:    words,
	}
	if err := m.opts.History.Save(ctx, rec); err != nil {
		m.log.Error().Err(err).Str("job_id", j.ID).Msg("failed to record job history")
	}
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/config"
	"github.com/snarg/vidscribe/internal/engine"
	"github.com/snarg/vidscribe/internal/jobs"
	"github.com/snarg/vidscribe/internal/store"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// TranscriptionHandler serves the /api/v1/transcriptions routes.
type TranscriptionHandler struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger
}

func NewTranscriptionHandler(cfg *config.Config, deps Deps, log zerolog.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		cfg:  cfg,
		deps: deps,
		log:  log.With().Str("handler", "transcriptions").Logger(),
	}
}

func (h *TranscriptionHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"models":  engine.Models(),
		"default": h.cfg.DefaultModel,
	})
}

func (h *TranscriptionHandler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"languages": engine.Languages(),
		"default":   h.cfg.DefaultLang,
	})
}

type createResponse struct {
	JobID string     `json:"job_id"`
	State jobs.State `json:"state"`
}

// Create handles POST /api/v1/transcriptions: a multipart upload with
// the video under "video_file" and optional model/language/analyze
// fields. The upload is written to the upload directory and a
// background job is started; the file is removed when the job ends.
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "missing video_file field")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !videoExtensions[ext] {
		writeErrorKind(w, r, http.StatusBadRequest, "unsupported file type: "+ext, "validation")
		return
	}

	model := r.FormValue("model")
	if model == "" {
		model = h.cfg.DefaultModel
	}
	if !engine.ValidModel(model) {
		writeErrorKind(w, r, http.StatusBadRequest, "invalid model: "+model, "validation")
		return
	}
	language := r.FormValue("language")
	if language == "" {
		language = h.cfg.DefaultLang
	}
	analyze := h.deps.Brain != nil
	if v := r.FormValue("analyze"); v != "" {
		analyze = analyze && v != "false" && v != "0"
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}
	// Prefix with a random id so concurrent uploads of the same
	// filename never collide.
	dstPath := filepath.Join(h.cfg.UploadDir, uuid.NewString()[:8]+"_"+filepath.Base(header.Filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dstPath)
		writeError(w, r, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		writeError(w, r, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job := h.deps.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		VideoPath:    dstPath,
		SourceName:   header.Filename,
		Model:        model,
		Language:     language,
		Analyze:      analyze,
		RemoveSource: true,
	})

	h.log.Info().
		Str("job_id", job.ID).
		Str("file", header.Filename).
		Str("model", model).
		Msg("transcription job submitted")

	writeJSON(w, r, http.StatusAccepted, createResponse{JobID: job.ID, State: jobs.StateProcessing})
}

// Get returns the current snapshot of a job, falling back to the
// history store for jobs from previous server runs.
func (h *TranscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if job := h.deps.Jobs.Get(jobID); job != nil {
		writeJSON(w, r, http.StatusOK, job.Snapshot())
		return
	}

	rec, err := h.historyRecord(r, jobID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, r, http.StatusOK, snapshotFromRecord(rec))
}

func snapshotFromRecord(rec *store.Record) jobs.Snapshot {
	snap := jobs.Snapshot{
		ID:         rec.JobID,
		SourceName: rec.SourceName,
		State:      jobs.State(rec.Status),
		ErrorKind:  rec.ErrorKind,
	}
	if rec.Status == string(jobs.StateCompleted) {
		snap.Percentage = 100
		snap.Label = "SRT generated"
	}
	return snap
}

// DownloadSRT serves the finished subtitle file.
func (h *TranscriptionHandler) DownloadSRT(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if job := h.deps.Jobs.Get(jobID); job != nil {
		snap := job.Snapshot()
		switch snap.State {
		case jobs.StateProcessing:
			writeError(w, r, http.StatusConflict, "job still processing")
			return
		case jobs.StateFailed:
			writeErrorKind(w, r, http.StatusNotFound, "job failed: "+snap.Error, snap.ErrorKind)
			return
		}
		if snap.Result == nil {
			writeError(w, r, http.StatusNotFound, "job has no transcript")
			return
		}
		serveSRT(w, snap.SourceName, strings.NewReader(snap.Result.Subtitles))
		return
	}

	rec, err := h.historyRecord(r, jobID)
	if err != nil || rec.SRTPath == "" {
		writeError(w, r, http.StatusNotFound, "job not found")
		return
	}
	rc, err := h.deps.Artifacts.Open(r.Context(), rec.SRTPath)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "subtitle artifact not found")
		return
	}
	defer rc.Close()
	serveSRT(w, rec.SourceName, rc)
}

func serveSRT(w http.ResponseWriter, sourceName string, body io.Reader) {
	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	w.Header().Set("Content-Type", "application/x-subrip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+base+`.srt"`)
	io.Copy(w, body)
}

// GetAnalysis returns the content-analysis record for a completed job.
func (h *TranscriptionHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if job := h.deps.Jobs.Get(jobID); job != nil {
		snap := job.Snapshot()
		if snap.State == jobs.StateProcessing {
			writeError(w, r, http.StatusConflict, "job still processing")
			return
		}
		if snap.Result == nil || snap.Result.Analysis == nil {
			writeError(w, r, http.StatusNotFound, "no analysis for this job")
			return
		}
		writeJSON(w, r, http.StatusOK, snap.Result.Analysis)
		return
	}

	rec, err := h.historyRecord(r, jobID)
	if err != nil || rec.AnalysisPath == "" {
		writeError(w, r, http.StatusNotFound, "no analysis for this job")
		return
	}
	rc, err := h.deps.Artifacts.Open(r.Context(), rec.AnalysisPath)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "analysis artifact not found")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/json")
	io.Copy(w, rc)
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	JobID    string `json:"job_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Ask answers a free-form question about a completed transcription.
func (h *TranscriptionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.deps.Brain == nil {
		writeError(w, r, http.StatusNotImplemented, "content analysis is not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, "body must be JSON with a non-empty question field")
		return
	}

	jobID := chi.URLParam(r, "jobID")
	transcript, status, msg := h.transcript(r, jobID)
	if status != http.StatusOK {
		writeError(w, r, status, msg)
		return
	}

	answer, err := h.deps.Brain.Answer(r.Context(), transcript, req.Question)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("ask failed")
		writeError(w, r, http.StatusBadGateway, "analysis backend failed: "+err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, askResponse{JobID: jobID, Question: req.Question, Answer: answer})
}

// transcript resolves the SRT text for a completed job, from the live
// job handle or the artifact store.
func (h *TranscriptionHandler) transcript(r *http.Request, jobID string) (string, int, string) {
	if job := h.deps.Jobs.Get(jobID); job != nil {
		snap := job.Snapshot()
		if snap.State == jobs.StateProcessing {
			return "", http.StatusConflict, "job still processing"
		}
		if snap.Result == nil {
			return "", http.StatusNotFound, "job has no transcript"
		}
		return snap.Result.Subtitles, http.StatusOK, ""
	}

	rec, err := h.historyRecord(r, jobID)
	if err != nil || rec.SRTPath == "" {
		return "", http.StatusNotFound, "job not found"
	}
	rc, err := h.deps.Artifacts.Open(r.Context(), rec.SRTPath)
	if err != nil {
		return "", http.StatusNotFound, "subtitle artifact not found"
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", http.StatusInternalServerError, "failed to read subtitle artifact"
	}
	return string(data), http.StatusOK, ""
}

// ListRecent returns recent job history, newest first.
func (h *TranscriptionHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"jobs": []store.Record{}})
		return
	}
	recs, err := h.deps.History.Recent(r.Context(), 50)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to read job history")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"jobs": recs})
}

func (h *TranscriptionHandler) historyRecord(r *http.Request, jobID string) (*store.Record, error) {
	if h.deps.History == nil {
		return nil, store.ErrNotFound
	}
	return h.deps.History.Get(r.Context(), jobID)
}

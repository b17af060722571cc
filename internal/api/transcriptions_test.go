package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/config"
	"github.com/snarg/vidscribe/internal/jobs"
	"github.com/snarg/vidscribe/internal/pipeline"
)

const testSRT = "1\n00:00:00,000 --> 00:00:02,500\nhello world\n\n"

func okRun(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
	progress("SRT generated", 100)
	return &pipeline.Result{
		Subtitles: testSRT,
		VideoPath: req.VideoPath,
		Model:     req.Model,
		Language:  req.Language,
	}, nil
}

type fakeAnswerer struct {
	answer string
	err    error
}

func (f *fakeAnswerer) Answer(ctx context.Context, transcript, question string) (string, error) {
	return f.answer, f.err
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config, deps *Deps)) (*httptest.Server, *jobs.Manager) {
	t.Helper()
	log := zerolog.Nop()
	mgr := jobs.NewManager(jobs.Options{Run: okRun, Workers: 2, Log: log})
	cfg := &config.Config{
		UploadDir:    t.TempDir(),
		MaxUploadMB:  10,
		DefaultModel: "base",
		DefaultLang:  "auto",
	}
	deps := Deps{
		Jobs:      mgr,
		Brain:     &fakeAnswerer{answer: "a greeting"},
		Version:   "test",
		StartTime: time.Now(),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	srv := NewServer(cfg, deps, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mgr
}

func uploadBody(t *testing.T, field, filename string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("not really a video"))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func submitJob(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, ct := uploadBody(t, "video_file", "talk.mp4")
	resp, err := http.Post(ts.URL+"/api/v1/transcriptions", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var created createResponse
	decodeBody(t, resp, &created)
	if created.JobID == "" {
		t.Fatal("empty job_id in response")
	}
	return created.JobID
}

func waitDone(t *testing.T, mgr *jobs.Manager, id string) {
	t.Helper()
	job := mgr.Get(id)
	if job == nil {
		t.Fatalf("job %s not found", id)
	}
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var health HealthResponse
	decodeBody(t, resp, &health)
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.Checks["analysis"] != "enabled" {
		t.Errorf("analysis check = %q, want enabled", health.Checks["analysis"])
	}
}

func TestListModels(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/models")
	if err != nil {
		t.Fatalf("GET models: %v", err)
	}
	var body struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	decodeBody(t, resp, &body)
	if body.Default != "base" {
		t.Errorf("default = %q, want base", body.Default)
	}
	found := false
	for _, m := range body.Models {
		if m == "large-v2" {
			found = true
		}
	}
	if !found {
		t.Errorf("models %v missing large-v2", body.Models)
	}
}

func TestCreateAndFetch(t *testing.T) {
	ts, mgr := newTestServer(t, nil)

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	resp, err := http.Get(ts.URL + "/api/v1/transcriptions/" + id)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	var snap jobs.Snapshot
	decodeBody(t, resp, &snap)
	if snap.State != jobs.StateCompleted {
		t.Errorf("state = %q, want completed", snap.State)
	}
	if snap.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", snap.Percentage)
	}
}

func TestDownloadSRT(t *testing.T) {
	ts, mgr := newTestServer(t, nil)

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	resp, err := http.Get(ts.URL + "/api/v1/transcriptions/" + id + "/srt")
	if err != nil {
		t.Fatalf("GET srt: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-subrip" {
		t.Errorf("content type = %q, want application/x-subrip", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.String() != testSRT {
		t.Errorf("srt body = %q, want %q", buf.String(), testSRT)
	}
}

func TestCreateRejectsUnsupportedExtension(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, ct := uploadBody(t, "video_file", "notes.txt")
	resp, err := http.Post(ts.URL+"/api/v1/transcriptions", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var er errorResponse
	decodeBody(t, resp, &er)
	if er.Kind != "validation" {
		t.Errorf("kind = %q, want validation", er.Kind)
	}
}

func TestCreateRejectsMissingFile(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body, ct := uploadBody(t, "wrong_field", "talk.mp4")
	resp, err := http.Post(ts.URL+"/api/v1/transcriptions", ct, body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGetUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/v1/transcriptions/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestAsk(t *testing.T) {
	ts, mgr := newTestServer(t, nil)

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	resp, err := http.Post(ts.URL+"/api/v1/transcriptions/"+id+"/ask",
		"application/json", strings.NewReader(`{"question":"what is said?"}`))
	if err != nil {
		t.Fatalf("POST ask: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var ans askResponse
	decodeBody(t, resp, &ans)
	if ans.Answer != "a greeting" {
		t.Errorf("answer = %q, want %q", ans.Answer, "a greeting")
	}
}

func TestAskWithoutBrain(t *testing.T) {
	ts, mgr := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		deps.Brain = nil
	})

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	resp, err := http.Post(ts.URL+"/api/v1/transcriptions/"+id+"/ask",
		"application/json", strings.NewReader(`{"question":"hm?"}`))
	if err != nil {
		t.Fatalf("POST ask: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	ts, mgr := newTestServer(t, nil)

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	resp, err := http.Post(ts.URL+"/api/v1/transcriptions/"+id+"/ask",
		"application/json", strings.NewReader(`{"question":"  "}`))
	if err != nil {
		t.Fatalf("POST ask: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestBearerAuth(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		cfg.AuthToken = "sekrit"
	})

	resp, err := http.Get(ts.URL + "/api/v1/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Health stays open without a token.
	resp, err = http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestSRTWhileProcessing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slowRun := func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		close(started)
		<-release
		return &pipeline.Result{Subtitles: testSRT}, nil
	}
	ts, _ := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		deps.Jobs = jobs.NewManager(jobs.Options{Run: slowRun, Workers: 1, Log: zerolog.Nop()})
	})
	defer close(release)

	id := submitJob(t, ts)
	<-started

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/transcriptions/%s/srt", ts.URL, id))
	if err != nil {
		t.Fatalf("GET srt: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

// An uploaded job runs under a context that outlives the upload
// request; a pipeline that honors cancellation must still complete
// after the 202 response is sent.
func TestUploadedJobOutlivesRequest(t *testing.T) {
	ctxRun := func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		return &pipeline.Result{Subtitles: testSRT}, nil
	}
	var mgr *jobs.Manager
	ts, _ := newTestServer(t, func(cfg *config.Config, deps *Deps) {
		mgr = jobs.NewManager(jobs.Options{Run: ctxRun, Workers: 1, Log: zerolog.Nop()})
		deps.Jobs = mgr
	})

	id := submitJob(t, ts)
	waitDone(t, mgr, id)

	snap := mgr.Get(id).Snapshot()
	if snap.State != jobs.StateCompleted {
		t.Fatalf("state = %q (kind=%q err=%q), want %q",
			snap.State, snap.ErrorKind, snap.Error, jobs.StateCompleted)
	}
}

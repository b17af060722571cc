package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/brain"
	"github.com/snarg/vidscribe/internal/pipeline"
	"github.com/snarg/vidscribe/internal/storage"
)

func okRun(srt string) RunFunc {
	return func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		if progress != nil {
			progress("working", 50)
			progress("done", 100)
		}
		res := &pipeline.Result{
			Subtitles: srt, VideoPath: req.VideoPath,
			Model: req.Model, Language: req.Language, AnalysisEnabled: analyze,
		}
		if analyze {
			res.Analysis = &brain.AnalysisRecord{Summary: "resumo", WordCount: 2}
		}
		return res, nil
	}
}

func failRun(err error) RunFunc {
	return func(context.Context, pipeline.Request, bool, pipeline.ProgressFunc) (*pipeline.Result, error) {
		return nil, err
	}
}

func waitDone(t *testing.T, j *Job) Snapshot {
	t.Helper()
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish within 5s")
	}
	return j.Snapshot()
}

func TestSubmitAndComplete(t *testing.T) {
	m := NewManager(Options{Run: okRun("1\n...\n"), Workers: 1, Log: zerolog.Nop()})

	j := m.Submit(context.Background(), SubmitRequest{
		VideoPath: "/tmp/in.mp4", SourceName: "in.mp4", Model: "base", Language: "pt",
	})
	if j.ID == "" {
		t.Fatal("job has no id")
	}
	if got := m.Get(j.ID); got != j {
		t.Error("Get did not return the submitted handle")
	}

	snap := waitDone(t, j)
	if snap.State != StateCompleted {
		t.Fatalf("state = %s, want completed (%+v)", snap.State, snap)
	}
	if snap.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", snap.Percentage)
	}
	if snap.Result == nil || snap.Result.Subtitles != "1\n...\n" {
		t.Errorf("result = %+v", snap.Result)
	}
}

func TestSubmitFailureKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{fmt.Errorf("%w: /x.mp4", pipeline.ErrNotFound), "not_found"},
		{&pipeline.ValidationError{Reason: "no audio"}, "validation"},
		{&pipeline.UnexpectedError{Stage: "transcription", Err: errors.New("boom")}, "unexpected"},
	}
	for _, tc := range cases {
		m := NewManager(Options{Run: failRun(tc.err), Workers: 1, Log: zerolog.Nop()})
		j := m.Submit(context.Background(), SubmitRequest{SourceName: "x.mp4", Model: "base"})
		snap := waitDone(t, j)
		if snap.State != StateFailed {
			t.Errorf("%s: state = %s, want failed", tc.kind, snap.State)
		}
		if snap.ErrorKind != tc.kind {
			t.Errorf("ErrorKind = %q, want %q", snap.ErrorKind, tc.kind)
		}
	}
}

func TestGetUnknown(t *testing.T) {
	m := NewManager(Options{Run: okRun(""), Workers: 1, Log: zerolog.Nop()})
	if m.Get("missing") != nil {
		t.Error("Get(missing) != nil")
	}
}

func TestRemoveSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "upload.mp4")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewManager(Options{Run: okRun("srt"), Workers: 1, Log: zerolog.Nop()})
	j := m.Submit(context.Background(), SubmitRequest{
		VideoPath: src, SourceName: "upload.mp4", Model: "base", RemoveSource: true,
	})
	waitDone(t, j)
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("uploaded source file not removed after job end")
	}
}

func TestArtifactsWritten(t *testing.T) {
	arts := storage.NewLocalStore(t.TempDir())
	m := NewManager(Options{Run: okRun("srt body"), Artifacts: arts, Workers: 1, Log: zerolog.Nop()})

	j := m.Submit(context.Background(), SubmitRequest{
		SourceName: "talk.mp4", Model: "base", Language: "pt", Analyze: true,
	})
	waitDone(t, j)

	ctx := context.Background()
	if !arts.Exists(ctx, j.ID+"/talk.srt") {
		t.Error("srt artifact missing")
	}
	if !arts.Exists(ctx, j.ID+"/talk_analysis.json") {
		t.Error("analysis artifact missing")
	}
	data, err := os.ReadFile(arts.LocalPath(j.ID + "/talk_analysis.json"))
	if err != nil {
		t.Fatalf("read analysis: %v", err)
	}
	if !strings.Contains(string(data), "resumo") {
		t.Errorf("analysis artifact = %s", data)
	}
}

// A job submitted with a short-lived context (an HTTP request's, say)
// must keep running after that context is canceled.
func TestJobOutlivesSubmitterContext(t *testing.T) {
	run := func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		return &pipeline.Result{Subtitles: "1\n...\n"}, nil
	}
	m := NewManager(Options{Run: run, Workers: 1, Log: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	j := m.Submit(ctx, SubmitRequest{SourceName: "in.mp4", Model: "base"})
	cancel()

	snap := waitDone(t, j)
	if snap.State != StateCompleted {
		t.Fatalf("state = %q (kind=%q err=%q), want %q",
			snap.State, snap.ErrorKind, snap.Error, StateCompleted)
	}
}

// The terminal snapshot must not be overwritten by a milestone that was
// still sitting in the progress buffer when the run finished.
func TestTerminalSnapshotWinsOverBufferedProgress(t *testing.T) {
	run := func(ctx context.Context, req pipeline.Request, analyze bool, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		for i := 0; i < 10; i++ {
			progress(fmt.Sprintf("milestone %d", i), float64(i*10))
		}
		return &pipeline.Result{Subtitles: "1\n...\n"}, nil
	}
	m := NewManager(Options{Run: run, Workers: 1, Log: zerolog.Nop()})

	for i := 0; i < 20; i++ {
		j := m.Submit(context.Background(), SubmitRequest{SourceName: "in.mp4", Model: "base"})
		snap := waitDone(t, j)
		if snap.Label != "Transcription complete." || snap.Percentage != 100 {
			t.Fatalf("terminal snapshot overwritten: label=%q pct=%v", snap.Label, snap.Percentage)
		}
	}
}

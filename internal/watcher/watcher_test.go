package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// collectSubmits gathers submitted paths behind a mutex.
type collectSubmits struct {
	mu    sync.Mutex
	paths []string
}

func (c *collectSubmits) submit(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collectSubmits) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcher_SubmitsVideoAfterSettle(t *testing.T) {
	dir := t.TempDir()
	c := &collectSubmits{}
	w := New(dir, c.submit, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	video := filepath.Join(dir, "drop.mp4")
	if err := os.WriteFile(video, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool { return len(c.snapshot()) == 1 }, 10*time.Second)
	if got := c.snapshot()[0]; got != video {
		t.Errorf("submitted = %q, want %q", got, video)
	}
}

func TestWatcher_SkipsNonVideo(t *testing.T) {
	dir := t.TempDir()
	c := &collectSubmits{}
	w := New(dir, c.submit, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		_, skipped := w.Stats()
		return skipped >= 1
	}, 10*time.Second)
	if len(c.snapshot()) != 0 {
		t.Errorf("submitted = %v, want none", c.snapshot())
	}
}

func TestWatcher_StopIsIdempotentWithPendingTimer(t *testing.T) {
	dir := t.TempDir()
	c := &collectSubmits{}
	w := New(dir, c.submit, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Stop before the settle delay elapses; the pending timer must not fire.
	w.Stop()
}

func TestWatcher_BackfillsExistingVideos(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "incoming")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Files present before the watcher starts, e.g. dropped while the
	// service was down.
	existing := filepath.Join(dir, "old.mp4")
	nested := filepath.Join(sub, "older.mkv")
	for _, p := range []string{existing, nested} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := &collectSubmits{}
	w := New(dir, c.submit, zerolog.Nop())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return len(c.snapshot()) == 2 }, 10*time.Second)
	got := map[string]bool{}
	for _, p := range c.snapshot() {
		got[p] = true
	}
	if !got[existing] || !got[nested] {
		t.Errorf("backfilled = %v, want %q and %q", c.snapshot(), existing, nested)
	}
}

// Package watcher monitors a drop directory for new video files and
// submits each settled file as a transcription job.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// videoExts are the container extensions accepted from the drop directory.
var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

// settleDelay coalesces rapid Create+Write bursts while a file is still
// being copied in.
const settleDelay = 2 * time.Second

// SubmitFunc receives the path of a settled video file.
type SubmitFunc func(path string)

// Watcher monitors a directory tree for incoming videos.
type Watcher struct {
	dir    string
	submit SubmitFunc
	log    zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesSubmitted atomic.Int64
	filesSkipped   atomic.Int64
}

// New creates a watcher over dir.
func New(dir string, submit SubmitFunc, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:            dir,
		submit:         submit,
		log:            log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes the fsnotify watcher, adds all existing
// directories, and begins watching for new files.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	dirCount := 0
	backfill := 0
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
			return nil
		}
		// Backfill: videos dropped while the watcher was down go
		// through the same settle/submit path as live events.
		if videoExts[strings.ToLower(filepath.Ext(path))] {
			w.schedule(path)
			backfill++
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.log.Info().
		Int("directories", dirCount).
		Int("backfill", backfill).
		Str("watch_dir", w.dir).
		Msg("file watcher started")

	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()
	w.log.Info().
		Int64("files_submitted", w.filesSubmitted.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("file watcher stopped")
}

// Stats returns submitted/skipped counters.
func (w *Watcher) Stats() (submitted, skipped int64) {
	return w.filesSubmitted.Load(), w.filesSkipped.Load()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}

	// New subdirectory: watch it too.
	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.watcher.Add(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new directory")
			}
			return
		}
	}

	if !videoExts[strings.ToLower(filepath.Ext(ev.Name))] {
		w.filesSkipped.Add(1)
		return
	}

	w.schedule(ev.Name)
}

// schedule (re)arms the per-path debounce timer; the file is submitted
// only after events stop arriving for settleDelay.
func (w *Watcher) schedule(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(settleDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.filesSubmitted.Add(1)
		w.log.Info().Str("path", path).Msg("submitting dropped video")
		w.submit(path)
	})
}

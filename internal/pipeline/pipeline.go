// Package pipeline implements the progressive subtitle-generation job:
// video → audio extraction → speech-to-text → SRT formatting, with a
// cooperative progress callback and a fixed failure taxonomy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/engine"
	"github.com/snarg/vidscribe/internal/media"
	"github.com/snarg/vidscribe/internal/metrics"
	"github.com/snarg/vidscribe/internal/subtitle"
)

// ProgressFunc receives a human-readable phase label and a 0-100
// completion percentage. It is called synchronously on the job's
// goroutine; a nil callback disables reporting.
type ProgressFunc func(label string, percentage float64)

// Extractor produces a standalone audio file from a video container.
// The returned cleanup removes the file and is safe to call repeatedly.
type Extractor interface {
	Extract(ctx context.Context, videoPath string) (audioPath string, cleanup func(), err error)
}

// Request describes one transcription job.
type Request struct {
	VideoPath string
	Model     string // one of engine.Models()
	Language  string // recognized code, or empty/"auto" for detection
}

// StageTimeouts bounds each external call. Zero disables the bound for
// that stage.
type StageTimeouts struct {
	Load       time.Duration
	Extract    time.Duration
	Transcribe time.Duration
}

// Pipeline runs transcription jobs. It is stateless across jobs and
// safe for concurrent use; each call owns exactly one temp audio file.
type Pipeline struct {
	extractor Extractor
	engine    engine.Engine
	timeouts  StageTimeouts
	log       zerolog.Logger
}

// New creates a pipeline over the given extractor and engine.
func New(ext Extractor, eng engine.Engine, timeouts StageTimeouts, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		extractor: ext,
		engine:    eng,
		timeouts:  timeouts,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Transcribe runs the full job and returns the SRT document.
//
// Milestones, in order: model load 5/10, audio export 20/30,
// transcription 40/90, formatting 100. Failures surface as ErrNotFound,
// *ValidationError, or *UnexpectedError; the temp audio file is removed
// on every exit path.
func (p *Pipeline) Transcribe(ctx context.Context, req Request, progress ProgressFunc) (string, error) {
	report := func(label string, pct float64) {
		if progress != nil {
			progress(label, pct)
		}
	}

	if _, err := os.Stat(req.VideoPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, req.VideoPath)
	}
	if !engine.ValidModel(req.Model) {
		return "", &ValidationError{Reason: fmt.Sprintf(
			"unknown model %q (supported: %v)", req.Model, engine.Models())}
	}

	log := p.log.With().Str("video", req.VideoPath).Str("model", req.Model).Logger()
	start := time.Now()

	// Model load
	report("Loading speech model...", 5)
	log.Info().Msg("loading speech model")
	if err := p.timedStage(ctx, "model_load", p.timeouts.Load, func(sctx context.Context) error {
		return p.engine.Load(sctx, req.Model)
	}); err != nil {
		return "", p.unexpected(log, "model load", err)
	}
	report("Speech model loaded.", 10)

	// Audio extraction. The temp file belongs to this job from here on
	// and is removed exactly once, whatever the outcome.
	report("Exporting audio...", 20)
	log.Info().Msg("extracting audio track")
	var audioPath string
	var cleanup func()
	err := p.timedStage(ctx, "audio_export", p.timeouts.Extract, func(sctx context.Context) error {
		var serr error
		audioPath, cleanup, serr = p.extractor.Extract(sctx, req.VideoPath)
		return serr
	})
	if err != nil {
		if isNoAudio(err) {
			return "", &ValidationError{Reason: "the video does not contain an audio track"}
		}
		return "", p.unexpected(log, "audio export", err)
	}
	defer cleanup()
	report("Audio exported.", 30)

	// Transcription
	report("Transcribing audio (this may take a while)...", 40)
	lang := req.Language
	if engine.IsAutoDetect(lang) {
		lang = ""
	}
	log.Info().Str("language", orAuto(lang)).Msg("starting transcription")
	var segments []subtitle.Segment
	err = p.timedStage(ctx, "transcription", p.timeouts.Transcribe, func(sctx context.Context) error {
		var serr error
		segments, serr = p.engine.Transcribe(sctx, audioPath, engine.Options{Language: lang})
		return serr
	})
	if err != nil {
		return "", p.unexpected(log, "transcription", err)
	}
	report("Transcription complete.", 90)

	srt := subtitle.FormatSRT(segments)
	report("SRT generated.", 100)
	log.Info().
		Int("segments", len(segments)).
		Dur("elapsed", time.Since(start)).
		Msg("transcription finished")
	return srt, nil
}

// stage runs fn under an optional deadline derived from ctx.
func (p *Pipeline) stage(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return err
	}
	return nil
}

// timedStage is stage plus a duration metric labeled by stage name.
func (p *Pipeline) timedStage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := p.stage(ctx, timeout, fn)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

func (p *Pipeline) unexpected(log zerolog.Logger, stage string, err error) error {
	log.Error().Err(err).Str("stage", stage).Msg("pipeline stage failed")
	return &UnexpectedError{Stage: stage, Err: err}
}

func isNoAudio(err error) bool {
	return errors.Is(err, media.ErrNoAudioTrack)
}

func orAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

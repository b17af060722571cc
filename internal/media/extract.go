// Package media shells out to ffmpeg/ffprobe for container inspection
// and audio track extraction.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// ErrNoAudioTrack is returned when the video container carries no audio stream.
var ErrNoAudioTrack = errors.New("video has no audio track")

// Extractor extracts the audio track of a video into a standalone file.
type Extractor struct {
	tmpDir string
	log    zerolog.Logger
}

// NewExtractor creates an extractor writing temp audio under tmpDir
// (os.TempDir when empty).
func NewExtractor(tmpDir string, log zerolog.Logger) *Extractor {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Extractor{tmpDir: tmpDir, log: log.With().Str("component", "extractor").Logger()}
}

// CheckFFmpeg reports whether ffmpeg and ffprobe are in PATH.
func CheckFFmpeg() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", bin, err)
		}
	}
	return nil
}

// Extract demuxes the audio stream of videoPath into a freshly created
// uniquely-named 16 kHz mono WAV file. The returned cleanup removes the
// file; it is safe to call more than once and must be called on every
// exit path of the enclosing job. Returns ErrNoAudioTrack when the
// container has no audio stream; in that case no temp file is created.
func (e *Extractor) Extract(ctx context.Context, videoPath string) (string, func(), error) {
	noop := func() {}

	probe, err := Probe(ctx, videoPath)
	if err != nil {
		return "", noop, err
	}
	if !probe.HasAudio() {
		return "", noop, fmt.Errorf("%s: %w", videoPath, ErrNoAudioTrack)
	}

	tmp, err := os.CreateTemp(e.tmpDir, "vidscribe-audio-*.wav")
	if err != nil {
		return "", noop, fmt.Errorf("create temp audio file: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	cleanup := func() { os.Remove(outPath) }

	// ffmpeg -y -i input -vn -ac 1 -ar 16000 -c:a pcm_s16le -f wav out
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", videoPath,
		"-vn",
		"-ac", "1", "-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outPath,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("ffmpeg extract %s: %w: %s", videoPath, err, lastLine(stderr.Bytes()))
	}

	e.log.Debug().Str("video", videoPath).Str("audio", outPath).Msg("audio extracted")
	return outPath, cleanup, nil
}

// lastLine returns the final non-empty line of ffmpeg's stderr, which
// holds the actual failure reason.
func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}

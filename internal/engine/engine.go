// Package engine abstracts the speech-recognition backend.
package engine

import (
	"context"
	"strings"

	"github.com/snarg/vidscribe/internal/subtitle"
)

// AutoDetect is the language sentinel meaning "let the engine infer the
// spoken language". Matched case-insensitively.
const AutoDetect = "auto"

// Options are per-transcription options.
type Options struct {
	// Language is a recognized code such as "pt" or "en". Empty or the
	// AutoDetect sentinel means the engine performs its own detection
	// and no language argument is sent at all.
	Language string
}

// Engine is the interface for speech-to-text backends.
type Engine interface {
	// Load prepares the named model. Called once per job, before any
	// audio work.
	Load(ctx context.Context, model string) error

	// Transcribe runs the loaded model over the audio file and returns
	// timed segments in engine order.
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]subtitle.Segment, error)

	Name() string
}

// models is the closed set of recognizer model identifiers.
var models = []string{"tiny", "base", "small", "medium", "large", "large-v2"}

// languages is the closed set of language codes offered by front-ends.
// The core passes any code through unchanged; this list is advisory.
var languages = []string{"en", "pt", "es", "fr", "de", "it", "ja", "ko", "zh"}

// Models returns the supported model identifiers.
func Models() []string {
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// Languages returns the language codes offered by front-ends.
func Languages() []string {
	out := make([]string, len(languages))
	copy(out, languages)
	return out
}

// ValidModel reports whether name is one of the supported models.
func ValidModel(name string) bool {
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}

// IsAutoDetect reports whether the hint means auto-detection.
func IsAutoDetect(hint string) bool {
	return hint == "" || strings.EqualFold(hint, AutoDetect)
}

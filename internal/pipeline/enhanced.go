package pipeline

import (
	"context"
	"time"

	"github.com/snarg/vidscribe/internal/brain"
	"github.com/snarg/vidscribe/internal/metrics"
)

// Analyzer produces a content-analysis record from finished transcript
// text. Implemented by brain.Analyzer.
type Analyzer interface {
	Metadata(ctx context.Context, transcript string) *brain.AnalysisRecord
}

// Result is the outcome of TranscribeAndAnalyze.
type Result struct {
	Subtitles       string                `json:"transcription"`
	VideoPath       string                `json:"video_path"`
	Model           string                `json:"model_used"`
	Language        string                `json:"language"`
	AnalysisEnabled bool                  `json:"analysis_enabled"`
	Analysis        *brain.AnalysisRecord `json:"analysis,omitempty"`
	AnalysisErr     string                `json:"analysis_error,omitempty"`
}

// TranscribeAndAnalyze runs Transcribe and, when analyze is set, feeds
// the transcript through the analyzer. Analysis runs after the base
// job's own 100% milestone and reports its own 70/80/100 sequence.
// Analysis failure never fails the transcription: it is captured in
// Result.AnalysisErr.
func (p *Pipeline) TranscribeAndAnalyze(ctx context.Context, req Request, analyzer Analyzer, analyze bool, progress ProgressFunc) (*Result, error) {
	srt, err := p.Transcribe(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Subtitles:       srt,
		VideoPath:       req.VideoPath,
		Model:           req.Model,
		Language:        req.Language,
		AnalysisEnabled: analyze,
	}
	if !analyze {
		return result, nil
	}

	report := func(label string, pct float64) {
		if progress != nil {
			progress(label, pct)
		}
	}

	report("Initializing content analysis...", 70)
	if analyzer == nil {
		result.AnalysisErr = "no analyzer configured"
		p.log.Warn().Msg("analysis requested but no analyzer configured")
		return result, nil
	}
	report("Analyzing transcription...", 80)
	start := time.Now()
	result.Analysis = analyzer.Metadata(ctx, srt)
	metrics.StageDuration.WithLabelValues("analysis").Observe(time.Since(start).Seconds())
	report("Analysis complete.", 100)
	return result, nil
}

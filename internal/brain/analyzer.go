package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/metrics"
)

// AnalysisRecord bundles the model-derived insights for one transcript.
// Every field is independently producible; a failed call leaves its
// field at the documented fallback, never blocking siblings.
type AnalysisRecord struct {
	Summary                  string            `json:"summary"`
	KeyTopics                []string          `json:"key_topics"`
	SentimentAnalysis        *SentimentResult  `json:"sentiment_analysis"`
	QualityAssessment        *QualityResult    `json:"quality_assessment"`
	SuggestedQuestions       []string          `json:"suggested_questions"`
	WordCount                int               `json:"word_count"`
	EstimatedDurationMinutes float64           `json:"estimated_duration_minutes"`
	Errors                   map[string]string `json:"errors,omitempty"`
}

// SentimentResult is the parsed sentiment judgment.
type SentimentResult struct {
	Sentiment        string   `json:"sentiment"`
	Tone             string   `json:"tone"`
	EmotionalMoments []string `json:"emotional_moments"`
	Confidence       string   `json:"confidence"`
	RawAnalysis      string   `json:"raw_analysis,omitempty"`
}

// QualityResult is the parsed transcription-quality assessment.
type QualityResult struct {
	QualityScore    json.Number `json:"quality_score"`
	Issues          []string    `json:"issues"`
	Improvements    []string    `json:"improvements"`
	ConfidenceLevel string      `json:"confidence_level"`
	RawAnalysis     string      `json:"raw_analysis,omitempty"`
}

// Analyzer issues the fixed battery of analysis prompts.
type Analyzer struct {
	gen Generator
	log zerolog.Logger
}

// NewAnalyzer creates an analyzer over a text generator.
func NewAnalyzer(gen Generator, log zerolog.Logger) *Analyzer {
	return &Analyzer{gen: gen, log: log.With().Str("component", "analyzer").Logger()}
}

// Metadata assembles the full analysis record. The five model calls are
// independent; each failure is recorded under Errors and its field
// falls back to a deterministic default.
func (a *Analyzer) Metadata(ctx context.Context, transcript string) *AnalysisRecord {
	words := len(strings.Fields(transcript))
	rec := &AnalysisRecord{
		WordCount:                words,
		EstimatedDurationMinutes: float64(words) / 150, // rough speaking-rate estimate
	}
	fail := func(key string, err error) {
		a.log.Warn().Err(err).Str("analysis", key).Msg("analysis call failed")
		metrics.AnalysisCallsTotal.WithLabelValues("failed").Inc()
		if rec.Errors == nil {
			rec.Errors = make(map[string]string)
		}
		rec.Errors[key] = err.Error()
	}
	ok := func() { metrics.AnalysisCallsTotal.WithLabelValues("ok").Inc() }

	if summary, err := a.Summary(ctx, transcript); err != nil {
		fail("summary", err)
	} else {
		ok()
		rec.Summary = summary
	}
	if topics, err := a.KeyTopics(ctx, transcript); err != nil {
		fail("key_topics", err)
	} else {
		ok()
		rec.KeyTopics = topics
	}
	if sentiment, err := a.Sentiment(ctx, transcript); err != nil {
		fail("sentiment_analysis", err)
		rec.SentimentAnalysis = fallbackSentiment("")
	} else {
		ok()
		rec.SentimentAnalysis = sentiment
	}
	if quality, err := a.Quality(ctx, transcript); err != nil {
		fail("quality_assessment", err)
		rec.QualityAssessment = fallbackQuality("")
	} else {
		ok()
		rec.QualityAssessment = quality
	}
	if questions, err := a.Questions(ctx, transcript, 3); err != nil {
		fail("suggested_questions", err)
	} else {
		ok()
		rec.SuggestedQuestions = questions
	}
	return rec
}

// Summary generates a brief summary of the content.
func (a *Analyzer) Summary(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf(
		"Provide a brief 2-3 sentence summary of the main points:\n\nVIDEO TRANSCRIPTION:\n%s\n\nSummary:",
		transcript)
	return a.gen.Generate(ctx, prompt, 800)
}

// KeyTopics extracts the main topics as a list.
func (a *Analyzer) KeyTopics(ctx context.Context, transcript string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Extract the main topics and themes discussed in this video transcription.\n"+
			"Return only a comma-separated list of key topics (no explanations):\n\n"+
			"TRANSCRIPTION:\n%s\n\nKey topics:",
		transcript)
	resp, err := a.gen.Generate(ctx, prompt, 200)
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, t := range strings.Split(resp, ",") {
		t = strings.TrimSpace(t)
		if len(t) > 2 {
			topics = append(topics, t)
		}
	}
	return topics, nil
}

// Sentiment judges the emotional tone of the content.
func (a *Analyzer) Sentiment(ctx context.Context, transcript string) (*SentimentResult, error) {
	prompt := fmt.Sprintf(
		"Analyze the sentiment and emotional tone of this video content:\n\n"+
			"TRANSCRIPTION:\n%s\n\n"+
			"Provide:\n"+
			"1. Overall sentiment (positive/negative/neutral)\n"+
			"2. Emotional tone (professional, casual, excited, etc.)\n"+
			"3. Key emotional moments or shifts\n"+
			"4. Confidence in analysis\n\n"+
			"Format as JSON with keys: sentiment, tone, emotional_moments, confidence",
		transcript)
	resp, err := a.gen.Generate(ctx, prompt, 400)
	if err != nil {
		return nil, err
	}
	var result SentimentResult
	if salvageJSON(resp, &result) && result.Sentiment != "" {
		return &result, nil
	}
	return fallbackSentiment(resp), nil
}

// Quality assesses the transcription itself.
func (a *Analyzer) Quality(ctx context.Context, transcript string) (*QualityResult, error) {
	prompt := fmt.Sprintf(
		"Analyze the following video transcription for quality and provide insights:\n\n"+
			"TRANSCRIPTION:\n%s\n\n"+
			"Please provide:\n"+
			"1. Overall quality assessment (1-10 scale)\n"+
			"2. Potential issues (unclear segments, missing punctuation, etc.)\n"+
			"3. Suggested improvements\n"+
			"4. Confidence level in the transcription accuracy\n\n"+
			"Format your response as JSON with keys: quality_score, issues, improvements, confidence_level",
		transcript)
	resp, err := a.gen.Generate(ctx, prompt, 500)
	if err != nil {
		return nil, err
	}
	var result QualityResult
	if salvageJSON(resp, &result) && result.QualityScore != "" {
		return &result, nil
	}
	return fallbackQuality(resp), nil
}

// Questions generates up to n engagement questions about the content.
func (a *Analyzer) Questions(ctx context.Context, transcript string, n int) ([]string, error) {
	prompt := fmt.Sprintf(
		"Based on this video transcription, generate %d thoughtful questions that would help "+
			"someone understand or engage with the content better.\n\n"+
			"TRANSCRIPTION:\n%s\n\nQuestions (one per line):",
		n, transcript)
	resp, err := a.gen.Generate(ctx, prompt, 300)
	if err != nil {
		return nil, err
	}
	questions := parseQuestions(resp)
	if len(questions) > n {
		questions = questions[:n]
	}
	return questions, nil
}

// Answer answers a free-form question about the content.
func (a *Analyzer) Answer(ctx context.Context, transcript, question string) (string, error) {
	prompt := fmt.Sprintf(
		"Based on the following video transcription, answer this question:\n\n"+
			"QUESTION: %s\n\nTRANSCRIPTION:\n%s\n\nANSWER:",
		question, transcript)
	return a.gen.Generate(ctx, prompt, 400)
}

var (
	jsonRegion   = regexp.MustCompile(`(?s)\{.*\}`)
	leadingIndex = regexp.MustCompile(`^\d+\.?\s*`)
)

// salvageJSON locates the first JSON-shaped region of free-form text
// and unmarshals it into v. Reports whether the parse succeeded.
func salvageJSON(text string, v any) bool {
	m := jsonRegion.FindString(text)
	if m == "" {
		return false
	}
	return json.Unmarshal([]byte(m), v) == nil
}

// parseQuestions pulls question lines out of a free-form reply.
func parseQuestions(text string) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(line, "?") ||
			strings.HasPrefix(lower, "what") || strings.HasPrefix(lower, "how") ||
			strings.HasPrefix(lower, "why") || strings.HasPrefix(lower, "when") ||
			strings.HasPrefix(lower, "where") || strings.HasPrefix(lower, "who") {
			questions = append(questions, leadingIndex.ReplaceAllString(line, ""))
		}
	}
	return questions
}

func fallbackSentiment(raw string) *SentimentResult {
	return &SentimentResult{
		Sentiment:        "neutral",
		Tone:             "unknown",
		EmotionalMoments: []string{},
		Confidence:       "low",
		RawAnalysis:      raw,
	}
}

func fallbackQuality(raw string) *QualityResult {
	return &QualityResult{
		QualityScore:    "7",
		Issues:          []string{"Analysis could not be parsed as JSON"},
		Improvements:    []string{"Manual review recommended"},
		ConfidenceLevel: "medium",
		RawAnalysis:     raw,
	}
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/subtitle"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint with response_format=verbose_json to obtain timed segments.
type WhisperClient struct {
	baseURL string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a Whisper HTTP client. baseURL is the server
// root (e.g. http://localhost:8000); timeout bounds each request.
func NewWhisperClient(baseURL string, timeout time.Duration, log zerolog.Logger) *WhisperClient {
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "whisper").Logger(),
	}
}

func (wc *WhisperClient) Name() string { return "whisper" }

// Load records the model for subsequent Transcribe calls and, when the
// server exposes a model listing, verifies the model is known to it.
// Servers without /v1/models (e.g. bare whisper.cpp) skip verification.
func (wc *WhisperClient) Load(ctx context.Context, model string) error {
	wc.model = model

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wc.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create models request: %w", err)
	}
	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		wc.log.Debug().Msg("server has no model listing, skipping verification")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whisper models listing (status %d): %s", resp.StatusCode, string(body))
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		// Tolerate non-standard listings; the transcription call is the authority.
		wc.log.Debug().Err(err).Msg("unparseable model listing, skipping verification")
		return nil
	}
	for _, m := range listing.Data {
		if m.ID == model || strings.HasSuffix(m.ID, "/"+model) || strings.Contains(m.ID, model) {
			return nil
		}
	}
	if len(listing.Data) == 0 {
		return nil
	}
	return fmt.Errorf("model %q not available on whisper server", model)
}

// Transcribe sends the audio file as multipart/form-data. When
// opts.Language is empty or the auto-detect sentinel, the language
// field is omitted entirely so the server runs its own detection; any
// other code is passed through unchanged.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts Options) ([]subtitle.Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if wc.model != "" {
		w.WriteField("model", wc.model)
	}
	if !IsAutoDetect(opts.Language) {
		w.WriteField("language", opts.Language)
	}
	w.WriteField("response_format", "verbose_json")
	w.Close()

	endpoint := wc.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]subtitle.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, subtitle.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	wc.log.Debug().
		Int("segments", len(segments)).
		Str("language", result.Language).
		Float64("duration", result.Duration).
		Msg("transcription received")
	return segments, nil
}

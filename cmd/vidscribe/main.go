// Command vidscribe transcribes a video file into an SRT subtitle file
// from the command line, optionally running LLM content analysis on
// the transcript.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/brain"
	"github.com/snarg/vidscribe/internal/config"
	"github.com/snarg/vidscribe/internal/engine"
	"github.com/snarg/vidscribe/internal/media"
	"github.com/snarg/vidscribe/internal/pipeline"
	"github.com/snarg/vidscribe/internal/watcher"
)

var version = "dev"

// Exit codes mirror the failure taxonomy: callers can distinguish a
// missing input from a bad request from an infrastructure failure.
const (
	exitUnexpected = 1
	exitNotFound   = 2
	exitValidation = 3
)

type cliFlags struct {
	model       string
	lang        string
	output      string
	analyze     bool
	noAnalyze   bool
	outputJSON  bool
	ask         string
	interactive bool
	analyzeOnly bool
	watch       bool
	envFile     string
	logLevel    string
}

func main() {
	var f cliFlags
	flag.StringVar(&f.model, "model", "", "whisper model to use (default from config)")
	flag.StringVar(&f.lang, "lang", "", "language hint, or auto to detect")
	flag.StringVar(&f.output, "output", "", "output SRT path (default: next to the input)")
	flag.BoolVar(&f.analyze, "analyze", true, "run content analysis on the transcript")
	flag.BoolVar(&f.noAnalyze, "no-analyze", false, "disable content analysis")
	flag.BoolVar(&f.outputJSON, "output-json", false, "also write the full result as JSON")
	flag.StringVar(&f.ask, "ask", "", "ask a question about the transcript")
	flag.BoolVar(&f.interactive, "interactive", false, "open a Q&A prompt over the transcript when done")
	flag.BoolVar(&f.analyzeOnly, "analyze-only", false, "input is an existing transcript; skip transcription")
	flag.BoolVar(&f.watch, "watch", false, "input is a directory; transcribe videos dropped into it")
	flag.StringVar(&f.envFile, "env-file", "", "path to .env file")
	flag.StringVar(&f.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(exitValidation)
	}
	input := flag.Arg(0)

	cfg, err := config.Load(config.Overrides{EnvFile: f.envFile, LogLevel: f.logLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: failed to load config:", err)
		os.Exit(exitUnexpected)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(cfg, f, log)
	os.Exit(app.run(ctx, input))
}

func usage() {
	fmt.Fprintf(os.Stderr, `vidscribe %s — video transcription to SRT subtitles

Usage:
  vidscribe [flags] <video-file>
  vidscribe --analyze-only [flags] <transcript-file>
  vidscribe --watch [flags] <directory>

Flags:
`, version)
	flag.PrintDefaults()
}

type app struct {
	cfg      *config.Config
	flags    cliFlags
	log      zerolog.Logger
	pipe     *pipeline.Pipeline
	analyzer *brain.Analyzer
}

func newApp(cfg *config.Config, f cliFlags, log zerolog.Logger) *app {
	whisper := engine.NewWhisperClient(cfg.WhisperURL, cfg.WhisperTimeout,
		log.With().Str("component", "whisper").Logger())
	extractor := media.NewExtractor("", log.With().Str("component", "media").Logger())
	pipe := pipeline.New(extractor, whisper, pipeline.StageTimeouts{
		Load:       cfg.LoadTimeout,
		Extract:    cfg.ExtractTimeout,
		Transcribe: cfg.WhisperTimeout,
	}, log.With().Str("component", "pipeline").Logger())

	a := &app{cfg: cfg, flags: f, log: log, pipe: pipe}
	if cfg.BrainEnabled && !f.noAnalyze {
		chat := brain.NewChatClient(cfg.BrainURL, cfg.BrainModel, cfg.BrainAPIKey,
			cfg.BrainTimeout, log.With().Str("component", "brain").Logger())
		a.analyzer = brain.NewAnalyzer(chat, log.With().Str("component", "brain").Logger())
	}
	return a
}

func (a *app) run(ctx context.Context, input string) int {
	switch {
	case a.flags.watch:
		return a.runWatch(ctx, input)
	case a.flags.analyzeOnly:
		return a.runAnalyzeOnly(ctx, input)
	default:
		return a.runOnce(ctx, input)
	}
}

func (a *app) runOnce(ctx context.Context, videoPath string) int {
	if err := media.CheckFFmpeg(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUnexpected
	}

	req := pipeline.Request{
		VideoPath: videoPath,
		Model:     a.model(),
		Language:  a.language(),
	}
	analyze := a.analyzer != nil && a.flags.analyze && !a.flags.noAnalyze

	result, err := a.pipe.TranscribeAndAnalyze(ctx, req, a.pipelineAnalyzer(), analyze, printProgress)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}

	srtPath := a.flags.output
	if srtPath == "" {
		srtPath = strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".srt"
	}
	if err := os.WriteFile(srtPath, []byte(result.Subtitles), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "error: write subtitles:", err)
		return exitUnexpected
	}
	fmt.Println("Subtitles written to", srtPath)

	if result.AnalysisErr != "" {
		fmt.Fprintln(os.Stderr, "warning: analysis failed:", result.AnalysisErr)
	}
	if result.Analysis != nil {
		analysisPath := strings.TrimSuffix(srtPath, ".srt") + "_analysis.json"
		if err := writeJSONFile(analysisPath, result.Analysis); err != nil {
			fmt.Fprintln(os.Stderr, "error: write analysis:", err)
			return exitUnexpected
		}
		fmt.Println("Analysis written to", analysisPath)
	}
	if a.flags.outputJSON {
		jsonPath := strings.TrimSuffix(srtPath, ".srt") + ".json"
		if err := writeJSONFile(jsonPath, result); err != nil {
			fmt.Fprintln(os.Stderr, "error: write result:", err)
			return exitUnexpected
		}
		fmt.Println("Result written to", jsonPath)
	}

	if a.flags.ask != "" {
		if code := a.askQuestion(ctx, result.Subtitles); code != 0 {
			return code
		}
	}
	if a.flags.interactive {
		return a.interactiveLoop(ctx, result.Subtitles, os.Stdin, os.Stdout)
	}
	return 0
}

// runAnalyzeOnly analyzes an existing transcript or subtitle file
// without touching ffmpeg or the whisper backend.
func (a *app) runAnalyzeOnly(ctx context.Context, transcriptPath string) int {
	data, err := os.ReadFile(transcriptPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if os.IsNotExist(err) {
			return exitNotFound
		}
		return exitUnexpected
	}
	transcript := string(data)

	if a.flags.ask != "" && a.analyzer != nil {
		return a.askQuestion(ctx, transcript)
	}
	if a.flags.interactive && a.analyzer != nil {
		return a.interactiveLoop(ctx, transcript, os.Stdin, os.Stdout)
	}
	if a.analyzer == nil {
		fmt.Fprintln(os.Stderr, "error: content analysis is disabled")
		return exitValidation
	}

	printProgress("Analyzing content", 70)
	record := a.analyzer.Metadata(ctx, transcript)
	printProgress("Analysis complete", 100)

	out := strings.TrimSuffix(transcriptPath, filepath.Ext(transcriptPath)) + "_analysis.json"
	if a.flags.output != "" {
		out = a.flags.output
	}
	if err := writeJSONFile(out, record); err != nil {
		fmt.Fprintln(os.Stderr, "error: write analysis:", err)
		return exitUnexpected
	}
	fmt.Println("Analysis written to", out)
	return 0
}

// runWatch transcribes videos dropped into a directory, one at a time,
// until interrupted.
func (a *app) runWatch(ctx context.Context, dir string) int {
	if err := media.CheckFFmpeg(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUnexpected
	}

	queue := make(chan string, 64)
	w := watcher.New(dir, func(path string) {
		select {
		case queue <- path:
		default:
			a.log.Warn().Str("path", path).Msg("watch queue full, dropping file")
		}
	}, a.log.With().Str("component", "watcher").Logger())
	if err := w.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUnexpected
	}
	defer w.Stop()

	fmt.Println("Watching", dir, "for new videos (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			return 0
		case path := <-queue:
			fmt.Println("\nTranscribing", path)
			if code := a.runOnce(ctx, path); code != 0 {
				fmt.Fprintln(os.Stderr, "warning: failed to process", path)
			}
		}
	}
}

func (a *app) askQuestion(ctx context.Context, transcript string) int {
	if a.analyzer == nil {
		fmt.Fprintln(os.Stderr, "error: content analysis is disabled")
		return exitValidation
	}
	answer, err := a.analyzer.Answer(ctx, transcript, a.flags.ask)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: ask failed:", err)
		return exitUnexpected
	}
	fmt.Println("\nQ:", a.flags.ask)
	fmt.Println("A:", answer)
	return 0
}

// interactiveLoop answers free-form questions about the transcript
// until EOF or a quit command.
func (a *app) interactiveLoop(ctx context.Context, transcript string, in io.Reader, out io.Writer) int {
	if a.analyzer == nil {
		fmt.Fprintln(os.Stderr, "error: content analysis is disabled")
		return exitValidation
	}

	fmt.Fprintln(out, "\nAsk questions about the video (\"quit\" to exit).")
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return 0
		}
		question := strings.TrimSpace(sc.Text())
		if question == "" {
			continue
		}
		if question == "quit" || question == "exit" {
			return 0
		}
		answer, err := a.analyzer.Answer(ctx, transcript, question)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
}

func (a *app) model() string {
	if a.flags.model != "" {
		return a.flags.model
	}
	return a.cfg.DefaultModel
}

func (a *app) language() string {
	if a.flags.lang != "" {
		return a.flags.lang
	}
	return a.cfg.DefaultLang
}

func (a *app) pipelineAnalyzer() pipeline.Analyzer {
	if a.analyzer == nil {
		return nil
	}
	return a.analyzer
}

func exitCode(err error) int {
	switch {
	case pipeline.IsNotFound(err):
		return exitNotFound
	case pipeline.IsValidation(err):
		return exitValidation
	default:
		return exitUnexpected
	}
}

func printProgress(label string, pct float64) {
	fmt.Printf("[%3.0f%%] %s\n", pct, label)
}

func writeJSONFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

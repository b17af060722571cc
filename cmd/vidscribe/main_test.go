package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/vidscribe/internal/brain"
)

type cannedGen struct {
	reply string
	err   error
}

func (g *cannedGen) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return g.reply, g.err
}

func testApp(gen brain.Generator) *app {
	return &app{
		log:      zerolog.Nop(),
		analyzer: brain.NewAnalyzer(gen, zerolog.Nop()),
	}
}

func TestInteractiveLoopAnswersAndQuits(t *testing.T) {
	a := testApp(&cannedGen{reply: "they discuss the weather"})

	in := strings.NewReader("what is the topic?\nquit\n")
	var out bytes.Buffer
	if code := a.interactiveLoop(context.Background(), "1\n...\n", in, &out); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "they discuss the weather") {
		t.Errorf("output missing answer: %q", out.String())
	}
}

func TestInteractiveLoopSkipsBlankAndStopsAtEOF(t *testing.T) {
	a := testApp(&cannedGen{reply: "ok"})

	in := strings.NewReader("\n\n")
	var out bytes.Buffer
	if code := a.interactiveLoop(context.Background(), "1\n...\n", in, &out); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestInteractiveLoopReportsAnswerErrors(t *testing.T) {
	a := testApp(&cannedGen{err: errors.New("backend down")})

	in := strings.NewReader("anything?\nexit\n")
	var out bytes.Buffer
	if code := a.interactiveLoop(context.Background(), "1\n...\n", in, &out); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "backend down") {
		t.Errorf("output missing error report: %q", out.String())
	}
}

func TestInteractiveLoopWithoutAnalyzer(t *testing.T) {
	a := &app{log: zerolog.Nop()}

	var out bytes.Buffer
	if code := a.interactiveLoop(context.Background(), "1\n...\n", strings.NewReader("hi\n"), &out); code != exitValidation {
		t.Fatalf("exit code = %d, want %d", code, exitValidation)
	}
}

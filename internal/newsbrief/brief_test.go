package newsbrief

import (
	"context"
	"errors"
	"strings"
	"testing"

	"morning-dispatch/internal/domain"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"
)

type stubLLMClient struct {
	response *openai.ChatCompletion
	err      error
	params   openai.ChatCompletionNewParams
}

func (s *stubLLMClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.params = params
	return s.response, s.err
}

func completionWith(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func testBriefer(llm openAIChatClient) *Briefer {
	return &Briefer{
		client: llm,
		model:  "gpt-4o-mini",
		tracer: trace.NewNoopTracerProvider().Tracer("test"),
	}
}

var testEvents = []domain.Event{
	{Date: "2026-08-28", Title: "Core PCE Price Index", Impact: "high", Source: "trading_economics"},
}
var testUpdates = []domain.NewsItem{
	{Title: "New model release", Source: "example.com"},
}

func TestBriefExtractsTaggedText(t *testing.T) {
	llm := &stubLLMClient{response: completionWith(
		"Sure. <news>Quiet tape ahead of PCE; AI names steady.</news> Hope that helps.",
	)}
	b := testBriefer(llm)

	got, err := b.Brief(context.Background(), testEvents, testUpdates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Quiet tape ahead of PCE; AI names steady." {
		t.Fatalf("brief = %q", got)
	}
	if llm.params.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", llm.params.Model)
	}
}

func TestBriefStripsCodeFence(t *testing.T) {
	llm := &stubLLMClient{response: completionWith(
		"```\n<news>Fenced brief.</news>\n```",
	)}
	got, err := testBriefer(llm).Brief(context.Background(), testEvents, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Fenced brief." {
		t.Fatalf("brief = %q", got)
	}
}

func TestBriefMissingTagsFails(t *testing.T) {
	llm := &stubLLMClient{response: completionWith("no tags here")}
	_, err := testBriefer(llm).Brief(context.Background(), testEvents, nil)
	if err == nil || !strings.Contains(err.Error(), "<news>") {
		t.Fatalf("expected missing-tag error, got %v", err)
	}
}

func TestBriefNilBrieferIsOff(t *testing.T) {
	var b *Briefer
	got, err := b.Brief(context.Background(), testEvents, testUpdates)
	if err != nil || got != "" {
		t.Fatalf("nil briefer must be a silent no-op, got %q err %v", got, err)
	}
	if NewBriefer("  ", "gpt-4o-mini", trace.NewNoopTracerProvider().Tracer("test")) != nil {
		t.Fatal("empty key must disable the briefer")
	}
}

func TestBriefNothingToSummarize(t *testing.T) {
	llm := &stubLLMClient{err: errors.New("must not be called")}
	got, err := testBriefer(llm).Brief(context.Background(), nil, nil)
	if err != nil || got != "" {
		t.Fatalf("empty inputs must skip the call, got %q err %v", got, err)
	}
}

func TestBriefPromptCarriesInputs(t *testing.T) {
	llm := &stubLLMClient{response: completionWith("<news>x</news>")}
	if _, err := testBriefer(llm).Brief(context.Background(), testEvents, testUpdates); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(llm.params.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(llm.params.Messages))
	}
	prompt := buildPrompt(testEvents, testUpdates)
	if !strings.Contains(prompt, "Core PCE Price Index") || !strings.Contains(prompt, "New model release") {
		t.Fatalf("prompt missing inputs: %q", prompt)
	}
}

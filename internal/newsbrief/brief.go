// Package newsbrief condenses the day's events and AI headlines into a short
// narrative paragraph via an LLM. The brief is decoration: when no API key is
// configured or the call fails, the day's documents ship without it.
package newsbrief

import (
	"context"
	"fmt"
	"strings"

	"morning-dispatch/internal/domain"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type openAIChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Briefer generates the morning brief. A nil *Briefer is valid and means the
// feature is off.
type Briefer struct {
	client openAIChatClient
	model  string
	tracer trace.Tracer
}

// NewBriefer returns nil when apiKey is empty.
func NewBriefer(apiKey, model string, tracer trace.Tracer) *Briefer {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Briefer{
		client: &openAIClient{client: client},
		model:  model,
		tracer: tracer,
	}
}

const briefSystemPrompt = "You write a compact pre-market brief for a financial digest. " +
	"Summarize the provided macro events and AI-industry headlines in at most 120 words, " +
	"neutral tone, no advice, no markdown. Wrap the brief in <news></news> tags."

// Brief summarizes events and headlines. Returns "" with no error when the
// feature is off or there is nothing to summarize.
func (b *Briefer) Brief(ctx context.Context, events []domain.Event, updates []domain.NewsItem) (string, error) {
	if b == nil || b.client == nil {
		return "", nil
	}
	if len(events) == 0 && len(updates) == 0 {
		return "", nil
	}

	ctx, span := b.tracer.Start(ctx, "newsbrief.brief")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", b.model),
		attribute.Int("events", len(events)),
		attribute.Int("updates", len(updates)),
	)

	completion, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model: b.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(briefSystemPrompt),
			openai.UserMessage(buildPrompt(events, updates)),
		},
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty brief completion")
	}

	raw := trimCodeFence(completion.Choices[0].Message.Content)
	brief := extractTagged(raw, "news")
	if brief == "" {
		return "", fmt.Errorf("brief missing <news> tags")
	}
	span.SetAttributes(attribute.Int("brief_length", len(brief)))
	return brief, nil
}

func buildPrompt(events []domain.Event, updates []domain.NewsItem) string {
	var sb strings.Builder
	sb.WriteString("Macro events:\n")
	for _, e := range events {
		fmt.Fprintf(&sb, "- %s [%s] %s\n", e.Date, e.Impact, e.Title)
	}
	sb.WriteString("\nAI headlines:\n")
	for _, n := range updates {
		fmt.Fprintf(&sb, "- %s (%s)\n", n.Title, n.Source)
	}
	return sb.String()
}

// extractTagged pulls the inner text of the first <tag>...</tag> pair.
func extractTagged(v, tag string) string {
	opening, closing := "<"+tag+">", "</"+tag+">"
	start := strings.Index(v, opening)
	if start < 0 {
		return ""
	}
	rest := v[start+len(opening):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func trimCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), "json") {
			v = strings.TrimSpace(v[4:])
		}
		v = strings.TrimSuffix(v, "```")
		v = strings.TrimSpace(v)
	}
	return v
}

type openAIClient struct {
	client openai.Client
}

func (c *openAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

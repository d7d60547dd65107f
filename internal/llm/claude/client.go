// Package claude generates clinical summaries with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/llm/claude")

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("claude returned no text")

// messagesAPI is the slice of the SDK the summarizer calls.
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Summarizer implements patient.Summarizer.
type Summarizer struct {
	messages messagesAPI
	model    string
}

// New creates a Summarizer for the given API key and model.
func New(apiKey, model string, opts ...option.RequestOption) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Summarizer{messages: &client.Messages, model: model}
}

// Summarize renders the prompt for req.Kind and returns the model's text.
func (s *Summarizer) Summarize(ctx context.Context, req *patient.SummaryRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "claude.Summarize")
	defer span.End()

	p, err := buildPrompt(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(
		attribute.String("gen_ai.system", "anthropic"),
		attribute.String("gen_ai.request.model", s.model),
		attribute.String("triagedesk.summary.kind", string(req.Kind)),
	)

	msg, err := s.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(0.3),
		System:      []anthropic.TextBlockParam{{Text: p.system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.user)),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("claude messages: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", msg.Usage.InputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", msg.Usage.OutputTokens),
	)

	text := textOf(msg)
	if text == "" {
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return "", ErrEmptyResponse
	}
	return text, nil
}

// textOf joins the text blocks of a response.
func textOf(msg *anthropic.Message) string {
	var parts []string
	for _, b := range msg.Content {
		if b.Type != "text" {
			continue
		}
		if t := strings.TrimSpace(b.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

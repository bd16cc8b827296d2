package bot

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/tracing"
)

const (
	summarizerName    = "Summarizer"
	summarizerPersona = "You condense chat transcripts into a short factual summary for later recall."
	summarizerPrompt  = "Summarize the conversation so far in a few sentences."
)

// Summarizer condenses a session's context turns through a Generator.
type Summarizer struct {
	gen     Generator
	timeout time.Duration
}

// NewSummarizer creates a summarizer bounded by timeout per call.
func NewSummarizer(gen Generator, timeout time.Duration) *Summarizer {
	return &Summarizer{gen: gen, timeout: timeout}
}

// Summarize returns a digest of turns.
func (s *Summarizer) Summarize(ctx context.Context, userID, room string, turns []model.Turn) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "session.summarize", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("room", room),
		attribute.Int("turns", len(turns)),
	))
	defer span.End()

	if len(turns) == 0 {
		return "", errors.New("nothing to summarize")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.gen.Generate(ctx, Request{
		BotName: summarizerName,
		Persona: summarizerPersona,
		Prompt:  summarizerPrompt,
		Context: turns,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return "", err
	}
	return summary, nil
}

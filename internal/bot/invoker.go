// Package bot invokes AI personalities addressed by @mention and summarises
// ended sessions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
	"github.com/capitalize-ai/botchat/pkg/tracing"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ParseMention returns the name of the first @mention in text.
func ParseMention(text string) (string, bool) {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// StripMention removes the first case-insensitive @name from text.
func StripMention(text, name string) string {
	re, err := regexp.Compile(`(?i)@` + regexp.QuoteMeta(name))
	if err != nil {
		return strings.TrimSpace(text)
	}
	if loc := re.FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + text[loc[1]:]
	}
	return strings.TrimSpace(text)
}

// Persona returns the system directive for b.
func Persona(b *model.Bot) string {
	if p := strings.TrimSpace(b.Personality); p != "" {
		return p
	}
	return fmt.Sprintf("You are %s, a helpful assistant.", b.Username)
}

// InvocationError reports a failed bot invocation. No reply was persisted.
type InvocationError struct {
	Bot     string
	Timeout bool
	Err     error
}

func (e *InvocationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("bot %s timed out", e.Bot)
	}
	return fmt.Sprintf("bot %s failed: %v", e.Bot, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// MessageStore persists bot replies.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
}

// Invoker runs bot generations under a timeout and persists the replies.
// Invocations are independent; concurrent calls for the same bot and room
// are not serialised.
type Invoker struct {
	gen     Generator
	store   MessageStore
	timeout time.Duration
	log     *logger.Logger
}

// NewInvoker creates an invoker.
func NewInvoker(gen Generator, store MessageStore, timeout time.Duration, log *logger.Logger) *Invoker {
	return &Invoker{gen: gen, store: store, timeout: timeout, log: log}
}

// Invoke asks b to answer text in room given the trailing context turns. On
// success it returns the persisted reply with the bot's directory entry
// attached. Every failure is an *InvocationError.
func (i *Invoker) Invoke(ctx context.Context, b *model.Bot, text, room string, turns []model.Turn) (*model.MessageView, error) {
	ctx, span := tracing.Tracer().Start(ctx, "bot.invoke", trace.WithAttributes(
		attribute.String("bot", b.Username),
		attribute.String("room", room),
		attribute.Int("context_turns", len(turns)),
	))
	defer span.End()

	metrics.BotInvocationsInFlight.Inc()
	defer metrics.BotInvocationsInFlight.Dec()
	start := time.Now()

	genCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	reply, err := i.gen.Generate(genCtx, Request{
		BotName: b.Username,
		Persona: Persona(b),
		Prompt:  StripMention(text, b.Username),
		Context: turns,
	})
	if err != nil {
		timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)
		status := "error"
		if timedOut {
			status = "timeout"
		}
		return nil, i.fail(span, b, status, start, &InvocationError{Bot: b.Username, Timeout: timedOut, Err: err})
	}

	msg := &model.Message{
		SenderID:   b.ID,
		SenderType: model.SenderBot,
		Content:    reply,
		Room:       room,
		IsGlobal:   true,
	}
	if err := i.store.CreateMessage(ctx, msg); err != nil {
		return nil, i.fail(span, b, "persist_error", start, &InvocationError{Bot: b.Username, Err: err})
	}

	metrics.RecordBotInvocation(b.Username, "ok", time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues(string(model.SenderBot)).Inc()
	return &model.MessageView{Message: *msg, Sender: model.BotEntry(b)}, nil
}

func (i *Invoker) fail(span trace.Span, b *model.Bot, status string, start time.Time, err *InvocationError) error {
	metrics.RecordBotInvocation(b.Username, status, time.Since(start).Seconds())
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	i.log.Warn("bot invocation failed",
		zap.String("bot", b.Username),
		zap.String("status", status),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return err
}

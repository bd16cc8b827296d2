package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

const (
	// StreamName is the name of the roster events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all roster event subjects.
	SubjectPrefix = "chat.roster"
)

// Handler receives relayed roster events.
type Handler func(ctx context.Context, ev *model.RosterEvent)

// EventSubject returns the subject for an event type, e.g.
// chat.roster.user.banned.
func EventSubject(t model.RosterEventType) string {
	return SubjectPrefix + "." + string(t)
}

// StreamRelay publishes and consumes roster events through JetStream.
type StreamRelay struct {
	client *Client
	log    *logger.Logger
}

// NewStreamRelay creates a JetStream relay.
func NewStreamRelay(client *Client, log *logger.Logger) *StreamRelay {
	return &StreamRelay{client: client, log: log}
}

// EnsureStream ensures the roster stream exists with proper configuration.
func (r *StreamRelay) EnsureStream(ctx context.Context) error {
	js := r.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Roster and moderation events relayed to chat gateways",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish implements the relay publisher.
func (r *StreamRelay) Publish(ctx context.Context, ev *model.RosterEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.client.JetStream().Publish(ctx, EventSubject(ev.Type), data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers every event published from now on to h until ctx is
// cancelled. Each gateway process gets its own ordered consumer, so every
// instance sees every event.
func (r *StreamRelay) Subscribe(ctx context.Context, h Handler) error {
	consumer, err := r.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev model.RosterEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			r.log.Warn("dropping malformed roster event",
				zap.String("subject", msg.Subject()),
				zap.Error(err),
			)
			return
		}
		metrics.RelayEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		h(ctx, &ev)
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return nil
}

// LocalRelay delivers events in-process. It is used when no NATS server is
// configured and in tests.
type LocalRelay struct {
	mu      sync.RWMutex
	handler Handler
}

// NewLocalRelay creates an in-process relay.
func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

// Publish calls the subscribed handler synchronously. Events published with
// no subscriber are dropped.
func (r *LocalRelay) Publish(ctx context.Context, ev *model.RosterEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		return nil
	}

	metrics.RelayEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	h(ctx, ev)
	return nil
}

// Subscribe installs h as the single subscriber until ctx is cancelled.
func (r *LocalRelay) Subscribe(ctx context.Context, h Handler) error {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.handler = nil
		r.mu.Unlock()
	}()
	return nil
}

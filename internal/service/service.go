// Package service implements the roster and moderation operations behind the
// HTTP API. Every mutation is persisted first and then published as a roster
// event so live connections learn about it.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

var (
	// ErrForbidden is returned when the target may not be moderated.
	ErrForbidden = errors.New("operation not allowed")
	// ErrConflict is returned when the target is already in the requested state.
	ErrConflict = errors.New("already in requested state")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")
)

// Publisher relays roster events to the realtime gateway.
type Publisher interface {
	Publish(ctx context.Context, ev *model.RosterEvent) error
}

// publish relays ev. The mutation already succeeded, so a relay failure is
// logged rather than returned.
func publish(ctx context.Context, pub Publisher, log *logger.Logger, ev *model.RosterEvent) {
	if err := pub.Publish(ctx, ev); err != nil {
		log.Error("failed to publish roster event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// paginate returns one page of items, newest first as given by the caller.
func paginate[T any](items []T, page, limit int) ([]T, model.Page) {
	switch {
	case limit <= 0:
		limit = 10
	case limit > 100:
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	total := len(items)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)
	return items[start:end], model.Page{
		CurrentPage: page,
		TotalPages:  (total + limit - 1) / limit,
		Total:       total,
	}
}

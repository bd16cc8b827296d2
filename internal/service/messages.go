package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/internal/store"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// MessageService handles message history and moderation.
type MessageService struct {
	store     store.Store
	publisher Publisher
	logger    *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(s store.Store, pub Publisher, log *logger.Logger) *MessageService {
	return &MessageService{store: s, publisher: pub, logger: log}
}

// Recent returns up to limit of the newest messages, oldest first.
func (s *MessageService) Recent(ctx context.Context, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.RecentMessages(ctx, limit)
}

// Delete removes a message and tells every connection to drop it.
func (s *MessageService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	s.logger.Info("message deleted", zap.String("message_id", id))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterMessageDeleted, MessageID: id})
	return nil
}

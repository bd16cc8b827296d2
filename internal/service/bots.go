package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/middleware"
	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/internal/store"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

// BotService manages the bot roster.
type BotService struct {
	store     store.Store
	publisher Publisher
	logger    *logger.Logger
}

// NewBotService creates a new bot service.
func NewBotService(s store.Store, pub Publisher, log *logger.Logger) *BotService {
	return &BotService{store: s, publisher: pub, logger: log}
}

// List returns a page of bots, newest first.
func (s *BotService) List(ctx context.Context, page, limit int) (*model.ListBotsResponse, error) {
	bots, err := s.store.ListBots(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(bots)
	items, p := paginate(bots, page, limit)
	return &model.ListBotsResponse{Bots: items, Page: p}, nil
}

// Get returns one bot.
func (s *BotService) Get(ctx context.Context, id string) (*model.Bot, error) {
	return s.store.GetBot(ctx, id)
}

// Create adds a bot. Every field except the profile picture is required.
func (s *BotService) Create(ctx context.Context, req *model.BotRequest) (*model.Bot, error) {
	b := &model.Bot{
		Username:    strings.TrimSpace(req.Username),
		BotRole:     strings.TrimSpace(req.BotRole),
		BotType:     strings.TrimSpace(req.BotType),
		Bio:         strings.TrimSpace(req.Bio),
		ProfilePic:  req.ProfilePic,
		Personality: strings.TrimSpace(req.Personality),
	}
	if err := validateBot(b); err != nil {
		return nil, err
	}

	if err := s.store.CreateBot(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("bot created", zap.String("bot_id", b.ID), zap.String("username", b.Username))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterBotCreated, Bot: b})
	return b, nil
}

// Update changes the non-empty fields of req on bot id.
func (s *BotService) Update(ctx context.Context, id string, req *model.BotRequest) (*model.Bot, error) {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&b.Username, req.Username)
	set(&b.BotRole, req.BotRole)
	set(&b.BotType, req.BotType)
	set(&b.Bio, req.Bio)
	set(&b.ProfilePic, req.ProfilePic)
	set(&b.Personality, req.Personality)
	if err := validateBot(b); err != nil {
		return nil, err
	}

	if err := s.store.UpdateBot(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info("bot updated", zap.String("bot_id", b.ID))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterBotUpdated, Bot: b})
	return b, nil
}

// Delete removes a bot and its messages.
func (s *BotService) Delete(ctx context.Context, id string) error {
	b, err := s.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBot(ctx, id); err != nil {
		return err
	}
	s.logger.Info("bot deleted", zap.String("bot_id", id))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterBotDeleted, Bot: b})
	return nil
}

func validateBot(b *model.Bot) error {
	if err := middleware.ValidateBotUsername(b.Username); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch {
	case b.BotRole == "":
		return fmt.Errorf("%w: bot role is required", ErrInvalid)
	case b.BotType == "":
		return fmt.Errorf("%w: bot type is required", ErrInvalid)
	case b.Bio == "":
		return fmt.Errorf("%w: bio is required", ErrInvalid)
	case b.Personality == "":
		return fmt.Errorf("%w: bot personality is required", ErrInvalid)
	}
	return nil
}

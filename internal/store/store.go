// Package store persists users, bots, messages and session summaries.
package store

import (
	"context"
	"errors"

	"github.com/capitalize-ai/botchat/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique field is already taken.
var ErrDuplicate = errors.New("record already exists")

// Store is the persistence contract consumed by the gateway, the bot invoker
// and the admin API.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByExternalUID(ctx context.Context, uid string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	SetUserBanned(ctx context.Context, id string, banned bool) (*model.User, error)
	UpdateUserProfile(ctx context.Context, id, username, bio string) (*model.User, error)
	// DeleteUser removes the user and every message they sent.
	DeleteUser(ctx context.Context, id string) error

	// Bots
	CreateBot(ctx context.Context, b *model.Bot) error
	GetBot(ctx context.Context, id string) (*model.Bot, error)
	ListBots(ctx context.Context) ([]*model.Bot, error)
	UpdateBot(ctx context.Context, b *model.Bot) error
	// DeleteBot removes the bot and every message it sent.
	DeleteBot(ctx context.Context, id string) error
	CountBots(ctx context.Context) (int, error)

	// Messages
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// RecentMessages returns up to limit of the newest messages, oldest first.
	RecentMessages(ctx context.Context, limit int) ([]*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	// Session summaries
	SaveSummary(ctx context.Context, s *model.SessionSummary) error
	ListSummaries(ctx context.Context, userID, room string) ([]*model.SessionSummary, error)

	Ping(ctx context.Context) error
	Close() error
}

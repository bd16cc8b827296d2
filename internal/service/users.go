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

// UserService handles profile and moderation operations on users.
type UserService struct {
	store     store.Store
	publisher Publisher
	logger    *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(s store.Store, pub Publisher, log *logger.Logger) *UserService {
	return &UserService{store: s, publisher: pub, logger: log}
}

// Me returns the user record of a verified external uid.
func (s *UserService) Me(ctx context.Context, uid string) (*model.User, error) {
	return s.store.GetUserByExternalUID(ctx, uid)
}

// UpdateProfile changes the caller's username and bio.
func (s *UserService) UpdateProfile(ctx context.Context, uid string, req *model.UpdateProfileRequest) (*model.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || len(username) > middleware.MaxUsernameLength {
		return nil, fmt.Errorf("%w: invalid username", ErrInvalid)
	}

	me, err := s.store.GetUserByExternalUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateUserProfile(ctx, me.ID, username, strings.TrimSpace(req.Bio))
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated", zap.String("user_id", updated.ID))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterUserUpdated, User: updated})
	return updated, nil
}

// DeleteAccount removes the caller and their messages.
func (s *UserService) DeleteAccount(ctx context.Context, uid string) error {
	me, err := s.store.GetUserByExternalUID(ctx, uid)
	if err != nil {
		return err
	}
	return s.delete(ctx, me)
}

// List returns a page of users, newest first.
func (s *UserService) List(ctx context.Context, page, limit int) (*model.ListUsersResponse, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	slices.Reverse(users)
	items, p := paginate(users, page, limit)
	return &model.ListUsersResponse{Users: items, Page: p}, nil
}

// Ban flags a user as banned. Admins cannot be banned.
func (s *UserService) Ban(ctx context.Context, id string) (*model.User, error) {
	return s.setBanned(ctx, id, true)
}

// Unban clears a user's ban.
func (s *UserService) Unban(ctx context.Context, id string) (*model.User, error) {
	return s.setBanned(ctx, id, false)
}

func (s *UserService) setBanned(ctx context.Context, id string, banned bool) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsAdmin {
		return nil, fmt.Errorf("%w: cannot moderate an admin", ErrForbidden)
	}
	if u.IsBanned == banned {
		if banned {
			return nil, fmt.Errorf("%w: user already banned", ErrConflict)
		}
		return nil, fmt.Errorf("%w: user was not banned", ErrConflict)
	}

	u, err = s.store.SetUserBanned(ctx, id, banned)
	if err != nil {
		return nil, err
	}

	evType := model.RosterUserBanned
	if !banned {
		evType = model.RosterUserUnbanned
	}
	s.logger.Info("user moderated", zap.String("user_id", id), zap.Bool("banned", banned))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: evType, User: u})
	return u, nil
}

// Delete removes a user and their messages. Admins cannot be deleted.
func (s *UserService) Delete(ctx context.Context, id string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.IsAdmin {
		return fmt.Errorf("%w: cannot delete an admin", ErrForbidden)
	}
	return s.delete(ctx, u)
}

func (s *UserService) delete(ctx context.Context, u *model.User) error {
	if err := s.store.DeleteUser(ctx, u.ID); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.String("user_id", u.ID))
	publish(ctx, s.publisher, s.logger, &model.RosterEvent{Type: model.RosterUserDeleted, User: u})
	return nil
}

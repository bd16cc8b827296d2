// Package presence tracks which users are online and caches the bot and user
// directory shown to clients.
package presence

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

// DirectorySource loads the roster backing the directory snapshot.
type DirectorySource interface {
	ListBots(ctx context.Context) ([]*model.Bot, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// Registry is the process-local presence set and directory cache.
//
// Presence is connection-counted: a user is online while at least one of
// their connections is open. Only the gateway should call Connect and
// Disconnect.
type Registry struct {
	source DirectorySource

	mu     sync.RWMutex
	counts map[string]int
	loaded bool
	bots   []*model.Bot
	users  []*model.User
}

// NewRegistry creates an empty registry. The directory is loaded from source
// on first use.
func NewRegistry(source DirectorySource) *Registry {
	return &Registry{
		source: source,
		counts: make(map[string]int),
	}
}

// Connect records one more open connection for userID and reports whether it
// is the user's first.
func (r *Registry) Connect(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[userID]++
	first := r.counts[userID] == 1
	if first {
		metrics.UsersOnline.Set(float64(len(r.counts)))
	}
	return first
}

// Disconnect records a closed connection for userID and reports whether it
// was the user's last. Disconnecting a user that is not online is a no-op
// that returns false.
func (r *Registry) Disconnect(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[userID]
	if !ok {
		return false
	}
	if n > 1 {
		r.counts[userID] = n - 1
		return false
	}
	delete(r.counts, userID)
	metrics.UsersOnline.Set(float64(len(r.counts)))
	return true
}

// Drop forgets every connection of userID, as when the account is deleted.
// It reports whether the user was online.
func (r *Registry) Drop(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.counts[userID]; !ok {
		return false
	}
	delete(r.counts, userID)
	metrics.UsersOnline.Set(float64(len(r.counts)))
	return true
}

// IsOnline reports whether userID has an open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID] > 0
}

// Online returns the ids of online users, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Refresh reloads the directory from the source.
func (r *Registry) Refresh(ctx context.Context) error {
	bots, err := r.source.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bots: %w", err)
	}
	users, err := r.source.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	r.mu.Lock()
	r.bots = bots
	r.users = users
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// Directory returns bots first (always online), then online users, then
// offline users.
func (r *Registry) Directory(ctx context.Context) ([]model.DirectoryEntry, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]model.DirectoryEntry, 0, len(r.bots)+len(r.users))
	for _, b := range r.bots {
		entries = append(entries, model.BotEntry(b))
	}
	var offline []model.DirectoryEntry
	for _, u := range r.users {
		if r.counts[u.ID] > 0 {
			entries = append(entries, model.UserEntry(u, model.StatusOnline))
		} else {
			offline = append(offline, model.UserEntry(u, model.StatusOffline))
		}
	}
	return append(entries, offline...), nil
}

// Lookup returns the directory entry for a bot or user id.
func (r *Registry) Lookup(ctx context.Context, id string) (model.DirectoryEntry, bool) {
	if err := r.ensureLoaded(ctx); err != nil {
		return model.DirectoryEntry{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bots {
		if b.ID == id {
			return model.BotEntry(b), true
		}
	}
	for _, u := range r.users {
		if u.ID == id {
			return model.UserEntry(u, r.status(u.ID)), true
		}
	}
	return model.DirectoryEntry{}, false
}

// FindBot resolves a mention name to a bot. Names match exactly.
func (r *Registry) FindBot(ctx context.Context, name string) (*model.Bot, bool) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := slices.IndexFunc(r.bots, func(b *model.Bot) bool { return b.Username == name })
	if i < 0 {
		return nil, false
	}
	return r.bots[i], true
}

// Bots returns the cached bot roster.
func (r *Registry) Bots(ctx context.Context) ([]*model.Bot, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.bots), nil
}

// UserEntry builds the directory entry of u with its current status.
func (r *Registry) UserEntry(u *model.User) model.DirectoryEntry {
	if r.IsOnline(u.ID) {
		return model.UserEntry(u, model.StatusOnline)
	}
	return model.UserEntry(u, model.StatusOffline)
}

func (r *Registry) status(userID string) string {
	if r.counts[userID] > 0 {
		return model.StatusOnline
	}
	return model.StatusOffline
}

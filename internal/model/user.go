package model

import (
	"slices"
	"time"
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// RolePremium grants the higher bot invocation allowance.
const RolePremium = "premium"

// User is a human account as known to the persistence store.
type User struct {
	ID          string    `json:"id"`
	ExternalUID string    `json:"-"`
	Email       string    `json:"email,omitempty"`
	Username    string    `json:"username"`
	Bio         string    `json:"bio,omitempty"`
	ProfilePic  string    `json:"profilePic,omitempty"`
	IsAdmin     bool      `json:"isAdmin"`
	IsBanned    bool      `json:"isBanned"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IsPremium reports whether the user gets the premium bot allowance.
func (u *User) IsPremium() bool {
	return u.IsAdmin || u.HasRole(RolePremium)
}

// Bot types.
const (
	BotTypeBasic = "basic"
	BotTypeDev   = "dev"
	BotTypeQC    = "qc"
)

// Bot is an AI personality addressable by @mention.
type Bot struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	BotRole     string    `json:"botRole"`
	BotType     string    `json:"botType"`
	Bio         string    `json:"bio,omitempty"`
	ProfilePic  string    `json:"profilePic,omitempty"`
	Personality string    `json:"botPersonality"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DirectoryEntry is the client-facing snapshot of a bot or user.
type DirectoryEntry struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
	IsBot      bool   `json:"isBot"`
	IsAdmin    bool   `json:"isAdmin,omitempty"`
	IsBanned   bool   `json:"isBanned,omitempty"`
	BotRole    string `json:"botRole,omitempty"`
	BotType    string `json:"botType,omitempty"`
	Status     string `json:"status"`
}

// UserEntry builds a directory entry for a user with the given status.
func UserEntry(u *User, status string) DirectoryEntry {
	return DirectoryEntry{
		ID:         u.ID,
		Username:   u.Username,
		Bio:        u.Bio,
		ProfilePic: u.ProfilePic,
		IsAdmin:    u.IsAdmin,
		IsBanned:   u.IsBanned,
		Status:     status,
	}
}

// BotEntry builds a directory entry for a bot. Bots are always online.
func BotEntry(b *Bot) DirectoryEntry {
	return DirectoryEntry{
		ID:         b.ID,
		Username:   b.Username,
		Bio:        b.Bio,
		ProfilePic: b.ProfilePic,
		IsBot:      true,
		BotRole:    b.BotRole,
		BotType:    b.BotType,
		Status:     StatusOnline,
	}
}

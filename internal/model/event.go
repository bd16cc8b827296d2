package model

import "encoding/json"

// Client to server events.
const (
	EventChatMessage            = "chatMessage"
	EventGetInitialMessages     = "getInitialMessages"
	EventGetInitialBotsAndUsers = "getInitialBotsAndUsers"
	EventGetInitialOnlineUsers  = "getInitialOnlineUsers"
)

// Server to client events.
const (
	EventMessage                 = "message"
	EventInitialMessages         = "initialMessages"
	EventInitialBotsAndUsersList = "initialBotsAndUsersList"
	EventOnlineUsers             = "onlineUsers"
	EventBotTyping               = "botTyping"
	EventUpdateUser              = "updateUser"
	EventBanUser                 = "banUser"
	EventUnBanUser               = "unBanUser"
	EventDeleteUser              = "deleteUser"
	EventCreateBot               = "createBot"
	EventUpdateBot               = "updateBot"
	EventDeleteBot               = "deleteBot"
	EventDeleteMessage           = "deleteMessage"
	EventUpdateBotsAndUsers      = "updateBotsAndUsers"
	EventError                   = "error"
)

// Envelope frames every websocket payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Alert is a toast-style notice attached to user events.
type Alert struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UserEvent carries a user snapshot and/or an alert.
type UserEvent struct {
	User  *DirectoryEntry `json:"user,omitempty"`
	Alert *Alert          `json:"alert,omitempty"`
}

// BotEvent carries a bot snapshot.
type BotEvent struct {
	Bot DirectoryEntry `json:"bot"`
}

// DeleteMessageEvent announces a moderation delete.
type DeleteMessageEvent struct {
	MessageID string `json:"messageId"`
}

// DirectoryEvent carries the full directory snapshot.
type DirectoryEvent struct {
	Data []DirectoryEntry `json:"data"`
}

// BotTypingEvent signals a bot invocation in progress.
type BotTypingEvent struct {
	BotName  string `json:"botName"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorEvent is sent to a single connection when an action was refused or failed.
type ErrorEvent struct {
	Message           string `json:"message"`
	Details           string `json:"details,omitempty"`
	RemainingMessages *int   `json:"remainingMessages,omitempty"`
}

// RosterEventType enumerates relayed admin actions.
type RosterEventType string

const (
	RosterUserUpdated    RosterEventType = "user.updated"
	RosterUserBanned     RosterEventType = "user.banned"
	RosterUserUnbanned   RosterEventType = "user.unbanned"
	RosterUserDeleted    RosterEventType = "user.deleted"
	RosterBotCreated     RosterEventType = "bot.created"
	RosterBotUpdated     RosterEventType = "bot.updated"
	RosterBotDeleted     RosterEventType = "bot.deleted"
	RosterMessageDeleted RosterEventType = "message.deleted"
)

// RosterEvent is an admin-originated change relayed to live connections.
type RosterEvent struct {
	ID        string          `json:"id"`
	Type      RosterEventType `json:"type"`
	User      *User           `json:"user,omitempty"`
	Bot       *Bot            `json:"bot,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
}

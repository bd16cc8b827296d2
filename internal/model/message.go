// Package model defines data structures for the chat gateway.
package model

import (
	"time"
)

// SenderType distinguishes human and bot authors.
type SenderType string

const (
	SenderUser SenderType = "User"
	SenderBot  SenderType = "Bot"
)

// Message represents a persisted chat message.
type Message struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"senderId"`
	SenderType SenderType `json:"senderType"`
	Content    string     `json:"content"`
	Room       string     `json:"room"`
	IsGlobal   bool       `json:"isGlobal"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// MessageView is a message with the sender snapshot attached, so clients
// need no follow-up fetch.
type MessageView struct {
	Message
	Sender DirectoryEntry `json:"sender"`
}

// ChatMessageRequest is the payload of a client chatMessage event.
type ChatMessageRequest struct {
	Text string `json:"text"`
	Room string `json:"room"`
}

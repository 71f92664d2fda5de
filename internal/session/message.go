package session

import (
	"time"

	"github.com/google/uuid"
)

// Role of a message author.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleSystemError Role = "system-error"
)

// Authors used for non-persona messages.
const (
	UserAuthor   = "You"
	SystemAuthor = "System"
)

// Message is one entry of a session log.
type Message struct {
	ID string `json:"id"`
	// Author is a copy of the display name at creation time.
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	IsEditing bool      `json:"isEditing"`

	// welcome marks the two locally generated greetings, which are never
	// sent as history.
	welcome bool
}

// IsWelcome reports whether m is one of the synthetic greetings.
func (m Message) IsWelcome() bool { return m.welcome }

func newMessage(now time.Time, role Role, author, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Author:    author,
		Content:   content,
		Timestamp: now,
		Role:      role,
	}
}

// WelcomeMessages returns the two greetings a fresh channel starts with.
func WelcomeMessages(now time.Time, author, channelID string) []Message {
	first := newMessage(now, RoleAssistant, author, "Welcome to #"+channelID+"! This is the beginning of this channel.")
	second := newMessage(now, RoleAssistant, author, "I'm your AI assistant. How can I help you today?")
	first.welcome, second.welcome = true, true
	return []Message{first, second}
}

package models

import (
	"fmt"
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Chat) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("chat title must not be empty")
	}
	return nil
}

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	IsImage   bool      `json:"is_image,omitempty"`
	RepliedTo string    `json:"replied_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields a well-formed message row must carry.
// RepliedTo is intentionally not checked against existing rows; a
// dangling reference is tolerated and resolved at render time.
func (m *Message) Validate() error {
	if m.ChatID == "" {
		return fmt.Errorf("message chat_id must not be empty")
	}
	if m.SenderID == "" {
		return fmt.Errorf("message sender_id must not be empty")
	}
	if m.Content == "" {
		return fmt.Errorf("message content must not be empty")
	}
	return nil
}

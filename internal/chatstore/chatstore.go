// Package chatstore holds the client-side state for the chat UI: the
// chat list, the active thread's messages and per-chat typing flags.
// It translates UI intents into backend calls and re-fetches the
// affected collection afterward; there is no incremental cache update.
package chatstore

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/verdantapps/verdant/internal/backend"
	"github.com/verdantapps/verdant/internal/models"
)

// ImagePreview is shown as a chat's last-message preview in place of
// raw image data.
const ImagePreview = "📷 Photo"

// SystemChatCreated is the seed message written when a chat is created.
const SystemChatCreated = "Chat created"

// Store is the single point of truth for the authenticated user's
// chats, the active chat's history and typing flags. Construct one per
// application with New; the backend is injected so tests can substitute
// an in-memory one.
type Store struct {
	backend backend.Client
	log     zerolog.Logger

	mu          sync.RWMutex
	currentChat *models.Chat
	chats       []models.Chat
	messages    []models.Message
	loading     bool
	typing      map[string]bool
}

func New(b backend.Client, logger zerolog.Logger) *Store {
	return &Store{
		backend: b,
		log:     logger,
		typing:  make(map[string]bool),
	}
}

// SetCurrentChat selects which chat's messages are displayed. Passing
// nil returns the view to an empty selection. No backend call is made.
func (s *Store) SetCurrentChat(chat *models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentChat = chat
}

func (s *Store) CurrentChat() *models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChat
}

func (s *Store) Chats() []models.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chats
}

func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// TypingIn reports whether someone is composing in the given chat.
func (s *Store) TypingIn(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[chatID]
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// FetchChats replaces the cached chat list with the backend's current
// rows, newest first. On error the prior cache stays displayed.
func (s *Store) FetchChats(ctx context.Context) {
	s.setLoading(true)
	defer s.setLoading(false)

	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("fetching chats")
		return
	}

	s.mu.Lock()
	s.chats = chats
	s.mu.Unlock()
}

// FetchMessages replaces the cached message list with the given chat's
// full history, oldest first. On error the prior cache stays displayed.
func (s *Store) FetchMessages(ctx context.Context, chatID string) {
	s.setLoading(true)
	defer s.setLoading(false)

	msgs, err := s.backend.ListMessages(ctx, chatID, 0)
	if err != nil {
		s.log.Error().Err(err).Str("chat_id", chatID).Msg("fetching messages")
		return
	}

	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()
}

// SendMessage writes one message and the parent chat's preview, then
// refreshes the cached history. With no authenticated identity it is a
// no-op. replyTo may name a message id to quote; it is stored as given,
// even when no such message exists.
func (s *Store) SendMessage(ctx context.Context, content, chatID string, isImage bool, replyTo string) error {
	session := s.backend.Session()
	if session == nil {
		return nil
	}

	preview := content
	if isImage {
		preview = ImagePreview
	}

	msg := models.Message{
		ChatID:    chatID,
		SenderID:  session.User.ID,
		Content:   content,
		IsImage:   isImage,
		RepliedTo: replyTo,
	}
	if _, err := s.backend.CreateMessage(ctx, msg, preview); err != nil {
		return errors.Wrap(err, "sending message")
	}

	s.FetchMessages(ctx, chatID)
	return nil
}

// CreateNewChat inserts a chat and its "Chat created" system message,
// then refreshes the chat list. participantEmail is accepted but not
// recorded anywhere; there is no membership table.
func (s *Store) CreateNewChat(ctx context.Context, title, participantEmail string) (*models.Chat, error) {
	session := s.backend.Session()
	if session == nil {
		return nil, nil
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("chat title must not be empty")
	}
	_ = participantEmail

	chat, err := s.backend.CreateChat(ctx, models.Chat{Title: title})
	if err != nil {
		return nil, errors.Wrap(err, "creating chat")
	}

	msg := models.Message{
		ChatID:   chat.ID,
		SenderID: session.User.ID,
		Content:  SystemChatCreated,
	}
	if _, err := s.backend.CreateMessage(ctx, msg, SystemChatCreated); err != nil {
		return nil, errors.Wrap(err, "creating system message")
	}

	s.FetchChats(ctx)
	return chat, nil
}

// CreateInitialChats seeds two sample chats for an empty list. It is
// not idempotent: every call inserts a fresh pair.
func (s *Store) CreateInitialChats(ctx context.Context) error {
	session := s.backend.Session()
	if session == nil {
		return nil
	}

	seeds := []struct {
		title    string
		messages []string
	}{
		{
			title: "🚀 Project Team",
			messages: []string{
				"Welcome to the project team! 👋",
				"Let's ship something great this week.",
			},
		},
		{
			title: "🎨 Design Discussion",
			messages: []string{
				"Drop your mockups and feedback here.",
			},
		},
	}

	for _, seed := range seeds {
		chat, err := s.backend.CreateChat(ctx, models.Chat{Title: seed.title})
		if err != nil {
			return errors.Wrapf(err, "creating sample chat %q", seed.title)
		}
		for _, content := range seed.messages {
			msg := models.Message{
				ChatID:   chat.ID,
				SenderID: session.User.ID,
				Content:  content,
			}
			if _, err := s.backend.CreateMessage(ctx, msg, content); err != nil {
				return errors.Wrapf(err, "seeding chat %q", seed.title)
			}
		}
	}

	s.FetchChats(ctx)
	return nil
}

// SetTypingStatus flips the local typing flag for a chat. Nothing is
// written to the backend and no other client sees it; decay is the
// caller's debounce responsibility.
func (s *Store) SetTypingStatus(chatID string, isTyping bool) {
	if s.backend.Session() == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if isTyping {
		s.typing[chatID] = true
	} else {
		delete(s.typing, chatID)
	}
}

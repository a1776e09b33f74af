package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/verdantapps/verdant/internal/models"
)

// Memory implements Client entirely in process. It backs demo mode and
// stands in for the hosted platform in tests.
type Memory struct {
	sessionBroker

	mu       sync.Mutex
	users    map[string]memoryUser // keyed by email
	sessions map[string]models.Session
	chats    map[string]models.Chat
	messages map[string][]models.Message // keyed by chat id
	lastTime time.Time

	// Test hooks. When set, reads or writes fail with the given error.
	ReadErr  error
	WriteErr error
	// Writes counts mutating table operations.
	Writes int
}

type memoryUser struct {
	user models.User
	hash []byte
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]memoryUser),
		sessions: make(map[string]models.Session),
		chats:    make(map[string]models.Chat),
		messages: make(map[string][]models.Message),
	}
}

func (m *Memory) Close() {}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// now returns a strictly increasing timestamp so rows written in the
// same instant still order deterministically by created_at.
func (m *Memory) now() time.Time {
	t := time.Now().UTC()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

// Auth

func (m *Memory) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	m.mu.Lock()
	if _, ok := m.users[email]; ok {
		m.mu.Unlock()
		return nil, ErrEmailTaken
	}
	user := models.User{ID: uuid.NewString(), Email: email, CreatedAt: m.now()}
	m.users[email] = memoryUser{user: user, hash: hash}
	m.mu.Unlock()

	return m.openSession(user), nil
}

func (m *Memory) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	m.mu.Lock()
	entry, ok := m.users[email]
	m.mu.Unlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(entry.hash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return m.openSession(entry.user), nil
}

func (m *Memory) openSession(user models.User) *models.Session {
	session := models.Session{
		Token:     uuid.NewString(),
		User:      user,
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	m.mu.Lock()
	m.sessions[session.Token] = session
	m.mu.Unlock()
	m.setSession(&session)
	return &session
}

func (m *Memory) SignOut(ctx context.Context) error {
	session := m.Session()
	if session == nil {
		return nil
	}
	m.mu.Lock()
	delete(m.sessions, session.Token)
	m.mu.Unlock()
	m.setSession(nil)
	return nil
}

func (m *Memory) RestoreSession(ctx context.Context, token string) (*models.Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[token]
	m.mu.Unlock()
	if !ok || session.Expired() {
		return nil, ErrNotFound
	}
	m.setSession(&session)
	return &session, nil
}

// Chats

func (m *Memory) CreateChat(ctx context.Context, chat models.Chat) (*models.Chat, error) {
	if m.WriteErr != nil {
		return nil, m.WriteErr
	}
	if err := chat.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = m.now()
	}
	m.chats[chat.ID] = chat
	m.Writes++
	return &chat, nil
}

func (m *Memory) ListChats(ctx context.Context) ([]models.Chat, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chats := make([]models.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		chats = append(chats, c)
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

// Messages

func (m *Memory) CreateMessage(ctx context.Context, msg models.Message, chatPreview string) (*models.Message, error) {
	if m.WriteErr != nil {
		return nil, m.WriteErr
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[msg.ChatID]
	if !ok {
		return nil, ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	chat.LastMessage = chatPreview
	m.chats[msg.ChatID] = chat
	m.Writes++
	return &msg, nil
}

func (m *Memory) ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]models.Message, len(m.messages[chatID]))
	copy(msgs, m.messages[chatID])
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

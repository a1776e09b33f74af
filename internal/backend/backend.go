// Package backend defines the client-side contract for the hosted data
// platform: durable table storage for chats and messages plus session
// based authentication. Implementations exist for Postgres (hosted),
// SQLite (local development) and memory (tests, demo mode).
package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/verdantapps/verdant/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrEmailTaken         = errors.New("email already registered")
)

// SessionFunc receives the new session on every auth change.
// A nil session means signed out.
type SessionFunc func(*models.Session)

// Client is the minimum surface the chat store and the auth gate need
// from the platform. Writes are durable once the call returns; reads
// observe the caller's own prior writes.
type Client interface {
	// SignUp registers a new account and opens a session for it.
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	// SignIn opens a session for an existing account.
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	// SignOut invalidates the current session, if any.
	SignOut(ctx context.Context) error
	// RestoreSession resumes a previously issued session token.
	RestoreSession(ctx context.Context, token string) (*models.Session, error)
	// Session returns the current session, nil when unauthenticated.
	Session() *models.Session
	// OnSessionChange subscribes to auth events (sign-in, sign-out,
	// restore). The returned handle removes the subscription.
	OnSessionChange(fn SessionFunc) (unsubscribe func())

	// CreateChat inserts a chat row. ID and CreatedAt are assigned by
	// the backend when left empty.
	CreateChat(ctx context.Context, chat models.Chat) (*models.Chat, error)
	// ListChats returns all chats ordered by creation time descending.
	ListChats(ctx context.Context) ([]models.Chat, error)

	// CreateMessage inserts a message row and updates the parent
	// chat's last_message preview as one unit: either both are stored
	// or neither is.
	CreateMessage(ctx context.Context, msg models.Message, chatPreview string) (*models.Message, error)
	// ListMessages returns a chat's messages ordered by creation time
	// ascending. limit 0 means no limit.
	ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close()
}

// sessionBroker holds the current session and fans auth events out to
// subscribers. Embedded by every Client implementation.
type sessionBroker struct {
	mu      sync.RWMutex
	current *models.Session
	subs    map[int]SessionFunc
	nextID  int
}

func (b *sessionBroker) Session() *models.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

func (b *sessionBroker) OnSessionChange(fn SessionFunc) func() {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]SessionFunc)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *sessionBroker) setSession(s *models.Session) {
	b.mu.Lock()
	b.current = s
	var fns []SessionFunc
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

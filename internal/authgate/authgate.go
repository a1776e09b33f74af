// Package authgate owns the authenticated identity. It is a two-state
// machine, unauthenticated or authenticated, whose transitions are
// driven only by backend-reported session events.
package authgate

import (
	"context"
	"sync"

	"github.com/verdantapps/verdant/internal/backend"
	"github.com/verdantapps/verdant/internal/models"
)

// ChangeFunc is called with the current user, nil when signed out.
type ChangeFunc func(*models.User)

type Gate struct {
	backend  backend.Client
	onChange ChangeFunc

	mu    sync.RWMutex
	user  *models.User
	unsub func()
}

func New(b backend.Client, onChange ChangeFunc) *Gate {
	return &Gate{backend: b, onChange: onChange}
}

// Start restores a prior session when a token is available and then
// subscribes to session changes for the lifetime of the gate. The
// restore failing is not an error: the gate just stays unauthenticated.
func (g *Gate) Start(ctx context.Context, token string) {
	g.mu.Lock()
	g.unsub = g.backend.OnSessionChange(func(session *models.Session) {
		g.apply(session)
	})
	g.mu.Unlock()

	if token != "" {
		// Restore fires the subscription on success.
		g.backend.RestoreSession(ctx, token)
	}
}

// Stop releases the session-change subscription.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsub != nil {
		g.unsub()
		g.unsub = nil
	}
}

func (g *Gate) apply(session *models.Session) {
	g.mu.Lock()
	if session == nil {
		g.user = nil
	} else {
		user := session.User
		g.user = &user
	}
	user := g.user
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(user)
	}
}

// User returns the authenticated identity, nil when unauthenticated.
func (g *Gate) User() *models.User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// Authenticated reports whether a user is signed in.
func (g *Gate) Authenticated() bool {
	return g.User() != nil
}

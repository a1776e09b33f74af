package authgate

import (
	"context"
	"testing"

	"github.com/verdantapps/verdant/internal/backend"
	"github.com/verdantapps/verdant/internal/models"
)

func TestGateFollowsSessionEvents(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()

	var changes []*models.User
	gate := New(mem, func(u *models.User) {
		changes = append(changes, u)
	})
	gate.Start(ctx, "")
	defer gate.Stop()

	if gate.Authenticated() {
		t.Fatal("Expected unauthenticated start")
	}

	session, err := mem.SignUp(ctx, "a@example.com", "secret")
	if err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	user := gate.User()
	if user == nil || user.ID != session.User.ID {
		t.Fatalf("Expected authenticated user, got %+v", user)
	}

	if err := mem.SignOut(ctx); err != nil {
		t.Fatalf("Failed to sign out: %v", err)
	}
	if gate.Authenticated() {
		t.Error("Expected unauthenticated after sign out")
	}

	if len(changes) != 2 {
		t.Errorf("Expected 2 change callbacks, got %d", len(changes))
	}
}

func TestGateRestoresPriorSession(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()

	session, err := mem.SignUp(ctx, "a@example.com", "secret")
	if err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	if err := mem.SignOut(ctx); err != nil {
		t.Fatalf("Failed to sign out: %v", err)
	}

	// SignOut invalidated the token; open a fresh session to restore.
	session, err = mem.SignIn(ctx, "a@example.com", "secret")
	if err != nil {
		t.Fatalf("Failed to sign in: %v", err)
	}

	gate := New(mem, nil)
	gate.Start(ctx, session.Token)
	defer gate.Stop()

	if !gate.Authenticated() {
		t.Fatal("Expected restored session to authenticate the gate")
	}
}

func TestGateRestoreFailureStaysUnauthenticated(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()

	gate := New(mem, nil)
	gate.Start(ctx, "expired-or-bogus")
	defer gate.Stop()

	if gate.Authenticated() {
		t.Error("Expected unauthenticated gate after failed restore")
	}
}

func TestGateStopReleasesSubscription(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()

	var changes int
	gate := New(mem, func(*models.User) { changes++ })
	gate.Start(ctx, "")
	gate.Stop()

	if _, err := mem.SignUp(ctx, "a@example.com", "secret"); err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	if changes != 0 {
		t.Errorf("Expected no callbacks after Stop, got %d", changes)
	}
}

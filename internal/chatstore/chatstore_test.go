package chatstore

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/verdantapps/verdant/internal/backend"
	"github.com/verdantapps/verdant/internal/models"
)

func newTestStore(t *testing.T) (*Store, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	if _, err := mem.SignUp(context.Background(), "test@example.com", "password"); err != nil {
		t.Fatalf("Failed to sign up: %v", err)
	}
	return New(mem, zerolog.Nop()), mem
}

func TestFetchChatsOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	titles := []string{"First", "Second", "Third"}
	for _, title := range titles {
		if _, err := mem.CreateChat(ctx, models.Chat{Title: title}); err != nil {
			t.Fatalf("Failed to create chat: %v", err)
		}
	}

	store.FetchChats(ctx)

	chats := store.Chats()
	if len(chats) != 3 {
		t.Fatalf("Expected 3 chats, got %d", len(chats))
	}
	// Newest first.
	for i, want := range []string{"Third", "Second", "First"} {
		if chats[i].Title != want {
			t.Errorf("chats[%d]: expected %q, got %q", i, want, chats[i].Title)
		}
	}
	for i := 1; i < len(chats); i++ {
		if chats[i].CreatedAt.After(chats[i-1].CreatedAt) {
			t.Errorf("chats not sorted by creation time descending at index %d", i)
		}
	}
}

func TestSendMessageOrderingAndPreview(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "General"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	for _, content := range []string{"hello", "how are you", "see you soon"} {
		if err := store.SendMessage(ctx, content, chat.ID, false, ""); err != nil {
			t.Fatalf("Failed to send %q: %v", content, err)
		}
	}

	msgs := store.Messages()
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("messages not sorted by creation time ascending at index %d", i)
		}
	}
	if msgs[2].Content != "see you soon" {
		t.Errorf("Expected last message %q, got %q", "see you soon", msgs[2].Content)
	}

	// The chat preview must equal the last message's content.
	chats, err := mem.ListChats(ctx)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if chats[0].LastMessage != "see you soon" {
		t.Errorf("Expected preview %q, got %q", "see you soon", chats[0].LastMessage)
	}
}

func TestSendImageUsesPlaceholderPreview(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "Photos"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	dataURI := "data:image/png;base64,iVBORw0KGgo="
	if err := store.SendMessage(ctx, dataURI, chat.ID, true, ""); err != nil {
		t.Fatalf("Failed to send image: %v", err)
	}

	msgs := store.Messages()
	if len(msgs) != 1 || !msgs[0].IsImage || msgs[0].Content != dataURI {
		t.Fatalf("Image message stored incorrectly: %+v", msgs)
	}

	chats, _ := mem.ListChats(ctx)
	if chats[0].LastMessage != ImagePreview {
		t.Errorf("Expected preview %q, got %q", ImagePreview, chats[0].LastMessage)
	}
}

func TestSendMessageUnauthenticatedIsNoOp(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	store := New(mem, zerolog.Nop())

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "General"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	writesBefore := mem.Writes

	if err := store.SendMessage(ctx, "hi", chat.ID, false, ""); err != nil {
		t.Fatalf("Expected silent no-op, got error: %v", err)
	}

	if mem.Writes != writesBefore {
		t.Errorf("Expected zero backend writes, got %d", mem.Writes-writesBefore)
	}
	if len(store.Messages()) != 0 {
		t.Errorf("Expected message cache unchanged, got %d messages", len(store.Messages()))
	}
}

func TestSendMessagePropagatesBackendError(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "General"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	mem.WriteErr = errors.New("constraint violation")
	if err := store.SendMessage(ctx, "hi", chat.ID, false, ""); err == nil {
		t.Fatal("Expected error to propagate to the caller")
	}
}

func TestSendMessageDanglingReply(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "General"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	// The reply target does not exist; the write must still succeed.
	if err := store.SendMessage(ctx, "hi", chat.ID, false, "no-such-message"); err != nil {
		t.Fatalf("Expected dangling reply to be written, got: %v", err)
	}

	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].RepliedTo != "no-such-message" {
		t.Fatalf("Expected stored dangling reference, got %+v", msgs)
	}
}

func TestFetchErrorsKeepPriorCache(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := mem.CreateChat(ctx, models.Chat{Title: "General"})
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	if err := store.SendMessage(ctx, "hello", chat.ID, false, ""); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	store.FetchChats(ctx)

	mem.ReadErr = errors.New("network down")
	store.FetchChats(ctx)
	store.FetchMessages(ctx, chat.ID)

	if len(store.Chats()) != 1 {
		t.Errorf("Expected prior chat cache to survive, got %d chats", len(store.Chats()))
	}
	if len(store.Messages()) != 1 {
		t.Errorf("Expected prior message cache to survive, got %d messages", len(store.Messages()))
	}
	if store.Loading() {
		t.Error("Loading flag stuck after failed fetch")
	}
}

func TestSetCurrentChat(t *testing.T) {
	store, _ := newTestStore(t)

	chat := &models.Chat{ID: "c1", Title: "General"}
	store.SetCurrentChat(chat)
	if got := store.CurrentChat(); got == nil || got.ID != "c1" {
		t.Fatalf("Expected current chat c1, got %+v", got)
	}

	store.SetCurrentChat(nil)
	if store.CurrentChat() != nil {
		t.Error("Expected empty selection after clearing")
	}
}

func TestTypingStatus(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetTypingStatus("c1", true)
	if !store.TypingIn("c1") {
		t.Error("Expected typing flag set immediately")
	}

	// No decay at the store level: the flag stays until cleared.
	if !store.TypingIn("c1") {
		t.Error("Expected typing flag to persist without a clearing call")
	}

	store.SetTypingStatus("c1", false)
	if store.TypingIn("c1") {
		t.Error("Expected typing flag cleared")
	}
}

func TestTypingStatusUnauthenticated(t *testing.T) {
	mem := backend.NewMemory()
	store := New(mem, zerolog.Nop())

	store.SetTypingStatus("c1", true)
	if store.TypingIn("c1") {
		t.Error("Expected no-op without an authenticated identity")
	}
}

func TestCreateInitialChatsIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	if err := store.CreateInitialChats(ctx); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	chats := store.Chats()
	if len(chats) != 2 {
		t.Fatalf("Expected exactly 2 chats, got %d", len(chats))
	}

	counts := map[string]int{}
	for _, chat := range chats {
		msgs, err := mem.ListMessages(ctx, chat.ID, 0)
		if err != nil {
			t.Fatalf("Failed to list messages: %v", err)
		}
		counts[chat.Title] = len(msgs)
	}
	if counts["🚀 Project Team"] != 2 {
		t.Errorf("Expected 2 seed messages in Project Team, got %d", counts["🚀 Project Team"])
	}
	if counts["🎨 Design Discussion"] != 1 {
		t.Errorf("Expected 1 seed message in Design Discussion, got %d", counts["🎨 Design Discussion"])
	}

	// A second call duplicates the samples.
	if err := store.CreateInitialChats(ctx); err != nil {
		t.Fatalf("Failed to seed again: %v", err)
	}
	if len(store.Chats()) != 4 {
		t.Errorf("Expected 4 chats after second seeding, got %d", len(store.Chats()))
	}
}

func TestCreateInitialChatsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	store := New(mem, zerolog.Nop())

	if err := store.CreateInitialChats(ctx); err != nil {
		t.Fatalf("Expected silent no-op, got: %v", err)
	}
	if mem.Writes != 0 {
		t.Errorf("Expected zero backend writes, got %d", mem.Writes)
	}
}

func TestCreateNewChat(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	chat, err := store.CreateNewChat(ctx, "Planning", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	if chat == nil || chat.Title != "Planning" {
		t.Fatalf("Expected chat titled Planning, got %+v", chat)
	}

	chats := store.Chats()
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat, got %d", len(chats))
	}

	msgs, err := mem.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		t.Fatalf("Failed to list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected exactly one system message, got %d", len(msgs))
	}
	if msgs[0].Content != SystemChatCreated {
		t.Errorf("Expected %q, got %q", SystemChatCreated, msgs[0].Content)
	}
	user := mem.Session().User
	if msgs[0].SenderID != user.ID {
		t.Errorf("Expected system message attributed to creator %s, got %s", user.ID, msgs[0].SenderID)
	}
}

func TestCreateNewChatParticipantEmailHasNoEffect(t *testing.T) {
	ctx := context.Background()
	store, mem := newTestStore(t)

	withEmail, err := store.CreateNewChat(ctx, "With", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}
	withoutEmail, err := store.CreateNewChat(ctx, "Without", "")
	if err != nil {
		t.Fatalf("Failed to create chat: %v", err)
	}

	// Same row shape either way: no membership record exists anywhere.
	chats, _ := mem.ListChats(ctx)
	if len(chats) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(chats))
	}
	for _, chat := range []*models.Chat{withEmail, withoutEmail} {
		msgs, _ := mem.ListMessages(ctx, chat.ID, 0)
		if len(msgs) != 1 {
			t.Errorf("chat %q: expected 1 message, got %d", chat.Title, len(msgs))
		}
	}
}

func TestCreateNewChatValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if _, err := store.CreateNewChat(ctx, "   ", ""); err == nil {
		t.Error("Expected error for empty title")
	}
}

func TestCreateNewChatUnauthenticated(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	store := New(mem, zerolog.Nop())

	chat, err := store.CreateNewChat(ctx, "Planning", "")
	if err != nil {
		t.Fatalf("Expected silent no-op, got: %v", err)
	}
	if chat != nil {
		t.Errorf("Expected no chat, got %+v", chat)
	}
	if mem.Writes != 0 {
		t.Errorf("Expected zero backend writes, got %d", mem.Writes)
	}
}

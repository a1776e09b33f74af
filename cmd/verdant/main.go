package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/verdantapps/verdant/internal/authgate"
	"github.com/verdantapps/verdant/internal/backend"
	"github.com/verdantapps/verdant/internal/chatstore"
	"github.com/verdantapps/verdant/internal/client/debug"
	"github.com/verdantapps/verdant/internal/client/session"
	"github.com/verdantapps/verdant/internal/config"
	"github.com/verdantapps/verdant/internal/models"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#10B981")
	secondaryColor = lipgloss.Color("#7C3AED")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(secondaryColor)

	quoteStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

var emojiPalette = []string{"😀", "😂", "❤️", "👍", "🎉", "😮", "😢", "🔥", "🚀", "👀"}

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewChats
	viewChat
	viewNewChat
)

// --- Messages ---

type sessionMsg struct {
	user *models.User
}

type authErrMsg struct {
	err error
}

type chatsRefreshedMsg struct{}

type messagesRefreshedMsg struct{}

type chatCreatedMsg struct {
	err error
}

type seededMsg struct {
	err error
}

type sendResultMsg struct {
	err error
}

type typingExpiredMsg struct {
	chatID string
	seq    int
}

// --- Main Model ---

type app struct {
	ctx    context.Context
	client backend.Client
	store  *chatstore.Store
	gate   *authgate.Gate
	cfg    *config.Config
	events chan *models.User

	// Auth
	authAction    string // "login" or "register"
	emailInput    textinput.Model
	passwordInput textinput.Model
	authFocused   int // 0=email, 1=password
	authError     string

	// Chat list
	selectedChat int

	// Chat view
	messageInput textinput.Model
	chatViewport viewport.Model
	replyingTo   string
	replySelect  bool
	replyCursor  int
	showEmoji    bool
	emojiCursor  int
	typingSeq    int
	status       string

	// New chat dialog
	titleInput       textinput.Model
	participantInput textinput.Model
	newChatFocused   int

	// UI
	view   viewState
	width  int
	height int
}

func newApp(ctx context.Context, client backend.Client, store *chatstore.Store, gate *authgate.Gate, cfg *config.Config, events chan *models.User) app {
	emailInput := textinput.New()
	emailInput.Placeholder = "Email"
	emailInput.Focus()
	emailInput.CharLimit = 128
	emailInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message (or /image <path>)..."
	messageInput.CharLimit = 4000
	messageInput.Width = 50

	titleInput := textinput.New()
	titleInput.Placeholder = "Chat title"
	titleInput.CharLimit = 128
	titleInput.Width = 30

	participantInput := textinput.New()
	participantInput.Placeholder = "Participant email (for direct chat)"
	participantInput.CharLimit = 128
	participantInput.Width = 30

	chatViewport := viewport.New(80, 20)

	return app{
		ctx:              ctx,
		client:           client,
		store:            store,
		gate:             gate,
		cfg:              cfg,
		events:           events,
		authAction:       "login",
		emailInput:       emailInput,
		passwordInput:    passwordInput,
		messageInput:     messageInput,
		titleInput:       titleInput,
		participantInput: participantInput,
		chatViewport:     chatViewport,
		view:             viewAuth,
	}
}

// --- Commands ---

func listenForSession(events chan *models.User) tea.Cmd {
	return func() tea.Msg {
		return sessionMsg{user: <-events}
	}
}

func (a app) authenticate(action, email, password string) tea.Cmd {
	return func() tea.Msg {
		var err error
		if action == "register" {
			_, err = a.client.SignUp(a.ctx, email, password)
		} else {
			_, err = a.client.SignIn(a.ctx, email, password)
		}
		if err != nil {
			return authErrMsg{err: err}
		}
		// Success arrives through the session channel.
		return nil
	}
}

func (a app) fetchChats() tea.Cmd {
	return func() tea.Msg {
		a.store.FetchChats(a.ctx)
		return chatsRefreshedMsg{}
	}
}

func (a app) fetchMessages(chatID string) tea.Cmd {
	return func() tea.Msg {
		a.store.FetchMessages(a.ctx, chatID)
		return messagesRefreshedMsg{}
	}
}

func (a app) sendMessage(content, chatID string, isImage bool, replyTo string) tea.Cmd {
	return func() tea.Msg {
		err := a.store.SendMessage(a.ctx, content, chatID, isImage, replyTo)
		return sendResultMsg{err: err}
	}
}

func (a app) sendImage(path, chatID string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return sendResultMsg{err: err}
		}
		mime := "image/png"
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg":
			mime = "image/jpeg"
		case ".gif":
			mime = "image/gif"
		case ".webp":
			mime = "image/webp"
		}
		dataURI := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
		err = a.store.SendMessage(a.ctx, dataURI, chatID, true, "")
		return sendResultMsg{err: err}
	}
}

func (a app) createChat(title, participantEmail string) tea.Cmd {
	return func() tea.Msg {
		_, err := a.store.CreateNewChat(a.ctx, title, participantEmail)
		return chatCreatedMsg{err: err}
	}
}

func (a app) seedChats() tea.Cmd {
	return func() tea.Msg {
		return seededMsg{err: a.store.CreateInitialChats(a.ctx)}
	}
}

func (a app) markTyping(chatID string, seq int) tea.Cmd {
	a.store.SetTypingStatus(chatID, true)
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return typingExpiredMsg{chatID: chatID, seq: seq}
	})
}

func (a app) signOut() tea.Cmd {
	return func() tea.Msg {
		if err := a.client.SignOut(a.ctx); err != nil {
			debug.Log("sign out: %v", err)
		}
		session.Clear(a.cfg.Profile)
		return nil
	}
}

// --- Init ---

func (a app) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		listenForSession(a.events),
	)
}

// --- Update ---

func (a app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "q":
			if a.view == viewChats {
				return a, tea.Quit
			}

		case "tab":
			switch a.view {
			case viewAuth:
				if a.authFocused == 0 {
					a.authFocused = 1
					a.emailInput.Blur()
					a.passwordInput.Focus()
				} else {
					a.authFocused = 0
					a.passwordInput.Blur()
					a.emailInput.Focus()
				}
			case viewNewChat:
				if a.newChatFocused == 0 {
					a.newChatFocused = 1
					a.titleInput.Blur()
					a.participantInput.Focus()
				} else {
					a.newChatFocused = 0
					a.participantInput.Blur()
					a.titleInput.Focus()
				}
			}

		case "ctrl+r":
			if a.view == viewAuth {
				if a.authAction == "login" {
					a.authAction = "register"
				} else {
					a.authAction = "login"
				}
			}
			if a.view == viewChat && !a.replySelect {
				if msgs := a.store.Messages(); len(msgs) > 0 {
					a.replySelect = true
					a.replyCursor = len(msgs) - 1
					a.updateChatViewport()
				}
			}

		case "ctrl+e":
			if a.view == viewChat {
				a.showEmoji = !a.showEmoji
			}

		case "ctrl+l":
			if a.view == viewChats {
				return a, a.signOut()
			}

		case "enter":
			switch a.view {
			case viewAuth:
				if a.emailInput.Value() != "" && a.passwordInput.Value() != "" {
					a.authError = ""
					return a, a.authenticate(a.authAction, a.emailInput.Value(), a.passwordInput.Value())
				}

			case viewChats:
				chats := a.store.Chats()
				if len(chats) > 0 && a.selectedChat < len(chats) {
					chat := chats[a.selectedChat]
					a.store.SetCurrentChat(&chat)
					a.view = viewChat
					a.status = ""
					a.replyingTo = ""
					a.messageInput.Focus()
					return a, a.fetchMessages(chat.ID)
				}

			case viewChat:
				if a.replySelect {
					msgs := a.store.Messages()
					if a.replyCursor < len(msgs) {
						a.replyingTo = msgs[a.replyCursor].ID
					}
					a.replySelect = false
					a.updateChatViewport()
					return a, nil
				}
				if a.showEmoji {
					a.messageInput.SetValue(a.messageInput.Value() + emojiPalette[a.emojiCursor])
					a.showEmoji = false
					return a, nil
				}
				if chat := a.store.CurrentChat(); chat != nil && strings.TrimSpace(a.messageInput.Value()) != "" {
					content := a.messageInput.Value()
					replyTo := a.replyingTo
					a.messageInput.SetValue("")
					a.replyingTo = ""
					a.typingSeq++
					a.store.SetTypingStatus(chat.ID, false)
					if path, ok := strings.CutPrefix(content, "/image "); ok {
						return a, a.sendImage(strings.TrimSpace(path), chat.ID)
					}
					return a, a.sendMessage(content, chat.ID, false, replyTo)
				}

			case viewNewChat:
				if strings.TrimSpace(a.titleInput.Value()) != "" {
					title := a.titleInput.Value()
					email := a.participantInput.Value()
					a.titleInput.SetValue("")
					a.participantInput.SetValue("")
					a.view = viewChats
					return a, a.createChat(title, email)
				}
			}

		case "up", "k":
			if a.view == viewChats && a.selectedChat > 0 {
				a.selectedChat--
			}
			if a.view == viewChat && a.replySelect && a.replyCursor > 0 {
				a.replyCursor--
				a.updateChatViewport()
			}

		case "down", "j":
			if a.view == viewChats && a.selectedChat < len(a.store.Chats())-1 {
				a.selectedChat++
			}
			if a.view == viewChat && a.replySelect && a.replyCursor < len(a.store.Messages())-1 {
				a.replyCursor++
				a.updateChatViewport()
			}

		case "left":
			if a.view == viewChat && a.showEmoji && a.emojiCursor > 0 {
				a.emojiCursor--
			}

		case "right":
			if a.view == viewChat && a.showEmoji && a.emojiCursor < len(emojiPalette)-1 {
				a.emojiCursor++
			}

		case "n":
			if a.view == viewChats {
				a.view = viewNewChat
				a.newChatFocused = 0
				a.participantInput.Blur()
				a.titleInput.Focus()
			}

		case "s":
			if a.view == viewChats && len(a.store.Chats()) == 0 {
				return a, a.seedChats()
			}

		case "esc":
			switch a.view {
			case viewChat:
				if a.replySelect {
					a.replySelect = false
					a.updateChatViewport()
					return a, nil
				}
				if a.showEmoji {
					a.showEmoji = false
					return a, nil
				}
				if a.replyingTo != "" {
					a.replyingTo = ""
					return a, nil
				}
				if chat := a.store.CurrentChat(); chat != nil {
					a.typingSeq++
					a.store.SetTypingStatus(chat.ID, false)
				}
				a.store.SetCurrentChat(nil)
				a.view = viewChats
				return a, a.fetchChats()
			case viewNewChat:
				a.view = viewChats
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.chatViewport.Width = msg.Width - 4
		a.chatViewport.Height = msg.Height - 10

	case sessionMsg:
		cmds = append(cmds, listenForSession(a.events))
		if msg.user == nil {
			a.view = viewAuth
			a.store.SetCurrentChat(nil)
			a.emailInput.SetValue("")
			a.passwordInput.SetValue("")
			a.authFocused = 0
			a.passwordInput.Blur()
			a.emailInput.Focus()
		} else {
			if s := a.client.Session(); s != nil {
				if err := session.Save(a.cfg.Profile, a.cfg.Backend, s.Token); err != nil {
					debug.Log("saving session: %v", err)
				}
			}
			a.view = viewChats
			a.authError = ""
			cmds = append(cmds, a.fetchChats())
		}

	case authErrMsg:
		a.authError = msg.err.Error()

	case chatsRefreshedMsg:
		if a.selectedChat >= len(a.store.Chats()) {
			a.selectedChat = 0
		}

	case messagesRefreshedMsg:
		a.updateChatViewport()

	case sendResultMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("send failed: %v", msg.err)
			debug.Log("send failed: %v", msg.err)
		} else {
			a.status = ""
			a.updateChatViewport()
		}

	case chatCreatedMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("create failed: %v", msg.err)
			debug.Log("create chat failed: %v", msg.err)
		}
		cmds = append(cmds, a.fetchChats())

	case seededMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("seeding failed: %v", msg.err)
			debug.Log("seeding failed: %v", msg.err)
		}
		cmds = append(cmds, a.fetchChats())

	case typingExpiredMsg:
		if msg.seq == a.typingSeq {
			a.store.SetTypingStatus(msg.chatID, false)
		}
	}

	// Update text inputs
	switch a.view {
	case viewAuth:
		if a.authFocused == 0 {
			a.emailInput, _ = a.emailInput.Update(msg)
		} else {
			a.passwordInput, _ = a.passwordInput.Update(msg)
		}
	case viewChat:
		if !a.replySelect && !a.showEmoji {
			before := a.messageInput.Value()
			var cmd tea.Cmd
			a.messageInput, cmd = a.messageInput.Update(msg)
			cmds = append(cmds, cmd)
			if chat := a.store.CurrentChat(); chat != nil && a.messageInput.Value() != before {
				a.typingSeq++
				cmds = append(cmds, a.markTyping(chat.ID, a.typingSeq))
			}
		}
		a.chatViewport, _ = a.chatViewport.Update(msg)
	case viewNewChat:
		if a.newChatFocused == 0 {
			a.titleInput, _ = a.titleInput.Update(msg)
		} else {
			a.participantInput, _ = a.participantInput.Update(msg)
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *app) updateChatViewport() {
	user := a.gate.User()
	msgs := a.store.Messages()

	var content strings.Builder
	for i, msg := range msgs {
		timestamp := msg.CreatedAt.Local().Format("15:04")
		style := otherMessageStyle
		sender := "them"
		if user != nil && msg.SenderID == user.ID {
			style = ownMessageStyle
			sender = "you"
		}

		prefix := "  "
		if a.replySelect && i == a.replyCursor {
			prefix = selectedStyle.Render("→ ")
		}

		if msg.RepliedTo != "" {
			content.WriteString("  " + quoteStyle.Render("┃ "+a.quotedContent(msgs, msg.RepliedTo)) + "\n")
		}

		body := msg.Content
		if msg.IsImage {
			body = chatstore.ImagePreview
		}
		line := fmt.Sprintf("%s%s %s: %s",
			prefix,
			mutedStyle.Render(timestamp),
			style.Render(sender),
			body,
		)
		content.WriteString(line + "\n")
	}
	a.chatViewport.SetContent(content.String())
	if !a.replySelect {
		a.chatViewport.GotoBottom()
	}
}

// quotedContent resolves a reply target against the cached history.
// The reference may dangle: nothing validated it at write time.
func (a *app) quotedContent(msgs []models.Message, id string) string {
	for _, m := range msgs {
		if m.ID == id {
			if m.IsImage {
				return chatstore.ImagePreview
			}
			return truncate(m.Content, 60)
		}
	}
	return "Message not found"
}

// --- View ---

func (a app) View() string {
	switch a.view {
	case viewAuth:
		return a.authView()
	case viewChats:
		return a.chatsView()
	case viewChat:
		return a.chatView()
	case viewNewChat:
		return a.newChatView()
	}
	return ""
}

func (a app) authView() string {
	var s strings.Builder

	s.WriteString("\n\n")
	s.WriteString(titleStyle.Render("VERDANT"))
	s.WriteString("\n\n")

	if a.authAction == "login" {
		s.WriteString(selectedStyle.Render("  → Login"))
		s.WriteString(mutedStyle.Render("   Register\n"))
	} else {
		s.WriteString(mutedStyle.Render("  Login   "))
		s.WriteString(selectedStyle.Render("→ Register\n"))
	}
	s.WriteString(helpStyle.Render("  (Ctrl+R to switch)\n\n"))

	s.WriteString("  Email:\n")
	s.WriteString("  " + a.emailInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + a.passwordInput.View() + "\n\n")

	if a.authError != "" {
		s.WriteString(errorStyle.Render("  " + a.authError + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to submit • q to quit\n"))

	return s.String()
}

func (a app) chatsView() string {
	var s strings.Builder

	header := "Chats"
	if user := a.gate.User(); user != nil {
		header = fmt.Sprintf("Chats — %s", user.Email)
	}
	s.WriteString(titleStyle.Render(header))
	s.WriteString("\n\n")

	chats := a.store.Chats()
	if a.store.Loading() && len(chats) == 0 {
		s.WriteString(mutedStyle.Render("  Loading...\n"))
	} else if len(chats) == 0 {
		s.WriteString(mutedStyle.Render("  No chats yet.\n"))
		s.WriteString(mutedStyle.Render("  Press 's' to create sample chats, 'n' for a new one.\n"))
	} else {
		for i, chat := range chats {
			prefix := "  "
			style := lipgloss.NewStyle()
			if i == a.selectedChat {
				prefix = "→ "
				style = selectedStyle
			}
			s.WriteString(style.Render(fmt.Sprintf("%s%s  %s\n",
				prefix, chat.Title, mutedStyle.Render(chat.CreatedAt.Local().Format("15:04")))))
			if chat.LastMessage != "" {
				s.WriteString(mutedStyle.Render(fmt.Sprintf("    %s\n", truncate(chat.LastMessage, 60))))
			}
		}
	}

	if a.status != "" {
		s.WriteString("\n" + errorStyle.Render("  "+a.status))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • n for new • Ctrl+L to log out • q to quit"))

	return s.String()
}

func (a app) chatView() string {
	var s strings.Builder

	chat := a.store.CurrentChat()
	if chat == nil {
		return mutedStyle.Render("Select a chat to start messaging")
	}

	s.WriteString(titleStyle.Render("💬 " + chat.Title))
	s.WriteString("\n")
	if a.store.TypingIn(chat.ID) {
		s.WriteString(mutedStyle.Render("Someone is typing...\n"))
	}
	s.WriteString(strings.Repeat("─", max(a.width-2, 10)))
	s.WriteString("\n")
	s.WriteString(a.chatViewport.View())
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(a.width-2, 10)))
	s.WriteString("\n")

	if a.replyingTo != "" {
		s.WriteString(mutedStyle.Render("Replying to: "+a.quotedContent(a.store.Messages(), a.replyingTo)) + "\n")
	}
	if a.showEmoji {
		var row strings.Builder
		for i, e := range emojiPalette {
			if i == a.emojiCursor {
				row.WriteString(selectedStyle.Render("[" + e + "]"))
			} else {
				row.WriteString(" " + e + " ")
			}
		}
		s.WriteString(row.String() + "\n")
	}

	s.WriteString(a.messageInput.View())
	s.WriteString("\n")
	if a.status != "" {
		s.WriteString(errorStyle.Render(a.status) + "\n")
	}

	if a.replySelect {
		s.WriteString(helpStyle.Render("↑/↓ pick a message to reply to • Enter to confirm • Esc to cancel"))
	} else {
		s.WriteString(helpStyle.Render("Enter to send • Ctrl+R reply • Ctrl+E emoji • Esc to go back"))
	}

	return s.String()
}

func (a app) newChatView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Chat"))
	s.WriteString("\n\n")

	s.WriteString("  Title:\n")
	s.WriteString("  " + a.titleInput.View() + "\n\n")
	s.WriteString("  Participant:\n")
	s.WriteString("  " + a.participantInput.View() + "\n\n")

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to create • Esc to cancel"))

	return s.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// --- Main ---

func main() {
	cfg := config.Load()
	debug.Enabled = cfg.Debug

	var logWriter io.Writer = io.Discard
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			defer f.Close()
			logWriter = f
		}
	}
	logger := zerolog.New(logWriter).With().Timestamp().Logger()

	ctx := context.Background()

	var client backend.Client
	var err error
	switch cfg.Backend {
	case "postgres":
		client, err = backend.NewPostgres(ctx, cfg.DatabaseURL, logger)
	case "memory":
		client = backend.NewMemory()
	default:
		client, err = backend.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	store := chatstore.New(client, logger)

	events := make(chan *models.User, 8)
	gate := authgate.New(client, func(u *models.User) {
		events <- u
	})

	var token string
	if saved := session.Load(cfg.Profile); saved != nil && saved.Backend == cfg.Backend {
		token = saved.Token
	}
	gate.Start(ctx, token)
	defer gate.Stop()

	p := tea.NewProgram(newApp(ctx, client, store, gate, cfg, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

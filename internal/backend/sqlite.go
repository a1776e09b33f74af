package backend

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/verdantapps/verdant/internal/models"
)

// SQLite keeps the same contract as Postgres in a local file, for
// development without a hosted instance.
type SQLite struct {
	sessionBroker
	db  *sql.DB
	log zerolog.Logger
}

func NewSQLite(ctx context.Context, dbPath string, logger zerolog.Logger) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "./data/verdant.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging database")
	}

	s := &SQLite{db: db, log: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "initializing schema")
	}
	logger.Info().Str("path", dbPath).Msg("opened SQLite database")
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		last_message TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_image INTEGER NOT NULL DEFAULT 0,
		replied_to TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chats_created ON chats(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Auth

func (s *SQLite) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	user := models.User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, email, string(hash), user.CreatedAt,
	)
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "inserting user")
	}

	return s.openSession(ctx, user)
}

func (s *SQLite) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var user models.User
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		email,
	).Scan(&user.ID, &user.Email, &hash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, errors.Wrap(err, "looking up user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, user)
}

func (s *SQLite) openSession(ctx context.Context, user models.User) (*models.Session, error) {
	session := &models.Session{
		Token:     uuid.NewString(),
		User:      user,
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		session.Token, user.ID, session.ExpiresAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting session")
	}
	s.setSession(session)
	return session, nil
}

func (s *SQLite) SignOut(ctx context.Context) error {
	session := s.Session()
	if session == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", session.Token); err != nil {
		return errors.Wrap(err, "deleting session")
	}
	s.setSession(nil)
	return nil
}

func (s *SQLite) RestoreSession(ctx context.Context, token string) (*models.Session, error) {
	session := &models.Session{Token: token}
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ?
	`, token).Scan(&session.User.ID, &session.User.Email, &session.User.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "looking up session")
	}
	if session.Expired() {
		s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
		return nil, ErrNotFound
	}
	s.setSession(session)
	return session, nil
}

// Chats

func (s *SQLite) CreateChat(ctx context.Context, chat models.Chat) (*models.Chat, error) {
	if err := chat.Validate(); err != nil {
		return nil, err
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	var lastMessage *string
	if chat.LastMessage != "" {
		lastMessage = &chat.LastMessage
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (id, title, last_message, created_at) VALUES (?, ?, ?, ?)",
		chat.ID, chat.Title, lastMessage, chat.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting chat")
	}
	return &chat, nil
}

func (s *SQLite) ListChats(ctx context.Context) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, last_message, created_at
		FROM chats
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "querying chats")
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		var lastMessage sql.NullString
		if err := rows.Scan(&c.ID, &c.Title, &lastMessage, &c.CreatedAt); err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed chat row")
			continue
		}
		if lastMessage.Valid {
			c.LastMessage = lastMessage.String
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Messages

func (s *SQLite) CreateMessage(ctx context.Context, msg models.Message, chatPreview string) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var repliedTo *string
	if msg.RepliedTo != "" {
		repliedTo = &msg.RepliedTo
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, is_image, replied_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.IsImage, repliedTo, msg.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting message")
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE chats SET last_message = ? WHERE id = ?",
		chatPreview, msg.ChatID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "updating chat preview")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing transaction")
	}
	return &msg, nil
}

func (s *SQLite) ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, is_image, replied_to, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC
	`
	args := []interface{}{chatID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var repliedTo sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsImage, &repliedTo, &m.CreatedAt); err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed message row")
			continue
		}
		if repliedTo.Valid {
			m.RepliedTo = repliedTo.String
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

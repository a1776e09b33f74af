package backend

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/verdantapps/verdant/internal/models"
)

const sessionTTL = 30 * 24 * time.Hour

// Postgres talks to the hosted Postgres instance.
type Postgres struct {
	sessionBroker
	db  *sql.DB
	log zerolog.Logger
}

func NewPostgres(ctx context.Context, connStr string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging database")
	}

	p := &Postgres{db: db, log: logger}
	if err := p.initSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "initializing schema")
	}
	logger.Info().Msg("connected to Postgres")
	return p, nil
}

// initSchema creates tables if they don't exist. replied_to carries no
// foreign key: a message may reference an id that was never written and
// the reference is resolved at render time instead.
func (p *Postgres) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		last_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_image BOOLEAN NOT NULL DEFAULT FALSE,
		replied_to TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chats_created ON chats(created_at);
	`
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) Close() {
	p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Auth

func (p *Postgres) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	user := models.User{ID: uuid.NewString(), Email: email}
	err = p.db.QueryRowContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING created_at",
		user.ID, email, string(hash),
	).Scan(&user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "inserting user")
	}

	return p.openSession(ctx, user)
}

func (p *Postgres) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	var user models.User
	var hash string
	err := p.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1",
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

	return p.openSession(ctx, user)
}

func (p *Postgres) openSession(ctx context.Context, user models.User) (*models.Session, error) {
	session := &models.Session{
		Token:     uuid.NewString(),
		User:      user,
		ExpiresAt: time.Now().Add(sessionTTL),
	}
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)",
		session.Token, user.ID, session.ExpiresAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting session")
	}
	p.setSession(session)
	return session, nil
}

func (p *Postgres) SignOut(ctx context.Context) error {
	session := p.Session()
	if session == nil {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", session.Token); err != nil {
		return errors.Wrap(err, "deleting session")
	}
	p.setSession(nil)
	return nil
}

func (p *Postgres) RestoreSession(ctx context.Context, token string) (*models.Session, error) {
	session := &models.Session{Token: token}
	err := p.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = $1
	`, token).Scan(&session.User.ID, &session.User.Email, &session.User.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "looking up session")
	}
	if session.Expired() {
		p.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", token)
		return nil, ErrNotFound
	}
	p.setSession(session)
	return session, nil
}

// Chats

func (p *Postgres) CreateChat(ctx context.Context, chat models.Chat) (*models.Chat, error) {
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
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO chats (id, title, last_message, created_at) VALUES ($1, $2, $3, $4)",
		chat.ID, chat.Title, lastMessage, chat.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "inserting chat")
	}
	return &chat, nil
}

func (p *Postgres) ListChats(ctx context.Context) ([]models.Chat, error) {
	rows, err := p.db.QueryContext(ctx, `
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
			p.log.Warn().Err(err).Msg("skipping malformed chat row")
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

func (p *Postgres) CreateMessage(ctx context.Context, msg models.Message, chatPreview string) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := p.db.BeginTx(ctx, nil)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.IsImage, repliedTo, msg.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "inserting message")
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE chats SET last_message = $1 WHERE id = $2",
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

func (p *Postgres) ListMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, is_image, replied_to, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`
	args := []interface{}{chatID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var repliedTo sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.IsImage, &repliedTo, &m.CreatedAt); err != nil {
			p.log.Warn().Err(err).Msg("skipping malformed message row")
			continue
		}
		if repliedTo.Valid {
			m.RepliedTo = repliedTo.String
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/airwavehq/airwave-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	phone         TEXT UNIQUE,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	premium_until DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	code       TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS participants (
	user_id      INTEGER NOT NULL REFERENCES users(id),
	channel_id   INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	is_moderator BOOLEAN NOT NULL DEFAULT 0,
	is_owner     BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, channel_id)
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	body       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tickets (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	username   TEXT NOT NULL,
	phone      TEXT NOT NULL,
	image_url  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, phone, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (phone, username, password_hash)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, nullString(phone), username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// EnsureUser returns the user with the given username, creating a bare
// record if none exists.
func (s *SQLiteStore) EnsureUser(ctx context.Context, username string) (*store.User, error) {
	user, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES (?, '')`, username)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

// GetUserByPhone retrieves a user by phone.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*store.User, error) {
	return s.getUser(ctx, `WHERE phone = ?`, phone)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `
		SELECT id, COALESCE(phone, ''), username, password_hash, premium_until, created_at
		FROM users ` + where

	var u store.User
	var premium sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Phone, &u.Username, &u.PasswordHash, &premium, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if premium.Valid {
		u.PremiumUntil = &premium.Time
	}
	return &u, nil
}

// SetPremiumUntil updates the user's premium entitlement expiry.
func (s *SQLiteStore) SetPremiumUntil(ctx context.Context, userID int64, until time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET premium_until = ? WHERE id = ?`, until, userID)
	if err != nil {
		return fmt.Errorf("update premium: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== ChannelStore implementation ====

// CreateChannel creates a channel and registers the owner participant.
func (s *SQLiteStore) CreateChannel(ctx context.Context, name, code string, ownerID int64) (*store.Channel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO channels (name, code) VALUES (?, ?)`, name, code)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (user_id, channel_id, is_moderator, is_owner) VALUES (?, ?, 1, 1)`,
		ownerID, id); err != nil {
		return nil, fmt.Errorf("insert owner participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.GetChannelByID(ctx, id)
}

// GetChannelByID retrieves a channel by ID.
func (s *SQLiteStore) GetChannelByID(ctx context.Context, id int64) (*store.Channel, error) {
	return s.getChannel(ctx, `WHERE id = ?`, id)
}

// GetChannelByCode retrieves a channel by its join code.
func (s *SQLiteStore) GetChannelByCode(ctx context.Context, code string) (*store.Channel, error) {
	return s.getChannel(ctx, `WHERE code = ?`, code)
}

func (s *SQLiteStore) getChannel(ctx context.Context, where string, arg any) (*store.Channel, error) {
	query := `SELECT id, name, code, created_at FROM channels ` + where

	var c store.Channel
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.Name, &c.Code, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return &c, nil
}

// ListChannelsForUser lists channels the user participates in.
func (s *SQLiteStore) ListChannelsForUser(ctx context.Context, userID int64) ([]*store.Channel, error) {
	query := `
		SELECT c.id, c.name, c.code, c.created_at
		FROM channels c
		JOIN participants p ON p.channel_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*store.Channel, 0)
	for rows.Next() {
		var c store.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Code, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

// DeleteChannel removes a channel and all of its participants.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddParticipant adds a user to a channel.
func (s *SQLiteStore) AddParticipant(ctx context.Context, userID, channelID int64, isModerator, isOwner bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (user_id, channel_id, is_moderator, is_owner)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO NOTHING
	`, userID, channelID, isModerator, isOwner)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes a user from a channel.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, userID, channelID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetParticipant retrieves a single membership record.
func (s *SQLiteStore) GetParticipant(ctx context.Context, userID, channelID int64) (*store.Participant, error) {
	query := `
		SELECT p.user_id, p.channel_id, u.username, COALESCE(u.phone, ''), p.is_moderator, p.is_owner
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id = ? AND p.channel_id = ?
	`
	var p store.Participant
	err := s.db.QueryRowContext(ctx, query, userID, channelID).Scan(
		&p.UserID, &p.ChannelID, &p.Username, &p.Phone, &p.IsModerator, &p.IsOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return &p, nil
}

// ListParticipants lists all members of a channel.
func (s *SQLiteStore) ListParticipants(ctx context.Context, channelID int64) ([]*store.Participant, error) {
	query := `
		SELECT p.user_id, p.channel_id, u.username, COALESCE(u.phone, ''), p.is_moderator, p.is_owner
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.channel_id = ?
		ORDER BY p.user_id
	`
	rows, err := s.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*store.Participant, 0)
	for rows.Next() {
		var p store.Participant
		if err := rows.Scan(&p.UserID, &p.ChannelID, &p.Username, &p.Phone, &p.IsModerator, &p.IsOwner); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

// GetChannelOwner returns the owning participant of a channel.
func (s *SQLiteStore) GetChannelOwner(ctx context.Context, channelID int64) (*store.Participant, error) {
	query := `
		SELECT p.user_id, p.channel_id, u.username, COALESCE(u.phone, ''), p.is_moderator, p.is_owner
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.channel_id = ? AND p.is_owner = 1
	`
	var p store.Participant
	err := s.db.QueryRowContext(ctx, query, channelID).Scan(
		&p.UserID, &p.ChannelID, &p.Username, &p.Phone, &p.IsModerator, &p.IsOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query channel owner: %w", err)
	}
	return &p, nil
}

// ==== ChatStore implementation ====

// SaveChatMessage persists a message.
func (s *SQLiteStore) SaveChatMessage(ctx context.Context, msg *store.ChatMessage) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (channel_id, user_id, body)
		VALUES (?, ?, ?)
	`, msg.ChannelID, msg.UserID, msg.Body)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListChatMessages retrieves messages from a channel, oldest first.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*store.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT m.id, m.channel_id, m.user_id, u.username, m.body, m.created_at
		FROM chat_messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ?
	`
	args := []any{channelID}
	if beforeID != nil {
		query += ` AND m.id < ?`
		args = append(args, *beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.ChatMessage, 0)
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Username, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteAllChatMessages purges every chat message.
func (s *SQLiteStore) DeleteAllChatMessages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	return nil
}

// ==== TicketStore implementation ====

// CreateTicket records a premium upgrade request.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t *store.Ticket) (*store.Ticket, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (user_id, username, phone, image_url)
		VALUES (?, ?, ?, ?)
	`, t.UserID, t.Username, t.Phone, t.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	t.ID = id
	return t, nil
}

// ListTickets lists all pending tickets.
func (s *SQLiteStore) ListTickets(ctx context.Context) ([]*store.Ticket, error) {
	return s.listTickets(ctx, ``, nil)
}

// ListTicketsForUser lists tickets submitted by one user.
func (s *SQLiteStore) ListTicketsForUser(ctx context.Context, userID int64) ([]*store.Ticket, error) {
	return s.listTickets(ctx, `WHERE user_id = ?`, []any{userID})
}

func (s *SQLiteStore) listTickets(ctx context.Context, where string, args []any) ([]*store.Ticket, error) {
	query := `SELECT id, user_id, username, phone, image_url, created_at FROM tickets ` +
		where + ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]*store.Ticket, 0)
	for rows.Next() {
		var t store.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.Username, &t.Phone, &t.ImageURL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}

// GetTicketByPhone retrieves a ticket by the requester's phone.
func (s *SQLiteStore) GetTicketByPhone(ctx context.Context, phone string) (*store.Ticket, error) {
	query := `SELECT id, user_id, username, phone, image_url, created_at FROM tickets WHERE phone = ?`

	var t store.Ticket
	err := s.db.QueryRowContext(ctx, query, phone).Scan(
		&t.ID, &t.UserID, &t.Username, &t.Phone, &t.ImageURL, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	return &t, nil
}

// DeleteTicket removes a ticket.
func (s *SQLiteStore) DeleteTicket(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a persisted user.
type User struct {
	ID           int64
	Phone        string
	Username     string
	PasswordHash string
	// PremiumUntil is the last day the user's premium entitlement covers.
	// nil means the user never had premium.
	PremiumUntil *time.Time
	CreatedAt    time.Time
}

// Channel represents a named audio space with a persistent membership list.
type Channel struct {
	ID        int64
	Name      string
	Code      string // unique join code
	CreatedAt time.Time
}

// Participant represents channel membership for a persistent user.
type Participant struct {
	UserID      int64
	ChannelID   int64
	Username    string
	Phone       string
	IsModerator bool
	IsOwner     bool
}

// ChatMessage represents a persisted text chat message in a channel.
type ChatMessage struct {
	ID        int64
	ChannelID int64
	UserID    int64
	Username  string
	Body      string
	CreatedAt time.Time
}

// Ticket is a pending premium upgrade request.
type Ticket struct {
	ID        int64
	UserID    int64
	Username  string
	Phone     string
	ImageURL  string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, phone, username, passwordHash string) (*User, error)

	// EnsureUser returns the user with the given username, creating a
	// bare record if none exists.
	EnsureUser(ctx context.Context, username string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserByPhone retrieves a user by phone.
	GetUserByPhone(ctx context.Context, phone string) (*User, error)

	// SetPremiumUntil updates the user's premium entitlement expiry.
	SetPremiumUntil(ctx context.Context, userID int64, until time.Time) error
}

// ChannelStore handles channel and membership persistence.
type ChannelStore interface {
	// CreateChannel creates a channel and registers the owner participant.
	CreateChannel(ctx context.Context, name, code string, ownerID int64) (*Channel, error)

	// GetChannelByID retrieves a channel by ID.
	GetChannelByID(ctx context.Context, id int64) (*Channel, error)

	// GetChannelByCode retrieves a channel by its join code.
	GetChannelByCode(ctx context.Context, code string) (*Channel, error)

	// ListChannelsForUser lists channels the user participates in.
	ListChannelsForUser(ctx context.Context, userID int64) ([]*Channel, error)

	// DeleteChannel removes a channel and all of its participants.
	DeleteChannel(ctx context.Context, id int64) error

	// AddParticipant adds a user to a channel.
	AddParticipant(ctx context.Context, userID, channelID int64, isModerator, isOwner bool) error

	// RemoveParticipant removes a user from a channel.
	RemoveParticipant(ctx context.Context, userID, channelID int64) error

	// GetParticipant retrieves a single membership record.
	GetParticipant(ctx context.Context, userID, channelID int64) (*Participant, error)

	// ListParticipants lists all members of a channel.
	ListParticipants(ctx context.Context, channelID int64) ([]*Participant, error)

	// GetChannelOwner returns the owning participant of a channel.
	GetChannelOwner(ctx context.Context, channelID int64) (*Participant, error)
}

// ChatStore handles text chat persistence.
type ChatStore interface {
	// SaveChatMessage persists a message.
	SaveChatMessage(ctx context.Context, msg *ChatMessage) error

	// ListChatMessages retrieves messages from a channel, oldest first.
	// If beforeID is provided, returns messages older than that ID.
	ListChatMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*ChatMessage, error)

	// DeleteAllChatMessages purges every chat message.
	DeleteAllChatMessages(ctx context.Context) error
}

// TicketStore handles premium upgrade requests.
type TicketStore interface {
	// CreateTicket records a premium upgrade request.
	CreateTicket(ctx context.Context, t *Ticket) (*Ticket, error)

	// ListTickets lists all pending tickets.
	ListTickets(ctx context.Context) ([]*Ticket, error)

	// ListTicketsForUser lists tickets submitted by one user.
	ListTicketsForUser(ctx context.Context, userID int64) ([]*Ticket, error)

	// GetTicketByPhone retrieves a ticket by the requester's phone.
	GetTicketByPhone(ctx context.Context, phone string) (*Ticket, error)

	// DeleteTicket removes a ticket.
	DeleteTicket(ctx context.Context, id int64) error
}

// MembershipStore backs the live radio core's collaborator checks.
type MembershipStore interface {
	// EnsureMember verifies the channel exists and that the user is a
	// member, auto-provisioning the user and a non-privileged membership
	// record when absent. Returns ErrNotFound for an unknown channel.
	EnsureMember(ctx context.Context, channelID int64, username string) error

	// AutoRecordEnabled reports whether the channel owner's premium
	// entitlement covers the given day.
	AutoRecordEnabled(ctx context.Context, channelID int64, day time.Time) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore
	ChatStore
	TicketStore
	MembershipStore

	// Close closes the underlying database connection.
	Close() error
}

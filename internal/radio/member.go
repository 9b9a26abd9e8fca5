package radio

import (
	"context"
	"sync/atomic"
	"time"
)

// Conn is the transport capability the manager needs from a live connection.
// The transport adapter owns the underlying socket and lends it to the
// manager for the lifetime of the session.
type Conn interface {
	// SendText writes a control frame.
	SendText(ctx context.Context, data []byte) error
	// SendBinary writes an audio frame.
	SendBinary(ctx context.Context, data []byte) error
}

// MembershipValidator checks (and lazily provisions) channel membership
// against persistent storage.
type MembershipValidator interface {
	EnsureMember(ctx context.Context, channelID int64, username string) error
}

// EntitlementLookup answers whether auto-recording is enabled for a channel
// on a given day.
type EntitlementLookup interface {
	AutoRecordEnabled(ctx context.Context, channelID int64, day time.Time) (bool, error)
}

// Member is one live connection inside a channel.
type Member struct {
	ID       string
	Username string
	Conn     Conn
	JoinedAt time.Time

	speaking bool // guarded by the manager mutex

	// primed flips to true once the warm-up frames have been sent.
	// Never reset while the connection lives.
	primed atomic.Bool
}

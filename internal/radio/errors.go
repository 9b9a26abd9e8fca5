package radio

import "errors"

// Error codes surfaced in protocol-level error responses.
const (
	ErrCodeAccessDenied = "access_denied"
	ErrCodeNotConnected = "not_connected"
	ErrCodeBadRequest   = "bad_request"
)

var (
	// ErrAccessDenied means the membership validator refused the join.
	// At connect time this is fatal to the session.
	ErrAccessDenied = errors.New("channel access denied")
	// ErrNotConnected means the connection id is not a current member.
	ErrNotConnected = errors.New("user not connected")
)

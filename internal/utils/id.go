package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a best-effort unique identifier.
func NewID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

// ConnectionID mints an ephemeral per-session identifier for a live
// connection. Multiple sessions of the same username stay distinguishable.
func ConnectionID(username string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return username + "_" + suffix
}

// ShortToken returns an 8-char random token used for recording ids.
func ShortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

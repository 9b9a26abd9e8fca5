package sqlite

import (
	"context"
	"fmt"
	"time"
)

// EnsureMember verifies the channel exists and that the user is a member,
// auto-provisioning the user and a non-privileged membership record when
// absent. The lenient policy mirrors joining a channel by link: anyone who
// reaches a live channel becomes a plain participant.
func (s *SQLiteStore) EnsureMember(ctx context.Context, channelID int64, username string) error {
	if _, err := s.GetChannelByID(ctx, channelID); err != nil {
		return fmt.Errorf("channel %d: %w", channelID, err)
	}

	user, err := s.EnsureUser(ctx, username)
	if err != nil {
		return fmt.Errorf("ensure user %q: %w", username, err)
	}

	if err := s.AddParticipant(ctx, user.ID, channelID, false, false); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// AutoRecordEnabled reports whether the channel owner's premium entitlement
// covers the given day.
func (s *SQLiteStore) AutoRecordEnabled(ctx context.Context, channelID int64, day time.Time) (bool, error) {
	owner, err := s.GetChannelOwner(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("channel owner: %w", err)
	}

	user, err := s.GetUserByID(ctx, owner.UserID)
	if err != nil {
		return false, fmt.Errorf("owner user: %w", err)
	}

	if user.PremiumUntil == nil {
		return false, nil
	}

	y, m, d := day.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return !user.PremiumUntil.Before(dayStart), nil
}

// Package cleanup purges recording files and chat history on a daily
// schedule. Recordings are a short-lived convenience, not an archive.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/store"
)

const retryDelay = time.Hour

// Service deletes all WAV recordings and chat messages once per day at
// local midnight.
type Service struct {
	recordsDir string
	chat       store.ChatStore
	log        *zerolog.Logger
}

// New creates a cleanup service over the given records directory and chat store.
func New(recordsDir string, chat store.ChatStore, logger *zerolog.Logger) *Service {
	return &Service{
		recordsDir: recordsDir,
		chat:       chat,
		log:        logger,
	}
}

// Run blocks until ctx is cancelled, cleaning up at every midnight.
// On failure it waits an hour and tries again.
func (s *Service) Run(ctx context.Context) error {
	for {
		wait := untilNextMidnight(time.Now())
		s.log.Info().Dur("sleep", wait).Msg("next recordings cleanup scheduled")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err := s.RunNow(ctx); err != nil {
			s.log.Error().Err(err).Msg("cleanup failed, retrying in an hour")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
}

// RunNow performs one cleanup pass immediately.
func (s *Service) RunNow(ctx context.Context) error {
	deleted, freed, err := s.deleteRecordings()
	if err != nil {
		return fmt.Errorf("delete recordings: %w", err)
	}

	if err := s.chat.DeleteAllChatMessages(ctx); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}

	s.log.Info().Int("files_deleted", deleted).Int64("bytes_freed", freed).
		Msg("cleanup finished")
	return nil
}

func (s *Service) deleteRecordings() (int, int64, error) {
	paths, err := filepath.Glob(filepath.Join(s.recordsDir, "*.wav"))
	if err != nil {
		return 0, 0, err
	}

	var deleted int
	var freed int64
	for _, path := range paths {
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("failed to delete recording")
			continue
		}
		deleted++
		freed += stat.Size()
	}
	return deleted, freed, nil
}

func untilNextMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

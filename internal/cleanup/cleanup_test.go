package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/store"
)

type fakeChatStore struct {
	purged int
	err    error
}

func (s *fakeChatStore) SaveChatMessage(context.Context, *store.ChatMessage) error { return nil }

func (s *fakeChatStore) ListChatMessages(context.Context, int64, int, *int64) ([]*store.ChatMessage, error) {
	return nil, nil
}

func (s *fakeChatStore) DeleteAllChatMessages(context.Context) error {
	s.purged++
	return s.err
}

func TestRunNowDeletesRecordingsAndChat(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{
		"channel_1_alice_20250817_093015_aaaa1111.wav",
		"channel_2_bob_20250817_101500_bbbb2222.wav",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFFdata"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	// Non-WAV files are left alone.
	keep := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(keep, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	chat := &fakeChatStore{}
	logger := zerolog.New(nil)
	svc := New(dir, chat, &logger)

	if err := svc.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	wavs, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(wavs) != 0 {
		t.Fatalf("%d wav files survived cleanup", len(wavs))
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("non-recording file was deleted: %v", err)
	}
	if chat.purged != 1 {
		t.Fatalf("chat purged %d times, want 1", chat.purged)
	}
}

func TestRunNowOnEmptyDir(t *testing.T) {
	chat := &fakeChatStore{}
	logger := zerolog.New(nil)
	svc := New(t.TempDir(), chat, &logger)

	if err := svc.RunNow(context.Background()); err != nil {
		t.Fatalf("RunNow on empty dir: %v", err)
	}
}

func TestUntilNextMidnight(t *testing.T) {
	now := time.Date(2025, 8, 17, 23, 0, 0, 0, time.UTC)
	if got := untilNextMidnight(now); got != time.Hour {
		t.Fatalf("untilNextMidnight = %v, want 1h", got)
	}

	// Just after midnight the next run is almost a full day away.
	now = time.Date(2025, 8, 17, 0, 0, 1, 0, time.UTC)
	if got := untilNextMidnight(now); got != 24*time.Hour-time.Second {
		t.Fatalf("untilNextMidnight = %v, want 23h59m59s", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	chat := &fakeChatStore{}
	logger := zerolog.New(nil)
	svc := New(t.TempDir(), chat, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

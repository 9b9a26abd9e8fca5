package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/airwavehq/airwave-server/internal/utils"
)

// Session accumulates the raw audio of one recording turn for a channel.
// Finalize and in-flight chunk writes are serialized by the session mutex.
type Session struct {
	ChannelID   int64
	RecordingID string
	Filename    string
	Path        string
	StartTime   time.Time

	mu           sync.Mutex
	buffer       []byte
	chunks       int
	speakerIDs   map[string]struct{}
	speakerNames map[string]struct{}
	finalized    bool
}

func newSession(dir string, channelID int64, speakerName string) *Session {
	now := time.Now()
	id := utils.ShortToken()
	filename := fmt.Sprintf("channel_%d_%s_%s_%s.wav",
		channelID, speakerName, now.Format("20060102_150405"), id)

	return &Session{
		ChannelID:    channelID,
		RecordingID:  id,
		Filename:     filename,
		Path:         filepath.Join(dir, filename),
		StartTime:    now,
		speakerIDs:   make(map[string]struct{}),
		speakerNames: make(map[string]struct{}),
	}
}

// append adds an audio chunk to the buffer and records the contributor.
func (s *Session) append(data []byte, speakerID, speakerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}
	s.buffer = append(s.buffer, data...)
	s.chunks++
	s.speakerIDs[speakerID] = struct{}{}
	if speakerName != "" {
		s.speakerNames[speakerName] = struct{}{}
	}
}

// duration returns the buffered audio length in seconds.
func (s *Session) duration() float64 {
	return float64(len(s.buffer)) / float64(bytesPerSec)
}

// snapshot returns the live status fields under the session lock.
func (s *Session) snapshot() (durationSec float64, chunks int, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration(), s.chunks, s.names()
}

func (s *Session) names() []string {
	names := make([]string, 0, len(s.speakerNames))
	for name := range s.speakerNames {
		names = append(names, name)
	}
	return names
}

// finalize writes the WAV file and returns the stop result. An empty buffer
// produces a failure result and no file.
func (s *Session) finalize() StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalized = true

	res := StopResult{
		ChannelID:   s.ChannelID,
		RecordingID: s.RecordingID,
		Filename:    s.Filename,
		Path:        s.Path,
	}

	if len(s.buffer) == 0 {
		res.Message = "No audio data recorded"
		return res
	}

	out := make([]byte, 0, wavHeaderSize+len(s.buffer))
	out = append(out, wavHeader(len(s.buffer))...)
	out = append(out, s.buffer...)

	if err := os.WriteFile(s.Path, out, 0o644); err != nil {
		res.Message = fmt.Sprintf("Error saving recording: %v", err)
		return res
	}

	res.Success = true
	res.Message = "Recording saved successfully"
	res.FileSizeBytes = int64(len(out))
	res.DurationSeconds = s.duration()
	res.Chunks = s.chunks
	res.SpeakerNames = s.names()
	return res
}

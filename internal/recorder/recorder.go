// Package recorder captures channel speaking turns into WAV files.
// One session may be active per channel; audio accumulates in memory and is
// finalized to disk when the recording stops.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StartResult reports the outcome of starting a recording.
type StartResult struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ChannelID   int64     `json:"channel_id"`
	RecordingID string    `json:"recording_id,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	StartTime   time.Time `json:"start_time,omitzero"`
}

// StopResult reports the outcome of stopping and finalizing a recording.
type StopResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	ChannelID       int64    `json:"channel_id"`
	RecordingID     string   `json:"recording_id,omitempty"`
	Filename        string   `json:"filename,omitempty"`
	Path            string   `json:"filepath,omitempty"`
	FileSizeBytes   int64    `json:"file_size_bytes,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	Chunks          int      `json:"chunks_processed,omitempty"`
	SpeakerNames    []string `json:"speakers_names,omitempty"`
}

// Status describes the recording state of a channel.
type Status struct {
	IsRecording     bool      `json:"is_recording"`
	RecordingID     string    `json:"recording_id,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	StartTime       time.Time `json:"start_time,omitzero"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Chunks          int       `json:"chunks_received,omitempty"`
	Speakers        []string  `json:"speakers,omitempty"`
}

// FileInfo describes a persisted recording file.
type FileInfo struct {
	Filename        string    `json:"filename"`
	Path            string    `json:"filepath"`
	ChannelID       int64     `json:"channel_id"`
	RecordingID     string    `json:"recording_id"`
	Timestamp       string    `json:"timestamp"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	DurationSeconds *float64  `json:"duration_seconds"`
	Created         time.Time `json:"created"`
}

// Recorder is the registry of active recording sessions, keyed by channel.
type Recorder struct {
	dir string
	log *zerolog.Logger

	mu     sync.Mutex
	active map[int64]*Session
}

// New creates a recorder writing finished files into dir, creating it if
// needed.
func New(dir string, logger *zerolog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &Recorder{
		dir:    dir,
		log:    logger,
		active: make(map[int64]*Session),
	}, nil
}

// Start begins a new recording session for the channel. Fails if one is
// already active.
func (r *Recorder) Start(channelID int64, speakerName string) StartResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[channelID]; ok {
		return StartResult{
			Message:   fmt.Sprintf("Recording already in progress for channel %d", channelID),
			ChannelID: channelID,
		}
	}

	session := newSession(r.dir, channelID, speakerName)
	r.active[channelID] = session

	r.log.Info().
		Int64("channel_id", channelID).
		Str("recording_id", session.RecordingID).
		Str("filename", session.Filename).
		Msg("recording started")

	return StartResult{
		Success:     true,
		Message:     fmt.Sprintf("Recording started for channel %d", channelID),
		ChannelID:   channelID,
		RecordingID: session.RecordingID,
		Filename:    session.Filename,
		StartTime:   session.StartTime,
	}
}

// Write appends an audio chunk to the channel's active session. No-op when
// nothing is being recorded.
func (r *Recorder) Write(channelID int64, data []byte, speakerID, speakerName string) {
	r.mu.Lock()
	session := r.active[channelID]
	r.mu.Unlock()

	if session == nil {
		return
	}
	session.append(data, speakerID, speakerName)
}

// Stop removes the channel's active session and finalizes it to a WAV file.
// The session is discarded even when finalization fails; a failed recording
// is abandoned, not retried.
func (r *Recorder) Stop(channelID int64) StopResult {
	r.mu.Lock()
	session := r.active[channelID]
	delete(r.active, channelID)
	r.mu.Unlock()

	if session == nil {
		return StopResult{
			Message:   fmt.Sprintf("No active recording for channel %d", channelID),
			ChannelID: channelID,
		}
	}

	res := session.finalize()
	if res.Success {
		r.log.Info().
			Int64("channel_id", channelID).
			Str("filename", res.Filename).
			Int64("size_bytes", res.FileSizeBytes).
			Float64("duration_sec", res.DurationSeconds).
			Msg("recording saved")
	} else {
		r.log.Error().
			Int64("channel_id", channelID).
			Str("filename", res.Filename).
			Str("reason", res.Message).
			Msg("recording discarded")
	}
	return res
}

// Status returns the recording state of a channel.
func (r *Recorder) Status(channelID int64) Status {
	r.mu.Lock()
	session := r.active[channelID]
	r.mu.Unlock()

	if session == nil {
		return Status{IsRecording: false}
	}

	duration, chunks, names := session.snapshot()
	return Status{
		IsRecording:     true,
		RecordingID:     session.RecordingID,
		Filename:        session.Filename,
		StartTime:       session.StartTime,
		DurationSeconds: duration,
		Chunks:          chunks,
		Speakers:        names,
	}
}

// List enumerates persisted recording files, newest first. channelID 0
// lists every channel.
func (r *Recorder) List(channelID int64) ([]FileInfo, error) {
	pattern := "channel_*.wav"
	if channelID != 0 {
		pattern = fmt.Sprintf("channel_%d_*.wav", channelID)
	}

	paths, err := filepath.Glob(filepath.Join(r.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob recordings: %w", err)
	}

	recordings := make([]FileInfo, 0, len(paths))
	for _, path := range paths {
		info, ok := parseRecordingFilename(filepath.Base(path))
		if !ok {
			continue
		}
		info.Path = path

		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		info.FileSizeBytes = stat.Size()
		info.Created = stat.ModTime()

		if d, err := probeWAVDuration(path); err == nil {
			info.DurationSeconds = &d
		}

		recordings = append(recordings, info)
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Created.After(recordings[j].Created)
	})
	return recordings, nil
}

// ResolveFile maps a recording filename to its path inside the records dir.
// Rejects names that do not match the recording naming convention, which
// also keeps path traversal out.
func (r *Recorder) ResolveFile(filename string) (string, bool) {
	if filename != filepath.Base(filename) {
		return "", false
	}
	if _, ok := parseRecordingFilename(filename); !ok {
		return "", false
	}
	path := filepath.Join(r.dir, filename)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// parseRecordingFilename decodes channel_<id>_<speaker>_<date>_<time>_<token>.wav.
// The speaker name may itself contain underscores, so fixed fields are taken
// from both ends.
func parseRecordingFilename(filename string) (FileInfo, bool) {
	name, ok := strings.CutSuffix(filename, ".wav")
	if !ok {
		return FileInfo{}, false
	}
	parts := strings.Split(name, "_")
	if len(parts) < 6 || parts[0] != "channel" {
		return FileInfo{}, false
	}

	channelID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return FileInfo{}, false
	}

	n := len(parts)
	return FileInfo{
		Filename:    filename,
		ChannelID:   channelID,
		Timestamp:   parts[n-3] + "_" + parts[n-2],
		RecordingID: parts[n-1],
	}, true
}

package recorder

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	logger := zerolog.New(nil)
	rec, err := New(t.TempDir(), &logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rec
}

func TestStartStopProducesPlayableWAV(t *testing.T) {
	rec := newTestRecorder(t)

	start := rec.Start(7, "alice")
	if !start.Success {
		t.Fatalf("Start failed: %s", start.Message)
	}
	if start.RecordingID == "" || start.Filename == "" {
		t.Fatalf("Start result incomplete: %+v", start)
	}

	// One second of silence at 16 kHz mono 16-bit.
	rec.Write(7, make([]byte, bytesPerSec), "conn-1", "alice")

	stop := rec.Stop(7)
	if !stop.Success {
		t.Fatalf("Stop failed: %s", stop.Message)
	}
	if stop.FileSizeBytes != int64(wavHeaderSize+bytesPerSec) {
		t.Fatalf("file size = %d, want %d", stop.FileSizeBytes, wavHeaderSize+bytesPerSec)
	}
	if stop.DurationSeconds != 1 {
		t.Fatalf("duration = %v, want 1s", stop.DurationSeconds)
	}
	if stop.Chunks != 1 {
		t.Fatalf("chunks = %d, want 1", stop.Chunks)
	}
	if len(stop.SpeakerNames) != 1 || stop.SpeakerNames[0] != "alice" {
		t.Fatalf("speakers = %v, want [alice]", stop.SpeakerNames)
	}

	data, err := os.ReadFile(stop.Path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("output is not a RIFF/WAVE file")
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != sampleRate {
		t.Fatalf("sample rate = %d, want %d", got, sampleRate)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(bytesPerSec) {
		t.Fatalf("data chunk size = %d, want %d", got, bytesPerSec)
	}

	duration, err := probeWAVDuration(stop.Path)
	if err != nil {
		t.Fatalf("probeWAVDuration: %v", err)
	}
	if duration != 1 {
		t.Fatalf("probed duration = %v, want 1s", duration)
	}
}

func TestStartTwiceFails(t *testing.T) {
	rec := newTestRecorder(t)

	if res := rec.Start(1, "alice"); !res.Success {
		t.Fatalf("first Start failed: %s", res.Message)
	}
	if res := rec.Start(1, "bob"); res.Success {
		t.Fatal("second Start succeeded while a session is active")
	}

	// A different channel is unaffected.
	if res := rec.Start(2, "bob"); !res.Success {
		t.Fatalf("Start on another channel failed: %s", res.Message)
	}
}

func TestStopWithoutAudioDiscardsRecording(t *testing.T) {
	rec := newTestRecorder(t)

	rec.Start(1, "alice")
	stop := rec.Stop(1)
	if stop.Success {
		t.Fatal("empty recording reported success")
	}
	if _, err := os.Stat(stop.Path); !os.IsNotExist(err) {
		t.Fatalf("empty recording left a file on disk: %v", err)
	}
}

func TestStopWithoutSessionIsBenign(t *testing.T) {
	rec := newTestRecorder(t)

	stop := rec.Stop(9)
	if stop.Success {
		t.Fatal("Stop succeeded with no active session")
	}
	if stop.ChannelID != 9 {
		t.Fatalf("channel id = %d, want 9", stop.ChannelID)
	}
}

func TestWriteWithoutSessionIsNoop(t *testing.T) {
	rec := newTestRecorder(t)

	rec.Write(1, []byte{1, 2, 3}, "conn-1", "alice")

	if rec.Status(1).IsRecording {
		t.Fatal("write without session created state")
	}
}

func TestStatusTracksContributors(t *testing.T) {
	rec := newTestRecorder(t)

	rec.Start(1, "alice")
	rec.Write(1, make([]byte, 320), "conn-1", "alice")
	rec.Write(1, make([]byte, 320), "conn-2", "bob")

	status := rec.Status(1)
	if !status.IsRecording {
		t.Fatal("status reports not recording")
	}
	if status.Chunks != 2 {
		t.Fatalf("chunks = %d, want 2", status.Chunks)
	}
	if len(status.Speakers) != 2 {
		t.Fatalf("speakers = %v, want alice and bob", status.Speakers)
	}

	if idle := rec.Status(2); idle.IsRecording {
		t.Fatal("idle channel reports recording")
	}
}

func TestListFiltersByChannel(t *testing.T) {
	rec := newTestRecorder(t)

	rec.Start(1, "alice")
	rec.Write(1, make([]byte, 320), "c1", "alice")
	rec.Stop(1)

	rec.Start(2, "bob")
	rec.Write(2, make([]byte, 320), "c2", "bob")
	rec.Stop(2)

	all, err := rec.List(0)
	if err != nil {
		t.Fatalf("List(0): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List(0) = %d files, want 2", len(all))
	}

	one, err := rec.List(1)
	if err != nil {
		t.Fatalf("List(1): %v", err)
	}
	if len(one) != 1 || one[0].ChannelID != 1 {
		t.Fatalf("List(1) = %+v, want exactly the channel 1 file", one)
	}
	if one[0].DurationSeconds == nil {
		t.Fatal("listed file has no probed duration")
	}
}

func TestResolveFileRejectsForeignNames(t *testing.T) {
	rec := newTestRecorder(t)

	rec.Start(1, "alice")
	rec.Write(1, make([]byte, 320), "c1", "alice")
	stop := rec.Stop(1)

	path, ok := rec.ResolveFile(stop.Filename)
	if !ok || path != stop.Path {
		t.Fatalf("ResolveFile(%q) = %q, %v", stop.Filename, path, ok)
	}

	for _, name := range []string{
		"../../etc/passwd",
		"notes.txt",
		"channel_x_alice_20250101_120000_abcd1234.wav",
		"channel_1_alice_20250101_120000_missing.wav",
	} {
		if _, ok := rec.ResolveFile(name); ok {
			t.Fatalf("ResolveFile(%q) resolved, want rejection", name)
		}
	}
}

func TestParseRecordingFilename(t *testing.T) {
	info, ok := parseRecordingFilename("channel_42_dj_mike_20250817_093015_deadbeef.wav")
	if !ok {
		t.Fatal("valid filename rejected")
	}
	if info.ChannelID != 42 {
		t.Fatalf("channel id = %d, want 42", info.ChannelID)
	}
	if info.Timestamp != "20250817_093015" {
		t.Fatalf("timestamp = %q", info.Timestamp)
	}
	if info.RecordingID != "deadbeef" {
		t.Fatalf("recording id = %q", info.RecordingID)
	}

	for _, name := range []string{
		"channel_42.wav",
		"session_42_x_20250817_093015_deadbeef.wav",
		"channel_42_x_20250817_093015_deadbeef.mp3",
	} {
		if _, ok := parseRecordingFilename(name); ok {
			t.Fatalf("parseRecordingFilename(%q) accepted, want rejection", name)
		}
	}
}

func TestFilenameEmbedsSpeakerWithUnderscores(t *testing.T) {
	dir := t.TempDir()
	s := newSession(dir, 5, "dj_mike")

	info, ok := parseRecordingFilename(s.Filename)
	if !ok {
		t.Fatalf("generated filename %q does not parse", s.Filename)
	}
	if info.ChannelID != 5 {
		t.Fatalf("channel id = %d, want 5", info.ChannelID)
	}
	if info.RecordingID != s.RecordingID {
		t.Fatalf("recording id = %q, want %q", info.RecordingID, s.RecordingID)
	}
	if filepath.Dir(s.Path) != dir {
		t.Fatalf("session path %q outside records dir", s.Path)
	}
}

package radio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/recorder"
)

// fakeConn records every frame the manager sends to it.
type fakeConn struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte
	fail   bool
}

var errConnClosed = errors.New("connection closed")

func (c *fakeConn) SendText(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errConnClosed
	}
	c.text = append(c.text, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SendBinary(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errConnClosed
	}
	c.binary = append(c.binary, append([]byte(nil), data...))
	return nil
}

// textTypes decodes the type field of every received control frame, in order.
func (c *fakeConn) textTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.text))
	for _, raw := range c.text {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("undecodable control frame %q: %v", raw, err)
		}
		types = append(types, envelope.Type)
	}
	return types
}

func (c *fakeConn) lastOfType(t *testing.T, msgType string) []byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.text) - 1; i >= 0; i-- {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(c.text[i], &envelope); err != nil {
			t.Fatalf("undecodable control frame: %v", err)
		}
		if envelope.Type == msgType {
			return c.text[i]
		}
	}
	t.Fatalf("no %q frame received, got %v", msgType, c.textTypes(t))
	return nil
}

func (c *fakeConn) binaryFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([][]byte, len(c.binary))
	copy(frames, c.binary)
	return frames
}

type fakeValidator struct {
	denied map[int64]bool
}

func (v *fakeValidator) EnsureMember(_ context.Context, channelID int64, _ string) error {
	if v.denied[channelID] {
		return errors.New("channel not found")
	}
	return nil
}

// fakeEntitlementLookup answers every entitlement lookup the same way.
type fakeEntitlementLookup struct {
	enabled bool
	err     error
}

func (e fakeEntitlementLookup) AutoRecordEnabled(_ context.Context, _ int64, _ time.Time) (bool, error) {
	return e.enabled, e.err
}

func newTestManager(t *testing.T, entitled bool) *Manager {
	t.Helper()

	logger := zerolog.New(nil)
	rec, err := recorder.New(t.TempDir(), &logger)
	if err != nil {
		t.Fatalf("recorder.New: %v", err)
	}
	return New(
		&fakeValidator{denied: map[int64]bool{404: true}},
		fakeEntitlementLookup{enabled: entitled},
		rec,
		&logger,
	)
}

func connect(t *testing.T, m *Manager, username string, channelID int64) (string, *fakeConn) {
	t.Helper()

	conn := &fakeConn{}
	id, err := m.Connect(context.Background(), conn, username, channelID)
	if err != nil {
		t.Fatalf("Connect(%s): %v", username, err)
	}
	return id, conn
}

func TestConnectEmitsJoinSequence(t *testing.T) {
	m := newTestManager(t, false)

	_, alice := connect(t, m, "alice", 1)
	_, bob := connect(t, m, "bob", 1)

	got := bob.textTypes(t)
	want := []string{TypeConnected, TypeStatus, TypeRecordingStatus}
	if len(got) != len(want) {
		t.Fatalf("bob received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bob frame %d = %q, want %q", i, got[i], want[i])
		}
	}

	aliceTypes := alice.textTypes(t)
	if aliceTypes[len(aliceTypes)-1] != TypeUserJoined {
		t.Fatalf("alice last frame = %q, want %q", aliceTypes[len(aliceTypes)-1], TypeUserJoined)
	}

	var joined PresenceMsg
	if err := json.Unmarshal(alice.lastOfType(t, TypeUserJoined), &joined); err != nil {
		t.Fatalf("decode user_joined: %v", err)
	}
	if joined.Username != "bob" || joined.TotalUsers != 2 {
		t.Fatalf("user_joined = %+v, want bob with 2 total users", joined)
	}
}

func TestConnectRefusedForUnknownChannel(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.Connect(context.Background(), &fakeConn{}, "alice", 404)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Connect = %v, want ErrAccessDenied", err)
	}
}

func TestSpeakGrantAndQueueOrder(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	bobID, _ := connect(t, m, "bob", 1)
	carolID, _ := connect(t, m, "carol", 1)

	if resp := m.RequestSpeak(aliceID, 1, "alice"); resp.Type != TypeSpeakGranted {
		t.Fatalf("alice RequestSpeak = %+v, want grant", resp)
	}

	resp := m.RequestSpeak(bobID, 1, "bob")
	if resp.Type != TypeSpeakDenied || resp.Position != 1 {
		t.Fatalf("bob RequestSpeak = %+v, want denial at position 1", resp)
	}
	if resp.CurrentSpeaker != "alice" {
		t.Fatalf("bob denial names speaker %q, want alice", resp.CurrentSpeaker)
	}

	if resp := m.RequestSpeak(carolID, 1, "carol"); resp.Position != 2 {
		t.Fatalf("carol RequestSpeak = %+v, want position 2", resp)
	}

	// Re-requesting does not move the caller back in the queue.
	if resp := m.RequestSpeak(bobID, 1, "bob"); resp.Position != 1 {
		t.Fatalf("bob repeat RequestSpeak = %+v, want position 1", resp)
	}
}

func TestSpeakerReRequestKeepsGrant(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	m.RequestSpeak(aliceID, 1, "alice")

	resp := m.RequestSpeak(aliceID, 1, "alice")
	if resp.Type != TypeSpeakGranted {
		t.Fatalf("speaker re-request = %+v, want grant", resp)
	}

	status, ok := m.ChannelStatus(1)
	if !ok {
		t.Fatal("channel status missing")
	}
	if len(status.WaitingQueue) != 0 {
		t.Fatalf("waiting queue = %v, want empty", status.WaitingQueue)
	}
}

func TestReleasePromotesQueueHead(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	bobID, bobConn := connect(t, m, "bob", 1)

	m.RequestSpeak(aliceID, 1, "alice")
	m.RequestSpeak(bobID, 1, "bob")

	resp := m.ReleaseSpeak(aliceID, 1)
	if resp.Type != TypeSpeakReleased || resp.Message != "Speaking rights released" {
		t.Fatalf("ReleaseSpeak = %+v", resp)
	}

	status, _ := m.ChannelStatus(1)
	if status.CurrentSpeaker == nil || *status.CurrentSpeaker != bobID {
		t.Fatalf("current speaker = %v, want %s", status.CurrentSpeaker, bobID)
	}

	var granted Response
	if err := json.Unmarshal(bobConn.lastOfType(t, TypeSpeakGranted), &granted); err != nil {
		t.Fatalf("decode speak_granted: %v", err)
	}
	if granted.ChannelID != 1 {
		t.Fatalf("speak_granted channel = %d, want 1", granted.ChannelID)
	}

	// The free-mic announcement carries null speaker fields.
	types := bobConn.textTypes(t)
	sawNull := false
	bobConn.mu.Lock()
	for _, raw := range bobConn.text {
		var msg SpeakerChangedMsg
		if json.Unmarshal(raw, &msg) == nil && msg.Type == TypeSpeakerChanged && msg.SpeakerID == nil {
			sawNull = true
		}
	}
	bobConn.mu.Unlock()
	if !sawNull {
		t.Fatalf("no null speaker_changed observed, frames: %v", types)
	}
}

func TestReleaseWithoutMicIsBenign(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)

	resp := m.ReleaseSpeak(aliceID, 1)
	if resp.Type != TypeSpeakReleased || resp.Message != "Removed from queue" {
		t.Fatalf("ReleaseSpeak = %+v, want benign removal", resp)
	}
}

func TestReleaseRemovesFromQueue(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	bobID, _ := connect(t, m, "bob", 1)

	m.RequestSpeak(aliceID, 1, "alice")
	m.RequestSpeak(bobID, 1, "bob")
	m.ReleaseSpeak(bobID, 1)

	status, _ := m.ChannelStatus(1)
	if len(status.WaitingQueue) != 0 {
		t.Fatalf("waiting queue = %v, want empty after release", status.WaitingQueue)
	}
	if status.CurrentSpeaker == nil || *status.CurrentSpeaker != aliceID {
		t.Fatalf("current speaker = %v, want alice unchanged", status.CurrentSpeaker)
	}
}

func TestDisconnectOfSpeakerPromotesNext(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	bobID, bobConn := connect(t, m, "bob", 1)

	m.RequestSpeak(aliceID, 1, "alice")
	m.RequestSpeak(bobID, 1, "bob")
	m.Disconnect(aliceID, 1)

	status, ok := m.ChannelStatus(1)
	if !ok {
		t.Fatal("channel status missing")
	}
	if status.CurrentSpeaker == nil || *status.CurrentSpeaker != bobID {
		t.Fatalf("current speaker = %v, want bob after speaker disconnect", status.CurrentSpeaker)
	}
	bobConn.lastOfType(t, TypeSpeakGranted)

	// Idempotent: a second disconnect of the same id changes nothing.
	m.Disconnect(aliceID, 1)
	if status, _ = m.ChannelStatus(1); status.TotalConnected != 1 {
		t.Fatalf("total connected = %d, want 1", status.TotalConnected)
	}
}

func TestAudioFromNonSpeakerIsDropped(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	bobID, bobConn := connect(t, m, "bob", 1)
	m.RequestSpeak(aliceID, 1, "alice")

	m.ProcessAudioChunk(bobID, 1, []byte{1, 2, 3})

	if frames := bobConn.binaryFrames(); len(frames) != 0 {
		t.Fatalf("bob received %d frames from a dropped chunk", len(frames))
	}
}

func TestAudioFanOutPrimesListenersOnce(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, aliceConn := connect(t, m, "alice", 1)
	_, bobConn := connect(t, m, "bob", 1)
	m.RequestSpeak(aliceID, 1, "alice")

	chunk1 := []byte{10, 20, 30}
	chunk2 := []byte{40, 50}
	m.ProcessAudioChunk(aliceID, 1, chunk1)
	m.ProcessAudioChunk(aliceID, 1, chunk2)

	frames := bobConn.binaryFrames()
	if len(frames) != warmupFrames+2 {
		t.Fatalf("bob received %d frames, want %d warm-up + 2 chunks", len(frames), warmupFrames)
	}
	for i := 0; i < warmupFrames; i++ {
		if len(frames[i]) != warmupFrameSize {
			t.Fatalf("warm-up frame %d has size %d, want %d", i, len(frames[i]), warmupFrameSize)
		}
		for _, b := range frames[i] {
			if b != 0 {
				t.Fatalf("warm-up frame %d is not silent", i)
			}
		}
	}
	if string(frames[warmupFrames]) != string(chunk1) || string(frames[warmupFrames+1]) != string(chunk2) {
		t.Fatal("audio chunks arrived corrupted or out of order")
	}

	// The speaker never hears its own audio.
	if own := aliceConn.binaryFrames(); len(own) != 0 {
		t.Fatalf("alice received %d of her own frames", len(own))
	}
}

func TestChannelStateRemovedWhenEmpty(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	m.RequestSpeak(aliceID, 1, "alice")
	m.Disconnect(aliceID, 1)

	if _, ok := m.ChannelStatus(1); ok {
		t.Fatal("channel state survived last disconnect")
	}
	if ids := m.LiveChannels(); len(ids) != 0 {
		t.Fatalf("live channels = %v, want none", ids)
	}

	// A rejoin starts from a clean slate.
	id2, _ := connect(t, m, "alice", 1)
	status, _ := m.ChannelStatus(1)
	if status.CurrentSpeaker != nil || len(status.WaitingQueue) != 0 {
		t.Fatalf("stale state after rejoin: %+v", status)
	}
	if resp := m.RequestSpeak(id2, 1, "alice"); resp.Type != TypeSpeakGranted {
		t.Fatalf("RequestSpeak after rejoin = %+v, want grant", resp)
	}
}

func TestKickUserDropsAllSessions(t *testing.T) {
	m := newTestManager(t, false)

	connect(t, m, "alice", 1)
	connect(t, m, "alice", 1)
	connect(t, m, "bob", 1)

	if n := m.KickUser(1, "alice"); n != 2 {
		t.Fatalf("KickUser dropped %d sessions, want 2", n)
	}

	status, _ := m.ChannelStatus(1)
	if status.TotalConnected != 1 {
		t.Fatalf("total connected = %d, want 1", status.TotalConnected)
	}
}

func TestCloseChannelDisconnectsEveryone(t *testing.T) {
	m := newTestManager(t, false)

	connect(t, m, "alice", 1)
	connect(t, m, "bob", 1)

	m.CloseChannel(1)

	if _, ok := m.ChannelStatus(1); ok {
		t.Fatal("channel state survived CloseChannel")
	}
}

func TestEntitledGrantStartsRecording(t *testing.T) {
	m := newTestManager(t, true)

	aliceID, aliceConn := connect(t, m, "alice", 1)
	m.RequestSpeak(aliceID, 1, "alice")

	status := m.RecordingStatus(1)
	if !status.IsRecording {
		t.Fatal("recording did not start on entitled grant")
	}
	aliceConn.lastOfType(t, TypeRecordingStarted)

	m.ProcessAudioChunk(aliceID, 1, make([]byte, 320))
	m.ReleaseSpeak(aliceID, 1)

	if m.RecordingStatus(1).IsRecording {
		t.Fatal("recording still active after release")
	}
	aliceConn.lastOfType(t, TypeRecordingStopped)

	files, err := m.Recordings(1)
	if err != nil {
		t.Fatalf("Recordings: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("persisted %d recordings, want 1", len(files))
	}
}

func TestUnentitledGrantDoesNotRecord(t *testing.T) {
	m := newTestManager(t, false)

	aliceID, _ := connect(t, m, "alice", 1)
	m.RequestSpeak(aliceID, 1, "alice")

	if m.RecordingStatus(1).IsRecording {
		t.Fatal("recording started without entitlement")
	}
}

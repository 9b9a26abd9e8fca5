// Package radio implements the push-to-talk core: per-channel membership,
// exclusive speaker arbitration with a FIFO waiting queue, live binary audio
// fan-out, and orchestration of per-turn recordings.
package radio

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/recorder"
	"github.com/airwavehq/airwave-server/internal/utils"
)

const (
	// warmupFrames is the number of silent frames sent to a listener
	// before its first real chunk, so client-side decoding settles.
	warmupFrames    = 3
	warmupFrameSize = 1024

	sendTimeout = 5 * time.Second
)

// Manager owns all channel runtime state and the speak-arbitration protocol.
// All state mutation is serialized through a single mutex; network sends
// happen outside it against member snapshots.
type Manager struct {
	validator    MembershipValidator
	entitlements EntitlementLookup
	recorder     *recorder.Recorder
	log          *zerolog.Logger

	mu       sync.Mutex
	channels map[int64]*channelState
}

// channelState exists only while the channel has at least one live member.
type channelState struct {
	members map[string]*Member
	speaker string   // connection id, "" when the mic is free
	queue   []string // FIFO of connection ids, no duplicates
}

// outboundSend is a control frame queued under the lock and delivered after
// it is released.
type outboundSend struct {
	targets []*Member
	payload []byte
}

// New constructs a manager. The recorder is consulted on every speaking
// turn; validator and entitlements are the persistence-side collaborators.
func New(validator MembershipValidator, entitlements EntitlementLookup, rec *recorder.Recorder, logger *zerolog.Logger) *Manager {
	return &Manager{
		validator:    validator,
		entitlements: entitlements,
		recorder:     rec,
		log:          logger,
		channels:     make(map[int64]*channelState),
	}
}

// Connect validates channel access, registers the connection as a channel
// member and emits the join sequence: connected ack, status snapshot,
// recording status, then user_joined to everyone else.
// The returned connection id identifies this session until Disconnect.
func (m *Manager) Connect(ctx context.Context, conn Conn, username string, channelID int64) (string, error) {
	// Membership validation may block on storage I/O; it runs before the
	// state lock is ever taken.
	if err := m.validator.EnsureMember(ctx, channelID, username); err != nil {
		m.log.Warn().Err(err).Str("username", username).Int64("channel_id", channelID).
			Msg("channel access refused")
		return "", ErrAccessDenied
	}

	member := &Member{
		ID:       utils.ConnectionID(username),
		Username: username,
		Conn:     conn,
		JoinedAt: time.Now(),
	}

	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil {
		st = &channelState{members: make(map[string]*Member)}
		m.channels[channelID] = st
	}
	st.members[member.ID] = member
	total := len(st.members)
	status := m.statusLocked(channelID, st)
	others := st.snapshot(member.ID)
	m.mu.Unlock()

	m.log.Info().Str("conn_id", member.ID).Str("username", username).
		Int64("channel_id", channelID).Int("total_users", total).Msg("user connected")

	now := time.Now()
	m.sendTo(channelID, member, marshal(ConnectedMsg{
		Type:       TypeConnected,
		UserID:     member.ID,
		Username:   username,
		ChannelID:  channelID,
		Message:    "Connected to channel",
		ServerTime: now,
	}))
	m.sendTo(channelID, member, marshal(StatusMsg{
		Type:      TypeStatus,
		Status:    status,
		Timestamp: now,
	}))
	m.sendTo(channelID, member, marshal(RecordingStatusMsg{
		Type:            TypeRecordingStatus,
		RecordingStatus: m.recorder.Status(channelID),
	}))
	m.deliver(channelID, []outboundSend{{targets: others, payload: marshal(PresenceMsg{
		Type:       TypeUserJoined,
		UserID:     member.ID,
		Username:   username,
		ChannelID:  channelID,
		TotalUsers: total,
		Timestamp:  now,
	})}})

	return member.ID, nil
}

// Disconnect removes the connection from the channel. Idempotent and safe
// to invoke concurrently from every trigger (client close, failed send,
// admin removal); the first caller to observe the member performs cleanup.
func (m *Manager) Disconnect(connID string, channelID int64) {
	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil {
		m.mu.Unlock()
		return
	}
	member, ok := st.members[connID]
	if !ok {
		m.mu.Unlock()
		return
	}

	st.dequeue(connID)

	var sends []outboundSend
	if st.speaker == connID {
		st.speaker = ""
		member.speaking = false
		sends = m.speakerReleasedLocked(channelID, st, connID, member.Username, "disconnected")
	}

	delete(st.members, connID)

	if len(st.members) == 0 {
		delete(m.channels, channelID)
		m.mu.Unlock()
		m.log.Info().Str("conn_id", connID).Int64("channel_id", channelID).
			Msg("user disconnected, channel closed")
		m.deliver(channelID, sends)
		return
	}

	sends = append(sends, outboundSend{targets: st.snapshot(""), payload: marshal(PresenceMsg{
		Type:       TypeUserLeft,
		UserID:     connID,
		Username:   member.Username,
		ChannelID:  channelID,
		TotalUsers: len(st.members),
		Timestamp:  time.Now(),
	})})
	m.mu.Unlock()

	m.log.Info().Str("conn_id", connID).Str("username", member.Username).
		Int64("channel_id", channelID).Msg("user disconnected")
	m.deliver(channelID, sends)
}

// RequestSpeak grants the microphone when it is free, otherwise enqueues the
// caller. Enqueuing is idempotent. A grant starts a recording when the
// channel owner's entitlement covers today.
func (m *Manager) RequestSpeak(connID string, channelID int64, displayName string) Response {
	now := time.Now()

	m.mu.Lock()
	st := m.channels[channelID]
	member := st.member(connID)
	if member == nil {
		m.mu.Unlock()
		return Response{Type: TypeError, Message: "User not connected", ChannelID: channelID, Timestamp: now}
	}

	if st.speaker != "" {
		if st.speaker == connID {
			// The speaker re-requesting keeps its grant and is never
			// enqueued behind itself.
			m.mu.Unlock()
			return Response{Type: TypeSpeakGranted, Message: "You can speak now", ChannelID: channelID, Timestamp: now}
		}
		position := st.enqueue(connID)
		currentName := st.members[st.speaker].Username
		m.mu.Unlock()

		return Response{
			Type:           TypeSpeakDenied,
			Message:        "You are in queue at position " + strconv.Itoa(position),
			Position:       position,
			CurrentSpeaker: currentName,
			ChannelID:      channelID,
			Timestamp:      now,
		}
	}

	st.speaker = connID
	member.speaking = true
	targets := st.snapshot("")
	m.mu.Unlock()

	m.log.Info().Str("conn_id", connID).Str("username", member.Username).
		Int64("channel_id", channelID).Msg("speaker granted")

	m.deliver(channelID, []outboundSend{{targets: targets, payload: marshal(SpeakerChangedMsg{
		Type:        TypeSpeakerChanged,
		SpeakerID:   &connID,
		SpeakerName: &member.Username,
		ChannelID:   channelID,
		Timestamp:   now,
	})}})

	m.maybeStartRecording(channelID, displayName)

	return Response{Type: TypeSpeakGranted, Message: "You can speak now", ChannelID: channelID, Timestamp: now}
}

// maybeStartRecording consults the entitlement collaborator for the channel
// owner and starts a recording for this speaking turn when covered.
func (m *Manager) maybeStartRecording(channelID int64, speakerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	entitled, err := m.entitlements.AutoRecordEnabled(ctx, channelID, time.Now())
	if err != nil {
		m.log.Error().Err(err).Int64("channel_id", channelID).Msg("entitlement lookup failed")
		return
	}
	if !entitled {
		return
	}
	m.StartRecording(channelID, speakerName)
}

// ReleaseSpeak releases the microphone or removes the caller from the
// waiting queue. Releasing without holding the mic is a benign no-op.
func (m *Manager) ReleaseSpeak(connID string, channelID int64) Response {
	now := time.Now()

	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil {
		m.mu.Unlock()
		return Response{Type: TypeSpeakReleased, Message: "Removed from queue", ChannelID: channelID, Timestamp: now}
	}

	// Always repair the queue first: a member may linger there after a
	// race, and release must clear it regardless of speaker state.
	st.dequeue(connID)

	if st.speaker != connID {
		m.mu.Unlock()
		return Response{Type: TypeSpeakReleased, Message: "Removed from queue", ChannelID: channelID, Timestamp: now}
	}

	member := st.members[connID]
	st.speaker = ""
	member.speaking = false
	sends := m.speakerReleasedLocked(channelID, st, connID, member.Username, "released")
	m.mu.Unlock()

	// Recording stop is requested before the transition broadcasts go out.
	m.StopRecording(channelID)
	m.deliver(channelID, sends)

	return Response{Type: TypeSpeakReleased, Message: "Speaking rights released", ChannelID: channelID, Timestamp: now}
}

// speakerReleasedLocked runs the speaker-released sequence: announce the
// free microphone, then promote the queue head if any. Called with the
// state lock held; returns the frames to deliver after unlock, in order.
func (m *Manager) speakerReleasedLocked(channelID int64, st *channelState, prevID, prevName, reason string) []outboundSend {
	now := time.Now()
	sends := []outboundSend{{targets: st.snapshot(""), payload: marshal(SpeakerChangedMsg{
		Type:            TypeSpeakerChanged,
		SpeakerID:       nil,
		SpeakerName:     nil,
		PreviousSpeaker: prevName,
		Reason:          reason,
		ChannelID:       channelID,
		Timestamp:       now,
	})}}

	var next *Member
	for len(st.queue) > 0 {
		nextID := st.queue[0]
		st.queue = st.queue[1:]
		if nextID == prevID {
			// Safety net: RequestSpeak never enqueues the current
			// speaker, so hitting this means state went inconsistent
			// somewhere upstream.
			m.log.Warn().Str("conn_id", nextID).Int64("channel_id", channelID).
				Msg("outgoing speaker found in waiting queue, skipping")
			continue
		}
		if candidate, ok := st.members[nextID]; ok {
			next = candidate
			break
		}
	}

	if next == nil {
		return sends
	}

	st.speaker = next.ID
	next.speaking = true

	m.log.Info().Str("conn_id", next.ID).Str("username", next.Username).
		Int64("channel_id", channelID).Msg("next speaker promoted")

	sends = append(sends, outboundSend{targets: st.snapshot(""), payload: marshal(SpeakerChangedMsg{
		Type:        TypeSpeakerChanged,
		SpeakerID:   &next.ID,
		SpeakerName: &next.Username,
		ChannelID:   channelID,
		Timestamp:   now,
	})})
	sends = append(sends, outboundSend{targets: []*Member{next}, payload: marshal(Response{
		Type:      TypeSpeakGranted,
		Message:   "You can speak now",
		ChannelID: channelID,
		Timestamp: now,
	})})
	return sends
}

// ProcessAudioChunk relays one binary audio frame from the current speaker
// to every other channel member and feeds the recorder. Frames from anyone
// but the speaker are dropped silently; audio is latency-sensitive and
// drops are expected under arbitration races.
func (m *Manager) ProcessAudioChunk(connID string, channelID int64, data []byte) {
	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil || st.speaker != connID {
		m.mu.Unlock()
		m.log.Debug().Str("conn_id", connID).Int64("channel_id", channelID).
			Msg("audio chunk from non-speaker dropped")
		return
	}
	speakerName := st.members[connID].Username
	recipients := st.snapshot(connID)
	m.mu.Unlock()

	m.recorder.Write(channelID, data, connID, speakerName)

	// Concurrent fan-out; one slow or dead recipient never blocks the rest.
	var wg sync.WaitGroup
	for _, recipient := range recipients {
		wg.Add(1)
		go func(r *Member) {
			defer wg.Done()
			m.sendAudio(channelID, r, data)
		}(recipient)
	}
	wg.Wait()
}

// sendAudio delivers one audio frame to a recipient, priming it first if
// this is the first audio it receives on this connection.
func (m *Manager) sendAudio(channelID int64, r *Member, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if r.primed.CompareAndSwap(false, true) {
		silent := make([]byte, warmupFrameSize)
		for i := 0; i < warmupFrames; i++ {
			if err := r.Conn.SendBinary(ctx, silent); err != nil {
				m.log.Error().Err(err).Str("conn_id", r.ID).Msg("warm-up send failed")
				go m.Disconnect(r.ID, channelID)
				return
			}
		}
		m.log.Debug().Str("conn_id", r.ID).Msg("audio warm-up sent")
	}

	if err := r.Conn.SendBinary(ctx, data); err != nil {
		m.log.Error().Err(err).Str("conn_id", r.ID).Msg("audio send failed")
		go m.Disconnect(r.ID, channelID)
	}
}

// ChannelStatus returns a consistent snapshot of the channel, or false when
// the channel has no runtime state.
func (m *Manager) ChannelStatus(channelID int64) (ChannelStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.channels[channelID]
	if st == nil {
		return ChannelStatus{}, false
	}
	return m.statusLocked(channelID, st), true
}

func (m *Manager) statusLocked(channelID int64, st *channelState) ChannelStatus {
	status := ChannelStatus{
		ChannelID:          channelID,
		WaitingQueue:       append([]string(nil), st.queue...),
		WaitingNames:       make([]string, 0, len(st.queue)),
		ConnectedUsers:     make([]string, 0, len(st.members)),
		ConnectedUsernames: make([]string, 0, len(st.members)),
		TotalConnected:     len(st.members),
		ServerTime:         time.Now(),
	}
	if st.speaker != "" {
		speaker := st.speaker
		name := st.members[speaker].Username
		status.CurrentSpeaker = &speaker
		status.CurrentSpeakerName = &name
	}
	for _, id := range st.queue {
		status.WaitingNames = append(status.WaitingNames, st.members[id].Username)
	}
	for id, member := range st.members {
		status.ConnectedUsers = append(status.ConnectedUsers, id)
		status.ConnectedUsernames = append(status.ConnectedUsernames, member.Username)
	}
	return status
}

// SendStatus pushes the current channel snapshot to one member.
func (m *Manager) SendStatus(connID string, channelID int64) {
	m.mu.Lock()
	st := m.channels[channelID]
	member := st.member(connID)
	if member == nil {
		m.mu.Unlock()
		return
	}
	status := m.statusLocked(channelID, st)
	m.mu.Unlock()

	m.sendTo(channelID, member, marshal(StatusMsg{
		Type:      TypeStatus,
		Status:    status,
		Timestamp: status.ServerTime,
	}))
}

// LiveChannels lists ids of channels that currently have members.
func (m *Manager) LiveChannels() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// KickUser disconnects every live session of the given username from the
// channel. Returns the number of sessions dropped. Used by administrative
// removal so runtime state never outlives a revoked membership.
func (m *Manager) KickUser(channelID int64, username string) int {
	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil {
		m.mu.Unlock()
		return 0
	}
	var ids []string
	for id, member := range st.members {
		if member.Username == username {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id, channelID)
	}
	return len(ids)
}

// CloseChannel disconnects every live member of the channel. Used when the
// channel is deleted so no runtime state dangles.
func (m *Manager) CloseChannel(channelID int64) {
	m.mu.Lock()
	st := m.channels[channelID]
	if st == nil {
		m.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(st.members))
	for id := range st.members {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id, channelID)
	}
}

// StartRecording begins a recording for the channel and, on success,
// announces it to all members.
func (m *Manager) StartRecording(channelID int64, speakerName string) recorder.StartResult {
	result := m.recorder.Start(channelID, speakerName)
	if !result.Success {
		return result
	}

	m.mu.Lock()
	var targets []*Member
	if st := m.channels[channelID]; st != nil {
		targets = st.snapshot("")
	}
	m.mu.Unlock()

	m.deliver(channelID, []outboundSend{{targets: targets, payload: marshal(RecordingStartedMsg{
		Type:        TypeRecordingStarted,
		ChannelID:   channelID,
		RecordingID: result.RecordingID,
		Filename:    result.Filename,
		Timestamp:   time.Now(),
	})}})
	return result
}

// StopRecording finalizes the channel's recording and, on success,
// announces it to all members.
func (m *Manager) StopRecording(channelID int64) recorder.StopResult {
	result := m.recorder.Stop(channelID)
	if !result.Success {
		return result
	}

	m.mu.Lock()
	var targets []*Member
	if st := m.channels[channelID]; st != nil {
		targets = st.snapshot("")
	}
	m.mu.Unlock()

	m.deliver(channelID, []outboundSend{{targets: targets, payload: marshal(RecordingStoppedMsg{
		Type:            TypeRecordingStopped,
		ChannelID:       channelID,
		Filename:        result.Filename,
		Path:            result.Path,
		DurationSeconds: result.DurationSeconds,
		Timestamp:       time.Now(),
	})}})
	return result
}

// RecordingStatus returns the channel's recording state.
func (m *Manager) RecordingStatus(channelID int64) recorder.Status {
	return m.recorder.Status(channelID)
}

// Recordings lists persisted recording files; channelID 0 lists all.
func (m *Manager) Recordings(channelID int64) ([]recorder.FileInfo, error) {
	return m.recorder.List(channelID)
}

// ResolveRecordingFile maps a recording filename to a path for download.
func (m *Manager) ResolveRecordingFile(filename string) (string, bool) {
	return m.recorder.ResolveFile(filename)
}

// deliver writes queued control frames in order. A failed recipient is
// disconnected asynchronously and never blocks the remaining deliveries.
func (m *Manager) deliver(channelID int64, sends []outboundSend) {
	for _, s := range sends {
		for _, target := range s.targets {
			m.sendTo(channelID, target, s.payload)
		}
	}
}

func (m *Manager) sendTo(channelID int64, member *Member, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := member.Conn.SendText(ctx, payload); err != nil {
		m.log.Error().Err(err).Str("conn_id", member.ID).Int64("channel_id", channelID).
			Msg("control send failed")
		go m.Disconnect(member.ID, channelID)
	}
}

// ==== channelState helpers (manager lock held) ====

func (st *channelState) member(connID string) *Member {
	if st == nil {
		return nil
	}
	return st.members[connID]
}

// snapshot copies the member list, optionally excluding one id. Broadcasts
// iterate the copy without the lock, so a send may race a concurrent leave;
// stray sends to a departed member are tolerated.
func (st *channelState) snapshot(exclude string) []*Member {
	members := make([]*Member, 0, len(st.members))
	for id, member := range st.members {
		if id == exclude {
			continue
		}
		members = append(members, member)
	}
	return members
}

// enqueue adds the id to the waiting queue without duplicates and returns
// its 1-based position.
func (st *channelState) enqueue(connID string) int {
	for i, id := range st.queue {
		if id == connID {
			return i + 1
		}
	}
	st.queue = append(st.queue, connID)
	return len(st.queue)
}

func (st *channelState) dequeue(connID string) {
	for i, id := range st.queue {
		if id == connID {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			return
		}
	}
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound message types marshal cleanly; this is unreachable
		// for well-formed payloads.
		panic(err)
	}
	return data
}


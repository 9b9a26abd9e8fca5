package radio

import (
	"time"

	"github.com/airwavehq/airwave-server/internal/recorder"
)

// Control-plane message types. Inbound types arrive from clients, outbound
// types are emitted by the manager and transport.
const (
	// inbound
	TypeSpeakRequest = "speak_request"
	TypeSpeakRelease = "speak_release"
	TypeGetStatus    = "get_status"
	TypePing         = "ping"

	// outbound
	TypeConnected        = "connected"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeSpeakerChanged   = "speaker_changed"
	TypeSpeakGranted     = "speak_granted"
	TypeSpeakDenied      = "speak_denied"
	TypeSpeakReleased    = "speak_released"
	TypeStatus           = "status"
	TypePong             = "pong"
	TypeError            = "error"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
	TypeRecordingStatus  = "recording_status"
)

// Inbound is the envelope for control frames coming from the client.
type Inbound struct {
	Type        string `json:"type"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

// Response answers a client's speak_request or speak_release.
type Response struct {
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	ChannelID      int64     `json:"channel_id"`
	Position       int       `json:"position,omitempty"`
	CurrentSpeaker string    `json:"current_speaker,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ConnectedMsg acknowledges a successful join to the new member.
type ConnectedMsg struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	ChannelID  int64     `json:"channel_id"`
	Message    string    `json:"message"`
	ServerTime time.Time `json:"server_time"`
}

// PresenceMsg notifies channel members about a join or leave.
type PresenceMsg struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	ChannelID  int64     `json:"channel_id"`
	TotalUsers int       `json:"total_users"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakerChangedMsg announces an arbitration transition. SpeakerID and
// SpeakerName are null when the microphone became free.
type SpeakerChangedMsg struct {
	Type            string    `json:"type"`
	SpeakerID       *string   `json:"speaker_id"`
	SpeakerName     *string   `json:"speaker_name"`
	PreviousSpeaker string    `json:"previous_speaker,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ChannelID       int64     `json:"channel_id"`
	Timestamp       time.Time `json:"timestamp"`
}

// StatusMsg carries a full channel snapshot.
type StatusMsg struct {
	Type      string        `json:"type"`
	Status    ChannelStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// RecordingStatusMsg carries the channel's recording state.
type RecordingStatusMsg struct {
	Type            string          `json:"type"`
	RecordingStatus recorder.Status `json:"recording_status"`
}

// RecordingStartedMsg announces a new recording to the channel.
type RecordingStartedMsg struct {
	Type        string    `json:"type"`
	ChannelID   int64     `json:"channel_id"`
	RecordingID string    `json:"recording_id"`
	Filename    string    `json:"filename"`
	Timestamp   time.Time `json:"timestamp"`
}

// RecordingStoppedMsg announces a finished recording to the channel.
type RecordingStoppedMsg struct {
	Type            string    `json:"type"`
	ChannelID       int64     `json:"channel_id"`
	Filename        string    `json:"filename"`
	Path            string    `json:"filepath"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// ErrorMsg reports malformed input or a denied action to one client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongMsg answers a ping.
type PongMsg struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

package radio

import "time"

// ChannelStatus is a consistent snapshot of one channel's live state.
type ChannelStatus struct {
	ChannelID          int64     `json:"channel_id"`
	CurrentSpeaker     *string   `json:"current_speaker"`
	CurrentSpeakerName *string   `json:"current_speaker_name"`
	WaitingQueue       []string  `json:"waiting_queue"`
	WaitingNames       []string  `json:"waiting_names"`
	ConnectedUsers     []string  `json:"connected_users"`
	ConnectedUsernames []string  `json:"connected_usernames"`
	TotalConnected     int       `json:"total_connected"`
	ServerTime         time.Time `json:"server_time"`
}

package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/radio"
	"github.com/airwavehq/airwave-server/internal/store"
	"github.com/airwavehq/airwave-server/internal/utils"
)

// ChannelHandlers provides HTTP handlers for channel management and live
// channel state.
type ChannelHandlers struct {
	store   store.Store
	manager *radio.Manager
	log     *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(st store.Store, manager *radio.Manager, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		store:   st,
		manager: manager,
		log:     logger,
	}
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
}

// ParticipantResponse represents a channel member in API responses.
type ParticipantResponse struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Phone       string `json:"phone,omitempty"`
	IsModerator bool   `json:"is_moderator"`
	IsOwner     bool   `json:"is_owner"`
}

func channelResponse(ch *store.Channel) ChannelResponse {
	return ChannelResponse{
		ID:        ch.ID,
		Name:      ch.Name,
		Code:      ch.Code,
		CreatedAt: ch.CreatedAt.Format(time.RFC3339),
	}
}

// CreateChannel handles channel creation.
// POST /api/channels
func (h *ChannelHandlers) CreateChannel(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	channel, err := h.store.CreateChannel(c.Request.Context(), req.Name, utils.ShortToken(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("channel_name", req.Name).Msg("failed to create channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Int64("channel_id", channel.ID).Int64("owner_id", uid).Msg("channel created")
	c.JSON(http.StatusCreated, channelResponse(channel))
}

// ListChannels lists the caller's channels.
// GET /api/channels
func (h *ChannelHandlers) ListChannels(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	channels, err := h.store.ListChannelsForUser(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		response = append(response, channelResponse(ch))
	}
	c.JSON(http.StatusOK, response)
}

// GetChannel returns one channel with its participants.
// GET /api/channels/:id
func (h *ChannelHandlers) GetChannel(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	channel, err := h.store.GetChannelByID(c.Request.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to get channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	participants, err := h.store.ListParticipants(c.Request.Context(), channelID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to list participants")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	members := make([]ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		members = append(members, ParticipantResponse{
			UserID:      p.UserID,
			Username:    p.Username,
			Phone:       p.Phone,
			IsModerator: p.IsModerator,
			IsOwner:     p.IsOwner,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"channel":      channelResponse(channel),
		"participants": members,
	})
}

// DeleteChannel deletes a channel. Owner only; live members are disconnected
// first so no runtime state dangles.
// DELETE /api/channels/:id
func (h *ChannelHandlers) DeleteChannel(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	participant, err := h.store.GetParticipant(c.Request.Context(), uid, channelID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !participant.IsOwner) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "only the channel owner can delete it"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to check ownership")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.manager.CloseChannel(channelID)
	h.manager.StopRecording(channelID)

	if err := h.store.DeleteChannel(c.Request.Context(), channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to delete channel")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Int64("channel_id", channelID).Int64("user_id", uid).Msg("channel deleted")
	c.Status(http.StatusNoContent)
}

// JoinChannelRequest represents the join-by-code request body.
type JoinChannelRequest struct {
	Code string `json:"code" binding:"required"`
}

// JoinChannel adds the caller to a channel by join code.
// POST /api/channels/join
func (h *ChannelHandlers) JoinChannel(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req JoinChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	channel, err := h.store.GetChannelByCode(c.Request.Context(), req.Code)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to resolve channel code")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.AddParticipant(c.Request.Context(), uid, channel.ID, false, false); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channel.ID).Msg("failed to add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, channelResponse(channel))
}

// AddParticipantRequest represents the add-participant request body.
type AddParticipantRequest struct {
	UserID      int64 `json:"user_id" binding:"required"`
	IsModerator bool  `json:"is_moderator"`
}

// AddParticipant adds a user to a channel by persistent id.
// POST /api/channels/:id/participants
func (h *ChannelHandlers) AddParticipant(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.store.GetChannelByID(c.Request.Context(), channelID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}

	if err := h.store.AddParticipant(c.Request.Context(), req.UserID, channelID, req.IsModerator, false); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveParticipant removes a user from a channel by persistent id and
// disconnects any live sessions of that user.
// DELETE /api/channels/:id/participants/:userID
func (h *ChannelHandlers) RemoveParticipant(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.RemoveParticipant(c.Request.Context(), userID, channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "participant not found"})
			return
		}
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("failed to remove participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	dropped := h.manager.KickUser(channelID, user.Username)
	h.log.Info().Int64("channel_id", channelID).Int64("user_id", userID).
		Int("sessions_dropped", dropped).Msg("participant removed")
	c.Status(http.StatusNoContent)
}

// GetChannelStatus returns the live snapshot of a channel.
// GET /api/channels/:id/status
func (h *ChannelHandlers) GetChannelStatus(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	status, ok := h.manager.ChannelStatus(channelID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel has no active users"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// LiveUserResponse decorates a connected user with arbitration state.
type LiveUserResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	IsSpeaker     bool   `json:"is_speaker"`
	InQueue       bool   `json:"in_queue"`
	QueuePosition *int   `json:"queue_position"`
}

// GetChannelUsers lists connected users for a channel.
// GET /api/channels/:id/users
func (h *ChannelHandlers) GetChannelUsers(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	status, ok := h.manager.ChannelStatus(channelID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel has no active users"})
		return
	}

	queuePos := make(map[string]int, len(status.WaitingQueue))
	for i, id := range status.WaitingQueue {
		queuePos[id] = i + 1
	}

	users := make([]LiveUserResponse, 0, len(status.ConnectedUsers))
	for i, id := range status.ConnectedUsers {
		u := LiveUserResponse{
			ID:        id,
			Username:  status.ConnectedUsernames[i],
			IsSpeaker: status.CurrentSpeaker != nil && *status.CurrentSpeaker == id,
		}
		if pos, queued := queuePos[id]; queued {
			u.InQueue = true
			u.QueuePosition = &pos
		}
		users = append(users, u)
	}

	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"total": status.TotalConnected,
	})
}

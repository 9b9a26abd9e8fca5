package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/radio"
)

// RecordingHandlers provides HTTP handlers for recording administration.
type RecordingHandlers struct {
	manager *radio.Manager
	log     *zerolog.Logger
}

// NewRecordingHandlers creates a new recording handlers instance.
func NewRecordingHandlers(manager *radio.Manager, logger *zerolog.Logger) *RecordingHandlers {
	return &RecordingHandlers{manager: manager, log: logger}
}

// StartRecordingRequest represents the start-recording request body.
type StartRecordingRequest struct {
	SpeakerName string `json:"speaker_name" binding:"required"`
}

// StartRecording starts a recording for a channel.
// POST /api/channels/:id/recording/start
func (h *RecordingHandlers) StartRecording(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result := h.manager.StartRecording(channelID, req.SpeakerName)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StopRecording stops the channel's recording and finalizes the file.
// POST /api/channels/:id/recording/stop
func (h *RecordingHandlers) StopRecording(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}

	result := h.manager.StopRecording(channelID)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRecordingStatus returns the channel's recording state.
// GET /api/channels/:id/recording/status
func (h *RecordingHandlers) GetRecordingStatus(c *gin.Context) {
	channelID, ok := channelIDParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.manager.RecordingStatus(channelID))
}

// ListRecordings lists persisted recordings, optionally for one channel.
// GET /api/recordings?channel_id=
func (h *RecordingHandlers) ListRecordings(c *gin.Context) {
	var channelID int64
	if raw := c.Query("channel_id"); raw != "" {
		var err error
		channelID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel_id"})
			return
		}
	}

	recordings, err := h.manager.Recordings(channelID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list recordings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recordings, "total": len(recordings)})
}

// DownloadRecording streams a recording file.
// GET /api/recordings/:filename
func (h *RecordingHandlers) DownloadRecording(c *gin.Context) {
	filename := c.Param("filename")

	path, ok := h.manager.ResolveRecordingFile(filename)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "recording not found"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.File(path)
}

func channelIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return 0, false
	}
	return id, true
}

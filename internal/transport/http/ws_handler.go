package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/auth"
	"github.com/airwavehq/airwave-server/internal/radio"
)

// WSHandler upgrades HTTP connections and bridges them to the radio manager.
type WSHandler struct {
	manager     *radio.Manager
	authService *auth.Service
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(manager *radio.Manager, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{manager: manager, authService: authService, log: logger}
}

// wsConn adapts a websocket connection to the radio.Conn capability.
// coder/websocket serializes concurrent writers internally.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) SendText(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) SendBinary(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

// Handle serves GET /ws/:username?channel_id=&token=.
// Text frames carry JSON control messages, binary frames carry audio.
func (h *WSHandler) Handle(c *gin.Context) {
	username := c.Param("username")

	channelID, err := strconv.ParseInt(c.Query("channel_id"), 10, 64)
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid channel_id"})
		return
	}

	claims, err := h.authService.ValidateToken(c.Query("token"))
	if err != nil || claims.Username != username {
		h.log.Debug().Err(err).Str("username", username).Msg("ws auth failed")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := c.Request.Context()

	connID, err := h.manager.Connect(ctx, &wsConn{conn: conn}, username, channelID)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "channel access denied")
		return
	}
	defer h.manager.Disconnect(connID, channelID)

	if err := h.readLoop(ctx, conn, connID, channelID); err != nil {
		status := websocket.CloseStatus(err)
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("ws connection closed with error")
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, connID string, channelID int64) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		switch typ {
		case websocket.MessageText:
			h.handleControl(ctx, conn, connID, channelID, data)
		case websocket.MessageBinary:
			h.manager.ProcessAudioChunk(connID, channelID, data)
		}
	}
}

// handleControl dispatches one inbound JSON control frame. Malformed input
// is answered with an error frame; the connection stays open.
func (h *WSHandler) handleControl(ctx context.Context, conn *websocket.Conn, connID string, channelID int64, data []byte) {
	var inbound radio.Inbound
	if err := json.Unmarshal(data, &inbound); err != nil {
		h.log.Warn().Err(err).Str("conn_id", connID).Msg("invalid control frame")
		h.writeJSON(ctx, conn, radio.ErrorMsg{Type: radio.TypeError, Message: "Invalid JSON format"})
		return
	}

	switch inbound.Type {
	case radio.TypeSpeakRequest:
		resp := h.manager.RequestSpeak(connID, channelID, inbound.SpeakerName)
		h.writeJSON(ctx, conn, resp)
	case radio.TypeSpeakRelease:
		resp := h.manager.ReleaseSpeak(connID, channelID)
		h.writeJSON(ctx, conn, resp)
	case radio.TypeGetStatus:
		h.manager.SendStatus(connID, channelID)
	case radio.TypePing:
		h.writeJSON(ctx, conn, radio.PongMsg{Type: radio.TypePong, Timestamp: time.Now()})
	default:
		h.writeJSON(ctx, conn, radio.ErrorMsg{
			Type:    radio.TypeError,
			Message: "Unknown message type: " + inbound.Type,
		})
	}
}

func (h *WSHandler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal ws response")
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.log.Warn().Err(err).Msg("write ws response")
	}
}

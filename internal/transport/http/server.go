package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/auth"
	"github.com/airwavehq/airwave-server/internal/config"
	"github.com/airwavehq/airwave-server/internal/radio"
	"github.com/airwavehq/airwave-server/internal/store"
)

// NewServer builds the HTTP server with all API and WebSocket routes.
func NewServer(manager *radio.Manager, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	channelHandlers := NewChannelHandlers(st, manager, logger)
	recordingHandlers := NewRecordingHandlers(manager, logger)
	chatHandlers := NewChatHandlers(st, logger)
	ticketHandlers := NewTicketHandlers(st, logger)
	wsHandler := NewWSHandler(manager, authService, logger)

	// Public endpoints
	engine.POST("/api/register", apiHandlers.Register)
	engine.POST("/api/login", apiHandlers.Login)

	// Token is carried in the query string for WebSocket upgrades.
	engine.GET("/ws/:username", wsHandler.Handle)

	api := engine.Group("/api")
	api.Use(AuthMiddleware(authService, logger))
	{
		api.POST("/channels", channelHandlers.CreateChannel)
		api.GET("/channels", channelHandlers.ListChannels)
		api.GET("/channels/:id", channelHandlers.GetChannel)
		api.DELETE("/channels/:id", channelHandlers.DeleteChannel)
		api.POST("/channels/join", channelHandlers.JoinChannel)
		api.POST("/channels/:id/participants", channelHandlers.AddParticipant)
		api.DELETE("/channels/:id/participants/:userID", channelHandlers.RemoveParticipant)
		api.GET("/channels/:id/status", channelHandlers.GetChannelStatus)
		api.GET("/channels/:id/users", channelHandlers.GetChannelUsers)

		api.POST("/channels/:id/recording/start", recordingHandlers.StartRecording)
		api.POST("/channels/:id/recording/stop", recordingHandlers.StopRecording)
		api.GET("/channels/:id/recording/status", recordingHandlers.GetRecordingStatus)
		api.GET("/recordings", recordingHandlers.ListRecordings)
		api.GET("/recordings/:filename", recordingHandlers.DownloadRecording)

		api.GET("/chat/:id", chatHandlers.ListMessages)
		api.POST("/chat/:id", chatHandlers.PostMessage)

		api.POST("/tickets", ticketHandlers.CreateTicket)
		api.GET("/tickets", ticketHandlers.ListTickets)
		api.POST("/tickets/grant", ticketHandlers.GrantTicket)
		api.POST("/tickets/reject", ticketHandlers.RejectTicket)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airwavehq/airwave-server/internal/store"
)

// TicketHandlers provides HTTP handlers for premium upgrade tickets.
// Granting a ticket extends the requester's premium entitlement by one
// month from now and removes the ticket; rejecting just removes it.
type TicketHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewTicketHandlers creates a new ticket handlers instance.
func NewTicketHandlers(st store.Store, logger *zerolog.Logger) *TicketHandlers {
	return &TicketHandlers{store: st, log: logger}
}

// CreateTicketRequest represents the create-ticket request body.
type CreateTicketRequest struct {
	Phone    string `json:"phone" binding:"required"`
	ImageURL string `json:"image_url"`
}

// TicketResponse represents a ticket in API responses.
type TicketResponse struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	ImageURL  string `json:"image_url"`
	CreatedAt string `json:"created_at"`
}

// TicketPhoneRequest identifies a ticket by the requester's phone.
type TicketPhoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

func ticketResponse(t *store.Ticket) TicketResponse {
	return TicketResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Username:  t.Username,
		Phone:     t.Phone,
		ImageURL:  t.ImageURL,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// CreateTicket records a premium upgrade request for the caller.
// POST /api/tickets
func (h *TicketHandlers) CreateTicket(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	username, _ := c.Get(ContextKeyUsername)
	name, _ := username.(string)

	ticket, err := h.store.CreateTicket(c.Request.Context(), &store.Ticket{
		UserID:   uid,
		Username: name,
		Phone:    req.Phone,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to create ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, ticketResponse(ticket))
}

// ListTickets lists all pending tickets.
// GET /api/tickets
func (h *TicketHandlers) ListTickets(c *gin.Context) {
	tickets, err := h.store.ListTickets(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list tickets")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		response = append(response, ticketResponse(t))
	}
	c.JSON(http.StatusOK, response)
}

// GrantTicket grants premium to the ticket's requester for one month and
// removes the ticket.
// POST /api/tickets/grant
func (h *TicketHandlers) GrantTicket(c *gin.Context) {
	var req TicketPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()

	user, err := h.store.GetUserByPhone(ctx, req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get user by phone")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	ticket, err := h.store.GetTicketByPhone(ctx, req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get ticket by phone")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	until := time.Now().AddDate(0, 1, 0)
	if err := h.store.SetPremiumUntil(ctx, user.ID, until); err != nil {
		h.log.Error().Err(err).Int64("user_id", user.ID).Msg("failed to set premium")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if err := h.store.DeleteTicket(ctx, ticket.ID); err != nil {
		h.log.Error().Err(err).Int64("ticket_id", ticket.ID).Msg("failed to delete ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Int64("user_id", user.ID).Time("premium_until", until).Msg("premium granted")
	h.ListTickets(c)
}

// RejectTicket removes a ticket without granting premium.
// POST /api/tickets/reject
func (h *TicketHandlers) RejectTicket(c *gin.Context) {
	var req TicketPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ticket, err := h.store.GetTicketByPhone(c.Request.Context(), req.Phone)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("failed to get ticket by phone")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.DeleteTicket(c.Request.Context(), ticket.ID); err != nil {
		h.log.Error().Err(err).Int64("ticket_id", ticket.ID).Msg("failed to delete ticket")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.ListTickets(c)
}

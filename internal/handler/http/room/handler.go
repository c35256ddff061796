package room

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicelink-backend/pkg/response"
)

// RosterStore manages room membership.
type RosterStore interface {
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// Handler handles room roster HTTP requests
type Handler struct {
	roster RosterStore
}

// NewHandler creates a new room handler
func NewHandler(roster RosterStore) *Handler {
	return &Handler{roster: roster}
}

// JoinRoom adds the authenticated user to a room roster
// POST /v1/rooms/:id/members
func (h *Handler) JoinRoom(c *gin.Context) {
	roomID, userID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	if err := h.roster.AddMember(c.Request.Context(), roomID, userID); err != nil {
		response.InternalError(c, "Failed to join room")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"room_id": roomID,
		"user_id": userID,
	})
}

// LeaveRoom removes the authenticated user from a room roster
// DELETE /v1/rooms/:id/members
func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID, userID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	if err := h.roster.RemoveMember(c.Request.Context(), roomID, userID); err != nil {
		response.InternalError(c, "Failed to leave room")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"room_id": roomID,
		"user_id": userID,
	})
}

// GetMembers lists the members of a room
// GET /v1/rooms/:id/members
func (h *Handler) GetMembers(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	members, err := h.roster.Members(c.Request.Context(), roomID)
	if err != nil {
		response.InternalError(c, "Failed to load room members")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"room_id": roomID,
		"members": members,
	})
}

func (h *Handler) roomAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return uuid.Nil, uuid.Nil, false
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, uuid.Nil, false
	}

	return roomID, userID, true
}

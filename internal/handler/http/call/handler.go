package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
	"voicelink-backend/pkg/pagination"
	"voicelink-backend/pkg/response"
)

// HistoryStore reads persisted call records.
type HistoryStore interface {
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error)
	GetRoomCalls(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.CallRecord, error)
}

// Handler handles call history HTTP requests
type Handler struct {
	store HistoryStore
}

// NewHandler creates a new call handler
func NewHandler(store HistoryStore) *Handler {
	return &Handler{store: store}
}

// GetHistory lists the calls the authenticated user initiated
// GET /v1/calls/history
func (h *Handler) GetHistory(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	params, err := pagination.ParsePaginationParams(
		c.Query("page"), c.Query("limit"), "started_at", "desc")
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	records, err := h.store.GetUserCalls(c.Request.Context(), userID,
		params.Limit, pagination.CalculateOffset(params.Page, params.Limit))
	if err != nil {
		response.InternalError(c, "Failed to load call history")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": records,
		"page":  params.Page,
		"limit": params.Limit,
	})
}

// GetCall returns a single call record
// GET /v1/calls/:id
func (h *Handler) GetCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	rec, err := h.store.GetByID(c.Request.Context(), callID)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		response.Error(c, appErr.StatusCode, string(appErr.Code), appErr.Message)
		return
	}

	response.Success(c, http.StatusOK, rec)
}

// GetRoomHistory lists the calls that took place in a room
// GET /v1/rooms/:id/calls
func (h *Handler) GetRoomHistory(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	params, err := pagination.ParsePaginationParams(
		c.Query("page"), c.Query("limit"), "started_at", "desc")
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	records, err := h.store.GetRoomCalls(c.Request.Context(), roomID,
		params.Limit, pagination.CalculateOffset(params.Page, params.Limit))
	if err != nil {
		response.InternalError(c, "Failed to load room call history")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": records,
		"page":  params.Page,
		"limit": params.Limit,
	})
}

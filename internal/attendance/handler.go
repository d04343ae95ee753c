package attendance

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/pkg/response"
)

// Handler handles attendance HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// PushRequest is the body for PUT /sessions/:id/attendance. The recorder
// sends its full bucket mapping every tick; the server merges it, so a lost
// push is repaired by the next one.
type PushRequest struct {
	ViewerID string                            `json:"viewer_id" binding:"required"`
	Buckets  map[int64]models.AttendanceSample `json:"buckets" binding:"required"`
}

// Push handles PUT /sessions/:id/attendance.
func (h *Handler) Push(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Upsert(c.Request.Context(), sessionID, req.ViewerID, req.Buckets); err != nil {
		h.logger.Error("attendance upsert failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "failed to store attendance")
		return
	}
	response.NoContent(c)
}

// List handles GET /sessions/:id/attendance (moderator only).
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("attendance list failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	response.OK(c, gin.H{"attendance": list})
}

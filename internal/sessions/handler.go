package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/middleware"
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/pkg/queue"
	"github.com/classlive/coordinator/pkg/response"
	"github.com/classlive/coordinator/pkg/storage"
)

// Handler handles session HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewHandler creates a session handler. s3 and q may be nil when the
// deployment has no media bucket or no harvest worker.
func NewHandler(repo *Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, queue: q, logger: logger}
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title    string               `json:"title" binding:"required"`
	LiveType models.LiveType      `json:"live_type"`
	JoinMode models.JoinMode      `json:"join_mode"`
	HasChat  bool                 `json:"has_chat"`
	Channel  models.ChannelConfig `json:"channel_config"`
}

// ParticipantRequest is the body for list add endpoints.
type ParticipantRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name"`
}

// StartRequest is the body for POST /sessions/:id/live/start. Confirm must
// be set when restarting a harvested session, because that erases the
// previous recording.
type StartRequest struct {
	Confirm bool `json:"confirm"`
}

// Create handles POST /sessions (moderator only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.LiveType == "" {
		req.LiveType = models.LiveTypeRaw
	}
	if req.JoinMode == "" {
		req.JoinMode = models.JoinModeApproval
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s := &models.Session{
		Title:     req.Title,
		LiveType:  req.LiveType,
		JoinMode:  req.JoinMode,
		HasChat:   req.HasChat,
		Channel:   req.Channel,
		CreatedBy: userID,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, gin.H{"sessions": list})
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, s)
}

// AddAsking handles POST /sessions/:id/asking (moderator only). Idempotent:
// re-adding the same participant id leaves the list unchanged.
func (h *Handler) AddAsking(c *gin.Context) {
	h.mutate(c, func(id uuid.UUID, p models.Participant) (*models.Session, error) {
		return h.repo.AddAsking(c.Request.Context(), id, p)
	})
}

// RemoveAsking handles DELETE /sessions/:id/asking?participant_id= (moderator only).
func (h *Handler) RemoveAsking(c *gin.Context) {
	h.remove(c, func(id uuid.UUID, participantID string) (*models.Session, error) {
		return h.repo.RemoveAsking(c.Request.Context(), id, participantID)
	})
}

// AddDiscussion handles POST /sessions/:id/discussion (moderator only).
func (h *Handler) AddDiscussion(c *gin.Context) {
	h.mutate(c, func(id uuid.UUID, p models.Participant) (*models.Session, error) {
		return h.repo.AddDiscussion(c.Request.Context(), id, p)
	})
}

// RemoveDiscussion handles DELETE /sessions/:id/discussion?participant_id= (moderator only).
func (h *Handler) RemoveDiscussion(c *gin.Context) {
	h.remove(c, func(id uuid.UUID, participantID string) (*models.Session, error) {
		return h.repo.RemoveDiscussion(c.Request.Context(), id, participantID)
	})
}

func (h *Handler) mutate(c *gin.Context, op func(uuid.UUID, models.Participant) (*models.Session, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := op(id, models.Participant{ID: req.ID, Name: req.Name})
	if err != nil {
		h.listError(c, err)
		return
	}
	response.OK(c, s)
}

func (h *Handler) remove(c *gin.Context, op func(uuid.UUID, string) (*models.Session, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	participantID := c.Query("participant_id")
	if participantID == "" {
		response.BadRequest(c, "participant_id required")
		return
	}
	s, err := op(id, participantID)
	if err != nil {
		h.listError(c, err)
		return
	}
	response.OK(c, s)
}

func (h *Handler) listError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	h.logger.Error("list mutation failed", zap.Error(err))
	response.Internal(c, "failed to update participant list")
}

// StartLive handles POST /sessions/:id/live/start (moderator only). Starting
// a harvested session erases the previous recording, so it requires an
// explicit confirm flag.
func (h *Handler) StartLive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req StartRequest
	_ = c.ShouldBindJSON(&req) // empty body means confirm=false

	current, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.listError(c, err)
		return
	}
	if current.LiveState == models.LiveHarvested {
		if !req.Confirm {
			response.Conflict(c, "restarting a harvested session erases the previous recording; confirm required")
			return
		}
		if h.s3 != nil {
			if err := h.s3.DeleteRecording(c.Request.Context(), id.String()); err != nil {
				h.logger.Warn("failed to delete previous recording", zap.String("session_id", id.String()), zap.Error(err))
			}
		}
	}

	from := []models.LiveState{models.LiveIdle, models.LiveStopped, models.LiveHarvested}
	s, err := h.repo.UpdateLiveState(c.Request.Context(), id, from, models.LiveRunning)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			response.Conflict(c, err.Error())
			return
		}
		h.listError(c, err)
		return
	}
	h.logger.Info("live started", zap.String("session_id", id.String()))
	response.OK(c, s)
}

// StopLive handles POST /sessions/:id/live/stop (moderator only). Stopping
// disconnects all viewers; the caller confirms with the user before issuing
// the call. A harvest job is enqueued for the recording.
func (h *Handler) StopLive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	from := []models.LiveState{models.LiveRunning, models.LiveStarting}
	s, err := h.repo.UpdateLiveState(c.Request.Context(), id, from, models.LiveStopped)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			response.Conflict(c, err.Error())
			return
		}
		h.listError(c, err)
		return
	}
	if h.queue != nil {
		if err := h.queue.EnqueueHarvest(c.Request.Context(), queue.HarvestPayload{SessionID: id}); err != nil {
			h.logger.Warn("failed to enqueue harvest", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
	h.logger.Info("live stopped", zap.String("session_id", id.String()))
	response.OK(c, s)
}

// ManifestReady handles GET /sessions/:id/manifest-ready. RAW-mode clients
// poll this until the distribution manifest is servable.
func (h *Handler) ManifestReady(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.s3 == nil {
		response.OK(c, gin.H{"ready": true})
		return
	}
	ready, err := h.s3.ManifestReady(c.Request.Context(), id.String())
	if err != nil {
		h.logger.Warn("manifest probe failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "manifest probe failed")
		return
	}
	response.OK(c, gin.H{"ready": ready})
}

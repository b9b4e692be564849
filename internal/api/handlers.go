package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/detoxmine/internal/goal"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/goodtune/detoxmine/internal/usage"
)

const defaultHistoryDays = 30

// UsageEngine is the engine surface the API exposes.
type UsageEngine interface {
	Snapshot() usage.Snapshot
	CheckPermission(ctx context.Context) usage.PermissionState
	RequestPermission(ctx context.Context) usage.Outcome
	RefreshStats(ctx context.Context) usage.Result
	DebugInfo(ctx context.Context) usage.Diagnostics
}

// GoalService manages detox goals.
type GoalService interface {
	Create(ctx context.Context, limitMinutes, durationDays int) (*storage.Goal, error)
	Get(ctx context.Context, id string) (*storage.Goal, error)
	List(ctx context.Context) ([]storage.Goal, error)
	Finalize(ctx context.Context, id string) (*storage.Goal, error)
	Profile(ctx context.Context) (*storage.Profile, error)
}

// Handler serves the consumer API.
type Handler struct {
	engine    UsageEngine
	goals     GoalService
	snapshots storage.SnapshotStore
	now       func() time.Time
}

// NewHandler creates a handler. goals and snapshots may be nil when
// persistence is disabled; their routes then answer 503.
func NewHandler(engine UsageEngine, goals GoalService, snapshots storage.SnapshotStore) *Handler {
	return &Handler{
		engine:    engine,
		goals:     goals,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// GetUsage returns the current read state.
func (h *Handler) GetUsage(c *gin.Context) {
	snap := h.engine.Snapshot()
	c.JSON(http.StatusOK, UsageResponse{
		Snapshot:            snap,
		TotalScreenTimeText: usage.FormatDuration(snap.TotalScreenTime),
	})
}

// PostRefresh forces a refresh and returns its result.
func (h *Handler) PostRefresh(c *gin.Context) {
	result := h.engine.RefreshStats(c.Request.Context())
	c.JSON(http.StatusOK, RefreshResponse{
		Result:              result,
		TotalScreenTimeText: usage.FormatDuration(result.TotalScreenTimeMs),
	})
}

// GetPermission re-checks the permission.
func (h *Handler) GetPermission(c *gin.Context) {
	state := h.engine.CheckPermission(c.Request.Context())
	c.JSON(http.StatusOK, PermissionResponse{
		Permission:    state,
		HasPermission: state == usage.PermissionGranted,
	})
}

// PostPermissionRequest runs a permission request. The body's confirm flag
// is the user's answer to the settings prompt; a cancelled request returns
// the prompt so the client can show it.
func (h *Handler) PostPermissionRequest(c *gin.Context) {
	var req PermissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid payload: " + err.Error()})
			return
		}
	}

	ctx := usage.WithConfirmation(c.Request.Context(), req.Confirm)
	outcome := h.engine.RequestPermission(ctx)

	resp := PermissionRequestResponse{Outcome: outcome}
	if notice, ok := outcome.Notice(); ok {
		resp.Notice = &notice
	}
	if outcome == usage.OutcomeCancelled {
		prompt := usage.PermissionPrompt
		resp.Prompt = &prompt
	}

	status := http.StatusOK
	switch outcome {
	case usage.OutcomeInProgress:
		status = http.StatusConflict
	case usage.OutcomeFeatureUnavailable:
		status = http.StatusNotImplemented
	case usage.OutcomeLaunchFailed, usage.OutcomeRequestFailed:
		status = http.StatusBadGateway
	}
	c.JSON(status, resp)
}

// GetDebug returns engine diagnostics.
func (h *Handler) GetDebug(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.DebugInfo(c.Request.Context()))
}

// GetHistory lists daily snapshots between the from and to query dates,
// defaulting to the last 30 days.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "history storage is disabled"})
		return
	}

	now := h.now()
	to := c.DefaultQuery("to", now.Format(storage.DateLayout))
	from := c.DefaultQuery("from", now.AddDate(0, 0, -defaultHistoryDays).Format(storage.DateLayout))
	for _, date := range []string{from, to} {
		if _, err := time.Parse(storage.DateLayout, date); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "dates must be YYYY-MM-DD"})
			return
		}
	}

	snapshots, err := h.snapshots.List(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{From: from, To: to, Snapshots: snapshots})
}

// ListGoals lists every goal.
func (h *Handler) ListGoals(c *gin.Context) {
	if !h.requireGoals(c) {
		return
	}
	goals, err := h.goals.List(c.Request.Context())
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, goals)
}

// CreateGoal starts a goal.
func (h *Handler) CreateGoal(c *gin.Context) {
	if !h.requireGoals(c) {
		return
	}

	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "invalid payload: " + err.Error()})
		return
	}

	created, err := h.goals.Create(c.Request.Context(), req.LimitMinutes, req.DurationDays)
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetGoal returns a goal.
func (h *Handler) GetGoal(c *gin.Context) {
	if !h.requireGoals(c) {
		return
	}
	found, err := h.goals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// FinalizeGoal scores a goal whose period has ended.
func (h *Handler) FinalizeGoal(c *gin.Context) {
	if !h.requireGoals(c) {
		return
	}
	finalized, err := h.goals.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, finalized)
}

// GetProfile returns goal history totals and streaks.
func (h *Handler) GetProfile(c *gin.Context) {
	if !h.requireGoals(c) {
		return
	}
	profile, err := h.goals.Profile(c.Request.Context())
	if err != nil {
		writeGoalError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) requireGoals(c *gin.Context) bool {
	if h.goals == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", Message: "goal storage is disabled"})
		return false
	}
	return true
}

func writeGoalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, goal.ErrInvalidTimeLimit), errors.Is(err, goal.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "goal not found"})
	case errors.Is(err, goal.ErrGoalNotActive), errors.Is(err, goal.ErrGoalNotExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "internal error"})
	}
}

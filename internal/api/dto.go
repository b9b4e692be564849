package api

import (
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/goodtune/detoxmine/internal/usage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// UsageResponse is the consumer read state.
type UsageResponse struct {
	usage.Snapshot
	TotalScreenTimeText string `json:"total_screen_time_text"`
}

// RefreshResponse is returned by a forced refresh.
type RefreshResponse struct {
	usage.Result
	TotalScreenTimeText string `json:"total_screen_time_text"`
}

// PermissionResponse reports the permission state.
type PermissionResponse struct {
	Permission    usage.PermissionState `json:"permission"`
	HasPermission bool                  `json:"has_permission"`
}

// PermissionRequest carries the user's answer to the settings prompt.
type PermissionRequest struct {
	Confirm bool `json:"confirm"`
}

// PermissionRequestResponse reports how a permission request ended.
type PermissionRequestResponse struct {
	Outcome usage.Outcome `json:"outcome"`
	Notice  *usage.Notice `json:"notice,omitempty"`
	Prompt  *usage.Prompt `json:"prompt,omitempty"`
}

// CreateGoalRequest creates a detox goal.
type CreateGoalRequest struct {
	LimitMinutes int `json:"limit_minutes" binding:"required"`
	DurationDays int `json:"duration_days" binding:"required"`
}

// HistoryResponse lists daily snapshots.
type HistoryResponse struct {
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Snapshots []storage.DailySnapshot `json:"snapshots"`
}

package usage

import (
	"time"

	"github.com/goodtune/detoxmine/internal/provider"
)

// PermissionState is the engine's view of usage access.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionDenied
	PermissionGranted
)

func (p PermissionState) String() string {
	switch p {
	case PermissionDenied:
		return "denied"
	case PermissionGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p PermissionState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Phase is the engine's lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseChecking
	PhaseDenied
	PhaseGranted
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseDenied:
		return "denied"
	case PhaseGranted:
		return "granted"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "uninitialized"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AppUsage is a normalized per-application usage record.
type AppUsage struct {
	PackageName    string `json:"package_name"`
	AppName        string `json:"app_name"`
	ForegroundMs   int64  `json:"foreground_ms"`
	FirstTimestamp int64  `json:"first_timestamp"`
	LastTimestamp  int64  `json:"last_timestamp"`
	LastTimeUsed   int64  `json:"last_time_used"`
}

// Result is the outcome of a refresh. TotalScreenTimeMs covers every
// qualifying record while RankedApps only holds the display set.
type Result struct {
	TotalScreenTimeMs int64      `json:"total_screen_time_ms"`
	RankedApps        []AppUsage `json:"ranked_apps"`
}

// EmptyResult returns a zero result with a non-nil app list.
func EmptyResult() Result {
	return Result{RankedApps: []AppUsage{}}
}

// Snapshot is the read state published to consumers. A snapshot is never
// mutated once published.
type Snapshot struct {
	UsageStats      []AppUsage      `json:"usage_stats"`
	TotalScreenTime int64           `json:"total_screen_time"`
	IsLoading       bool            `json:"is_loading"`
	HasPermission   bool            `json:"has_permission"`
	Permission      PermissionState `json:"permission"`
	Phase           Phase           `json:"phase"`
	WindowStart     time.Time       `json:"window_start,omitempty"`
	LastRefresh     time.Time       `json:"last_refresh,omitempty"`
}

// Diagnostics is the structured dump returned by DebugInfo.
type Diagnostics struct {
	Availability provider.Availability `json:"availability"`
	Frequency    string                `json:"frequency,omitempty"`
	State        Snapshot              `json:"state"`
	Refresh      Result                `json:"refresh"`
}

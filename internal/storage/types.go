package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the key format of daily records.
const DateLayout = "2006-01-02"

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "ACTIVE"
	GoalCompleted GoalStatus = "COMPLETED"
	GoalFailed    GoalStatus = "FAILED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to uppercase.
func (s *GoalStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := GoalStatus(strings.ToUpper(raw))

	switch normalized {
	case GoalActive, GoalCompleted, GoalFailed:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid goal status: %s (must be ACTIVE, COMPLETED, or FAILED)", raw)
	}
}

// AppUsage is a single application entry of a snapshot.
type AppUsage struct {
	PackageName  string `json:"package_name"`
	AppName      string `json:"app_name"`
	ForegroundMs int64  `json:"foreground_ms"`
}

// DailySnapshot is the last aggregation result observed for a date.
type DailySnapshot struct {
	Date              string     `json:"date"`
	DeviceID          string     `json:"device_id"`
	TotalScreenTimeMs int64      `json:"total_screen_time_ms"`
	Apps              []AppUsage `json:"apps"`
	RecordedAt        time.Time  `json:"recorded_at"`
}

// UsageMinutes returns the snapshot's total screen time in whole minutes.
func (s DailySnapshot) UsageMinutes() int64 {
	return s.TotalScreenTimeMs / int64(time.Minute/time.Millisecond)
}

// Goal is a commitment to stay under a daily screen-time limit.
type Goal struct {
	ID               string     `json:"id"`
	LimitMinutes     int        `json:"limit_minutes"`
	DurationDays     int        `json:"duration_days"`
	StartAt          time.Time  `json:"start_at"`
	EndAt            time.Time  `json:"end_at"`
	Status           GoalStatus `json:"status"`
	DaysCompleted    int        `json:"days_completed"`
	DaysReported     int        `json:"days_reported"`
	LastReportedDate string     `json:"last_reported_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

// IsExpired checks if the goal period has ended
func (g *Goal) IsExpired(now time.Time) bool {
	return !now.Before(g.EndAt)
}

// Profile tracks goal outcomes across goals.
type Profile struct {
	GoalsCompleted int       `json:"goals_completed"`
	GoalsFailed    int       `json:"goals_failed"`
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	LastActivity   time.Time `json:"last_activity"`
}

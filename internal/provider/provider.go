package provider

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a provider capability is not installed.
var ErrUnavailable = errors.New("provider: capability unavailable")

// Frequency is the reporting granularity of a usage query.
type Frequency int

const (
	FrequencyDaily Frequency = iota
	FrequencyWeekly
	FrequencyMonthly
	FrequencyYearly
	FrequencyBest
)

// String returns the platform name of the frequency.
func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "INTERVAL_DAILY"
	case FrequencyWeekly:
		return "INTERVAL_WEEKLY"
	case FrequencyMonthly:
		return "INTERVAL_MONTHLY"
	case FrequencyYearly:
		return "INTERVAL_YEARLY"
	case FrequencyBest:
		return "INTERVAL_BEST"
	default:
		return "INTERVAL_UNKNOWN"
	}
}

// Frequencies enumerates the granularities a provider supports.
type Frequencies struct {
	Daily Frequency
}

// Payload is the raw JSON reported by the device for a usage query. It is
// either an array of records or an object keyed by package name.
type Payload []byte

// Record is a single per-application entry as reported by the device.
type Record struct {
	PackageName           string `json:"packageName"`
	AppName               string `json:"appName,omitempty"`
	TotalTimeInForeground int64  `json:"totalTimeInForeground"`
	FirstTimeStamp        int64  `json:"firstTimeStamp"`
	LastTimeStamp         int64  `json:"lastTimeStamp"`
	LastTimeUsed          int64  `json:"lastTimeUsed"`
}

// PermissionChecker reports whether usage access has been granted.
type PermissionChecker interface {
	CheckForPermission(ctx context.Context) (bool, error)
}

// SettingsLauncher opens the OS usage-access settings screen.
type SettingsLauncher interface {
	ShowUsageAccessSettings(ctx context.Context, hint string) error
}

// StatsQuerier queries per-application usage for [startMs, endMs].
type StatsQuerier interface {
	QueryUsageStats(ctx context.Context, freq Frequency, startMs, endMs int64) (Payload, error)
}

// Capabilities bundles the optional provider capabilities. Any field may be
// nil; a nil *Capabilities means the provider module failed to load.
type Capabilities struct {
	Permission  PermissionChecker
	Settings    SettingsLauncher
	Query       StatsQuerier
	Frequencies *Frequencies
}

// Availability reports which capabilities are present.
type Availability struct {
	EventFrequency          bool `json:"event_frequency"`
	CheckForPermission      bool `json:"check_for_permission"`
	QueryUsageStats         bool `json:"query_usage_stats"`
	ShowUsageAccessSettings bool `json:"show_usage_access_settings"`
}

// Available reports capability presence. It is safe to call on a nil receiver.
func (c *Capabilities) Available() Availability {
	if c == nil {
		return Availability{}
	}
	return Availability{
		EventFrequency:          c.Frequencies != nil,
		CheckForPermission:      c.Permission != nil,
		QueryUsageStats:         c.Query != nil,
		ShowUsageAccessSettings: c.Settings != nil,
	}
}

// Full returns Capabilities backed by a single implementation of every
// capability, with the standard frequency table.
func Full(p interface {
	PermissionChecker
	SettingsLauncher
	StatsQuerier
}) *Capabilities {
	return &Capabilities{
		Permission:  p,
		Settings:    p,
		Query:       p,
		Frequencies: &Frequencies{Daily: FrequencyDaily},
	}
}

// Package goal implements detox goals: a daily screen-time limit held for a
// number of days, scored once the period ends.
package goal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/metrics"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// MaxDurationDays is the longest goal that can be created.
	MaxDurationDays = 365

	day = 24 * time.Hour
)

var (
	ErrInvalidTimeLimit = errors.New("goal: time limit must be positive")
	ErrInvalidDuration  = errors.New("goal: duration must be between 1 and 365 days")
	ErrGoalNotActive    = errors.New("goal: goal is not active")
	ErrDateOutOfRange   = errors.New("goal: date is outside the goal period")
	ErrGoalNotExpired   = errors.New("goal: goal period has not ended")
	ErrAlreadyReported  = errors.New("goal: usage already reported for date")
)

// Report is the outcome of a daily usage report.
type Report struct {
	Goal         storage.Goal `json:"goal"`
	Date         string       `json:"date"`
	UsageMinutes int64        `json:"usage_minutes"`
	Met          bool         `json:"met"`
}

// Service manages goals and the owner's profile.
type Service struct {
	store    storage.GoalStore
	clock    clock.Clock
	location *time.Location
	logger   zerolog.Logger

	// mu serializes read-modify-write cycles on goals and the profile
	mu sync.Mutex
}

// NewService creates a goal service.
func NewService(store storage.GoalStore, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Service{
		store:    store,
		clock:    clk,
		location: time.Local,
		logger:   logger.With().Str("component", "goals").Logger(),
	}
}

// SetLocation sets the zone that maps a goal's period onto usage dates.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// Create starts a goal now.
func (s *Service) Create(ctx context.Context, limitMinutes, durationDays int) (*storage.Goal, error) {
	if limitMinutes <= 0 {
		return nil, ErrInvalidTimeLimit
	}
	if durationDays <= 0 || durationDays > MaxDurationDays {
		return nil, ErrInvalidDuration
	}

	now := s.clock.Now()
	goal := storage.Goal{
		ID:           uuid.NewString(),
		LimitMinutes: limitMinutes,
		DurationDays: durationDays,
		StartAt:      now,
		EndAt:        now.Add(time.Duration(durationDays) * day),
		Status:       storage.GoalActive,
		CreatedAt:    now,
	}

	if err := s.store.Upsert(ctx, goal); err != nil {
		return nil, fmt.Errorf("store goal: %w", err)
	}

	s.logger.Info().
		Str("goal", goal.ID).
		Int("limit_minutes", limitMinutes).
		Int("duration_days", durationDays).
		Time("end_at", goal.EndAt).
		Msg("Goal created")

	return &goal, nil
}

// Get returns a goal by id.
func (s *Service) Get(ctx context.Context, id string) (*storage.Goal, error) {
	return s.store.Get(ctx, id)
}

// List returns every goal in creation order.
func (s *Service) List(ctx context.Context) ([]storage.Goal, error) {
	return s.store.List(ctx)
}

// Active returns goals that have not been finalized.
func (s *Service) Active(ctx context.Context) ([]storage.Goal, error) {
	return s.store.ListActive(ctx)
}

// Profile returns the owner's goal history.
func (s *Service) Profile(ctx context.Context) (*storage.Profile, error) {
	return s.store.GetProfile(ctx)
}

// ReportDailyUsage scores one day of usage against a goal. A day counts as
// completed when usage does not exceed the limit. The date must fall in
// [start date, end date) of the goal and must not be in the future; days
// inside the period may still be reported after it ends, until Finalize.
func (s *Service) ReportDailyUsage(ctx context.Context, id string, usageMinutes int64, date string) (*Report, error) {
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	goal, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if goal.Status != storage.GoalActive {
		metrics.GoalReportsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrGoalNotActive
	}
	start := goal.StartAt.In(s.location)
	first := start.Format(storage.DateLayout)
	end := start.AddDate(0, 0, goal.DurationDays).Format(storage.DateLayout)
	today := s.clock.Now().In(s.location).Format(storage.DateLayout)
	if date < first || date >= end || date > today {
		metrics.GoalReportsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s not in [%s, %s)", ErrDateOutOfRange, date, first, end)
	}
	if goal.LastReportedDate != "" && date <= goal.LastReportedDate {
		metrics.GoalReportsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrAlreadyReported
	}

	met := usageMinutes <= int64(goal.LimitMinutes)
	if met {
		goal.DaysCompleted++
	}
	goal.DaysReported++
	goal.LastReportedDate = date

	if err := s.store.Upsert(ctx, *goal); err != nil {
		return nil, fmt.Errorf("store goal: %w", err)
	}

	result := "missed"
	if met {
		result = "met"
	}
	metrics.GoalReportsTotal.WithLabelValues(result).Inc()

	s.logger.Info().
		Str("goal", goal.ID).
		Str("date", date).
		Int64("usage_minutes", usageMinutes).
		Int("limit_minutes", goal.LimitMinutes).
		Bool("met", met).
		Int("days_completed", goal.DaysCompleted).
		Msg("Daily usage reported")

	return &Report{Goal: *goal, Date: date, UsageMinutes: usageMinutes, Met: met}, nil
}

// Finalize scores a goal whose period has ended. The goal succeeds when at
// least 80% of its days (rounded down) were completed.
func (s *Service) Finalize(ctx context.Context, id string) (*storage.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if goal.Status != storage.GoalActive {
		return nil, ErrGoalNotActive
	}

	now := s.clock.Now()
	if !goal.IsExpired(now) {
		return nil, ErrGoalNotExpired
	}

	profile, err := s.store.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if goal.DaysCompleted >= SuccessThreshold(goal.DurationDays) {
		goal.Status = storage.GoalCompleted
		profile.GoalsCompleted++
		profile.CurrentStreak++
		if profile.CurrentStreak > profile.LongestStreak {
			profile.LongestStreak = profile.CurrentStreak
		}
	} else {
		goal.Status = storage.GoalFailed
		profile.GoalsFailed++
		profile.CurrentStreak = 0
	}
	goal.FinalizedAt = &now
	profile.LastActivity = now

	if err := s.store.Upsert(ctx, *goal); err != nil {
		return nil, fmt.Errorf("store goal: %w", err)
	}
	if err := s.store.PutProfile(ctx, *profile); err != nil {
		return nil, fmt.Errorf("store profile: %w", err)
	}

	metrics.GoalsFinalizedTotal.WithLabelValues(string(goal.Status)).Inc()

	s.logger.Info().
		Str("goal", goal.ID).
		Str("status", string(goal.Status)).
		Int("days_completed", goal.DaysCompleted).
		Int("duration_days", goal.DurationDays).
		Int("current_streak", profile.CurrentStreak).
		Msg("Goal finalized")

	return goal, nil
}

// SuccessThreshold returns the completed days a goal of the given length needs.
func SuccessThreshold(durationDays int) int {
	return durationDays * 4 / 5
}

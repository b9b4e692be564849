package usage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/goal"
	"github.com/goodtune/detoxmine/internal/metrics"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/rs/zerolog"
)

// RolloverReport summarizes one daily rollover.
type RolloverReport struct {
	Date            string `json:"date"`
	UsageMinutes    int64  `json:"usage_minutes"`
	SnapshotFound   bool   `json:"snapshot_found"`
	GoalsReported   int    `json:"goals_reported"`
	GoalsFinalized  int    `json:"goals_finalized"`
	SnapshotsPruned int    `json:"snapshots_pruned"`
	PruneCutoffDate string `json:"prune_cutoff_date"`
}

// RolloverScheduler closes out each day: it scores the previous day's usage
// against active goals, finalizes goals whose period ended and prunes old
// snapshots.
type RolloverScheduler struct {
	snapshots     storage.SnapshotStore
	goals         *goal.Service
	rolloverTime  time.Time // Time of day to roll over (only hour and minute are used)
	retentionDays int
	location      *time.Location
	clock         clock.Clock
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRolloverScheduler creates a new rollover scheduler
func NewRolloverScheduler(snapshots storage.SnapshotStore, goals *goal.Service, rolloverTime string, retentionDays int, logger zerolog.Logger) (*RolloverScheduler, error) {
	// Parse rollover time (HH:MM format)
	parsedTime, err := time.Parse("15:04", rolloverTime)
	if err != nil {
		return nil, err
	}

	rs := &RolloverScheduler{
		snapshots:     snapshots,
		goals:         goals,
		rolloverTime:  parsedTime,
		retentionDays: retentionDays,
		location:      time.Local,
		clock:         clock.RealClock{},
		logger:        logger.With().Str("component", "rollover-scheduler").Logger(),
		stopChan:      make(chan struct{}),
	}

	return rs, nil
}

// SetClock replaces the wall clock and the zone days are computed in.
func (rs *RolloverScheduler) SetClock(c clock.Clock, loc *time.Location) {
	rs.clock = c
	if loc != nil {
		rs.location = loc
	}
}

// Start begins the rollover scheduler
func (rs *RolloverScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("rollover_time", rs.rolloverTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Daily rollover scheduler started")
}

// Stop stops the rollover scheduler
func (rs *RolloverScheduler) Stop() {
	close(rs.stopChan)
	rs.logger.Info().Msg("Daily rollover scheduler stopped")
}

// run is the main scheduler loop
func (rs *RolloverScheduler) run() {
	for {
		nextRollover := rs.calculateNextRollover()
		waitDuration := nextRollover.Sub(rs.clock.Now())

		rs.logger.Info().
			Time("next_rollover", nextRollover).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily rollover")

		// Wait until rollover time or stop signal
		select {
		case <-time.After(waitDuration):
			if _, err := rs.PerformRollover(context.Background()); err != nil {
				rs.logger.Error().Err(err).Msg("Daily rollover failed")
			}
		case <-rs.stopChan:
			return
		}
	}
}

// calculateNextRollover calculates the next rollover time
func (rs *RolloverScheduler) calculateNextRollover() time.Time {
	now := rs.clock.Now().In(rs.location)

	// Get today's rollover time
	todayRollover := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.rolloverTime.Hour(), rs.rolloverTime.Minute(), 0, 0,
		rs.location,
	)

	// If we've already passed today's rollover time, schedule for tomorrow
	if now.After(todayRollover) {
		return todayRollover.AddDate(0, 0, 1)
	}

	return todayRollover
}

// PerformRollover reports yesterday's usage to every active goal, finalizes
// expired goals and prunes snapshots outside the retention period. A missing
// snapshot means no usage was observed, so no goal is scored for that day.
func (rs *RolloverScheduler) PerformRollover(ctx context.Context) (*RolloverReport, error) {
	now := rs.clock.Now().In(rs.location)
	report := &RolloverReport{
		Date:            now.AddDate(0, 0, -1).Format(storage.DateLayout),
		PruneCutoffDate: now.AddDate(0, 0, -rs.retentionDays).Format(storage.DateLayout),
	}

	rs.logger.Info().Str("date", report.Date).Msg("Performing daily rollover")

	snapshot, err := rs.snapshots.Get(ctx, report.Date)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rs.logger.Warn().Str("date", report.Date).Msg("No usage snapshot recorded, skipping goal reports")
	case err != nil:
		return nil, err
	default:
		report.SnapshotFound = true
		report.UsageMinutes = snapshot.UsageMinutes()
	}

	active, err := rs.goals.Active(ctx)
	if err != nil {
		return nil, err
	}

	for _, g := range active {
		if report.SnapshotFound {
			_, err := rs.goals.ReportDailyUsage(ctx, g.ID, report.UsageMinutes, report.Date)
			switch {
			case err == nil:
				report.GoalsReported++
			case errors.Is(err, goal.ErrAlreadyReported), errors.Is(err, goal.ErrDateOutOfRange):
				rs.logger.Debug().Err(err).Str("goal", g.ID).Msg("Skipping goal report")
			default:
				rs.logger.Error().Err(err).Str("goal", g.ID).Msg("Failed to report daily usage")
			}
		}

		if g.IsExpired(now) {
			if _, err := rs.goals.Finalize(ctx, g.ID); err != nil {
				rs.logger.Error().Err(err).Str("goal", g.ID).Msg("Failed to finalize goal")
				continue
			}
			report.GoalsFinalized++
		}
	}

	pruned, err := rs.snapshots.DeleteBefore(ctx, report.PruneCutoffDate)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to prune old usage snapshots")
		return report, err
	}
	report.SnapshotsPruned = pruned
	metrics.SnapshotsPruned.Add(float64(pruned))

	rs.logger.Info().
		Str("date", report.Date).
		Int64("usage_minutes", report.UsageMinutes).
		Int("goals_reported", report.GoalsReported).
		Int("goals_finalized", report.GoalsFinalized).
		Int("snapshots_pruned", pruned).
		Str("cutoff_date", report.PruneCutoffDate).
		Msg("Daily rollover complete")

	return report, nil
}

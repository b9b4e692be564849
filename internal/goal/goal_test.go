package goal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/goodtune/detoxmine/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T) (*Service, *clock.TestClock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "goals.bolt"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock.TestClock{CurrentTime: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store.Goals(), clk, zerolog.Nop())
	svc.SetLocation(time.UTC)
	return svc, clk
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		limit    int
		duration int
		wantErr  error
	}{
		{name: "zero limit", limit: 0, duration: 7, wantErr: ErrInvalidTimeLimit},
		{name: "negative limit", limit: -5, duration: 7, wantErr: ErrInvalidTimeLimit},
		{name: "zero duration", limit: 60, duration: 0, wantErr: ErrInvalidDuration},
		{name: "over a year", limit: 60, duration: 366, wantErr: ErrInvalidDuration},
		{name: "one day", limit: 60, duration: 1},
		{name: "full year", limit: 60, duration: 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			goal, err := svc.Create(ctx, tt.limit, tt.duration)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, goal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, storage.GoalActive, goal.Status)
			assert.Equal(t, goal.StartAt.Add(time.Duration(tt.duration)*24*time.Hour), goal.EndAt)
			assert.NotEmpty(t, goal.ID)
		})
	}
}

func TestReportDailyUsage(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	goal, err := svc.Create(ctx, 120, 5)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	report, err := svc.ReportDailyUsage(ctx, goal.ID, 120, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, report.Met, "usage equal to the limit counts as met")
	assert.Equal(t, 1, report.Goal.DaysCompleted)

	clk.Advance(24 * time.Hour)
	report, err = svc.ReportDailyUsage(ctx, goal.ID, 121, "2024-01-02")
	require.NoError(t, err)
	assert.False(t, report.Met)
	assert.Equal(t, 1, report.Goal.DaysCompleted)
	assert.Equal(t, 2, report.Goal.DaysReported)

	_, err = svc.ReportDailyUsage(ctx, goal.ID, 10, "2024-01-02")
	assert.ErrorIs(t, err, ErrAlreadyReported)

	_, err = svc.ReportDailyUsage(ctx, goal.ID, 10, "Jan 3")
	assert.Error(t, err)
}

func TestReportDateMustFallInGoalPeriod(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	// Created 2024-01-01 09:00, so the goal covers 2024-01-01 and 2024-01-02
	goal, err := svc.Create(ctx, 60, 2)
	require.NoError(t, err)

	tests := []struct {
		name string
		date string
	}{
		{name: "day before start", date: "2023-12-31"},
		{name: "later today is not over", date: "2024-01-02"},
		{name: "end date", date: "2024-01-03"},
		{name: "far future", date: "2099-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReportDailyUsage(ctx, goal.ID, 30, tt.date)
			assert.ErrorIs(t, err, ErrDateOutOfRange)
		})
	}

	stored, err := svc.Get(ctx, goal.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.DaysReported)
	assert.Empty(t, stored.LastReportedDate, "rejected dates must not block later reports")

	// The last day can still be scored after the period ended
	clk.Set(goal.EndAt.Add(time.Hour))
	_, err = svc.ReportDailyUsage(ctx, goal.ID, 30, "2024-01-01")
	require.NoError(t, err)
	report, err := svc.ReportDailyUsage(ctx, goal.ID, 30, "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Goal.DaysCompleted)
}

func TestReportUsesLocalDates(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	tokyo := time.FixedZone("UTC+9", 9*60*60)
	svc.SetLocation(tokyo)

	// 2024-01-01 20:00 UTC is already 2024-01-02 in UTC+9
	clk.Set(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC))
	goal, err := svc.Create(ctx, 60, 1)
	require.NoError(t, err)

	_, err = svc.ReportDailyUsage(ctx, goal.ID, 30, "2024-01-01")
	assert.ErrorIs(t, err, ErrDateOutOfRange)

	_, err = svc.ReportDailyUsage(ctx, goal.ID, 30, "2024-01-02")
	require.NoError(t, err)
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name          string
		duration      int
		metDays       int
		wantStatus    storage.GoalStatus
		wantCompleted int
		wantFailed    int
	}{
		{name: "all days met", duration: 5, metDays: 5, wantStatus: storage.GoalCompleted, wantCompleted: 1},
		{name: "exactly eighty percent", duration: 5, metDays: 4, wantStatus: storage.GoalCompleted, wantCompleted: 1},
		{name: "below threshold", duration: 5, metDays: 3, wantStatus: storage.GoalFailed, wantFailed: 1},
		{name: "threshold rounds down", duration: 3, metDays: 2, wantStatus: storage.GoalCompleted, wantCompleted: 1},
		{name: "one day goal needs nothing", duration: 1, metDays: 0, wantStatus: storage.GoalCompleted, wantCompleted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clk := setupService(t)
			ctx := context.Background()

			goal, err := svc.Create(ctx, 60, tt.duration)
			require.NoError(t, err)

			for i := 0; i < tt.metDays; i++ {
				date := clk.Now().Format(storage.DateLayout)
				_, err := svc.ReportDailyUsage(ctx, goal.ID, 30, date)
				require.NoError(t, err)
				clk.Advance(24 * time.Hour)
			}

			clk.Set(goal.EndAt)
			finalized, err := svc.Finalize(ctx, goal.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, finalized.Status)
			require.NotNil(t, finalized.FinalizedAt)

			profile, err := svc.Profile(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCompleted, profile.GoalsCompleted)
			assert.Equal(t, tt.wantFailed, profile.GoalsFailed)
		})
	}
}

func TestFinalizeGuards(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	goal, err := svc.Create(ctx, 60, 7)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, goal.ID)
	assert.ErrorIs(t, err, ErrGoalNotExpired)

	clk.Set(goal.EndAt.Add(time.Hour))
	_, err = svc.Finalize(ctx, goal.ID)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, goal.ID)
	assert.ErrorIs(t, err, ErrGoalNotActive)

	_, err = svc.ReportDailyUsage(ctx, goal.ID, 10, "2024-01-09")
	assert.ErrorIs(t, err, ErrGoalNotActive)

	_, err = svc.Finalize(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStreaks(t *testing.T) {
	svc, clk := setupService(t)
	ctx := context.Background()

	run := func(durationDays, metDays int) {
		goal, err := svc.Create(ctx, 60, durationDays)
		require.NoError(t, err)
		for i := 0; i < metDays; i++ {
			_, err := svc.ReportDailyUsage(ctx, goal.ID, 10, clk.Now().Format(storage.DateLayout))
			require.NoError(t, err)
			clk.Advance(24 * time.Hour)
		}
		clk.Set(goal.EndAt)
		_, err = svc.Finalize(ctx, goal.ID)
		require.NoError(t, err)
	}

	run(1, 1)
	run(1, 1)
	run(1, 1)

	profile, err := svc.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, profile.CurrentStreak)
	assert.Equal(t, 3, profile.LongestStreak)

	run(5, 0)

	profile, err = svc.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, profile.CurrentStreak)
	assert.Equal(t, 3, profile.LongestStreak)
	assert.Equal(t, 1, profile.GoalsFailed)
}

func TestSuccessThreshold(t *testing.T) {
	cases := map[int]int{1: 0, 2: 1, 3: 2, 5: 4, 7: 5, 10: 8, 30: 24, 365: 292}
	for duration, want := range cases {
		assert.Equal(t, want, SuccessThreshold(duration), "duration %d", duration)
	}
}

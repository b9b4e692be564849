package usage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/metrics"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/goodtune/detoxmine/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRecheckDelay is how long RequestPermission waits after opening
	// the settings screen before checking permission again.
	DefaultRecheckDelay = time.Second
)

// Config holds engine configuration
type Config struct {
	// DeviceID labels recorded snapshots.
	DeviceID string

	// RecheckDelay is the wait between launching settings and re-checking.
	RecheckDelay time.Duration

	// QueryTimeout bounds a provider query. Zero means no bound.
	QueryTimeout time.Duration

	// Location defines "today". Defaults to time.Local.
	Location *time.Location
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithPrompter sets the confirmation prompter used by RequestPermission.
func WithPrompter(p Prompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithNotifier sets the sink for user-facing notices.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder stores the result of every successful refresh as the
// snapshot of the current day.
func WithRecorder(store storage.SnapshotStore) Option {
	return func(e *Engine) { e.recorder = store }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine aggregates device usage for the current day. It owns the permission
// state and the latest result; both are published as an immutable Snapshot.
type Engine struct {
	caps     *provider.Capabilities
	config   Config
	prompter Prompter
	notifier Notifier
	recorder storage.SnapshotStore
	clock    clock.Clock
	logger   zerolog.Logger

	state atomic.Pointer[Snapshot]
	mu    sync.Mutex // serializes state writers

	refreshGroup singleflight.Group
	requesting   atomic.Bool
}

// NewEngine creates a new engine. caps may be nil when the provider failed
// to load; every operation then degrades to its empty behaviour.
func NewEngine(caps *provider.Capabilities, config Config, logger zerolog.Logger, opts ...Option) *Engine {
	if config.RecheckDelay <= 0 {
		config.RecheckDelay = DefaultRecheckDelay
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	e := &Engine{
		caps:     caps,
		config:   config,
		prompter: ContextPrompter{},
		clock:    clock.RealClock{},
		logger:   logger.With().Str("component", "usage-engine").Logger(),
	}
	e.notifier = LogNotifier{Logger: e.logger}

	for _, opt := range opts {
		opt(e)
	}

	e.state.Store(&Snapshot{UsageStats: []AppUsage{}})
	return e
}

// Snapshot returns the current read state.
func (e *Engine) Snapshot() Snapshot {
	return *e.state.Load()
}

// update publishes a modified copy of the current snapshot.
func (e *Engine) update(fn func(s *Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.state.Load()
	fn(&next)
	next.HasPermission = next.Permission == PermissionGranted
	e.state.Store(&next)
}

// CheckPermission asks the provider whether usage access is granted. A
// missing checker or a failing provider is reported as denied.
func (e *Engine) CheckPermission(ctx context.Context) PermissionState {
	// A refresh in flight owns the phase
	e.update(func(s *Snapshot) {
		if !s.IsLoading {
			s.Phase = PhaseChecking
		}
	})

	state := e.checkPermission(ctx)

	e.update(func(s *Snapshot) {
		if !s.IsLoading && s.Phase == PhaseChecking {
			s.Phase = phaseFor(s.Permission)
		}
	})
	return state
}

func (e *Engine) checkPermission(ctx context.Context) PermissionState {
	if e.caps == nil || e.caps.Permission == nil {
		e.logger.Debug().Msg("Permission checker not available")
		e.setPermission(PermissionDenied, false)
		return PermissionDenied
	}

	granted, err := e.caps.Permission.CheckForPermission(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to check usage permission")
		// A failing check never revokes an earlier grant
		e.setPermission(PermissionDenied, true)
		return PermissionDenied
	}

	state := PermissionDenied
	if granted {
		state = PermissionGranted
	}
	e.setPermission(state, false)

	e.logger.Debug().Str("permission", state.String()).Msg("Permission checked")
	return state
}

func (e *Engine) setPermission(state PermissionState, onlyIfUnknown bool) {
	e.update(func(s *Snapshot) {
		if onlyIfUnknown && s.Permission != PermissionUnknown {
			return
		}
		s.Permission = state
	})

	current := e.Snapshot().Permission
	if current == PermissionGranted {
		metrics.PermissionGranted.Set(1)
	} else {
		metrics.PermissionGranted.Set(0)
	}
}

// RequestPermission walks the user through granting usage access: it
// confirms with the Prompter, opens the OS settings and re-checks after the
// configured delay, refreshing when access was granted. Only one request
// runs at a time; overlapping calls return OutcomeInProgress.
func (e *Engine) RequestPermission(ctx context.Context) Outcome {
	if !e.requesting.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("Permission request already in progress")
		metrics.PermissionRequestsTotal.WithLabelValues(string(OutcomeInProgress)).Inc()
		return OutcomeInProgress
	}
	defer e.requesting.Store(false)

	outcome := e.requestPermission(ctx)
	metrics.PermissionRequestsTotal.WithLabelValues(string(outcome)).Inc()

	if notice, ok := outcome.Notice(); ok {
		e.notifier.Notify(ctx, notice)
	}

	e.logger.Info().Str("outcome", string(outcome)).Msg("Permission request finished")
	return outcome
}

func (e *Engine) requestPermission(ctx context.Context) Outcome {
	if e.caps == nil || e.caps.Permission == nil || e.caps.Settings == nil {
		return OutcomeFeatureUnavailable
	}

	if e.CheckPermission(ctx) == PermissionGranted {
		return OutcomeAlreadyGranted
	}

	confirmed, err := e.prompter.Confirm(ctx, PermissionPrompt)
	if err != nil {
		e.logger.Error().Err(err).Msg("Permission prompt failed")
		return OutcomeRequestFailed
	}
	if !confirmed {
		return OutcomeCancelled
	}

	e.logger.Info().Msg("Opening usage access settings")
	if err := e.caps.Settings.ShowUsageAccessSettings(ctx, ""); err != nil {
		e.logger.Error().Err(err).Msg("Failed to open usage access settings")
		return OutcomeLaunchFailed
	}

	// The OS gives no signal when the user leaves the settings screen, so
	// a single delayed check stands in for one.
	timer := time.NewTimer(e.config.RecheckDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		e.logger.Debug().Err(ctx.Err()).Msg("Permission re-check abandoned")
		return OutcomePending
	}

	if e.CheckPermission(ctx) != PermissionGranted {
		e.logger.Info().Msg("Permission still not granted")
		return OutcomePending
	}

	e.logger.Info().Msg("Permission granted, refreshing stats")
	e.RefreshStats(ctx)
	return OutcomeGranted
}

// OnResume re-checks permission when the host app returns to the
// foreground and refreshes if access was newly granted.
func (e *Engine) OnResume(ctx context.Context) PermissionState {
	before := e.Snapshot().Permission
	state := e.CheckPermission(ctx)
	if state == PermissionGranted && before != PermissionGranted {
		e.logger.Info().Msg("Permission granted while away, refreshing stats")
		e.RefreshStats(ctx)
	}
	return state
}

// Init checks permission once and refreshes when it is granted.
func (e *Engine) Init(ctx context.Context) {
	if e.CheckPermission(ctx) == PermissionGranted {
		e.RefreshStats(ctx)
	}
}

// Run initializes the engine and keeps the result current until ctx is
// cancelled. While access is denied each tick only re-checks permission.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.Init(ctx)

	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("Usage polling started")

	for {
		select {
		case <-ticker.C:
			if e.Snapshot().Permission == PermissionGranted {
				e.RefreshStats(ctx)
			} else {
				e.OnResume(ctx)
			}
		case <-ctx.Done():
			e.logger.Info().Msg("Usage polling stopped")
			return
		}
	}
}

// RefreshStats queries today's usage and publishes the aggregated result.
// It never fails: a missing capability, a denied permission or a provider
// error all produce an empty result. Concurrent calls share one query.
func (e *Engine) RefreshStats(ctx context.Context) Result {
	ch := e.refreshGroup.DoChan("refresh", func() (any, error) {
		return e.refresh(context.WithoutCancel(ctx)), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		return EmptyResult()
	}
}

func (e *Engine) refresh(ctx context.Context) Result {
	if e.caps == nil || e.caps.Query == nil || e.caps.Frequencies == nil {
		metrics.RefreshesTotal.WithLabelValues("unavailable").Inc()
		return EmptyResult()
	}

	e.update(func(s *Snapshot) {
		s.IsLoading = true
		s.Phase = PhaseChecking
	})

	result, windowStart, outcome := e.query(ctx)
	metrics.RefreshesTotal.WithLabelValues(outcome).Inc()

	now := e.clock.Now()
	e.update(func(s *Snapshot) {
		s.UsageStats = result.RankedApps
		s.TotalScreenTime = result.TotalScreenTimeMs
		s.IsLoading = false
		s.Phase = phaseFor(s.Permission)
		s.WindowStart = windowStart
		s.LastRefresh = now
	})

	metrics.ScreenTimeToday.Set(float64(result.TotalScreenTimeMs) / 1000)
	metrics.DisplayedApps.Set(float64(len(result.RankedApps)))

	if outcome == "ok" {
		e.record(ctx, windowStart, result, now)
	}

	return result
}

func (e *Engine) query(ctx context.Context) (Result, time.Time, string) {
	if e.checkPermission(ctx) != PermissionGranted {
		return EmptyResult(), time.Time{}, "denied"
	}
	e.update(func(s *Snapshot) {
		s.Phase = PhaseRefreshing
	})

	start, end := e.window()
	freq := e.caps.Frequencies.Daily

	queryCtx := ctx
	if e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	e.logger.Debug().
		Time("start", start).
		Time("end", end).
		Str("frequency", freq.String()).
		Msg("Querying usage stats")

	began := time.Now()
	payload, err := e.caps.Query.QueryUsageStats(queryCtx, freq, start.UnixMilli(), end.UnixMilli())
	metrics.ProviderQueryDuration.WithLabelValues(freq.String()).Observe(time.Since(began).Seconds())
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to query usage stats")
		return EmptyResult(), start, "error"
	}

	qualifying, err := Normalize(payload)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to normalize usage stats")
		return EmptyResult(), start, "error"
	}

	result := Aggregate(qualifying)

	e.logger.Debug().
		Int("qualifying", len(qualifying)).
		Int("displayed", len(result.RankedApps)).
		Int64("total_ms", result.TotalScreenTimeMs).
		Msg("Usage stats aggregated")

	return result, start, "ok"
}

// window returns [local midnight, now].
func (e *Engine) window() (time.Time, time.Time) {
	now := e.clock.Now().In(e.config.Location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.config.Location)
	return start, now
}

func (e *Engine) record(ctx context.Context, windowStart time.Time, result Result, now time.Time) {
	if e.recorder == nil {
		return
	}

	apps := make([]storage.AppUsage, 0, len(result.RankedApps))
	for _, app := range result.RankedApps {
		apps = append(apps, storage.AppUsage{
			PackageName:  app.PackageName,
			AppName:      app.AppName,
			ForegroundMs: app.ForegroundMs,
		})
	}

	snapshot := storage.DailySnapshot{
		Date:              windowStart.Format(storage.DateLayout),
		DeviceID:          e.config.DeviceID,
		TotalScreenTimeMs: result.TotalScreenTimeMs,
		Apps:              apps,
		RecordedAt:        now,
	}
	if err := e.recorder.Put(ctx, snapshot); err != nil {
		e.logger.Warn().Err(err).Str("date", snapshot.Date).Msg("Failed to record usage snapshot")
	}
}

// DebugInfo captures capability availability and the current state, then
// forces a refresh and includes its result.
func (e *Engine) DebugInfo(ctx context.Context) Diagnostics {
	diag := Diagnostics{
		Availability: e.caps.Available(),
		State:        e.Snapshot(),
	}
	if e.caps != nil && e.caps.Frequencies != nil {
		diag.Frequency = e.caps.Frequencies.Daily.String()
	}

	e.logger.Debug().
		Interface("availability", diag.Availability).
		Str("permission", diag.State.Permission.String()).
		Bool("is_loading", diag.State.IsLoading).
		Int("usage_stats", len(diag.State.UsageStats)).
		Int64("total_screen_time", diag.State.TotalScreenTime).
		Msg("Debug info, forcing refresh")

	diag.Refresh = e.RefreshStats(ctx)
	return diag
}

// String implements fmt.Stringer for log output.
func (s Snapshot) String() string {
	return fmt.Sprintf("phase=%s permission=%s apps=%d total=%dms loading=%t",
		s.Phase, s.Permission, len(s.UsageStats), s.TotalScreenTime, s.IsLoading)
}

func phaseFor(p PermissionState) Phase {
	switch p {
	case PermissionGranted:
		return PhaseGranted
	case PermissionDenied:
		return PhaseDenied
	default:
		return PhaseUninitialized
	}
}

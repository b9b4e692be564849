package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/provider"
	"github.com/goodtune/detoxmine/internal/storage/bolt"
	"github.com/rs/zerolog"
)

type fakeProvider struct {
	mu sync.Mutex

	granted       bool
	grantOnLaunch bool
	permErr       error
	launchErr     error
	payload       string
	queryErr      error
	release       chan struct{}
	onCheck       func()

	checks     int
	launches   int
	queries    int
	lastStart  int64
	lastEnd    int64
	lastFreq   provider.Frequency
	launchHint string
}

func (f *fakeProvider) CheckForPermission(ctx context.Context) (bool, error) {
	if f.onCheck != nil {
		f.onCheck()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.granted, f.permErr
}

func (f *fakeProvider) ShowUsageAccessSettings(ctx context.Context, hint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	f.launchHint = hint
	if f.launchErr != nil {
		return f.launchErr
	}
	if f.grantOnLaunch {
		f.granted = true
	}
	return nil
}

func (f *fakeProvider) QueryUsageStats(ctx context.Context, freq provider.Frequency, startMs, endMs int64) (provider.Payload, error) {
	f.mu.Lock()
	f.queries++
	f.lastStart, f.lastEnd, f.lastFreq = startMs, endMs, freq
	release := f.release
	payload, err := f.payload, f.queryErr
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return provider.Payload(payload), err
}

func (f *fakeProvider) counts() (checks, launches, queries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.launches, f.queries
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}

const mappingPayload = `{
	"a.b.c": {"packageName":"a.b.c","appName":"ABC","totalTimeInForeground":120000,"firstTimeStamp":1,"lastTimeStamp":2,"lastTimeUsed":2},
	"d.e.f": {"packageName":"d.e.f","totalTimeInForeground":15000,"firstTimeStamp":1,"lastTimeStamp":2,"lastTimeUsed":2}
}`

var testNow = time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC)

func newTestEngine(caps *provider.Capabilities, opts ...Option) (*Engine, *recordingNotifier) {
	notifier := &recordingNotifier{}
	opts = append([]Option{
		WithNotifier(notifier),
		WithClock(&clock.TestClock{CurrentTime: testNow}),
		WithPrompter(PrompterFunc(func(context.Context, Prompt) (bool, error) { return true, nil })),
	}, opts...)

	engine := NewEngine(caps, Config{
		DeviceID:     "pixel-7",
		RecheckDelay: 10 * time.Millisecond,
		Location:     time.UTC,
	}, zerolog.Nop(), opts...)
	return engine, notifier
}

func TestRefreshStatsEndToEnd(t *testing.T) {
	fake := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))

	result := engine.RefreshStats(context.Background())

	if result.TotalScreenTimeMs != 135000 {
		t.Errorf("expected total 135000, got %d", result.TotalScreenTimeMs)
	}
	if len(result.RankedApps) != 1 {
		t.Fatalf("expected 1 displayed app, got %d (%+v)", len(result.RankedApps), result.RankedApps)
	}
	if app := result.RankedApps[0]; app.PackageName != "a.b.c" || app.ForegroundMs != 120000 || app.AppName != "ABC" {
		t.Errorf("unexpected displayed app %+v", app)
	}

	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if fake.lastStart != midnight.UnixMilli() || fake.lastEnd != testNow.UnixMilli() {
		t.Errorf("expected window [%d, %d], got [%d, %d]", midnight.UnixMilli(), testNow.UnixMilli(), fake.lastStart, fake.lastEnd)
	}
	if fake.lastFreq != provider.FrequencyDaily {
		t.Errorf("expected daily frequency, got %s", fake.lastFreq)
	}

	snap := engine.Snapshot()
	if !snap.HasPermission || snap.IsLoading || snap.TotalScreenTime != 135000 || len(snap.UsageStats) != 1 {
		t.Errorf("unexpected snapshot %s", snap)
	}
	if snap.Phase != PhaseGranted {
		t.Errorf("expected phase granted after refresh, got %s", snap.Phase)
	}
	if !snap.LastRefresh.Equal(testNow) || !snap.WindowStart.Equal(midnight) {
		t.Errorf("unexpected refresh times %v %v", snap.LastRefresh, snap.WindowStart)
	}
}

func TestRefreshStatsDeniedSkipsQuery(t *testing.T) {
	fake := &fakeProvider{granted: false, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))

	result := engine.RefreshStats(context.Background())

	if result.TotalScreenTimeMs != 0 || len(result.RankedApps) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if _, _, queries := fake.counts(); queries != 0 {
		t.Errorf("expected no provider query, got %d", queries)
	}
	if snap := engine.Snapshot(); snap.Permission != PermissionDenied || snap.Phase != PhaseDenied {
		t.Errorf("expected denied state, got %s", snap)
	}
}

func TestRefreshStatsDeniedNeverEntersRefreshing(t *testing.T) {
	fake := &fakeProvider{granted: false, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))

	var seen []Phase
	fake.onCheck = func() { seen = append(seen, engine.Snapshot().Phase) }

	for i := 0; i < 2; i++ {
		engine.RefreshStats(context.Background())

		snap := engine.Snapshot()
		if snap.Phase != PhaseDenied || snap.IsLoading {
			t.Errorf("refresh %d: expected settled denied state, got %s", i, snap)
		}
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 permission checks, got %d", len(seen))
	}
	for i, phase := range seen {
		if phase != PhaseChecking {
			t.Errorf("check %d: expected phase checking while verifying permission, got %s", i, phase)
		}
	}
}

func TestRefreshStatsQueryErrorIsSwallowed(t *testing.T) {
	fake := &fakeProvider{granted: true, queryErr: errors.New("binder died")}
	engine, _ := newTestEngine(provider.Full(fake))

	result := engine.RefreshStats(context.Background())

	if result.TotalScreenTimeMs != 0 || len(result.RankedApps) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if snap := engine.Snapshot(); snap.IsLoading {
		t.Error("expected loading flag cleared after a failed refresh")
	}
}

func TestRefreshStatsMalformedPayloadIsSwallowed(t *testing.T) {
	fake := &fakeProvider{granted: true, payload: `[{"packageName":`}
	engine, _ := newTestEngine(provider.Full(fake))

	if result := engine.RefreshStats(context.Background()); result.TotalScreenTimeMs != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestRefreshStatsReplacesPreviousResult(t *testing.T) {
	fake := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))

	engine.RefreshStats(context.Background())

	fake.mu.Lock()
	fake.queryErr = errors.New("provider restarted")
	fake.mu.Unlock()

	engine.RefreshStats(context.Background())

	if snap := engine.Snapshot(); snap.TotalScreenTime != 0 || len(snap.UsageStats) != 0 {
		t.Errorf("expected failed refresh to clear the result, got %s", snap)
	}
}

func TestMissingCapabilitiesDegrade(t *testing.T) {
	tests := []struct {
		name string
		caps *provider.Capabilities
	}{
		{name: "module failed to load", caps: nil},
		{name: "no capabilities", caps: &provider.Capabilities{}},
		{name: "no frequency table", caps: &provider.Capabilities{Permission: &fakeProvider{granted: true}, Query: &fakeProvider{payload: mappingPayload}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, notifier := newTestEngine(tt.caps)
			ctx := context.Background()

			if result := engine.RefreshStats(ctx); result.TotalScreenTimeMs != 0 || len(result.RankedApps) != 0 {
				t.Errorf("expected empty result, got %+v", result)
			}

			if outcome := engine.RequestPermission(ctx); outcome != OutcomeFeatureUnavailable {
				t.Errorf("expected feature unavailable, got %s", outcome)
			}
			if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeFeatureUnavailable {
				t.Errorf("expected a feature unavailable notice, got %v", kinds)
			}

			_ = engine.DebugInfo(ctx)
		})
	}
}

func TestCheckPermissionWithoutCheckerIsDenied(t *testing.T) {
	engine, _ := newTestEngine(&provider.Capabilities{})

	if state := engine.CheckPermission(context.Background()); state != PermissionDenied {
		t.Errorf("expected denied, got %s", state)
	}
	if snap := engine.Snapshot(); snap.HasPermission || snap.Phase != PhaseDenied {
		t.Errorf("unexpected snapshot %s", snap)
	}
}

func TestCheckPermissionErrorKeepsGrant(t *testing.T) {
	fake := &fakeProvider{granted: true}
	engine, _ := newTestEngine(provider.Full(fake))
	ctx := context.Background()

	if state := engine.CheckPermission(ctx); state != PermissionGranted {
		t.Fatalf("expected granted, got %s", state)
	}

	fake.mu.Lock()
	fake.permErr = errors.New("service unavailable")
	fake.mu.Unlock()

	if state := engine.CheckPermission(ctx); state != PermissionDenied {
		t.Errorf("expected failed check to report denied, got %s", state)
	}
	if snap := engine.Snapshot(); snap.Permission != PermissionGranted {
		t.Errorf("expected cached grant to survive a failed check, got %s", snap.Permission)
	}
}

func TestInitialState(t *testing.T) {
	engine, _ := newTestEngine(provider.Full(&fakeProvider{}))

	snap := engine.Snapshot()
	if snap.Phase != PhaseUninitialized || snap.Permission != PermissionUnknown || snap.UsageStats == nil {
		t.Errorf("unexpected initial snapshot %s", snap)
	}
}

func TestRequestPermissionAlreadyGranted(t *testing.T) {
	fake := &fakeProvider{granted: true}
	engine, notifier := newTestEngine(provider.Full(fake))

	outcome := engine.RequestPermission(context.Background())

	if outcome != OutcomeAlreadyGranted {
		t.Errorf("expected already granted, got %s", outcome)
	}
	if _, launches, _ := fake.counts(); launches != 0 {
		t.Errorf("expected no settings launch, got %d", launches)
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeAlreadyGranted {
		t.Errorf("expected already granted notice, got %v", kinds)
	}
}

func TestRequestPermissionWithoutLauncher(t *testing.T) {
	fake := &fakeProvider{}
	engine, notifier := newTestEngine(&provider.Capabilities{
		Permission:  fake,
		Query:       fake,
		Frequencies: &provider.Frequencies{Daily: provider.FrequencyDaily},
	})

	outcome := engine.RequestPermission(context.Background())

	if outcome != OutcomeFeatureUnavailable {
		t.Errorf("expected feature unavailable, got %s", outcome)
	}
	if checks, launches, queries := fake.counts(); checks+launches+queries != 0 {
		t.Errorf("expected no provider calls, got checks=%d launches=%d queries=%d", checks, launches, queries)
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeFeatureUnavailable {
		t.Errorf("expected feature unavailable notice, got %v", kinds)
	}
}

func TestRequestPermissionCancelled(t *testing.T) {
	fake := &fakeProvider{}
	engine, notifier := newTestEngine(provider.Full(fake), WithPrompter(ContextPrompter{}))

	outcome := engine.RequestPermission(context.Background())

	if outcome != OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", outcome)
	}
	if _, launches, _ := fake.counts(); launches != 0 {
		t.Errorf("expected no settings launch, got %d", launches)
	}
	if kinds := notifier.kinds(); len(kinds) != 0 {
		t.Errorf("expected no notice on cancel, got %v", kinds)
	}
}

func TestRequestPermissionGrantedAfterSettings(t *testing.T) {
	fake := &fakeProvider{grantOnLaunch: true, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake), WithPrompter(ContextPrompter{}))

	outcome := engine.RequestPermission(WithConfirmation(context.Background(), true))

	if outcome != OutcomeGranted {
		t.Fatalf("expected granted, got %s", outcome)
	}
	_, launches, queries := fake.counts()
	if launches != 1 {
		t.Errorf("expected 1 settings launch, got %d", launches)
	}
	if fake.launchHint != "" {
		t.Errorf("expected empty settings hint, got %q", fake.launchHint)
	}
	if queries != 1 {
		t.Errorf("expected automatic refresh after grant, got %d queries", queries)
	}
	if snap := engine.Snapshot(); snap.TotalScreenTime != 135000 || !snap.HasPermission {
		t.Errorf("unexpected snapshot after grant %s", snap)
	}
}

func TestRequestPermissionStillPending(t *testing.T) {
	fake := &fakeProvider{}
	engine, notifier := newTestEngine(provider.Full(fake))

	outcome := engine.RequestPermission(context.Background())

	if outcome != OutcomePending {
		t.Errorf("expected pending, got %s", outcome)
	}
	if _, _, queries := fake.counts(); queries != 0 {
		t.Errorf("expected no refresh without grant, got %d queries", queries)
	}
	if kinds := notifier.kinds(); len(kinds) != 0 {
		t.Errorf("expected no notice, got %v", kinds)
	}
}

func TestRequestPermissionLaunchFailure(t *testing.T) {
	fake := &fakeProvider{launchErr: errors.New("activity not found")}
	engine, notifier := newTestEngine(provider.Full(fake))

	outcome := engine.RequestPermission(context.Background())

	if outcome != OutcomeLaunchFailed {
		t.Errorf("expected launch failed, got %s", outcome)
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeSettingsLaunchFailed {
		t.Errorf("expected settings launch failed notice, got %v", kinds)
	}
}

func TestRequestPermissionPromptFailure(t *testing.T) {
	fake := &fakeProvider{}
	prompter := PrompterFunc(func(context.Context, Prompt) (bool, error) {
		return false, errors.New("no terminal")
	})
	engine, notifier := newTestEngine(provider.Full(fake), WithPrompter(prompter))

	if outcome := engine.RequestPermission(context.Background()); outcome != OutcomeRequestFailed {
		t.Errorf("expected request failed, got %s", outcome)
	}
	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeRequestFailed {
		t.Errorf("expected request failed notice, got %v", kinds)
	}
}

func TestRequestPermissionInProgress(t *testing.T) {
	fake := &fakeProvider{}
	prompted := make(chan struct{})
	answer := make(chan bool)
	prompter := PrompterFunc(func(context.Context, Prompt) (bool, error) {
		close(prompted)
		return <-answer, nil
	})
	engine, _ := newTestEngine(provider.Full(fake), WithPrompter(prompter))

	done := make(chan Outcome, 1)
	go func() {
		done <- engine.RequestPermission(context.Background())
	}()

	<-prompted
	if outcome := engine.RequestPermission(context.Background()); outcome != OutcomeInProgress {
		t.Errorf("expected in progress, got %s", outcome)
	}

	answer <- false
	if outcome := <-done; outcome != OutcomeCancelled {
		t.Errorf("expected first request to be cancelled, got %s", outcome)
	}
}

func TestRequestPermissionRecheckHonoursContext(t *testing.T) {
	fake := &fakeProvider{grantOnLaunch: true}
	engine := NewEngine(provider.Full(fake), Config{RecheckDelay: time.Hour}, zerolog.Nop(),
		WithPrompter(PrompterFunc(func(context.Context, Prompt) (bool, error) { return true, nil })))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if outcome := engine.RequestPermission(ctx); outcome != OutcomePending {
		t.Errorf("expected pending after cancellation, got %s", outcome)
	}
}

func TestOnResumeRefreshesWhenNewlyGranted(t *testing.T) {
	fake := &fakeProvider{payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))
	ctx := context.Background()

	if state := engine.OnResume(ctx); state != PermissionDenied {
		t.Fatalf("expected denied, got %s", state)
	}

	fake.mu.Lock()
	fake.granted = true
	fake.mu.Unlock()

	if state := engine.OnResume(ctx); state != PermissionGranted {
		t.Fatalf("expected granted, got %s", state)
	}
	if _, _, queries := fake.counts(); queries != 1 {
		t.Errorf("expected refresh on newly granted permission, got %d queries", queries)
	}

	engine.OnResume(ctx)
	if _, _, queries := fake.counts(); queries != 1 {
		t.Errorf("expected no refresh when already granted, got %d queries", queries)
	}
}

func TestInitRefreshesOnlyWhenGranted(t *testing.T) {
	denied := &fakeProvider{payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(denied))
	engine.Init(context.Background())
	if _, _, queries := denied.counts(); queries != 0 {
		t.Errorf("expected no query while denied, got %d", queries)
	}

	granted := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ = newTestEngine(provider.Full(granted))
	engine.Init(context.Background())
	if _, _, queries := granted.counts(); queries != 1 {
		t.Errorf("expected 1 query when granted, got %d", queries)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	fake := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, _, queries := fake.counts(); queries >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for polling refreshes")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestConcurrentRefreshesShareOneQuery(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeProvider{granted: true, payload: mappingPayload, release: release}
	engine, _ := newTestEngine(provider.Full(fake))

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.RefreshStats(context.Background())
		}(i)
	}

	// Wait for the shared query to start and the other callers to join it
	deadline := time.After(2 * time.Second)
	for {
		if _, _, queries := fake.counts(); queries == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for query")
		case <-time.After(time.Millisecond):
		}
	}
	if snap := engine.Snapshot(); !snap.IsLoading || snap.Phase != PhaseRefreshing {
		t.Errorf("expected loading state during query, got %s", snap)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if _, _, queries := fake.counts(); queries != 1 {
		t.Errorf("expected one shared query, got %d", queries)
	}
	for i, result := range results {
		if result.TotalScreenTimeMs != 135000 {
			t.Errorf("caller %d: expected total 135000, got %d", i, result.TotalScreenTimeMs)
		}
	}
}

func TestRefreshStatsRecordsSnapshot(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "usage.bolt"), 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	fake := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ := newTestEngine(provider.Full(fake), WithRecorder(store.Snapshots()))

	engine.RefreshStats(context.Background())

	snapshot, err := store.Snapshots().Get(context.Background(), "2024-01-15")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot.TotalScreenTimeMs != 135000 || snapshot.DeviceID != "pixel-7" || len(snapshot.Apps) != 1 {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.UsageMinutes() != 2 {
		t.Errorf("expected 2 usage minutes, got %d", snapshot.UsageMinutes())
	}
}

func TestDebugInfo(t *testing.T) {
	fake := &fakeProvider{granted: true, payload: mappingPayload}
	engine, _ := newTestEngine(&provider.Capabilities{
		Permission:  fake,
		Query:       fake,
		Frequencies: &provider.Frequencies{Daily: provider.FrequencyDaily},
	})

	diag := engine.DebugInfo(context.Background())

	if !diag.Availability.CheckForPermission || !diag.Availability.QueryUsageStats || !diag.Availability.EventFrequency {
		t.Errorf("unexpected availability %+v", diag.Availability)
	}
	if diag.Availability.ShowUsageAccessSettings {
		t.Error("expected settings launcher to be reported missing")
	}
	if diag.Frequency != "INTERVAL_DAILY" {
		t.Errorf("unexpected frequency %q", diag.Frequency)
	}
	if diag.State.Phase != PhaseUninitialized {
		t.Errorf("expected state captured before the forced refresh, got %s", diag.State.Phase)
	}
	if diag.Refresh.TotalScreenTimeMs != 135000 {
		t.Errorf("expected forced refresh result, got %+v", diag.Refresh)
	}
}

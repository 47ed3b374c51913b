package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/harun/moonlight/internal/cdptest"
	"github.com/harun/moonlight/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher backs every launched browser with its own cdptest server
type fakeLauncher struct {
	mu       sync.Mutex
	servers  []*cdptest.Server
	launches int
	failures int
	delay    time.Duration
	setup    func(*cdptest.Server)
}

func newFakeLauncher(t *testing.T) *fakeLauncher {
	t.Helper()
	f := &fakeLauncher{}
	t.Cleanup(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, s := range f.servers {
			s.Close()
		}
	})
	return f
}

func (f *fakeLauncher) Launch(ctx context.Context, _ browser.LaunchOptions) (*browser.Process, error) {
	f.mu.Lock()
	f.launches++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("executable crashed on start")
	}
	srv := cdptest.NewServer()
	if f.setup != nil {
		f.setup(srv)
	}
	f.servers = append(f.servers, srv)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return browser.NewProcess(srv.URL(), nil, func() error { return nil }), nil
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeLauncher) server(i int) *cdptest.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[i]
}

func (f *fakeLauncher) closeRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.servers {
		n += s.RequestCount("Browser.close")
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.MinSize = 0
	cfg.MaxSize = 2
	cfg.MaintenanceInterval = 0
	cfg.CreationRetryDelay = time.Millisecond
	cfg.MaxCreationRetries = 1
	cfg.EnableMetrics = false
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func newTestPool(t *testing.T, cfg Config, launcher browser.Launcher, opts ...Option) *Pool {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	p, err := New(context.Background(), cfg, launcher, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 3
	cfg.MaxSize = 2

	_, err := New(context.Background(), cfg, newFakeLauncher(t))
	assert.Error(t, err)
}

func TestNewLaunchesMinSize(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 2
	cfg.MaxSize = 4

	p := newTestPool(t, cfg, launcher)

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 2, p.AvailableCount())
	assert.Equal(t, 0, p.InUseCount())
	assert.Equal(t, 2, launcher.launchCount())
}

func TestNewStartsBelowMinimumOnLaunchFailure(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.failures = 1
	cfg := testConfig()
	cfg.MinSize = 2

	p := newTestPool(t, cfg, launcher)

	assert.Equal(t, 1, p.Size())
	assert.Equal(t, 0, p.Stats().Failed)
}

func TestGetBrowserReusesIdle(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)
	initial := p.Snapshot()[0].ID

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, initial, pb.ID())
	assert.True(t, pb.Browser().Alive())
	assert.NotNil(t, pb.Connection())
	assert.Equal(t, 1, p.InUseCount())
	assert.Equal(t, 1, launcher.launchCount())

	pb.Release()
	info, err := p.Info(initial)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, info.Status)
	assert.Equal(t, 1, info.UseCount)
}

func TestGetBrowserCreatesUpToMaxSize(t *testing.T) {
	launcher := newFakeLauncher(t)
	p := newTestPool(t, testConfig(), launcher)

	first, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	second, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	_, err = p.GetBrowser(context.Background())
	assert.ErrorIs(t, err, ErrNoBrowsersAvailable)
	assert.Equal(t, 2, p.Size())

	first.Release()
	third, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), third.ID())
	assert.Equal(t, 2, launcher.launchCount())
}

func TestReuseThenRetireAtMaxUses(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 2
	cfg.MaxUses = 2

	p := newTestPool(t, cfg, launcher)
	original := p.Snapshot()[0].ID

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	require.Equal(t, original, pb.ID())
	pb.Release()

	pb, err = p.GetBrowser(context.Background())
	require.NoError(t, err)
	require.Equal(t, original, pb.ID())
	pb.Release()

	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		return len(snap) == 1 && snap[0].ID != original && snap[0].Status == StatusIdle
	}, 5*time.Second, 10*time.Millisecond)

	_, err = p.Info(original)
	assert.ErrorIs(t, err, ErrInvalidBrowserID)
	assert.Equal(t, 1, launcher.server(0).RequestCount("Browser.close"))
	assert.Equal(t, 2, launcher.launchCount())
}

func TestRetiringBrowserIsNeverClaimed(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.MaxUses = 1

	p := newTestPool(t, cfg, launcher)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	retired := pb.ID()
	pb.Release()

	info, err := p.Info(retired)
	if err == nil {
		assert.Equal(t, StatusCleaningUp, info.Status)
	}

	next, err := p.GetBrowser(context.Background())
	if err == nil {
		assert.NotEqual(t, retired, next.ID())
		next.Release()
	} else {
		assert.ErrorIs(t, err, ErrNoBrowsersAvailable)
	}
}

func TestDisabledReuseRecyclesOnEveryReturn(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.EnableReuse = false

	p := newTestPool(t, cfg, launcher)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	id := pb.ID()
	pb.Release()

	require.Eventually(t, func() bool {
		_, err := p.Info(id)
		return errors.Is(err, ErrInvalidBrowserID)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.Size())
}

func TestConcurrentGetOnEmptyPoolCreatesOnce(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.delay = 50 * time.Millisecond
	cfg := testConfig()
	cfg.MaxSize = 1

	p := newTestPool(t, cfg, launcher)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = p.GetBrowser(context.Background())
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrNoBrowsersAvailable)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, launcher.launchCount())
	assert.Equal(t, 1, p.Size())
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 3
	cfg.MaxSize = 3

	p := newTestPool(t, cfg, launcher)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		failed  int
		wg      sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pb, err := p.GetBrowser(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrNoBrowsersAvailable)
				failed++
				return
			}
			claimed[pb.ID()]++
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 3)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "browser %s handed out twice", id)
	}
	assert.Equal(t, 9, failed)
	assert.Equal(t, 3, launcher.launchCount())
}

func TestSizeNeverExceedsMax(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.delay = 10 * time.Millisecond
	cfg := testConfig()
	cfg.MaxSize = 3

	p := newTestPool(t, cfg, launcher)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pb, err := p.GetBrowser(context.Background())
			if err == nil {
				assert.LessOrEqual(t, p.Size(), 3)
				pb.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Size(), 3)
	assert.LessOrEqual(t, launcher.launchCount(), 3)
}

func TestReleaseIsIdempotent(t *testing.T) {
	launcher := newFakeLauncher(t)
	p := newTestPool(t, testConfig(), launcher)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)

	pb.Release()
	pb.Release()

	info, err := p.Info(pb.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, info.UseCount)
	assert.Equal(t, StatusIdle, info.Status)
}

func TestCreationRetries(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		retries      int
		wantErr      bool
		wantLaunches int
	}{
		{name: "succeeds on first attempt", failures: 0, retries: 3, wantLaunches: 1},
		{name: "succeeds after transient failures", failures: 2, retries: 3, wantLaunches: 3},
		{name: "gives up after retries", failures: 5, retries: 3, wantErr: true, wantLaunches: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			launcher := newFakeLauncher(t)
			launcher.failures = tt.failures
			cfg := testConfig()
			cfg.MaxCreationRetries = tt.retries

			observer := newRecordingObserver()
			p := newTestPool(t, cfg, launcher, WithObserver(observer))

			pb, err := p.GetBrowser(context.Background())
			assert.Equal(t, tt.wantLaunches, launcher.launchCount())
			if tt.wantErr {
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrNoBrowsersAvailable)
				assert.Equal(t, 0, p.Size())
				assert.Contains(t, observer.statuses(), StatusFailed)
				assert.Equal(t, 1, observer.removedCount())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusInUse, mustInfo(t, p, pb.ID()).Status)
		})
	}
}

func TestMaintenanceExpiresIdleAboveMinimum(t *testing.T) {
	launcher := newFakeLauncher(t)
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 3
	cfg.MaxIdleTime = time.Minute

	p := newTestPool(t, cfg, launcher, WithClock(clock.Now))

	var handles []*PooledBrowser
	for i := 0; i < 3; i++ {
		pb, err := p.GetBrowser(context.Background())
		require.NoError(t, err)
		handles = append(handles, pb)
	}
	for _, pb := range handles {
		pb.Release()
	}
	require.Equal(t, 3, p.AvailableCount())

	p.PerformMaintenance(context.Background())
	assert.Equal(t, 3, p.Size(), "nothing is idle long enough yet")

	clock.Advance(2 * time.Minute)
	p.PerformMaintenance(context.Background())

	assert.Equal(t, 1, p.Size())
	assert.Equal(t, 2, launcher.closeRequests())
}

func TestMaintenanceKeepsInUseBrowsers(t *testing.T) {
	launcher := newFakeLauncher(t)
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxIdleTime = time.Minute

	p := newTestPool(t, cfg, launcher, WithClock(clock.Now))

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	p.PerformMaintenance(context.Background())

	assert.Equal(t, StatusInUse, mustInfo(t, p, pb.ID()).Status)
}

func TestMaintenanceTopsUpToMinimum(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.failures = 2
	cfg := testConfig()
	cfg.MinSize = 2

	p := newTestPool(t, cfg, launcher)
	require.Equal(t, 0, p.Size())

	p.PerformMaintenance(context.Background())
	assert.Equal(t, 2, p.Size())
	assert.Equal(t, 2, p.AvailableCount())
}

func TestMaintenanceRemovesDeadBrowsers(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)
	dead := p.Snapshot()[0].ID

	launcher.server(0).DisconnectAll()
	require.Eventually(t, func() bool {
		e := p.lookup(dead)
		return e != nil && !e.browser.Alive()
	}, 5*time.Second, 10*time.Millisecond)

	p.PerformMaintenance(context.Background())

	_, err := p.Info(dead)
	assert.ErrorIs(t, err, ErrInvalidBrowserID)
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, 2, launcher.launchCount())
}

func TestGetBrowserSkipsDeadBrowser(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)
	dead := p.Snapshot()[0].ID

	launcher.server(0).DisconnectAll()
	require.Eventually(t, func() bool {
		return !p.lookup(dead).browser.Alive()
	}, 5*time.Second, 10*time.Millisecond)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, dead, pb.ID())

	require.Eventually(t, func() bool {
		_, err := p.Info(dead)
		return errors.Is(err, ErrInvalidBrowserID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduledMaintenance(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.failures = 1
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaintenanceInterval = time.Second

	p := newTestPool(t, cfg, launcher)
	require.Equal(t, 0, p.Size())

	assert.Eventually(t, func() bool {
		return p.AvailableCount() == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRecycle(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)
	id := p.Snapshot()[0].ID

	assert.ErrorIs(t, p.Recycle(context.Background(), "missing"), ErrInvalidBrowserID)

	require.NoError(t, p.Recycle(context.Background(), id))

	_, err := p.Info(id)
	assert.ErrorIs(t, err, ErrInvalidBrowserID)
	assert.Equal(t, 1, p.Size(), "replaced to keep the minimum")
	assert.Equal(t, 1, launcher.server(0).RequestCount("Browser.close"))
}

func TestRecycleInitializingBrowser(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.delay = 300 * time.Millisecond
	cfg := testConfig()
	cfg.MaxSize = 1

	p := newTestPool(t, cfg, launcher)

	type claimed struct {
		pb  *PooledBrowser
		err error
	}
	done := make(chan claimed, 1)
	go func() {
		pb, err := p.GetBrowser(context.Background())
		done <- claimed{pb, err}
	}()

	var id string
	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		if len(snap) == 1 && snap[0].Status == StatusInitializing {
			id = snap[0].ID
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, p.Recycle(context.Background(), id), ErrBrowserInitializing)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, id, res.pb.ID())
	assert.Equal(t, StatusInUse, mustInfo(t, p, id).Status)
	assert.Equal(t, 1, p.Size())

	res.pb.Release()
	assert.Equal(t, StatusIdle, mustInfo(t, p, id).Status)
	assert.Equal(t, 1, launcher.launchCount())
	assert.Equal(t, 0, launcher.closeRequests())
}

func TestRecycleInUseBrowser(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)
	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	id := pb.ID()

	require.NoError(t, p.Recycle(context.Background(), id))

	assert.False(t, pb.Browser().Alive())
	_, err = p.Info(id)
	assert.ErrorIs(t, err, ErrInvalidBrowserID)
	assert.Equal(t, 1, launcher.server(0).RequestCount("Browser.close"))

	// the holder no longer owns anything to give back
	pb.Release()

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.NotEqual(t, id, snap[0].ID)
	assert.Equal(t, StatusIdle, snap[0].Status)
	assert.Equal(t, 2, launcher.launchCount())
}

func TestAttachedBrowserIsNotAskedToExit(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.MaxUses = 1

	p := newTestPool(t, cfg, &browser.AttachLauncher{Endpoint: srv.URL()})

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	retired := pb.ID()
	pb.Release()

	require.Eventually(t, func() bool {
		_, err := p.Info(retired)
		return errors.Is(err, ErrInvalidBrowserID)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.RequestCount("Browser.close"))

	pb, err = p.GetBrowser(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Recycle(context.Background(), pb.ID()))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 0, srv.RequestCount("Browser.close"))
	assert.Len(t, srv.Conns(), 2)
}

func TestShutdown(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.MinSize = 2

	p := newTestPool(t, cfg, launcher)
	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 0, p.Size())
	assert.Equal(t, 2, launcher.closeRequests())
	assert.False(t, pb.Browser().Alive())

	_, err = p.GetBrowser(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// releasing after shutdown is harmless
	pb.Release()
	assert.Equal(t, 0, p.Size())
}

func TestReleaseDisposesOpenContexts(t *testing.T) {
	launcher := newFakeLauncher(t)
	launcher.setup = func(s *cdptest.Server) {
		s.HandleResult("Target.createBrowserContext", map[string]string{"browserContextId": "ctx-1"})
	}
	p := newTestPool(t, testConfig(), launcher)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)

	bctx, err := pb.NewContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", bctx.ID())

	pb.Release()

	require.Eventually(t, func() bool {
		return mustInfo(t, p, pb.ID()).Status == StatusIdle
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, launcher.server(0).RequestCount("Target.disposeBrowserContext"))
}

func TestLeakedHandleReturnsBrowser(t *testing.T) {
	launcher := newFakeLauncher(t)
	p := newTestPool(t, testConfig(), launcher)

	id := claimAndDrop(t, p)
	require.Equal(t, StatusInUse, mustInfo(t, p, id).Status)

	assert.Eventually(t, func() bool {
		runtime.GC()
		return mustInfo(t, p, id).Status == StatusIdle
	}, 5*time.Second, 20*time.Millisecond)
}

func claimAndDrop(t *testing.T, p *Pool) string {
	t.Helper()
	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	return pb.ID()
}

func TestSnapshotAndStats(t *testing.T) {
	launcher := newFakeLauncher(t)
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 3

	p := newTestPool(t, cfg, launcher, WithClock(clock.Now))
	clock.Advance(time.Second)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = p.GetBrowser(context.Background())
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, pb.ID(), snap[0].ID, "oldest first")
	assert.Equal(t, "chromium", snap[0].BrowserType)
	assert.NotEmpty(t, snap[0].Endpoint)

	assert.Equal(t, Stats{Size: 2, InUse: 2}, p.Stats())
	assert.Equal(t, "test", p.Name())
	assert.Equal(t, 3, p.Config().MaxSize)
}

func TestMetricsEnabledPool(t *testing.T) {
	launcher := newFakeLauncher(t)
	cfg := testConfig()
	cfg.Name = "metrics-test"
	cfg.EnableMetrics = true
	cfg.MinSize = 1

	p := newTestPool(t, cfg, launcher)

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	pb.Release()
	assert.Equal(t, 1, p.AvailableCount())
}

func mustInfo(t *testing.T, p *Pool, id string) Info {
	t.Helper()
	info, err := p.Info(id)
	require.NoError(t, err)
	return info
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []Info
	removed []Info
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{}
}

func (o *recordingObserver) BrowserUpdated(_ string, info Info) {
	o.mu.Lock()
	o.updates = append(o.updates, info)
	o.mu.Unlock()
}

func (o *recordingObserver) BrowserRemoved(_ string, info Info) {
	o.mu.Lock()
	o.removed = append(o.removed, info)
	o.mu.Unlock()
}

func (o *recordingObserver) statuses() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Status, 0, len(o.updates))
	for _, info := range o.updates {
		out = append(out, info.Status)
	}
	return out
}

func (o *recordingObserver) removedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.removed)
}

func TestObserverSeesLifecycle(t *testing.T) {
	launcher := newFakeLauncher(t)
	observer := newRecordingObserver()
	p := newTestPool(t, testConfig(), launcher, WithObserver(observer))

	pb, err := p.GetBrowser(context.Background())
	require.NoError(t, err)
	pb.Release()
	require.NoError(t, p.Recycle(context.Background(), pb.ID()))

	assert.Equal(t, []Status{StatusInitializing, StatusInUse, StatusIdle, StatusCleaningUp}, observer.statuses())
	assert.Equal(t, 1, observer.removedCount())
}

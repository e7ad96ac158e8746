package emoji

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quailyquaily/guildmind/internal/dbtest"
	"github.com/quailyquaily/guildmind/store"
	"go.uber.org/goleak"
)

// ristretto pulls in glog, whose init starts a flush goroutine.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"))
}

type fakeDescriber struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	entered chan struct{}
	err     error
}

func (f *fakeDescriber) Describe(ctx context.Context, e Emoji) (string, error) {
	f.mu.Lock()
	f.calls++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "a picture of " + e.Name, nil
}

func (f *fakeDescriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDescriber) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestManager(t *testing.T, d Describer, cfg Config) (*Manager, *store.GormStore) {
	t.Helper()
	st := store.NewGormStore(dbtest.Open(t))
	m, err := NewManager(st, d, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(m.Close)
	return m, st
}

func TestGetOrAnalyzeSingleFlight(t *testing.T) {
	d := &fakeDescriber{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m, _ := newTestManager(t, d, DefaultConfig())
	e := Emoji{GuildID: "g1", ID: "1", Name: "party"}

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrAnalyze(context.Background(), e)
		}(i)
	}

	select {
	case <-d.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("describer never called")
	}
	time.Sleep(50 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	if got := d.Calls(); got != 1 {
		t.Fatalf("describer calls = %d, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != "a picture of party" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}

	again, err := m.GetOrAnalyze(context.Background(), e)
	if err != nil || again != "a picture of party" {
		t.Fatalf("cached GetOrAnalyze() = %q, %v", again, err)
	}
	if got := d.Calls(); got != 1 {
		t.Fatalf("describer called again on cache hit: %d", got)
	}
}

func TestGetOrAnalyzeWithoutDescriberStoresFallback(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, nil, DefaultConfig())

	got, err := m.GetOrAnalyze(ctx, Emoji{GuildID: "g1", Name: "kek"})
	if err != nil {
		t.Fatalf("GetOrAnalyze() error = %v", err)
	}
	if got != "Custom server emoji: kek" {
		t.Fatalf("GetOrAnalyze() = %q", got)
	}
	rec, ok, _ := st.GetEmojiDescription(ctx, "g1", "kek")
	if !ok || rec.Source != store.SourceFallback {
		t.Fatalf("stored row = %#v ok=%v, want fallback", rec, ok)
	}
}

func TestFailedAnalysisFallsBackThenRefreshUpgrades(t *testing.T) {
	ctx := context.Background()
	d := &fakeDescriber{err: errors.New("vision down")}
	m, st := newTestManager(t, d, DefaultConfig())
	e := Emoji{GuildID: "g1", Name: "wave"}

	got, err := m.GetOrAnalyze(ctx, e)
	if err != nil {
		t.Fatalf("GetOrAnalyze() error = %v", err)
	}
	if got != FallbackDescription("wave") {
		t.Fatalf("GetOrAnalyze() = %q, want fallback", got)
	}
	// A cached fallback is served without retrying the provider.
	if _, err := m.GetOrAnalyze(ctx, e); err != nil {
		t.Fatalf("GetOrAnalyze() error = %v", err)
	}
	if d.Calls() != 1 {
		t.Fatalf("describer calls = %d, want 1", d.Calls())
	}

	d.setErr(nil)
	got, err = m.Refresh(ctx, e)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got != "a picture of wave" {
		t.Fatalf("Refresh() = %q", got)
	}
	rec, _, _ := st.GetEmojiDescription(ctx, "g1", "wave")
	if rec.Source != store.SourceVision {
		t.Fatalf("source = %q, want vision", rec.Source)
	}
	if got, _ := m.GetOrAnalyze(ctx, e); got != "a picture of wave" {
		t.Fatalf("hot cache not updated after refresh: %q", got)
	}
}

func TestRefreshFailureKeepsVision(t *testing.T) {
	ctx := context.Background()
	d := &fakeDescriber{}
	m, _ := newTestManager(t, d, DefaultConfig())
	e := Emoji{GuildID: "g1", Name: "blob"}

	if _, err := m.GetOrAnalyze(ctx, e); err != nil {
		t.Fatalf("GetOrAnalyze() error = %v", err)
	}
	d.setErr(errors.New("rate limited"))
	got, err := m.Refresh(ctx, e)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got != "a picture of blob" {
		t.Fatalf("Refresh() after failure = %q, want the stored vision text", got)
	}
}

func TestAbandonedWaiterGetsFallbackWhileFlightCompletes(t *testing.T) {
	d := &fakeDescriber{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	m, st := newTestManager(t, d, DefaultConfig())
	e := Emoji{GuildID: "g1", Name: "slow"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() {
		got, _ := m.GetOrAnalyze(ctx, e)
		done <- got
	}()
	<-d.entered
	cancel()

	select {
	case got := <-done:
		if got != FallbackDescription("slow") {
			t.Fatalf("abandoned waiter got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not return after cancel")
	}

	close(d.gate)
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, ok, _ := st.GetEmojiDescription(context.Background(), "g1", "slow")
		if ok && rec.Source == store.SourceVision {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flight did not store vision result after waiter left")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBreakerStopsCallingFailingDescriber(t *testing.T) {
	ctx := context.Background()
	d := &fakeDescriber{err: errors.New("boom")}
	cfg := DefaultConfig()
	cfg.Breaker.ConsecutiveFailures = 2
	cfg.Breaker.Timeout = time.Hour
	m, _ := newTestManager(t, d, cfg)

	for _, name := range []string{"a1", "a2", "a3", "a4"} {
		got, _ := m.GetOrAnalyze(ctx, Emoji{GuildID: "g1", Name: name})
		if got != FallbackDescription(name) {
			t.Fatalf("GetOrAnalyze(%s) = %q", name, got)
		}
	}
	if d.Calls() != 2 {
		t.Fatalf("describer calls = %d, want 2 before the breaker opens", d.Calls())
	}
}

func TestRefreshAllAnalyzesNewAndPrunesRemoved(t *testing.T) {
	ctx := context.Background()
	d := &fakeDescriber{}
	m, st := newTestManager(t, d, DefaultConfig())

	if _, err := st.PutEmojiDescription(ctx, store.EmojiDescription{
		GuildID: "g1", EmojiName: "gone", Description: "old", Source: store.SourceVision,
	}); err != nil {
		t.Fatalf("PutEmojiDescription() error = %v", err)
	}
	if _, err := st.PutEmojiDescription(ctx, store.EmojiDescription{
		GuildID: "g1", EmojiName: "kept", Description: "kept desc", Source: store.SourceVision,
	}); err != nil {
		t.Fatalf("PutEmojiDescription() error = %v", err)
	}

	stats := m.RefreshAll(ctx, []Emoji{
		{GuildID: "g1", Name: "kept"},
		{GuildID: "g1", Name: "fresh"},
		{GuildID: "g2", Name: "other"},
		{GuildID: "", Name: "ignored"},
	})
	want := RefreshStats{Seen: 3, Cached: 1, Analyzed: 2, Pruned: 1}
	if stats != want {
		t.Fatalf("RefreshAll() stats = %+v, want %+v", stats, want)
	}
	if _, ok, _ := st.GetEmojiDescription(ctx, "g1", "gone"); ok {
		t.Fatalf("removed emoji was not pruned")
	}
	if d.Calls() != 2 {
		t.Fatalf("describer calls = %d, want 2", d.Calls())
	}

	again := m.RefreshAll(ctx, []Emoji{{GuildID: "g1", Name: "kept"}, {GuildID: "g1", Name: "fresh"}})
	if again.Cached != 2 || again.Analyzed != 0 {
		t.Fatalf("second RefreshAll() stats = %+v", again)
	}
}

func TestRefreshAllUpgradesFallbacks(t *testing.T) {
	ctx := context.Background()
	d := &fakeDescriber{}
	cfg := DefaultConfig()
	cfg.UpgradeFallbacks = true
	m, st := newTestManager(t, d, cfg)

	if _, err := st.PutEmojiDescription(ctx, store.EmojiDescription{
		GuildID: "g1", EmojiName: "wave", Description: FallbackDescription("wave"), Source: store.SourceFallback,
	}); err != nil {
		t.Fatalf("PutEmojiDescription() error = %v", err)
	}
	stats := m.RefreshAll(ctx, []Emoji{{GuildID: "g1", Name: "wave"}})
	if stats.Upgraded != 1 {
		t.Fatalf("RefreshAll() stats = %+v, want one upgrade", stats)
	}
	rec, _, _ := st.GetEmojiDescription(ctx, "g1", "wave")
	if rec.Source != store.SourceVision {
		t.Fatalf("source = %q after upgrade", rec.Source)
	}
}

func TestRefreshAllStopsBetweenKeys(t *testing.T) {
	d := &fakeDescriber{}
	cfg := DefaultConfig()
	cfg.RefreshConcurrency = 1
	m, _ := newTestManager(t, d, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats := m.RefreshAll(ctx, []Emoji{{GuildID: "g1", Name: "a"}, {GuildID: "g1", Name: "b"}})
	if stats.Analyzed != 0 || d.Calls() != 0 {
		t.Fatalf("cancelled RefreshAll() did work: %+v calls=%d", stats, d.Calls())
	}
}

func TestInvalidEmojiKey(t *testing.T) {
	m, _ := newTestManager(t, nil, DefaultConfig())
	got, err := m.GetOrAnalyze(context.Background(), Emoji{GuildID: "g1"})
	if !errors.Is(err, store.ErrInvalidKey) {
		t.Fatalf("GetOrAnalyze() error = %v, want ErrInvalidKey", err)
	}
	if got == "" {
		t.Fatalf("GetOrAnalyze() returned an empty description")
	}
}

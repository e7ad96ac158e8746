package emoji

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeInventory struct {
	mu    sync.Mutex
	calls int
	inv   []Emoji
	err   error
}

func (f *fakeInventory) Inventory(context.Context) ([]Emoji, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.inv, f.err
}

func (f *fakeInventory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestRefresherRunsImmediatelyAndOnInterval(t *testing.T) {
	d := &fakeDescriber{}
	m, st := newTestManager(t, d, DefaultConfig())
	src := &fakeInventory{inv: []Emoji{{GuildID: "g1", Name: "wave"}}}
	r := &Refresher{Manager: m, Source: src, Interval: 20 * time.Millisecond}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrRefresherRunning) {
		t.Fatalf("second Start() error = %v, want ErrRefresherRunning", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for src.Calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("refresher ran %d cycles, want at least 3", src.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if _, ok, _ := st.GetEmojiDescription(context.Background(), "g1", "wave"); !ok {
		t.Fatalf("refresher did not cache inventory emoji")
	}
	if d.Calls() != 1 {
		t.Fatalf("describer calls = %d, want 1 across cycles", d.Calls())
	}

	settled := src.Calls()
	time.Sleep(60 * time.Millisecond)
	if src.Calls() != settled {
		t.Fatalf("refresher kept running after Stop()")
	}
}

func TestRefresherSurvivesInventoryErrors(t *testing.T) {
	m, _ := newTestManager(t, nil, DefaultConfig())
	src := &fakeInventory{err: errors.New("gateway offline")}
	r := &Refresher{Manager: m, Source: src, Interval: time.Hour, ErrorDelay: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for src.Calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("refresher did not retry after inventory error")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestStopFinishesCurrentKey(t *testing.T) {
	d := &fakeDescriber{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	cfg := DefaultConfig()
	cfg.RefreshConcurrency = 1
	m, st := newTestManager(t, d, cfg)
	src := &fakeInventory{inv: []Emoji{{GuildID: "g1", Name: "a"}, {GuildID: "g1", Name: "b"}}}
	r := &Refresher{Manager: m, Source: src, Interval: time.Hour}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-d.entered

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop() returned while an analysis was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(d.gate)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}

	if _, ok, _ := st.GetEmojiDescription(context.Background(), "g1", "a"); !ok {
		t.Fatalf("in-progress key was not committed")
	}
	if _, ok, _ := st.GetEmojiDescription(context.Background(), "g1", "b"); ok {
		t.Fatalf("refresher started a new key after Stop()")
	}
}

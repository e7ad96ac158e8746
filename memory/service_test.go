package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/quailyquaily/guildmind/internal/dbtest"
	"github.com/quailyquaily/guildmind/internal/redact"
	"github.com/quailyquaily/guildmind/llm"
	"github.com/quailyquaily/guildmind/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(store.NewGormStore(dbtest.Open(t)), DefaultConfig(), nil)
}

func TestGetUserMemoryDefault(t *testing.T) {
	svc := newTestService(t)
	got, err := svc.GetUserMemory(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserMemory() error = %v", err)
	}
	if got.UserID != "u1" || got.KnownFacts == nil || got.History == nil {
		t.Fatalf("default record not normalized: %#v", got)
	}
	if len(got.KnownFacts) != 0 || len(got.History) != 0 {
		t.Fatalf("default record not empty: %#v", got)
	}
}

func TestRecordInteractionKeepsNewestTwenty(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	for i := 1; i <= 25; i++ {
		if err := svc.RecordInteraction(ctx, "u1", "user", strconv.Itoa(i)); err != nil {
			t.Fatalf("RecordInteraction(%d) error = %v", i, err)
		}
		got, err := svc.GetUserMemory(ctx, "u1")
		if err != nil {
			t.Fatalf("GetUserMemory() error = %v", err)
		}
		if want := min(i, HistoryLimit); len(got.History) != want {
			t.Fatalf("after %d calls history len = %d, want %d", i, len(got.History), want)
		}
	}

	got, _ := svc.GetUserMemory(ctx, "u1")
	for i, h := range got.History {
		if want := strconv.Itoa(i + 6); h.Content != want {
			t.Fatalf("history[%d] = %q, want %q", i, h.Content, want)
		}
		if h.Timestamp.IsZero() {
			t.Fatalf("history[%d] has no timestamp", i)
		}
	}
}

func TestUpdateFactsIdempotentAndLastWriteWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.UpdateFacts(ctx, "u1", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	once, _ := svc.GetUserMemory(ctx, "u1")
	if err := svc.UpdateFacts(ctx, "u1", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	twice, _ := svc.GetUserMemory(ctx, "u1")
	if !reflect.DeepEqual(once.KnownFacts, twice.KnownFacts) {
		t.Fatalf("facts differ after re-applying delta: %#v vs %#v", once.KnownFacts, twice.KnownFacts)
	}

	if err := svc.UpdateFacts(ctx, "u1", map[string]string{"k": "a", "age": "30"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	if err := svc.UpdateFacts(ctx, "u1", map[string]string{"k": "b"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	got, _ := svc.GetUserMemory(ctx, "u1")
	want := map[string]string{"k": "b", "age": "30"}
	if !reflect.DeepEqual(got.KnownFacts, want) {
		t.Fatalf("known_facts = %#v, want %#v", got.KnownFacts, want)
	}
}

func TestUpdateFactsEmptyDeltaCreatesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.UpdateFacts(ctx, "u1", map[string]string{" ": "ignored"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	if _, ok, _ := svc.Store.GetUserMemory(ctx, "u1"); ok {
		t.Fatalf("empty delta created a record")
	}
}

func TestClearUserMemory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_ = svc.UpdateFacts(ctx, "u1", map[string]string{"name": "Ada"})
	_ = svc.RecordInteraction(ctx, "u1", "user", "hello")
	if err := svc.ClearUserMemory(ctx, "u1"); err != nil {
		t.Fatalf("ClearUserMemory() error = %v", err)
	}
	got, err := svc.GetUserMemory(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserMemory() error = %v", err)
	}
	if len(got.KnownFacts) != 0 || len(got.History) != 0 {
		t.Fatalf("record not reset after clear: %#v", got)
	}
}

func TestServerFactsAreIndependentOfUserFacts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_ = svc.UpdateFacts(ctx, "same-id", map[string]string{"who": "user"})
	if err := svc.UpdateServerFacts(ctx, "same-id", map[string]string{"who": "server"}); err != nil {
		t.Fatalf("UpdateServerFacts() error = %v", err)
	}
	u, _ := svc.GetUserMemory(ctx, "same-id")
	g, _ := svc.GetServerMemory(ctx, "same-id")
	if u.KnownFacts["who"] != "user" || g.KnownFacts["who"] != "server" {
		t.Fatalf("user/server facts leaked: user=%#v server=%#v", u.KnownFacts, g.KnownFacts)
	}

	if err := svc.ClearServerMemory(ctx, "same-id"); err != nil {
		t.Fatalf("ClearServerMemory() error = %v", err)
	}
	g, _ = svc.GetServerMemory(ctx, "same-id")
	if len(g.KnownFacts) != 0 {
		t.Fatalf("server facts not cleared: %#v", g.KnownFacts)
	}
	u, _ = svc.GetUserMemory(ctx, "same-id")
	if u.KnownFacts["who"] != "user" {
		t.Fatalf("clearing server memory touched user memory")
	}
}

func TestConcurrentUpdatesOnOneKeyLoseNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- svc.UpdateFacts(ctx, "u1", map[string]string{fmt.Sprintf("k%02d", i): "v"})
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- svc.RecordInteraction(ctx, "u1", "user", strconv.Itoa(i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update error = %v", err)
		}
	}

	got, _ := svc.GetUserMemory(ctx, "u1")
	if len(got.KnownFacts) != n {
		t.Fatalf("known_facts has %d keys, want %d", len(got.KnownFacts), n)
	}
	if len(got.History) != n {
		t.Fatalf("history has %d entries, want %d", len(got.History), n)
	}
	if svc.Locks.Len() != 0 {
		t.Fatalf("lock table not drained: %d", svc.Locks.Len())
	}
}

func TestBlankIDsRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.GetUserMemory(ctx, ""); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("GetUserMemory(\"\") error = %v, want ErrInvalidID", err)
	}
	if err := svc.RecordInteraction(ctx, "  ", "user", "x"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("RecordInteraction(blank) error = %v, want ErrInvalidID", err)
	}
	if err := svc.UpdateServerFacts(ctx, "", map[string]string{"a": "b"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("UpdateServerFacts(\"\") error = %v, want ErrInvalidID", err)
	}
}

type fakeChat struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.Request
}

func (f *fakeChat) Chat(_ context.Context, req llm.Request) (llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Text: f.reply}, nil
}

func TestLearnFromExchangeMergesExtractedFacts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	chat := &fakeChat{reply: "Sure:\n```json\n{\"name\": \"John\", \"interests\": \"AI and robotics\"}\n```"}
	svc.Extractor = &FactExtractor{Client: chat, Model: "test"}

	_ = svc.UpdateFacts(ctx, "u1", map[string]string{"age": "30"})
	err := svc.LearnFromExchange(ctx, "u1", "Hi, I'm John. I love AI and robotics.", "Nice to meet you John!")
	if err != nil {
		t.Fatalf("LearnFromExchange() error = %v", err)
	}

	got, _ := svc.GetUserMemory(ctx, "u1")
	want := map[string]string{"age": "30", "name": "John", "interests": "AI and robotics"}
	if !reflect.DeepEqual(got.KnownFacts, want) {
		t.Fatalf("known_facts = %#v, want %#v", got.KnownFacts, want)
	}
	if len(got.History) != 2 || got.History[0].Role != llm.RoleUser || got.History[1].Role != llm.RoleAssistant {
		t.Fatalf("history = %#v", got.History)
	}
	if len(chat.reqs) != 1 || !chat.reqs[0].ForceJSON {
		t.Fatalf("unexpected extractor requests: %#v", chat.reqs)
	}
}

func TestLearnFromExchangeIgnoresExtractorFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.Extractor = &FactExtractor{Client: &fakeChat{err: errors.New("provider down")}}

	if err := svc.LearnFromExchange(ctx, "u1", "hello", "hi"); err != nil {
		t.Fatalf("LearnFromExchange() error = %v", err)
	}
	got, _ := svc.GetUserMemory(ctx, "u1")
	if len(got.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(got.History))
	}
	if len(got.KnownFacts) != 0 {
		t.Fatalf("facts written despite extractor failure: %#v", got.KnownFacts)
	}
}

func TestRedactorScrubsStoredTurnsAndFacts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.Redactor = redact.New(nil, nil)

	if err := svc.RecordInteraction(ctx, "u1", "user", "my token=abcdef0123456789 keep it safe"); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	if err := svc.UpdateFacts(ctx, "u1", map[string]string{"note": "password: hunter2hunter2"}); err != nil {
		t.Fatalf("UpdateFacts() error = %v", err)
	}
	got, _ := svc.GetUserMemory(ctx, "u1")
	if c := got.History[0].Content; strings.Contains(c, "abcdef0123456789") || !strings.Contains(c, redact.Marker) {
		t.Fatalf("stored turn = %q", c)
	}
	if v := got.KnownFacts["note"]; strings.Contains(v, "hunter2hunter2") {
		t.Fatalf("stored fact = %q", v)
	}
}

func TestRecordInteractionCapsContentSize(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.Config.MaxContentBytes = 10

	if err := svc.RecordInteraction(ctx, "u1", "user", "héllo wörld, and more"); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	got, _ := svc.GetUserMemory(ctx, "u1")
	c := got.History[0].Content
	if len(c) > 10 || !strings.HasPrefix("héllo wörld, and more", c) {
		t.Fatalf("stored content = %q", c)
	}
}

func TestHistoryLimitNeverExceedsTwenty(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewGormStore(dbtest.Open(t)), Config{HistoryLimit: 30}, nil)
	for i := 1; i <= 25; i++ {
		if err := svc.RecordInteraction(ctx, "u1", "user", strconv.Itoa(i)); err != nil {
			t.Fatalf("RecordInteraction(%d) error = %v", i, err)
		}
	}
	got, _ := svc.GetUserMemory(ctx, "u1")
	if len(got.History) != HistoryLimit {
		t.Fatalf("history len = %d, want %d", len(got.History), HistoryLimit)
	}
	if got.History[0].Content != "6" {
		t.Fatalf("oldest kept = %q, want 6", got.History[0].Content)
	}

	svc.Config.HistoryLimit = 50
	if err := svc.RecordInteraction(ctx, "u1", "user", "26"); err != nil {
		t.Fatalf("RecordInteraction() error = %v", err)
	}
	got, _ = svc.GetUserMemory(ctx, "u1")
	if len(got.History) != HistoryLimit {
		t.Fatalf("history len after config change = %d", len(got.History))
	}
}

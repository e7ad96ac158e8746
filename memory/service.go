package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/guildmind/internal/metrics"
	"github.com/quailyquaily/guildmind/internal/redact"
	"github.com/quailyquaily/guildmind/internal/strutil"
	"github.com/quailyquaily/guildmind/llm"
	"github.com/quailyquaily/guildmind/store"
)

// errUnchanged aborts an update transaction that would write nothing new.
var errUnchanged = errors.New("memory: unchanged")

// Service owns user and server memory. Mutations for the same key are
// serialized through Locks; reads go straight to the store.
type Service struct {
	Store     store.Store
	Locks     *KeyLocks
	Config    Config
	Extractor *FactExtractor
	// Redactor scrubs credentials from turns before they are stored.
	Redactor *redact.Redactor
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	now func() time.Time
}

func NewService(st store.Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > HistoryLimit {
		cfg.HistoryLimit = HistoryLimit
	}
	return &Service{
		Store:  st,
		Locks:  NewKeyLocks(),
		Config: cfg,
		Logger: logger,
		now:    time.Now,
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// historyLimit is the configured capacity, never above HistoryLimit.
func (s *Service) historyLimit() int {
	if s.Config.HistoryLimit <= 0 || s.Config.HistoryLimit > HistoryLimit {
		return HistoryLimit
	}
	return s.Config.HistoryLimit
}

func (s *Service) lock(namespace, id string) func() {
	if s.Locks == nil {
		s.Locks = NewKeyLocks()
	}
	return s.Locks.Lock(namespace + ":" + id)
}

// GetUserMemory returns the stored record or a fresh default. It never
// returns nil maps or slices.
func (s *Service) GetUserMemory(ctx context.Context, userID string) (UserMemory, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserMemory{}, ErrInvalidID
	}
	rec, ok, err := s.Store.GetUserMemory(ctx, userID)
	if err != nil {
		return UserMemory{}, fmt.Errorf("get user memory %s: %w", userID, err)
	}
	if !ok {
		rec = UserMemory{UserID: userID}
	}
	return normalizeUser(rec), nil
}

// RecordInteraction appends one turn and keeps only the newest entries.
func (s *Service) RecordInteraction(ctx context.Context, userID, role, content string) error {
	return s.appendTurns(ctx, userID, Interaction{Role: role, Content: content})
}

func (s *Service) appendTurns(ctx context.Context, userID string, turns ...Interaction) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidID
	}
	unlock := s.lock("user", userID)
	defer unlock()

	ts := s.clock()
	limit := s.historyLimit()
	maxBytes := s.Config.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = MaxContentBytes
	}
	for i := range turns {
		if out, changed := s.Redactor.String(turns[i].Content); changed {
			turns[i].Content = out
			s.logger().Info("memory_turn_redacted", "user_id", userID, "role", turns[i].Role)
		}
		turns[i].Content = strutil.TruncateUTF8(turns[i].Content, maxBytes)
	}
	_, err := s.Store.UpdateUserMemory(ctx, userID, func(m *UserMemory) error {
		for _, t := range turns {
			role := strings.TrimSpace(t.Role)
			if role == "" {
				role = llm.RoleUser
			}
			m.History = append(m.History, Interaction{Role: role, Content: t.Content, Timestamp: ts})
		}
		m.History = trimHistory(m.History, limit)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record interaction %s: %w", userID, err)
	}
	s.Metrics.MemoryWrite("interaction")
	return nil
}

// UpdateFacts merges delta into the user's known facts, last write wins per
// key. Blank keys are ignored and an empty delta writes nothing.
func (s *Service) UpdateFacts(ctx context.Context, userID string, delta map[string]string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidID
	}
	delta = cleanDelta(delta, s.Redactor)
	if len(delta) == 0 {
		return nil
	}
	unlock := s.lock("user", userID)
	defer unlock()

	_, err := s.Store.UpdateUserMemory(ctx, userID, func(m *UserMemory) error {
		var changed bool
		m.KnownFacts, changed = mergeFacts(m.KnownFacts, delta)
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update facts %s: %w", userID, err)
	}
	s.Metrics.MemoryWrite("user_facts")
	return nil
}

func (s *Service) ClearUserMemory(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidID
	}
	unlock := s.lock("user", userID)
	defer unlock()

	if err := s.Store.DeleteUserMemory(ctx, userID); err != nil {
		return fmt.Errorf("clear user memory %s: %w", userID, err)
	}
	s.Metrics.MemoryWrite("clear_user")
	s.logger().Info("user_memory_cleared", "user_id", userID)
	return nil
}

func (s *Service) GetServerMemory(ctx context.Context, guildID string) (ServerMemory, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ServerMemory{}, ErrInvalidID
	}
	rec, ok, err := s.Store.GetServerMemory(ctx, guildID)
	if err != nil {
		return ServerMemory{}, fmt.Errorf("get server memory %s: %w", guildID, err)
	}
	if !ok {
		rec = ServerMemory{GuildID: guildID}
	}
	if rec.KnownFacts == nil {
		rec.KnownFacts = map[string]string{}
	}
	return rec, nil
}

func (s *Service) UpdateServerFacts(ctx context.Context, guildID string, delta map[string]string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ErrInvalidID
	}
	delta = cleanDelta(delta, s.Redactor)
	if len(delta) == 0 {
		return nil
	}
	unlock := s.lock("guild", guildID)
	defer unlock()

	_, err := s.Store.UpdateServerMemory(ctx, guildID, func(m *ServerMemory) error {
		var changed bool
		m.KnownFacts, changed = mergeFacts(m.KnownFacts, delta)
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update server facts %s: %w", guildID, err)
	}
	s.Metrics.MemoryWrite("server_facts")
	return nil
}

func (s *Service) ClearServerMemory(ctx context.Context, guildID string) error {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return ErrInvalidID
	}
	unlock := s.lock("guild", guildID)
	defer unlock()

	if err := s.Store.DeleteServerMemory(ctx, guildID); err != nil {
		return fmt.Errorf("clear server memory %s: %w", guildID, err)
	}
	s.Metrics.MemoryWrite("clear_server")
	s.logger().Info("server_memory_cleared", "guild_id", guildID)
	return nil
}

// LearnFromExchange records a user message and the bot's reply as two turns,
// then asks the extractor (when set) for new facts about the user. Extraction
// problems are logged and never returned.
func (s *Service) LearnFromExchange(ctx context.Context, userID, userMessage, reply string) error {
	userMessage, _ = s.Redactor.String(userMessage)
	reply, _ = s.Redactor.String(reply)
	err := s.appendTurns(ctx, userID,
		Interaction{Role: llm.RoleUser, Content: userMessage},
		Interaction{Role: llm.RoleAssistant, Content: reply},
	)
	if err != nil {
		return err
	}
	if s.Extractor == nil {
		return nil
	}

	log := s.logger()
	known, err := s.GetUserMemory(ctx, userID)
	if err != nil {
		log.Warn("fact_extraction_skipped", "user_id", userID, "error", err.Error())
		return nil
	}
	facts, err := s.Extractor.Extract(ctx, userMessage, reply, known.KnownFacts)
	if err != nil {
		log.Warn("fact_extraction_failed", "user_id", userID, "error", err.Error())
		return nil
	}
	if len(facts) == 0 {
		return nil
	}
	if err := s.UpdateFacts(ctx, userID, facts); err != nil {
		log.Warn("fact_merge_failed", "user_id", userID, "error", err.Error())
		return nil
	}
	log.Debug("facts_learned", "user_id", userID, "count", len(facts))
	return nil
}

func normalizeUser(m UserMemory) UserMemory {
	if m.KnownFacts == nil {
		m.KnownFacts = map[string]string{}
	}
	if m.History == nil {
		m.History = []Interaction{}
	}
	return m
}

// trimHistory keeps the newest limit entries, oldest first.
func trimHistory(h []Interaction, limit int) []Interaction {
	if limit <= 0 || len(h) <= limit {
		return h
	}
	out := make([]Interaction, limit)
	copy(out, h[len(h)-limit:])
	return out
}

func cleanDelta(delta map[string]string, r *redact.Redactor) map[string]string {
	if len(delta) == 0 {
		return nil
	}
	out := make(map[string]string, len(delta))
	for k, v := range delta {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k], _ = r.String(v)
	}
	return out
}

// mergeFacts applies delta onto base in place and reports whether anything
// changed.
func mergeFacts(base, delta map[string]string) (map[string]string, bool) {
	if base == nil {
		base = make(map[string]string, len(delta))
	}
	changed := false
	for k, v := range delta {
		if old, ok := base[k]; ok && old == v {
			continue
		}
		base[k] = v
		changed = true
	}
	return base, changed
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/guildmind/composer"
	"github.com/quailyquaily/guildmind/db"
	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/metrics"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/quailyquaily/guildmind/personality"
	"github.com/quailyquaily/guildmind/store"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app holds every component a command may need, built from viper config.
type app struct {
	log         *slog.Logger
	db          *gorm.DB
	store       *store.GormStore
	retry       store.RetryConfig
	metrics     *metrics.Collector
	memory      *memory.Service
	personality *personality.Resolver
	emoji       *emoji.Manager
	composer    *composer.Composer
}

func newApp(ctx context.Context) (*app, error) {
	log := slog.Default()

	gdb, err := db.Open(ctx, dbConfigFromViper())
	if err != nil {
		return nil, err
	}
	st := store.NewGormStore(gdb)
	mc := metrics.New()

	reg := personality.Builtin()
	if path := strings.TrimSpace(viper.GetString("personality.file")); path != "" {
		reg, err = personality.LoadRegistryFile(path)
		if err != nil {
			_ = db.Close(gdb)
			return nil, err
		}
	}

	client, err := llmClientFromViper()
	if err != nil {
		_ = db.Close(gdb)
		return nil, err
	}
	var describer emoji.Describer
	if client != nil {
		describer = client
	} else {
		log.Info("llm_disabled", "reason", "no api key or provider off")
	}

	mgr, err := emoji.NewManager(st, describer, emojiConfigFromViper(), log.With("component", "emoji"))
	if err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("emoji manager: %w", err)
	}
	mgr.Metrics = mc

	mem := memory.NewService(st, memoryConfigFromViper(), log.With("component", "memory"))
	mem.Metrics = mc
	mem.Redactor = redactorFromViper()
	if client != nil && viper.GetBool("memory.extract_facts") {
		mem.Extractor = &memory.FactExtractor{Client: client, Model: client.Model}
	}

	res := personality.NewResolver(st, reg, log.With("component", "personality"))

	comp := composer.New(mem, res, mgr, composerConfigFromViper(), log.With("component", "composer"))
	comp.Metrics = mc

	return &app{
		log:         log,
		db:          gdb,
		store:       st,
		retry:       retryConfigFromViper(),
		metrics:     mc,
		memory:      mem,
		personality: res,
		emoji:       mgr,
		composer:    comp,
	}, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	a.emoji.Close()
	if err := db.Close(a.db); err != nil {
		a.log.Warn("db_close_failed", "error", err.Error())
	}
}

// withApp builds the app for one command run and closes it afterwards.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// retryDo runs op with the configured backoff for transient store errors.
func retryDo[T any](ctx context.Context, a *app, op func() (T, error)) (T, error) {
	return store.Retry(ctx, a.retry, op)
}

func retryErr(ctx context.Context, a *app, op func() error) error {
	return store.RetryErr(ctx, a.retry, op)
}

package main

import (
	"log/slog"

	"github.com/quailyquaily/guildmind/composer"
	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/redact"
	"github.com/quailyquaily/guildmind/memory"
	"github.com/spf13/viper"
)

func memoryConfigFromViper() memory.Config {
	cfg := memory.DefaultConfig()
	if n := viper.GetInt("memory.history_limit"); n > 0 {
		cfg.HistoryLimit = min(n, memory.HistoryLimit)
	}
	if n := viper.GetInt("memory.max_content_bytes"); n > 0 {
		cfg.MaxContentBytes = n
	}
	return cfg
}

func redactorFromViper() *redact.Redactor {
	if !viper.GetBool("memory.redact.enabled") {
		return nil
	}
	log := slog.Default().With("component", "redact")
	var patterns []redact.Pattern
	if err := viper.UnmarshalKey("memory.redact.patterns", &patterns); err != nil {
		log.Warn("redact_patterns_invalid", "error", err.Error())
	}
	return redact.New(patterns, log)
}

func emojiConfigFromViper() emoji.Config {
	cfg := emoji.DefaultConfig()
	if d := viper.GetDuration("emoji.analysis_timeout"); d > 0 {
		cfg.AnalysisTimeout = d
	}
	if d := viper.GetDuration("emoji.refresh_interval"); d > 0 {
		cfg.RefreshInterval = d
	}
	if n := viper.GetInt("emoji.refresh_concurrency"); n > 0 {
		cfg.RefreshConcurrency = n
	}
	cfg.UpgradeFallbacks = viper.GetBool("emoji.upgrade_fallbacks")
	cfg.PruneRemoved = viper.GetBool("emoji.prune_removed")
	if n := viper.GetInt64("emoji.hot_cache_max_items"); n > 0 {
		cfg.HotCacheMaxItems = n
	}
	if n := viper.GetUint32("emoji.breaker.max_requests"); n > 0 {
		cfg.Breaker.MaxRequests = n
	}
	if d := viper.GetDuration("emoji.breaker.interval"); d > 0 {
		cfg.Breaker.Interval = d
	}
	if d := viper.GetDuration("emoji.breaker.timeout"); d > 0 {
		cfg.Breaker.Timeout = d
	}
	if n := viper.GetUint32("emoji.breaker.consecutive_failures"); n > 0 {
		cfg.Breaker.ConsecutiveFailures = n
	}
	return cfg
}

func composerConfigFromViper() composer.Config {
	cfg := composer.DefaultConfig()
	if n := viper.GetInt("composer.max_chars"); n > 0 {
		cfg.MaxChars = n
	}
	if n := viper.GetInt("composer.max_emoji"); n > 0 {
		cfg.MaxEmoji = n
	}
	if n := viper.GetInt("composer.emoji_concurrency"); n > 0 {
		cfg.EmojiConcurrency = n
	}
	return cfg
}

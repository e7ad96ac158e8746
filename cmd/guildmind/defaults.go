package main

import (
	"time"

	"github.com/quailyquaily/guildmind/vision"
	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.automigrate", true)
	viper.SetDefault("db.pool.max_open_conns", 1)
	viper.SetDefault("db.pool.max_idle_conns", 1)
	viper.SetDefault("db.pool.conn_max_lifetime", time.Duration(0))
	viper.SetDefault("db.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("db.sqlite.wal", true)
	viper.SetDefault("db.sqlite.foreign_keys", false)

	viper.SetDefault("retry.max_tries", 4)
	viper.SetDefault("retry.initial_interval", 100*time.Millisecond)
	viper.SetDefault("retry.max_interval", 2*time.Second)
	viper.SetDefault("retry.max_elapsed", 10*time.Second)

	viper.SetDefault("memory.history_limit", 20)
	viper.SetDefault("memory.max_content_bytes", 4000)
	viper.SetDefault("memory.extract_facts", false)
	viper.SetDefault("memory.redact.enabled", true)
	viper.SetDefault("memory.redact.patterns", []map[string]string{})

	viper.SetDefault("personality.file", "")

	viper.SetDefault("emoji.analysis_timeout", 30*time.Second)
	viper.SetDefault("emoji.refresh_interval", 30*time.Minute)
	viper.SetDefault("emoji.refresh_concurrency", 4)
	viper.SetDefault("emoji.upgrade_fallbacks", false)
	viper.SetDefault("emoji.prune_removed", true)
	viper.SetDefault("emoji.hot_cache_max_items", 10000)
	viper.SetDefault("emoji.breaker.max_requests", 1)
	viper.SetDefault("emoji.breaker.interval", time.Minute)
	viper.SetDefault("emoji.breaker.timeout", time.Minute)
	viper.SetDefault("emoji.breaker.consecutive_failures", 5)
	viper.SetDefault("emoji.inventory_file", "")
	viper.SetDefault("emoji.cdn_base", "https://cdn.discordapp.com/emojis")
	viper.SetDefault("emoji.max_image_bytes", int64(1<<20))
	viper.SetDefault("emoji.allowed_url_prefixes", vision.DefaultAllowedPrefixes)
	viper.SetDefault("emoji.allow_private_urls", false)

	viper.SetDefault("composer.max_chars", 6000)
	viper.SetDefault("composer.max_emoji", 20)
	viper.SetDefault("composer.emoji_concurrency", 8)

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.endpoint", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "claude-3-5-haiku-latest")
	viper.SetDefault("llm.vision_model", "")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("llm.timeout", 60*time.Second)

	viper.SetDefault("metrics.addr", "")
}

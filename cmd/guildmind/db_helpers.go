package main

import (
	"github.com/quailyquaily/guildmind/db"
	"github.com/quailyquaily/guildmind/store"
	"github.com/spf13/viper"
)

func dbConfigFromViper() db.Config {
	cfg := db.DefaultConfig()

	cfg.Driver = viper.GetString("db.driver")
	cfg.DSN = viper.GetString("db.dsn")
	cfg.AutoMigrate = viper.GetBool("db.automigrate")

	cfg.Pool.MaxOpenConns = viper.GetInt("db.pool.max_open_conns")
	cfg.Pool.MaxIdleConns = viper.GetInt("db.pool.max_idle_conns")
	cfg.Pool.ConnMaxLifetime = max(viper.GetDuration("db.pool.conn_max_lifetime"), 0)

	cfg.SQLite.BusyTimeoutMs = viper.GetInt("db.sqlite.busy_timeout_ms")
	cfg.SQLite.WAL = viper.GetBool("db.sqlite.wal")
	cfg.SQLite.ForeignKeys = viper.GetBool("db.sqlite.foreign_keys")

	// SQLite serializes writers; more than one open conn only adds lock churn.
	if cfg.Pool.MaxOpenConns <= 0 {
		cfg.Pool.MaxOpenConns = 1
	}
	if cfg.Pool.MaxIdleConns <= 0 {
		cfg.Pool.MaxIdleConns = 1
	}
	if cfg.SQLite.BusyTimeoutMs <= 0 {
		cfg.SQLite.BusyTimeoutMs = 5000
	}
	return cfg
}

func retryConfigFromViper() store.RetryConfig {
	cfg := store.DefaultRetryConfig()
	if n := viper.GetInt("retry.max_tries"); n > 0 {
		cfg.MaxTries = uint(n)
	}
	if d := viper.GetDuration("retry.initial_interval"); d > 0 {
		cfg.InitialInterval = d
	}
	if d := viper.GetDuration("retry.max_interval"); d > 0 {
		cfg.MaxInterval = d
	}
	if d := viper.GetDuration("retry.max_elapsed"); d > 0 {
		cfg.MaxElapsed = d
	}
	return cfg
}

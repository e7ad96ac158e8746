package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        4,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
	}
}

// Retry runs op until it succeeds, fails with an error other than
// ErrUnavailable, or the retry budget runs out.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(cfg.MaxTries))
	}
	if cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsed))
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsUnavailable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}

// RetryErr is Retry for operations without a result.
func RetryErr(ctx context.Context, cfg RetryConfig, op func() error) error {
	_, err := Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

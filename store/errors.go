package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a transient persistence failure. Callers may retry.
	ErrUnavailable = errors.New("storage unavailable")
	ErrInvalidKey  = errors.New("invalid record key")
)

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IsUnavailable reports whether err is a transient storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

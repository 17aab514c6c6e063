package config

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPath   = errors.New("config path escapes the alternates directory")
	ErrNoData        = errors.New("no character_config data")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrLoad          = errors.New("failed to load configuration")
)

// Error reports a failed configuration switch. Err wraps one of the
// sentinel errors above.
type Error struct {
	Selector string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("switch config %q: %v", e.Selector, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

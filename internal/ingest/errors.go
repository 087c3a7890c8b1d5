package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrTooLarge     = errors.New("package exceeds maximum size")
	ErrFeedDisabled = errors.New("feed is disabled")
	ErrNotFound     = errors.New("package version not found")
)

// Error records which archive failed and at what step.
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(path, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Path: path, Op: op, Err: err}
}

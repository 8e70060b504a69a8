package source

import (
	"errors"
	"fmt"
)

var ErrSourceUnreadable = errors.New("source unreadable")

// UnreadableError reports a missing or corrupt input. Offset is the record
// being read when the failure happened, or -1 when the file never opened.
type UnreadableError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *UnreadableError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("source unreadable: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("source unreadable: %s at record %d: %v", e.Path, e.Offset, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

func (e *UnreadableError) Is(target error) bool { return target == ErrSourceUnreadable }

func Unreadable(path string, offset int64, err error) error {
	return &UnreadableError{Path: path, Offset: offset, Err: err}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrParse             = errors.New("container parse error")
	ErrChapterFetch      = errors.New("chapter fetch error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ClientError is a cause whose text is safe to return to API callers.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

// ClientMessage returns the caller-safe text carried in err's chain, if any.
func ClientMessage(err error) (string, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Message, true
	}
	return "", false
}

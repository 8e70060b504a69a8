package sink

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindRejected    Kind = "rejected"
	KindAuth        Kind = "auth"
	KindTooLarge    Kind = "too_large"
	KindConfig      Kind = "config"
)

// DeliveryError classifies a failed send. Retryable errors are transient
// (timeouts, leader moves, unreachable brokers); everything else stops the
// pipeline.
type DeliveryError struct {
	Kind      Kind
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	class := "fatal"
	if e.Retryable {
		class = "retryable"
	}
	return fmt.Sprintf("%s delivery error (%s): %v", class, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func Retryable(kind Kind, err error) error {
	return &DeliveryError{Kind: kind, Retryable: true, Err: err}
}

func Fatal(kind Kind, err error) error {
	return &DeliveryError{Kind: kind, Err: err}
}

// IsRetryable reports whether err may succeed on another attempt. Errors a
// driver did not classify count as transient; cancellation never does.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

func IsFatal(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && !de.Retryable
}

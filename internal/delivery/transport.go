// Package delivery dispatches due queue items: it applies enablement and
// dedupe policy, invokes the push transport, transitions items to their
// terminal state and re-arms recurring ones.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Transport sends one push message to a device token. Implementations
// return the provider's delivery id on success.
type Transport interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

// SendError is a typed transport failure.
type SendError struct {
	// Code is a short provider-agnostic classification.
	Code string
	// InvalidToken marks the token as permanently unusable; the caller
	// evicts it so later sends fail fast instead of re-hitting the
	// provider.
	InvalidToken bool
	// RetryAfterMs is an optional backoff hint for transient failures.
	RetryAfterMs int64

	Err error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("send failed (%s)", e.Code)
}

func (e *SendError) Unwrap() error { return e.Err }

// AsSendError extracts a SendError from an error chain, wrapping unknown
// errors as a generic transport failure.
func AsSendError(err error) *SendError {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	return &SendError{Code: "transport_error", Err: err}
}

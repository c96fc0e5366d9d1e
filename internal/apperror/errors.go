// Package apperror defines the error kinds shared by the platform client,
// the cycle store and the reconciliation drivers.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable means the commerce platform could not be reached
	// (transport failure, timeout, non-2xx status).
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrSourceProtocol means the platform answered with an error payload or
	// a body that could not be decoded.
	ErrSourceProtocol = errors.New("source protocol error")
	// ErrUpdateRejected means the platform refused a write with field-level
	// user errors.
	ErrUpdateRejected = errors.New("update rejected")
	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrSyncInProgress    = errors.New("subscription sync already in progress")
	ErrOrderNotInHistory = errors.New("order not found in customer order history")
	ErrNoSession         = errors.New("no offline session")
	ErrNoCustomer        = errors.New("order has no customer")
)

type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// UserErrors is the list of field-level errors returned by a mutation.
type UserErrors []UserError

func (u UserErrors) Error() string {
	if len(u) == 0 {
		return ErrUpdateRejected.Error()
	}
	if len(u) == 1 {
		return u[0].Message
	}
	msgs := make([]string, len(u))
	for i, e := range u {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

func (u UserErrors) Unwrap() error {
	return ErrUpdateRejected
}

// Store wraps a persistence error so callers can match ErrStoreUnavailable.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Retryable reports whether a failed order may be retried once within a run.
func Retryable(err error) bool {
	if errors.Is(err, ErrUpdateRejected) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrSourceProtocol)
}

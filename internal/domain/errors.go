package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrOrderRejected     = errors.New("order rejected")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// BrokerError carries the venue's answer; it unwraps to one of the sentinels above.
type BrokerError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *BrokerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker: %v (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker: %v: %s", e.Kind, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Kind
}

package models

import (
	"errors"
	"strconv"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrAttemptNotFound     = errors.New("delivery attempt not found")
	ErrRetryNotAllowed     = errors.New("retry not allowed")
)

// ConfigurationError rejects an integration definition or an unknown
// destination kind. It is returned synchronously and never recorded as a
// delivery attempt.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error: " + e.Field + ": " + e.Reason
}

type RetryNotAllowedError struct {
	AttemptID string
	Reason    string
}

func (e *RetryNotAllowedError) Error() string {
	return "retry not allowed for " + e.AttemptID + ": " + e.Reason
}

func (e *RetryNotAllowedError) Is(target error) bool {
	return target == ErrRetryNotAllowed
}

func quote(s string) string { return strconv.Quote(s) }

// Package catalog implements the GraphQL client for the external Catalog
// server plus the entity cache in front of its listing queries.
package catalog

import (
	"errors"
	"fmt"
)

// Client error kinds. Transient kinds (connection, rate-limited, server
// 5xx) are retried with backoff before surfacing; the rest surface
// immediately.
var (
	// ErrConnection covers network-level failures and timeouts.
	ErrConnection = errors.New("catalog connection error")

	// ErrAuthentication is returned on HTTP 401. Never retried.
	ErrAuthentication = errors.New("catalog authentication failed")

	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("catalog entity not found")

	// ErrValidation is returned for bad caller-supplied arguments.
	ErrValidation = errors.New("catalog validation error")

	// ErrRateLimited is returned on HTTP 429 after retries are exhausted.
	ErrRateLimited = errors.New("catalog rate limited")

	// ErrProtocol is returned when the GraphQL response violates the
	// expected shape or carries errors. Not retried.
	ErrProtocol = errors.New("catalog graphql protocol error")
)

// GraphQLError is one entry of a GraphQL response "errors" array.
type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

func (e *GraphQLError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("graphql error at %v: %s", e.Path, e.Message)
	}
	return "graphql error: " + e.Message
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrProtocol):
		return false
	}
	return true
}

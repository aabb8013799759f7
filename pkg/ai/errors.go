// Package ai implements the completion-service client used by the
// AI-backed detectors: prompt templating, structured JSON output, batch
// scene analysis, and cumulative cost accounting.
package ai

import "errors"

var (
	// ErrProtocol is returned when the service response violates the
	// expected shape, including structured output that fails to parse.
	// Not retried at this layer.
	ErrProtocol = errors.New("ai protocol error")

	// ErrConnection covers network-level failures and timeouts.
	ErrConnection = errors.New("ai connection error")
)

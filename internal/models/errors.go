package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no cached record exists. It is an expected outcome.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput rejects malformed hashes and missing identifiers.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable wraps local persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUpstreamUnavailable covers transport errors, timeouts and non-200 replies.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamBlocked means the upstream answered with an anti-bot challenge page.
	ErrUpstreamBlocked = errors.New("upstream blocked")

	// ErrNoResults is a well-formed upstream reply with nothing usable in it.
	ErrNoResults = errors.New("no results")
)

// ErrMalformedResponse is treated as unavailable by every caller.
var ErrMalformedResponse = fmt.Errorf("malformed upstream response: %w", ErrUpstreamUnavailable)

// UpstreamErrorKind names the upstream failure for logs and API payloads.
func UpstreamErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUpstreamBlocked):
		return "blocked"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNoResults):
		return "no_results"
	default:
		return "error"
	}
}

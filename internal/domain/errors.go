package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientCredits indicates the user's available balance cannot cover the amount.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidSessionState indicates a transition on a missing or terminal session.
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrSessionNotFound is an ErrInvalidSessionState for unknown session ids.
	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrInvalidSessionState)

	// ErrSessionExists indicates a session id was reused.
	ErrSessionExists = errors.New("session already exists")

	// ErrModelNotSupported indicates no provider strategy matches the model id.
	ErrModelNotSupported = errors.New("model not supported")

	// ErrProviderError indicates an upstream failure.
	ErrProviderError = errors.New("provider error")

	// ErrMalformedChunk is a ProviderError for chunks that cannot be parsed.
	ErrMalformedChunk = fmt.Errorf("%w: malformed chunk", ErrProviderError)

	// ErrStreamTimeout indicates the hard wall-clock limit was exceeded.
	ErrStreamTimeout = errors.New("stream timeout")

	// ErrPricingNotFound indicates no rate is registered for a model.
	ErrPricingNotFound = errors.New("pricing not found")
)

// ErrorCode maps pipeline errors to the code carried on error frames.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStreamTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedChunk):
		return "malformed_chunk"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrModelNotSupported):
		return "model_not_supported"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrInvalidSessionState):
		return "invalid_session_state"
	case errors.Is(err, ErrSessionExists):
		return "session_exists"
	default:
		return "internal_error"
	}
}

// ErrorFromCode is the inverse of ErrorCode for sentinel errors that cross process boundaries.
func ErrorFromCode(code string) error {
	switch code {
	case "timeout":
		return ErrStreamTimeout
	case "malformed_chunk":
		return ErrMalformedChunk
	case "provider_error":
		return ErrProviderError
	case "insufficient_credits":
		return ErrInsufficientCredits
	case "model_not_supported":
		return ErrModelNotSupported
	case "session_not_found":
		return ErrSessionNotFound
	case "invalid_session_state":
		return ErrInvalidSessionState
	case "session_exists":
		return ErrSessionExists
	default:
		return nil
	}
}

package domain

import (
	"context"
	"time"
)

// Provider represents any streaming LLM provider.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FormatRequest translates the conversation into the provider wire payload.
	FormatRequest(req *CompletionRequest) ([]byte, error)

	// ParseChunk extracts the text delta from one raw upstream chunk.
	ParseChunk(raw []byte) (StreamChunk, error)

	// Stream opens the upstream call and returns a stream of parsed chunks.
	// The channel is closed after a Done chunk or a chunk carrying Error.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)
}

// ProviderRegistry resolves providers by model id pattern.
type ProviderRegistry interface {
	// Register appends a strategy entry; entries are matched in registration order.
	Register(ctx context.Context, pattern string, provider Provider) error

	// Resolve returns the first provider whose pattern matches the model id.
	Resolve(ctx context.Context, model string) (Provider, error)

	// List returns the registered provider names in match order.
	List(ctx context.Context) ([]string, error)
}

// Ledger owns per-user credit allocations.
type Ledger interface {
	// Balance sums remaining credits across unexpired allocations.
	Balance(ctx context.Context, userID string) (float64, error)

	// CheckSufficient reports whether the balance covers required.
	CheckSufficient(ctx context.Context, userID string, required float64) (bool, error)

	// Allocate grants a fresh allocation.
	Allocate(ctx context.Context, req AllocationRequest) (*CreditAllocation, error)

	// Deduct draws amount across allocations atomically.
	Deduct(ctx context.Context, userID string, amount float64) error

	// Refund mints a new allocation of amount.
	Refund(ctx context.Context, userID string, amount float64, expiryDays int, notes string) (*CreditAllocation, error)

	// RecordUsage persists a billed usage event.
	RecordUsage(ctx context.Context, event *UsageEvent) error
}

// SessionStore persists streaming sessions.
type SessionStore interface {
	// Create inserts a new session, failing with ErrSessionExists on id reuse.
	Create(ctx context.Context, session *StreamingSession) error

	// Get loads a session, failing with ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*StreamingSession, error)

	// Transition applies a terminal write only if the session is still active.
	Transition(ctx context.Context, t SessionTransition) error

	// ListActive returns active sessions started before the cutoff.
	ListActive(ctx context.Context, startedBefore time.Time) ([]*StreamingSession, error)

	// ClearRefund marks the refund of a terminal session as paid.
	ClearRefund(ctx context.Context, sessionID string) error

	// ListRefundDue returns terminal sessions whose refund is still owed.
	ListRefundDue(ctx context.Context) ([]*StreamingSession, error)
}

// SessionService is the streaming session state machine consumed by the pipeline.
type SessionService interface {
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error)
	Abort(ctx context.Context, req AbortRequest) (*AbortResult, error)
	RecordUsage(ctx context.Context, event *UsageEvent) error
}

// TokenEstimator estimates prompt tokens ahead of a stream.
type TokenEstimator interface {
	Count(model, text string) int
}

// Broadcaster fans one session's events out to observers.
type Broadcaster interface {
	// Open registers a live stream and returns its publisher.
	Open(sessionID string) Publisher
}

// Publisher receives normalized events for one session in order.
type Publisher interface {
	Publish(event StreamEvent)

	// Close marks the stream finished and starts the grace period.
	Close()
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

package domain

import "time"

// CompletionRequest represents a unified chat completion request.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// StreamChunk is one parsed upstream delta.
type StreamChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
	Error error  `json:"-"`
}

// EventType names a normalized stream frame.
type EventType string

const (
	EventChunk        EventType = "chunk"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventObserver     EventType = "observer"
	EventHistoryStart EventType = "history-start"
	EventHistoryEnd   EventType = "history-end"
)

// StreamEvent is the normalized frame delivered to clients and observers.
type StreamEvent struct {
	Type        EventType `json:"type"`
	Text        string    `json:"text,omitempty"`
	Tokens      int       `json:"tokens"`
	TotalTokens int       `json:"totalTokens,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`

	// Error frames.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	// Complete and error frames, set when reconciliation succeeded.
	Credits *CreditSummary `json:"credits,omitempty"`

	// Observer framing.
	ObserverID string `json:"observerId,omitempty"`
	Status     string `json:"status,omitempty"`
	Count      int    `json:"count,omitempty"`
}

// Terminal reports whether no further events follow on this stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// CreditSummary reports the reconciliation outcome attached to terminal frames.
type CreditSummary struct {
	Allocated float64 `json:"allocated"`
	Used      float64 `json:"used"`
	Refund    float64 `json:"refund"`
}

// StreamResult is the outcome of a finished pipeline run.
type StreamResult struct {
	SessionID   string
	Text        string
	TotalTokens int
	Status      SessionStatus
	Err         error
	FinishedAt  time.Time
}

package domain

// InitializeRequest opens a streaming session.
type InitializeRequest struct {
	UserID          string `json:"userId"`
	SessionID       string `json:"sessionId"`
	ModelID         string `json:"modelId"`
	EstimatedTokens int    `json:"estimatedTokens"`
}

// InitializeResult is the escrow granted to a new session.
type InitializeResult struct {
	SessionID        string        `json:"sessionId"`
	AllocatedCredits float64       `json:"allocatedCredits"`
	Status           SessionStatus `json:"status"`
}

// FinalizeRequest reconciles a finished stream.
type FinalizeRequest struct {
	SessionID    string `json:"sessionId"`
	ActualTokens int    `json:"actualTokens"`
	Success      bool   `json:"success"`
}

// FinalizeResult reports the reconciled charge.
type FinalizeResult struct {
	SessionID     string        `json:"sessionId"`
	ActualCredits float64       `json:"actualCredits"`
	Refund        float64       `json:"refund"`
	Status        SessionStatus `json:"status,omitempty"`
}

// AbortRequest reconciles an interrupted stream.
type AbortRequest struct {
	SessionID       string `json:"sessionId"`
	TokensGenerated int    `json:"tokensGenerated"`
}

// AbortResult reports the partial charge.
type AbortResult struct {
	SessionID      string  `json:"sessionId"`
	PartialCredits float64 `json:"partialCredits"`
	Refund         float64 `json:"refund"`
}

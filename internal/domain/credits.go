package domain

import (
	"math"
	"time"
)

const (
	// DefaultExpiryDays applies when an allocation does not specify an expiry.
	DefaultExpiryDays = 30

	// SystemRefundAllocator marks allocations minted by refunds.
	SystemRefundAllocator = "system:refund"

	creditPrecision = 1e6
	creditEpsilon   = 1e-9
)

// CreditAllocation is a time-bounded, partially consumable grant of credits.
type CreditAllocation struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"userId"`
	TotalCredits     float64   `json:"totalCredits"`
	RemainingCredits float64   `json:"remainingCredits"`
	AllocatedBy      string    `json:"allocatedBy"`
	AllocatedAt      time.Time `json:"allocatedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Notes            string    `json:"notes,omitempty"`
}

// Spendable reports whether the allocation can still be drawn from at now.
func (a *CreditAllocation) Spendable(now time.Time) bool {
	return a.RemainingCredits > creditEpsilon && a.ExpiresAt.After(now)
}

// AllocationRequest carries the inputs of Ledger.Allocate.
type AllocationRequest struct {
	UserID      string  `json:"userId"`
	Credits     float64 `json:"credits"`
	AllocatedBy string  `json:"allocatedBy"`
	ExpiryDays  int     `json:"expiryDays,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// NewAllocation builds a fresh allocation with remaining == total.
func NewAllocation(req AllocationRequest, now time.Time) *CreditAllocation {
	days := req.ExpiryDays
	if days <= 0 {
		days = DefaultExpiryDays
	}
	credits := RoundCredits(req.Credits)
	return &CreditAllocation{
		UserID:           req.UserID,
		TotalCredits:     credits,
		RemainingCredits: credits,
		AllocatedBy:      req.AllocatedBy,
		AllocatedAt:      now,
		ExpiresAt:        now.AddDate(0, 0, days),
		Notes:            req.Notes,
	}
}

// Draw is one allocation's share of a deduction.
type Draw struct {
	AllocationID int64
	Amount       float64
	Remaining    float64
}

// PlanDeduction spreads amount across spendable allocations, soonest expiry first.
// It returns ErrInsufficientCredits without a partial plan when the aggregate is short.
// allocations must be sorted by ExpiresAt then ID.
func PlanDeduction(allocations []*CreditAllocation, amount float64, now time.Time) ([]Draw, error) {
	if amount <= 0 {
		return nil, nil
	}

	available := 0.0
	for _, a := range allocations {
		if a.Spendable(now) {
			available += a.RemainingCredits
		}
	}
	if !CoversAmount(available, amount) {
		return nil, ErrInsufficientCredits
	}

	draws := make([]Draw, 0, len(allocations))
	left := amount
	for _, a := range allocations {
		if left <= creditEpsilon {
			break
		}
		if !a.Spendable(now) {
			continue
		}
		take := math.Min(a.RemainingCredits, left)
		left = RoundCredits(left - take)
		draws = append(draws, Draw{
			AllocationID: a.ID,
			Amount:       take,
			Remaining:    RoundCredits(a.RemainingCredits - take),
		})
	}
	return draws, nil
}

// SumSpendable totals the remaining credits of unexpired allocations.
func SumSpendable(allocations []*CreditAllocation, now time.Time) float64 {
	total := 0.0
	for _, a := range allocations {
		if a.Spendable(now) {
			total += a.RemainingCredits
		}
	}
	return RoundCredits(total)
}

// CoversAmount compares balances with a tolerance for float drift.
func CoversAmount(available, required float64) bool {
	return available+creditEpsilon >= required
}

// RoundCredits truncates float noise to micro-credit precision.
func RoundCredits(v float64) float64 {
	return math.Round(v*creditPrecision) / creditPrecision
}

// UsageEvent is a billed operation recorded after reconciliation.
type UsageEvent struct {
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Credits   float64        `json:"credits"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SessionStatus is the lifecycle state of a streaming session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionActive       SessionStatus = "active"
	SessionCompleted    SessionStatus = "completed"
	SessionAborted      SessionStatus = "aborted"
	SessionFailed       SessionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionAborted, SessionFailed:
		return true
	default:
		return false
	}
}

// StreamingSession is the credit escrow of one streaming exchange.
type StreamingSession struct {
	SessionID        string        `json:"sessionId"`
	UserID           string        `json:"userId"`
	ModelID          string        `json:"modelId"`
	EstimatedTokens  int           `json:"estimatedTokens"`
	AllocatedCredits float64       `json:"allocatedCredits"`
	UsedCredits      float64       `json:"usedCredits"`
	Status           SessionStatus `json:"status"`
	StartedAt        time.Time     `json:"startedAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`

	// RefundDue is a refund the ledger has not yet minted.
	RefundDue float64 `json:"refundDue,omitempty"`
}

// SessionTransition is the single terminal write applied to an active session.
type SessionTransition struct {
	SessionID        string
	To               SessionStatus
	AllocatedCredits float64
	UsedCredits      float64
	CompletedAt      time.Time

	// RefundDue is recorded with the transition and cleared once paid.
	RefundDue float64
}

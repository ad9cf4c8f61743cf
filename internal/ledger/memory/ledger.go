// Package memory provides process-local ledger and session store backends.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/lockmap"
)

// Ledger keeps allocations in memory, serializing mutation per user.
type Ledger struct {
	mu          sync.RWMutex
	allocations map[string][]*domain.CreditAllocation
	usage       []*domain.UsageEvent
	nextID      int64
	users       *lockmap.Map
	now         func() time.Time
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return NewLedgerWithClock(time.Now)
}

// NewLedgerWithClock creates an in-memory ledger reading time from now.
func NewLedgerWithClock(now func() time.Time) *Ledger {
	return &Ledger{
		mu:          sync.RWMutex{},
		allocations: make(map[string][]*domain.CreditAllocation),
		users:       lockmap.New(),
		now:         now,
	}
}

// Balance sums remaining credits of unexpired allocations.
func (l *Ledger) Balance(_ context.Context, userID string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.SumSpendable(l.allocations[userID], l.now()), nil
}

// CheckSufficient reports whether the balance covers required.
func (l *Ledger) CheckSufficient(ctx context.Context, userID string, required float64) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return domain.CoversAmount(balance, required), nil
}

// Allocate grants a fresh allocation.
func (l *Ledger) Allocate(_ context.Context, req domain.AllocationRequest) (*domain.CreditAllocation, error) {
	if req.UserID == "" {
		return nil, errors.New("user id cannot be empty")
	}
	if req.Credits <= 0 {
		return nil, errors.New("credits must be positive")
	}

	unlock := l.users.Lock(req.UserID)
	defer unlock()

	allocation := domain.NewAllocation(req, l.now())

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	allocation.ID = l.nextID
	l.allocations[req.UserID] = append(l.allocations[req.UserID], allocation)
	sortAllocations(l.allocations[req.UserID])

	copied := *allocation
	return &copied, nil
}

// Deduct draws amount across allocations, soonest expiry first, all or nothing.
func (l *Ledger) Deduct(_ context.Context, userID string, amount float64) error {
	if amount < 0 {
		return errors.New("amount cannot be negative")
	}

	unlock := l.users.Lock(userID)
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	allocations := l.allocations[userID]
	draws, err := domain.PlanDeduction(allocations, amount, l.now())
	if err != nil {
		return err
	}

	byID := make(map[int64]*domain.CreditAllocation, len(allocations))
	for _, a := range allocations {
		byID[a.ID] = a
	}
	for _, d := range draws {
		byID[d.AllocationID].RemainingCredits = d.Remaining
	}
	return nil
}

// Refund mints a new allocation for amount.
func (l *Ledger) Refund(
	ctx context.Context,
	userID string,
	amount float64,
	expiryDays int,
	notes string,
) (*domain.CreditAllocation, error) {
	return l.Allocate(ctx, domain.AllocationRequest{
		UserID:      userID,
		Credits:     amount,
		AllocatedBy: domain.SystemRefundAllocator,
		ExpiryDays:  expiryDays,
		Notes:       notes,
	})
}

// RecordUsage appends a usage event.
func (l *Ledger) RecordUsage(_ context.Context, event *domain.UsageEvent) error {
	if event == nil {
		return errors.New("usage event cannot be nil")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *event
	l.usage = append(l.usage, &copied)
	return nil
}

// Allocations returns copies of a user's allocations in draw order.
func (l *Ledger) Allocations(_ context.Context, userID string) ([]*domain.CreditAllocation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.CreditAllocation, 0, len(l.allocations[userID]))
	for _, a := range l.allocations[userID] {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

// Usage returns the recorded usage events.
func (l *Ledger) Usage() []*domain.UsageEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*domain.UsageEvent, len(l.usage))
	copy(out, l.usage)
	return out
}

func sortAllocations(allocations []*domain.CreditAllocation) {
	sort.SliceStable(allocations, func(i, j int) bool {
		if allocations[i].ExpiresAt.Equal(allocations[j].ExpiresAt) {
			return allocations[i].ID < allocations[j].ID
		}
		return allocations[i].ExpiresAt.Before(allocations[j].ExpiresAt)
	})
}

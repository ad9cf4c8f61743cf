package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/memory"
)

func TestLedger_AllocateAndBalance(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	ledger := memory.NewLedgerWithClock(func() time.Time { return clock })

	_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 10, AllocatedBy: "admin"})
	require.NoError(t, err)
	_, err = ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 5, AllocatedBy: "admin", ExpiryDays: 1})
	require.NoError(t, err)

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 15.0, balance, 1e-9)

	t.Run("expired allocations are excluded", func(t *testing.T) {
		clock = now.Add(48 * time.Hour)
		t.Cleanup(func() { clock = now })

		balance, err := ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		require.InDelta(t, 10.0, balance, 1e-9)
	})

	t.Run("default expiry is thirty days", func(t *testing.T) {
		allocations, err := ledger.Allocations(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, allocations, 2)
		require.Equal(t, now.AddDate(0, 0, 1), allocations[0].ExpiresAt)
		require.Equal(t, now.AddDate(0, 0, 30), allocations[1].ExpiresAt)
	})

	t.Run("rejects non-positive credits", func(t *testing.T) {
		_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 0})
		require.Error(t, err)
	})
}

func TestLedger_Deduct(t *testing.T) {
	ctx := context.Background()

	t.Run("spans allocations soonest expiry first", func(t *testing.T) {
		ledger := memory.NewLedger()
		_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 3, ExpiryDays: 60})
		require.NoError(t, err)
		_, err = ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 2, ExpiryDays: 5})
		require.NoError(t, err)

		require.NoError(t, ledger.Deduct(ctx, "u1", 4))

		allocations, err := ledger.Allocations(ctx, "u1")
		require.NoError(t, err)
		require.InDelta(t, 0.0, allocations[0].RemainingCredits, 1e-9)
		require.InDelta(t, 1.0, allocations[1].RemainingCredits, 1e-9)
	})

	t.Run("insufficient aggregate leaves allocations untouched", func(t *testing.T) {
		ledger := memory.NewLedger()
		_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 3})
		require.NoError(t, err)
		_, err = ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 2})
		require.NoError(t, err)

		err = ledger.Deduct(ctx, "u1", 6)
		require.ErrorIs(t, err, domain.ErrInsufficientCredits)

		balance, err := ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		require.InDelta(t, 5.0, balance, 1e-9)
	})

	t.Run("concurrent deductions never overspend", func(t *testing.T) {
		ledger := memory.NewLedger()
		_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 10})
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ledger.Deduct(ctx, "u1", 1) == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 10, succeeded)
		balance, err := ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		require.InDelta(t, 0.0, balance, 1e-9)
	})
}

func TestLedger_Refund(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()

	allocation, err := ledger.Refund(ctx, "u1", 2.5, 0, "refund for streaming session s-1")
	require.NoError(t, err)
	require.Equal(t, domain.SystemRefundAllocator, allocation.AllocatedBy)
	require.InDelta(t, 2.5, allocation.TotalCredits, 1e-9)
	require.InDelta(t, 2.5, allocation.RemainingCredits, 1e-9)

	ok, err := ledger.CheckSufficient(ctx, "u1", 2.5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ledger.CheckSufficient(ctx, "u1", 2.6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	started := time.Now().Add(-time.Hour)

	session := &domain.StreamingSession{
		SessionID:        "s-1",
		UserID:           "u1",
		ModelID:          "gpt-4o",
		AllocatedCredits: 4,
		Status:           domain.SessionActive,
		StartedAt:        started,
	}
	require.NoError(t, store.Create(ctx, session))
	require.ErrorIs(t, store.Create(ctx, session), domain.ErrSessionExists)

	active, err := store.ListActive(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)

	err = store.Transition(ctx, domain.SessionTransition{
		SessionID:        "s-1",
		To:               domain.SessionCompleted,
		AllocatedCredits: 4,
		UsedCredits:      1,
		CompletedAt:      time.Now(),
	})
	require.NoError(t, err)

	err = store.Transition(ctx, domain.SessionTransition{SessionID: "s-1", To: domain.SessionAborted})
	require.ErrorIs(t, err, domain.ErrInvalidSessionState)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.ErrorIs(t, err, domain.ErrInvalidSessionState)

	loaded, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)

	active, err = store.ListActive(ctx, time.Now())
	require.NoError(t, err)
	require.Empty(t, active)
}

package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/memory"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/ledger/redisstore"
)

func setup(t *testing.T, opts redisstore.Options) (*miniredis.Miniredis, *redisstore.SessionStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redisstore.NewSessionStore(client, opts)
}

func session(id string, startedAt time.Time) *domain.StreamingSession {
	return &domain.StreamingSession{
		SessionID:        id,
		UserID:           "u1",
		ModelID:          "gpt-4o",
		EstimatedTokens:  4000,
		AllocatedCredits: 4.25,
		Status:           domain.SessionActive,
		StartedAt:        startedAt,
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	mr, store := setup(t, redisstore.Options{})
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, session("s-1", started)))
	require.ErrorIs(t, store.Create(ctx, session("s-1", started)), domain.ErrSessionExists)

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, 4000, got.EstimatedTokens)
	require.InDelta(t, 4.25, got.AllocatedCredits, 1e-9)
	require.Equal(t, domain.SessionActive, got.Status)
	require.True(t, got.StartedAt.Equal(started))
	require.Nil(t, got.CompletedAt)

	require.Equal(t, "active", mr.HGet("stream_session:s-1", "status"))
	members, err := mr.ZMembers("stream_sessions:active")
	require.NoError(t, err)
	require.Equal(t, []string{"s-1"}, members)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_Transition(t *testing.T) {
	ctx := context.Background()
	mr, store := setup(t, redisstore.Options{RetainCompleted: time.Hour})
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(time.Minute)

	require.NoError(t, store.Create(ctx, session("s-1", started)))
	require.NoError(t, store.Transition(ctx, domain.SessionTransition{
		SessionID: "s-1", To: domain.SessionCompleted, AllocatedCredits: 4.25, UsedCredits: 1.5, CompletedAt: done,
	}))

	err := store.Transition(ctx, domain.SessionTransition{SessionID: "s-1", To: domain.SessionAborted, CompletedAt: done})
	require.ErrorIs(t, err, domain.ErrInvalidSessionState)
	require.Contains(t, err.Error(), "completed")

	err = store.Transition(ctx, domain.SessionTransition{SessionID: "missing", To: domain.SessionAborted, CompletedAt: done})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionCompleted, got.Status)
	require.InDelta(t, 1.5, got.UsedCredits, 1e-9)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.CompletedAt.Equal(done))

	members, _ := mr.ZMembers("stream_sessions:active")
	require.NotContains(t, members, "s-1")
	require.Equal(t, time.Hour, mr.TTL("stream_session:s-1"))

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "s-1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionStore_RefundDue(t *testing.T) {
	ctx := context.Background()
	mr, store := setup(t, redisstore.Options{RetainCompleted: time.Hour})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, session("s-due", base)))
	require.NoError(t, store.Create(ctx, session("s-paid", base.Add(time.Minute))))
	require.NoError(t, store.Transition(ctx, domain.SessionTransition{
		SessionID: "s-due", To: domain.SessionCompleted, AllocatedCredits: 4.25, UsedCredits: 1.25,
		CompletedAt: base.Add(2 * time.Minute), RefundDue: 3,
	}))
	require.NoError(t, store.Transition(ctx, domain.SessionTransition{
		SessionID: "s-paid", To: domain.SessionCompleted, AllocatedCredits: 4.25, UsedCredits: 4.25,
		CompletedAt: base.Add(2 * time.Minute),
	}))

	require.Zero(t, mr.TTL("stream_session:s-due"))
	require.Equal(t, time.Hour, mr.TTL("stream_session:s-paid"))

	due, err := store.ListRefundDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "s-due", due[0].SessionID)
	require.InDelta(t, 3.0, due[0].RefundDue, 1e-9)

	require.NoError(t, store.ClearRefund(ctx, "s-due"))
	require.Equal(t, time.Hour, mr.TTL("stream_session:s-due"))

	due, err = store.ListRefundDue(ctx)
	require.NoError(t, err)
	require.Empty(t, due)

	got, err := store.Get(ctx, "s-due")
	require.NoError(t, err)
	require.Zero(t, got.RefundDue)

	require.ErrorIs(t, store.ClearRefund(ctx, "missing"), domain.ErrSessionNotFound)
}

func TestSessionStore_ListActive(t *testing.T) {
	ctx := context.Background()
	mr, store := setup(t, redisstore.Options{})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, session("s-new", base.Add(10*time.Minute))))
	require.NoError(t, store.Create(ctx, session("s-old", base)))
	require.NoError(t, store.Create(ctx, session("s-mid", base.Add(5*time.Minute))))
	require.NoError(t, store.Transition(ctx, domain.SessionTransition{
		SessionID: "s-mid", To: domain.SessionAborted, CompletedAt: base.Add(6 * time.Minute),
	}))

	active, err := store.ListActive(ctx, base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "s-old", active[0].SessionID)
	require.Equal(t, "s-new", active[1].SessionID)

	active, err = store.ListActive(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)

	t.Run("dangling index entries are dropped", func(t *testing.T) {
		mr.Del("stream_session:s-old")

		active, err := store.ListActive(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "s-new", active[0].SessionID)

		members, err := mr.ZMembers("stream_sessions:active")
		require.NoError(t, err)
		require.Equal(t, []string{"s-new"}, members)
	})
}

func TestSessionManager_OnRedis(t *testing.T) {
	ctx := context.Background()
	_, store := setup(t, redisstore.Options{})

	ledger := memory.NewLedger()
	_, err := ledger.Allocate(ctx, domain.AllocationRequest{UserID: "u1", Credits: 10, AllocatedBy: "admin"})
	require.NoError(t, err)

	manager := domain.NewSessionManager(
		ledger,
		store,
		domain.NewStandardCostCalculator(domain.NewInMemoryPricingRegistry(), 1),
		nil,
		domain.SessionManagerOptions{},
	)

	_, err = manager.Initialize(ctx, domain.InitializeRequest{
		UserID: "u1", SessionID: "s-1", ModelID: "m", EstimatedTokens: 4000,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.Abort(ctx, domain.AbortRequest{SessionID: "s-1", TokensGenerated: 500}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	require.InDelta(t, 9.5, balance, 1e-9)
}

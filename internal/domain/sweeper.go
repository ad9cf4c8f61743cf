package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/metrics"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// SessionSweeper aborts sessions left active past their maximum age, which
// happens when a process dies between stream end and reconciliation. Each
// sweep also pays refunds left due by ledger failures.
type SessionSweeper struct {
	store    SessionStore
	sessions *SessionManager
	maxAge   time.Duration
	now      func() time.Time
}

// ErrSweepAgeTooShort rejects a sweep age that could abort live streams.
var ErrSweepAgeTooShort = errors.New("session max age must exceed the stream lifetime")

// NewSessionSweeper creates a sweeper for sessions older than maxAge.
// streamLifetime is the longest a healthy stream keeps its session active;
// maxAge must be larger so the sweeper only ever sees abandoned sessions.
func NewSessionSweeper(
	store SessionStore,
	sessions *SessionManager,
	maxAge time.Duration,
	streamLifetime time.Duration,
) (*SessionSweeper, error) {
	if maxAge <= 0 || maxAge <= streamLifetime {
		return nil, fmt.Errorf("%w: max age %s, stream lifetime %s", ErrSweepAgeTooShort, maxAge, streamLifetime)
	}

	return &SessionSweeper{
		store:    store,
		sessions: sessions,
		maxAge:   maxAge,
		now:      sessions.opts.Now,
	}, nil
}

// Sweep aborts every stale active session once and returns how many it settled.
func (s *SessionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	stale, err := s.store.ListActive(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	logger := observability.FromContext(ctx)
	swept := 0
	for _, session := range stale {
		_, abortErr := s.sessions.Abort(ctx, AbortRequest{SessionID: session.SessionID, TokensGenerated: 0})
		if abortErr != nil {
			// Racing with a late finalize is expected.
			if !errors.Is(abortErr, ErrInvalidSessionState) {
				logger.Error("failed to sweep session",
					observability.String("session_id", session.SessionID),
					observability.Error(abortErr),
				)
			}
			continue
		}
		swept++
	}

	if swept > 0 {
		metrics.SweptSessions.Add(float64(swept))
		logger.Info("swept stale sessions", observability.Int("count", swept))
	}

	if _, err := s.sessions.SettleRefunds(ctx); err != nil {
		return swept, err
	}
	return swept, nil
}

// Run sweeps on every interval tick until ctx is done.
func (s *SessionSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				observability.FromContext(ctx).Error("session sweep failed", observability.Error(err))
			}
		}
	}
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

// SessionStore keeps streaming sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.StreamingSession
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		mu:       sync.RWMutex{},
		sessions: make(map[string]*domain.StreamingSession),
	}
}

// Create inserts a new session.
func (s *SessionStore) Create(_ context.Context, session *domain.StreamingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return domain.ErrSessionExists
	}

	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

// Get loads a session copy.
func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

// Transition applies a terminal write to an active session.
func (s *SessionStore) Transition(_ context.Context, t domain.SessionTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[t.SessionID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionActive {
		return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidSessionState, t.SessionID, session.Status)
	}

	completedAt := t.CompletedAt
	session.Status = t.To
	session.AllocatedCredits = t.AllocatedCredits
	session.UsedCredits = t.UsedCredits
	session.CompletedAt = &completedAt
	session.RefundDue = t.RefundDue
	return nil
}

// ClearRefund marks a session's refund as paid.
func (s *SessionStore) ClearRefund(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	session.RefundDue = 0
	return nil
}

// ListRefundDue returns terminal sessions with an unpaid refund, oldest first.
func (s *SessionStore) ListRefundDue(_ context.Context) ([]*domain.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.StreamingSession, 0)
	for _, session := range s.sessions {
		if session.Status.Terminal() && session.RefundDue > 0 {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ListActive returns active sessions started before the cutoff, oldest first.
func (s *SessionStore) ListActive(_ context.Context, startedBefore time.Time) ([]*domain.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.StreamingSession, 0)
	for _, session := range s.sessions {
		if session.Status == domain.SessionActive && session.StartedAt.Before(startedBefore) {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

const sessionColumns = `session_id, user_id, model_id, estimated_tokens, allocated_credits, used_credits, status, started_at, completed_at, refund_due`

// SessionStore implements domain.SessionStore on the streaming_sessions table.
type SessionStore struct {
	store *Store
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, session *domain.StreamingSession) error {
	var completedAt sql.NullInt64
	if session.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: toMillis(*session.CompletedAt), Valid: true}
	}

	_, err := s.store.db.ExecContext(ctx,
		`INSERT INTO streaming_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		session.UserID,
		session.ModelID,
		session.EstimatedTokens,
		session.AllocatedCredits,
		session.UsedCredits,
		string(session.Status),
		toMillis(session.StartedAt),
		completedAt,
		session.RefundDue,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get loads one session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.StreamingSession, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM streaming_sessions WHERE session_id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Transition applies a terminal write only while the row is still active.
func (s *SessionStore) Transition(ctx context.Context, t domain.SessionTransition) error {
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE streaming_sessions
		 SET status = ?, allocated_credits = ?, used_credits = ?, completed_at = ?, refund_due = ?
		 WHERE session_id = ? AND status = ?`,
		string(t.To), t.AllocatedCredits, t.UsedCredits, toMillis(t.CompletedAt), t.RefundDue,
		t.SessionID, string(domain.SessionActive),
	)
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition session: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, t.SessionID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidSessionState, t.SessionID, current.Status)
}

// ListActive returns active sessions started before the cutoff, oldest first.
func (s *SessionStore) ListActive(ctx context.Context, startedBefore time.Time) ([]*domain.StreamingSession, error) {
	return s.list(ctx,
		`SELECT `+sessionColumns+` FROM streaming_sessions
		 WHERE status = ? AND started_at < ? ORDER BY started_at, session_id`,
		string(domain.SessionActive), toMillis(startedBefore),
	)
}

// ClearRefund marks a session's refund as paid.
func (s *SessionStore) ClearRefund(ctx context.Context, sessionID string) error {
	if _, err := s.store.db.ExecContext(ctx,
		`UPDATE streaming_sessions SET refund_due = 0 WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("clear session refund: %w", err)
	}
	return nil
}

// ListRefundDue returns terminal sessions with an unpaid refund, oldest first.
func (s *SessionStore) ListRefundDue(ctx context.Context) ([]*domain.StreamingSession, error) {
	return s.list(ctx,
		`SELECT `+sessionColumns+` FROM streaming_sessions
		 WHERE status <> ? AND refund_due > 0 ORDER BY started_at, session_id`,
		string(domain.SessionActive),
	)
}

func (s *SessionStore) list(ctx context.Context, query string, args ...any) ([]*domain.StreamingSession, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.StreamingSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.StreamingSession, error) {
	var (
		session     domain.StreamingSession
		status      string
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&session.SessionID,
		&session.UserID,
		&session.ModelID,
		&session.EstimatedTokens,
		&session.AllocatedCredits,
		&session.UsedCredits,
		&status,
		&startedAt,
		&completedAt,
		&session.RefundDue,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	session.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		session.CompletedAt = &t
	}
	return &session, nil
}

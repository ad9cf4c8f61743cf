package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
)

// spendableEpsilon matches the in-memory tolerance for spent allocations.
const spendableEpsilon = 1e-9

const (
	allocationInsertColumns = `user_id, total_credits, remaining_credits, allocated_by, allocated_at, expires_at, notes`
	allocationColumns       = `id, ` + allocationInsertColumns
)

// Ledger implements domain.Ledger on SQL tables.
type Ledger struct {
	store *Store
}

// Balance sums remaining credits of unexpired allocations.
func (l *Ledger) Balance(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := l.store.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(remaining_credits), 0) FROM credit_allocations
		 WHERE user_id = ? AND remaining_credits > ? AND expires_at > ?`,
		userID, spendableEpsilon, toMillis(l.store.now()),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return domain.RoundCredits(total), nil
}

// CheckSufficient reports whether the balance covers required.
func (l *Ledger) CheckSufficient(ctx context.Context, userID string, required float64) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return domain.CoversAmount(balance, required), nil
}

// Allocate inserts a fresh allocation.
func (l *Ledger) Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.CreditAllocation, error) {
	if req.UserID == "" {
		return nil, errors.New("user id cannot be empty")
	}
	if req.Credits <= 0 {
		return nil, errors.New("credits must be positive")
	}

	allocation := domain.NewAllocation(req, l.store.now())
	res, err := l.store.db.ExecContext(ctx,
		`INSERT INTO credit_allocations (`+allocationInsertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		allocation.UserID,
		allocation.TotalCredits,
		allocation.RemainingCredits,
		allocation.AllocatedBy,
		toMillis(allocation.AllocatedAt),
		toMillis(allocation.ExpiresAt),
		allocation.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("insert allocation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read allocation id: %w", err)
	}
	allocation.ID = id
	return allocation, nil
}

// Deduct draws amount across allocations in one transaction, soonest expiry first.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return errors.New("amount cannot be negative")
	}
	if amount == 0 {
		return nil
	}

	unlock := l.store.users.Lock(userID)
	defer unlock()

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deduction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := l.store.now()
	allocations, err := queryAllocations(ctx, tx,
		`SELECT `+allocationColumns+` FROM credit_allocations
		 WHERE user_id = ? AND remaining_credits > ? AND expires_at > ?
		 ORDER BY expires_at, id`+l.store.forUpdate(),
		userID, spendableEpsilon, toMillis(now),
	)
	if err != nil {
		return err
	}

	draws, err := domain.PlanDeduction(allocations, amount, now)
	if err != nil {
		return err
	}

	for _, d := range draws {
		if _, err := tx.ExecContext(ctx,
			`UPDATE credit_allocations SET remaining_credits = ? WHERE id = ?`,
			d.Remaining, d.AllocationID,
		); err != nil {
			return fmt.Errorf("update allocation %d: %w", d.AllocationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deduction: %w", err)
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

// RecordUsage inserts a usage event with JSON metadata.
func (l *Ledger) RecordUsage(ctx context.Context, event *domain.UsageEvent) error {
	if event == nil {
		return errors.New("usage event cannot be nil")
	}

	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = l.store.now()
	}

	_, err := l.store.db.ExecContext(ctx,
		`INSERT INTO usage_events (user_id, session_id, service, operation, credits, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.UserID, event.SessionID, event.Service, event.Operation, event.Credits, string(metadata), toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Allocations returns every allocation of a user in draw order, spent and expired included.
func (l *Ledger) Allocations(ctx context.Context, userID string) ([]*domain.CreditAllocation, error) {
	return queryAllocations(ctx, l.store.db,
		`SELECT `+allocationColumns+` FROM credit_allocations WHERE user_id = ? ORDER BY expires_at, id`,
		userID,
	)
}

// Usage returns a user's usage events, newest first.
func (l *Ledger) Usage(ctx context.Context, userID string, limit int) ([]*domain.UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := l.store.db.QueryContext(ctx,
		`SELECT user_id, session_id, service, operation, credits, metadata, created_at
		 FROM usage_events WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []*domain.UsageEvent
	for rows.Next() {
		var (
			e        domain.UsageEvent
			metadata string
			created  int64
		)
		if err := rows.Scan(&e.UserID, &e.SessionID, &e.Service, &e.Operation, &e.Credits, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryAllocations(ctx context.Context, q querier, query string, args ...any) ([]*domain.CreditAllocation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.CreditAllocation, 0)
	for rows.Next() {
		var (
			a                    domain.CreditAllocation
			allocated, expiresAt int64
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.TotalCredits, &a.RemainingCredits,
			&a.AllocatedBy, &allocated, &expiresAt, &a.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.AllocatedAt = fromMillis(allocated)
		a.ExpiresAt = fromMillis(expiresAt)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}
	return out, nil
}

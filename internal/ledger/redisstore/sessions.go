// Package redisstore keeps streaming sessions in Redis so several gateway
// replicas share one state machine.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	defaultPrefix       = "stream_session:"
	defaultActiveKey    = "stream_sessions:active"
	defaultRefundDueKey = "stream_sessions:refund_due"
)

// createScript inserts the hash and indexes it in the active set unless the key exists.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1],
	"session_id", ARGV[1],
	"user_id", ARGV[2],
	"model_id", ARGV[3],
	"estimated_tokens", ARGV[4],
	"allocated_credits", ARGV[5],
	"used_credits", ARGV[6],
	"status", ARGV[7],
	"started_at", ARGV[8])
if ARGV[7] == "active" then
	redis.call("ZADD", KEYS[2], ARGV[8], ARGV[1])
end
return 1
`)

// transitionScript applies a terminal write only while status is active. A
// session with a refund due is indexed and kept until the refund is cleared.
var transitionScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	return "not_found"
end
if status ~= "active" then
	return status
end
redis.call("HSET", KEYS[1],
	"status", ARGV[2],
	"allocated_credits", ARGV[3],
	"used_credits", ARGV[4],
	"completed_at", ARGV[5],
	"refund_due", ARGV[7])
redis.call("ZREM", KEYS[2], ARGV[1])
if tonumber(ARGV[7]) > 0 then
	redis.call("SADD", KEYS[3], ARGV[1])
	return "ok"
end
local ttl = tonumber(ARGV[6])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return "ok"
`)

// clearRefundScript zeroes the refund due and applies the retention TTL.
var clearRefundScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
	redis.call("SREM", KEYS[2], ARGV[1])
	return "not_found"
end
redis.call("HSET", KEYS[1], "refund_due", "0")
redis.call("SREM", KEYS[2], ARGV[1])
local ttl = tonumber(ARGV[2])
if status ~= "active" and ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return "ok"
`)

// Options configures a SessionStore.
type Options struct {
	// Prefix namespaces session hashes.
	Prefix string

	// ActiveKey is the sorted set indexing active sessions.
	ActiveKey string

	// RefundDueKey is the set of terminal sessions with an unpaid refund.
	RefundDueKey string

	// RetainCompleted expires terminal sessions after this long; zero keeps them.
	RetainCompleted time.Duration
}

// SessionStore implements domain.SessionStore with one hash per session and
// a sorted set of active session ids scored by start time.
type SessionStore struct {
	client redis.UniversalClient
	opts   Options
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, opts Options) *SessionStore {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.ActiveKey == "" {
		opts.ActiveKey = defaultActiveKey
	}
	if opts.RefundDueKey == "" {
		opts.RefundDueKey = defaultRefundDueKey
	}
	return &SessionStore{client: client, opts: opts}
}

func (s *SessionStore) key(sessionID string) string {
	return s.opts.Prefix + sessionID
}

func (s *SessionStore) activeKey() string {
	return s.opts.ActiveKey
}

// Create inserts a new session.
func (s *SessionStore) Create(ctx context.Context, session *domain.StreamingSession) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{s.key(session.SessionID), s.activeKey()},
		session.SessionID,
		session.UserID,
		session.ModelID,
		session.EstimatedTokens,
		formatFloat(session.AllocatedCredits),
		formatFloat(session.UsedCredits),
		string(session.Status),
		session.StartedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if created == 0 {
		return domain.ErrSessionExists
	}
	return nil
}

// Get loads one session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.StreamingSession, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(fields)
}

// Transition applies a terminal write to an active session.
func (s *SessionStore) Transition(ctx context.Context, t domain.SessionTransition) error {
	result, err := transitionScript.Run(ctx, s.client,
		[]string{s.key(t.SessionID), s.activeKey(), s.opts.RefundDueKey},
		t.SessionID,
		string(t.To),
		formatFloat(t.AllocatedCredits),
		formatFloat(t.UsedCredits),
		t.CompletedAt.UnixMilli(),
		s.opts.RetainCompleted.Milliseconds(),
		formatFloat(t.RefundDue),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to transition session: %w", err)
	}
	switch result {
	case "ok":
		return nil
	case "not_found":
		return domain.ErrSessionNotFound
	default:
		return fmt.Errorf("%w: session %s is %s", domain.ErrInvalidSessionState, t.SessionID, result)
	}
}

// ListActive returns active sessions started before the cutoff, oldest first.
func (s *SessionStore) ListActive(ctx context.Context, startedBefore time.Time) ([]*domain.StreamingSession, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(startedBefore.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.StreamingSession{}, nil
	}

	sessions, err := s.load(ctx, ids, func(id string) {
		s.client.ZRem(ctx, s.activeKey(), id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	out := make([]*domain.StreamingSession, 0, len(sessions))
	for _, session := range sessions {
		if session.Status == domain.SessionActive {
			out = append(out, session)
		}
	}
	return out, nil
}

// ClearRefund marks a session's refund as paid.
func (s *SessionStore) ClearRefund(ctx context.Context, sessionID string) error {
	result, err := clearRefundScript.Run(ctx, s.client,
		[]string{s.key(sessionID), s.opts.RefundDueKey},
		sessionID,
		s.opts.RetainCompleted.Milliseconds(),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to clear session refund: %w", err)
	}
	if result == "not_found" {
		return domain.ErrSessionNotFound
	}
	return nil
}

// ListRefundDue returns terminal sessions with an unpaid refund, oldest first.
func (s *SessionStore) ListRefundDue(ctx context.Context) ([]*domain.StreamingSession, error) {
	ids, err := s.client.SMembers(ctx, s.opts.RefundDueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due refunds: %w", err)
	}

	sessions, err := s.load(ctx, ids, func(id string) {
		s.client.SRem(ctx, s.opts.RefundDueKey, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load due refunds: %w", err)
	}

	out := make([]*domain.StreamingSession, 0, len(sessions))
	for _, session := range sessions {
		if session.Status.Terminal() && session.RefundDue > 0 {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// load fetches the hashes of ids in one round trip, in order. Ids whose hash
// is gone are passed to drop.
func (s *SessionStore) load(ctx context.Context, ids []string, drop func(id string)) ([]*domain.StreamingSession, error) {
	if len(ids) == 0 {
		return []*domain.StreamingSession{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.StreamingSession, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry outlived its hash.
			observability.FromContext(ctx).Warn("dropping dangling session index entry",
				observability.String("session_id", ids[i]))
			drop(ids[i])
			continue
		}
		session, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func decodeSession(fields map[string]string) (*domain.StreamingSession, error) {
	var errs []error
	parseInt := func(name string) int64 {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return v
	}
	parseFloat := func(name string) float64 {
		v, err := strconv.ParseFloat(fields[name], 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return v
	}

	session := &domain.StreamingSession{
		SessionID:        fields["session_id"],
		UserID:           fields["user_id"],
		ModelID:          fields["model_id"],
		EstimatedTokens:  int(parseInt("estimated_tokens")),
		AllocatedCredits: parseFloat("allocated_credits"),
		UsedCredits:      parseFloat("used_credits"),
		Status:           domain.SessionStatus(fields["status"]),
		StartedAt:        time.UnixMilli(parseInt("started_at")).UTC(),
	}
	if raw, ok := fields["completed_at"]; ok && raw != "" {
		completed := time.UnixMilli(parseInt("completed_at")).UTC()
		session.CompletedAt = &completed
	}
	if raw, ok := fields["refund_due"]; ok && raw != "" {
		session.RefundDue = parseFloat("refund_due")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to decode session %s: %w", session.SessionID, errors.Join(errs...))
	}
	return session, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/lockmap"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/metrics"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

// SessionManagerOptions tunes reconciliation policy.
type SessionManagerOptions struct {
	// Service names the usage events recorded at finalize.
	Service string

	// ChargeOverage deducts usage beyond the escrow when the balance allows.
	ChargeOverage bool

	// RefundExpiryDays sets the lifetime of refund allocations.
	RefundExpiryDays int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// SessionManager is the streaming session state machine on top of the ledger.
type SessionManager struct {
	ledger     Ledger
	store      SessionStore
	calculator CostCalculator
	events     EventPublisher
	opts       SessionManagerOptions
	locks      *lockmap.Map
}

// NewSessionManager creates a session manager (DI constructor).
func NewSessionManager(
	ledger Ledger,
	store SessionStore,
	calculator CostCalculator,
	events EventPublisher,
	opts SessionManagerOptions,
) *SessionManager {
	if opts.Service == "" {
		opts.Service = "chat-stream"
	}
	if opts.RefundExpiryDays <= 0 {
		opts.RefundExpiryDays = DefaultExpiryDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SessionManager{
		ledger:     ledger,
		store:      store,
		calculator: calculator,
		events:     events,
		opts:       opts,
		locks:      lockmap.New(),
	}
}

// CostOf exposes the ledger rate math.
func (m *SessionManager) CostOf(ctx context.Context, model string, tokens int) (float64, error) {
	return m.calculator.CostOf(ctx, model, tokens)
}

// Initialize pre-allocates credits for a new session.
func (m *SessionManager) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if req.UserID == "" {
		return nil, errors.New("user id cannot be empty")
	}
	if req.SessionID == "" {
		return nil, errors.New("session id cannot be empty")
	}
	if req.EstimatedTokens < 0 {
		return nil, fmt.Errorf("negative estimated tokens: %d", req.EstimatedTokens)
	}

	ctx = observability.WithSessionID(ctx, req.SessionID)
	ctx = observability.WithUserID(ctx, req.UserID)
	logger := observability.FromContext(ctx)

	required, err := m.calculator.CostOf(ctx, req.ModelID, req.EstimatedTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to price session: %w", err)
	}

	unlock := m.locks.Lock(req.SessionID)
	defer unlock()

	if _, getErr := m.store.Get(ctx, req.SessionID); getErr == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(getErr, ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to load session: %w", getErr)
	}

	ok, err := m.ledger.CheckSufficient(ctx, req.UserID, required)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}
	if !ok {
		metrics.InsufficientCredits.WithLabelValues(req.ModelID).Inc()
		logger.Info("insufficient credits for session",
			observability.Float64("required", required),
		)
		return nil, ErrInsufficientCredits
	}

	if err := m.ledger.Deduct(ctx, req.UserID, required); err != nil {
		return nil, fmt.Errorf("failed to deduct credits: %w", err)
	}

	session := &StreamingSession{
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		ModelID:          req.ModelID,
		EstimatedTokens:  req.EstimatedTokens,
		AllocatedCredits: required,
		UsedCredits:      0,
		Status:           SessionActive,
		StartedAt:        m.opts.Now(),
	}
	if err := m.store.Create(ctx, session); err != nil {
		m.compensate(ctx, req.UserID, required, req.SessionID)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues(req.ModelID).Inc()
	metrics.CreditUsage.WithLabelValues(req.ModelID, "allocated").Add(required)
	m.publish(ctx, "session.initialized", map[string]interface{}{
		"session_id":        req.SessionID,
		"model":             req.ModelID,
		"estimated_tokens":  req.EstimatedTokens,
		"allocated_credits": required,
	})

	return &InitializeResult{
		SessionID:        req.SessionID,
		AllocatedCredits: required,
		Status:           SessionActive,
	}, nil
}

// Finalize reconciles a finished stream and refunds the unused escrow.
func (m *SessionManager) Finalize(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	to := SessionCompleted
	if !req.Success {
		to = SessionFailed
	}

	outcome, err := m.settle(ctx, req.SessionID, req.ActualTokens, to)
	if err != nil {
		return nil, err
	}

	event := &UsageEvent{
		UserID:    outcome.session.UserID,
		SessionID: req.SessionID,
		Service:   m.opts.Service,
		Operation: outcome.session.ModelID,
		Credits:   outcome.used,
		Metadata: map[string]any{
			"tokens":  req.ActualTokens,
			"success": req.Success,
		},
		CreatedAt: m.opts.Now(),
	}
	if err := m.ledger.RecordUsage(ctx, event); err != nil {
		observability.FromContext(ctx).Error("failed to record usage", observability.Error(err))
	}

	return &FinalizeResult{
		SessionID:     req.SessionID,
		ActualCredits: outcome.used,
		Refund:        outcome.refund,
		Status:        to,
	}, nil
}

// Abort reconciles an interrupted stream, charging only the tokens generated.
func (m *SessionManager) Abort(ctx context.Context, req AbortRequest) (*AbortResult, error) {
	outcome, err := m.settle(ctx, req.SessionID, req.TokensGenerated, SessionAborted)
	if err != nil {
		return nil, err
	}

	return &AbortResult{
		SessionID:      req.SessionID,
		PartialCredits: outcome.used,
		Refund:         outcome.refund,
	}, nil
}

// RecordUsage persists a usage event reported by an external service.
func (m *SessionManager) RecordUsage(ctx context.Context, event *UsageEvent) error {
	if event == nil {
		return errors.New("usage event cannot be nil")
	}
	if event.Credits < 0 {
		return fmt.Errorf("negative usage credits: %f", event.Credits)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.opts.Now()
	}

	if err := m.ledger.RecordUsage(ctx, event); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Session returns the stored state of a session.
func (m *SessionManager) Session(ctx context.Context, sessionID string) (*StreamingSession, error) {
	return m.store.Get(ctx, sessionID)
}

type settlement struct {
	session *StreamingSession
	used    float64
	refund  float64
}

// settle applies the single terminal transition of a session.
func (m *SessionManager) settle(
	ctx context.Context,
	sessionID string,
	tokens int,
	to SessionStatus,
) (*settlement, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("negative token count: %d", tokens)
	}

	ctx = observability.WithSessionID(ctx, sessionID)

	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidSessionState, sessionID, session.Status)
	}

	ctx = observability.WithUserID(ctx, session.UserID)
	logger := observability.FromContext(ctx)

	cost, err := m.calculator.CostOf(ctx, session.ModelID, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to price session: %w", err)
	}

	allocated := session.AllocatedCredits
	used := cost
	if cost > allocated {
		overage := RoundCredits(cost - allocated)
		charged := m.chargeOverage(ctx, session, overage)
		allocated = RoundCredits(allocated + charged)
		used = allocated
		if uncharged := RoundCredits(overage - charged); uncharged > 0 {
			metrics.CreditUsage.WithLabelValues(session.ModelID, "uncharged_overage").Add(uncharged)
			logger.Warn("session usage exceeded escrow",
				observability.Float64("allocated", session.AllocatedCredits),
				observability.Float64("cost", cost),
				observability.Float64("uncharged", uncharged),
			)
		}
	}
	refund := RoundCredits(math.Max(0, allocated-used))

	err = m.store.Transition(ctx, SessionTransition{
		SessionID:        sessionID,
		To:               to,
		AllocatedCredits: allocated,
		UsedCredits:      used,
		CompletedAt:      m.opts.Now(),
		RefundDue:        refund,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transition session: %w", err)
	}

	if refund > 0 {
		// The refund stays recorded as due and SettleRefunds retries it.
		if err := m.payRefund(ctx, session.UserID, sessionID, refund); err != nil {
			metrics.DeferredRefunds.WithLabelValues("deferred").Inc()
			logger.Error("failed to refund session, refund left due",
				observability.Error(err),
				observability.Float64("refund", refund),
			)
		}
	}

	metrics.SessionsFinished.WithLabelValues(session.ModelID, string(to)).Inc()
	metrics.CreditUsage.WithLabelValues(session.ModelID, "used").Add(used)
	metrics.CreditUsage.WithLabelValues(session.ModelID, "refunded").Add(refund)
	m.publish(ctx, "session."+string(to), map[string]interface{}{
		"session_id":        sessionID,
		"model":             session.ModelID,
		"tokens":            tokens,
		"allocated_credits": allocated,
		"used_credits":      used,
		"refund":            refund,
	})

	return &settlement{session: session, used: used, refund: refund}, nil
}

// SettleRefunds pays every refund left due by a failed ledger write and
// returns how many it paid.
func (m *SessionManager) SettleRefunds(ctx context.Context) (int, error) {
	due, err := m.store.ListRefundDue(ctx)
	if err != nil {
		return 0, err
	}

	logger := observability.FromContext(ctx)
	paid := 0
	for _, candidate := range due {
		if err := m.retryRefund(ctx, candidate.SessionID); err != nil {
			logger.Error("failed to settle due refund",
				observability.String("session_id", candidate.SessionID),
				observability.Error(err),
			)
			continue
		}
		paid++
	}

	if paid > 0 {
		metrics.DeferredRefunds.WithLabelValues("settled").Add(float64(paid))
		logger.Info("settled due refunds", observability.Int("count", paid))
	}
	return paid, nil
}

func (m *SessionManager) retryRefund(ctx context.Context, sessionID string) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.RefundDue <= 0 {
		return nil
	}
	return m.payRefund(ctx, session.UserID, sessionID, session.RefundDue)
}

// payRefund mints the refund allocation and then clears the due marker.
func (m *SessionManager) payRefund(ctx context.Context, userID, sessionID string, refund float64) error {
	notes := fmt.Sprintf("refund for streaming session %s", sessionID)
	if _, err := m.ledger.Refund(ctx, userID, refund, m.opts.RefundExpiryDays, notes); err != nil {
		return fmt.Errorf("failed to refund session: %w", err)
	}
	if err := m.store.ClearRefund(ctx, sessionID); err != nil {
		return fmt.Errorf("refund paid but not cleared: %w", err)
	}
	return nil
}

// chargeOverage deducts as much of overage as the balance covers when enabled.
func (m *SessionManager) chargeOverage(ctx context.Context, session *StreamingSession, overage float64) float64 {
	if !m.opts.ChargeOverage || overage <= 0 {
		return 0
	}

	logger := observability.FromContext(ctx)
	balance, err := m.ledger.Balance(ctx, session.UserID)
	if err != nil {
		logger.Error("failed to read balance for overage", observability.Error(err))
		return 0
	}

	charge := RoundCredits(math.Min(balance, overage))
	if charge <= 0 {
		return 0
	}
	if err := m.ledger.Deduct(ctx, session.UserID, charge); err != nil {
		logger.Error("failed to charge overage", observability.Error(err), observability.Float64("overage", charge))
		return 0
	}

	metrics.CreditUsage.WithLabelValues(session.ModelID, "overage").Add(charge)
	return charge
}

// compensate returns a deduction whose session record could not be written.
func (m *SessionManager) compensate(ctx context.Context, userID string, amount float64, sessionID string) {
	notes := fmt.Sprintf("reversal for unrecorded streaming session %s", sessionID)
	if _, err := m.ledger.Refund(ctx, userID, amount, m.opts.RefundExpiryDays, notes); err != nil {
		observability.FromContext(ctx).Error("failed to reverse deduction",
			observability.Error(err),
			observability.Float64("amount", amount),
		)
	}
}

func (m *SessionManager) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, eventType, data)
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/metrics"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
)

const (
	defaultStreamTimeout = 5 * time.Minute
	defaultLedgerTimeout = 10 * time.Second
	defaultSinkBuffer    = 64
	defaultSinkStall     = 30 * time.Second
)

// PipelineOptions configures the chunk pipeline.
type PipelineOptions struct {
	// Timeout is the hard wall-clock limit of one upstream stream.
	Timeout time.Duration

	// LedgerTimeout bounds each reconciliation call made after the stream.
	LedgerTimeout time.Duration

	// SinkBuffer is the client event buffer size.
	SinkBuffer int

	// SinkStall is how long a full client buffer may block the stream before
	// the client is detached.
	SinkStall time.Duration

	Estimate EstimateOptions
}

// Lifetime is the longest a running stream holds its session active: the
// hard timeout plus the final reconciliation call.
func (o PipelineOptions) Lifetime() time.Duration {
	timeout, ledger := o.Timeout, o.LedgerTimeout
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	if ledger <= 0 {
		ledger = defaultLedgerTimeout
	}
	return timeout + ledger
}

// StartParams identifies the caller and session of one stream.
type StartParams struct {
	UserID    string
	SessionID string
	Request   *CompletionRequest
}

// Pipeline drives provider streams and their credit reconciliation.
type Pipeline struct {
	registry    ProviderRegistry
	sessions    SessionService
	estimator   TokenEstimator
	broadcaster Broadcaster
	opts        PipelineOptions
}

// NewPipeline creates a chunk pipeline (DI constructor).
func NewPipeline(
	registry ProviderRegistry,
	sessions SessionService,
	estimator TokenEstimator,
	broadcaster Broadcaster,
	opts PipelineOptions,
) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultStreamTimeout
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = defaultLedgerTimeout
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = defaultSinkBuffer
	}
	if opts.SinkStall <= 0 {
		opts.SinkStall = defaultSinkStall
	}
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}

	return &Pipeline{
		registry:    registry,
		sessions:    sessions,
		estimator:   estimator,
		broadcaster: broadcaster,
		opts:        opts,
	}
}

// Stream is one running pipeline. The upstream call continues after Detach.
type Stream struct {
	SessionID        string
	AllocatedCredits float64
	EstimatedTokens  int

	events     chan StreamEvent
	detached   chan struct{}
	detachOnce sync.Once
	done       chan struct{}
	result     StreamResult
}

// Events yields the session's frames in order and is closed after the terminal frame.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Detach stops client delivery without cancelling the upstream call.
func (s *Stream) Detach() {
	s.detachOnce.Do(func() { close(s.detached) })
}

// Done is closed once the session has been reconciled.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Result blocks until the stream has finished.
func (s *Stream) Result() StreamResult {
	<-s.done
	return s.result
}

// deliver hands event to the client without ever outliving ctx. A client
// that keeps the buffer full for longer than stall is detached. It reports
// whether this call detached the client.
func (s *Stream) deliver(ctx context.Context, event StreamEvent, stall time.Duration) bool {
	select {
	case <-s.detached:
		return false
	default:
	}

	select {
	case s.events <- event:
		return false
	default:
	}

	timer := time.NewTimer(stall)
	defer timer.Stop()

	select {
	case s.events <- event:
		return false
	case <-s.detached:
		return false
	case <-timer.C:
	case <-ctx.Done():
	}
	s.Detach()
	return true
}

// Start prices and opens a session, then streams the provider response in
// the background. Errors returned here happen before any credits move,
// except for ledger failures reported by Initialize.
func (p *Pipeline) Start(ctx context.Context, params StartParams) (*Stream, error) {
	req := params.Request
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	if params.SessionID == "" {
		return nil, errors.New("session id cannot be empty")
	}

	ctx = observability.WithModel(ctx, req.Model)
	ctx = observability.WithSessionID(ctx, params.SessionID)
	ctx = observability.WithUserID(ctx, params.UserID)

	provider, err := p.registry.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithProvider(ctx, provider.Name())

	estimated := EstimateSessionTokens(p.estimator, req, p.opts.Estimate)
	init, err := p.sessions.Initialize(ctx, InitializeRequest{
		UserID:          params.UserID,
		SessionID:       params.SessionID,
		ModelID:         req.Model,
		EstimatedTokens: estimated,
	})
	if err != nil {
		return nil, err
	}

	stream := &Stream{
		SessionID:        params.SessionID,
		AllocatedCredits: init.AllocatedCredits,
		EstimatedTokens:  estimated,
		events:           make(chan StreamEvent, p.opts.SinkBuffer),
		detached:         make(chan struct{}),
		done:             make(chan struct{}),
	}

	// The upstream call outlives the client request; only the timeout cancels it.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	publisher := p.broadcaster.Open(params.SessionID)

	observability.FromContext(ctx).Info("stream started",
		observability.Int("estimated_tokens", estimated),
		observability.Float64("allocated_credits", init.AllocatedCredits),
	)

	go p.run(runCtx, cancel, provider, req, stream, publisher)

	return stream, nil
}

type runState struct {
	text      strings.Builder
	total     int
	started   time.Time
	firstSeen bool
}

func (p *Pipeline) run(
	ctx context.Context,
	cancel context.CancelFunc,
	provider Provider,
	req *CompletionRequest,
	stream *Stream,
	publisher Publisher,
) {
	metrics.ActiveStreams.Inc()
	state := &runState{started: time.Now()}

	defer func() {
		cancel()
		publisher.Close()
		close(stream.events)
		close(stream.done)
		metrics.ActiveStreams.Dec()
	}()

	emit := func(ctx context.Context, event StreamEvent) {
		publisher.Publish(event)
		if stream.deliver(ctx, event, p.opts.SinkStall) {
			metrics.StalledClients.Inc()
			observability.FromContext(ctx).Warn("client stopped reading, detaching",
				observability.String("type", string(event.Type)),
			)
		}
	}

	chunks, err := provider.Stream(ctx, req)
	if err != nil {
		p.fail(ctx, req, stream, state, emit, p.classify(ctx, err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			p.fail(ctx, req, stream, state, emit, ErrStreamTimeout)
			return

		case chunk, ok := <-chunks:
			if !ok {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					p.fail(ctx, req, stream, state, emit, ErrStreamTimeout)
					return
				}
				p.complete(ctx, req, stream, state, emit)
				return
			}
			if chunk.Error != nil {
				p.fail(ctx, req, stream, state, emit, p.classify(ctx, chunk.Error))
				return
			}

			if chunk.Delta != "" {
				if !state.firstSeen {
					state.firstSeen = true
					metrics.TimeToFirstChunk.WithLabelValues(req.Model).Observe(time.Since(state.started).Seconds())
				}

				tokens := EstimateTokens(chunk.Delta)
				state.total += tokens
				state.text.WriteString(chunk.Delta)
				metrics.StreamTokens.WithLabelValues(req.Model).Add(float64(tokens))

				emit(ctx, StreamEvent{
					Type:        EventChunk,
					Text:        chunk.Delta,
					Tokens:      tokens,
					TotalTokens: state.total,
				})
			}

			if chunk.Done {
				p.complete(ctx, req, stream, state, emit)
				return
			}
		}
	}
}

// classify maps upstream failures to pipeline errors.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrStreamTimeout
	}
	if errors.Is(err, ErrProviderError) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProviderError, err)
}

func (p *Pipeline) complete(
	ctx context.Context,
	req *CompletionRequest,
	stream *Stream,
	state *runState,
	emit func(context.Context, StreamEvent),
) {
	logger := observability.FromContext(ctx)

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.LedgerTimeout)
	defer cancel()

	event := StreamEvent{
		Type:        EventComplete,
		Tokens:      state.total,
		TotalTokens: state.total,
		SessionID:   stream.SessionID,
	}

	res, err := p.sessions.Finalize(ledgerCtx, FinalizeRequest{
		SessionID:    stream.SessionID,
		ActualTokens: state.total,
		Success:      true,
	})
	if err != nil {
		logger.Error("failed to finalize session", observability.Error(err), observability.Int("tokens", state.total))
	} else {
		event.Credits = &CreditSummary{
			Allocated: RoundCredits(res.ActualCredits + res.Refund),
			Used:      res.ActualCredits,
			Refund:    res.Refund,
		}
	}

	emit(ledgerCtx, event)

	stream.result = StreamResult{
		SessionID:   stream.SessionID,
		Text:        state.text.String(),
		TotalTokens: state.total,
		Status:      SessionCompleted,
		FinishedAt:  time.Now(),
	}
	metrics.StreamDuration.WithLabelValues(req.Model, string(SessionCompleted)).Observe(time.Since(state.started).Seconds())
	logger.Info("stream completed", observability.Int("tokens", state.total))
}

func (p *Pipeline) fail(
	ctx context.Context,
	req *CompletionRequest,
	stream *Stream,
	state *runState,
	emit func(context.Context, StreamEvent),
	cause error,
) {
	logger := observability.FromContext(ctx)
	logger.Warn("stream failed", observability.Error(cause), observability.Int("tokens", state.total))

	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.LedgerTimeout)
	defer cancel()

	event := StreamEvent{
		Type:        EventError,
		Error:       cause.Error(),
		Code:        ErrorCode(cause),
		Tokens:      state.total,
		TotalTokens: state.total,
		SessionID:   stream.SessionID,
	}

	res, err := p.sessions.Abort(ledgerCtx, AbortRequest{
		SessionID:       stream.SessionID,
		TokensGenerated: state.total,
	})
	if err != nil {
		logger.Error("failed to abort session", observability.Error(err), observability.Int("tokens", state.total))
	} else {
		event.Credits = &CreditSummary{
			Allocated: RoundCredits(res.PartialCredits + res.Refund),
			Used:      res.PartialCredits,
			Refund:    res.Refund,
		}
	}

	emit(ledgerCtx, event)

	stream.result = StreamResult{
		SessionID:   stream.SessionID,
		Text:        state.text.String(),
		TotalTokens: state.total,
		Status:      SessionAborted,
		Err:         cause,
		FinishedAt:  time.Now(),
	}
	metrics.StreamDuration.WithLabelValues(req.Model, string(SessionAborted)).Observe(time.Since(state.started).Seconds())
}

// Package broadcast fans live session events out to observers with bounded
// history replay for late joiners.
package broadcast

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aidarkhanov/nanoid"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/metrics"
)

const (
	observerIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	observerIDLength   = 12

	defaultHistorySize = 1000
	defaultGrace       = 60 * time.Second
	defaultMailboxSize = 256
)

// Callback receives one session's events in order on the observer's own goroutine.
type Callback func(event domain.StreamEvent)

// Options configures a Manager.
type Options struct {
	HistorySize int
	Grace       time.Duration
	MailboxSize int
}

// NotActiveError is returned when observing a session that is neither live
// nor inside its grace window.
type NotActiveError struct {
	SessionID string
	Active    []string
}

func (e *NotActiveError) Error() string {
	if len(e.Active) == 0 {
		return fmt.Sprintf("session %s is not active", e.SessionID)
	}
	return fmt.Sprintf("session %s is not active (observable: %s)", e.SessionID, strings.Join(e.Active, ", "))
}

// Subscription is an attached observer.
type Subscription struct {
	ID string

	unsubscribe func()
	done        <-chan struct{}
}

// Unsubscribe detaches the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe()
}

// Done is closed after the observer's last callback returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type observer struct {
	id       string
	mailbox  chan domain.StreamEvent
	callback Callback
	done     chan struct{}
}

func (o *observer) run() {
	defer close(o.done)
	for event := range o.mailbox {
		o.callback(event)
	}
}

// Observation status carried by the history-end marker.
const (
	StatusLive  = "live"
	StatusGrace = "grace"
)

type registration struct {
	sessionID string

	mu         sync.Mutex
	history    *ring[domain.StreamEvent]
	observers  map[string]*observer
	live       bool
	expired    bool
	generation uint64
	timer      *time.Timer
}

func (r *registration) status() string {
	if r.live {
		return StatusLive
	}
	return StatusGrace
}

// Manager is the process-wide registry of observable sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*registration
	opts     Options
}

// NewManager creates a broadcast manager.
func NewManager(opts Options) *Manager {
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaultMailboxSize
	}

	return &Manager{
		mu:       sync.RWMutex{},
		sessions: make(map[string]*registration),
		opts:     opts,
	}
}

// Open registers a live stream for sessionID and returns its publisher.
// Reopening a session in its grace window cancels the pending cleanup.
func (m *Manager) Open(sessionID string) domain.Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, exists := m.sessions[sessionID]
	if !exists {
		reg = &registration{
			sessionID: sessionID,
			history:   newRing[domain.StreamEvent](m.opts.HistorySize),
			observers: make(map[string]*observer),
		}
		m.sessions[sessionID] = reg
		metrics.ObservableSessions.Set(float64(len(m.sessions)))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.timer != nil {
		reg.timer.Stop()
		reg.timer = nil
	}
	reg.live = true
	reg.generation++

	return &publisher{manager: m, reg: reg, generation: reg.generation}
}

// RegisterStream publishes every event from events in order, then starts the
// grace period once the channel is closed. It blocks until then.
func (m *Manager) RegisterStream(sessionID string, events <-chan domain.StreamEvent) {
	pub := m.Open(sessionID)
	for event := range events {
		pub.Publish(event)
	}
	pub.Close()
}

// IsObservable reports whether the session is live or inside its grace window.
func (m *Manager) IsObservable(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.sessions[sessionID]
	return exists
}

// IsLive reports whether the session is still streaming.
func (m *Manager) IsLive(sessionID string) bool {
	m.mu.RLock()
	reg, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		return false
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.live
}

// Observable returns the observable session ids, sorted.
func (m *Manager) Observable() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddObserver replays the session history between history-start and
// history-end markers and then delivers live events to callback. When the
// session is not observable the callback is never invoked and a
// *NotActiveError is returned with a no-op subscription.
func (m *Manager) AddObserver(sessionID string, callback Callback) (*Subscription, error) {
	m.mu.RLock()
	reg, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return m.notActive(sessionID)
	}

	id, err := nanoid.Generate(observerIDAlphabet, observerIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate observer id: %w", err)
	}

	reg.mu.Lock()
	if reg.expired {
		reg.mu.Unlock()
		return m.notActive(sessionID)
	}

	// Snapshot and subscribe under the same lock so no event is missed or repeated.
	history := reg.history.snapshot()
	obs := &observer{
		id:       id,
		mailbox:  make(chan domain.StreamEvent, len(history)+2+m.opts.MailboxSize),
		callback: callback,
		done:     make(chan struct{}),
	}
	obs.mailbox <- domain.StreamEvent{Type: domain.EventHistoryStart, SessionID: sessionID, Count: len(history)}
	for _, event := range history {
		obs.mailbox <- event
	}
	obs.mailbox <- domain.StreamEvent{
		Type:      domain.EventHistoryEnd,
		SessionID: sessionID,
		Count:     len(history),
		Status:    reg.status(),
	}
	reg.observers[id] = obs
	reg.mu.Unlock()

	metrics.ActiveObservers.Inc()
	go obs.run()

	return &Subscription{
		ID:          id,
		unsubscribe: func() { m.detach(reg, id) },
		done:        obs.done,
	}, nil
}

func (m *Manager) notActive(sessionID string) (*Subscription, error) {
	done := make(chan struct{})
	close(done)
	return &Subscription{unsubscribe: func() {}, done: done}, &NotActiveError{
		SessionID: sessionID,
		Active:    m.Observable(),
	}
}

// detach removes an observer and closes its mailbox; queued events still drain.
func (m *Manager) detach(reg *registration, id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m.removeLocked(reg, id)
}

func (m *Manager) removeLocked(reg *registration, id string) {
	obs, exists := reg.observers[id]
	if !exists {
		return
	}
	delete(reg.observers, id)
	close(obs.mailbox)
	metrics.ActiveObservers.Dec()
}

func (m *Manager) publish(reg *registration, generation uint64, event domain.StreamEvent) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.expired || reg.generation != generation {
		return
	}
	if event.SessionID == "" {
		event.SessionID = reg.sessionID
	}

	reg.history.push(event)
	for id, obs := range reg.observers {
		select {
		case obs.mailbox <- event:
		default:
			// Observer fell behind its mailbox.
			m.removeLocked(reg, id)
			metrics.EvictedObservers.Inc()
		}
	}

	// The terminal frame ends the live phase.
	if event.Terminal() {
		m.closeLocked(reg, generation)
	}
}

func (m *Manager) close(reg *registration, generation uint64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m.closeLocked(reg, generation)
}

func (m *Manager) closeLocked(reg *registration, generation uint64) {
	if reg.expired || reg.generation != generation || !reg.live {
		return
	}
	reg.live = false
	reg.timer = time.AfterFunc(m.opts.Grace, func() { m.expire(reg, generation) })
}

// expire drops the registration unless it was reopened.
func (m *Manager) expire(reg *registration, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.live || reg.generation != generation || reg.expired {
		return
	}

	reg.expired = true
	reg.timer = nil
	for id := range reg.observers {
		m.removeLocked(reg, id)
	}
	reg.history = newRing[domain.StreamEvent](1)
	if current, ok := m.sessions[reg.sessionID]; ok && current == reg {
		delete(m.sessions, reg.sessionID)
	}
	metrics.ObservableSessions.Set(float64(len(m.sessions)))
}

// Shutdown stops pending timers and detaches every observer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	regs := make([]*registration, 0, len(m.sessions))
	for _, reg := range m.sessions {
		regs = append(regs, reg)
	}
	m.mu.Unlock()

	for _, reg := range regs {
		reg.mu.Lock()
		if reg.timer != nil {
			reg.timer.Stop()
		}
		reg.live = false
		gen := reg.generation
		reg.mu.Unlock()
		m.expire(reg, gen)
	}
}

type publisher struct {
	manager    *Manager
	reg        *registration
	generation uint64
	closeOnce  sync.Once
}

func (p *publisher) Publish(event domain.StreamEvent) {
	p.manager.publish(p.reg, p.generation, event)
}

func (p *publisher) Close() {
	p.closeOnce.Do(func() { p.manager.close(p.reg, p.generation) })
}

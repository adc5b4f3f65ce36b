// Package tunnel drives a single tunnel engine through its connection
// lifecycle and publishes state and status changes to observers.
package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/events"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

// Event types published by a Session.
const (
	EventStateChanged  = "tunnel.state_changed"
	EventStatusUpdated = "tunnel.status_updated"
)

// SessionState is the lifecycle phase of a Session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a SessionState plus the failure reason when it is StateFailed.
type State struct {
	Current SessionState
	Reason  string
}

func (s State) String() string {
	if s.Current == StateFailed && s.Reason != "" {
		return s.Current.String() + ": " + s.Reason
	}
	return s.Current.String()
}

// Status is the engine's view of the tunnel.
type Status struct {
	Connected   bool   `json:"connected"`
	TunnelState string `json:"tunnel_state"`
	Error       string `json:"error,omitempty"`
}

// Engine is the native tunnel implementation a Session drives.
type Engine interface {
	Initialize(ctx context.Context) error
	Connect(ctx context.Context, cfg wireguard.TunnelConfig) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

// StateChangedEvent is published on every transition.
type StateChangedEvent struct {
	*events.BaseEvent
	From State
	To   State
}

// StatusUpdatedEvent is published whenever the cached status is refreshed.
type StatusUpdatedEvent struct {
	*events.BaseEvent
	Status Status
}

// Session is a state machine over one Engine. Only one transition runs at a
// time; a call that finds another transition in flight is a no-op.
type Session struct {
	engine Engine
	bus    events.EventBus
	logger *logger.Logger

	mu    sync.Mutex
	state State

	statusMu sync.RWMutex
	status   Status
}

// NewSession creates a Session in StateUninitialized. A nil bus gets a
// private gookit bus.
func NewSession(engine Engine, bus events.EventBus, log *logger.Logger) *Session {
	log = log.WithComponent("tunnel")
	if bus == nil {
		bus = events.NewGookitEventBus(events.EventBusConfig{Name: "tunnel"}, log)
	}
	return &Session{
		engine: engine,
		bus:    bus,
		logger: log,
		state:  State{Current: StateUninitialized},
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the last cached engine status.
func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Subscribe registers handler for state and status events.
func (s *Session) Subscribe(handler events.EventHandler) (events.UnsubscribeFunc, error) {
	unsubState, err := s.bus.Subscribe(EventStateChanged, handler)
	if err != nil {
		return nil, err
	}
	unsubStatus, err := s.bus.Subscribe(EventStatusUpdated, handler)
	if err != nil {
		unsubState()
		return nil, err
	}
	return func() error {
		return errors.Join(unsubState(), unsubStatus())
	}, nil
}

// Initialize prepares the engine. It runs from StateUninitialized or, to
// recover, from StateFailed; elsewhere it returns the current state.
func (s *Session) Initialize(ctx context.Context) (State, error) {
	ctx = logger.WithOperation(ctx, "tunnel.initialize")

	from, ok := s.begin(ctx, StateInitializing, StateUninitialized, StateFailed)
	if !ok {
		return from, nil
	}

	if err := s.engine.Initialize(ctx); err != nil {
		tunnelErr := apperrors.NewTunnelError(apperrors.ErrCodeEngineFailure, engineMessage(err), true, err)
		s.logger.ErrorCtx(ctx, "engine initialization failed", tunnelErr)
		return s.finish(ctx, State{Current: StateFailed, Reason: engineMessage(err)}), tunnelErr
	}

	st := s.finish(ctx, State{Current: StateReady})
	s.refresh(ctx)
	return st, nil
}

// Connect brings the tunnel up with cfg. It is a no-op while connecting or
// connected and fails with not_ready from any state but StateReady.
func (s *Session) Connect(ctx context.Context, cfg wireguard.TunnelConfig) (State, error) {
	ctx = logger.WithOperation(ctx, "tunnel.connect")

	s.mu.Lock()
	current := s.state
	switch current.Current {
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return current, nil
	case StateReady:
	default:
		s.mu.Unlock()
		return current, apperrors.NewTunnelError(apperrors.ErrCodeNotReady,
			"tunnel is "+current.String()+", not ready", false, nil)
	}
	if cfg.PrivateKey == "" || cfg.PublicKey == "" {
		s.mu.Unlock()
		return current, apperrors.NewTunnelError(apperrors.ErrCodeInvalidKeyMaterial,
			"tunnel config is missing key material", false, nil)
	}
	s.state = State{Current: StateConnecting}
	s.mu.Unlock()
	s.publishState(ctx, current, State{Current: StateConnecting})

	if err := s.engine.Connect(ctx, cfg); err != nil {
		tunnelErr, _ := mapEngineError(ctx, err, true)
		s.logger.ErrorCtx(ctx, "tunnel connect failed", tunnelErr, "endpoint", cfg.Endpoint())
		return s.finish(ctx, State{Current: StateReady}), tunnelErr
	}

	s.refresh(ctx)
	st := s.finish(ctx, State{Current: StateConnected})
	s.logger.WithContext(ctx).Info("tunnel connected", "endpoint", cfg.Endpoint())
	return st, nil
}

// Disconnect tears the tunnel down. It runs only from StateConnected; a
// failure leaves the tunnel in an unknown state and moves to StateFailed.
func (s *Session) Disconnect(ctx context.Context) (State, error) {
	ctx = logger.WithOperation(ctx, "tunnel.disconnect")

	from, ok := s.begin(ctx, StateDisconnecting, StateConnected)
	if !ok {
		return from, nil
	}

	if err := s.engine.Disconnect(ctx); err != nil {
		tunnelErr, reason := mapEngineError(ctx, err, false)
		s.logger.ErrorCtx(ctx, "tunnel disconnect failed", tunnelErr)
		return s.finish(ctx, State{Current: StateFailed, Reason: reason}), tunnelErr
	}

	st := s.finish(ctx, State{Current: StateReady})
	s.refresh(ctx)
	s.logger.WithContext(ctx).Info("tunnel disconnected")
	return st, nil
}

// UpdateStatus queries the engine and publishes the result. It never
// changes the session state and does not wait for a running transition.
func (s *Session) UpdateStatus(ctx context.Context) (Status, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		status = s.Status()
		status.Error = err.Error()
	}

	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()

	event := &StatusUpdatedEvent{
		BaseEvent: events.NewBaseEvent(EventStatusUpdated, map[string]interface{}{
			"connected":    status.Connected,
			"tunnel_state": status.TunnelState,
		}),
		Status: status,
	}
	if pubErr := s.bus.Publish(ctx, event); pubErr != nil {
		s.logger.WarnCtx(ctx, "status observer failed", pubErr)
	}

	if err != nil {
		tunnelErr, _ := mapEngineError(ctx, err, true)
		return status, tunnelErr
	}
	return status, nil
}

// begin moves to next if the current state is one of allowed.
func (s *Session) begin(ctx context.Context, next SessionState, allowed ...SessionState) (State, bool) {
	s.mu.Lock()
	from := s.state
	ok := false
	for _, a := range allowed {
		if from.Current == a {
			ok = true
			break
		}
	}
	if !ok {
		s.mu.Unlock()
		return from, false
	}
	s.state = State{Current: next}
	s.mu.Unlock()

	s.publishState(ctx, from, State{Current: next})
	return from, true
}

func (s *Session) finish(ctx context.Context, to State) State {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.publishState(ctx, from, to)
	return to
}

func (s *Session) publishState(ctx context.Context, from, to State) {
	s.logger.DebugContext(ctx, "tunnel state changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	event := &StateChangedEvent{
		BaseEvent: events.NewBaseEvent(EventStateChanged, map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}),
		From: from,
		To:   to,
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WarnCtx(ctx, "state observer failed", err)
	}
}

func (s *Session) refresh(ctx context.Context) {
	if _, err := s.UpdateStatus(ctx); err != nil {
		s.logger.WarnCtx(ctx, "status refresh failed", err)
	}
}

// mapEngineError turns an engine error into a tunnel error. Deadlines and
// timeout messages become timeout; key format complaints are normalised.
// The second result is the message used as a failure reason.
func mapEngineError(ctx context.Context, err error, retryable bool) (apperrors.DomainError, string) {
	msg := engineMessage(err)
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return apperrors.NewTunnelError(apperrors.ErrCodeTimeout, msg, retryable, err), msg
	case strings.Contains(msg, "KeyFormat"):
		msg = "invalid key format"
		return apperrors.NewTunnelError(apperrors.ErrCodeEngineFailure, msg, retryable, err), msg
	default:
		return apperrors.NewTunnelError(apperrors.ErrCodeEngineFailure, msg, retryable, err), msg
	}
}

func engineMessage(err error) string {
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "engine error"
}

package tunnel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/erebrus-connector/internal/connector/wireguard"
	apperrors "github.com/chiquitav2/erebrus-connector/pkg/errors"
	"github.com/chiquitav2/erebrus-connector/pkg/events"
	"github.com/chiquitav2/erebrus-connector/pkg/logger"
)

type fakeEngine struct {
	initErr       error
	connectErr    error
	disconnectErr error
	statusErr     error

	// connectGate, when set, blocks Connect until it is closed.
	connectGate chan struct{}
	entered     chan struct{}

	initCalls       atomic.Int32
	connectCalls    atomic.Int32
	disconnectCalls atomic.Int32
	statusCalls     atomic.Int32

	mu        sync.Mutex
	connected bool
}

func (e *fakeEngine) Initialize(ctx context.Context) error {
	e.initCalls.Add(1)
	return e.initErr
}

func (e *fakeEngine) Connect(ctx context.Context, cfg wireguard.TunnelConfig) error {
	e.connectCalls.Add(1)
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.connectGate != nil {
		<-e.connectGate
	}
	if e.connectErr != nil {
		return e.connectErr
	}
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Disconnect(ctx context.Context) error {
	e.disconnectCalls.Add(1)
	if e.disconnectErr != nil {
		return e.disconnectErr
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Status(ctx context.Context) (Status, error) {
	e.statusCalls.Add(1)
	if e.statusErr != nil {
		return Status{}, e.statusErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return Status{Connected: true, TunnelState: "up"}, nil
	}
	return Status{TunnelState: "down"}, nil
}

func validConfig() wireguard.TunnelConfig {
	return wireguard.TunnelConfig{
		PrivateKey:    "cHJpdmF0ZQ==",
		PublicKey:     "cHVibGlj",
		ServerAddress: "1.2.3.4",
		ServerPort:    wireguard.DefaultServerPort,
	}
}

func readySession(t *testing.T, engine *fakeEngine) *Session {
	t.Helper()
	s := NewSession(engine, nil, logger.NewNop())
	st, err := s.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateReady, st.Current)
	return s
}

func TestSession_InitialState(t *testing.T) {
	s := NewSession(&fakeEngine{}, nil, logger.NewNop())
	assert.Equal(t, StateUninitialized, s.State().Current)
	assert.Equal(t, "uninitialized", s.State().String())
}

func TestSession_Initialize(t *testing.T) {
	engine := &fakeEngine{}
	s := readySession(t, engine)

	assert.Equal(t, "down", s.Status().TunnelState, "status refreshed after initialize")

	st, err := s.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.Current)
	assert.Equal(t, int32(1), engine.initCalls.Load(), "initialize from Ready is a no-op")
}

func TestSession_InitializeFailureAndRecovery(t *testing.T) {
	engine := &fakeEngine{initErr: errors.New("wg-quick not found")}
	s := NewSession(engine, nil, logger.NewNop())

	st, err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeEngineFailure))
	assert.Equal(t, StateFailed, st.Current)
	assert.Equal(t, "wg-quick not found", st.Reason)
	assert.Equal(t, "failed: wg-quick not found", s.State().String())

	_, err = s.Connect(context.Background(), validConfig())
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeNotReady))

	engine.initErr = nil
	st, err = s.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.Current)
	assert.Empty(t, st.Reason)
}

func TestSession_ConnectDisconnect(t *testing.T) {
	engine := &fakeEngine{}
	s := readySession(t, engine)

	st, err := s.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, st.Current)
	assert.Equal(t, Status{Connected: true, TunnelState: "up"}, s.Status())

	st, err = s.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, st.Current)
	assert.Equal(t, int32(1), engine.connectCalls.Load())

	st, err = s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.Current)
	assert.False(t, s.Status().Connected)
}

func TestSession_ConcurrentConnectCallsEngineOnce(t *testing.T) {
	engine := &fakeEngine{
		connectGate: make(chan struct{}),
		entered:     make(chan struct{}, 1),
	}
	s := readySession(t, engine)

	done := make(chan error, 1)
	go func() {
		_, err := s.Connect(context.Background(), validConfig())
		done <- err
	}()

	select {
	case <-engine.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine connect was never called")
	}
	assert.Equal(t, StateConnecting, s.State().Current)

	st, err := s.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, st.Current)

	close(engine.connectGate)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), engine.connectCalls.Load())
	assert.Equal(t, StateConnected, s.State().Current)
}

func TestSession_ConnectRejectsMissingKeys(t *testing.T) {
	tests := map[string]func(*wireguard.TunnelConfig){
		"no private key": func(c *wireguard.TunnelConfig) { c.PrivateKey = "" },
		"no public key":  func(c *wireguard.TunnelConfig) { c.PublicKey = "" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			engine := &fakeEngine{}
			s := readySession(t, engine)

			cfg := validConfig()
			mutate(&cfg)
			st, err := s.Connect(context.Background(), cfg)

			assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeInvalidKeyMaterial))
			assert.Equal(t, StateReady, st.Current)
			assert.Equal(t, StateReady, s.State().Current)
			assert.Equal(t, int32(0), engine.connectCalls.Load())
		})
	}
}

func TestSession_ConnectBeforeInitialize(t *testing.T) {
	engine := &fakeEngine{}
	s := NewSession(engine, nil, logger.NewNop())

	st, err := s.Connect(context.Background(), validConfig())
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeNotReady))
	assert.Equal(t, StateUninitialized, st.Current)
	assert.Equal(t, int32(0), engine.connectCalls.Load())
}

func TestSession_ConnectEngineFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		msg  string
	}{
		{"generic", errors.New("interface busy"), apperrors.ErrCodeEngineFailure, "interface busy"},
		{"timeout message", errors.New("handshake timeout"), apperrors.ErrCodeTimeout, "handshake timeout"},
		{"deadline", context.DeadlineExceeded, apperrors.ErrCodeTimeout, context.DeadlineExceeded.Error()},
		{"key format", errors.New("WireGuardKeyFormatError: bad key"), apperrors.ErrCodeEngineFailure, "invalid key format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{connectErr: tt.err}
			s := readySession(t, engine)

			st, err := s.Connect(context.Background(), validConfig())
			require.Error(t, err)
			assert.True(t, apperrors.HasErrorCode(err, tt.code), "got %v", err)
			assert.True(t, apperrors.IsRetryable(err), "connect failures can be retried")
			assert.Contains(t, err.Error(), tt.msg)
			assert.Equal(t, StateReady, st.Current)

			engine.connectErr = nil
			st, err = s.Connect(context.Background(), validConfig())
			require.NoError(t, err)
			assert.Equal(t, StateConnected, st.Current)
		})
	}
}

func TestSession_DisconnectWhenNotConnectedIsNoop(t *testing.T) {
	engine := &fakeEngine{}
	s := readySession(t, engine)
	before := s.State()

	st, err := s.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, st)
	assert.Equal(t, before, s.State())
	assert.Equal(t, int32(0), engine.disconnectCalls.Load())

	fresh := NewSession(engine, nil, logger.NewNop())
	st, err = fresh.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, st.Current)
}

func TestSession_DisconnectFailure(t *testing.T) {
	engine := &fakeEngine{disconnectErr: errors.New("device not found")}
	s := readySession(t, engine)
	_, err := s.Connect(context.Background(), validConfig())
	require.NoError(t, err)

	st, err := s.Disconnect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasErrorCode(err, apperrors.ErrCodeEngineFailure))
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, StateFailed, st.Current)
	assert.Equal(t, "device not found", st.Reason)

	engine.disconnectErr = nil
	st, err = s.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, st.Current)
}

func TestSession_UpdateStatus(t *testing.T) {
	engine := &fakeEngine{}
	s := readySession(t, engine)
	before := s.State()

	engine.mu.Lock()
	engine.connected = true
	engine.mu.Unlock()

	status, err := s.UpdateStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, status, s.Status())
	assert.Equal(t, before, s.State(), "status updates never change state")

	engine.statusErr = errors.New("wgctrl: permission denied")
	status, err = s.UpdateStatus(context.Background())
	require.Error(t, err)
	assert.Equal(t, "wgctrl: permission denied", status.Error)
	assert.True(t, status.Connected, "last known flags are kept")
	assert.Equal(t, before, s.State())
}

func TestSession_Observers(t *testing.T) {
	s := NewSession(&fakeEngine{}, nil, logger.NewNop())

	var mu sync.Mutex
	var transitions []string
	var statuses []Status

	unsubscribe, err := s.Subscribe(func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		switch ev := e.(type) {
		case *StateChangedEvent:
			transitions = append(transitions, ev.From.Current.String()+">"+ev.To.Current.String())
		case *StatusUpdatedEvent:
			statuses = append(statuses, ev.Status)
		}
		return nil
	})
	require.NoError(t, err)

	_, err = s.Initialize(context.Background())
	require.NoError(t, err)
	_, err = s.Connect(context.Background(), validConfig())
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []string{
		"uninitialized>initializing",
		"initializing>ready",
		"ready>connecting",
		"connecting>connected",
	}, transitions)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[1].Connected)
	mu.Unlock()

	require.NoError(t, unsubscribe())
	_, err = s.Disconnect(context.Background())
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, transitions, 4, "no events after unsubscribe")
	mu.Unlock()
}

func TestSession_SharedBus(t *testing.T) {
	bus := events.NewGookitEventBus(events.DefaultEventBusConfig(), logger.NewNop())
	s := NewSession(&fakeEngine{}, bus, logger.NewNop())

	var got atomic.Int32
	_, err := bus.Subscribe(EventStateChanged, events.CreateTypedHandler(
		func(ctx context.Context, e *StateChangedEvent) error {
			got.Add(1)
			return nil
		}))
	require.NoError(t, err)

	_, err = s.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Load())
}

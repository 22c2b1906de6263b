package sip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LingByte/LingCall/pkg/logger"
)

// RegistrationState is the PBX registration lifecycle state.
type RegistrationState string

const (
	StateUnregistered RegistrationState = "unregistered"
	StateRegistering  RegistrationState = "registering"
	StateRegistered   RegistrationState = "registered"
	StateFailed       RegistrationState = "failed"
)

const (
	maxRegisterRetries = 3
	registerExpiry     = 120 * time.Second
)

// RegistrationStatus is a point-in-time snapshot for the status API.
type RegistrationStatus struct {
	State        RegistrationState `json:"state"`
	LocalPort    int               `json:"localPort"`
	LastRegister time.Time         `json:"lastRegister,omitempty"`
	LastError    string            `json:"lastError,omitempty"`
}

// RegistrationManager keeps the account registered against the PBX. It
// retries transient failures with jittered exponential backoff and refreshes
// the binding on a keep-alive ticker.
type RegistrationManager struct {
	transport Transport
	keepAlive time.Duration

	mu           sync.RWMutex
	state        RegistrationState
	lastErr      error
	lastRegister time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

func NewRegistrationManager(transport Transport, keepAlive time.Duration) *RegistrationManager {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &RegistrationManager{
		transport: transport,
		keepAlive: keepAlive,
		state:     StateUnregistered,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Register performs the initial registration, retrying transient errors.
// Port conflicts are not retried here; the port allocator already resolved
// the local port before the transport was built.
func (m *RegistrationManager) Register(ctx context.Context) error {
	m.setState(StateRegistering, nil)

	bo := newBackoff()
	var lastErr error
	for attempt := 1; attempt <= maxRegisterRetries; attempt++ {
		err := m.transport.Register(ctx, registerExpiry)
		if err == nil {
			m.mu.Lock()
			m.state = StateRegistered
			m.lastErr = nil
			m.lastRegister = time.Now()
			m.mu.Unlock()
			logger.Info("registered with PBX",
				zap.Int("local_port", m.transport.LocalPort()),
				zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrPortInUse) || ctx.Err() != nil {
			break
		}
		wait := bo.next()
		logger.Warn("registration attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			m.setState(StateFailed, ctx.Err())
			return ctx.Err()
		}
	}

	m.setState(StateFailed, lastErr)
	return fmt.Errorf("registration failed: %w", lastErr)
}

// StartKeepAlive launches the refresh loop. Call after a successful
// Register.
func (m *RegistrationManager) StartKeepAlive(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.keepAliveLoop(ctx)
}

func (m *RegistrationManager) keepAliveLoop(ctx context.Context) {
	defer close(m.doneCh)

	bo := newBackoff()
	timer := time.NewTimer(m.keepAlive)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if err := m.transport.Register(ctx, registerExpiry); err != nil {
				m.setState(StateFailed, err)
				wait := bo.next()
				logger.Error("keep-alive registration failed",
					zap.Duration("retry_in", wait),
					zap.Error(err))
				timer.Reset(wait)
				continue
			}
			bo.reset()
			m.mu.Lock()
			m.state = StateRegistered
			m.lastErr = nil
			m.lastRegister = time.Now()
			m.mu.Unlock()
			logger.Debug("keep-alive registration refreshed")
			timer.Reset(m.keepAlive)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the keep-alive loop and unregisters from the PBX.
func (m *RegistrationManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if started {
		close(m.stopCh)
		select {
		case <-m.doneCh:
		case <-ctx.Done():
		}
	}

	err := m.transport.Unregister(ctx)
	m.setState(StateUnregistered, nil)
	if err != nil {
		logger.Warn("unregister failed during shutdown", zap.Error(err))
		return err
	}
	logger.Info("unregistered from PBX")
	return nil
}

// Status returns a snapshot of the registration state.
func (m *RegistrationManager) Status() RegistrationStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := RegistrationStatus{
		State:        m.state,
		LocalPort:    m.transport.LocalPort(),
		LastRegister: m.lastRegister,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Registered reports whether the binding is currently active.
func (m *RegistrationManager) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateRegistered
}

func (m *RegistrationManager) setState(s RegistrationState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	m.lastErr = err
}

// backoff produces jittered exponential retry delays.
type backoff struct {
	current time.Duration
	max     time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: 500 * time.Millisecond, max: 8 * time.Second}
}

// next returns the current delay with ±20% jitter and doubles for the
// following attempt.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(rand.Int63n(int64(d)*2/5+1)) - d/5
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d + jitter
}

func (b *backoff) reset() {
	b.current = 500 * time.Millisecond
}

package sip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu          sync.Mutex
	registers   int
	unregisters int
	failFirst   int // fail this many Register calls
	failWith    error
	port        int
}

func (f *fakeTransport) Register(ctx context.Context, expiry time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	if f.registers <= f.failFirst {
		if f.failWith != nil {
			return f.failWith
		}
		return errors.New("503 service unavailable")
	}
	return nil
}

func (f *fakeTransport) Unregister(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	return nil
}

func (f *fakeTransport) LocalPort() int { return f.port }
func (f *fakeTransport) Close() error   { return nil }

func (f *fakeTransport) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers
}

func TestRegisterSuccess(t *testing.T) {
	tr := &fakeTransport{port: 5070}
	m := NewRegistrationManager(tr, time.Second)

	if err := m.Register(context.Background()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !m.Registered() {
		t.Error("Manager should report registered")
	}
	st := m.Status()
	if st.State != StateRegistered {
		t.Errorf("Expected state registered, got %s", st.State)
	}
	if st.LocalPort != 5070 {
		t.Errorf("Expected local port 5070, got %d", st.LocalPort)
	}
	if st.LastRegister.IsZero() {
		t.Error("LastRegister should be set")
	}
}

func TestRegisterRetriesTransientErrors(t *testing.T) {
	tr := &fakeTransport{failFirst: 2}
	m := NewRegistrationManager(tr, time.Second)

	if err := m.Register(context.Background()); err != nil {
		t.Fatalf("Register should succeed on third attempt: %v", err)
	}
	if tr.registerCount() != 3 {
		t.Errorf("Expected 3 register attempts, got %d", tr.registerCount())
	}
}

func TestRegisterGivesUpAfterMaxRetries(t *testing.T) {
	tr := &fakeTransport{failFirst: 100}
	m := NewRegistrationManager(tr, time.Second)

	err := m.Register(context.Background())
	if err == nil {
		t.Fatal("Expected failure")
	}
	if tr.registerCount() != maxRegisterRetries {
		t.Errorf("Expected %d attempts, got %d", maxRegisterRetries, tr.registerCount())
	}
	st := m.Status()
	if st.State != StateFailed {
		t.Errorf("Expected state failed, got %s", st.State)
	}
	if st.LastError == "" {
		t.Error("LastError should be set after failure")
	}
}

func TestRegisterDoesNotRetryPortConflict(t *testing.T) {
	tr := &fakeTransport{failFirst: 100, failWith: fmt.Errorf("bind: %w", ErrPortInUse)}
	m := NewRegistrationManager(tr, time.Second)

	err := m.Register(context.Background())
	if err == nil {
		t.Fatal("Expected failure")
	}
	if !errors.Is(err, ErrPortInUse) {
		t.Errorf("Expected port-in-use error, got %v", err)
	}
	if tr.registerCount() != 1 {
		t.Errorf("Port conflict should not be retried, got %d attempts", tr.registerCount())
	}
}

func TestKeepAliveRefreshes(t *testing.T) {
	tr := &fakeTransport{}
	m := NewRegistrationManager(tr, 20*time.Millisecond)

	if err := m.Register(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.StartKeepAlive(context.Background())

	deadline := time.After(2 * time.Second)
	for tr.registerCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Keep-alive did not refresh, %d registers", tr.registerCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if tr.unregisters != 1 {
		t.Errorf("Expected 1 unregister, got %d", tr.unregisters)
	}
	if m.Status().State != StateUnregistered {
		t.Errorf("Expected unregistered after shutdown, got %s", m.Status().State)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	bo := newBackoff()
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := bo.next()
		if d <= 0 {
			t.Fatalf("Backoff delay must be positive, got %v", d)
		}
		// cap plus jitter headroom
		if d > 8*time.Second+8*time.Second/5 {
			t.Fatalf("Backoff exceeded cap: %v", d)
		}
		if i > 0 && i < 4 && d < prev/2 {
			t.Errorf("Backoff should roughly grow, step %d: %v after %v", i, d, prev)
		}
		prev = d
	}

	bo.reset()
	d := bo.next()
	if d > time.Second {
		t.Errorf("Reset backoff should start small, got %v", d)
	}
}

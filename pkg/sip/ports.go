package sip

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"syscall"
)

// ErrPortInUse marks a bind failure caused by an occupied port, as opposed
// to a permission or interface error.
var ErrPortInUse = errors.New("port in use")

// PortExhaustionError reports that no usable local port was found.
type PortExhaustionError struct {
	Start    int
	Attempts int
}

func (e *PortExhaustionError) Error() string {
	return fmt.Sprintf("no free SIP port after %d attempts starting at %d", e.Attempts, e.Start)
}

const (
	randomPortMin    = 20000
	randomPortMax    = 60000
	randomPortProbes = 8
)

// ProbeFunc reports whether a local UDP port can be bound. It must return
// ErrPortInUse (possibly wrapped) when the port is occupied.
type ProbeFunc func(port int) error

// PortAllocator finds a free local UDP port for the SIP listener. It walks
// sequentially from a preferred start, then falls back to random probes in
// the ephemeral range.
type PortAllocator struct {
	probe ProbeFunc
}

func NewPortAllocator(opts ...PortAllocatorOption) *PortAllocator {
	a := &PortAllocator{probe: probeUDP}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type PortAllocatorOption func(*PortAllocator)

// WithProbe overrides the bind probe.
func WithProbe(p ProbeFunc) PortAllocatorOption {
	return func(a *PortAllocator) { a.probe = p }
}

// Allocate returns the first bindable port. It tries maxAttempts sequential
// ports from preferredStart, then a handful of random ports. A probe error
// that is not ErrPortInUse aborts immediately.
func (a *PortAllocator) Allocate(preferredStart, maxAttempts int) (int, error) {
	if preferredStart <= 0 || preferredStart > 65535 {
		return 0, fmt.Errorf("invalid preferred port %d", preferredStart)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	for i := 0; i < maxAttempts; i++ {
		port := preferredStart + i
		if port > 65535 {
			break
		}
		attempts++
		err := a.probe(port)
		if err == nil {
			return port, nil
		}
		if !errors.Is(err, ErrPortInUse) {
			return 0, fmt.Errorf("probe port %d: %w", port, err)
		}
	}

	for i := 0; i < randomPortProbes; i++ {
		port := randomPortMin + rand.Intn(randomPortMax-randomPortMin)
		attempts++
		err := a.probe(port)
		if err == nil {
			return port, nil
		}
		if !errors.Is(err, ErrPortInUse) {
			return 0, fmt.Errorf("probe port %d: %w", port, err)
		}
	}

	return 0, &PortExhaustionError{Start: preferredStart, Attempts: attempts}
}

// probeUDP binds and immediately releases the port.
func probeUDP(port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("udp :%d: %w", port, ErrPortInUse)
		}
		return err
	}
	return conn.Close()
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

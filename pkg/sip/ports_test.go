package sip

import (
	"errors"
	"fmt"
	"testing"
)

func TestAllocatePreferredFree(t *testing.T) {
	var probed []int
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		probed = append(probed, port)
		return nil
	}))

	port, err := alloc.Allocate(5070, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port != 5070 {
		t.Errorf("Expected port 5070, got %d", port)
	}
	if len(probed) != 1 {
		t.Errorf("Expected exactly 1 probe, got %d", len(probed))
	}
}

func TestAllocateSkipsBusyPorts(t *testing.T) {
	busy := map[int]bool{5070: true, 5071: true, 5072: true, 5073: true, 5074: true}
	var probed []int
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		probed = append(probed, port)
		if busy[port] {
			return fmt.Errorf("udp :%d: %w", port, ErrPortInUse)
		}
		return nil
	}))

	port, err := alloc.Allocate(5070, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port != 5075 {
		t.Errorf("Expected port 5075 after 5 busy ports, got %d", port)
	}
	if len(probed) != 6 {
		t.Errorf("Expected 6 probes, got %d", len(probed))
	}
}

func TestAllocateFallsBackToRandom(t *testing.T) {
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		if port >= 5070 && port < 5080 {
			return fmt.Errorf("udp :%d: %w", port, ErrPortInUse)
		}
		return nil
	}))

	port, err := alloc.Allocate(5070, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port < randomPortMin || port >= randomPortMax {
		t.Errorf("Expected random-range port, got %d", port)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	count := 0
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		count++
		return fmt.Errorf("udp :%d: %w", port, ErrPortInUse)
	}))

	_, err := alloc.Allocate(5070, 10)
	if err == nil {
		t.Fatal("Expected exhaustion error")
	}
	var exhausted *PortExhaustionError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected PortExhaustionError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 10+randomPortProbes {
		t.Errorf("Expected %d attempts, got %d", 10+randomPortProbes, exhausted.Attempts)
	}
	if count != 10+randomPortProbes {
		t.Errorf("Expected %d probes, got %d", 10+randomPortProbes, count)
	}
}

func TestAllocateFatalProbeError(t *testing.T) {
	fatal := errors.New("permission denied")
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		return fatal
	}))

	_, err := alloc.Allocate(5070, 10)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal probe error to surface, got %v", err)
	}
	var exhausted *PortExhaustionError
	if errors.As(err, &exhausted) {
		t.Error("Fatal probe error should not be reported as exhaustion")
	}
}

func TestAllocateInvalidStart(t *testing.T) {
	alloc := NewPortAllocator(WithProbe(func(port int) error { return nil }))
	if _, err := alloc.Allocate(0, 10); err == nil {
		t.Error("Expected error for invalid start port")
	}
	if _, err := alloc.Allocate(70000, 10); err == nil {
		t.Error("Expected error for out-of-range start port")
	}
}

func TestAllocateClampsAtPortSpaceEnd(t *testing.T) {
	var probed []int
	alloc := NewPortAllocator(WithProbe(func(port int) error {
		probed = append(probed, port)
		if port <= 65535 && port >= 65534 {
			return fmt.Errorf("udp :%d: %w", port, ErrPortInUse)
		}
		return nil
	}))

	port, err := alloc.Allocate(65534, 10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	for _, p := range probed[:2] {
		if p > 65535 {
			t.Errorf("Probed impossible port %d", p)
		}
	}
	if port > 65535 {
		t.Errorf("Allocated impossible port %d", port)
	}
}

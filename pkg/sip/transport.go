package sip

import (
	"context"
	"time"
)

// Transport sends SIP requests toward the PBX and raises inbound call
// events. The production implementation sits on sipgo; tests substitute a
// fake.
type Transport interface {
	// Register sends a REGISTER with the given expiry and waits for the
	// final response. A bind-level port conflict surfaces as ErrPortInUse.
	Register(ctx context.Context, expiry time.Duration) error
	// Unregister sends a REGISTER with expiry 0.
	Unregister(ctx context.Context) error
	// LocalPort reports the bound SIP listening port.
	LocalPort() int
	Close() error
}

// InboundCall describes a ringing call delivered by the transport.
type InboundCall struct {
	CallID        string
	CallerID      string
	RemoteRTPAddr string
	CodecRate     int
}

// CallEvents receives call lifecycle and media events from the transport.
// All methods must be safe for concurrent use.
type CallEvents interface {
	OnInboundCall(call InboundCall)
	OnCallAnswered(callID string)
	OnAudioChunk(callID string, pcm []int16)
	OnCallEnd(callID string)
	OnInternalError(callID string, err error)
}

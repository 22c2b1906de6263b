package sip

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LingByte/LingCall/pkg/logger"
)

// CallSnapshot is the wire shape for the active-calls API.
type CallSnapshot struct {
	CallID     string       `json:"callId"`
	CallerID   string       `json:"callerId"`
	State      SessionState `json:"state"`
	StartedAt  time.Time    `json:"startedAt"`
	DurationMs int64        `json:"durationMs"`
	Segments   int          `json:"segments"`
}

// Registry tracks all in-flight call sessions and fans transport events out
// to them. A failure in one session never touches another: every event is
// resolved to exactly one session under the read lock and handled there.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*CallSession
	sampleRate int

	// onAnswered and onEnded are invoked outside the registry lock.
	onAnswered func(s *CallSession)
	onEnded    func(s *CallSession)
}

func NewRegistry(sampleRate int) *Registry {
	return &Registry{
		sessions:   make(map[string]*CallSession),
		sampleRate: sampleRate,
	}
}

// SetCallbacks installs lifecycle hooks. Must be called before the registry
// starts receiving events.
func (r *Registry) SetCallbacks(onAnswered, onEnded func(s *CallSession)) {
	r.onAnswered = onAnswered
	r.onEnded = onEnded
}

// OnInboundCall registers a new ringing session. A duplicate Call-ID is
// ignored so a retransmitted INVITE cannot clobber live state. An empty
// Call-ID gets a generated one.
func (r *Registry) OnInboundCall(call InboundCall) {
	if call.CallID == "" {
		call.CallID = uuid.New().String()
		logger.Warn("inbound call without Call-ID, generated one",
			zap.String("call_id", call.CallID))
	}

	r.mu.Lock()
	if _, exists := r.sessions[call.CallID]; exists {
		r.mu.Unlock()
		logger.Warn("duplicate inbound call ignored", zap.String("call_id", call.CallID))
		return
	}
	session := newCallSession(call, r.sampleRate)
	r.sessions[call.CallID] = session
	r.mu.Unlock()

	logger.Info("inbound call",
		zap.String("call_id", call.CallID),
		zap.String("caller_id", call.CallerID))
}

// OnCallAnswered moves a ringing session to answered.
func (r *Registry) OnCallAnswered(callID string) {
	session, ok := r.get(callID)
	if !ok {
		logger.Warn("answer event for unknown call", zap.String("call_id", callID))
		return
	}
	if !session.markAnswered() {
		return
	}
	logger.Info("call answered", zap.String("call_id", callID))
	if r.onAnswered != nil {
		r.onAnswered(session)
	}
}

// OnAudioChunk queues captured PCM for a session. Chunks for unknown calls
// or outside the answered window are logged and dropped, never queued.
func (r *Registry) OnAudioChunk(callID string, pcm []int16) {
	session, ok := r.get(callID)
	if !ok {
		logger.Debug("audio for unknown call", zap.String("call_id", callID))
		return
	}
	if state := session.State(); state != SessionAnswered {
		logger.Debug("audio outside answered window dropped",
			zap.String("call_id", callID),
			zap.String("state", string(state)))
		return
	}
	session.enqueueAudio(pcm)
}

// OnTranscriptSegment appends a recognized segment to the session.
func (r *Registry) OnTranscriptSegment(callID, text string) {
	session, ok := r.get(callID)
	if !ok {
		logger.Warn("transcript for unknown call", zap.String("call_id", callID))
		return
	}
	session.appendTranscript(text)
}

// OnCallEnd finishes a session normally and removes it.
func (r *Registry) OnCallEnd(callID string) {
	r.endCall(callID, SessionEnded, nil)
}

// OnInternalError finishes a session with an error state. Other sessions
// are unaffected.
func (r *Registry) OnInternalError(callID string, err error) {
	logger.Error("call session error",
		zap.String("call_id", callID),
		zap.Error(err))
	r.endCall(callID, SessionError, err)
}

func (r *Registry) endCall(callID string, state SessionState, cause error) {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	r.mu.Unlock()

	if !ok {
		logger.Warn("end event for unknown call", zap.String("call_id", callID))
		return
	}
	if !session.finish(state, cause) {
		return
	}
	logger.Info("call finished",
		zap.String("call_id", callID),
		zap.String("state", string(state)),
		zap.Duration("duration", session.Duration()))
	if r.onEnded != nil {
		r.onEnded(session)
	}
}

// Get returns the live session for a call id.
func (r *Registry) Get(callID string) (*CallSession, bool) {
	return r.get(callID)
}

func (r *Registry) get(callID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveCalls returns snapshots of all live sessions.
func (r *Registry) ActiveCalls() []CallSnapshot {
	r.mu.RLock()
	sessions := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]CallSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, CallSnapshot{
			CallID:     s.ID,
			CallerID:   s.CallerID,
			State:      s.State(),
			StartedAt:  s.StartedAt,
			DurationMs: s.Duration().Milliseconds(),
			Segments:   len(s.TranscriptSegments()),
		})
	}
	return out
}

// Shutdown ends every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.endCall(id, SessionEnded, nil)
	}
}

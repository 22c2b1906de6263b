package sip

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/logger"
)

// SessionState is the lifecycle state of one call.
type SessionState string

const (
	SessionRinging  SessionState = "ringing"
	SessionAnswered SessionState = "answered"
	SessionEnded    SessionState = "ended"
	SessionError    SessionState = "error"
)

// captureQueueSize bounds the per-call audio queue. When the consumer falls
// behind, the oldest chunk is dropped so live audio keeps flowing.
const captureQueueSize = 256

// CallSession holds all per-call state: capture buffer, transcript segments
// and lifecycle timestamps. One drain goroutine per session moves queued
// audio into the recorder.
type CallSession struct {
	ID            string
	CallerID      string
	RemoteRTPAddr string
	StartedAt     time.Time

	mu         sync.Mutex
	state      SessionState
	endedAt    time.Time
	transcript []string
	lastErr    error

	recorder   *audio.Recorder
	audioQueue chan []int16
	stopCh     chan struct{}
	drainDone  chan struct{}
	dropped    int
}

func newCallSession(call InboundCall, sampleRate int) *CallSession {
	s := &CallSession{
		ID:            call.CallID,
		CallerID:      call.CallerID,
		RemoteRTPAddr: call.RemoteRTPAddr,
		StartedAt:     time.Now(),
		state:         SessionRinging,
		recorder:      audio.NewRecorder(sampleRate),
		audioQueue:    make(chan []int16, captureQueueSize),
		stopCh:        make(chan struct{}),
		drainDone:     make(chan struct{}),
	}
	s.recorder.Start()
	go s.drainLoop()
	return s
}

// drainLoop moves queued chunks into the recorder until the session stops,
// then flushes whatever is left in the queue.
func (s *CallSession) drainLoop() {
	defer close(s.drainDone)
	for {
		select {
		case chunk := <-s.audioQueue:
			s.recorder.AddChunk(chunk)
		case <-s.stopCh:
			for {
				select {
				case chunk := <-s.audioQueue:
					s.recorder.AddChunk(chunk)
				default:
					return
				}
			}
		}
	}
}

// enqueueAudio adds a chunk to the bounded queue, dropping the oldest chunk
// when full.
func (s *CallSession) enqueueAudio(chunk []int16) {
	select {
	case s.audioQueue <- chunk:
		return
	default:
	}

	// queue full, evict one and retry once
	select {
	case <-s.audioQueue:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		logger.Warn("capture queue full, dropped oldest chunk",
			zap.String("call_id", s.ID),
			zap.Int("total_dropped", dropped))
	default:
	}
	select {
	case s.audioQueue <- chunk:
	default:
		// a concurrent producer refilled the freed slot; the incoming
		// chunk is the one lost this time
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		logger.Warn("capture queue full, dropped incoming chunk",
			zap.String("call_id", s.ID),
			zap.Int("total_dropped", dropped))
	}
}

// appendTranscript records one recognized segment in arrival order.
func (s *CallSession) appendTranscript(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, text)
}

// Transcript returns the space-joined transcript so far.
func (s *CallSession) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.transcript, " ")
}

// TranscriptSegments returns a copy of the individual segments.
func (s *CallSession) TranscriptSegments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// markAnswered transitions ringing to answered.
func (s *CallSession) markAnswered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionRinging {
		return false
	}
	s.state = SessionAnswered
	return true
}

// finish stops audio capture and moves the session to a terminal state.
// Safe to call more than once; only the first call wins.
func (s *CallSession) finish(state SessionState, err error) bool {
	s.mu.Lock()
	if s.state == SessionEnded || s.state == SessionError {
		s.mu.Unlock()
		return false
	}
	s.state = state
	s.lastErr = err
	s.endedAt = time.Now()
	s.mu.Unlock()

	close(s.stopCh)
	<-s.drainDone
	s.recorder.Stop()
	return true
}

// State returns the current lifecycle state.
func (s *CallSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that terminated the session, if any.
func (s *CallSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Duration returns elapsed call time, frozen once the session ends.
func (s *CallSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// AudioSamples returns the captured PCM. For live sessions this is only
// what has been drained so far.
func (s *CallSession) AudioSamples() []int16 {
	return s.recorder.Snapshot()
}

// AudioLen returns the number of captured samples without copying.
func (s *CallSession) AudioLen() int {
	return s.recorder.Len()
}

// SaveRecording writes the captured audio as a WAV file.
func (s *CallSession) SaveRecording(filename string) error {
	return s.recorder.Save(filename)
}

// SampleRate returns the capture rate of this session's recorder.
func (s *CallSession) SampleRate() int {
	return s.recorder.SampleRate()
}

// DroppedChunks reports how many capture chunks were evicted.
func (s *CallSession) DroppedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

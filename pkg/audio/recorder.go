package audio

import (
	"sync"
	"time"
)

// Recorder accumulates PCM audio for one call. AddChunk after Stop is a
// no-op, so late RTP packets cannot corrupt a finished recording.
type Recorder struct {
	mu         sync.Mutex
	recording  bool
	samples    []int16
	sampleRate int
	startedAt  time.Time
	stoppedAt  time.Time
}

func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// Start begins a new recording, discarding any previous buffer.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.samples = r.samples[:0]
	r.startedAt = time.Now()
	r.stoppedAt = time.Time{}
}

// AddChunk appends samples to the buffer. Ignored when not recording.
func (r *Recorder) AddChunk(chunk []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.samples = append(r.samples, chunk...)
}

// Stop ends the recording and returns a copy of the accumulated samples.
func (r *Recorder) Stop() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return nil
	}
	r.recording = false
	r.stoppedAt = time.Now()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

// Recording reports whether the recorder is accepting chunks.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Duration returns the elapsed recording time.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedAt.IsZero() {
		return 0
	}
	if r.recording {
		return time.Since(r.startedAt)
	}
	return r.stoppedAt.Sub(r.startedAt)
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// SampleRate returns the configured capture rate.
func (r *Recorder) SampleRate() int {
	return r.sampleRate
}

// Snapshot returns a copy of the buffer without changing recorder state.
func (r *Recorder) Snapshot() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

// Save stops the recording if still running and writes the buffer as WAV.
func (r *Recorder) Save(filename string) error {
	r.Stop()
	return SaveWAV(filename, r.Snapshot(), r.sampleRate)
}

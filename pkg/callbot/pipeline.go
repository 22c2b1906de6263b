package callbot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid"
	"go.uber.org/zap"

	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
)

// Player streams a synthesized WAV back into the call.
type Player interface {
	PlayWAV(ctx context.Context, callID, path string) error
}

// Synthesizer turns text into a WAV file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, outputPath string) error
}

// ReplyHook observes completed turns, used for persistence.
type ReplyHook func(callID, userText, reply, audioPath string)

// ResponsePipeline runs the LLM, TTS and playback stages for each
// transcript segment. Segments of one call are processed strictly in order
// by a dedicated worker; calls never block each other.
type ResponsePipeline struct {
	responder llm.Responder
	tts       Synthesizer
	player    Player
	outputDir string
	onReply   ReplyHook

	mu      sync.Mutex
	voice   string
	workers map[string]*callWorker
	closed  bool
}

type pipelineJob struct {
	text   string
	playID string
}

type callWorker struct {
	callID string
	jobs   chan pipelineJob
	done   chan struct{}
	seq    int
}

func NewResponsePipeline(responder llm.Responder, tts Synthesizer, player Player, voice, outputDir string, onReply ReplyHook) *ResponsePipeline {
	return &ResponsePipeline{
		responder: responder,
		tts:       tts,
		player:    player,
		voice:     voice,
		outputDir: outputDir,
		onReply:   onReply,
		workers:   make(map[string]*callWorker),
	}
}

// Submit queues one transcript segment for the call. Returns false when the
// pipeline is shut down or the call's queue is full.
func (p *ResponsePipeline) Submit(callID, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	playID, err := gonanoid.Nanoid(12)
	if err != nil {
		playID = fmt.Sprintf("play-%d", time.Now().UnixNano())
	}

	// the send happens under the lock: EndCall and Shutdown remove a worker
	// from the map before closing its channel, so a worker reachable here is
	// always open
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	worker, ok := p.workers[callID]
	if !ok {
		worker = &callWorker{
			callID: callID,
			jobs:   make(chan pipelineJob, 16),
			done:   make(chan struct{}),
		}
		p.workers[callID] = worker
		go p.run(worker)
	}

	select {
	case worker.jobs <- pipelineJob{text: text, playID: playID}:
		return true
	default:
		logger.Warn("response pipeline queue full, segment dropped",
			zap.String("call_id", callID))
		return false
	}
}

// run processes one call's segments in arrival order. A failed stage ends
// that turn only; the worker keeps serving later segments.
func (p *ResponsePipeline) run(w *callWorker) {
	defer close(w.done)
	for job := range w.jobs {
		p.handleTurn(w, job)
	}
}

func (p *ResponsePipeline) handleTurn(w *callWorker, job pipelineJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	started := time.Now()

	reply, err := p.responder.Reply(ctx, w.callID, job.text)
	if err != nil {
		logger.Error("LLM stage failed",
			zap.String("call_id", w.callID),
			zap.String("play_id", job.playID),
			zap.Error(err))
		return
	}
	if strings.TrimSpace(reply) == "" {
		logger.Warn("LLM returned empty reply",
			zap.String("call_id", w.callID),
			zap.String("play_id", job.playID))
		return
	}

	w.seq++
	audioPath := filepath.Join(p.outputDir,
		fmt.Sprintf("call_%s_%d.wav", sanitizeID(w.callID), w.seq))

	p.mu.Lock()
	voice := p.voice
	p.mu.Unlock()

	if err := p.tts.Synthesize(ctx, reply, voice, audioPath); err != nil {
		logger.Error("TTS stage failed",
			zap.String("call_id", w.callID),
			zap.String("play_id", job.playID),
			zap.Error(err))
		return
	}

	if err := p.player.PlayWAV(ctx, w.callID, audioPath); err != nil {
		logger.Error("playback stage failed",
			zap.String("call_id", w.callID),
			zap.String("play_id", job.playID),
			zap.Error(err))
		// the turn still completed through TTS, record it
	}

	logger.Info("response turn completed",
		zap.String("call_id", w.callID),
		zap.String("play_id", job.playID),
		zap.Duration("elapsed", time.Since(started)))

	if p.onReply != nil {
		p.onReply(w.callID, job.text, reply, audioPath)
	}
}

// SetVoice switches the synthesis voice. Turns already past the TTS stage
// keep the old voice; later turns pick up the new one.
func (p *ResponsePipeline) SetVoice(voice string) {
	p.mu.Lock()
	p.voice = voice
	p.mu.Unlock()
}

// Voice returns the current synthesis voice.
func (p *ResponsePipeline) Voice() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voice
}

// EndCall drains the call's queue, stops its worker and drops conversation
// state. Blocks until in-flight turns finish.
func (p *ResponsePipeline) EndCall(callID string) {
	p.mu.Lock()
	worker, ok := p.workers[callID]
	if ok {
		delete(p.workers, callID)
	}
	p.mu.Unlock()

	if ok {
		close(worker.jobs)
		<-worker.done
	}
	p.responder.EndConversation(callID)
}

// Shutdown stops all workers.
func (p *ResponsePipeline) Shutdown() {
	p.mu.Lock()
	p.closed = true
	workers := make([]*callWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[string]*callWorker)
	p.mu.Unlock()

	for _, w := range workers {
		close(w.jobs)
		<-w.done
		p.responder.EndConversation(w.callID)
	}
}

// sanitizeID keeps Call-IDs filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

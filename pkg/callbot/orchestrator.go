package callbot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/asr"
	"github.com/LingByte/LingCall/pkg/audio"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/llm"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/sip"
	"github.com/LingByte/LingCall/pkg/tts"
)

// Orchestrator wires the SIP transport, session registry, recognition and
// response pipeline into one answering service.
type Orchestrator struct {
	cfg *config.Config
	db  *gorm.DB

	registry    *sip.Registry
	transport   *sip.SipgoTransport
	regMgr      *sip.RegistrationManager
	pipeline    *ResponsePipeline
	transcriber asr.Transcriber
	llmSvc      *llm.Service
	ttsMgr      *tts.Manager
	store       *Store

	mu        sync.Mutex
	listeners map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func NewOrchestrator(cfg *config.Config, db *gorm.DB) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:       cfg,
		db:        db,
		registry:  sip.NewRegistry(cfg.Audio.PlaybackRate),
		store:     NewStore(db),
		listeners: make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}

	o.llmSvc = llm.NewService(cfg.Services.LLM, logrus.StandardLogger())
	o.transcriber = asr.NewWhisperClient(cfg.Services.ASR.URL, cfg.Services.ASR.Language)

	o.ttsMgr = tts.NewManager()
	o.ttsMgr.Register(tts.NewHTTPEngine(cfg.Services.TTS.URL))
	if cfg.Services.TTS.Engine == "polly" {
		engine, err := tts.NewPollyEngine(ctx, cfg.Services.TTS.Region, cfg.Services.TTS.SampleRate)
		if err != nil {
			logger.Warn("polly engine unavailable, falling back to http", zap.Error(err))
		} else {
			o.ttsMgr.Register(engine)
		}
	}
	if err := o.ttsMgr.SetActive(cfg.Services.TTS.Engine); err != nil {
		logger.Warn("requested TTS engine not registered, using default",
			zap.String("engine", cfg.Services.TTS.Engine))
	}

	if err := o.buildSIP(cfg.SIP); err != nil {
		cancel()
		return nil, err
	}

	o.pipeline = NewResponsePipeline(o.llmSvc, o.ttsMgr, o,
		cfg.Services.TTS.Voice, cfg.Audio.OutputDir,
		func(callID, userText, reply, audioPath string) {
			o.store.TurnCompleted(callID, userText, reply)
		})

	o.registry.SetCallbacks(o.onCallAnswered, o.onCallEnded)

	return o, nil
}

// buildSIP allocates the local port and constructs the transport and the
// registration manager for the given SIP settings.
func (o *Orchestrator) buildSIP(sipCfg config.SIPConfig) error {
	allocator := sip.NewPortAllocator()
	port, err := allocator.Allocate(sipCfg.LocalPortHint, 10)
	if err != nil {
		return fmt.Errorf("allocate SIP port: %w", err)
	}
	if port != sipCfg.LocalPortHint {
		logger.Warn("preferred SIP port busy, using fallback",
			zap.Int("preferred", sipCfg.LocalPortHint),
			zap.Int("allocated", port))
	}

	transport, err := sip.NewSipgoTransport(sipCfg, port, o.registry)
	if err != nil {
		return fmt.Errorf("create SIP transport: %w", err)
	}

	o.mu.Lock()
	o.transport = transport
	o.regMgr = sip.NewRegistrationManager(transport, sipCfg.KeepAliveInterval)
	o.mu.Unlock()
	return nil
}

// currentTransport returns the live transport; ApplySettings may swap it.
func (o *Orchestrator) currentTransport() *sip.SipgoTransport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transport
}

// PlayWAV streams a WAV into the call on the current transport. The pipeline
// plays through this indirection so a settings change cannot leave it holding
// a closed transport.
func (o *Orchestrator) PlayWAV(ctx context.Context, callID, path string) error {
	return o.currentTransport().PlayWAV(ctx, callID, path)
}

// Start brings up the transport, registers with the PBX and begins the
// keep-alive loop. A failed initial registration is not fatal; the keep-alive
// loop keeps retrying and the status surface reports the failure.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := os.MkdirAll(o.cfg.Audio.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create audio output dir: %w", err)
	}

	if err := o.startTransport(); err != nil {
		return err
	}
	if err := o.regMgr.Register(ctx); err != nil {
		logger.Error("initial registration failed, keep-alive will retry", zap.Error(err))
	}
	o.regMgr.StartKeepAlive(o.ctx)

	logger.Info("call answering service started",
		zap.String("domain", o.cfg.SIP.Domain),
		zap.String("username", o.cfg.SIP.Username))
	return nil
}

// startTransport brings up the SIP listener. A port stolen between the
// allocator's probe and the actual bind triggers reallocation on a fresh
// transport, bounded to a few attempts.
func (o *Orchestrator) startTransport() error {
	for attempt := 0; ; attempt++ {
		err := o.currentTransport().Start(o.ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sip.ErrPortInUse) || attempt >= 2 {
			return fmt.Errorf("start SIP transport: %w", err)
		}
		logger.Warn("SIP port taken between probe and bind, reallocating",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		o.currentTransport().Close()
		if err := o.buildSIP(o.cfg.SIP); err != nil {
			return err
		}
	}
}

// ApplySettings re-registers with new PBX credentials from the settings
// table. The SIP stack is rebuilt; live calls on the old stack are ended.
func (o *Orchestrator) ApplySettings(ctx context.Context, s *models.Settings) error {
	logger.Info("applying updated SIP settings",
		zap.String("domain", s.SIPDomain),
		zap.String("username", s.SIPUsername))

	if err := o.regMgr.Shutdown(ctx); err != nil {
		logger.Warn("shutdown of previous registration failed", zap.Error(err))
	}
	o.registry.Shutdown()
	o.currentTransport().Close()

	sipCfg := o.cfg.SIP
	sipCfg.Domain = s.SIPDomain
	sipCfg.Username = s.SIPUsername
	sipCfg.Password = s.SIPPassword
	sipCfg.Port = s.SIPPort
	o.cfg.SIP = sipCfg

	if err := o.buildSIP(sipCfg); err != nil {
		return err
	}
	if err := o.startTransport(); err != nil {
		return err
	}
	if err := o.regMgr.Register(ctx); err != nil {
		return err
	}
	o.regMgr.StartKeepAlive(o.ctx)
	return nil
}

// ApplyServiceSettings pushes the LLM and TTS fields of the settings table
// into the running services without touching the SIP stack. Live calls pick
// the new values up on their next turn.
func (o *Orchestrator) ApplyServiceSettings(s *models.Settings) {
	o.llmSvc.Reconfigure(s.LLMProvider, s.LLMModel, s.SystemPrompt, s.Temperature)

	if s.TTSEngine != "" && s.TTSEngine != o.ttsMgr.Active() {
		if err := o.ttsMgr.SetActive(s.TTSEngine); err != nil {
			logger.Warn("requested TTS engine not registered, keeping current",
				zap.String("engine", s.TTSEngine))
		}
	}
	if s.TTSVoice != "" {
		o.pipeline.SetVoice(s.TTSVoice)
	}

	logger.Info("service settings applied",
		zap.String("llm_provider", s.LLMProvider),
		zap.String("llm_model", s.LLMModel),
		zap.String("tts_engine", o.ttsMgr.Active()),
		zap.String("tts_voice", o.pipeline.Voice()))
}

// onCallAnswered starts the per-call listener that segments caller speech
// and feeds it through recognition into the response pipeline.
func (o *Orchestrator) onCallAnswered(session *sip.CallSession) {
	o.store.CallStarted(session.ID, session.CallerID, o.cfg.Services.TTS.Voice)

	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.listeners[session.ID] = cancel
	o.mu.Unlock()

	go o.listenLoop(ctx, session)
}

// onCallEnded persists the recording and the final record, then tears down
// per-call state.
func (o *Orchestrator) onCallEnded(session *sip.CallSession) {
	o.mu.Lock()
	if cancel, ok := o.listeners[session.ID]; ok {
		cancel()
		delete(o.listeners, session.ID)
	}
	o.mu.Unlock()

	audioPath := ""
	if session.AudioLen() > 0 {
		audioPath = filepath.Join(o.cfg.Audio.OutputDir,
			fmt.Sprintf("recorded_%s.wav", sanitizeID(session.ID)))
		if err := session.SaveRecording(audioPath); err != nil {
			logger.Error("failed to save call recording",
				zap.String("call_id", session.ID),
				zap.Error(err))
			audioPath = ""
		}
	}

	o.pipeline.EndCall(session.ID)
	o.store.CallEnded(session.ID,
		int(session.Duration().Seconds()),
		audioPath,
		session.State() == sip.SessionError)
}

const (
	// listener tick and utterance detection parameters; the silence
	// threshold matches the narrowband noise floor seen on PCMU calls
	listenTick        = 200 * time.Millisecond
	silenceThreshold  = 500
	silenceHold       = 1200 * time.Millisecond
	minUtteranceSecs  = 0.4
	maxUtteranceSecs  = 12.0
	speechSampleRatio = 0.05
)

// listenLoop watches the capture buffer, cuts utterances on trailing
// silence and runs them through ASR.
func (o *Orchestrator) listenLoop(ctx context.Context, session *sip.CallSession) {
	rate := session.SampleRate()
	minSamples := int(minUtteranceSecs * float64(rate))
	maxSamples := int(maxUtteranceSecs * float64(rate))

	utteranceStart := session.AudioLen()
	scanned := utteranceStart
	speaking := false
	var lastSpeech time.Time

	ticker := time.NewTicker(listenTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := session.AudioLen()
		if n <= scanned {
			continue
		}
		samples := session.AudioSamples()
		if n > len(samples) {
			n = len(samples)
		}
		window := samples[scanned:n]
		scanned = n

		if hasSpeech(window) {
			if !speaking {
				speaking = true
				// trim leading silence up to the current window
				if n-len(window) > utteranceStart {
					utteranceStart = n - len(window)
				}
			}
			lastSpeech = time.Now()
		}

		if !speaking {
			utteranceStart = n
			continue
		}

		utteranceLen := n - utteranceStart
		silentFor := time.Since(lastSpeech)
		if silentFor < silenceHold && utteranceLen < maxSamples {
			continue
		}
		speaking = false

		if utteranceLen < minSamples {
			utteranceStart = n
			continue
		}

		utterance := samples[utteranceStart:n]
		utteranceStart = n
		o.processUtterance(ctx, session, utterance, rate)
	}
}

// hasSpeech reports whether a window contains samples above the noise floor.
func hasSpeech(window []int16) bool {
	if len(window) == 0 {
		return false
	}
	loud := 0
	for _, s := range window {
		if s > silenceThreshold || s < -silenceThreshold {
			loud++
		}
	}
	return float64(loud)/float64(len(window)) > speechSampleRatio
}

// processUtterance writes the utterance to a temp WAV, transcribes it and
// hands the text to the response pipeline.
func (o *Orchestrator) processUtterance(ctx context.Context, session *sip.CallSession, utterance []int16, rate int) {
	tmp, err := os.CreateTemp("", "utterance-*.wav")
	if err != nil {
		o.registry.OnInternalError(session.ID, fmt.Errorf("create utterance file: %w", err))
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := audio.SaveWAV(tmpPath, utterance, rate); err != nil {
		logger.Error("failed to write utterance",
			zap.String("call_id", session.ID),
			zap.Error(err))
		return
	}

	text, err := o.transcriber.TranscribeFile(ctx, tmpPath)
	if err != nil {
		logger.Error("ASR failed",
			zap.String("call_id", session.ID),
			zap.Error(err))
		return
	}
	if text == "" {
		return
	}

	logger.Info("caller said",
		zap.String("call_id", session.ID),
		zap.String("text", text))

	o.registry.OnTranscriptSegment(session.ID, text)
	o.pipeline.Submit(session.ID, text)
}

// Hangup ends a call from our side.
func (o *Orchestrator) Hangup(ctx context.Context, callID string) error {
	return o.currentTransport().Hangup(ctx, callID)
}

// RegistrationStatus exposes the registration snapshot.
func (o *Orchestrator) RegistrationStatus() sip.RegistrationStatus {
	o.mu.Lock()
	mgr := o.regMgr
	o.mu.Unlock()
	return mgr.Status()
}

// ActiveCalls exposes snapshots of live sessions.
func (o *Orchestrator) ActiveCalls() []sip.CallSnapshot {
	return o.registry.ActiveCalls()
}

// LLM exposes the LLM service for the web layer.
func (o *Orchestrator) LLM() *llm.Service {
	return o.llmSvc
}

// Shutdown unregisters and tears everything down.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	logger.Info("shutting down call answering service")

	err := o.regMgr.Shutdown(ctx)
	o.registry.Shutdown()
	o.pipeline.Shutdown()
	o.cancel()
	o.currentTransport().Close()
	return err
}

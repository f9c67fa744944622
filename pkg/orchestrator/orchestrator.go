package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Orchestrator owns the provider set and configuration shared by every call
// it spins up. It is the process-wide entry point; Call is the per-
// conversation state it constructs on demand.
type Orchestrator struct {
	mu sync.RWMutex

	stt        STTProvider
	llm        LLMProvider
	tts        TTSProvider
	telephony  TelephonyAdapter
	vadFactory func() VADProvider
	cfg        Config
	logger     Logger

	fillerCache *fillerAudioCache

	callsMu sync.Mutex
	calls   map[string]*Call
}

// New constructs an Orchestrator from required STT/LLM/TTS providers plus
// optional telephony and logger. cfg is copied; callers retain their own
// Config value.
//
// New kicks off an async pre-warm of the filler/acknowledgment audio cache
// (§4.6: "pre-synthesised at startup and cached") against a background
// context; it does not block startup waiting for TTS to return.
func New(stt STTProvider, llm LLMProvider, tts TTSProvider, telephony TelephonyAdapter, cfg Config, logger Logger) (*Orchestrator, error) {
	if stt == nil || llm == nil || tts == nil {
		return nil, ErrNilProvider
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	o := &Orchestrator{
		stt:         stt,
		llm:         llm,
		tts:         tts,
		telephony:   telephony,
		cfg:         cfg,
		logger:      logger,
		fillerCache: newFillerAudioCache(),
		calls:       make(map[string]*Call),
	}

	go o.fillerCache.preload(context.Background(), logger, func(ctx context.Context, text string) ([]byte, error) {
		return tts.Synthesize(ctx, text, cfg.VoiceStyle, cfg.Language)
	})

	return o, nil
}

// SetVADFactory overrides the VAD constructor used for new calls; by default
// NewCall builds an RMSVAD from cfg.EnergyThreshold.
func (o *Orchestrator) SetVADFactory(f func() VADProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vadFactory = f
}

// GetConfig returns a snapshot of the current tunables.
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// UpdateConfig replaces the tunables used by calls created after this call
// returns; calls already running keep the Config they were built with.
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
}

// GetProviders returns the wired STT/LLM/TTS providers, mainly for
// diagnostics and tests.
func (o *Orchestrator) GetProviders() (STTProvider, LLMProvider, TTSProvider) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stt, o.llm, o.tts
}

// NewSessionWithDefaults creates a Session and its backing Call, registers
// the Call under the session ID, and returns both.
func (o *Orchestrator) NewSessionWithDefaults(ctx context.Context, callerID string) (*Session, *Call, error) {
	o.mu.RLock()
	cfg := o.cfg
	logger := o.logger
	o.mu.RUnlock()

	facade, err := newProviderFacade(o.stt, o.llm, o.tts, o.telephony, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	session := NewSession(callerID)
	session.SetVoice(cfg.VoiceStyle)
	session.SetLanguage(cfg.Language)
	session.MaxMessages = cfg.MaxContextMessages

	var vad VADProvider
	o.mu.RLock()
	factory := o.vadFactory
	o.mu.RUnlock()
	if factory != nil {
		vad = factory()
	}

	call := NewCall(ctx, session, facade, cfg, logger, vad, o.fillerCache)

	o.callsMu.Lock()
	o.calls[session.ID] = call
	o.callsMu.Unlock()

	return session, call, nil
}

// SetProspectName records name on session and kicks off an async warm of its
// personalised filler/acknowledgment templates, so later turns on this call
// find them already cached instead of paying for "{name}" synthesis on the
// hot path.
func (o *Orchestrator) SetProspectName(session *Session, name string) {
	session.SetProspectName(name)
	if name == "" || o.fillerCache == nil {
		return
	}
	o.mu.RLock()
	cfg := o.cfg
	logger := o.logger
	tts := o.tts
	o.mu.RUnlock()
	go o.fillerCache.warmPersonalized(context.Background(), logger, func(ctx context.Context, text string) ([]byte, error) {
		return tts.Synthesize(ctx, text, cfg.VoiceStyle, cfg.Language)
	}, name)
}

// GetCall looks up a previously created Call by session ID.
func (o *Orchestrator) GetCall(sessionID string) (*Call, bool) {
	o.callsMu.Lock()
	defer o.callsMu.Unlock()
	c, ok := o.calls[sessionID]
	return c, ok
}

// EndSession closes and forgets the Call for sessionID. Unknown IDs are a
// no-op, matching the "unknown call id in a callback" handling elsewhere in
// this package: logged, not escalated.
func (o *Orchestrator) EndSession(sessionID string) error {
	o.callsMu.Lock()
	call, ok := o.calls[sessionID]
	delete(o.calls, sessionID)
	o.callsMu.Unlock()

	if !ok {
		o.logger.Warn("end session for unknown call", "session_id", sessionID)
		return nil
	}
	return call.Close()
}

// HandleInterruption forces the named session's active turn to stop, as if
// a barge-in had been detected.
func (o *Orchestrator) HandleInterruption(sessionID, reason string) error {
	call, ok := o.GetCall(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	call.interruptBargeIn(reason)
	return nil
}

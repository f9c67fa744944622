package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Call is the per-conversation orchestrator tying together turn tracking,
// transcript aggregation, barge-in detection, echo suppression, filler
// scheduling and metrics around one Session. Exactly one Call exists per
// active session; inbound audio frames arrive through Write, STT results
// through onRawTranscript, and everything else (LLM generation, TTS playback,
// interruption handling) is driven internally.
type Call struct {
	mu sync.Mutex

	session *Session
	facade  *providerFacade
	cfg     Config
	logger  Logger

	vad      VADProvider
	agg      *aggregator
	playback *playbackController
	bargeIn  *bargeInDetector
	echoAud  *audioEchoSuppressor
	echoTxt  *echoRegister
	filler   *fillerScheduler
	metrics  *metricsRecorder

	events chan CallEvent

	ctx       context.Context
	cancel    context.CancelFunc
	turn      *Turn
	turnGen   int
	greeting  bool
	closeOnce sync.Once
	closed    bool

	sttInput     chan<- []byte
	systemPrompt string

	// batchAudio accumulates the current utterance's PCM16 for batch-only STT
	// providers (no StreamTranscribe), between a VADSpeechStart and the
	// VADSpeechEnd that triggers one Transcribe call. nil/unused once a
	// streaming STT session is active.
	batchAudio []byte
}

// SetSystemPrompt sets the instruction prepended to every LLM completion for
// this call.
func (c *Call) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

func (c *Call) getSystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.systemPrompt
}

// NewCall constructs a Call for session using facade's providers and cfg's
// tunables. vad may be nil, in which case a default RMSVAD is created from
// cfg.EnergyThreshold. fillerCache may be nil, in which case fillers/
// acknowledgments always synthesize on demand.
func NewCall(parent context.Context, session *Session, facade *providerFacade, cfg Config, logger Logger, vad VADProvider, fillerCache *fillerAudioCache) *Call {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if vad == nil {
		vad = NewRMSVAD(cfg.EnergyThreshold, 600*time.Millisecond)
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Call{
		session:  session,
		facade:   facade,
		cfg:      cfg,
		logger:   logger,
		vad:      vad,
		playback: newPlaybackController(nil),
		bargeIn:  newBargeInDetector(cfg.BargeInGrace),
		echoAud:  newAudioEchoSuppressor(),
		echoTxt:  newEchoRegister(cfg.EchoRegisterTTL),
		metrics:  newMetricsRecorder(cfg, session),
		events:   make(chan CallEvent, 64),
		ctx:      ctx,
		cancel:   cancel,
		greeting: true,
	}
	c.playback.setBytesPerSecond(cfg.AudioBytesPerSecond())
	c.playback.onChunk = func(chunk []byte) {
		c.echoAud.recordPlayed(chunk)
		c.emit(CallEvent{Type: AudioChunk, SessionID: session.ID, Data: chunk})
	}

	_, hasStreamingSTT := facade.streamingSTT()
	c.agg = newAggregator(cfg, hasStreamingSTT, c.onTranscriptReady)

	filler, hasFillerVoice := facade.fillerTTS()
	if !hasFillerVoice {
		filler = nil
	}
	c.filler = newFillerScheduler(cfg.AcknowledgmentCooldown, filler, session.GetCurrentVoice(), session.GetCurrentLanguage(), fillerCache)

	c.bargeIn.setGreetingActive(true)
	return c
}

// Events returns the channel the caller should drain for UI/telephony-facing
// notifications.
func (c *Call) Events() <-chan CallEvent {
	return c.events
}

func (c *Call) emit(evt CallEvent) {
	evt.SessionID = c.session.ID
	evt.At = time.Now()
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("event channel full, dropping event", "type", evt.Type)
	}
}

// Greet plays an opening line before any caller turn exists. Caller speech
// observed while it plays is buffered onto the next real turn instead of
// triggering a barge-in, since energy-only triggers are disabled during the
// greeting and a caller rarely intends to interrupt a greeting outright.
func (c *Call) Greet(ctx context.Context, text string) error {
	t := NewTurn()
	c.mu.Lock()
	c.turn = t
	c.mu.Unlock()

	t.setPhase(PhaseSpeaking)
	t.ttsStart = time.Now()
	playCtx := c.playback.begin(ctx)
	c.bargeIn.notePlaybackStart()

	err := c.facade.streamSynthesize(playCtx, text, c.session.GetCurrentVoice(), c.session.GetCurrentLanguage(), func(chunk []byte) error {
		if t.ttsFirstByte.IsZero() {
			t.ttsFirstByte = time.Now()
		}
		c.playback.push(chunk)
		return nil
	})
	t.ttsEnd = time.Now()
	c.playback.end()

	// The greeting lasts until the playback estimate says its last byte has
	// reached the caller, not merely until synthesis returns.
	if wait := time.Until(c.playback.playbackEndTime()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
	}
	t.setPhase(PhaseDone)

	c.mu.Lock()
	c.greeting = false
	c.mu.Unlock()
	c.bargeIn.setGreetingActive(false)

	if err != nil {
		c.metrics.recordTTSError()
		return err
	}
	c.session.AppendHistory("agent", text)
	c.echoTxt.record(text)
	return nil
}

// Write feeds one inbound PCM16 audio chunk into the call: the audio echo
// guard runs first, then VAD, then the energy half of barge-in detection,
// then the chunk is handed to STT — forwarded to the active stream if the
// provider streams, otherwise buffered for one batch Transcribe call fired
// at VADSpeechEnd.
func (c *Call) Write(chunk []byte) error {
	if c.echoAud.isEcho(chunk) {
		return nil
	}
	c.adjustVADForEcho()

	evt, err := c.vad.Process(chunk)
	if err != nil {
		return fmt.Errorf("vad: %w", err)
	}

	c.mu.Lock()
	streaming := c.sttInput != nil
	c.mu.Unlock()
	if !streaming {
		c.mu.Lock()
		c.batchAudio = append(c.batchAudio, chunk...)
		c.mu.Unlock()
	}

	if evt != nil {
		switch evt.Type {
		case VADSpeechStart:
			c.emit(CallEvent{Type: UserSpeaking})
			if c.bargeIn.energyAllowed(c.playback.stillPlaying()) {
				c.interruptBargeIn("energy barge-in")
			}
		case VADSpeechEnd:
			c.emit(CallEvent{Type: UserStopped})
			if !streaming {
				go c.transcribeBatch()
			}
		}
	}

	c.mu.Lock()
	input := c.sttInput
	c.mu.Unlock()
	if input != nil {
		select {
		case input <- chunk:
		case <-c.ctx.Done():
		}
	}
	return nil
}

// transcribeBatch runs one Transcribe call over the utterance accumulated
// since the last VADSpeechEnd and feeds the result through the same
// onRawTranscript path a streaming provider's callback would use. Runs off
// the audio-write goroutine so a slow batch STT call never blocks Write.
func (c *Call) transcribeBatch() {
	c.mu.Lock()
	audio := c.batchAudio
	c.batchAudio = nil
	c.mu.Unlock()
	if len(audio) == 0 {
		return
	}

	text, err := c.facade.transcribe(c.ctx, audio, c.session.GetCurrentLanguage())
	if err != nil {
		c.metrics.recordTranscriptionError()
		return
	}
	c.onRawTranscript(text, true)
}

// echoThresholdMultiplier is how far above the baseline energy threshold the
// adaptive VAD is bumped while recent playback makes self-echo likely.
const echoThresholdMultiplier = 1.8

// adjustVADForEcho bumps the VAD's energy threshold while the audio echo
// suppressor considers self-echo plausible, and restores the baseline
// otherwise, so a speaker-bleed frame that slips past the correlation check
// still needs genuinely louder energy to register as speech. A no-op unless
// the wired VAD opts in via AdaptiveMode.
func (c *Call) adjustVADForEcho() {
	av, ok := c.vad.(adaptiveThresholdVAD)
	if !ok || !av.AdaptiveMode() {
		return
	}
	if c.echoAud.recentlyPlayed() {
		av.SetThreshold(c.cfg.EnergyThreshold * echoThresholdMultiplier)
	} else {
		av.SetThreshold(c.cfg.EnergyThreshold)
	}
}

// StartListening opens a streaming STT session if the wired provider
// supports it. Batch-only providers need no setup here: Write buffers each
// utterance and drives one Transcribe call per VADSpeechEnd itself.
func (c *Call) StartListening(ctx context.Context) error {
	stt, ok := c.facade.streamingSTT()
	if !ok {
		return nil
	}
	in, err := stt.StreamTranscribe(ctx, c.session.GetCurrentLanguage(), func(transcript string, isFinal bool) error {
		c.onRawTranscript(transcript, isFinal)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	c.mu.Lock()
	c.sttInput = in
	c.mu.Unlock()
	return nil
}

func (c *Call) onRawTranscript(text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.metrics.recordTranscriptionError()
		return
	}
	if c.echoTxt.isEcho(text) {
		return
	}

	c.emit(CallEvent{Type: TranscriptPartial, Data: text})
	if isFinal {
		c.emit(CallEvent{Type: TranscriptFinal, Data: text})
	}

	c.mu.Lock()
	greeting := c.greeting
	turn := c.turn
	c.mu.Unlock()

	if greeting {
		// §4.1 rule 3: barge-in is disabled outright during the greeting.
		// Caller speech observed while it plays is deferred onto the
		// greeting turn's buffer rather than cancelling playback or
		// starting a turn; beginTurn prepends it once the greeting ends.
		if turn != nil {
			turn.appendGreetingTranscription(text)
		}
		return
	}

	if turn != nil && turn.active() {
		// §4.1: the two cancellation paths fork on whether audible playback
		// has started yet for this turn.
		if !turn.playbackStarted() {
			// Rule 1 — cancellable cheaply: a continuation-length partial or
			// final arrives while the agent hasn't made a sound yet.
			if c.agg.isContinuation(text) {
				c.continuationCancel(turn, text, isFinal)
			}
			return
		}

		// Rule 2 — real barge-in. A partial just updates the stash (§4.2:
		// "monotonically replaced only by a longer prefix-compatible
		// string", approximated here by always keeping the latest partial);
		// only a final actually interrupts, bypassing the energy trigger's
		// grace window entirely.
		if !isFinal {
			c.agg.setPendingBargeIn(text)
			return
		}
		wordCount := len(strings.Fields(text))
		if c.bargeIn.transcriptAllowed(wordCount, c.cfg.MinWordsToInterrupt, c.playback.stillPlaying()) {
			c.agg.takePendingBargeIn()
			c.interruptBargeIn("transcript barge-in")
			c.beginTurn(text)
		}
		return
	}

	if isFinal {
		c.agg.onFinal(text)
	} else {
		c.agg.onPartial(text)
	}
}

// onTranscriptReady is the aggregator's flush callback: a debounced or
// final transcript is ready to become a new turn. The aggregator is
// never fed while the greeting is playing (onRawTranscript buffers onto the
// greeting turn directly instead), so by the time this fires c.greeting is
// always false.
func (c *Call) onTranscriptReady(text string) {

	c.beginTurn(text)
}

// interruptBargeIn implements §4.1 rule 2: the turn has already started
// audible playback, so cancellation must stop new TTS immediately, clear
// whatever the telephony transport has already buffered, and zero the
// playback timeline estimate. No acknowledgment is emitted here — doing so
// risks cascading into the agent interrupting itself.
func (c *Call) interruptBargeIn(reason string) {
	c.mu.Lock()
	turn := c.turn
	c.turnGen++
	c.mu.Unlock()

	if turn == nil || !turn.active() {
		return
	}
	turn.markShouldCancel()
	turn.setPhase(PhaseCancelled)

	c.playback.stop()
	c.facade.abortTTS()
	c.facade.clearEgressBuffer(c.session.ID)
	c.echoAud.clear()

	c.emit(CallEvent{Type: Interrupted, Data: reason})
	c.logger.Info("turn interrupted", "reason", reason, "turn_id", turn.ID)
}

// continuationCancel implements §4.1 rule 1: the turn has not made a sound
// yet, so cancellation is cheap. The old turn's pending text and the new
// text that triggered the continuation are merged and re-fed into the
// aggregator — re-entering "aggregating" rather than jumping straight back
// to a fresh LLM call — and a cooldown-gated acknowledgment is emitted so
// the caller has audible confirmation the agent is still listening.
// markContinuationPending deduplicates this across a run of several
// qualifying partials, matching the "single continuation signal" contract
// in the end-to-end scenario this rule was written for.
func (c *Call) continuationCancel(turn *Turn, text string, isFinal bool) {
	if !turn.markContinuationPending() {
		return
	}

	c.mu.Lock()
	c.turnGen++
	c.turn = nil
	c.mu.Unlock()

	turn.markShouldCancel()
	turn.setPhase(PhaseCancelled)
	c.playback.stop()
	c.facade.abortTTS()

	if c.filler.allowAcknowledgment() {
		go c.playAcknowledgment()
	}

	c.emit(CallEvent{Type: Interrupted, Data: "continuation"})
	c.logger.Info("turn cancelled cheaply for continuation", "turn_id", turn.ID)

	merged := strings.TrimSpace(turn.pending + " " + text)
	if isFinal {
		c.agg.onFinal(merged)
	} else {
		c.agg.onPartial(merged)
	}
}

// playAcknowledgment synthesizes and plays a short "uh-huh"-style utterance
// outside any turn's own playback timeline. It never blocks the transcript
// callback that triggered it — callers invoke this in its own goroutine.
func (c *Call) playAcknowledgment() {
	text := c.filler.pickAcknowledgment(c.session.TurnCount(), c.session.GetProspectName())

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TTSTimeout)
	defer cancel()

	audio, ok := c.filler.audioFor(text)
	if !ok {
		synth := c.facade.synthesize
		if fillerTTS, ok := c.facade.fillerTTS(); ok {
			synth = func(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
				return fillerTTS.SynthesizeFiller(ctx, text, voice, lang)
			}
		}

		var err error
		audio, err = synth(ctx, text, c.session.GetCurrentVoice(), c.session.GetCurrentLanguage())
		if err != nil {
			return
		}
		c.filler.cacheAudio(text, audio)
	}

	c.emit(CallEvent{Type: AcknowledgedEvent, Data: text})
	c.playback.begin(ctx)
	c.playback.push(audio)
	c.playback.end()
}

// beginTurn starts generation and playback for a new turn carrying text. If
// a prior turn left buffered greeting speech, it is prepended once.
func (c *Call) beginTurn(text string) {
	c.mu.Lock()
	prev := c.turn
	c.mu.Unlock()
	if prev != nil {
		if buffered := prev.takeGreetingTranscription(); buffered != "" {
			text = strings.TrimSpace(buffered + " " + text)
		}
	}

	c.mu.Lock()
	t := NewTurn()
	c.turn = t
	c.turnGen++
	gen := c.turnGen
	c.mu.Unlock()

	t.setPhase(PhaseAggregating)
	t.sttStart = time.Now()
	t.sttEnd = time.Now()
	t.pending = text

	c.session.AppendHistory("user", text)
	c.emit(CallEvent{Type: BotThinking})

	go c.runTurn(t, gen)
}

// runTurn drives one turn end to end: LLM generation (streamed if
// available, batch otherwise) segmented into sentences fed to TTS as they
// complete, with a filler played if the LLM is slow to produce its first
// token and cancellation honored at every stage boundary.
func (c *Call) runTurn(t *Turn, gen int) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	if !c.stillCurrent(t, gen) {
		return
	}
	t.setPhase(PhaseGenerating)
	t.llmStart = time.Now()

	fillerTimer := time.AfterFunc(c.cfg.FillerDelay, func() {
		c.playFiller(ctx, t)
	})
	defer fillerTimer.Stop()

	segmenter := newSentenceSegmenter(c.cfg.SentenceMinChars, c.cfg.SentenceMaxChars)
	group, gctx := errgroup.WithContext(ctx)
	sentences := make(chan string, 8)

	var reply strings.Builder
	if stream, ok := c.facade.streamingLLM(); ok {
		group.Go(func() error {
			defer close(sentences)
			_, err := stream.CompleteStream(gctx, c.session.Messages(c.getSystemPrompt()), func(token string) error {
				if t.observeShouldCancel() {
					return context.Canceled
				}
				reply.WriteString(token)
				if s := segmenter.feed(token); s != "" {
					select {
					case sentences <- s:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if rest := segmenter.flush(); rest != "" {
				select {
				case sentences <- rest:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	} else {
		group.Go(func() error {
			defer close(sentences)
			text, err := c.facade.generate(gctx, c.session.Messages(c.getSystemPrompt()))
			if err != nil {
				return err
			}
			reply.WriteString(text)
			select {
			case sentences <- text:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}

	group.Go(func() error {
		return c.speakSentences(gctx, t, sentences)
	})

	err := group.Wait()
	fillerTimer.Stop()
	t.llmEnd = time.Now()

	if !c.stillCurrent(t, gen) {
		return
	}

	if err != nil {
		c.metrics.recordLLMError()
		c.emit(CallEvent{Type: ErrorEvent, Data: fmt.Errorf("%w: %v", ErrLLMFailed, err).Error()})
		t.setPhase(PhaseDone)
		return
	}

	fullReply := reply.String()
	if fullReply != "" {
		c.session.AppendHistory("agent", fullReply)
		c.echoTxt.record(fullReply)
	}

	t.setPhase(PhaseDone)
	rec := c.metrics.recordTurn(t.ID, t.Breakdown())
	c.emit(CallEvent{Type: TurnEnded, Data: rec})

	if pending := c.agg.takePendingBargeIn(); pending != "" {
		c.beginTurn(pending)
	}
}

// speakSentences synthesizes and plays each completed sentence in order,
// marking ttsStart/ttsFirstByte/ttsEnd once per turn.
func (c *Call) speakSentences(ctx context.Context, t *Turn, sentences <-chan string) error {
	first := true
	for {
		select {
		case sentence, ok := <-sentences:
			if !ok {
				return nil
			}
			if sentence == "" {
				continue
			}
			if t.observeShouldCancel() {
				return context.Canceled
			}
			if first {
				t.setPhase(PhaseSpeaking)
				t.ttsStart = time.Now()
				c.bargeIn.notePlaybackStart()
				first = false
			}
			playCtx := c.playback.begin(ctx)
			t.markPlaybackStarted()
			c.emit(CallEvent{Type: BotSpeaking, Data: sentence})

			err := c.facade.streamSynthesize(playCtx, sentence, c.session.GetCurrentVoice(), c.session.GetCurrentLanguage(), func(chunk []byte) error {
				if t.ttsFirstByte.IsZero() {
					t.ttsFirstByte = time.Now()
				}
				c.playback.push(chunk)
				return nil
			})
			c.playback.end()
			t.ttsEnd = time.Now()
			if err != nil {
				c.metrics.recordTTSError()
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// playFiller synthesizes and plays a short filler phrase if the turn is
// still generating by the time Config.FillerDelay elapses.
func (c *Call) playFiller(ctx context.Context, t *Turn) {
	if t.getPhase() != PhaseGenerating {
		return
	}
	t.fillerStart = time.Now()
	text := c.filler.pickFiller(t.pending, c.session.TurnCount(), c.session.GetProspectName())

	audio, ok := c.filler.audioFor(text)
	if !ok {
		synth := c.facade.synthesize
		if fillerTTS, ok := c.facade.fillerTTS(); ok {
			synth = func(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
				return fillerTTS.SynthesizeFiller(ctx, text, voice, lang)
			}
		}

		var err error
		audio, err = synth(ctx, text, c.session.GetCurrentVoice(), c.session.GetCurrentLanguage())
		if err != nil {
			return
		}
		c.filler.cacheAudio(text, audio)
	}
	if t.getPhase() != PhaseGenerating {
		return
	}
	c.emit(CallEvent{Type: FillerPlaying, Data: text})
	c.playback.begin(ctx)
	c.playback.push(audio)
	c.playback.end()
}

func (c *Call) stillCurrent(t *Turn, gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn == t && c.turnGen == gen
}

// GetLatency reports the most recently completed turn's breakdown, or the
// zero value if no turn has completed yet.
func (c *Call) GetLatency() LatencyBreakdown {
	hist := c.metrics.history()
	if len(hist) == 0 {
		return LatencyBreakdown{}
	}
	return hist[len(hist)-1].Breakdown
}

// Close tears the call down: cancels any in-flight turn, stops playback and
// closes the event channel. Safe to call more than once.
func (c *Call) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.playback.stop()
		c.agg.reset()
		close(c.events)
	})
	return nil
}

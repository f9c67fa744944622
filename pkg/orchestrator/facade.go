package orchestrator

import (
	"context"
	"fmt"
)

// providerFacade gives the call orchestrator one uniform, timeout-wrapped
// view over whichever concrete STT/LLM/TTS/telephony providers were wired
// in, so Call never has to special-case a provider's quirks or juggle
// per-provider context deadlines itself.
type providerFacade struct {
	stt       STTProvider
	llm       LLMProvider
	tts       TTSProvider
	telephony TelephonyAdapter
	cfg       Config
	logger    Logger
}

func newProviderFacade(stt STTProvider, llm LLMProvider, tts TTSProvider, telephony TelephonyAdapter, cfg Config, logger Logger) (*providerFacade, error) {
	if stt == nil || llm == nil || tts == nil {
		return nil, ErrNilProvider
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &providerFacade{stt: stt, llm: llm, tts: tts, telephony: telephony, cfg: cfg, logger: logger}, nil
}

func (f *providerFacade) transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.STTTimeout)
	defer cancel()

	text, err := f.stt.Transcribe(ctx, audio, lang)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	return text, nil
}

// streamingSTT returns the STT provider's streaming capability and whether
// it is available; callers type-assert once here instead of scattering the
// assertion through the call path.
func (f *providerFacade) streamingSTT() (StreamingSTTProvider, bool) {
	s, ok := f.stt.(StreamingSTTProvider)
	return s, ok
}

func (f *providerFacade) generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.LLMTimeout)
	defer cancel()

	reply, err := f.llm.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}
	return reply, nil
}

func (f *providerFacade) streamingLLM() (StreamingLLMProvider, bool) {
	s, ok := f.llm.(StreamingLLMProvider)
	return s, ok
}

func (f *providerFacade) synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TTSTimeout)
	defer cancel()

	audio, err := f.tts.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}
	return audio, nil
}

func (f *providerFacade) streamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.TTSTimeout)
	defer cancel()

	if err := f.tts.StreamSynthesize(ctx, text, voice, lang, onChunk); err != nil {
		return fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}
	return nil
}

// abortTTS cancels an in-flight synthesis if the wired provider supports it.
func (f *providerFacade) abortTTS() {
	if a, ok := f.tts.(Aborter); ok {
		if err := a.Abort(); err != nil {
			f.logger.Warn("tts abort failed", "error", err)
		}
	}
}

func (f *providerFacade) fillerTTS() (FillerTTSProvider, bool) {
	s, ok := f.tts.(FillerTTSProvider)
	return s, ok
}

// clearEgressBuffer asks the telephony adapter, if one is wired, to drop
// whatever audio it has already buffered for delivery. This is the
// telephony-side half of a barge-in: playback.stop() halts synthesis on our
// side, but bytes already handed to the transport still need to be
// discarded there too.
func (f *providerFacade) clearEgressBuffer(callID string) {
	if f.telephony == nil {
		return
	}
	if err := f.telephony.ClearEgressBuffer(callID); err != nil {
		f.logger.Warn("clear egress buffer failed", "error", err)
	}
}

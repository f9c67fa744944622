package orchestrator

import (
	"context"
	"testing"
	"time"
)

type stubTelephony struct {
	cleared bool
}

func (s *stubTelephony) MakeCall(ctx context.Context, to string) (string, error) { return "call-1", nil }
func (s *stubTelephony) EndCall(ctx context.Context, callID string) error       { return nil }
func (s *stubTelephony) SendAudio(callID string, chunk []byte) error            { return nil }
func (s *stubTelephony) OnAudio(callID string, handler func(chunk []byte))      {}
func (s *stubTelephony) OnEvent(callID string, handler func(event CallEvent))   {}
func (s *stubTelephony) ClearEgressBuffer(callID string) error {
	s.cleared = true
	return nil
}

func newTestCall(t *testing.T, stt STTProvider, llm LLMProvider, tts TTSProvider) *Call {
	t.Helper()
	facade, err := newProviderFacade(stt, llm, tts, nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("newProviderFacade: %v", err)
	}
	session := NewSession("caller-1")
	return NewCall(context.Background(), session, facade, DefaultConfig(), nil, nil, nil)
}

func waitForEvent(t *testing.T, c *Call, want EventType) CallEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-c.Events():
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestCallGreetPlaysOpeningLineAndRecordsHistory(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{}, &stubTTS{audio: []byte{1, 2, 3, 4}})
	defer c.Close()

	if err := c.Greet(context.Background(), "hello there"); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	hist := c.session.HistoryCopy()
	if len(hist) != 1 || hist[0].Role != "agent" || hist[0].Text != "hello there" {
		t.Fatalf("expected greeting recorded in history, got %+v", hist)
	}
	if !c.echoTxt.isEcho("hello there") {
		t.Fatal("expected the greeting to be registered in the text echo guard")
	}
}

func TestCallBeginTurnRunsEndToEndAndEmitsTurnEnded(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{reply: "a helpful reply"}, &stubTTS{audio: []byte{9, 9}})
	defer c.Close()

	c.beginTurn("what is my balance")
	waitForEvent(t, c, BotThinking)
	waitForEvent(t, c, BotSpeaking)
	waitForEvent(t, c, TurnEnded)

	hist := c.session.HistoryCopy()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "agent" || hist[1].Text != "a helpful reply" {
		t.Fatalf("expected user+agent turns recorded, got %+v", hist)
	}
}

func TestCallInterruptCancelsActiveTurn(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{reply: "a reply"}, &stubTTS{audio: []byte{1}})
	defer c.Close()

	c.mu.Lock()
	turn := NewTurn()
	turn.setPhase(PhaseSpeaking)
	c.turn = turn
	c.mu.Unlock()
	c.playback.begin(context.Background())

	c.interruptBargeIn("barge-in")

	evt := waitForEvent(t, c, Interrupted)
	if evt.Data != "barge-in" {
		t.Fatalf("expected interrupt reason in event data, got %v", evt.Data)
	}
	if turn.getPhase() != PhaseCancelled {
		t.Fatalf("expected turn phase cancelled, got %v", turn.getPhase())
	}
	if c.playback.isSpeaking() {
		t.Fatal("expected playback stopped after interrupt")
	}
}

func TestCallCloseIsIdempotentAndStopsEvents(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{}, &stubTTS{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if _, ok := <-c.Events(); ok {
		t.Fatal("expected events channel closed after Close")
	}
}

func TestCallContinuationCancelIsCheapAndMergesText(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{reply: "ok"}, &stubTTS{audio: []byte{1}})
	defer c.Close()

	c.mu.Lock()
	c.greeting = false
	turn := NewTurn()
	turn.setPhase(PhaseGenerating)
	turn.pending = "what's the"
	c.turn = turn
	c.mu.Unlock()

	c.continuationCancel(turn, "what's the price for the basic plan", true)

	if turn.getPhase() != PhaseCancelled {
		t.Fatalf("expected old turn cancelled, got %v", turn.getPhase())
	}
	if !turn.observeShouldCancel() {
		t.Fatal("expected should_cancel set on the cancelled turn")
	}

	// The merged text is fed straight to onFinal, so it starts a fresh turn
	// carrying both halves without a second LLM call being required for the
	// stale half.
	waitForEvent(t, c, BotThinking)
	hist := c.session.HistoryCopy()
	if len(hist) == 0 || hist[0].Text != "what's the what's the price for the basic plan" {
		t.Fatalf("expected merged continuation text in history, got %+v", hist)
	}
}

func TestCallContinuationCancelDedupesRepeatedPartials(t *testing.T) {
	c := newTestCall(t, &stubSTT{}, &stubLLM{reply: "ok"}, &stubTTS{audio: []byte{1}})
	defer c.Close()

	turn := NewTurn()
	turn.setPhase(PhaseGenerating)

	if !turn.markContinuationPending() {
		t.Fatal("expected first call to claim the continuation")
	}
	if turn.markContinuationPending() {
		t.Fatal("expected a second call on the same turn to be a no-op")
	}
}

func TestCallInterruptBargeInClearsEgressBuffer(t *testing.T) {
	tel := &stubTelephony{}
	facade, err := newProviderFacade(&stubSTT{}, &stubLLM{}, &stubTTS{}, tel, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("newProviderFacade: %v", err)
	}
	session := NewSession("caller-1")
	c := NewCall(context.Background(), session, facade, DefaultConfig(), nil, nil, nil)
	defer c.Close()

	c.mu.Lock()
	turn := NewTurn()
	turn.setPhase(PhaseSpeaking)
	turn.markPlaybackStarted()
	c.turn = turn
	c.mu.Unlock()
	c.playback.begin(context.Background())

	c.interruptBargeIn("transcript barge-in")
	waitForEvent(t, c, Interrupted)

	if !tel.cleared {
		t.Fatal("expected barge-in to clear the telephony egress buffer")
	}
}

func TestCallOnRawTranscriptStartsTurnOnceDebounced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FinalOnlyDebounce = 10 * time.Millisecond
	facade, _ := newProviderFacade(&stubSTT{}, &stubLLM{reply: "ok"}, &stubTTS{audio: []byte{1}}, nil, cfg, nil)
	session := NewSession("caller-1")
	c := NewCall(context.Background(), session, facade, cfg, nil, nil, nil)
	defer c.Close()

	c.mu.Lock()
	c.greeting = false
	c.mu.Unlock()

	c.onRawTranscript("what time is it", true)
	waitForEvent(t, c, TurnEnded)
}

package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnPhase is the Turn State Machine's lifecycle.
type TurnPhase string

const (
	PhaseIdle        TurnPhase = "idle"
	PhaseAggregating TurnPhase = "aggregating"
	PhaseGenerating  TurnPhase = "generating"
	PhaseSpeaking    TurnPhase = "speaking"
	PhaseCancelled   TurnPhase = "cancelled"
	PhaseDone        TurnPhase = "done"
)

// turnFlags groups the small set of cancellation/continuation flags a turn
// needs, observed together under one lock instead of as scattered booleans.
type turnFlags struct {
	shouldCancel        bool
	playbackStarted     bool
	continuationPending bool
}

// Turn is the ephemeral per-utterance state of one user-turn-to-agent-reply
// cycle. At most one Turn per session may be in {generating, speaking} at
// any instant; Call enforces this by construction rather than with a
// separate lock.
type Turn struct {
	mu sync.Mutex

	ID    string
	Phase TurnPhase
	flags turnFlags

	// Pending transcription buffer accumulated by the aggregator.
	pending string

	// greetingTranscription buffers caller speech that arrived while the
	// agent's opening greeting was still playing; it is prepended to the
	// next real turn's text once the greeting finishes.
	greetingTranscription string

	// Per-stage timestamps used to derive LatencyBreakdown below.
	sttStart      time.Time
	sttEnd        time.Time
	llmStart      time.Time
	llmEnd        time.Time
	ttsStart      time.Time
	ttsFirstByte  time.Time
	ttsEnd        time.Time
	fillerStart   time.Time
	createdAt     time.Time

	err error
}

// NewTurn allocates a fresh Turn in phase idle.
func NewTurn() *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Phase:     PhaseIdle,
		createdAt: time.Now(),
	}
}

func (t *Turn) setPhase(p TurnPhase) {
	t.mu.Lock()
	t.Phase = p
	t.mu.Unlock()
}

func (t *Turn) getPhase() TurnPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Phase
}

// active reports whether this turn currently occupies the single
// generating/speaking slot (invariant T1).
func (t *Turn) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Phase == PhaseGenerating || t.Phase == PhaseSpeaking
}

func (t *Turn) markShouldCancel() {
	t.mu.Lock()
	t.flags.shouldCancel = true
	t.mu.Unlock()
}

func (t *Turn) observeShouldCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags.shouldCancel
}

func (t *Turn) markPlaybackStarted() {
	t.mu.Lock()
	t.flags.playbackStarted = true
	t.mu.Unlock()
}

func (t *Turn) playbackStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags.playbackStarted
}

// appendGreetingTranscription appends text to the buffer of caller speech
// observed while the greeting was playing (§4.1 rule 3), space-joined and
// trimmed.
func (t *Turn) appendGreetingTranscription(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.greetingTranscription = strings.TrimSpace(t.greetingTranscription + " " + text)
}

// takeGreetingTranscription returns and clears the buffered greeting-time
// speech, so beginTurn prepends it exactly once.
func (t *Turn) takeGreetingTranscription() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := t.greetingTranscription
	t.greetingTranscription = ""
	return text
}

// markContinuationPending reports true the first time it is called on this
// turn and false afterward, so a run of several qualifying partials during
// one continuation only cancels and acknowledges once.
func (t *Turn) markContinuationPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flags.continuationPending {
		return false
	}
	t.flags.continuationPending = true
	return true
}

// LatencyBreakdown derives per-stage durations for one turn. Time-to-first-
// audio is anchored to sttStart (not llmStart or ttsStart) so it reflects
// what the caller actually experienced as thinking time.
type LatencyBreakdown struct {
	STT             time.Duration
	LLM             time.Duration
	TTS             time.Duration
	Total           time.Duration
	TimeToFirstAudio time.Duration
}

// Breakdown computes:
//
//	stt   = stt_end   - stt_start
//	llm   = llm_end   - llm_start
//	tts   = tts_end   - tts_start
//	total = tts_end   - stt_start
//	ttfa  = (filler_start or tts_first_byte) - stt_start
func (t *Turn) Breakdown() LatencyBreakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bd LatencyBreakdown
	if !t.sttStart.IsZero() && !t.sttEnd.IsZero() {
		bd.STT = t.sttEnd.Sub(t.sttStart)
	}
	if !t.llmStart.IsZero() && !t.llmEnd.IsZero() {
		bd.LLM = t.llmEnd.Sub(t.llmStart)
	}
	if !t.ttsStart.IsZero() && !t.ttsEnd.IsZero() {
		bd.TTS = t.ttsEnd.Sub(t.ttsStart)
	}
	if !t.sttStart.IsZero() && !t.ttsEnd.IsZero() {
		bd.Total = t.ttsEnd.Sub(t.sttStart)
	}
	if !t.sttStart.IsZero() {
		ttfaAnchor := t.ttsFirstByte
		if !t.fillerStart.IsZero() {
			ttfaAnchor = t.fillerStart
		}
		if !ttfaAnchor.IsZero() {
			bd.TimeToFirstAudio = ttfaAnchor.Sub(t.sttStart)
		}
	}
	return bd
}

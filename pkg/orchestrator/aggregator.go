package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// aggregator turns a stream of partial/final STT results into discrete
// turns. It debounces partials so a caller's natural mid-sentence pauses
// don't each spawn a turn, and it recognizes "continuation" partials that
// arrive after generation has already started so the turn machine can
// decide whether to treat them as a cheap amendment or a real barge-in.
type aggregator struct {
	mu sync.Mutex

	cfg          Config
	hasStreaming bool
	onFlush      func(text string)

	pending     string
	lastPartial string
	timer       *time.Timer

	// pendingBargeIn holds caller speech observed while a turn is actively
	// speaking, until the turn machine resolves whether it is a real
	// interruption or should be folded into the next turn.
	pendingBargeIn string
}

func newAggregator(cfg Config, hasStreaming bool, onFlush func(text string)) *aggregator {
	return &aggregator{
		cfg:          cfg,
		hasStreaming: hasStreaming,
		onFlush:      onFlush,
	}
}

func (a *aggregator) debounceInterval() time.Duration {
	if a.hasStreaming {
		return a.cfg.PartialDebounce
	}
	return a.cfg.FinalOnlyDebounce
}

// onPartial records a non-final STT result and (re)arms the debounce timer.
// Repeated identical partials (a provider re-sending the same in-progress
// transcript) are suppressed rather than restarting the timer, so a
// provider that merely re-confirms a stable partial doesn't starve the
// flush indefinitely.
func (a *aggregator) onPartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if text == a.lastPartial && a.timer != nil {
		return
	}
	a.lastPartial = text
	a.pending = text

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.debounceInterval(), a.flushLocked)
}

// onFinal flushes immediately with the final transcript, bypassing the
// debounce window. An empty or whitespace-only final is not a real result:
// per §4.2 it leaves pending and the armed debounce timer untouched rather
// than clearing them, so a stray empty final doesn't erase a partial still
// waiting to flush.
func (a *aggregator) onFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = ""
	a.lastPartial = ""
	go a.onFlush(text)
}

func (a *aggregator) flushLocked() {
	a.mu.Lock()
	text := a.pending
	a.pending = ""
	a.lastPartial = ""
	a.timer = nil
	a.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.onFlush(text)
}

// isContinuation reports whether a partial transcript observed while a turn
// is already generating/speaking is long enough to be treated as a
// continuation of the caller's prior thought rather than noise, per
// ContinuationMinChars.
func (a *aggregator) isContinuation(partial string) bool {
	return len(strings.TrimSpace(partial)) >= a.cfg.ContinuationMinChars
}

func (a *aggregator) setPendingBargeIn(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingBargeIn = text
}

func (a *aggregator) takePendingBargeIn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.pendingBargeIn
	a.pendingBargeIn = ""
	return text
}

func (a *aggregator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = ""
	a.lastPartial = ""
	a.pendingBargeIn = ""
}

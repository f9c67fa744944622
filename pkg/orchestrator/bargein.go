package orchestrator

import (
	"sync"
	"time"
)

// bargeInDetector decides whether the agent's current utterance should be
// cut short by the caller. It combines two triggers: a fast energy trigger
// from the VAD (good for "stop talking" grunts and interjections with no
// clean transcript yet) and a transcript trigger (a final transcript with
// at least MinWordsToInterrupt words). The energy trigger is
// masked for a short grace period right after playback starts, since that
// is exactly when speaker self-echo is most likely to fool the VAD before
// the echo suppressor's reference buffer has caught up.
type bargeInDetector struct {
	mu             sync.Mutex
	grace          time.Duration
	playbackStart  time.Time
	greetingActive bool
}

func newBargeInDetector(grace time.Duration) *bargeInDetector {
	return &bargeInDetector{grace: grace}
}

func (b *bargeInDetector) notePlaybackStart() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playbackStart = time.Now()
}

func (b *bargeInDetector) setGreetingActive(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.greetingActive = active
}

// energyAllowed reports whether an energy-only VAD trigger should be
// honored right now, given that the playback timeline estimate says audio
// is still outstanding (stillPlaying). During the opening greeting,
// energy-only barge-in is disabled outright — most "speech" detected there
// is the caller picking up the handset, not an intentional interruption —
// and it is masked inside the grace window right after playback starts, to
// give the echo suppressor's reference buffer time to catch up.
func (b *bargeInDetector) energyAllowed(stillPlaying bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.greetingActive || !stillPlaying {
		return false
	}
	if b.playbackStart.IsZero() {
		return true
	}
	return time.Since(b.playbackStart) >= b.grace
}

// transcriptAllowed reports whether a transcript-based trigger should be
// honored. Unlike the energy trigger, a real transcript bypasses the grace
// period entirely: if STT produced actual words, it isn't self-echo. It
// still requires stillPlaying (§4.4: "any final transcript arriving while
// playback_end_time > now") and is disabled during the greeting.
func (b *bargeInDetector) transcriptAllowed(wordCount, minWords int, stillPlaying bool) bool {
	b.mu.Lock()
	greeting := b.greetingActive
	b.mu.Unlock()
	if greeting || !stillPlaying {
		return false
	}
	return wordCount >= minWords
}

package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"
)

// sentenceSegmenter accumulates streamed LLM tokens and decides when enough
// text has landed to hand a chunk to TTS, instead of waiting for the whole
// reply. It flushes at a sentence boundary once the buffer is at least
// SentenceMinChars, and force-flushes at SentenceMaxChars even mid-sentence
// so one long run-on clause doesn't stall audio output.
type sentenceSegmenter struct {
	buf      strings.Builder
	minChars int
	maxChars int
}

func newSentenceSegmenter(minChars, maxChars int) *sentenceSegmenter {
	return &sentenceSegmenter{minChars: minChars, maxChars: maxChars}
}

// feed appends token to the buffer and returns a sentence to synthesize if
// one is ready, or "" if more text is needed first.
func (s *sentenceSegmenter) feed(token string) string {
	s.buf.WriteString(token)
	cur := s.buf.String()

	if len(cur) >= s.minChars {
		if idx := lastSentenceBoundary(cur); idx >= 0 && idx+1 >= s.minChars {
			out := cur[:idx+1]
			s.buf.Reset()
			s.buf.WriteString(cur[idx+1:])
			return strings.TrimSpace(out)
		}
	}
	if len(cur) >= s.maxChars {
		s.buf.Reset()
		return strings.TrimSpace(cur)
	}
	return ""
}

// flush returns whatever remains buffered, for the end of a reply.
func (s *sentenceSegmenter) flush() string {
	out := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return out
}

func lastSentenceBoundary(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?', ':', ';':
			return i
		}
	}
	return -1
}

// playbackController hands each synthesized audio chunk straight to onChunk
// (the telephony-bound path) while an utterance is active, without queueing
// it, and tracks whether the agent is
// currently speaking so the barge-in detector and event emitter can reason
// about it without reaching into TTS internals. It also maintains the
// playback timeline estimate from §3: playback_end_time = max(now,
// prior_end) + chunk_duration for every chunk handed downstream. The
// estimate is deliberately conservative — it can only be ahead of the true
// last-byte-sent moment, never behind it, which is what makes the barge-in
// grace window safe to gate on it (invariant C3-1).
type playbackController struct {
	mu           sync.Mutex
	speaking     bool
	cancel       context.CancelFunc
	onChunk      func([]byte)
	endedAt      time.Time
	bytesPerSec  int
	playbackEnd  time.Time
	bytesEmitted int64
}

func newPlaybackController(onChunk func([]byte)) *playbackController {
	return &playbackController{onChunk: onChunk, bytesPerSec: 1}
}

// setBytesPerSecond configures the PCM byte rate used to convert an emitted
// chunk's length into a playback duration. Call once at construction with
// Config.AudioBytesPerSecond(); defaults to 1 byte per second if never set
// (a non-positive n is ignored), so tests that don't care about the
// timeline still work, with every byte counted as a full second.
func (p *playbackController) setBytesPerSecond(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > 0 {
		p.bytesPerSec = n
	}
}

// begin marks playback as started and returns a cancellable context scoped
// to this utterance; calling the returned cancel or stop() ends it.
func (p *playbackController) begin(ctx context.Context) context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	childCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.speaking = true
	return childCtx
}

// push delivers one audio chunk downstream while an utterance is active and
// advances the playback timeline estimate by the chunk's implied duration.
func (p *playbackController) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	speaking := p.speaking
	if speaking {
		now := time.Now()
		base := p.playbackEnd
		if base.Before(now) {
			base = now
		}
		dur := time.Duration(float64(len(chunk)) / float64(p.bytesPerSec) * float64(time.Second))
		p.playbackEnd = base.Add(dur)
		p.bytesEmitted += int64(len(chunk))
	}
	p.mu.Unlock()
	if !speaking {
		return
	}
	p.onChunk(chunk)
}

// stop cancels any in-flight synthesis, marks playback as ended and zeroes
// the playback timeline estimate — §4.1 rule 2 requires the estimate go to
// zero immediately on barge-in so a subsequent energy check doesn't see
// stale "still playing" state.
func (p *playbackController) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.speaking = false
	p.endedAt = time.Now()
	p.playbackEnd = time.Time{}
}

// end marks the current utterance as finished normally (ran to completion,
// not cancelled). The playback timeline estimate is left alone: it may
// still be in the future if the telephony side is draining its own buffer.
func (p *playbackController) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel = nil
	p.speaking = false
	p.endedAt = time.Now()
}

func (p *playbackController) isSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

func (p *playbackController) lastEndedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endedAt
}

// playbackEndTime returns the current playback timeline estimate (zero if
// no audio is outstanding).
func (p *playbackController) playbackEndTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbackEnd
}

// stillPlaying reports whether the playback timeline estimate is still in
// the future, i.e. outbound audio is believed to still be streaming to the
// caller (invariant P1).
func (p *playbackController) stillPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playbackEnd.After(time.Now())
}

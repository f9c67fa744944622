package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"
)

// fillerStage buckets where in the conversation a filler is being requested,
// so the scheduler can pick wording that doesn't sound repetitive or
// out of place on the first versus the tenth turn.
type fillerStage int

const (
	fillerStageOpening fillerStage = iota
	fillerStageMid
	fillerStageLate
)

var fillerPhrasesByStage = map[fillerStage][]string{
	fillerStageOpening: {"Let me take a look.", "One moment.", "Okay, let's see."},
	fillerStageMid:     {"Mm-hmm, one sec.", "Let me check that for you.", "Give me just a moment."},
	fillerStageLate:    {"Almost there.", "Just a little longer.", "Thanks for your patience."},
}

// personalizedFillerPhrasesByStage mirrors fillerPhrasesByStage index for
// index, substituting "{name}" — the only placeholder §6 allows — for a
// known prospect name instead of the plain generic phrase.
var personalizedFillerPhrasesByStage = map[fillerStage][]string{
	fillerStageOpening: {"Let me take a look, {name}.", "One moment, {name}.", "Okay, let's see, {name}."},
	fillerStageMid:     {"Mm-hmm, one sec, {name}.", "Let me check that for you, {name}.", "Give me just a moment, {name}."},
	fillerStageLate:    {"Almost there, {name}.", "Just a little longer, {name}.", "Thanks for your patience, {name}."},
}

var acknowledgmentPhrases = []string{"Mm-hmm.", "Got it.", "Okay.", "I see."}

var personalizedAcknowledgmentPhrases = []string{"Mm-hmm, {name}.", "Got it, {name}.", "Okay, {name}.", "I see, {name}."}

// keywordIntents maps a cheap substring match in the caller's transcript to
// a more specific filler, used when the generic stage-based phrase would
// feel generic against an obviously involved question. personalizedKeywordIntents
// is index-aligned with keywordIntents.
var keywordIntents = []struct {
	keyword string
	phrase  string
}{
	{"price", "Let me pull up the pricing for you."},
	{"cost", "Let me check the cost on that."},
	{"cancel", "Let me look into cancelling that."},
	{"refund", "Let me check on that refund."},
	{"schedule", "Let me check the schedule."},
}

var personalizedKeywordIntents = []string{
	"Let me pull up the pricing for you, {name}.",
	"Let me check the cost on that, {name}.",
	"Let me look into cancelling that, {name}.",
	"Let me check on that refund, {name}.",
	"Let me check the schedule, {name}.",
}

// allFixedPhrases lists every fixed filler/acknowledgment phrase the process-
// wide cache pre-synthesizes at startup (§4.6: "pre-synthesised at startup
// and cached"), excluding the per-name personalised variants, which are
// warmed lazily once a call's prospect name is known.
func allFixedPhrases() []string {
	var out []string
	for _, stage := range []fillerStage{fillerStageOpening, fillerStageMid, fillerStageLate} {
		out = append(out, fillerPhrasesByStage[stage]...)
	}
	for _, ki := range keywordIntents {
		out = append(out, ki.phrase)
	}
	out = append(out, acknowledgmentPhrases...)
	return out
}

// allPersonalizedTemplates lists every "{name}"-templated phrase, index-
// aligned with its plain counterpart from allFixedPhrases's constituent
// lists, so warmPersonalized can substitute and synthesize each one for a
// newly-seen prospect name.
func allPersonalizedTemplates() []string {
	var out []string
	for _, stage := range []fillerStage{fillerStageOpening, fillerStageMid, fillerStageLate} {
		out = append(out, personalizedFillerPhrasesByStage[stage]...)
	}
	out = append(out, personalizedKeywordIntents...)
	out = append(out, personalizedAcknowledgmentPhrases...)
	return out
}

// fillerSynthFunc synthesizes one phrase's audio for the cache to store,
// independent of any particular call's context.
type fillerSynthFunc func(ctx context.Context, text string) ([]byte, error)

// fillerAudioCache is the "pre-warmed filler audio cache" §9 names as one of
// the two pieces of process-wide global state, written at startup by
// preload and otherwise read-only from every call's hot path. Per-name
// personalised entries are the one exception: warmPersonalized adds them
// lazily, the first time a given prospect name is seen, so a call's own
// filler/acknowledgment lookups never pay for a name this process hasn't
// met yet — after that first warm, the entry behaves like any other
// pre-warmed clip.
type fillerAudioCache struct {
	mu    sync.RWMutex
	clips map[string][]byte
}

func newFillerAudioCache() *fillerAudioCache {
	return &fillerAudioCache{clips: make(map[string][]byte)}
}

func (c *fillerAudioCache) get(text string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	audio, ok := c.clips[text]
	return audio, ok
}

func (c *fillerAudioCache) set(text string, audio []byte) {
	if len(audio) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clips[text] = audio
}

// preload synthesizes every fixed filler/acknowledgment phrase and populates
// the cache. Meant to run once, before any call is accepted — never on a
// call's turn-processing path, per §4.6's "the scheduler never blocks on TTS
// synthesis on the hot path." A failed phrase is logged and skipped; it
// falls back to on-demand synthesis the first time it's actually needed.
func (c *fillerAudioCache) preload(ctx context.Context, logger Logger, synth fillerSynthFunc) {
	for _, phrase := range allFixedPhrases() {
		audio, err := synth(ctx, phrase)
		if err != nil {
			logger.Warn("filler cache preload failed", "phrase", phrase, "error", err)
			continue
		}
		c.set(phrase, audio)
	}
}

// warmPersonalized synthesizes every "{name}"-templated phrase for name and
// adds it to the cache, so that name's fillers/acknowledgments are already
// warm by the time a turn needs one. Safe to call concurrently with preload
// or with a live call; entries already cached are skipped.
func (c *fillerAudioCache) warmPersonalized(ctx context.Context, logger Logger, synth fillerSynthFunc, name string) {
	if name == "" {
		return
	}
	for _, tmpl := range allPersonalizedTemplates() {
		text := applyName(tmpl, name)
		if _, ok := c.get(text); ok {
			continue
		}
		audio, err := synth(ctx, text)
		if err != nil {
			logger.Warn("personalized filler warm failed", "text", text, "error", err)
			continue
		}
		c.set(text, audio)
	}
}

// applyName substitutes "{name}" — the only placeholder §6 defines — for
// name in template. Returns template unchanged if name is empty.
func applyName(template, name string) string {
	if name == "" {
		return template
	}
	return strings.ReplaceAll(template, "{name}", name)
}

// fillerScheduler decides when to play a short filler or acknowledgment
// utterance while the LLM or TTS stage is slow, and rate-limits
// acknowledgments so they don't fire on every single turn.
type fillerScheduler struct {
	mu           sync.Mutex
	cooldown     time.Duration
	lastAckAt    time.Time
	fillerTTS    FillerTTSProvider
	defaultVoice Voice
	defaultLang  Language
	cache        *fillerAudioCache
}

func newFillerScheduler(cooldown time.Duration, fillerTTS FillerTTSProvider, voice Voice, lang Language, cache *fillerAudioCache) *fillerScheduler {
	return &fillerScheduler{
		cooldown:     cooldown,
		fillerTTS:    fillerTTS,
		defaultVoice: voice,
		defaultLang:  lang,
		cache:        cache,
	}
}

// stageFor classifies a turn index into a fillerStage.
func stageFor(turnCount int) fillerStage {
	switch {
	case turnCount <= 1:
		return fillerStageOpening
	case turnCount <= 5:
		return fillerStageMid
	default:
		return fillerStageLate
	}
}

// pickFiller chooses filler text for a slow-responding turn, preferring a
// keyword-matched phrase over the generic stage rotation when the caller's
// transcript names a recognizable intent, personalised with name if one is
// known for this call.
func (f *fillerScheduler) pickFiller(transcript string, turnCount int, name string) string {
	lower := strings.ToLower(transcript)
	for i, ki := range keywordIntents {
		if strings.Contains(lower, ki.keyword) {
			if name != "" {
				return applyName(personalizedKeywordIntents[i], name)
			}
			return ki.phrase
		}
	}
	stage := stageFor(turnCount)
	phrases := fillerPhrasesByStage[stage]
	idx := turnCount % len(phrases)
	if name != "" {
		return applyName(personalizedFillerPhrasesByStage[stage][idx], name)
	}
	return phrases[idx]
}

// allowAcknowledgment reports whether enough time has passed since the last
// acknowledgment to emit another one, and if so reserves the slot.
func (f *fillerScheduler) allowAcknowledgment() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastAckAt) < f.cooldown {
		return false
	}
	f.lastAckAt = time.Now()
	return true
}

func (f *fillerScheduler) pickAcknowledgment(turnCount int, name string) string {
	idx := turnCount % len(acknowledgmentPhrases)
	if name != "" {
		return applyName(personalizedAcknowledgmentPhrases[idx], name)
	}
	return acknowledgmentPhrases[idx]
}

// hasFillerVoice reports whether a dedicated low-latency filler voice path
// is configured; callers fall back to the main TTS provider otherwise.
func (f *fillerScheduler) hasFillerVoice() bool {
	return f.fillerTTS != nil
}

// audioFor returns the pre-warmed clip for text, if the cache has one, so
// the hot path can play it immediately instead of calling out to TTS.
func (f *fillerScheduler) audioFor(text string) ([]byte, bool) {
	if f.cache == nil {
		return nil, false
	}
	return f.cache.get(text)
}

// cacheAudio stores a just-synthesized clip so a later turn in this (or any
// other) call hits the cache instead of synthesizing the same text again.
func (f *fillerScheduler) cacheAudio(text string, audio []byte) {
	if f.cache == nil {
		return
	}
	f.cache.set(text, audio)
}

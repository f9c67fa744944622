package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// echoRegisterEntry is one recently-spoken agent utterance, kept around just
// long enough that a matching STT result can be recognized as the caller's
// phone picking up the agent's own voice rather than real caller speech.
type echoRegisterEntry struct {
	normalized string
	tokens     map[string]struct{}
	expiresAt  time.Time
}

// echoRegister is the text-domain companion to audioEchoSuppressor. Where
// the audio suppressor rejects correlated waveforms before STT ever sees
// them, this register catches the case where the audio still made it
// through — picked up a beat later by a different microphone, or partially
// masked by room noise — but the resulting transcript closely matches
// something the agent just said.
type echoRegister struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries []echoRegisterEntry
}

func newEchoRegister(ttl time.Duration) *echoRegister {
	return &echoRegister{ttl: ttl}
}

// record adds an agent utterance to the register, due to expire after ttl.
func (r *echoRegister) record(text string) {
	norm := normalizeForEcho(text)
	if norm == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, echoRegisterEntry{
		normalized: norm,
		tokens:     tokenSet(norm),
		expiresAt:  time.Now().Add(r.ttl),
	})
}

// isEcho reports whether transcript is a near-match of any unexpired
// registered agent utterance, using substring/superstring containment and a
// Jaccard token-overlap fallback — enough to catch truncated or slightly
// garbled echo without pulling in a fuzzy-matching dependency for a single
// narrow comparison.
func (r *echoRegister) isEcho(transcript string) bool {
	norm := normalizeForEcho(transcript)
	if norm == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	live := r.entries[:0]
	found := false
	for _, e := range r.entries {
		if now.After(e.expiresAt) {
			continue
		}
		live = append(live, e)
		if found {
			continue
		}
		if strings.Contains(e.normalized, norm) || strings.Contains(norm, e.normalized) {
			found = true
			continue
		}
		if jaccard(tokenSet(norm), e.tokens) >= 0.6 {
			found = true
		}
	}
	r.entries = live
	return found
}

func (r *echoRegister) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func normalizeForEcho(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ', r == '\t', r == '\n':
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// punctuation dropped, not replaced with a space
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenSet(normalized string) map[string]struct{} {
	toks := strings.Fields(normalized)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

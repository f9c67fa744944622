package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStageForBuckets(t *testing.T) {
	cases := []struct {
		turnCount int
		want      fillerStage
	}{
		{0, fillerStageOpening},
		{1, fillerStageOpening},
		{2, fillerStageMid},
		{5, fillerStageMid},
		{6, fillerStageLate},
		{50, fillerStageLate},
	}
	for _, c := range cases {
		if got := stageFor(c.turnCount); got != c.want {
			t.Errorf("stageFor(%d) = %v, want %v", c.turnCount, got, c.want)
		}
	}
}

func TestFillerSchedulerPicksKeywordOverStage(t *testing.T) {
	f := newFillerScheduler(time.Second, nil, VoiceF1, LanguageEn, nil)
	phrase := f.pickFiller("what's the price on this plan", 0, "")
	if phrase != "Let me pull up the pricing for you." {
		t.Fatalf("expected keyword-matched phrase, got %q", phrase)
	}
}

func TestFillerSchedulerFallsBackToStagePhrase(t *testing.T) {
	f := newFillerScheduler(time.Second, nil, VoiceF1, LanguageEn, nil)
	phrase := f.pickFiller("just checking in", 0, "")
	found := false
	for _, p := range fillerPhrasesByStage[fillerStageOpening] {
		if phrase == p {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an opening-stage phrase, got %q", phrase)
	}
}

func TestFillerSchedulerPersonalizesWithName(t *testing.T) {
	f := newFillerScheduler(time.Second, nil, VoiceF1, LanguageEn, nil)
	phrase := f.pickFiller("what's the price on this plan", 0, "Sam")
	if phrase != "Let me pull up the pricing for you, Sam." {
		t.Fatalf("expected personalized keyword phrase, got %q", phrase)
	}

	ack := f.pickAcknowledgment(0, "Sam")
	if ack != "Mm-hmm, Sam." {
		t.Fatalf("expected personalized acknowledgment, got %q", ack)
	}
}

func TestFillerSchedulerAcknowledgmentCooldown(t *testing.T) {
	f := newFillerScheduler(50*time.Millisecond, nil, VoiceF1, LanguageEn, nil)

	if !f.allowAcknowledgment() {
		t.Fatal("expected first acknowledgment to be allowed")
	}
	if f.allowAcknowledgment() {
		t.Fatal("expected acknowledgment to be gated by cooldown")
	}
	time.Sleep(60 * time.Millisecond)
	if !f.allowAcknowledgment() {
		t.Fatal("expected acknowledgment allowed again after cooldown elapses")
	}
}

func TestFillerSchedulerHasFillerVoice(t *testing.T) {
	f := newFillerScheduler(time.Second, nil, VoiceF1, LanguageEn, nil)
	if f.hasFillerVoice() {
		t.Fatal("expected no filler voice when none was configured")
	}
}

func TestFillerAudioCachePreloadAndLookup(t *testing.T) {
	cache := newFillerAudioCache()
	synth := func(ctx context.Context, text string) ([]byte, error) {
		return []byte(text), nil
	}
	cache.preload(context.Background(), &NoOpLogger{}, synth)

	for _, phrase := range allFixedPhrases() {
		audio, ok := cache.get(phrase)
		if !ok {
			t.Fatalf("expected phrase %q to be cached after preload", phrase)
		}
		if string(audio) != phrase {
			t.Fatalf("expected cached audio %q, got %q", phrase, audio)
		}
	}
}

func TestFillerAudioCachePreloadSkipsFailures(t *testing.T) {
	cache := newFillerAudioCache()
	synth := func(ctx context.Context, text string) ([]byte, error) {
		return nil, errors.New("tts unavailable")
	}
	cache.preload(context.Background(), &NoOpLogger{}, synth)

	if _, ok := cache.get(allFixedPhrases()[0]); ok {
		t.Fatal("expected no cache entry when every synthesis call fails")
	}
}

func TestFillerAudioCacheWarmPersonalizedIsIdempotent(t *testing.T) {
	cache := newFillerAudioCache()
	calls := 0
	synth := func(ctx context.Context, text string) ([]byte, error) {
		calls++
		return []byte(text), nil
	}
	cache.warmPersonalized(context.Background(), &NoOpLogger{}, synth, "Sam")
	first := calls
	if first == 0 {
		t.Fatal("expected warmPersonalized to synthesize at least one template")
	}
	cache.warmPersonalized(context.Background(), &NoOpLogger{}, synth, "Sam")
	if calls != first {
		t.Fatalf("expected already-warmed entries to be skipped, got %d additional calls", calls-first)
	}

	text, ok := cache.get("Mm-hmm, Sam.")
	if !ok || string(text) != "Mm-hmm, Sam." {
		t.Fatalf("expected personalized acknowledgment cached, got %q, ok=%v", text, ok)
	}
}

func TestFillerScheduler_audioForUsesCache(t *testing.T) {
	cache := newFillerAudioCache()
	cache.set("One moment.", []byte("clip"))
	f := newFillerScheduler(time.Second, nil, VoiceF1, LanguageEn, cache)

	audio, ok := f.audioFor("One moment.")
	if !ok || string(audio) != "clip" {
		t.Fatalf("expected cached clip, got %q, ok=%v", audio, ok)
	}
	if _, ok := f.audioFor("not cached"); ok {
		t.Fatal("expected miss for uncached text")
	}
}

func TestApplyName(t *testing.T) {
	if got := applyName("Hi {name}.", "Sam"); got != "Hi Sam." {
		t.Fatalf("expected substitution, got %q", got)
	}
	if got := applyName("Hi {name}.", ""); got != "Hi {name}." {
		t.Fatalf("expected template unchanged for empty name, got %q", got)
	}
}

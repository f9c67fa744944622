package orchestrator

import (
	"math"
	"testing"
	"time"
)

func generateSineForTest(freq float64, durationMs, sampleRate int, amp float64) []byte {
	n := sampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		tt := float64(i) / float64(sampleRate)
		v := amp * math.Sin(2*math.Pi*freq*tt)
		s := int16(v * 32767)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func TestAudioEchoSuppressorDetectsCorrelatedPlayback(t *testing.T) {
	es := newAudioEchoSuppressor()
	played := generateSineForTest(440, 200, 44100, 0.8)
	es.recordPlayed(played)
	es.lastTTSTime = time.Now()

	frame := played[len(played)-1764:]
	if !es.isEcho(frame) {
		t.Fatal("expected a tail slice of the played audio to be detected as echo")
	}
}

func TestAudioEchoSuppressorRejectsUnrelatedAudio(t *testing.T) {
	es := newAudioEchoSuppressor()
	es.recordPlayed(generateSineForTest(440, 200, 44100, 0.8))
	es.lastTTSTime = time.Now()

	different := generateSineForTest(880, 200, 44100, 0.8)
	if es.isEcho(different[:1764]) {
		t.Fatal("unrelated audio should not be flagged as echo")
	}
}

func TestAudioEchoSuppressorSilenceWindowExpires(t *testing.T) {
	es := newAudioEchoSuppressor()
	es.echoSilenceMS = 10
	played := generateSineForTest(440, 200, 44100, 0.8)
	es.recordPlayed(played)

	time.Sleep(30 * time.Millisecond)

	frame := played[len(played)-1764:]
	if es.isEcho(frame) {
		t.Fatal("echo detection should expire once the silence window has passed")
	}
}

func TestAudioEchoSuppressorDisabled(t *testing.T) {
	es := newAudioEchoSuppressor()
	es.setEnabled(false)
	played := generateSineForTest(440, 200, 44100, 0.8)
	es.recordPlayed(played) // should be a no-op while disabled

	if es.playedAudioBuf.Len() != 0 {
		t.Fatal("recordPlayed should no-op while the suppressor is disabled")
	}
	if es.isEcho(played) {
		t.Fatal("isEcho should always report false while disabled")
	}
}

func TestAudioEchoSuppressorClearDropsReference(t *testing.T) {
	es := newAudioEchoSuppressor()
	es.recordPlayed(generateSineForTest(440, 200, 44100, 0.8))
	es.clear()

	if es.playedAudioBuf.Len() != 0 {
		t.Fatal("clear should empty the played-audio reference buffer")
	}
}

func TestAudioEchoSuppressorBufferIsBounded(t *testing.T) {
	es := newAudioEchoSuppressor()
	es.maxBufSize = 100
	es.recordPlayed(make([]byte, 60))
	es.recordPlayed(make([]byte, 60))

	if es.playedAudioBuf.Len() > es.maxBufSize {
		t.Fatalf("expected reference buffer capped at %d bytes, got %d", es.maxBufSize, es.playedAudioBuf.Len())
	}
}

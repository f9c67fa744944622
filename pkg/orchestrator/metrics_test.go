package orchestrator

import (
	"testing"
	"time"
)

func TestMetricsRecorderClassifiesWorstOverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STTBottleneckThreshold = 1 * time.Second
	cfg.LLMBottleneckThreshold = 1 * time.Second
	cfg.TTSBottleneckThreshold = 1 * time.Second

	m := newMetricsRecorder(cfg, NewSession("caller"))

	rec := m.recordTurn("t1", LatencyBreakdown{
		STT: 1200 * time.Millisecond, // 200ms over
		LLM: 2500 * time.Millisecond, // 1500ms over
		TTS: 1100 * time.Millisecond, // 100ms over
	})

	if rec.Bottleneck != bottleneckLLM {
		t.Fatalf("expected llm to be the worst bottleneck, got %v", rec.Bottleneck)
	}
}

func TestMetricsRecorderNoBottleneckWithinThresholds(t *testing.T) {
	m := newMetricsRecorder(DefaultConfig(), NewSession("caller"))
	rec := m.recordTurn("t1", LatencyBreakdown{
		STT: 10 * time.Millisecond,
		LLM: 10 * time.Millisecond,
		TTS: 10 * time.Millisecond,
	})
	if rec.Bottleneck != bottleneckNone {
		t.Fatalf("expected no bottleneck, got %v", rec.Bottleneck)
	}
}

func TestMetricsRecorderUpdatesRollingAverages(t *testing.T) {
	session := NewSession("caller")
	m := newMetricsRecorder(DefaultConfig(), session)

	m.recordTurn("t1", LatencyBreakdown{STT: 100 * time.Millisecond})
	m.recordTurn("t2", LatencyBreakdown{STT: 300 * time.Millisecond})

	if session.Metrics.TurnsCompleted != 2 {
		t.Fatalf("expected 2 completed turns, got %d", session.Metrics.TurnsCompleted)
	}
	if session.Metrics.AvgSTT != 200*time.Millisecond {
		t.Fatalf("expected rolling average of 200ms, got %v", session.Metrics.AvgSTT)
	}
}

func TestMetricsRecorderTracksPeakTimeToFirstAudio(t *testing.T) {
	session := NewSession("caller")
	m := newMetricsRecorder(DefaultConfig(), session)

	m.recordTurn("t1", LatencyBreakdown{TimeToFirstAudio: 500 * time.Millisecond})
	m.recordTurn("t2", LatencyBreakdown{TimeToFirstAudio: 200 * time.Millisecond})
	m.recordTurn("t3", LatencyBreakdown{TimeToFirstAudio: 900 * time.Millisecond})

	if session.Metrics.PeakTTFA != 900*time.Millisecond {
		t.Fatalf("expected peak of 900ms, got %v", session.Metrics.PeakTTFA)
	}
}

func TestMetricsRecorderErrorCounters(t *testing.T) {
	session := NewSession("caller")
	m := newMetricsRecorder(DefaultConfig(), session)

	m.recordTranscriptionError()
	m.recordLLMError()
	m.recordLLMError()
	m.recordTTSError()

	if session.Metrics.TranscriptionErrs != 1 || session.Metrics.LLMErrors != 2 || session.Metrics.TTSErrors != 1 {
		t.Fatalf("unexpected error counters: %+v", session.Metrics)
	}
}

func TestMetricsRecorderHistoryIsACopy(t *testing.T) {
	m := newMetricsRecorder(DefaultConfig(), NewSession("caller"))
	m.recordTurn("t1", LatencyBreakdown{})

	hist := m.history()
	hist[0].TurnID = "mutated"

	if m.history()[0].TurnID != "t1" {
		t.Fatal("history() should return a defensive copy")
	}
}

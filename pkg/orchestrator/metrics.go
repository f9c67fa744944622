package orchestrator

import (
	"sync"
	"time"
)

// bottleneckStage names which leg of a turn exceeded its configured
// threshold, if any.
type bottleneckStage string

const (
	bottleneckNone bottleneckStage = ""
	bottleneckSTT  bottleneckStage = "stt"
	bottleneckLLM  bottleneckStage = "llm"
	bottleneckTTS  bottleneckStage = "tts"
)

// turnRecord is one completed turn's latency breakdown plus its derived
// bottleneck label, appended to the call's log as turns finish.
type turnRecord struct {
	TurnID     string
	Breakdown  LatencyBreakdown
	Bottleneck bottleneckStage
	RecordedAt time.Time
}

// metricsRecorder keeps an append-only per-turn log for a single call and
// maintains the session's rolling averages as turns complete. It is the
// only writer of Session.Metrics.
type metricsRecorder struct {
	mu      sync.Mutex
	cfg     Config
	session *Session
	log     []turnRecord
}

func newMetricsRecorder(cfg Config, session *Session) *metricsRecorder {
	return &metricsRecorder{cfg: cfg, session: session}
}

// recordTurn appends bd to the log, classifies its bottleneck, and updates
// the session's rolling averages and peak time-to-first-audio.
func (m *metricsRecorder) recordTurn(turnID string, bd LatencyBreakdown) turnRecord {
	rec := turnRecord{
		TurnID:     turnID,
		Breakdown:  bd,
		Bottleneck: m.classify(bd),
		RecordedAt: time.Now(),
	}

	m.mu.Lock()
	m.log = append(m.log, rec)
	m.mu.Unlock()

	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	n := m.session.Metrics.TurnsCompleted
	m.session.Metrics.AvgSTT = rollingAvg(m.session.Metrics.AvgSTT, bd.STT, n)
	m.session.Metrics.AvgLLM = rollingAvg(m.session.Metrics.AvgLLM, bd.LLM, n)
	m.session.Metrics.AvgTTS = rollingAvg(m.session.Metrics.AvgTTS, bd.TTS, n)
	if bd.TimeToFirstAudio > m.session.Metrics.PeakTTFA {
		m.session.Metrics.PeakTTFA = bd.TimeToFirstAudio
	}
	m.session.Metrics.TurnsCompleted = n + 1

	return rec
}

func (m *metricsRecorder) recordTranscriptionError() {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	m.session.Metrics.TranscriptionErrs++
}

func (m *metricsRecorder) recordLLMError() {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	m.session.Metrics.LLMErrors++
}

func (m *metricsRecorder) recordTTSError() {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	m.session.Metrics.TTSErrors++
}

func (m *metricsRecorder) classify(bd LatencyBreakdown) bottleneckStage {
	worst := bottleneckNone
	var worstOverage time.Duration
	if bd.STT > m.cfg.STTBottleneckThreshold {
		if over := bd.STT - m.cfg.STTBottleneckThreshold; over > worstOverage {
			worst, worstOverage = bottleneckSTT, over
		}
	}
	if bd.LLM > m.cfg.LLMBottleneckThreshold {
		if over := bd.LLM - m.cfg.LLMBottleneckThreshold; over > worstOverage {
			worst, worstOverage = bottleneckLLM, over
		}
	}
	if bd.TTS > m.cfg.TTSBottleneckThreshold {
		if over := bd.TTS - m.cfg.TTSBottleneckThreshold; over > worstOverage {
			worst, worstOverage = bottleneckTTS, over
		}
	}
	return worst
}

func (m *metricsRecorder) history() []turnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]turnRecord, len(m.log))
	copy(out, m.log)
	return out
}

func rollingAvg(prevAvg time.Duration, sample time.Duration, n int) time.Duration {
	if n == 0 {
		return sample
	}
	total := prevAvg*time.Duration(n) + sample
	return total / time.Duration(n+1)
}

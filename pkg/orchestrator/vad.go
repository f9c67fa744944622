package orchestrator

import (
	"math"
	"time"
)

// RMSVAD is a lightweight, dependency-free voice activity detector based on
// root-mean-square energy with hysteresis. It backs the energy-trigger half
// of barge-in detection, alongside a transcript-based trigger.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64

	// adaptive is reported by AdaptiveMode; when true, Call.adjustVADForEcho
	// raises this detector's threshold while recent playback makes self-echo
	// likely and restores it afterwards. Process itself never reads it.
	adaptive bool
}

// NewRMSVAD creates an RMS-based VAD requiring minConfirmed consecutive
// above-threshold frames (default 7, ~70-100ms at typical frame sizes)
// before declaring speech start, to reject spikes and echo onset pops.
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
		adaptive:     true,
	}
}

func (v *RMSVAD) SetMinConfirmed(count int) { v.minConfirmed = count }
func (v *RMSVAD) MinConfirmed() int         { return v.minConfirmed }
func (v *RMSVAD) SetThreshold(threshold float64) { v.threshold = threshold }
func (v *RMSVAD) Threshold() float64             { return v.threshold }
func (v *RMSVAD) LastRMS() float64               { return v.lastRMS }
func (v *RMSVAD) IsSpeaking() bool               { return v.isSpeaking }

// SetAdaptiveMode toggles whether Write's echo guard is allowed to bump this
// detector's threshold while recent playback makes self-echo likely. Callers
// that want a fixed threshold regardless of playback state disable it.
func (v *RMSVAD) SetAdaptiveMode(adaptive bool) { v.adaptive = adaptive }
func (v *RMSVAD) AdaptiveMode() bool            { return v.adaptive }

// adaptiveThresholdVAD is the capability Write's echo guard looks for: a VAD
// whose energy threshold it can temporarily raise during a self-echo-prone
// window, then restore once that window passes.
type adaptiveThresholdVAD interface {
	AdaptiveMode() bool
	SetThreshold(float64)
	Threshold() float64
}

var _ adaptiveThresholdVAD = (*RMSVAD)(nil)

func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	v.lastRMS = rms
	now := time.Now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string { return "rms_vad" }

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VADProvider {
	return &RMSVAD{
		threshold:    v.threshold,
		silenceLimit: v.silenceLimit,
		minConfirmed: v.minConfirmed,
		adaptive:     true,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)/2))
}

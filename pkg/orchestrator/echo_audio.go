package orchestrator

import (
	"bytes"
	"math"
	"sync"
	"time"
)

// audioEchoSuppressor runs correlation-based detection of speaker echo in
// the inbound-audio path, ahead of both the VAD and the STT feed. A
// separate text-domain register (see echo_register.go) rejects STT results
// matching a recently spoken agent utterance; this type rejects the
// correlated *audio* before it ever reaches STT, cutting down on false
// "continuation" signals caused by self-echo.
type audioEchoSuppressor struct {
	mu             sync.Mutex
	playedAudioBuf *bytes.Buffer
	maxBufSize     int
	echoThreshold  float64
	echoSilenceMS  int
	lastTTSTime    time.Time
	enabled        bool
}

func newAudioEchoSuppressor() *audioEchoSuppressor {
	return &audioEchoSuppressor{
		playedAudioBuf: new(bytes.Buffer),
		maxBufSize:     176400, // ~2s @ 44.1kHz, 16-bit mono
		echoThreshold:  0.55,
		echoSilenceMS:  1200,
		enabled:        true,
	}
}

// recordPlayed records audio just handed to the telephony adapter so later
// inbound frames can be checked for correlation against it.
func (es *audioEchoSuppressor) recordPlayed(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	es.playedAudioBuf.Write(chunk)
	es.lastTTSTime = time.Now()

	if es.playedAudioBuf.Len() > es.maxBufSize {
		data := es.playedAudioBuf.Bytes()
		trim := data[len(data)-es.maxBufSize:]
		es.playedAudioBuf.Reset()
		es.playedAudioBuf.Write(trim)
	}
}

// isEcho reports whether inputChunk correlates strongly enough with
// recently played audio to be speaker bleed rather than caller speech.
func (es *audioEchoSuppressor) isEcho(inputChunk []byte) bool {
	if !es.enabled || len(inputChunk) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastTTSTime) > time.Duration(es.echoSilenceMS)*time.Millisecond {
		return false
	}

	playedData := es.playedAudioBuf.Bytes()
	if len(playedData) == 0 {
		return false
	}

	if es.correlation(inputChunk, playedData) > es.echoThreshold {
		return true
	}

	envCorr := maxEnvelopeCorrelation(bytesToSamples(inputChunk), bytesToSamples(playedData), 8)
	return envCorr > es.echoThreshold+0.05
}

func (es *audioEchoSuppressor) correlation(input, reference []byte) float64 {
	inputSamples := bytesToSamples(input)
	refSamples := bytesToSamples(reference)
	if len(inputSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	compareLen := len(inputSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	refStart := len(refSamples) - compareLen
	refCompare := refSamples[refStart:]

	inputEnergy := calculateEnergy(inputSamples)
	refEnergy := calculateEnergy(refCompare)
	if inputEnergy == 0 || refEnergy == 0 {
		return 0
	}

	var dot float64
	for i := 0; i < len(inputSamples) && i < len(refCompare); i++ {
		dot += inputSamples[i] * refCompare[i]
	}

	norm := math.Sqrt(inputEnergy * refEnergy)
	if norm == 0 {
		return 0
	}
	c := dot / norm
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// recentlyPlayed reports whether agent audio was handed to telephony within
// the suppressor's echo window, i.e. self-echo is still plausible on the
// inbound line.
func (es *audioEchoSuppressor) recentlyPlayed() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.lastTTSTime.IsZero() {
		return false
	}
	return time.Since(es.lastTTSTime) <= time.Duration(es.echoSilenceMS)*time.Millisecond
}

func (es *audioEchoSuppressor) clear() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playedAudioBuf.Reset()
}

func (es *audioEchoSuppressor) setEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(sample)/32768.0)
	}
	return samples
}

func calculateEnergy(samples []float64) float64 {
	var e float64
	for _, s := range samples {
		e += s * s
	}
	return e
}

// maxEnvelopeCorrelation compares downsampled absolute-value envelopes,
// which survives the room-phase shifts that scramble raw sample
// correlation on high-frequency ("S"-sound) content.
func maxEnvelopeCorrelation(inSamples, refSamples []float64, decimation int) float64 {
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return 0
	}

	inEnv := envelope(inSamples, decimation)
	refEnv := envelope(refSamples, decimation)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := mean(inEnv[:compareLen])
	inCentered := make([]float64, compareLen)
	var inVar float64
	for i := 0; i < compareLen; i++ {
		inCentered[i] = inEnv[i] - inMean
		inVar += inCentered[i] * inCentered[i]
	}
	if inVar <= 0 {
		return 0
	}

	maxCorr := 0.0
	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}
	searchRange := len(refEnv) - compareLen + 1
	for pos := 0; pos < searchRange; pos += stride {
		refMean := mean(refEnv[pos : pos+compareLen])
		var dot, refVar float64
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inCentered[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > maxCorr {
				maxCorr = corr
			}
		}
	}
	return maxCorr
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		var sum float64
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

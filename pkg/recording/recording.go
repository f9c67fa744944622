// Package recording persists a finished call's raw audio and transcript so
// it can be replayed or reviewed after the fact.
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEntry is one line of a call's transcript export.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ThoughtEntry optionally records an LLM's intermediate reasoning alongside
// the transcript, when a provider exposes one.
type ThoughtEntry struct {
	TurnID    string    `json:"turn_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder accumulates one call's audio and transcript in memory and
// flushes them to disk on demand.
type Recorder struct {
	mu         sync.Mutex
	dir        string
	callID     string
	userAudio  []byte
	agentAudio []byte
	transcript []TranscriptEntry
	thoughts   []ThoughtEntry
	sampleRate int
}

// NewRecorder creates a Recorder writing under dir/<callID>.
func NewRecorder(dir, callID string, sampleRate int) *Recorder {
	return &Recorder{dir: dir, callID: callID, sampleRate: sampleRate}
}

func (r *Recorder) AppendUserAudio(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userAudio = append(r.userAudio, chunk...)
}

func (r *Recorder) AppendAgentAudio(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentAudio = append(r.agentAudio, chunk...)
}

func (r *Recorder) AppendTranscript(role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, TranscriptEntry{Role: role, Text: text, Timestamp: time.Now()})
}

func (r *Recorder) AppendThought(turnID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thoughts = append(r.thoughts, ThoughtEntry{TurnID: turnID, Text: text, Timestamp: time.Now()})
}

// callRecord is the on-disk JSON shape for one call.
type callRecord struct {
	CallID     string            `json:"call_id"`
	SampleRate int               `json:"sample_rate"`
	Transcript []TranscriptEntry `json:"transcript"`
	Thoughts   []ThoughtEntry    `json:"thoughts,omitempty"`
}

// Flush writes the call's JSON metadata plus raw PCM audio files to
// dir/<callID>.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Join(r.dir, r.callID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recording: mkdir: %w", err)
	}

	rec := callRecord{
		CallID:     r.callID,
		SampleRate: r.sampleRate,
		Transcript: r.transcript,
		Thoughts:   r.thoughts,
	}
	metaPath := filepath.Join(dir, r.callID+".json")
	f, err := os.Create(metaPath)
	if err != nil {
		return fmt.Errorf("recording: create metadata: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("recording: encode metadata: %w", err)
	}

	if len(r.userAudio) > 0 {
		if err := os.WriteFile(filepath.Join(dir, r.callID+".user.pcm"), r.userAudio, 0o644); err != nil {
			return fmt.Errorf("recording: write user audio: %w", err)
		}
	}
	if len(r.agentAudio) > 0 {
		if err := os.WriteFile(filepath.Join(dir, r.callID+".agent.pcm"), r.agentAudio, 0o644); err != nil {
			return fmt.Errorf("recording: write agent audio: %w", err)
		}
	}
	return nil
}

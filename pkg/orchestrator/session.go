package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the call lifecycle.
type SessionStatus string

const (
	StatusInitiating SessionStatus = "initiating"
	StatusRinging    SessionStatus = "ringing"
	StatusConnected  SessionStatus = "connected"
	StatusActive     SessionStatus = "active"
	StatusEnded      SessionStatus = "ended"
	StatusFailed     SessionStatus = "failed"
)

// HistoryTurn is one entry of a session's ordered conversation history.
type HistoryTurn struct {
	Role      string    `json:"role"` // "user" or "agent"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the call-scoped state of one conversation. It is exclusively
// owned by its Call orchestrator; nothing else should retain a reference
// across a suspension point.
type Session struct {
	mu sync.RWMutex

	ID              string
	CallerID        string
	ProspectName    string
	StartTime       time.Time
	Status          SessionStatus
	History         []HistoryTurn
	MaxMessages     int
	CurrentVoice    Voice
	CurrentLanguage Language

	// Aggregate metrics, filled in as turns complete.
	Metrics SessionMetrics
}

// NewSession creates a Session in the "initiating" state, as if telephony
// had just signalled "call starting".
func NewSession(callerID string) *Session {
	return &Session{
		ID:              uuid.NewString(),
		CallerID:        callerID,
		StartTime:       time.Now(),
		Status:          StatusInitiating,
		History:         []HistoryTurn{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

func (s *Session) SetStatus(status SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

func (s *Session) GetStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

func (s *Session) SetProspectName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProspectName = name
}

// GetProspectName returns the caller's name, if known, for {name} template
// substitution in personalised fillers/acknowledgments (§6).
func (s *Session) GetProspectName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ProspectName
}

// AppendHistory records one conversation turn. Appends are serialised by
// s.mu, so History is ordered by the moment each append takes the lock;
// Call appends from more than one goroutine (Greet, beginTurn, runTurn).
func (s *Session) AppendHistory(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, HistoryTurn{Role: role, Text: text, Timestamp: time.Now()})
	if len(s.History) > s.MaxMessages {
		s.History = s.History[len(s.History)-s.MaxMessages:]
	}
}

// Messages renders the history as LLM-facing Message values, prefixed by an
// optional system prompt.
func (s *Session) Messages(systemPrompt string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, 0, len(s.History)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	for _, h := range s.History {
		role := h.Role
		if role == "agent" {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: h.Text})
	}
	return msgs
}

func (s *Session) HistoryCopy() []HistoryTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryTurn, len(s.History))
	copy(out, s.History)
	return out
}

// TurnCount reports how many user entries the history holds (only the last
// MaxMessages entries are kept), including the turn in progress once
// beginTurn has recorded it, used by the filler scheduler to pick a
// conversation-stage-appropriate filler.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, h := range s.History {
		if h.Role == "user" {
			n++
		}
	}
	return n
}

func (s *Session) GetCurrentVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}

func (s *Session) SetVoice(v Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentVoice = v
}

func (s *Session) GetCurrentLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}

func (s *Session) SetLanguage(l Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentLanguage = l
}

// SessionMetrics holds rolling aggregates derived by the metrics recorder
// across all turns of a call.
type SessionMetrics struct {
	TurnsCompleted    int
	TranscriptionErrs int
	LLMErrors         int
	TTSErrors         int
	AvgSTT            time.Duration
	AvgLLM            time.Duration
	AvgTTS            time.Duration
	PeakTTFA          time.Duration
}

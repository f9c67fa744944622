package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
)

// VoiceGridTTS talks to a websocket-based speech-synthesis backend that
// streams raw audio frames back over the same connection used to submit
// text, the shape most low-latency TTS vendors expose.
type VoiceGridTTS struct {
	apiKey string
	host   string
	scheme string
	mu     sync.Mutex
	conn   *websocket.Conn
}

func NewVoiceGridTTS(apiKey string) *VoiceGridTTS {
	return &VoiceGridTTS{
		apiKey: apiKey,
		host:   "api.voicegrid.example",
		scheme: "wss",
	}
}

func (t *VoiceGridTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	scheme := t.scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to voicegrid: %w", err)
	}

	t.conn = conn
	return conn, nil
}

func (t *VoiceGridTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (t *VoiceGridTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	return t.synthesize(ctx, text, voice, lang, 1.05, onChunk)
}

// SynthesizeFiller satisfies orchestrator.FillerTTSProvider using a faster
// synthesis speed, since filler phrases are short and latency matters more
// than fidelity.
func (t *VoiceGridTTS) SynthesizeFiller(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := t.synthesize(ctx, text, voice, lang, 1.2, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (t *VoiceGridTTS) synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, speed float64, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   string(voice),
		"lang":    string(lang),
		"speed":   speed,
		"steps":   5,
		"version": "v1",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from voicegrid: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("voicegrid error: %s", msg)
			}
		}
	}
}

func (t *VoiceGridTTS) Name() string {
	return "voicegrid"
}

// Abort satisfies orchestrator.Aborter: it closes the current websocket
// connection, if one is open. It takes the same lock synthesize holds for a
// whole synthesis, so it does not cut one short: while a synthesis is in
// flight, Abort waits until it ends (end of stream, an error, or its context
// being cancelled) and only then closes whatever connection remains.
func (t *VoiceGridTTS) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "aborted")
	t.conn = nil
	return err
}

func (t *VoiceGridTTS) Close() error {
	return t.Abort()
}

package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
)

// callSession tracks one active call's websocket connection and the
// handlers registered for it.
type callSession struct {
	conn         *websocket.Conn
	audioHandler func(chunk []byte)
	eventHandler func(event orchestrator.CallEvent)
}

// WebSocketAdapter implements orchestrator.TelephonyAdapter over a
// bidirectional websocket to a telephony gateway: audio frames travel as
// binary messages, call-control events as JSON text messages.
type WebSocketAdapter struct {
	host string

	mu       sync.Mutex
	sessions map[string]*callSession
}

func NewWebSocketAdapter(host string) *WebSocketAdapter {
	return &WebSocketAdapter{
		host:     host,
		sessions: make(map[string]*callSession),
	}
}

type dialRequest struct {
	Action string `json:"action"`
	To     string `json:"to"`
}

func (w *WebSocketAdapter) MakeCall(ctx context.Context, to string) (string, error) {
	u := url.URL{Scheme: "wss", Host: w.host, Path: "/call"}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("telephony dial: %w", err)
	}

	if err := wsjson.Write(ctx, conn, dialRequest{Action: "make_call", To: to}); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "dial request failed")
		return "", fmt.Errorf("telephony make_call: %w", err)
	}

	callID := uuid.NewString()

	w.mu.Lock()
	w.sessions[callID] = &callSession{conn: conn}
	w.mu.Unlock()

	go w.readLoop(callID, conn)

	return callID, nil
}

func (w *WebSocketAdapter) readLoop(callID string, conn *websocket.Conn) {
	ctx := context.Background()
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			return
		}

		w.mu.Lock()
		sess, ok := w.sessions[callID]
		w.mu.Unlock()
		if !ok {
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if sess.audioHandler != nil {
				sess.audioHandler(payload)
			}
		case websocket.MessageText:
			var evt orchestrator.CallEvent
			if err := json.Unmarshal(payload, &evt); err == nil && sess.eventHandler != nil {
				sess.eventHandler(evt)
			}
		}
	}
}

func (w *WebSocketAdapter) EndCall(ctx context.Context, callID string) error {
	w.mu.Lock()
	sess, ok := w.sessions[callID]
	delete(w.sessions, callID)
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrUnknownSession, callID)
	}
	return sess.conn.Close(websocket.StatusNormalClosure, "call ended")
}

func (w *WebSocketAdapter) SendAudio(callID string, chunk []byte) error {
	w.mu.Lock()
	sess, ok := w.sessions[callID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrUnknownSession, callID)
	}
	return sess.conn.Write(context.Background(), websocket.MessageBinary, chunk)
}

func (w *WebSocketAdapter) OnAudio(callID string, handler func(chunk []byte)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sess, ok := w.sessions[callID]; ok {
		sess.audioHandler = handler
	}
}

func (w *WebSocketAdapter) OnEvent(callID string, handler func(event orchestrator.CallEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sess, ok := w.sessions[callID]; ok {
		sess.eventHandler = handler
	}
}

// ClearEgressBuffer tells the gateway to drop any audio queued for
// playback, used right after a barge-in so stale agent speech doesn't
// keep playing out through the handset.
func (w *WebSocketAdapter) ClearEgressBuffer(callID string) error {
	w.mu.Lock()
	sess, ok := w.sessions[callID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrUnknownSession, callID)
	}
	return wsjson.Write(context.Background(), sess.conn, map[string]string{"action": "clear_egress_buffer"})
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
)

type DeepgramSTT struct {
	apiKey     string
	url        string
	streamHost string
	sampleRate int
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		streamHost: "api.deepgram.com",
		sampleRate: 44100,
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", s.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}

	return result.Results.Channels[0].Alternatives[0].Transcript, nil
}

// deepgramStreamEvent mirrors the subset of Deepgram's live-transcription
// websocket payload this client cares about.
type deepgramStreamEvent struct {
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// StreamTranscribe opens Deepgram's live-transcription websocket and
// satisfies orchestrator.StreamingSTTProvider: audio written to the
// returned channel is forwarded as binary frames, and onTranscript fires
// for every interim and final result the socket pushes back.
func (s *DeepgramSTT) StreamTranscribe(ctx context.Context, lang orchestrator.Language, onTranscript func(transcript string, isFinal bool) error) (chan<- []byte, error) {
	u := url.URL{Scheme: "wss", Host: s.streamHost, Path: "/v1/listen"}
	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	q.Set("interim_results", "true")
	if lang != "" {
		q.Set("language", string(lang))
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + s.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram stream dial: %w", err)
	}

	in := make(chan []byte, 32)

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			var evt deepgramStreamEvent
			if err := wsjson.Read(ctx, conn, &evt); err != nil {
				return
			}
			if len(evt.Channel.Alternatives) == 0 {
				continue
			}
			transcript := evt.Channel.Alternatives[0].Transcript
			if transcript == "" {
				continue
			}
			if err := onTranscript(transcript, evt.IsFinal); err != nil {
				return
			}
		}
	}()

	return in, nil
}

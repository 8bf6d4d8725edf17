package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
)

// RealtimeConfig configures the live voice bridge.
type RealtimeConfig struct {
	// URL is the realtime websocket endpoint, for example
	// wss://api.openai.com/v1/realtime?model=gpt-realtime.
	URL    string
	APIKey string
	// Instructions seeds the conversation behavior for the session.
	Instructions string
	Audio        AudioIO
	Logger       *slog.Logger
}

// RealtimeBridge streams call audio to a realtime voice provider and plays
// its replies back into the call, full duplex, for the life of one call.
type RealtimeBridge struct {
	url          string
	apiKey       string
	instructions string
	audio        AudioIO
	log          *slog.Logger
}

func NewRealtimeBridge(cfg RealtimeConfig) *RealtimeBridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RealtimeBridge{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		instructions: cfg.Instructions,
		audio:        cfg.Audio,
		log:          cfg.Logger,
	}
}

type realtimeEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type sessionUpdate struct {
	Type    string `json:"type"`
	Session struct {
		Instructions      string `json:"instructions,omitempty"`
		InputAudioFormat  string `json:"input_audio_format"`
		OutputAudioFormat string `json:"output_audio_format"`
	} `json:"session"`
}

// Bridge runs the duplex audio loop until ctx is cancelled (call ended) or
// either leg fails. Non-empty instructions override the configured default
// for this session.
func (b *RealtimeBridge) Bridge(ctx context.Context, instructions string) error {
	if instructions == "" {
		instructions = b.instructions
	}
	header := http.Header{}
	if b.apiKey != "" {
		header.Set("Authorization", "Bearer "+b.apiKey)
	}

	conn, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}
	defer conn.CloseNow()
	// Audio frames at 24kHz PCM exceed the library's small default limit.
	conn.SetReadLimit(1 << 20)

	var update sessionUpdate
	update.Type = "session.update"
	update.Session.Instructions = instructions
	update.Session.InputAudioFormat = "pcm16"
	update.Session.OutputAudioFormat = "pcm16"
	if err := wsjson.Write(ctx, conn, update); err != nil {
		return fmt.Errorf("realtime: configure session: %w", err)
	}

	mic, err := b.audio.Record(ctx)
	if err != nil {
		return fmt.Errorf("realtime: open capture: %w", err)
	}
	defer mic.Close()

	speaker, err := b.audio.PlayStream(ctx)
	if err != nil {
		return fmt.Errorf("realtime: open playback: %w", err)
	}
	defer speaker.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.uplink(ctx, conn, mic) })
	g.Go(func() error { return b.downlink(ctx, conn, speaker) })

	err = g.Wait()
	if ctx.Err() != nil {
		// Call ended; both legs failing with cancellation is the normal exit.
		return nil
	}
	return err
}

// uplink ships microphone PCM to the provider in base64 append events.
func (b *RealtimeBridge) uplink(ctx context.Context, conn *websocket.Conn, mic io.Reader) error {
	buf := make([]byte, 3200)
	for {
		n, err := mic.Read(buf)
		if n > 0 {
			event := map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if werr := wsjson.Write(ctx, conn, event); werr != nil {
				return fmt.Errorf("realtime: send audio: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("realtime: capture: %w", err)
		}
	}
}

// downlink plays provider audio deltas into the call.
func (b *RealtimeBridge) downlink(ctx context.Context, conn *websocket.Conn, speaker io.Writer) error {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("realtime: read event: %w", err)
		}

		var event realtimeEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}

		switch event.Type {
		case "response.audio.delta", "response.output_audio.delta":
			payload := event.Delta
			if payload == "" {
				payload = event.Audio
			}
			pcm, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				b.log.Warn("realtime: bad audio delta", "error", err)
				continue
			}
			if _, err := speaker.Write(pcm); err != nil {
				return fmt.Errorf("realtime: playback: %w", err)
			}
		case "error":
			if event.Error != nil {
				return fmt.Errorf("realtime: provider error: %s", event.Error.Message)
			}
			return errors.New("realtime: provider error")
		}
	}
}

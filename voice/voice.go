// Package voice places outbound voice calls over the modem and plays audio
// into them, either synthesized once (TTS) or bridged live to a realtime
// voice provider.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cellbridge/smsgw/at"
)

// ErrCallInProgress is returned when a call is attempted while another one
// holds the gate. The modem has one audio channel; callers defer, not queue.
var ErrCallInProgress = errors.New("voice: call already in progress")

// ErrNoAnswer wraps the modem-reported dial failures (NO CARRIER, BUSY,
// NO ANSWER) so callers can treat them as one class.
var ErrNoAnswer = errors.New("voice: call not answered")

// State is the lifecycle position of the current (or last) call.
type State string

const (
	StateIdle     State = "idle"
	StateDialing  State = "dialing"
	StateActive   State = "active"
	StateSpeaking State = "speaking"
	StateEnding   State = "ending"
)

// Gate is a single-slot semaphore serializing voice calls.
type Gate struct {
	slot chan struct{}
}

func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// TryAcquire claims the gate without blocking. False means a call is active.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *Gate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// Busy reports whether the gate is held.
func (g *Gate) Busy() bool {
	return len(g.slot) > 0
}

// ModemControl is the slice of the modem the controller needs.
type ModemControl interface {
	Dial(ctx context.Context, number string) error
	Hangup(ctx context.Context) error
	Subscribe() (<-chan string, func())
}

// Speaker synthesizes text to a playable audio file and returns its path.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// Player plays an audio file to completion on the call audio device.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Bridger runs a live audio bridge for the duration of one call. The
// instructions seed the conversation behavior for this call; empty keeps
// the bridge's configured default.
type Bridger interface {
	Bridge(ctx context.Context, instructions string) error
}

// ControllerConfig wires the controller's collaborators.
type ControllerConfig struct {
	Modem  ModemControl
	TTS    Speaker
	Player Player
	Bridge Bridger
	Gate   *Gate
	Logger *slog.Logger

	// ConnectTimeout bounds the wait between dial acceptance and the call
	// actually connecting.
	ConnectTimeout time.Duration
	// EndWait bounds the wait for the call-end notification after hangup.
	// Some firmwares never send one; absence is tolerated.
	EndWait time.Duration
	// MaxCallDuration is a hard cap on a connected call.
	MaxCallDuration time.Duration
}

// CallRequest describes one outbound voice call.
//
// Exactly one audio source applies: Realtime bridges live audio (Say then
// carries the session instructions), AudioPath plays a prepared file, and
// otherwise Say is synthesized to speech first.
type CallRequest struct {
	Number    string
	Say       string
	AudioPath string
	Realtime  bool
}

// Controller drives the call state machine: dial, wait for connect, speak,
// hang up. At most one call runs at a time; the gate enforces it.
type Controller struct {
	modem  ModemControl
	tts    Speaker
	player Player
	bridge Bridger
	gate   *Gate
	log    *slog.Logger

	connectTimeout  time.Duration
	endWait         time.Duration
	maxCallDuration time.Duration

	mu    sync.Mutex
	state State
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = NewGate()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.EndWait == 0 {
		cfg.EndWait = 5 * time.Second
	}
	if cfg.MaxCallDuration == 0 {
		cfg.MaxCallDuration = 5 * time.Minute
	}
	return &Controller{
		modem:           cfg.Modem,
		tts:             cfg.TTS,
		player:          cfg.Player,
		bridge:          cfg.Bridge,
		gate:            cfg.Gate,
		log:             cfg.Logger,
		connectTimeout:  cfg.ConnectTimeout,
		endWait:         cfg.EndWait,
		maxCallDuration: cfg.MaxCallDuration,
		state:           StateIdle,
	}
}

// Busy reports whether a call is in progress. Satisfies queue.CallGate.
func (c *Controller) Busy() bool { return c.gate.Busy() }

// State returns the current call state for status reporting.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Call places one voice call and blocks until it completes. TTS calls
// synthesize and play the text once, audio-file calls play the prepared
// file, and realtime calls run the live bridge until the far end hangs up
// or the duration cap hits.
//
// Returns ErrCallInProgress without touching the modem when a call is
// already active.
func (c *Controller) Call(ctx context.Context, req CallRequest) error {
	number := req.Number
	if !c.gate.TryAcquire() {
		return ErrCallInProgress
	}
	defer c.gate.Release()
	defer c.setState(StateIdle)

	notes, cancel := c.modem.Subscribe()
	defer cancel()
	drain(notes)

	c.setState(StateDialing)
	c.log.Info("dialing", "number", number, "realtime", req.Realtime)

	if err := c.modem.Dial(ctx, number); err != nil {
		return err
	}

	// The modem always gets a hangup, even on failure paths; a call left
	// dangling blocks every later one.
	defer func() {
		c.setState(StateEnding)
		hangCtx, hangCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer hangCancel()
		if err := c.modem.Hangup(hangCtx); err != nil {
			c.log.Warn("hangup failed", "error", err)
		}
		c.awaitEnd(notes)
	}()

	if err := c.awaitConnect(ctx, notes); err != nil {
		return err
	}
	c.setState(StateActive)
	c.log.Info("call connected", "number", number)

	callCtx, callCancel := context.WithTimeout(ctx, c.maxCallDuration)
	defer callCancel()
	// The far end hanging up mid-audio cancels playback instead of speaking
	// into a dead line.
	go func() {
		for {
			select {
			case <-callCtx.Done():
				return
			case line, ok := <-notes:
				if !ok {
					callCancel()
					return
				}
				if isEndToken(line) {
					c.log.Info("far end hung up", "number", number)
					callCancel()
					return
				}
			}
		}
	}()

	c.setState(StateSpeaking)
	if req.Realtime {
		if err := c.bridge.Bridge(callCtx, req.Say); err != nil && callCtx.Err() == nil {
			return fmt.Errorf("voice: realtime bridge: %w", err)
		}
		return nil
	}

	if req.AudioPath != "" {
		// The file belongs to whoever queued the call; it may be replayed on
		// retry, so it is not removed here.
		if err := c.player.Play(callCtx, req.AudioPath); err != nil && callCtx.Err() == nil {
			return fmt.Errorf("voice: play: %w", err)
		}
		return nil
	}

	path, err := c.tts.Synthesize(callCtx, req.Say)
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}
	defer os.Remove(path)

	if err := c.player.Play(callCtx, path); err != nil && callCtx.Err() == nil {
		return fmt.Errorf("voice: play: %w", err)
	}
	return nil
}

// awaitConnect waits for a connect notification after a dial was accepted.
// OK from ATD means acceptance only; the actual outcome arrives as an
// unsolicited line.
func (c *Controller) awaitConnect(ctx context.Context, notes <-chan string) error {
	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no connect within %v", ErrNoAnswer, c.connectTimeout)
		case line, ok := <-notes:
			if !ok {
				return errors.New("voice: notification stream closed")
			}
			switch {
			case isConnectToken(line):
				return nil
			case isFailureToken(line):
				return fmt.Errorf("%w: %s", ErrNoAnswer, line)
			}
		}
	}
}

// awaitEnd waits briefly for the end-of-call notification so it does not
// leak into the next call's connect wait.
func (c *Controller) awaitEnd(notes <-chan string) {
	timer := time.NewTimer(c.endWait)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return
		case line, ok := <-notes:
			if !ok {
				return
			}
			if isEndToken(line) {
				return
			}
		}
	}
}

func isConnectToken(line string) bool {
	return strings.HasPrefix(line, at.UrcCallBegin) ||
		line == at.UrcCallIndicator+"1" ||
		line == "CONNECT"
}

func isFailureToken(line string) bool {
	switch line {
	case at.NoCarrier, at.Busy, at.NoAnswer, at.NoDialtone, at.ERROR:
		return true
	}
	return false
}

func isEndToken(line string) bool {
	return strings.HasPrefix(line, at.UrcCallEnd) ||
		line == at.UrcCallIndicator+"0" ||
		line == at.NoCarrier
}

// drain flushes notifications queued before the call started. Stale call
// tokens from a previous call would otherwise be read as this call's fate.
func drain(notes <-chan string) {
	for {
		select {
		case <-notes:
		default:
			return
		}
	}
}

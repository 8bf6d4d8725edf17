package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellbridge/smsgw/at"
)

// Modem represents a GSM/3G/4G cellular modem that communicates via AT commands.
// It provides thread-safe access to SMS and voice-call functionality through a
// centralized event loop that handles all transport I/O.
//
// The AT protocol is half-duplex and line-oriented but not strictly
// request/response: unsolicited notifications and delayed multi-line responses
// interleave with command completions. The engine therefore accumulates
// received lines into a per-command buffer and scans it for the expected
// terminal token instead of counting lines.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	// closed indicates if the modem has been shut down. Atomic: Close and
	// command submitters run on different goroutines than the Loop.
	closed atomic.Bool
	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool

	// sendMu serializes multi-command transactions (SendSMS spans charset
	// setup, header, prompt and body; another command injected between the
	// prompt and the body would be swallowed as message text).
	sendMu sync.Mutex

	// commands queues AT command requests for the Loop to process. The channel
	// is unbuffered and the Loop accepts a new request only after the previous
	// one resolved, which makes command execution strictly FIFO single-flight.
	commands chan *commandRequest

	// Notification fan-out. Every line that does not belong to the in-flight
	// command (URCs, plus orphaned finals such as a late NO CARRIER) is
	// delivered to all subscribers.
	subMu   sync.Mutex
	subs    map[int]chan string
	nextSub int

	// Loop control
	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// commandRequest represents an AT command request to be executed by the Loop.
type commandRequest struct {
	// cmd is the AT command string; written as cmd + "\r" unless payload is set.
	cmd string
	// payload, when non-nil, is written verbatim instead of cmd. Used for the
	// SMS body (text + Ctrl-Z) and for escape sequences.
	payload []byte
	// expect is the token whose appearance in the response buffer resolves
	// the command. Defaults to OK.
	expect string
	// prompt switches the request into prompt mode: it resolves on the SMS
	// input prompt token instead of expect.
	prompt bool
	// respChan receives the command response from the Loop
	respChan chan commandResponse
	// ctx provides timeout and cancellation control for the command
	ctx context.Context
}

// commandResponse contains the result of an AT command execution.
type commandResponse struct {
	// response contains the accumulated response text from the modem
	response string
	// err contains any error that occurred during command execution
	err error
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and runs the initialization
// sequence (probe, echo off, verbose errors, SIM check, text mode, and
// new-message notifications when inbound is enabled).
//
// Returns an error if the transport connection or modem initialization fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		config:    config,
		transport: transport,
		commands:  make(chan *commandRequest),
		subs:      make(map[int]chan string),
	}

	// Prepare context for Loop (but don't start it yet)
	m.loopCtx, m.loopCancel = context.WithCancel(ctx)

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Loop is the main event loop that handles all transport I/O operations.
// It must be called exactly once after New() and before any command execution.
//
// The Loop is the ONLY goroutine that reads from the transport. It writes
// queued commands, accumulates response lines for the single in-flight
// command, and fans all other lines out to notification subscribers, so
// unsolicited notifications are never lost and never corrupt a command
// transaction.
//
// The Loop runs until the provided context is cancelled or the transport
// fails. A transport failure invalidates the connection; recovery requires a
// fresh New().
func (m *Modem) Loop(ctx context.Context) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	tokens := make(chan string, 16)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case scanErrs <- err:
			case <-ctx.Done():
			}
		}
	}()

	var current *commandRequest
	var lines []string
	var deadline <-chan struct{}

	finish := func(resp commandResponse) {
		current.respChan <- resp
		current = nil
		lines = nil
		deadline = nil
	}

	for {
		// Single-flight: stop accepting requests while one is outstanding.
		accept := m.commands
		if current != nil {
			accept = nil
		}

		select {
		case <-ctx.Done():
			if current != nil {
				finish(commandResponse{err: ctx.Err()})
			}
			return ctx.Err()

		case req := <-accept:
			if m.config.CommandSettle > 0 {
				time.Sleep(m.config.CommandSettle)
			}
			wire := req.payload
			if wire == nil {
				wire = []byte(strings.TrimSpace(req.cmd) + "\r")
			}
			if _, err := m.transport.Write(wire); err != nil {
				req.respChan <- commandResponse{err: fmt.Errorf("write command %q: %w", req.cmd, err)}
				continue
			}
			current = req
			lines = nil
			deadline = req.ctx.Done()

		case <-deadline:
			finish(commandResponse{
				response: strings.Join(lines, "\n"),
				err:      fmt.Errorf("command timeout: %w", context.Cause(current.ctx)),
			})

		case token, ok := <-tokens:
			if !ok {
				if current != nil {
					finish(commandResponse{err: io.EOF})
				}
				return io.EOF
			}
			m.handleToken(token, &current, &lines, finish)

		case err := <-scanErrs:
			if current != nil {
				finish(commandResponse{err: fmt.Errorf("read error: %w", err)})
			}
			return fmt.Errorf("scanner error: %w", err)
		}
	}
}

// handleToken routes one parsed line: URCs and orphaned lines go to
// subscribers, everything else is accumulated for the in-flight command and
// checked against its terminal conditions.
func (m *Modem) handleToken(token string, current **commandRequest, lines *[]string, finish func(commandResponse)) {
	cmd := *current

	switch at.Classify(token) {
	case at.TypeURC:
		// URCs can arrive at any time, even during command execution.
		m.publish(token)
		return

	case at.TypePrompt:
		if cmd == nil {
			return
		}
		*lines = append(*lines, token)
		if cmd.prompt {
			finish(commandResponse{response: strings.Join(*lines, "\n")})
		}
		return
	}

	// TypeFinal or TypeData.
	if cmd == nil {
		// No transaction open: a late final (NO CARRIER after a dial's OK)
		// is a notification in disguise. Intermediate data with no owner is
		// forwarded too; subscribers filter by token.
		m.publish(token)
		return
	}

	*lines = append(*lines, token)
	buf := strings.Join(*lines, "\n")

	switch {
	case strings.Contains(buf, cmd.expect):
		finish(commandResponse{response: buf})
	case strings.HasPrefix(token, at.CmsError):
		code, _ := at.CMSErrorCode(token)
		finish(commandResponse{response: buf, err: &CMSError{Code: code, Line: token}})
	case token == at.ERROR, strings.HasPrefix(token, at.CmeError):
		finish(commandResponse{response: buf, err: errors.New(token)})
	case token == at.NoCarrier, token == at.Busy, token == at.NoAnswer, token == at.NoDialtone:
		finish(commandResponse{response: buf, err: errors.New(token)})
	}
}

// Subscribe registers a long-lived notification listener. The returned channel
// receives every line the Loop does not attribute to an in-flight command.
// The channel is buffered; lines are dropped rather than blocking the Loop if
// the subscriber falls behind. The cancel function detaches and closes it.
func (m *Modem) Subscribe() (<-chan string, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan string, 32)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Modem) publish(line string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close shuts down the modem and releases all resources.
// It stops the event loop and closes the transport connection. After calling
// Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	if m.loopCancel != nil {
		m.loopCancel()
	}
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// init performs the initial setup sequence for the modem hardware.
// This method is called during New() and must complete successfully
// before the modem can be used.
func (m *Modem) init(ctx context.Context) error {
	if err := m.expectOkDirect(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	if err := m.expectOkDirect(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	if err := m.expectOkDirect(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	simStatus, err := m.execDirect(ctx, at.CmdSimStatus)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case strings.Contains(simStatus, at.SimReady):
		// OK

	case strings.Contains(simStatus, at.SimPin):
		if m.config.SimPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.expectOkDirect(ctx, fmt.Sprintf(`AT+CPIN="%s"`, m.config.SimPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		if err := m.waitForSIMReady(ctx, PollConfig{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}

	if err := m.expectOkDirect(ctx, at.CmdSetTextMode); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}
	if err := m.expectOkDirect(ctx, at.CmdTextParams); err != nil {
		return fmt.Errorf("set text mode parameters: %w", err)
	}

	if m.config.EnableInbound {
		if err := m.expectOkDirect(ctx, at.CmdNotifyNewMsg); err != nil {
			return fmt.Errorf("enable new-message notifications: %w", err)
		}
	}

	return nil
}

// exec sends an AT command to the modem and waits for OK within the default
// timeout. The Loop() must be running before calling this method.
func (m *Modem) exec(ctx context.Context, cmd string) (string, error) {
	return m.submit(ctx, &commandRequest{cmd: cmd, expect: at.OK}, m.config.ATTimeout)
}

// execExpect is exec with a caller-chosen terminal token and timeout.
func (m *Modem) execExpect(ctx context.Context, cmd, expect string, timeout time.Duration) (string, error) {
	return m.submit(ctx, &commandRequest{cmd: cmd, expect: expect}, timeout)
}

// execPrompt writes cmd and waits for the SMS input prompt. A coded
// "+CMS ERROR:" before the prompt rejects with *CMSError.
func (m *Modem) execPrompt(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return m.submit(ctx, &commandRequest{cmd: cmd, prompt: true, expect: at.OK}, timeout)
}

// execRaw writes payload verbatim (no "\r" framing) and waits for expect.
func (m *Modem) execRaw(ctx context.Context, payload []byte, expect string, timeout time.Duration) (string, error) {
	return m.submit(ctx, &commandRequest{cmd: string(payload), payload: payload, expect: expect}, timeout)
}

func (m *Modem) submit(ctx context.Context, req *commandRequest, timeout time.Duration) (string, error) {
	if m.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if m.transport == nil {
		return "", ErrNotInitialized
	}
	if req.expect == "" {
		req.expect = at.OK
	}

	// Apply per-command timeout if context has none
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req.ctx = ctx
	req.respChan = make(chan commandResponse, 1) // Buffered to prevent blocking the Loop

	select {
	case m.commands <- req:
	case <-ctx.Done():
		return "", fmt.Errorf("command cancelled before sending: %w", ctx.Err())
	}

	select {
	case resp := <-req.respChan:
		return resp.response, resp.err
	case <-m.loopCtx.Done():
		return "", fmt.Errorf("modem loop stopped: %w", m.loopCtx.Err())
	}
}

// execDirect executes an AT command directly on the transport without
// using the channel mechanism and handles the complete request-response
// cycle including timeout management. It is used during modem initialization
// when the Loop is not yet accepting commands.
func (m *Modem) execDirect(ctx context.Context, cmd string) (string, error) {
	if m.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if m.transport == nil {
		return "", ErrNotInitialized
	}

	if _, ok := ctx.Deadline(); !ok && m.config.ATTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ATTimeout)
		defer cancel()
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := m.transport.Write([]byte(wire)); err != nil {
		return "", fmt.Errorf("write command %q: %w", cmd, err)
	}

	scanner := bufio.NewScanner(m.transport)
	scanner.Split(at.Splitter)

	var lines []string
	for {
		select {
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return strings.Join(lines, "\n"), fmt.Errorf("read error: %w", err)
			}
			return strings.Join(lines, "\n"), io.EOF
		}

		token := scanner.Text()
		if token == "" {
			continue
		}

		switch at.Classify(token) {
		case at.TypeFinal:
			lines = append(lines, token)
			response := strings.Join(lines, "\n")
			if token == at.OK {
				return response, nil
			}
			return response, errors.New(token)

		case at.TypeData:
			lines = append(lines, token)

		case at.TypeURC:
			// Ignore URCs in direct exec
			continue

		case at.TypePrompt:
			lines = append(lines, token)
			return strings.Join(lines, "\n"), nil
		}
	}
}

// expectOkDirect executes an AT command and validates that the response
// contains "OK". Used during initialization for basic configuration commands.
func (m *Modem) expectOkDirect(ctx context.Context, cmd string) error {
	resp, err := m.execDirect(ctx, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, at.OK) {
		return fmt.Errorf("unexpected response: %q", resp)
	}
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			resp, err := m.execDirect(ctx, at.CmdSimStatus)
			if err != nil {
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if strings.Contains(resp, at.SimReady) {
				return nil
			}
		}
	}
}

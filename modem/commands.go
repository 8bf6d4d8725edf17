package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cellbridge/smsgw/at"
)

// EnsureReady verifies the modem answers a plain AT probe, first trying to
// break out of any stuck state the modem may be in.
//
// A crashed previous client can leave the modem waiting inside an SMS body
// prompt or a data session; a bare AT probe would then be swallowed as
// message text. The escape dance (ESC to abort a pending prompt, Ctrl-Z to
// flush one, "+++" to leave data mode) is harmless on an idle modem, so it
// always runs before the probes.
//
// Returns ErrNotResponding when every probe attempt times out or errors.
func (m *Modem) EnsureReady(ctx context.Context) error {
	escapes := [][]byte{
		[]byte(at.Escape),
		[]byte(at.CtrlZ),
		[]byte("+++"),
	}
	for _, seq := range escapes {
		// Best effort: errors here mean the transport is broken anyway and
		// the probe below will report that.
		m.transport.Write(seq)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempts := m.config.ProbeAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(m.config.ProbeDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := m.exec(ctx, at.CmdAt); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("%w: %v", ErrNotResponding, lastErr)
}

// ReadMessage retrieves the stored message at the given index as the raw
// multi-line CMGR dump (header line plus body). Text mode is re-asserted
// first because a reset or a concurrent client may have left the modem in
// PDU mode, which would make the dump unparsable.
func (m *Modem) ReadMessage(ctx context.Context, index int) (string, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if _, err := m.exec(ctx, at.CmdSetTextMode); err != nil {
		return "", fmt.Errorf("set text mode: %w", err)
	}
	resp, err := m.execExpect(ctx, fmt.Sprintf("AT+CMGR=%d", index), at.OK, m.config.SendTimeout)
	if err != nil {
		return "", fmt.Errorf("read message %d: %w", index, err)
	}
	return resp, nil
}

// DeleteMessage removes the stored message at the given index from modem memory.
func (m *Modem) DeleteMessage(ctx context.Context, index int) error {
	if _, err := m.exec(ctx, fmt.Sprintf("AT+CMGD=%d", index)); err != nil {
		return fmt.Errorf("delete message %d: %w", index, err)
	}
	return nil
}

// DeleteAllMessages clears every read and sent message from modem storage.
// Storage is small (often tens of slots); without periodic sweeps inbound
// notifications stop once it fills up.
func (m *Modem) DeleteAllMessages(ctx context.Context) error {
	if _, err := m.exec(ctx, "AT+CMGD=1,4"); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

// Dial initiates a voice call to the given number using ATD.
//
// The number is reduced to its digits before dialing; ATD rejects "+" and
// formatting characters on several firmwares. An OK response means the
// command was ACCEPTED, not that the call connected. Connection or failure
// arrives later as notifications (VOICE CALL: BEGIN, NO CARRIER, BUSY),
// which callers observe through Subscribe.
func (m *Modem) Dial(ctx context.Context, number string) error {
	digits := digitsOnly(number)
	if digits == "" {
		return fmt.Errorf("dial: no digits in number %q", number)
	}
	if _, err := m.execExpect(ctx, fmt.Sprintf("ATD%s;", digits), at.OK, m.config.DialTimeout); err != nil {
		return fmt.Errorf("dial %s: %w", digits, err)
	}
	return nil
}

// Hangup terminates the active voice call. AT+CHUP is the proper voice-call
// release; older firmwares only understand ATH, so it is tried as a fallback.
func (m *Modem) Hangup(ctx context.Context) error {
	if _, err := m.exec(ctx, at.CmdHangup); err == nil {
		return nil
	}
	if _, err := m.exec(ctx, at.CmdHangupLegacy); err != nil {
		return fmt.Errorf("hang up: %w", err)
	}
	return nil
}

// Reset requests a full modem restart via AT+CRESET. The transport usually
// drops shortly after, so the caller should expect the Loop to terminate and
// reconnect with a fresh New().
func (m *Modem) Reset(ctx context.Context) error {
	if _, err := m.exec(ctx, at.CmdReset); err != nil {
		return fmt.Errorf("reset modem: %w", err)
	}
	return nil
}

// Info describes the modem hardware and its current network state.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
	SignalDBM    string `json:"signal"`
	SIMStatus    string `json:"simStatus"`
	Operator     string `json:"operator"`
	Registration string `json:"registration"`
	SystemInfo   string `json:"systemInfo"`
}

// Info interrogates the modem with a battery of identification and status
// commands. Individual command failures leave the corresponding field empty
// rather than failing the whole query; a modem with no SIM still has a model
// number worth reporting.
func (m *Modem) Info(ctx context.Context) Info {
	var info Info
	info.Manufacturer = m.infoField(ctx, "AT+CGMI", "")
	info.Model = m.infoField(ctx, "AT+CGMM", "")
	info.Serial = m.infoField(ctx, "AT+CGSN", "")
	info.Firmware = m.infoField(ctx, "AT+CGMR", "")
	info.SignalDBM = m.infoField(ctx, "AT+CSQ", "+CSQ:")
	info.SIMStatus = m.infoField(ctx, at.CmdSimStatus, "+CPIN:")
	info.Operator = m.infoField(ctx, "AT+COPS?", "+COPS:")
	info.Registration = m.infoField(ctx, "AT+CREG?", "+CREG:")
	info.SystemInfo = m.infoField(ctx, "AT+CPSI?", "+CPSI:")
	return info
}

// infoField runs one info command and extracts its payload line. When prefix
// is non-empty the line carrying that prefix is returned with the prefix
// stripped; otherwise the first non-final line is returned verbatim.
func (m *Modem) infoField(ctx context.Context, cmd, prefix string) string {
	resp, err := m.exec(ctx, cmd)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == at.OK {
			continue
		}
		if prefix == "" {
			return line
		}
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

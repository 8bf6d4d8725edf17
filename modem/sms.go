package modem

import (
	"context"
	"fmt"

	"github.com/cellbridge/smsgw/at"
	"github.com/cellbridge/smsgw/sms"
)

// SendSMS sends a text message to the given phone number.
//
// The encoding is chosen per message: text that fits the GSM default
// alphabet goes out as-is, anything else (and the euro sign) switches the
// modem to UCS-2, where both the destination number and the body are
// hex-encoded big-endian UTF-16. The two encodings carry different length
// caps, enforced before touching the modem.
//
// The send is a two-phase exchange: CMGS with the destination waits for the
// "> " body prompt, then the body terminated by Ctrl-Z waits for the network
// confirmation ("+CMGS: <ref>"). The network leg is slow, so it runs under
// SendTimeout rather than the default command timeout.
func (m *Modem) SendSMS(ctx context.Context, number, text string) error {
	ucs2 := sms.NeedsUCS2(text)
	if err := sms.Validate(text, ucs2); err != nil {
		return err
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	var header, body string
	if ucs2 {
		if _, err := m.exec(ctx, at.CmdCharsetUCS2); err != nil {
			return fmt.Errorf("set UCS2 charset: %w", err)
		}
		if _, err := m.exec(ctx, at.CmdUCS2Params); err != nil {
			return fmt.Errorf("set UCS2 text params: %w", err)
		}
		// In UCS-2 mode the destination is hex-encoded too, with an explicit
		// international type-of-address.
		header = fmt.Sprintf(`AT+CMGS="%s",145`, sms.ToUCS2Hex(number))
		body = sms.ToUCS2Hex(text)
	} else {
		if _, err := m.exec(ctx, at.CmdCharsetGSM); err != nil {
			return fmt.Errorf("set GSM charset: %w", err)
		}
		if _, err := m.exec(ctx, at.CmdTextParams); err != nil {
			return fmt.Errorf("set text params: %w", err)
		}
		header = fmt.Sprintf(`AT+CMGS="%s"`, number)
		body = text
	}

	if _, err := m.execPrompt(ctx, header, m.config.PromptTimeout); err != nil {
		return fmt.Errorf("wait for SMS prompt: %w", err)
	}

	if _, err := m.execRaw(ctx, []byte(body+at.CtrlZ+"\r"), "+CMGS:", m.config.SendTimeout); err != nil {
		return fmt.Errorf("send SMS body: %w", err)
	}

	if ucs2 {
		// Restore the default charset so later reads and sends start from a
		// known state. Best effort.
		m.exec(ctx, at.CmdCharsetGSM)
	}

	// Sent messages accumulate in modem storage until it fills up and the
	// modem stops accepting new ones. Sweep after every successful send.
	// Best effort.
	m.DeleteAllMessages(ctx)

	return nil
}

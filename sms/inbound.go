package sms

import (
	"errors"
	"strings"
)

// ErrUnparsable is returned when a CMGR dump does not contain a recognizable
// message header. The raw dump should be preserved by the caller for
// diagnostics; the message itself may still have been real.
var ErrUnparsable = errors.New("sms: unparsable message dump")

// Message is one inbound SMS as read from modem storage.
type Message struct {
	// Status is the storage state reported by the modem ("REC UNREAD", "REC READ").
	Status string
	// From is the sender number, decoded from UCS-2 hex when delivered that way.
	From string
	// Timestamp is the service-center timestamp string as reported by the
	// modem ("26/08/28,10:11:12+08"). It is kept verbatim; the gateway
	// records its own receive time separately.
	Timestamp string
	// Text is the message body with UCS-2 hex decoded when applicable.
	Text string
}

// ParseInbound parses the raw multi-line response of AT+CMGR in text mode:
//
//	+CMGR: "REC UNREAD","+15550001111",,"26/08/28,10:11:12+08"
//	Hello world
//	OK
//
// The body runs from the line after the header to the terminal OK and may
// span multiple lines. Sender and body are independently checked for UCS-2
// hex encoding; modems deliver either or both that way without marking it.
func ParseInbound(dump string) (Message, error) {
	lines := strings.Split(dump, "\n")

	header := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "+CMGR:") {
			header = i
			break
		}
	}
	if header < 0 {
		return Message{}, ErrUnparsable
	}

	fields := splitQuoted(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[header]), "+CMGR:")))
	if len(fields) < 2 {
		return Message{}, ErrUnparsable
	}

	msg := Message{
		Status: fields[0],
		From:   decodeField(fields[1]),
	}
	// Field 2 is the alphanumeric alias, usually empty. Field 3 is the
	// service-center timestamp.
	if len(fields) >= 4 {
		msg.Timestamp = fields[3]
	}

	var body []string
	for _, line := range lines[header+1:] {
		if strings.TrimSpace(line) == "OK" {
			break
		}
		body = append(body, line)
	}
	// Trim trailing blank lines the modem appends before OK.
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}
	msg.Text = decodeField(strings.Join(body, "\n"))

	return msg, nil
}

// splitQuoted splits a CMGR header payload on commas, honoring double-quoted
// fields and stripping their quotes. Empty fields are preserved.
func splitQuoted(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, strings.TrimSpace(cur.String()))
	return fields
}

package sms_test

import (
	"errors"
	"testing"

	"github.com/cellbridge/smsgw/sms"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name     string
		dump     string
		expected sms.Message
	}{
		{
			name: "Plain text message",
			dump: "+CMGR: \"REC UNREAD\",\"+15550001111\",,\"26/08/28,10:11:12+08\"\nHi\nOK",
			expected: sms.Message{
				Status:    "REC UNREAD",
				From:      "+15550001111",
				Timestamp: "26/08/28,10:11:12+08",
				Text:      "Hi",
			},
		},
		{
			name: "Multi-line body",
			dump: "+CMGR: \"REC READ\",\"+15550001111\",,\"26/08/28,10:11:12+08\"\nline one\nline two\nOK",
			expected: sms.Message{
				Status:    "REC READ",
				From:      "+15550001111",
				Timestamp: "26/08/28,10:11:12+08",
				Text:      "line one\nline two",
			},
		},
		{
			name: "UCS2 sender and body",
			dump: "+CMGR: \"REC UNREAD\",\"002B00310035003500350030003000300031003100310031\",,\"26/08/28,10:11:12+08\"\n041F04400438043204350442\nOK",
			expected: sms.Message{
				Status:    "REC UNREAD",
				From:      "+15550001111",
				Timestamp: "26/08/28,10:11:12+08",
				Text:      "Привет",
			},
		},
		{
			name: "Header preceded by blank line",
			dump: "\n+CMGR: \"REC UNREAD\",\"+4915512345678\",,\"26/08/28,09:00:00+04\"\nhello\nOK",
			expected: sms.Message{
				Status:    "REC UNREAD",
				From:      "+4915512345678",
				Timestamp: "26/08/28,09:00:00+04",
				Text:      "hello",
			},
		},
		{
			name: "No timestamp field",
			dump: "+CMGR: \"REC UNREAD\",\"+15550001111\"\nshort header\nOK",
			expected: sms.Message{
				Status: "REC UNREAD",
				From:   "+15550001111",
				Text:   "short header",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := sms.ParseInbound(tt.dump)
			if err != nil {
				t.Fatalf("ParseInbound: %v", err)
			}
			if msg != tt.expected {
				t.Errorf("ParseInbound =\n  %+v\nwant\n  %+v", msg, tt.expected)
			}
		})
	}
}

func TestParseInboundUnparsable(t *testing.T) {
	dumps := []string{
		"",
		"OK",
		"+CMGS: 12\nOK",
		"+CMGR: \"REC UNREAD\"\nbody\nOK",
	}

	for _, dump := range dumps {
		if _, err := sms.ParseInbound(dump); !errors.Is(err, sms.ErrUnparsable) {
			t.Errorf("ParseInbound(%q) error = %v, want ErrUnparsable", dump, err)
		}
	}
}

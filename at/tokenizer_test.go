package at_test

import (
	"bufio"
	"strings"
	"testing"

	"github.com/cellbridge/smsgw/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple AT command response",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK"},
		},
		{
			name:     "AT command with error",
			input:    "AT+CPIN?\r\n+CME ERROR: 10\r\n",
			expected: []string{"AT+CPIN?", "+CME ERROR: 10"},
		},
		{
			name:     "SMS sending sequence",
			input:    "AT+CMGS=\"+1234567890\"\r\n> Hello World!\x1A\r\n+CMGS: 123\r\nOK\r\n",
			expected: []string{"AT+CMGS=\"+1234567890\"", "> ", "Hello World!\x1A", "+CMGS: 123", "OK"},
		},
		{
			name:     "URC mixed with AT response",
			input:    "AT+CSQ\r\n+CMTI: \"SM\",1\r\n+CSQ: 20,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CMTI: \"SM\",1", "+CSQ: 20,99", "OK"},
		},
		{
			name:     "SMS prompt only",
			input:    "> ",
			expected: []string{"> "},
		},
		{
			name:     "Empty lines handling",
			input:    "\r\n\r\nAT\r\nOK\r\n\r\n",
			expected: []string{"", "", "AT", "OK", ""},
		},
		{
			name:     "Voice call lifecycle",
			input:    "ATD15550001111;\r\nOK\r\nVOICE CALL: BEGIN\r\nVOICE CALL: END: 000045\r\nNO CARRIER\r\n",
			expected: []string{"ATD15550001111;", "OK", "VOICE CALL: BEGIN", "VOICE CALL: END: 000045", "NO CARRIER"},
		},
		{
			name:     "Incomplete command at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99",
			expected: []string{"AT+CSQ", "+CSQ: 15,99"},
		},
		{
			name:     "SMS text without terminator at EOF",
			input:    "AT+CMGS=\"+123\"\r\n> Hello World",
			expected: []string{"AT+CMGS=\"+123\"", "> ", "Hello World"},
		},
		{
			name:     "Partial SMS prompt at EOF",
			input:    "AT+CMGS=\"+123\"\r\n>",
			expected: []string{"AT+CMGS=\"+123\"", ">"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}

			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}

			if len(tokens) != len(tt.expected) {
				t.Fatalf("Expected %d tokens, got %d.\nExpected: %v\nGot: %v",
					len(tt.expected), len(tokens), tt.expected, tokens)
			}

			for i, expected := range tt.expected {
				if tokens[i] != expected {
					t.Errorf("Token %d: expected %q, got %q", i, expected, tokens[i])
				}
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.ResponseType
	}{
		// Final responses
		{name: "OK response", input: "OK", expected: at.TypeFinal},
		{name: "ERROR response", input: "ERROR", expected: at.TypeFinal},
		{name: "CME Error", input: "+CME ERROR: 30", expected: at.TypeFinal},
		{name: "CMS Error", input: "+CMS ERROR: 500", expected: at.TypeFinal},
		{name: "NO CARRIER", input: "NO CARRIER", expected: at.TypeFinal},
		{name: "BUSY", input: "BUSY", expected: at.TypeFinal},
		{name: "NO ANSWER", input: "NO ANSWER", expected: at.TypeFinal},

		// URCs
		{name: "New message URC", input: "+CMTI: \"SM\",1", expected: at.TypeURC},
		{name: "Incoming call URC", input: "RING", expected: at.TypeURC},
		{name: "Call begin URC", input: "VOICE CALL: BEGIN", expected: at.TypeURC},
		{name: "Call end URC", input: "VOICE CALL: END: 000023", expected: at.TypeURC},
		{name: "Call indicator set", input: `+CIEV: "CALL",1`, expected: at.TypeURC},
		{name: "Call indicator cleared", input: `+CIEV: "CALL",0`, expected: at.TypeURC},

		// Data responses
		{name: "AT command", input: "AT+CSQ", expected: at.TypeData},
		{name: "Signal quality response", input: "+CSQ: 15,99", expected: at.TypeData},
		{name: "PIN status", input: "+CPIN: READY", expected: at.TypeData},
		{name: "Network registration", input: "+CREG: 0,1", expected: at.TypeData},
		{name: "SMS send result", input: "+CMGS: 123", expected: at.TypeData},
		{name: "Device info", input: "Quectel", expected: at.TypeData},

		// Prompt
		{name: "SMS input prompt", input: "> ", expected: at.TypePrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := at.Classify(tt.input)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v for input %q", tt.expected, result, tt.input)
			}
		})
	}
}

func TestCMSErrorCode(t *testing.T) {
	tests := []struct {
		input string
		code  int
		ok    bool
	}{
		{"+CMS ERROR: 500", 500, true},
		{"+CMS ERROR:305", 305, true},
		{"+CMS ERROR: 500 unknown", 500, true},
		{"+CMS ERROR: none", 0, false},
		{"ERROR", 0, false},
	}

	for _, tt := range tests {
		code, ok := at.CMSErrorCode(tt.input)
		if code != tt.code || ok != tt.ok {
			t.Errorf("CMSErrorCode(%q) = (%d, %v), want (%d, %v)", tt.input, code, ok, tt.code, tt.ok)
		}
	}
}

func TestParseNewMessage(t *testing.T) {
	tests := []struct {
		input  string
		memory string
		index  int
		ok     bool
	}{
		{`+CMTI: "SM",4`, "SM", 4, true},
		{`+CMTI: "ME", 12`, "ME", 12, true},
		{`+CMTI: "SM"`, "", 0, false},
		{`+CMTI: "SM",x`, "", 0, false},
		{`+CSQ: 15,99`, "", 0, false},
	}

	for _, tt := range tests {
		memory, index, ok := at.ParseNewMessage(tt.input)
		if ok != tt.ok || (ok && (memory != tt.memory || index != tt.index)) {
			t.Errorf("ParseNewMessage(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tt.input, memory, index, ok, tt.memory, tt.index, tt.ok)
		}
	}
}

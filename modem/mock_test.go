package modem_test

import (
	gomock "go.uber.org/mock/gomock"

	"github.com/cellbridge/smsgw/modem"
)

type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

func (b *MockSequenceBuilder) exchange(cmd, response string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r")).Return(len(cmd)+1, nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			copy(p, response)
			return len(response), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.exchange("AT", "OK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.exchange("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.exchange("AT+CMEE=2", "OK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.exchange("AT+CPIN?", "+CPIN: SIM PIN\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.exchange("AT+CPIN?", "+CPIN: READY\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.exchange("AT+CMGF=1", "OK\r\n")
}

func (b *MockSequenceBuilder) TextParams() *MockSequenceBuilder {
	return b.exchange("AT+CSMP=17,167,0,0", "OK\r\n")
}

func (b *MockSequenceBuilder) NotifyNewMsg() *MockSequenceBuilder {
	return b.exchange("AT+CNMI=2,1,0,0,0", "OK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the full expected exchange of a default initialization
// (no SIM PIN, inbound notifications disabled).
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		VerboseErrors().
		SimReady().
		SMSTextMode().
		TextParams().
		Build()
}

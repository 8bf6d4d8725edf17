package modem

import (
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. The Loop's scanner goroutine continuously reads from the
// transport, so reads must block until data is available, like a real serial
// port would.
//
// Every Write is recorded and also published on a channel, which lets tests
// script a modem: receive the written command, answer with SendData.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	writeChan chan string
	writes    []string
	closed    bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan:  make(chan []byte, 10),
		writeChan: make(chan string, 64),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	t.writes = append(t.writes, string(p))
	t.mu.Unlock()
	select {
	case t.writeChan <- string(p):
	default:
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// WriteCh exposes the stream of written payloads for scripted responders.
func (t *TestTransport) WriteCh() <-chan string {
	return t.writeChan
}

// Writes returns a copy of everything written so far.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

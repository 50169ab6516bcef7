package iec62056

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// fakeMeter is an in-memory Transport. Bytes queued with feed are handed to
// Read; respond maps a written request to the bytes the meter answers with.
// With a non-zero timeout an empty input times out at once, with a zero
// timeout Read blocks until input arrives or the port is closed.
type fakeMeter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	input   []byte
	written [][]byte
	respond func(req []byte) []byte

	baudRate    int
	baudChanges []int
	timeout     time.Duration
	closed      bool
	drains      chan struct{}
}

func newFakeMeter() *fakeMeter {
	m := &fakeMeter{baudRate: 300, drains: make(chan struct{}, 16)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *fakeMeter) feed(p []byte) {
	m.mu.Lock()
	m.input = append(m.input, p...)
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *fakeMeter) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.input) == 0 {
		if m.closed {
			return 0, errors.New("fake: port closed")
		}
		if m.timeout > 0 {
			return 0, nil
		}
		m.cond.Wait()
	}
	n := copy(p, m.input)
	m.input = m.input[n:]
	return n, nil
}

func (m *fakeMeter) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, errors.New("fake: port closed")
	}
	req := append([]byte(nil), p...)
	m.written = append(m.written, req)
	respond := m.respond
	m.mu.Unlock()
	if respond != nil {
		if answer := respond(req); answer != nil {
			m.feed(answer)
		}
	}
	return len(p), nil
}

func (m *fakeMeter) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baudRate
}

func (m *fakeMeter) SetBaudRate(baud int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baudRate = baud
	m.baudChanges = append(m.baudChanges, baud)
	return nil
}

func (m *fakeMeter) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

func (m *fakeMeter) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

func (m *fakeMeter) Drain() ([]byte, error) {
	m.mu.Lock()
	drained := m.input
	m.input = nil
	m.mu.Unlock()
	select {
	case m.drains <- struct{}{}:
	default:
	}
	return drained, nil
}

func (m *fakeMeter) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMeter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
	return nil
}

func (m *fakeMeter) requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

func (m *fakeMeter) baudHistory() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.baudChanges...)
}

// dataMessageFrame wraps body as STX body ETX BCC.
func dataMessageFrame(body string) []byte {
	frame := append([]byte{stx}, body...)
	frame = append(frame, etx)
	return append(frame, computeBcc(frame[1:]))
}

// scriptedMeter answers identification, authentication and data requests
// the way a programming mode capable meter does.
type scriptedMeter struct {
	identification string
	readout        string
	authAnswer     byte
	blocks         map[string]string
	// unacknowledged meters (modes A and B) send the readout right after
	// the identification message
	unacknowledged bool
}

func (s scriptedMeter) respond(req []byte) []byte {
	switch {
	case bytes.HasPrefix(req, []byte("/?")):
		if s.unacknowledged {
			return append([]byte(s.identification), dataMessageFrame(s.readout)...)
		}
		return []byte(s.identification)
	case req[0] == ack:
		return dataMessageFrame(s.readout)
	case bytes.HasPrefix(req, []byte{soh, 'P', '1'}):
		return []byte{s.authAnswer}
	case bytes.HasPrefix(req, []byte{soh, 'R', '1'}):
		start := bytes.IndexByte(req, stx) + 1
		end := bytes.IndexByte(req, '(')
		return dataMessageFrame(s.blocks[string(req[start:end])])
	}
	return nil
}

package transport

import (
	"context"
	"sync"
	"time"
)

// MockSender is a scripted Sender for testing the delivery pipeline. It
// records every call and tracks how many sends overlap, so tests can assert
// that at most one delivery is in flight.
type MockSender struct {
	mu           sync.Mutex
	script       []error
	delay        time.Duration
	calls        int
	bodies       [][]byte
	contentTypes []string
	closed       bool

	inFlight    int
	maxInFlight int
}

// NewMockSender creates a MockSender that accepts every send.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// SetScript sets the per-call outcomes. Call n returns script[n]; calls past
// the end of the script return the last element.
func (m *MockSender) SetScript(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = outcomes
}

// FailTimes scripts n failing calls followed by success.
func (m *MockSender) FailTimes(n int, err error) {
	outcomes := make([]error, 0, n+1)
	for i := 0; i < n; i++ {
		outcomes = append(outcomes, err)
	}
	outcomes = append(outcomes, nil)
	m.SetScript(outcomes...)
}

// SetDelay makes every send block for d, honoring context cancellation.
func (m *MockSender) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Send implements Sender.
func (m *MockSender) Send(ctx context.Context, body []byte, contentType string) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}

	call := m.calls
	m.calls++
	m.bodies = append(m.bodies, append([]byte(nil), body...))
	m.contentTypes = append(m.contentTypes, contentType)
	delay := m.delay

	var outcome error
	if len(m.script) > 0 {
		if call >= len(m.script) {
			call = len(m.script) - 1
		}
		outcome = m.script[call]
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return outcome
}

// Close implements Sender.
func (m *MockSender) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many sends were attempted.
func (m *MockSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Bodies returns the sent bodies in call order.
func (m *MockSender) Bodies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.bodies...)
}

// ContentTypes returns the sent content types in call order.
func (m *MockSender) ContentTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.contentTypes...)
}

// MaxInFlight returns the highest number of overlapping sends observed.
func (m *MockSender) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// IsClosed returns true after Close was called.
func (m *MockSender) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

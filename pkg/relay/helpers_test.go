package relay

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tphan267/arqut-relay/pkg/logger"
)

// fakeTransport records writes. When block is set, WriteMessage waits until
// the transport is closed, simulating a peer that stopped reading. A non-nil
// controlGate holds WriteControl until it is closed.
type fakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	controls []int
	closed   bool
	failWith error
	block    bool
	unblock  chan struct{}
	written  chan struct{}

	controlGate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		unblock: make(chan struct{}),
		written: make(chan struct{}, 1024),
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	block, failWith := f.block, f.failWith
	f.mu.Unlock()

	if failWith != nil {
		return failWith
	}
	if block {
		<-f.unblock
		return errors.New("fake: closed while blocked")
	}

	f.mu.Lock()
	f.messages = append(f.messages, append([]byte(nil), data...))
	f.mu.Unlock()
	f.written <- struct{}{}
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	gate := f.controlGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.unblock)
	}
	return nil
}

func (f *fakeTransport) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = string(m)
	}
	return out
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// waitWrites blocks until n messages were written or fails the test.
func (f *fakeTransport) waitWrites(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-f.written:
		case <-deadline:
			t.Fatalf("Timed out waiting for %d writes, got %d", n, len(f.Messages()))
		}
	}
}

func testLogger() *logger.Logger {
	return logger.New(io.Discard, "TEST", logger.DebugLevel)
}

func registerFake(t *testing.T, r *Registry, opts ConnectionOptions) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := NewConnection(ft, opts)
	if _, err := r.Register(c); err != nil {
		t.Fatalf("Failed to register connection: %v", err)
	}
	t.Cleanup(func() { r.Unregister(c.ID()) })
	return c, ft
}

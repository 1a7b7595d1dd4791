package transport

import (
	"errors"
	"sync"
)

// ErrClosed indicates a Send on a closed loopback endpoint.
var ErrClosed = errors.New("transport: endpoint closed")

// Loopback is one endpoint of an in-memory Transport pair. Frames written
// to one endpoint are delivered synchronously, in order, to the peer's
// receive handler on the sender's goroutine. Safe for concurrent use.
type Loopback struct {
	mu      sync.Mutex
	peer    *Loopback
	handler func([]byte)
	closed  bool
}

// NewLoopbackPair creates two connected endpoints.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers a copy of frame to the peer endpoint's receive handler.
// Frames sent before the peer registers a handler are dropped, matching a
// notification sent before the subscriber subscribes.
func (l *Loopback) Send(frame []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	handler := peer.handler
	closed := peer.closed
	peer.mu.Unlock()

	if closed || handler == nil {
		return nil
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	handler(buf)
	return nil
}

// SetReceiveHandler registers the inbound frame callback.
func (l *Loopback) SetReceiveHandler(handler func(frame []byte)) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Close marks the endpoint closed. The peer endpoint is unaffected beyond
// its sends being silently dropped.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.handler = nil
	l.mu.Unlock()
	return nil
}

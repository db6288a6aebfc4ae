// Package transport turns a raw stream socket into a framed message
// session: one read loop and one serialized write queue per connection.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/Dyastin-0/lanchat/protocol"
)

var (
	ErrClosed    = errors.New("transport: connection closed")
	ErrQueueFull = errors.New("transport: send queue full")
)

const sendQueueSize = 256

// Conn is a framed session with one peer. All writes go through the
// send queue so a file chunk and a text message never interleave
// mid-frame. A slow peer fills only its own queue.
type Conn struct {
	raw      net.Conn
	outbound bool

	mu     sync.RWMutex
	peerID string

	sendq chan protocol.Message

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

// NewConn wraps a raw connection and starts its write loop. Reading
// does not begin until Start is called.
func NewConn(raw net.Conn, outbound bool) *Conn {
	c := &Conn{
		raw:      raw,
		outbound: outbound,
		sendq:    make(chan protocol.Message, sendQueueSize),
		closed:   make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// Start begins the read loop. onMessage fires for every decoded frame;
// onClose fires exactly once when the stream ends, with a nil error for
// a clean closure and the failure otherwise.
func (c *Conn) Start(onMessage func(*Conn, protocol.Message), onClose func(*Conn, error)) {
	go c.readLoop(onMessage, onClose)
}

// PeerID returns the registered peer ID, empty until identified.
func (c *Conn) PeerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.peerID
}

func (c *Conn) SetPeerID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peerID = id
}

// Outbound reports whether the local side dialed this connection.
func (c *Conn) Outbound() bool {
	return c.outbound
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Send enqueues a message, blocking until there is queue space. Returns
// ErrClosed once the connection is down.
func (c *Conn) Send(msg protocol.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.sendq <- msg:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// TrySend enqueues without blocking. A full queue is reported as
// ErrQueueFull so a broadcast never stalls on one peer.
func (c *Conn) TrySend(msg protocol.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.sendq <- msg:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

func (c *Conn) Close() error {
	c.closeWithError(nil)
	return nil
}

// Done is closed when the connection is fully torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the terminal error, nil for a clean closure.
func (c *Conn) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.closeErr
}

func (c *Conn) readLoop(onMessage func(*Conn, protocol.Message), onClose func(*Conn, error)) {
	for {
		msg, err := protocol.ReadMessage(c.raw)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.closeWithError(nil)
			} else {
				// Malformed frame: no resynchronization, tear down.
				c.closeWithError(err)
			}

			onClose(c, c.Err())
			return
		}

		onMessage(c, msg)
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.sendq:
			if err := protocol.WriteMessage(c.raw, msg); err != nil {
				// Closing the socket makes the read loop surface the failure.
				c.closeWithError(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		c.raw.Close()
		close(c.closed)
	})
}

package client

import (
	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/transport"
	"github.com/Dyastin-0/lanchat/types"
)

// All network, discovery and user activity funnels into one event
// channel, drained sequentially by Run. That loop is the single writer
// of the state store.
type event interface{}

// From the discovery listener.
type evPeerSeen struct {
	peer types.Peer
}

// From a connection's read loop.
type evInbound struct {
	conn *transport.Conn
	msg  protocol.Message
}

// A connection's stream ended; err is nil for a clean closure.
type evClosed struct {
	conn *transport.Conn
	err  error
}

// An outbound dial finished.
type evDialed struct {
	peer types.Peer
	conn *transport.Conn
}

type evDialFailed struct {
	peer types.Peer
	err  error
}

// Outgoing transfer bookkeeping, posted by the sender goroutine.
type evTransferProgress struct {
	id    string
	bytes int64
}

type evTransferDone struct {
	id       string
	filename string
	err      error
}

// A blocking send to one peer failed mid-transfer.
type evPeerSendFailed struct {
	peerID string
	err    error
}

// User intents.
type evSendText struct {
	body string
}

type evSendFile struct {
	path string
}

type evQuit struct{}

// onPeerSeen runs on the discovery goroutine.
func (c *Client) onPeerSeen(peer types.Peer) {
	c.events <- evPeerSeen{peer: peer}
}

// onMessage runs on a connection's read goroutine.
func (c *Client) onMessage(conn *transport.Conn, msg protocol.Message) {
	c.events <- evInbound{conn: conn, msg: msg}
}

// onClose runs on a connection's read goroutine, exactly once.
func (c *Client) onClose(conn *transport.Conn, err error) {
	c.events <- evClosed{conn: conn, err: err}
}

package client

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/state"
	"github.com/Dyastin-0/lanchat/transfer"
	"github.com/Dyastin-0/lanchat/transport"
	"github.com/Dyastin-0/lanchat/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

func (c *Client) handle(ev event) {
	switch ev := ev.(type) {
	case evPeerSeen:
		c.handlePeerSeen(ev.peer)
	case evDialed:
		c.handleDialed(ev.peer, ev.conn)
	case evDialFailed:
		c.log.WithStr("peer", ev.peer.ID).WithStr("err", ev.err.Error()).Warn("dial failed")
		c.store.SetPeerState(ev.peer.ID, types.StateDisconnected)
	case evInbound:
		c.handleInbound(ev.conn, ev.msg)
	case evClosed:
		c.handleClosed(ev.conn, ev.err)
	case evSendText:
		c.handleSendText(ev.body)
	case evSendFile:
		c.handleSendFile(ev.path)
	case evTransferProgress:
		c.store.SetTransferProgress(ev.id, ev.bytes)
	case evTransferDone:
		c.handleTransferDone(ev.id, ev.filename, ev.err)
	case evPeerSendFailed:
		c.log.WithStr("peer", ev.peerID).WithStr("err", ev.err.Error()).Warn("send failed mid-transfer")
		c.dropPeer(ev.peerID)
	}
}

// handlePeerSeen reacts to a discovery announcement. Announcements
// repeat every couple of seconds, so anything already connecting or
// connected is ignored; only new or previously disconnected peers
// trigger a dial.
func (c *Client) handlePeerSeen(peer types.Peer) {
	if existing, ok := c.store.Peer(peer.ID); ok {
		switch existing.State {
		case types.StateConnecting, types.StateConnected:
			return
		}
	}

	c.store.PutPeer(peer)
	c.store.SetPeerState(peer.ID, types.StateConnecting)

	go func() {
		conn, err := c.registry.Connect(peer.Addr())
		if err != nil {
			c.events <- evDialFailed{peer: peer, err: err}
			return
		}

		c.events <- evDialed{peer: peer, conn: conn}
	}()
}

func (c *Client) handleDialed(peer types.Peer, conn *transport.Conn) {
	conn.SetPeerID(peer.ID)

	if err := c.registry.Register(peer.ID, conn); err != nil {
		// Lost the simultaneous-dial tie-break; the survivor carries on.
		c.log.WithStr("peer", peer.ID).Debug("outbound connection discarded")
		return
	}

	conn.Start(c.onMessage, c.onClose)

	if err := conn.Send(c.presenceJoined()); err != nil {
		c.log.WithStr("peer", peer.ID).WithStr("err", err.Error()).Warn("hello failed")
		conn.Close()
		return
	}

	c.markConnected(peer)
}

// handleInbound is the protocol dispatch: every wire message kind is
// handled here and nowhere else.
func (c *Client) handleInbound(conn *transport.Conn, msg protocol.Message) {
	peerID := conn.PeerID()

	// An unidentified connection must introduce itself first.
	if peerID == "" {
		if msg.Kind != protocol.KindPresence || msg.Presence != protocol.PresenceJoined || msg.SenderID == "" {
			c.log.WithStr("kind", string(msg.Kind)).Warn("message before hello, closing connection")
			conn.Close()
			return
		}

		c.handleHello(conn, msg)
		return
	}

	switch msg.Kind {
	case protocol.KindText:
		c.store.AppendChat(c.peerName(peerID), msg.Body, false)

	case protocol.KindPresence:
		if msg.Presence == protocol.PresenceLeft {
			c.store.AppendSystem(fmt.Sprintf("%s left", c.peerName(peerID)))
			c.store.SetPeerState(peerID, types.StateDisconnected)
			conn.Close()
			return
		}
		if peer, ok := c.store.Peer(peerID); ok {
			peer.Name = msg.Username
			c.markConnected(peer)
		}

	case protocol.KindFileStart:
		c.handleFileStart(peerID, msg)

	case protocol.KindFileChunk:
		c.handleFileChunk(msg)

	case protocol.KindFileEnd:
		c.handleFileEnd(msg)
	}
}

func (c *Client) handleHello(conn *transport.Conn, msg protocol.Message) {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	peer := types.Peer{
		ID:         msg.SenderID,
		Name:       msg.Username,
		IPAddress:  host,
		Port:       msg.Port,
		LastActive: time.Now(),
	}

	conn.SetPeerID(peer.ID)

	if err := c.registry.Register(peer.ID, conn); err != nil {
		return
	}

	if err := conn.Send(c.presenceJoined()); err != nil {
		conn.Close()
		return
	}

	c.markConnected(peer)
}

func (c *Client) handleClosed(conn *transport.Conn, err error) {
	peerID := conn.PeerID()
	if peerID == "" {
		return
	}

	// A tie-break loser is closed while the survivor stays registered;
	// Deregister reports false then and nothing else happens.
	if !c.registry.Deregister(peerID, conn) {
		return
	}

	if err != nil {
		c.log.WithStr("peer", peerID).WithStr("err", err.Error()).Warn("connection lost")
	}

	c.failPeerTransfers(peerID)

	if peer, ok := c.store.Peer(peerID); ok && peer.State == types.StateConnected {
		c.store.SetPeerState(peerID, types.StateDisconnected)
		c.store.AppendSystem(fmt.Sprintf("lost connection to %s", peer.Name))
	}
}

func (c *Client) handleSendText(body string) {
	// Local echo first: the message shows up before any network send.
	c.store.AppendChat(c.Self.Name, body, true)

	for _, peerID := range c.registry.Broadcast(protocol.Text(body)) {
		c.dropPeer(peerID)
	}
}

func (c *Client) handleSendFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		c.store.AppendSystem(fmt.Sprintf("cannot send '%s': %v", path, err))
		return
	}
	if info.IsDir() {
		c.store.AppendSystem(fmt.Sprintf("'%s' is a directory", path))
		return
	}

	conns := c.registry.Conns()
	if len(conns) == 0 {
		c.store.AppendSystem("no peers connected")
		return
	}

	file := types.FileInfo{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
	}

	transferID := uuid.New().String()

	c.store.PutTransfer(state.TransferView{
		ID:        transferID,
		PeerName:  fmt.Sprintf("%d peer(s)", len(conns)),
		Direction: state.Outgoing,
		Filename:  file.Name,
		TotalSize: file.Size,
		Status:    state.TransferInProgress,
	})
	c.store.AppendSystem(fmt.Sprintf("sending '%s' (%s) to %d peer(s)", file.Name, humanize.IBytes(uint64(file.Size)), len(conns)))

	targets := make([]transfer.Target, 0, len(conns))
	for _, conn := range conns {
		targets = append(targets, conn)
	}

	go func() {
		err := transfer.Send(file, transferID, targets,
			func(bytes int64) {
				c.events <- evTransferProgress{id: transferID, bytes: bytes}
			},
			func(peerID string, err error) {
				c.events <- evPeerSendFailed{peerID: peerID, err: err}
			},
		)

		c.events <- evTransferDone{id: transferID, filename: file.Name, err: err}
	}()
}

func (c *Client) handleTransferDone(id, filename string, err error) {
	if err != nil {
		c.store.SetTransferStatus(id, state.TransferFailed)
		c.store.AppendSystem(fmt.Sprintf("failed to send '%s': %v", filename, err))
		return
	}

	c.store.SetTransferStatus(id, state.TransferCompleted)
	c.store.AppendSystem(fmt.Sprintf("sent '%s'", filename))
}

func (c *Client) handleFileStart(peerID string, msg protocol.Message) {
	peer, ok := c.store.Peer(peerID)
	if !ok {
		peer = types.Peer{ID: peerID, Name: c.peerName(peerID)}
	}

	t, err := c.transfers.Start(peer, msg)
	if err != nil {
		c.log.WithStr("transfer", msg.TransferID).WithStr("err", err.Error()).Error("failed to start transfer")
		c.store.AppendSystem(fmt.Sprintf("cannot receive '%s' from %s: %v", msg.Filename, peer.Name, err))
		return
	}

	c.store.PutTransfer(viewOf(t))
	c.store.AppendSystem(fmt.Sprintf("receiving '%s' (%s) from %s", t.Filename, humanize.IBytes(uint64(t.TotalSize)), t.PeerName))
}

func (c *Client) handleFileChunk(msg protocol.Message) {
	t, applied, err := c.transfers.Chunk(msg)
	if t == nil {
		return
	}

	if err != nil {
		c.store.PutTransfer(viewOf(t))
		c.store.AppendSystem(fmt.Sprintf("transfer of '%s' from %s failed: %v", t.Filename, t.PeerName, err))
		return
	}

	if applied {
		c.store.SetTransferProgress(t.ID, t.Bytes)
	}
}

func (c *Client) handleFileEnd(msg protocol.Message) {
	t, err := c.transfers.End(msg)
	if t == nil {
		return
	}

	c.store.PutTransfer(viewOf(t))

	if err != nil {
		c.store.AppendSystem(fmt.Sprintf("transfer of '%s' from %s failed: %v", t.Filename, t.PeerName, err))
		return
	}

	c.store.AppendSystem(fmt.Sprintf("received '%s' from %s -> %s", t.Filename, t.PeerName, t.Path))
}

// markConnected records the peer as connected, announcing the join
// only on the transition so repeated hellos stay quiet.
func (c *Client) markConnected(peer types.Peer) {
	existing, ok := c.store.Peer(peer.ID)
	wasConnected := ok && existing.State == types.StateConnected

	if ok {
		if peer.Name == "" {
			peer.Name = existing.Name
		}
		if peer.Port == 0 {
			peer.Port = existing.Port
		}
	}

	peer.State = types.StateConnected
	peer.LastActive = time.Now()
	c.store.PutPeer(peer)

	if !wasConnected {
		c.log.WithStr("peer", peer.ID).WithStr("name", peer.Name).Info("peer connected")
		c.store.AppendSystem(fmt.Sprintf("%s joined", peer.Name))
	}
}

// dropPeer tears down a peer whose connection failed to take a send.
func (c *Client) dropPeer(peerID string) {
	conn, ok := c.registry.Get(peerID)
	if !ok {
		return
	}

	c.registry.Deregister(peerID, conn)
	conn.Close()

	c.failPeerTransfers(peerID)

	if peer, ok := c.store.Peer(peerID); ok && peer.State == types.StateConnected {
		c.store.SetPeerState(peerID, types.StateDisconnected)
		c.store.AppendSystem(fmt.Sprintf("lost connection to %s", peer.Name))
	}
}

func (c *Client) failPeerTransfers(peerID string) {
	for _, t := range c.transfers.FailPeer(peerID) {
		c.store.PutTransfer(viewOf(t))
		c.store.AppendSystem(fmt.Sprintf("transfer of '%s' from %s failed: peer disconnected", t.Filename, t.PeerName))
	}
}

func (c *Client) peerName(peerID string) string {
	if peer, ok := c.store.Peer(peerID); ok && peer.Name != "" {
		return peer.Name
	}

	return peerID
}

func (c *Client) presenceJoined() protocol.Message {
	msg := protocol.Presence(c.Self.Name, protocol.PresenceJoined)
	msg.SenderID = c.Self.ID
	msg.Port = c.Self.Port

	return msg
}

func (c *Client) presenceLeft() protocol.Message {
	msg := protocol.Presence(c.Self.Name, protocol.PresenceLeft)
	msg.SenderID = c.Self.ID

	return msg
}

func viewOf(t *transfer.Transfer) state.TransferView {
	return state.TransferView{
		ID:        t.ID,
		PeerName:  t.PeerName,
		Direction: state.Incoming,
		Filename:  t.Filename,
		TotalSize: t.TotalSize,
		Bytes:     t.Bytes,
		Status:    statusOf(t.Status),
	}
}

func statusOf(s transfer.Status) state.TransferStatus {
	switch s {
	case transfer.StatusCompleted:
		return state.TransferCompleted
	case transfer.StatusFailed:
		return state.TransferFailed
	default:
		return state.TransferInProgress
	}
}

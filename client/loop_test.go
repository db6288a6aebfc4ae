package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/state"
	"github.com/Dyastin-0/lanchat/transport"
	"github.com/Dyastin-0/lanchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	dir := t.TempDir()

	return New(Config{
		Username:    "me",
		DownloadDir: filepath.Join(dir, "received"),
		LogPath:     filepath.Join(dir, "lanchat.log"),
	})
}

// pipeConn builds a connection over net.Pipe. Queued sends sit in the
// write queue since nothing drains the far end; Close unblocks them.
func pipeConn(t *testing.T, outbound bool) *transport.Conn {
	local, remote := net.Pipe()
	conn := transport.NewConn(local, outbound)

	t.Cleanup(func() {
		conn.Close()
		remote.Close()
	})

	return conn
}

func hello(senderID, username string) protocol.Message {
	msg := protocol.Presence(username, protocol.PresenceJoined)
	msg.SenderID = senderID
	msg.Port = 9999

	return msg
}

func isClosed(conn *transport.Conn) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func countBody(entries []state.Entry, body string) int {
	n := 0
	for _, e := range entries {
		if e.Body == body {
			n++
		}
	}

	return n
}

func TestHelloRegistersAndAnnouncesPeer(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})

	assert.Equal(t, 1, c.registry.Len())
	assert.Equal(t, "peer-1", conn.PeerID())

	peer, ok := c.store.Peer("peer-1")
	require.True(t, ok)
	assert.Equal(t, "alice", peer.Name)
	assert.Equal(t, types.StateConnected, peer.State)

	snap := c.store.Snapshot()
	assert.Equal(t, 1, countBody(snap.Entries, "alice joined"))
}

func TestMessageBeforeHelloClosesConnection(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: protocol.Text("sneaky")})

	assert.True(t, isClosed(conn))
	assert.Equal(t, 0, c.registry.Len())
	assert.Equal(t, 0, len(c.store.Snapshot().Entries))
}

func TestIncomingTextDisplaysSenderName(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})
	c.handle(evInbound{conn: conn, msg: protocol.Text("hello world")})

	snap := c.store.Snapshot()
	require.NotEmpty(t, snap.Entries)

	last := snap.Entries[len(snap.Entries)-1]
	assert.Equal(t, state.EntryChat, last.Kind)
	assert.Equal(t, "alice", last.Sender)
	assert.Equal(t, "hello world", last.Body)
	assert.False(t, last.Me)
}

func TestSendTextEchoesLocallyFirst(t *testing.T) {
	c := newTestClient(t)

	// No peers connected: the message still shows up in the log.
	c.handle(evSendText{body: "anyone there?"})

	snap := c.store.Snapshot()
	require.Equal(t, 1, len(snap.Entries))
	assert.Equal(t, state.EntryChat, snap.Entries[0].Kind)
	assert.Equal(t, "me", snap.Entries[0].Sender)
	assert.True(t, snap.Entries[0].Me)
}

// Both sides dial each other at once: the hello arrives on the inbound
// connection while our own dial completes. Exactly one connection
// survives and the join is announced once.
func TestSimultaneousDialKeepsOneConnection(t *testing.T) {
	c := newTestClient(t)
	peer := types.Peer{ID: "peer-1", Name: "alice", IPAddress: "127.0.0.1", Port: 9999}

	inbound := pipeConn(t, false)
	c.handle(evInbound{conn: inbound, msg: hello(peer.ID, peer.Name)})

	outbound := pipeConn(t, true)
	c.handle(evDialed{peer: peer, conn: outbound})

	assert.Equal(t, 1, c.registry.Len())

	closed := 0
	if isClosed(inbound) {
		closed++
	}
	if isClosed(outbound) {
		closed++
	}
	assert.Equal(t, 1, closed)

	snap := c.store.Snapshot()
	assert.Equal(t, 1, countBody(snap.Entries, "alice joined"))

	// The loser's teardown must not touch the survivor's state.
	loser := inbound
	if isClosed(outbound) {
		loser = outbound
	}
	c.handle(evClosed{conn: loser, err: nil})

	assert.Equal(t, 1, c.registry.Len())
	got, _ := c.store.Peer(peer.ID)
	assert.Equal(t, types.StateConnected, got.State)
}

func TestAnnouncementForConnectedPeerIgnored(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})

	// Announcements repeat every couple of seconds; a connected peer
	// must not trigger another dial.
	c.handle(evPeerSeen{peer: types.Peer{ID: "peer-1", Name: "alice", IPAddress: "127.0.0.1", Port: 1}})

	peer, _ := c.store.Peer("peer-1")
	assert.Equal(t, types.StateConnected, peer.State)

	select {
	case ev := <-c.events:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestAnnouncementForNewPeerTriggersDial(t *testing.T) {
	c := newTestClient(t)

	// Port 1 on loopback refuses immediately.
	c.handle(evPeerSeen{peer: types.Peer{ID: "peer-1", Name: "alice", IPAddress: "127.0.0.1", Port: 1}})

	peer, ok := c.store.Peer("peer-1")
	require.True(t, ok)
	assert.Equal(t, types.StateConnecting, peer.State)

	select {
	case ev := <-c.events:
		failed, ok := ev.(evDialFailed)
		require.True(t, ok, "expected dial failure, got %T", ev)

		c.handle(failed)
		peer, _ = c.store.Peer("peer-1")
		assert.Equal(t, types.StateDisconnected, peer.State)
	case <-time.After(5 * time.Second):
		t.Fatal("dial never finished")
	}

	// A later announcement for a disconnected peer dials again.
	c.handle(evPeerSeen{peer: types.Peer{ID: "peer-1", Name: "alice", IPAddress: "127.0.0.1", Port: 1}})
	peer, _ = c.store.Peer("peer-1")
	assert.Equal(t, types.StateConnecting, peer.State)
	<-c.events
}

func TestDisconnectMidTransferFailsIt(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})
	c.handle(evInbound{conn: conn, msg: protocol.FileStart("t1", "blob.bin", 1000)})

	tr, ok := c.store.Transfer("t1")
	require.True(t, ok)
	assert.Equal(t, state.TransferInProgress, tr.Status)

	c.handle(evInbound{conn: conn, msg: protocol.FileChunk("t1", 0, make([]byte, 100))})

	c.handle(evClosed{conn: conn, err: errors.New("connection reset")})

	tr, _ = c.store.Transfer("t1")
	assert.Equal(t, state.TransferFailed, tr.Status)

	// The partial file is gone.
	_, err := os.Stat(filepath.Join(c.cfg.DownloadDir, "alice", "blob.bin"))
	assert.True(t, os.IsNotExist(err))

	peer, _ := c.store.Peer("peer-1")
	assert.Equal(t, types.StateDisconnected, peer.State)

	snap := c.store.Snapshot()
	assert.Equal(t, 1, countBody(snap.Entries, "lost connection to alice"))
}

func TestReceiveFileEndToEnd(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})

	data := []byte("small file contents")
	c.handle(evInbound{conn: conn, msg: protocol.FileStart("t1", "note.txt", int64(len(data)))})
	c.handle(evInbound{conn: conn, msg: protocol.FileChunk("t1", 0, data)})
	c.handle(evInbound{conn: conn, msg: protocol.FileEnd("t1")})

	tr, ok := c.store.Transfer("t1")
	require.True(t, ok)
	assert.Equal(t, state.TransferCompleted, tr.Status)
	assert.Equal(t, int64(len(data)), tr.Bytes)

	got, err := os.ReadFile(filepath.Join(c.cfg.DownloadDir, "alice", "note.txt"))
	require.Nil(t, err)
	assert.Equal(t, data, got)
}

func TestPeerLeftNotice(t *testing.T) {
	c := newTestClient(t)
	conn := pipeConn(t, false)

	c.handle(evInbound{conn: conn, msg: hello("peer-1", "alice")})

	left := protocol.Presence("alice", protocol.PresenceLeft)
	left.SenderID = "peer-1"
	c.handle(evInbound{conn: conn, msg: left})

	assert.True(t, isClosed(conn))

	peer, _ := c.store.Peer("peer-1")
	assert.Equal(t, types.StateDisconnected, peer.State)

	snap := c.store.Snapshot()
	assert.Equal(t, 1, countBody(snap.Entries, "alice left"))
}

func TestSendFileRejectsBadPaths(t *testing.T) {
	c := newTestClient(t)

	c.handle(evSendFile{path: filepath.Join(t.TempDir(), "ghost.bin")})
	c.handle(evSendFile{path: t.TempDir()})

	snap := c.store.Snapshot()
	require.Equal(t, 2, len(snap.Entries))
	for _, e := range snap.Entries {
		assert.Equal(t, state.EntrySystem, e.Kind)
	}
}

func TestSendFileNoPeers(t *testing.T) {
	c := newTestClient(t)

	path := filepath.Join(t.TempDir(), "file.txt")
	require.Nil(t, os.WriteFile(path, []byte("data"), 0644))

	c.handle(evSendFile{path: path})

	snap := c.store.Snapshot()
	require.Equal(t, 1, len(snap.Entries))
	assert.Equal(t, "no peers connected", snap.Entries[0].Body)
	assert.Equal(t, 0, len(snap.Transfers))
}

func TestTransferDoneUpdatesStatus(t *testing.T) {
	c := newTestClient(t)

	c.store.PutTransfer(state.TransferView{
		ID:        "t1",
		Direction: state.Outgoing,
		Filename:  "file.txt",
		Status:    state.TransferInProgress,
	})

	c.handle(evTransferDone{id: "t1", filename: "file.txt", err: nil})
	tr, _ := c.store.Transfer("t1")
	assert.Equal(t, state.TransferCompleted, tr.Status)

	c.store.PutTransfer(state.TransferView{
		ID:        "t2",
		Direction: state.Outgoing,
		Filename:  "other.txt",
		Status:    state.TransferInProgress,
	})

	c.handle(evTransferDone{id: "t2", filename: "other.txt", err: fmt.Errorf("no connected peers")})
	tr, _ = c.store.Transfer("t2")
	assert.Equal(t, state.TransferFailed, tr.Status)
}

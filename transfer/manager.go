// Package transfer implements chunked file exchange over the message
// channel: sender-generated transfer IDs, fixed-size chunks with
// strictly increasing sequence numbers, and an end-of-transfer
// completeness check.
package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dyastin-0/lanchat/logger"
	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/types"
)

// ChunkSize is the fixed chunk payload size.
const ChunkSize = 64 * 1024

var (
	ErrDuplicateTransfer = errors.New("transfer: transfer id already active")
	ErrIncomplete        = errors.New("transfer: received bytes do not match total size")
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Transfer is one in-flight incoming file.
type Transfer struct {
	ID        string
	PeerID    string
	PeerName  string
	Filename  string
	Path      string
	TotalSize int64
	Bytes     int64
	Status    Status

	nextSeq int
	file    *os.File
}

// Manager tracks incoming transfers. It is driven entirely from the
// client event loop, so it needs no locking of its own.
type Manager struct {
	dir    string
	log    logger.Logger
	active map[string]*Transfer
}

func NewManager(dir string, log logger.Logger) *Manager {
	return &Manager{
		dir:    dir,
		log:    log,
		active: make(map[string]*Transfer),
	}
}

// Start opens the destination file for an incoming transfer. Files
// land under a per-sender directory; an existing name gets a timestamp
// suffix instead of being overwritten.
func (m *Manager) Start(peer types.Peer, msg protocol.Message) (*Transfer, error) {
	if _, exists := m.active[msg.TransferID]; exists {
		return nil, ErrDuplicateTransfer
	}

	dir := filepath.Join(m.dir, safeName(peer.Name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, safeName(msg.Filename))
	if _, err := os.Stat(path); err == nil {
		base := filepath.Base(path)
		ext := filepath.Ext(base)
		name := strings.TrimSuffix(base, ext)
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, time.Now().Unix(), ext))
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	t := &Transfer{
		ID:        msg.TransferID,
		PeerID:    peer.ID,
		PeerName:  peer.Name,
		Filename:  msg.Filename,
		Path:      path,
		TotalSize: msg.TotalSize,
		Status:    StatusInProgress,
		file:      file,
	}
	m.active[t.ID] = t

	return t, nil
}

// Chunk appends one chunk. Duplicate or out-of-range sequence numbers
// are ignored, not fatal; a skipped chunk surfaces later as an
// incomplete byte count at FileEnd. The bool reports whether the chunk
// was applied.
func (m *Manager) Chunk(msg protocol.Message) (*Transfer, bool, error) {
	t, ok := m.active[msg.TransferID]
	if !ok {
		return nil, false, nil
	}

	if msg.Sequence != t.nextSeq {
		m.log.
			WithStr("transfer", t.ID).
			WithInt("seq", msg.Sequence).
			WithInt("want", t.nextSeq).
			Debug("ignoring out-of-order chunk")
		return t, false, nil
	}

	if _, err := t.file.Write(msg.Data); err != nil {
		m.fail(t)
		return t, false, fmt.Errorf("failed to write %s: %w", t.Path, err)
	}

	t.nextSeq++
	t.Bytes += int64(len(msg.Data))

	return t, true, nil
}

// End finalizes a transfer. The file is kept only when every byte
// arrived; otherwise the partial output is discarded and the transfer
// is marked failed.
func (m *Manager) End(msg protocol.Message) (*Transfer, error) {
	t, ok := m.active[msg.TransferID]
	if !ok {
		return nil, nil
	}

	if t.Bytes != t.TotalSize {
		m.fail(t)
		return t, fmt.Errorf("%w: got %d, want %d", ErrIncomplete, t.Bytes, t.TotalSize)
	}

	t.file.Close()
	t.Status = StatusCompleted
	delete(m.active, t.ID)

	return t, nil
}

// FailPeer fails every in-flight transfer from peerID. Called when the
// peer's connection goes away mid-transfer.
func (m *Manager) FailPeer(peerID string) []*Transfer {
	var failed []*Transfer

	for _, t := range m.active {
		if t.PeerID == peerID {
			m.fail(t)
			failed = append(failed, t)
		}
	}

	return failed
}

// FailAll fails every in-flight transfer, for shutdown.
func (m *Manager) FailAll() []*Transfer {
	var failed []*Transfer

	for _, t := range m.active {
		m.fail(t)
		failed = append(failed, t)
	}

	return failed
}

func (m *Manager) fail(t *Transfer) {
	t.file.Close()
	os.Remove(t.Path)
	t.Status = StatusFailed
	delete(m.active, t.ID)
}

// safeName strips any path components a remote peer may have smuggled
// into a filename.
func safeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "unnamed"
	}

	return name
}

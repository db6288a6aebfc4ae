package transfer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTarget struct {
	id       string
	messages []protocol.Message
	failAt   int // fail the nth Send, -1 never
	sends    int
}

func (m *mockTarget) PeerID() string {
	return m.id
}

func (m *mockTarget) Send(msg protocol.Message) error {
	m.sends++
	if m.failAt >= 0 && m.sends > m.failAt {
		return errors.New("connection closed")
	}

	m.messages = append(m.messages, msg)

	return nil
}

func tempFile(t *testing.T, data []byte) types.FileInfo {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.Nil(t, os.WriteFile(path, data, 0644))

	return types.FileInfo{Name: "payload.bin", Size: int64(len(data)), Path: path}
}

func TestSendChunksSequentially(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 150*1024)
	file := tempFile(t, data)

	target := &mockTarget{id: "peer", failAt: -1}

	var lastProgress int64
	err := Send(file, "t1", []Target{target},
		func(n int64) { lastProgress = n },
		func(string, error) { t.Fatal("unexpected peer error") },
	)
	require.Nil(t, err)

	// FileStart + 3 chunks + FileEnd.
	require.Equal(t, 5, len(target.messages))

	start := target.messages[0]
	assert.Equal(t, protocol.KindFileStart, start.Kind)
	assert.Equal(t, "payload.bin", start.Filename)
	assert.Equal(t, int64(len(data)), start.TotalSize)

	var rebuilt []byte
	for i, msg := range target.messages[1:4] {
		assert.Equal(t, protocol.KindFileChunk, msg.Kind)
		assert.Equal(t, i, msg.Sequence)
		rebuilt = append(rebuilt, msg.Data...)
	}
	assert.Equal(t, ChunkSize, len(target.messages[1].Data))
	assert.Equal(t, ChunkSize, len(target.messages[2].Data))
	assert.Equal(t, 150*1024-2*ChunkSize, len(target.messages[3].Data))
	assert.Equal(t, data, rebuilt)

	assert.Equal(t, protocol.KindFileEnd, target.messages[4].Kind)
	assert.Equal(t, int64(len(data)), lastProgress)
}

func TestSendDropsFailingTarget(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 3*ChunkSize)
	file := tempFile(t, data)

	healthy := &mockTarget{id: "healthy", failAt: -1}
	flaky := &mockTarget{id: "flaky", failAt: 2} // dies after FileStart + first chunk

	var failedPeer string
	err := Send(file, "t1", []Target{healthy, flaky},
		func(int64) {},
		func(peerID string, err error) { failedPeer = peerID },
	)

	require.Nil(t, err)
	assert.Equal(t, "flaky", failedPeer)

	// The healthy peer still received the complete transfer.
	assert.Equal(t, 5, len(healthy.messages))
	assert.Equal(t, protocol.KindFileEnd, healthy.messages[4].Kind)
}

func TestSendAllTargetsGone(t *testing.T) {
	file := tempFile(t, []byte("data"))

	dead := &mockTarget{id: "dead", failAt: 0}

	err := Send(file, "t1", []Target{dead}, func(int64) {}, func(string, error) {})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSendNoTargets(t *testing.T) {
	file := tempFile(t, []byte("data"))

	err := Send(file, "t1", nil, func(int64) {}, func(string, error) {})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSendMissingFile(t *testing.T) {
	file := types.FileInfo{Name: "ghost", Path: "/nonexistent/ghost", Size: 1}

	err := Send(file, "t1", []Target{&mockTarget{id: "p", failAt: -1}}, func(int64) {}, func(string, error) {})
	assert.Error(t, err)
}

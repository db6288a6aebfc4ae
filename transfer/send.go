package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/types"
)

// Target is one destination connection for an outgoing transfer.
// Satisfied by *transport.Conn.
type Target interface {
	PeerID() string
	Send(protocol.Message) error
}

var ErrNoTargets = errors.New("transfer: no connected peers to send to")

// Send streams a file to every target as FileStart, FileChunk*, FileEnd.
// Chunks carry strictly increasing sequence numbers from 0. Runs on its
// own goroutine per transfer; Target.Send may block on a slow peer's
// queue without stalling anything shared.
//
// A failing target is dropped via onPeerErr and the send continues for
// the rest. A local read failure aborts the whole transfer.
func Send(file types.FileInfo, transferID string, targets []Target, onProgress func(int64), onPeerErr func(string, error)) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file.Path, err)
	}
	defer f.Close()

	send := func(msg protocol.Message) {
		alive := targets[:0]
		for _, target := range targets {
			if err := target.Send(msg); err != nil {
				onPeerErr(target.PeerID(), err)
				continue
			}
			alive = append(alive, target)
		}
		targets = alive
	}

	send(protocol.FileStart(transferID, file.Name, file.Size))

	var sent int64
	for seq := 0; ; seq++ {
		// Fresh buffer per chunk: the previous one is still queued.
		buffer := make([]byte, ChunkSize)

		n, err := f.Read(buffer)
		if n > 0 {
			send(protocol.FileChunk(transferID, seq, buffer[:n]))
			sent += int64(n)
			onProgress(sent)
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file.Path, err)
		}
	}

	send(protocol.FileEnd(transferID))

	if len(targets) == 0 {
		return ErrNoTargets
	}

	return nil
}

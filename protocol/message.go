package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the wire message variant. The dispatch switch in the client
// covers every kind; adding one here means extending that switch.
type Kind string

const (
	KindText      Kind = "text"
	KindPresence  Kind = "presence"
	KindFileStart Kind = "file_start"
	KindFileChunk Kind = "file_chunk"
	KindFileEnd   Kind = "file_end"
)

const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

var (
	ErrUnknownKind = errors.New("protocol: unknown message kind")
	ErrEmptyKind   = errors.New("protocol: missing message kind")
)

// Message is one unit of the TCP chat protocol. Exactly one group of
// fields is populated, selected by Kind.
type Message struct {
	Kind Kind `json:"kind"`

	// KindText
	Body string `json:"body,omitempty"`

	// KindPresence. A joined presence doubles as the connection hello,
	// so it also carries the sender's session ID and listen port.
	Username string `json:"username,omitempty"`
	Presence string `json:"presence,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	Port     int    `json:"port,omitempty"`

	// File transfer kinds, correlated by TransferID.
	TransferID string `json:"transfer_id,omitempty"`
	Filename   string `json:"filename,omitempty"`
	TotalSize  int64  `json:"total_size,omitempty"`
	Sequence   int    `json:"sequence,omitempty"`
	Data       []byte `json:"data,omitempty"`
}

func Text(body string) Message {
	return Message{Kind: KindText, Body: body}
}

func Presence(username, presence string) Message {
	return Message{Kind: KindPresence, Username: username, Presence: presence}
}

func FileStart(transferID, filename string, totalSize int64) Message {
	return Message{Kind: KindFileStart, TransferID: transferID, Filename: filename, TotalSize: totalSize}
}

func FileChunk(transferID string, sequence int, data []byte) Message {
	return Message{Kind: KindFileChunk, TransferID: transferID, Sequence: sequence, Data: data}
}

func FileEnd(transferID string) Message {
	return Message{Kind: KindFileEnd, TransferID: transferID}
}

// Encode marshals a message to its frame payload.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return payload, nil
}

// Decode unmarshals a frame payload and rejects unknown kinds, so a
// corrupted or incompatible stream is caught at the boundary.
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch msg.Kind {
	case KindText, KindPresence, KindFileStart, KindFileChunk, KindFileEnd:
		return msg, nil
	case "":
		return Message{}, ErrEmptyKind
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
}

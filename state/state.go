// Package state holds the application state consumed by the UI: the
// ordered display log, known peers, and transfer progress.
//
// Exactly one goroutine (the client event loop) calls the mutators;
// the lock exists so UI goroutines can snapshot concurrently.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/Dyastin-0/lanchat/types"
)

type EntryKind string

const (
	EntryChat   EntryKind = "chat"
	EntrySystem EntryKind = "system"
)

// Entry is one display log line. The log is append-only and ordered by
// local arrival, not by any cross-peer ordering.
type Entry struct {
	Kind   EntryKind
	Sender string
	Body   string
	Me     bool
	Time   time.Time
}

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

type TransferStatus string

const (
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

// TransferView is the UI-facing record of one file transfer.
type TransferView struct {
	ID        string
	PeerName  string
	Direction Direction
	Filename  string
	TotalSize int64
	Bytes     int64
	Status    TransferStatus
}

// Snapshot is a consistent read-only copy for rendering.
type Snapshot struct {
	Entries   []Entry
	Peers     []types.Peer
	Transfers []TransferView
}

type Store struct {
	mu        sync.RWMutex
	entries   []Entry
	peers     map[string]types.Peer
	transfers map[string]TransferView

	updates chan struct{}
}

func NewStore() *Store {
	return &Store{
		peers:     make(map[string]types.Peer),
		transfers: make(map[string]TransferView),
		updates:   make(chan struct{}, 1),
	}
}

// Updates signals after every mutation, coalesced: a render loop that
// lags gets one pending tick, not a backlog.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) AppendChat(sender, body string, me bool) {
	s.mu.Lock()
	s.entries = append(s.entries, Entry{
		Kind:   EntryChat,
		Sender: sender,
		Body:   body,
		Me:     me,
		Time:   time.Now(),
	})
	s.mu.Unlock()

	s.notify()
}

func (s *Store) AppendSystem(body string) {
	s.mu.Lock()
	s.entries = append(s.entries, Entry{
		Kind: EntrySystem,
		Body: body,
		Time: time.Now(),
	})
	s.mu.Unlock()

	s.notify()
}

func (s *Store) PutPeer(peer types.Peer) {
	s.mu.Lock()
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	s.notify()
}

// Peer returns the record for id, if any.
func (s *Store) Peer(id string) (types.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peer, ok := s.peers[id]

	return peer, ok
}

// SetPeerState transitions the peer's state and refreshes its
// last-activity timestamp. Returns false for an unknown peer.
func (s *Store) SetPeerState(id string, st types.PeerState) bool {
	s.mu.Lock()

	peer, ok := s.peers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	peer.State = st
	peer.LastActive = time.Now()
	s.peers[id] = peer
	s.mu.Unlock()

	s.notify()

	return true
}

func (s *Store) PutTransfer(t TransferView) {
	s.mu.Lock()
	s.transfers[t.ID] = t
	s.mu.Unlock()

	s.notify()
}

// SetTransferProgress bumps the byte counter for an in-progress transfer.
func (s *Store) SetTransferProgress(id string, bytes int64) {
	s.mu.Lock()

	t, ok := s.transfers[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	t.Bytes = bytes
	s.transfers[id] = t
	s.mu.Unlock()

	s.notify()
}

func (s *Store) SetTransferStatus(id string, status TransferStatus) {
	s.mu.Lock()

	t, ok := s.transfers[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	t.Status = status
	s.transfers[id] = t
	s.mu.Unlock()

	s.notify()
}

func (s *Store) Transfer(id string) (TransferView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transfers[id]

	return t, ok
}

// Snapshot copies the current state. Peers are sorted by name so the
// rendered list is stable.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Entries:   make([]Entry, len(s.entries)),
		Peers:     make([]types.Peer, 0, len(s.peers)),
		Transfers: make([]TransferView, 0, len(s.transfers)),
	}

	copy(snap.Entries, s.entries)

	for _, peer := range s.peers {
		snap.Peers = append(snap.Peers, peer)
	}
	sort.Slice(snap.Peers, func(i, j int) bool {
		if snap.Peers[i].Name == snap.Peers[j].Name {
			return snap.Peers[i].ID < snap.Peers[j].ID
		}
		return snap.Peers[i].Name < snap.Peers[j].Name
	})

	for _, t := range s.transfers {
		snap.Transfers = append(snap.Transfers, t)
	}
	sort.Slice(snap.Transfers, func(i, j int) bool {
		return snap.Transfers[i].ID < snap.Transfers[j].ID
	})

	return snap
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

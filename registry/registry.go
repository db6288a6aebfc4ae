// Package registry keeps exactly one live connection per peer.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Dyastin-0/lanchat/logger"
	"github.com/Dyastin-0/lanchat/protocol"
	"github.com/Dyastin-0/lanchat/transport"
)

var ErrDuplicateConnection = errors.New("registry: duplicate connection for peer")

const dialTimeout = 5 * time.Second

type Registry struct {
	localID string
	log     logger.Logger

	mu    sync.RWMutex
	conns map[string]*transport.Conn
}

func New(localID string, log logger.Logger) *Registry {
	return &Registry{
		localID: localID,
		log:     log,
		conns:   make(map[string]*transport.Conn),
	}
}

// Connect dials an outbound transport connection. It is not registered
// until Register is called with the peer's ID.
func (r *Registry) Connect(addr string) (*transport.Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return transport.NewConn(raw, true), nil
}

// Accept wraps an inbound connection pending registration.
func (r *Registry) Accept(raw net.Conn) *transport.Conn {
	return transport.NewConn(raw, false)
}

// Register records conn as the single connection for peerID.
//
// Two peers may dial each other at the same time, producing two
// connections for one pair. The tie-break is deterministic on both
// ends: the connection dialed by the lexicographically smaller peer ID
// survives. The loser is closed silently and ErrDuplicateConnection is
// returned if the loser is the one being registered.
func (r *Registry) Register(peerID string, conn *transport.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[peerID]
	if !ok {
		r.conns[peerID] = conn
		return nil
	}

	if existing == conn {
		return nil
	}

	// conn was initiated by the local node iff it is outbound. Keep it
	// only when its initiator is the smaller ID.
	keepNew := conn.Outbound() == (r.localID < peerID)
	if !keepNew {
		conn.Close()
		return ErrDuplicateConnection
	}

	r.log.WithStr("peer", peerID).Debug("replacing duplicate connection")
	existing.Close()
	r.conns[peerID] = conn

	return nil
}

// Deregister removes the connection for peerID, but only if conn is
// still the registered one (or nil, meaning any). Returns whether a
// removal happened, so a closed tie-break loser does not tear down the
// survivor's bookkeeping.
func (r *Registry) Deregister(peerID string, conn *transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.conns[peerID]
	if !ok {
		return false
	}

	if conn != nil && existing != conn {
		return false
	}

	delete(r.conns, peerID)

	return true
}

// Get returns the registered connection for peerID.
func (r *Registry) Get(peerID string) (*transport.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[peerID]

	return conn, ok
}

// Conns returns a snapshot of all registered connections.
func (r *Registry) Conns() map[string]*transport.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*transport.Conn, len(r.conns))
	for id, conn := range r.conns {
		snapshot[id] = conn
	}

	return snapshot
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Broadcast enqueues msg on every registered connection, fire and
// forget. A peer whose queue is full or closed is reported in the
// returned slice and skipped; the broadcast continues for the rest.
func (r *Registry) Broadcast(msg protocol.Message) []string {
	var failed []string

	for id, conn := range r.Conns() {
		if err := conn.TrySend(msg); err != nil {
			r.log.WithStr("peer", id).WithStr("err", err.Error()).Warn("broadcast send failed")
			failed = append(failed, id)
		}
	}

	return failed
}

// Close tears down every registered connection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
}

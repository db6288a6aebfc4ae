package types

import (
	"net"
	"strconv"
	"time"
)

// PeerState tracks where a peer is in its connection lifecycle.
type PeerState string

const (
	StateDiscovered   PeerState = "discovered"
	StateConnecting   PeerState = "connecting"
	StateConnected    PeerState = "connected"
	StateDisconnected PeerState = "disconnected"
)

// Peer is another user on the LAN, keyed by its session ID.
// The ID is a random token minted once per process, so a restarted
// peer shows up as a new entry instead of reviving a dead one.
type Peer struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	IPAddress  string    `json:"ip_address"`
	Port       int       `json:"port"`
	State      PeerState `json:"state"`
	LastActive time.Time `json:"last_active"`
}

// Addr returns the peer's TCP dial address.
func (p *Peer) Addr() string {
	return net.JoinHostPort(p.IPAddress, strconv.Itoa(p.Port))
}

type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Path string `json:"path"`
}

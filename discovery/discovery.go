// Package discovery finds peers on the local network without a
// directory server, via periodic UDP multicast announcements.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Dyastin-0/lanchat/logger"
	"github.com/Dyastin-0/lanchat/types"
	"golang.org/x/net/ipv4"
)

const (
	Magic   = "LANCHAT"
	Version = 1

	// DefaultGroup is the default multicast group and port.
	DefaultGroup = "239.255.42.99:8877"

	announceInterval = 2 * time.Second
	readDeadline     = 500 * time.Millisecond
	multicastTTL     = 4
)

// Announcement is the multicast wire payload.
type Announcement struct {
	Magic   string `json:"magic"`
	Version int    `json:"version"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Port    int    `json:"port"`
}

// Service announces the local peer and listens for others.
// Announcements are idempotent; dedupe happens downstream, keyed by
// the session ID carried in each one.
type Service struct {
	self   types.Peer
	group  *net.UDPAddr
	conn   *net.UDPConn
	onPeer func(types.Peer)
	log    logger.Logger
}

func New(self types.Peer, groupAddr string, onPeer func(types.Peer), log logger.Logger) *Service {
	if groupAddr == "" {
		groupAddr = DefaultGroup
	}

	group, _ := net.ResolveUDPAddr("udp4", groupAddr)

	return &Service{
		self:   self,
		group:  group,
		onPeer: onPeer,
		log:    log,
	}
}

// Start joins the multicast group and launches the announce and listen
// loops. Failure to bind or join is returned to the caller; the
// process cannot discover anyone without it.
func (s *Service) Start(ctx context.Context) error {
	if s.group == nil {
		return fmt.Errorf("invalid multicast group address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: s.group.Port})
	if err != nil {
		return fmt.Errorf("failed to bind multicast port %d: %w", s.group.Port, err)
	}
	s.conn = conn

	pconn := ipv4.NewPacketConn(conn)

	joined := 0
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, &net.UDPAddr{IP: s.group.IP}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		conn.Close()
		return fmt.Errorf("failed to join multicast group %s on any interface", s.group.IP)
	}

	pconn.SetMulticastTTL(multicastTTL)
	pconn.SetMulticastLoopback(true)

	go s.announce(ctx)
	go s.listen(ctx)

	return nil
}

// Close stops the listener socket.
func (s *Service) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// Announce sends one announcement immediately.
func (s *Service) Announce() {
	msg := Announcement{
		Magic:   Magic,
		Version: Version,
		ID:      s.self.ID,
		Name:    s.self.Name,
		Port:    s.self.Port,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithStr("err", err.Error()).Error("failed to marshal announcement")
		return
	}

	if _, err := s.conn.WriteToUDP(data, s.group); err != nil {
		s.log.WithStr("err", err.Error()).Warn("failed to send announcement")
	}
}

func (s *Service) announce(ctx context.Context) {
	s.Announce()

	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Announce()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) listen(ctx context.Context) {
	buffer := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			s.conn.SetReadDeadline(time.Now().Add(readDeadline))

			n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}

				s.log.WithStr("err", err.Error()).Warn("failed to read from multicast")
				return
			}

			if peer, ok := s.parse(buffer[:n], remoteAddr); ok {
				s.onPeer(peer)
			}
		}
	}
}

// parse validates a datagram and builds the peer record. The network
// address comes from the datagram source, not the payload, so a peer
// cannot announce someone else's address.
func (s *Service) parse(data []byte, remoteAddr *net.UDPAddr) (types.Peer, bool) {
	var msg Announcement
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.Peer{}, false
	}

	if msg.Magic != Magic || msg.Version != Version {
		return types.Peer{}, false
	}

	// Self-echo: multicast loopback delivers our own datagrams.
	if msg.ID == s.self.ID {
		return types.Peer{}, false
	}

	return types.Peer{
		ID:         msg.ID,
		Name:       msg.Name,
		IPAddress:  remoteAddr.IP.String(),
		Port:       msg.Port,
		State:      types.StateDiscovered,
		LastActive: time.Now(),
	}, true
}

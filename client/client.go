// Package client wires discovery, the connection registry, transport
// and file transfers into a single event loop, the only writer of the
// application state.
package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/lanchat/discovery"
	"github.com/Dyastin-0/lanchat/logger"
	"github.com/Dyastin-0/lanchat/registry"
	"github.com/Dyastin-0/lanchat/state"
	"github.com/Dyastin-0/lanchat/transfer"
	"github.com/Dyastin-0/lanchat/types"
	"github.com/Dyastin-0/lanchat/utils"
	"github.com/google/uuid"
)

type Config struct {
	Username      string
	MulticastAddr string
	Port          int
	DownloadDir   string
	LogPath       string
}

const DefaultPort = 8878

type Client struct {
	Self *types.Peer

	cfg       Config
	store     *state.Store
	registry  *registry.Registry
	transfers *transfer.Manager
	discovery *discovery.Service
	log       logger.Logger

	listener net.Listener
	events   chan event
}

func New(cfg Config) *Client {
	if cfg.Username == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown-host"
		}
		cfg.Username = hostname
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.DownloadDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "./"
		}
		cfg.DownloadDir = filepath.Join(homeDir, "lanchat", "received")
	}

	log := logger.New(cfg.LogPath)

	self := &types.Peer{
		ID:        uuid.New().String(),
		Name:      cfg.Username,
		IPAddress: utils.GetLocalIP(),
		Port:      cfg.Port,
	}

	c := &Client{
		Self:      self,
		cfg:       cfg,
		store:     state.NewStore(),
		registry:  registry.New(self.ID, log),
		transfers: transfer.NewManager(cfg.DownloadDir, log),
		log:       log,
		events:    make(chan event, 256),
	}
	c.discovery = discovery.New(*self, cfg.MulticastAddr, c.onPeerSeen, log)

	return c
}

// Store exposes the application state for the UI to snapshot.
func (c *Client) Store() *state.Store {
	return c.store
}

// SendText queues a local chat message intent.
func (c *Client) SendText(body string) {
	c.events <- evSendText{body: body}
}

// SendFile queues a file send intent.
func (c *Client) SendFile(path string) {
	c.events <- evSendFile{path: path}
}

// Quit queues a shutdown intent.
func (c *Client) Quit() {
	c.events <- evQuit{}
}

// Run binds the TCP listener and multicast socket, then drains the
// event channel until Quit or context cancellation. Startup failures
// are returned before the loop begins; everything after that is
// contained per peer or per transfer.
func (c *Client) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", c.cfg.Port, err)
	}
	c.listener = listener

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.discovery.Start(ctx); err != nil {
		listener.Close()
		return err
	}

	c.log.
		WithStr("id", c.Self.ID).
		WithStr("name", c.Self.Name).
		WithInt("port", c.cfg.Port).
		Info("lanchat started")

	go c.acceptLoop()

	for {
		select {
		case ev := <-c.events:
			if _, ok := ev.(evQuit); ok {
				c.shutdown()
				return nil
			}
			c.handle(ev)
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

func (c *Client) acceptLoop() {
	for {
		raw, err := c.listener.Accept()
		if err != nil {
			// Listener closed on shutdown.
			return
		}

		conn := c.registry.Accept(raw)
		conn.Start(c.onMessage, c.onClose)
	}
}

func (c *Client) shutdown() {
	c.log.Info("shutting down")

	// Best-effort goodbye so peers see a clean leave instead of a
	// dead socket.
	c.registry.Broadcast(c.presenceLeft())

	for _, t := range c.transfers.FailAll() {
		c.store.PutTransfer(viewOf(t))
		c.store.AppendSystem(fmt.Sprintf("transfer of '%s' from %s cancelled", t.Filename, t.PeerName))
	}

	c.registry.Close()
	c.discovery.Close()
	c.listener.Close()
}

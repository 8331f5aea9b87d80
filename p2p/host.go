// Package p2p assembles the libp2p host for the ride-matching overlay and
// keeps it attached to the broadcast mesh.
package p2p

import (
	"context"
	"fmt"
	"time"

	lp2plog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/libp2p/go-libp2p/p2p/transport/websocket"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/p2p/pubsub"
)

// DefaultConfig config.
func DefaultConfig() Config {
	return Config{
		Listen:             "/ip4/0.0.0.0/tcp/7513",
		RelayAttempts:      3,
		RelayRetryDelay:    2 * time.Second,
		DiscoveryInterval:  5 * time.Second,
		LowPeers:           40,
		HighPeers:          100,
		GracePeersShutdown: 30 * time.Second,
		PubSub:             pubsub.DefaultConfig(),
	}
}

// Config for all things related to the p2p layer.
type Config struct {
	DataDir            string
	GracePeersShutdown time.Duration

	Listen            string        `mapstructure:"listen"`
	Relay             string        `mapstructure:"relay"`
	RelayAttempts     int           `mapstructure:"relay-attempts"`
	RelayRetryDelay   time.Duration `mapstructure:"relay-retry-delay"`
	DiscoveryInterval time.Duration `mapstructure:"discovery-interval"`
	LowPeers          int           `mapstructure:"low-peers"`
	HighPeers         int           `mapstructure:"high-peers"`
	LogLevel          string        `mapstructure:"p2p-log-level"`

	PubSub pubsub.Config `mapstructure:"pubsub"`
}

// New initializes a libp2p host configured for ridemesh. The overlay speaks
// tcp and websocket (the bootstrap relay listens on a websocket multiaddr),
// encrypts with noise, and muxes with yamux.
func New(_ context.Context, logger *zap.Logger, cfg Config, opts ...Opt) (*Host, error) {
	key, err := EnsureIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		if err := lp2plog.SetLogLevel("*", cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("set libp2p log level: %w", err)
		}
	}
	cm, err := connmgr.NewConnManager(cfg.LowPeers, cfg.HighPeers,
		connmgr.WithGracePeriod(cfg.GracePeersShutdown))
	if err != nil {
		return nil, fmt.Errorf("p2p create conn mgr: %w", err)
	}
	streamer := *yamux.DefaultTransport
	ps, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("create peer store: %w", err)
	}
	lopts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Listen),
		libp2p.UserAgent("go-ridemesh"),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(websocket.New),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer("/yamux/1.0.0", &streamer),
		libp2p.ConnectionManager(cm),
		libp2p.Peerstore(ps),
		libp2p.EnableRelay(),
	}
	h, err := libp2p.New(lopts...)
	if err != nil {
		return nil, fmt.Errorf("initialize libp2p host: %w", err)
	}
	logger.Info("local node identity", zap.Stringer("identity", h.ID()))
	opts = append(opts, WithConfig(cfg), WithLog(logger))
	return Upgrade(h, opts...)
}

package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridemesh/go-ridemesh/metrics"
	"github.com/ridemesh/go-ridemesh/p2p/pubsub"
	"github.com/ridemesh/go-ridemesh/p2p/server"
)

// Opt is for configuring Host.
type Opt func(fh *Host)

// WithLog configures logger for Host.
func WithLog(logger *zap.Logger) Opt {
	return func(fh *Host) {
		fh.logger = logger
	}
}

// WithConfig sets Config for Host.
func WithConfig(cfg Config) Opt {
	return func(fh *Host) {
		fh.cfg = cfg
	}
}

// WithClock drives the relay retry and discovery timers. Meant for tests.
func WithClock(clock clockwork.Clock) Opt {
	return func(fh *Host) {
		fh.clock = clock
	}
}

// Host is a convenience wrapper for all p2p related functionality required to
// run the overlay: the raw libp2p host, gossipsub, and the background loops
// that keep the node connected.
type Host struct {
	host.Host
	*pubsub.PubSub

	logger *zap.Logger
	cfg    Config
	clock  clockwork.Clock

	ctx     context.Context
	cancel  context.CancelFunc
	eg      errgroup.Group
	started bool
}

// Upgrade creates Host instance from host.Host.
func Upgrade(h host.Host, opts ...Opt) (fh *Host, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	fh = &Host{
		Host:   h,
		logger: zap.NewNop(),
		cfg:    DefaultConfig(),
		clock:  clockwork.NewRealClock(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(fh)
	}
	if fh.PubSub, err = pubsub.New(fh.ctx, fh.logger, h, fh.cfg.PubSub); err != nil {
		cancel()
		return nil, fmt.Errorf("can't initialize pubsub: %w", err)
	}
	return fh, nil
}

// ConnectToRelay dials the configured relay, retrying a fixed number of times
// with a fixed delay between attempts. Overlay membership depends on the
// relay, so a node that cannot reach it after all attempts reports a terminal
// error.
func (fh *Host) ConnectToRelay(ctx context.Context) error {
	if fh.cfg.Relay == "" {
		fh.logger.Warn("no relay configured, relying on inbound connections only")
		return nil
	}
	addr, err := multiaddr.NewMultiaddr(fh.cfg.Relay)
	if err != nil {
		return fmt.Errorf("parse relay address %q: %w", fh.cfg.Relay, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("relay address %q has no peer id: %w", fh.cfg.Relay, err)
	}
	return connectWithRetry(ctx, fh.logger, fh.clock, fh.cfg.RelayAttempts, fh.cfg.RelayRetryDelay,
		func(ctx context.Context) error {
			if err := fh.Host.Connect(ctx, *info); err != nil {
				return err
			}
			fh.logger.Info("connected to relay", zap.Stringer("relay", info.ID))
			return nil
		})
}

// connectWithRetry runs dial up to attempts times, sleeping delay between
// failures. The delay is not applied after the final failure.
func connectWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	clock clockwork.Clock,
	attempts int,
	delay time.Duration,
	dial func(context.Context) error,
) error {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		last = dial(ctx)
		if last == nil {
			return nil
		}
		logger.Warn("dial attempt failed",
			zap.Int("attempt", i),
			zap.Int("attempts", attempts),
			zap.Error(last),
		)
		if i == attempts {
			break
		}
		timer := clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
	return fmt.Errorf("dial failed after %d attempts: %w", attempts, last)
}

// Start launches the peer discovery loop.
func (fh *Host) Start() error {
	if fh.started {
		return errors.New("already started")
	}
	fh.started = true
	fh.eg.Go(func() error {
		fh.discoveryLoop(fh.ctx)
		return nil
	})
	return nil
}

// discoveryLoop periodically dials every peer the peerstore knows about that
// we are not connected to. With a relay in the mesh the peerstore fills with
// identities gossiped over it, so the loop stitches direct connections.
func (fh *Host) discoveryLoop(ctx context.Context) {
	ticker := fh.clock.NewTicker(fh.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fh.DiscoverPeers(ctx)
		}
	}
}

// DiscoverPeers runs a single discovery pass.
func (fh *Host) DiscoverPeers(ctx context.Context) {
	self := fh.Host.ID()
	for _, pid := range fh.Host.Peerstore().Peers() {
		if pid == self {
			continue
		}
		if fh.Host.Network().Connectedness(pid) == network.Connected {
			continue
		}
		addrs := fh.Host.Peerstore().Addrs(pid)
		if len(addrs) == 0 {
			continue
		}
		if err := fh.Host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: addrs}); err != nil {
			metrics.PeerDials.WithLabelValues(metrics.OutcomeFailure).Inc()
			fh.logger.Debug("discovery dial failed", zap.Stringer("peer", pid), zap.Error(err))
			continue
		}
		metrics.PeerDials.WithLabelValues(metrics.OutcomeSuccess).Inc()
		fh.logger.Debug("discovered peer", zap.Stringer("peer", pid))
	}
}

// Send delivers one envelope to pid over proto, outside any Server instance.
func (fh *Host) Send(ctx context.Context, pid peer.ID, proto string, msg []byte) error {
	return server.Send(ctx, fh.Host, pid, protocol.ID(proto), msg, 25*time.Second)
}

// Stop background workers and release the host.
func (fh *Host) Stop() error {
	fh.cancel()
	fh.eg.Wait()
	return fh.Host.Close()
}

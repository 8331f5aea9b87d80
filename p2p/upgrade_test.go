package p2p

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConnectWithRetryExhaustsAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dialErr := errors.New("connection refused")
	var dials atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- connectWithRetry(context.Background(), zaptest.NewLogger(t), clock, 3, 2*time.Second,
			func(context.Context) error {
				dials.Add(1)
				return dialErr
			})
	}()

	// two inter-attempt waits for three attempts, none after the last
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(2 * time.Second)
	}
	select {
	case err := <-done:
		require.ErrorIs(t, err, dialErr)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for retry to give up")
	}
	require.Equal(t, int32(3), dials.Load())
}

func TestConnectWithRetryEventualSuccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var dials atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- connectWithRetry(context.Background(), zaptest.NewLogger(t), clock, 3, 2*time.Second,
			func(context.Context) error {
				if dials.Add(1) < 3 {
					return errors.New("connection refused")
				}
				return nil
			})
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(2 * time.Second)
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for retry to succeed")
	}
	require.Equal(t, int32(3), dials.Load())
}

func TestConnectWithRetryCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- connectWithRetry(ctx, zaptest.NewLogger(t), clock, 3, 2*time.Second,
			func(context.Context) error { return errors.New("connection refused") })
	}()

	clock.BlockUntil(1)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestDiscoverPeersDialsKnownPeers(t *testing.T) {
	mesh := mocknet.New()
	t.Cleanup(func() { mesh.Close() })

	h1, err := mesh.GenPeer()
	require.NoError(t, err)
	h2, err := mesh.GenPeer()
	require.NoError(t, err)
	require.NoError(t, mesh.LinkAll())

	// h1 knows about h2 but has no connection yet
	h1.Peerstore().AddAddrs(h2.ID(), h2.Addrs(), time.Hour)

	fh, err := Upgrade(h1, WithLog(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { fh.Stop() })

	require.Empty(t, h1.Network().ConnsToPeer(h2.ID()))
	fh.DiscoverPeers(context.Background())
	require.NotEmpty(t, h1.Network().ConnsToPeer(h2.ID()))
}

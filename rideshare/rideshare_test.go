package rideshare

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/types"
)

var testTopics = Topics{
	Posts:      "share-ride-posts-v2",
	Requests:   "ride-share-requests-v2",
	ShareProto: "/ride-share/1.0.0",
}

type capturingPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *capturingPublisher) Publish(_ context.Context, _ string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capturingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type capturingDirect struct {
	mu   sync.Mutex
	err  error
	pid  peer.ID
	msgs [][]byte
}

func (c *capturingDirect) Send(_ context.Context, pid peer.ID, _ string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.pid = pid
	c.msgs = append(c.msgs, msg)
	return nil
}

func identity(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return pid
}

func newService(t *testing.T, self peer.ID) (*Service, *capturingPublisher, *capturingDirect) {
	logger := zaptest.NewLogger(t)
	pub := &capturingPublisher{}
	direct := &capturingDirect{}
	svc := New(
		delivery.New(logger, pub, direct),
		events.NewReporter(logger, 64),
		testTopics,
		self,
		WithLog(logger),
		WithClock(clockwork.NewFakeClock()),
		WithProfile(types.Contact{Name: "sam"}),
	)
	return svc, pub, direct
}

func post(rideID string, driverPeer peer.ID) *types.SharedRidePost {
	p := &types.SharedRidePost{
		Type:      types.TypeSharedRidePost,
		RideID:    rideID,
		Driver:    types.Contact{Name: "max", PeerID: driverPeer.String()},
		Route:     types.Route{Origin: "A", Destination: "B", SeatsAvailable: 2},
		Timestamp: time.Now().UnixMilli(),
	}
	p.Normalize()
	return p
}

func TestJoinRequestDualPath(t *testing.T) {
	self := identity(t)
	driverPeer := identity(t)
	svc, pub, direct := newService(t, self)
	ctx := context.Background()

	require.NoError(t, svc.HandlePost(ctx, post("ride-1", driverPeer)))
	id, err := svc.RequestJoin(ctx, "ride-1", "A", "B", 1)
	require.NoError(t, err)
	require.Equal(t, 1, svc.Pending())

	// direct path reached the driver, no broadcast needed
	require.Equal(t, driverPeer, direct.pid)
	require.Len(t, direct.msgs, 1)
	require.Zero(t, pub.count())
	var req types.RideShareRequest
	require.NoError(t, codec.Decode(direct.msgs[0], &req))
	require.Equal(t, id, req.RequestID)
	require.Equal(t, self.String(), req.RequesterPeerID)
	require.Equal(t, driverPeer.String(), req.DriverPeerID)
}

func TestJoinRequestFallsBackToBroadcast(t *testing.T) {
	self := identity(t)
	svc, pub, direct := newService(t, self)
	direct.err = errors.New("stream reset")
	ctx := context.Background()

	require.NoError(t, svc.HandlePost(ctx, post("ride-1", identity(t))))
	_, err := svc.RequestJoin(ctx, "ride-1", "A", "B", 1)
	require.NoError(t, err)
	require.Equal(t, 1, pub.count())
	require.Equal(t, 1, svc.Pending())
}

func TestOwnPostNotJoinable(t *testing.T) {
	self := identity(t)
	svc, _, _ := newService(t, self)
	ctx := context.Background()

	// our own seat advertisement echoed back by the overlay
	require.NoError(t, svc.HandlePost(ctx, post("ride-self", self)))
	_, err := svc.RequestJoin(ctx, "ride-self", "A", "B", 1)
	require.ErrorIs(t, err, ErrUnknownPost)
	require.Zero(t, svc.Pending())
}

func TestJoinRequestUnknownPost(t *testing.T) {
	svc, _, _ := newService(t, identity(t))
	_, err := svc.RequestJoin(context.Background(), "never-seen", "A", "B", 1)
	require.ErrorIs(t, err, ErrUnknownPost)
}

func TestDeclineResolvesPendingOnce(t *testing.T) {
	self := identity(t)
	svc, _, _ := newService(t, self)
	ctx := context.Background()

	require.NoError(t, svc.HandlePost(ctx, post("ride-1", identity(t))))
	id, err := svc.RequestJoin(ctx, "ride-1", "A", "B", 1)
	require.NoError(t, err)

	decline := &types.RideShareResponse{
		Type:      types.TypeRideShareResponse,
		RequestID: id,
		Accepted:  false,
		Timestamp: time.Now().UnixMilli(),
	}
	require.NoError(t, svc.HandleResponse(ctx, decline))
	require.Zero(t, svc.Pending())

	// the terminal response pruned the entry, a duplicate is a no-op
	require.NoError(t, svc.HandleResponse(ctx, decline))
	require.Zero(t, svc.Pending())
}

func TestResponseForUnknownIDIgnored(t *testing.T) {
	svc, _, _ := newService(t, identity(t))
	require.NoError(t, svc.HandleResponse(context.Background(), &types.RideShareResponse{
		Type:      types.TypeRideShareResponse,
		RequestID: "j1",
		Accepted:  true,
		Timestamp: time.Now().UnixMilli(),
	}))
	require.Zero(t, svc.Pending())
}

func TestDriverAnswersJoinRequest(t *testing.T) {
	driverSelf := identity(t)
	requester := identity(t)
	svc, _, direct := newService(t, driverSelf)
	ctx := context.Background()

	join := &types.RideShareRequest{
		Type:            types.TypeRideShareRequest,
		RequestID:       "j1",
		RiderInfo:       types.Contact{Name: "ada"},
		Pickup:          "A",
		Destination:     "B",
		SeatsRequired:   1,
		RequesterPeerID: requester.String(),
		DriverPeerID:    driverSelf.String(),
		Timestamp:       time.Now().UnixMilli(),
	}
	join.Normalize()
	require.NoError(t, svc.HandleJoinRequest(ctx, join))
	require.NoError(t, svc.Respond(ctx, "j1", true))

	require.Equal(t, requester, direct.pid)
	require.Len(t, direct.msgs, 1)
	var resp types.RideShareResponse
	require.NoError(t, codec.Decode(direct.msgs[0], &resp))
	require.True(t, resp.Accepted)
	require.NotNil(t, resp.DriverInfo)
	require.Equal(t, driverSelf.String(), resp.DriverInfo.PeerID)
	require.Equal(t, types.DefaultPhone, resp.DriverInfo.Phone)

	// a decision is terminal
	require.ErrorIs(t, svc.Respond(ctx, "j1", false), ErrUnknownJoinRequest)
}

func TestJoinRequestForOtherDriverIgnored(t *testing.T) {
	svc, _, _ := newService(t, identity(t))
	join := &types.RideShareRequest{
		Type:            types.TypeRideShareRequest,
		RequestID:       "j1",
		Pickup:          "A",
		Destination:     "B",
		RequesterPeerID: identity(t).String(),
		DriverPeerID:    identity(t).String(),
		Timestamp:       time.Now().UnixMilli(),
	}
	require.NoError(t, svc.HandleJoinRequest(context.Background(), join))
	require.ErrorIs(t, svc.Respond(context.Background(), "j1", true), ErrUnknownJoinRequest)
}

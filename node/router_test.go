package node

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/config"
	"github.com/ridemesh/go-ridemesh/dedup"
	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/p2p/pubsub"
	"github.com/ridemesh/go-ridemesh/rider"
	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

type nopDirect struct{}

func (nopDirect) Send(context.Context, peer.ID, string, []byte) error { return nil }

func newRiderRouter(t *testing.T) (*router, *rider.Service) {
	logger := zaptest.NewLogger(t)
	sender := delivery.New(logger, nopPublisher{}, nopDirect{})
	records := store.New(store.NewMem(), logger)
	reporter := events.NewReporter(logger, 64)
	riderSvc := rider.New(sender, records, reporter,
		config.TopicRideRequests, peer.ID("rider-1"),
		rider.WithLog(logger), rider.WithClock(clockwork.NewFakeClock()))
	return &router{
		logger: logger,
		filter: dedup.New(dedup.DefaultConfig()),
		rider:  riderSvc,
	}, riderSvc
}

func TestRouterSuppressesDuplicates(t *testing.T) {
	rt, _ := newRiderRouter(t)
	raw := codec.MustEncode(&types.RideAccepted{
		Type:      types.TypeRideAccepted,
		RequestID: "r1",
		DriverID:  "d1",
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, rt.primary(context.Background(), "p1", raw))
	require.ErrorIs(t, rt.primary(context.Background(), "p2", raw), pubsub.ErrDuplicate)
}

func TestRouterRejectsMalformed(t *testing.T) {
	rt, _ := newRiderRouter(t)
	require.ErrorIs(t,
		rt.primary(context.Background(), "p1", []byte("not json")),
		pubsub.ErrValidationReject)
	require.ErrorIs(t,
		rt.primary(context.Background(), "p1", []byte(`{"type":"no-such-type"}`)),
		pubsub.ErrValidationReject)
	// registered type with a missing required field
	require.ErrorIs(t,
		rt.primary(context.Background(), "p1", []byte(`{"type":"ride-accepted","driverId":"d1"}`)),
		pubsub.ErrValidationReject)
}

func TestRouterDispatchesToRider(t *testing.T) {
	rt, riderSvc := newRiderRouter(t)
	ctx := context.Background()

	id, err := riderSvc.Submit(ctx, rider.Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	raw := codec.MustEncode(&types.RideAccepted{
		Type:      types.TypeRideAccepted,
		RequestID: id,
		DriverID:  "d1",
		Fare:      100,
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, rt.primary(ctx, "p1", raw))
	require.Len(t, riderSvc.Candidates(), 1)
}

func TestRouterIgnoresAbsentRole(t *testing.T) {
	rt, _ := newRiderRouter(t)
	// rider nodes accept ride requests for propagation without handling them
	raw := codec.MustEncode(&types.RideRequest{
		Type:      types.TypeRideRequest,
		ID:        "r1",
		Name:      "ada",
		From:      "A",
		To:        "B",
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, rt.primary(context.Background(), "p1", raw))
}

package rider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

const testTopic = "ride-requests-final-v1"

type capturingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *capturingPublisher) Publish(_ context.Context, _ string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, msg)
	return nil
}

func (c *capturingPublisher) last(t *testing.T, msg types.Message) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.payloads)
	require.NoError(t, codec.Decode(c.payloads[len(c.payloads)-1], msg))
}

type nopDirect struct{}

func (nopDirect) Send(context.Context, peer.ID, string, []byte) error { return nil }

func newTestService(t *testing.T, clock clockwork.Clock) (*Service, *capturingPublisher) {
	pub := &capturingPublisher{}
	logger := zaptest.NewLogger(t)
	sender := delivery.New(logger, pub, nopDirect{})
	records := store.New(store.NewMem(), logger)
	reporter := events.NewReporter(logger, 64)
	svc := New(sender, records, reporter, testTopic, peer.ID("rider-1"),
		WithLog(logger), WithClock(clock))
	return svc, pub
}

func acceptance(requestID, driverID string, fare int64) *types.RideAccepted {
	return &types.RideAccepted{
		Type:      types.TypeRideAccepted,
		RequestID: requestID,
		DriverID:  driverID,
		Fare:      fare,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestFirstConfirmationWins(t *testing.T) {
	svc, pub := newTestService(t, clockwork.NewFakeClock())
	ctx := context.Background()

	id, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 300, Seats: 2})
	require.NoError(t, err)
	var req types.RideRequest
	pub.last(t, &req)
	require.Equal(t, id, req.ID)
	require.Equal(t, types.DefaultPhone, req.Phone)
	require.Equal(t, 2, req.SelectedSeats)

	require.NoError(t, svc.HandleAccepted(ctx, acceptance(id, "d1", 300)))
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(id, "d2", 280)))
	require.Len(t, svc.Candidates(), 2)

	require.NoError(t, svc.Confirm(ctx, "d1"))
	var conf types.RideConfirmation
	pub.last(t, &conf)
	require.Equal(t, id, conf.RequestID)
	require.Equal(t, "d1", conf.DriverID)
	require.Equal(t, int64(300), conf.Fare)

	// late acceptances for the confirmed id must not register
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(id, "d3", 250)))
	require.Empty(t, svc.Candidates())

	require.ErrorIs(t, svc.Confirm(ctx, "d2"), ErrNoSuchCandidate)
	_, driverID := svc.Status()
	require.Equal(t, "d1", driverID)
}

func TestStaleAcceptanceIgnored(t *testing.T) {
	svc, _ := newTestService(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	require.NoError(t, svc.HandleAccepted(ctx, acceptance("some-other-id", "d1", 100)))
	require.Empty(t, svc.Candidates())
}

func TestNewRequestSupersedesCandidates(t *testing.T) {
	svc, _ := newTestService(t, clockwork.NewFakeClock())
	ctx := context.Background()

	first, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(first, "d1", 100)))
	require.Len(t, svc.Candidates(), 1)

	_, err = svc.Submit(ctx, Input{Name: "ada", From: "A", To: "C", Fare: 150})
	require.NoError(t, err)
	require.Empty(t, svc.Candidates())

	// acceptance for the superseded id no longer registers
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(first, "d2", 100)))
	require.Empty(t, svc.Candidates())
}

func TestCandidateExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	id, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(id, "d1", 100)))
	require.Len(t, svc.Candidates(), 1)

	clock.Advance(DefaultCandidateExpiry)
	require.Eventually(t, func() bool { return len(svc.Candidates()) == 0 },
		time.Second, 10*time.Millisecond)
	require.ErrorIs(t, svc.Confirm(ctx, "d1"), ErrNoSuchCandidate)
}

func TestConfirmCancelsExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc, pub := newTestService(t, clock)
	ctx := context.Background()

	id, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	require.NoError(t, svc.HandleAccepted(ctx, acceptance(id, "d1", 100)))
	require.NoError(t, svc.Confirm(ctx, "d1"))

	// the expiry firing after confirmation must not clear the confirmed state
	clock.Advance(DefaultCandidateExpiry)
	_, driverID := svc.Status()
	require.Equal(t, "d1", driverID)

	var conf types.RideConfirmation
	pub.last(t, &conf)
	require.Equal(t, "d1", conf.DriverID)
}

func TestDirectResponseForStaleRequestIgnored(t *testing.T) {
	svc, _ := newTestService(t, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Submit(ctx, Input{Name: "ada", From: "A", To: "B", Fare: 100})
	require.NoError(t, err)
	require.NoError(t, svc.HandleAcceptResponse(ctx, peer.ID("d1"), &types.AcceptResponse{
		Type:     types.TypeAcceptResponse,
		RideID:   "stale",
		Accepted: true,
		DriverID: "d1",
	}))
}

// Package rider drives the request side of the ride-matching flow: publish a
// request, gather driver acceptances as candidates, confirm exactly one.
package rider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

const (
	// DefaultCandidateExpiry is how long an unanswered candidate offer stays
	// live before it is dropped.
	DefaultCandidateExpiry = 30 * time.Second
)

// ErrNoSuchCandidate is returned by Confirm for a driver id that is not a
// live candidate, including any confirm attempt after the first.
var ErrNoSuchCandidate = errors.New("no such candidate")

// Opt configures the Service.
type Opt func(*Service)

// WithLog sets the logger.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Service) { s.logger = logger }
}

// WithClock substitutes the clock driving candidate expiry.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Service) { s.clock = clock }
}

// WithCandidateExpiry overrides DefaultCandidateExpiry.
func WithCandidateExpiry(d time.Duration) Opt {
	return func(s *Service) { s.expiry = d }
}

// Input is the rider's submission form.
type Input struct {
	Name    string
	Phone   string
	From    string
	To      string
	Fare    int64
	Vehicle string
	Seats   int
	Avatar  string
}

// Service owns the rider protocol state and applies its effects.
type Service struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	sender   *delivery.Sender
	records  *store.Store
	reporter *events.Reporter
	topic    string
	self     peer.ID
	expiry   time.Duration

	mu     sync.Mutex
	proto  protocol
	timers map[string]clockwork.Timer // candidate expiry, keyed by driver id
}

// New creates the rider service. topic is the primary ride-matching topic.
func New(
	sender *delivery.Sender,
	records *store.Store,
	reporter *events.Reporter,
	topic string,
	self peer.ID,
	opts ...Opt,
) *Service {
	s := &Service{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		sender:   sender,
		records:  records,
		reporter: reporter,
		topic:    topic,
		self:     self,
		expiry:   DefaultCandidateExpiry,
		proto:    newProtocol(),
		timers:   map[string]clockwork.Timer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit publishes a fresh ride request and supersedes any previous one.
// Returns the generated correlation id.
func (s *Service) Submit(ctx context.Context, in Input) (string, error) {
	req := &types.RideRequest{
		Type:          types.TypeRideRequest,
		ID:            uuid.NewString(),
		Name:          in.Name,
		Phone:         in.Phone,
		From:          in.From,
		To:            in.To,
		Fare:          in.Fare,
		Vehicle:       in.Vehicle,
		SelectedSeats: in.Seats,
		Avatar:        in.Avatar,
		RiderPeerID:   s.self.String(),
		Timestamp:     s.clock.Now().UnixMilli(),
	}
	req.Normalize()

	s.mu.Lock()
	out := s.proto.submit(req)
	s.cancelTimersLocked(out.dropped)
	s.mu.Unlock()

	if err := s.sender.Broadcast(ctx, s.topic, req); err != nil {
		return "", fmt.Errorf("publish ride request: %w", err)
	}
	if err := s.records.AddRiderRequest(store.RequestRecord{
		RequestID:      req.ID,
		RiderID:        s.self.String(),
		RiderName:      req.Name,
		Phone:          req.Phone,
		PickupLocation: req.From,
		Destination:    req.To,
		FareEstimate:   req.Fare,
		VehicleType:    req.Vehicle,
		SelectedSeats:  req.SelectedSeats,
		Status:         store.StatusPending,
		CreatedAt:      s.clock.Now(),
	}); err != nil {
		s.logger.Warn("failed to persist request record", zap.Error(err))
	}
	s.reporter.Emit(events.TypeRequestSent, "ride request published", req)
	s.logger.Info("ride request published", zap.Object("request", req))
	return req.ID, nil
}

// HandleAccepted processes a driver acceptance from the primary topic.
func (s *Service) HandleAccepted(ctx context.Context, msg *types.RideAccepted) error {
	s.mu.Lock()
	out := s.proto.onAccepted(msg)
	if out.surfaced != nil {
		driverID := out.surfaced.DriverID
		s.timers[driverID] = s.clock.AfterFunc(s.expiry, func() {
			s.expireCandidate(driverID)
		})
	}
	s.mu.Unlock()

	if out.surfaced == nil {
		s.logger.Debug("ignoring acceptance", zap.Object("acceptance", msg))
		return nil
	}
	s.reporter.Emit(events.TypeDriverFound, "driver offered to take the ride", msg)
	s.logger.Info("candidate driver surfaced", zap.Object("acceptance", msg))
	return nil
}

func (s *Service) expireCandidate(driverID string) {
	s.mu.Lock()
	out := s.proto.expire(driverID)
	delete(s.timers, driverID)
	s.mu.Unlock()

	if len(out.dropped) == 0 {
		return
	}
	s.reporter.Emit(events.TypeCandidateExpired, "driver offer expired without action", driverID)
	s.logger.Info("candidate expired", zap.String("driverId", driverID))
}

// Confirm locks in driverID for the current request and broadcasts the
// confirmation. A failed publish leaves the protocol confirmed; the caller
// must re-trigger to retry.
func (s *Service) Confirm(ctx context.Context, driverID string) error {
	s.mu.Lock()
	out, ok := s.proto.confirm(driverID)
	if ok {
		s.cancelTimersLocked(out.dropped)
	}
	requestID := s.proto.requestID
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchCandidate, driverID)
	}
	conf := out.broadcast.(*types.RideConfirmation)
	conf.Timestamp = s.clock.Now().UnixMilli()
	if err := s.sender.Broadcast(ctx, s.topic, conf); err != nil {
		s.logger.Error("failed to publish confirmation", zap.Error(err))
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if err := s.records.SetRequestStatus(requestID, store.StatusAccepted, s.clock.Now()); err != nil {
		s.logger.Warn("failed to update request record", zap.Error(err))
	}
	s.reporter.Emit(events.TypeRideConfirmed, "ride confirmed with driver", conf)
	s.logger.Info("ride confirmed", zap.Object("confirmation", conf))
	return nil
}

// HandleAcceptResponse processes a driver's direct decision for our request.
// It carries no fare or contact details, so it only surfaces the outcome.
func (s *Service) HandleAcceptResponse(_ context.Context, from peer.ID, msg *types.AcceptResponse) error {
	s.mu.Lock()
	current := s.proto.requestID
	s.mu.Unlock()
	if msg.RideID != current {
		s.logger.Debug("direct response for stale request",
			zap.String("rideId", msg.RideID), zap.Stringer("from", from))
		return nil
	}
	if msg.Accepted {
		s.reporter.Emit(events.TypeDriverFound, "driver accepted over direct stream", msg)
	} else {
		s.reporter.Emit(events.TypeRequestDismissed, "driver declined over direct stream", msg)
	}
	return nil
}

// HandleOffer surfaces an idle driver's broadcast availability.
func (s *Service) HandleOffer(_ context.Context, msg *types.RideOffer) error {
	if msg.DriverID == s.self.String() {
		return nil
	}
	s.reporter.Emit(events.TypeOfferSeen, "driver available nearby", msg)
	s.logger.Debug("ride offer observed",
		zap.String("driverId", msg.DriverID),
		zap.String("pickup", msg.PickupLocation),
		zap.String("destination", msg.Destination))
	return nil
}

// AcceptOffer takes a broadcast ride offer by dialing the advertising driver
// directly. No broadcast fallback: an offer take is meaningless to third
// parties.
func (s *Service) AcceptOffer(ctx context.Context, proto string, offer *types.RideOffer) error {
	pid, err := peer.Decode(offer.DriverID)
	if err != nil {
		return fmt.Errorf("offer driver id %q is not a peer id: %w", offer.DriverID, err)
	}
	msg := &types.RideAcceptance{
		Type:           types.TypeRideAcceptance,
		DriverID:       offer.DriverID,
		RiderID:        s.self.String(),
		Fare:           offer.Fare,
		PickupLocation: offer.PickupLocation,
		Destination:    offer.Destination,
		Timestamp:      s.clock.Now().UnixMilli(),
	}
	return s.sender.Unicast(ctx, pid, proto, msg)
}

// Candidates returns the live candidate offers.
func (s *Service) Candidates() []*types.RideAccepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*types.RideAccepted, 0, len(s.proto.candidates))
	for _, offer := range s.proto.candidates {
		result = append(result, offer)
	}
	return result
}

// Status returns the current correlation id and the confirmed driver id,
// either may be empty.
func (s *Service) Status() (requestID, driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto.requestID, s.proto.confirmedDriver
}

func (s *Service) cancelTimersLocked(driverIDs []string) {
	for _, id := range driverIDs {
		if timer, exist := s.timers[id]; exist {
			timer.Stop()
			delete(s.timers, id)
		}
	}
}

// Package driver drives the supply side of the ride-matching flow: surface
// broadcast requests, answer them, and on winning a confirmation archive the
// ride and advertise remaining seats.
package driver

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

	"github.com/ridemesh/go-ridemesh/archive"
	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

const (
	// DefaultDismissTimeout auto-dismisses an unanswered request alert.
	DefaultDismissTimeout = 10 * time.Second
	// DefaultVehicleSeats is the assumed vehicle capacity when the profile
	// does not specify one.
	DefaultVehicleSeats = 4
	// DefaultSettledRetention bounds how long won and lost entries are kept
	// to absorb duplicate confirmations, matching the dedup window.
	DefaultSettledRetention = 5 * time.Minute
)

// ErrUnknownRequest is returned by Decide for ids that are not pending a
// decision.
var ErrUnknownRequest = errors.New("unknown or already decided request")

// Archiver writes a receipt to the blob store. Implemented by archive.Client.
type Archiver interface {
	ArchiveReceipt(ctx context.Context, receipt archive.Receipt) (string, error)
}

// Topics carries the destinations for outbound driver messages.
type Topics struct {
	Primary     string // ride requests, acceptances, confirmations
	SharePosts  string // shared ride posts after a win
	AcceptProto string // direct protocol for decision responses
}

// Opt configures the Service.
type Opt func(*Service)

// WithLog sets the logger.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Service) { s.logger = logger }
}

// WithClock substitutes the clock driving auto-dismissal.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Service) { s.clock = clock }
}

// WithDismissTimeout overrides DefaultDismissTimeout.
func WithDismissTimeout(d time.Duration) Opt {
	return func(s *Service) { s.dismiss = d }
}

// WithSettledRetention overrides DefaultSettledRetention.
func WithSettledRetention(d time.Duration) Opt {
	return func(s *Service) { s.retention = d }
}

// WithProfile sets the driver's advertised contact details.
func WithProfile(contact types.Contact) Opt {
	return func(s *Service) { s.profile = contact }
}

// WithVehicle sets the advertised vehicle class and capacity.
func WithVehicle(vehicle string, seats int) Opt {
	return func(s *Service) {
		s.vehicle = vehicle
		s.vehicleSeats = seats
	}
}

// Service owns the driver protocol state and applies its effects.
type Service struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	sender   *delivery.Sender
	records  *store.Store
	archiver Archiver
	reporter *events.Reporter
	topics   Topics
	self     peer.ID

	profile      types.Contact
	vehicle      string
	vehicleSeats int
	dismiss      time.Duration
	retention    time.Duration

	mu     sync.Mutex
	proto  protocol
	timers map[string]clockwork.Timer // auto-dismiss or retention, keyed by request id
}

// New creates the driver service.
func New(
	sender *delivery.Sender,
	records *store.Store,
	archiver Archiver,
	reporter *events.Reporter,
	topics Topics,
	self peer.ID,
	opts ...Opt,
) *Service {
	s := &Service{
		logger:       zap.NewNop(),
		clock:        clockwork.NewRealClock(),
		sender:       sender,
		records:      records,
		archiver:     archiver,
		reporter:     reporter,
		topics:       topics,
		self:         self,
		vehicle:      types.DefaultVehicle,
		vehicleSeats: DefaultVehicleSeats,
		dismiss:      DefaultDismissTimeout,
		retention:    DefaultSettledRetention,
		proto:        newProtocol(self.String()),
		timers:       map[string]clockwork.Timer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleRequest processes a broadcast ride request.
func (s *Service) HandleRequest(_ context.Context, msg *types.RideRequest) error {
	s.mu.Lock()
	out := s.proto.onRequest(msg)
	if out.surfaced != nil {
		requestID := msg.ID
		s.timers[requestID] = s.clock.AfterFunc(s.dismiss, func() {
			s.dismissRequest(requestID)
		})
	}
	s.mu.Unlock()

	if out.surfaced == nil {
		return nil
	}
	if err := s.records.AddRideAlert(store.RideAlert{
		ID:        msg.ID,
		RiderName: msg.Name,
		From:      msg.From,
		To:        msg.To,
		Fare:      msg.Fare,
		Seats:     msg.SelectedSeats,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		s.logger.Warn("failed to persist ride alert", zap.Error(err))
	}
	s.reporter.Emit(events.TypeRequestSeen, "new ride request", msg)
	s.logger.Info("ride request surfaced", zap.Object("request", msg))
	return nil
}

func (s *Service) dismissRequest(requestID string) {
	s.mu.Lock()
	out := s.proto.dismiss(requestID)
	delete(s.timers, requestID)
	s.mu.Unlock()

	if len(out.dismissed) == 0 {
		return
	}
	s.reporter.Emit(events.TypeRequestDismissed, "ride request timed out without a decision", requestID)
	s.logger.Info("request auto-dismissed", zap.String("requestId", requestID))
}

// Decide answers a surfaced request. An accept broadcasts a RideAccepted on
// the primary topic and additionally sends the decision straight to the
// originator when its peer id is known. A reject only sends the direct
// decision. Direct failures are logged, never escalated: the broadcast copy
// is the delivery guarantee for accepts, and a lost reject only costs the
// rider a timeout.
func (s *Service) Decide(ctx context.Context, requestID string, accept bool, fare int64) error {
	s.mu.Lock()
	req, ok := s.proto.decide(requestID, accept)
	if ok {
		if timer, exist := s.timers[requestID]; exist {
			timer.Stop()
			delete(s.timers, requestID)
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if err := s.records.MarkAlertRead(requestID); err != nil {
		s.logger.Warn("failed to mark alert read", zap.Error(err))
	}
	if fare == 0 {
		fare = req.Fare
	}
	now := s.clock.Now().UnixMilli()
	if accept {
		acceptance := &types.RideAccepted{
			Type:          types.TypeRideAccepted,
			RequestID:     requestID,
			DriverID:      s.self.String(),
			DriverName:    s.profile.Name,
			DriverPhone:   s.profile.Phone,
			DriverImage:   s.profile.ProfileImage,
			Fare:          fare,
			Vehicle:       s.vehicle,
			SelectedSeats: req.SelectedSeats,
			Timestamp:     now,
		}
		acceptance.Normalize()
		if err := s.sender.Broadcast(ctx, s.topics.Primary, acceptance); err != nil {
			return fmt.Errorf("publish acceptance: %w", err)
		}
	}
	s.sendDecision(ctx, req, accept, now)
	s.logger.Info("request decided",
		zap.String("requestId", requestID), zap.Bool("accepted", accept))
	return nil
}

func (s *Service) sendDecision(ctx context.Context, req *types.RideRequest, accept bool, now int64) {
	if req.RiderPeerID == "" {
		return
	}
	pid, err := peer.Decode(req.RiderPeerID)
	if err != nil {
		s.logger.Debug("request carries a malformed rider peer id",
			zap.String("riderPeerId", req.RiderPeerID), zap.Error(err))
		return
	}
	resp := &types.AcceptResponse{
		Type:      types.TypeAcceptResponse,
		RideID:    req.ID,
		Accepted:  accept,
		DriverID:  s.self.String(),
		Timestamp: now,
	}
	if err := s.sender.Unicast(ctx, pid, s.topics.AcceptProto, resp); err != nil {
		s.logger.Debug("direct decision undeliverable",
			zap.Stringer("rider", pid), zap.Error(err))
	}
}

// HandleConfirmation processes a broadcast confirmation. A confirmation
// naming this driver triggers the archival side effects and a seat
// advertisement; any other confirmation only closes the local entry.
func (s *Service) HandleConfirmation(ctx context.Context, msg *types.RideConfirmation) error {
	s.mu.Lock()
	out := s.proto.onConfirmation(msg)
	if out.lost != "" || out.won != nil {
		requestID := msg.RequestID
		if timer, exist := s.timers[requestID]; exist {
			timer.Stop()
		}
		s.timers[requestID] = s.clock.AfterFunc(s.retention, func() {
			s.forgetRequest(requestID)
		})
	}
	s.mu.Unlock()

	if out.lost != "" {
		s.logger.Debug("request confirmed to another driver",
			zap.String("requestId", out.lost), zap.String("driverId", msg.DriverID))
		return nil
	}
	if out.won == nil {
		return nil
	}
	req := out.won
	if err := s.records.AppendTrip(store.Trip{
		RequestID:  req.ID,
		RiderName:  req.Name,
		From:       req.From,
		To:         req.To,
		Fare:       msg.Fare,
		Seats:      req.SelectedSeats,
		RecordedAt: s.clock.Now(),
	}); err != nil {
		s.logger.Warn("failed to persist trip", zap.Error(err))
	}
	s.archiveRide(ctx, req)
	s.advertiseSeats(ctx, req)
	s.reporter.Emit(events.TypeRideWon, "rider confirmed this driver", msg)
	s.logger.Info("ride won", zap.Object("confirmation", msg))
	return nil
}

func (s *Service) forgetRequest(requestID string) {
	s.mu.Lock()
	s.proto.forget(requestID)
	delete(s.timers, requestID)
	s.mu.Unlock()
}

func (s *Service) archiveRide(ctx context.Context, req *types.RideRequest) {
	receipt := archive.Receipt{
		Driver: archive.DriverInfo{
			DriverID:     s.self.String(),
			Name:         s.profile.Name,
			ProfileImage: s.profile.ProfileImage,
		},
		Rider: archive.RouteInfo{
			PickupLocation: req.From,
			Destination:    req.To,
		},
		Vehicle: archive.VehicleInfo{
			Type:          s.vehicle,
			Seats:         s.vehicleSeats,
			SelectedSeats: req.SelectedSeats,
		},
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.archiver.ArchiveReceipt(ctx, receipt); err != nil {
		s.logger.Warn("receipt archival failed", zap.Error(err))
	}
}

func (s *Service) advertiseSeats(ctx context.Context, req *types.RideRequest) {
	remaining := s.vehicleSeats - req.SelectedSeats
	if remaining < 1 {
		return
	}
	post := &types.SharedRidePost{
		Type:   types.TypeSharedRidePost,
		RideID: req.ID,
		Driver: types.Contact{
			Name:         s.profile.Name,
			Phone:        s.profile.Phone,
			ProfileImage: s.profile.ProfileImage,
			PeerID:       s.self.String(),
		},
		Route: types.Route{
			Origin:         req.From,
			Destination:    req.To,
			SeatsAvailable: remaining,
		},
		Timestamp: s.clock.Now().UnixMilli(),
	}
	post.Normalize()
	if err := s.sender.Broadcast(ctx, s.topics.SharePosts, post); err != nil {
		s.logger.Warn("failed to advertise remaining seats", zap.Error(err))
	}
}

// Offer broadcasts availability for a route while idle.
func (s *Service) Offer(ctx context.Context, pickup, destination string, fare int64) error {
	offer := &types.RideOffer{
		Type:           types.TypeRideOffer,
		DriverID:       s.self.String(),
		DriverName:     s.profile.Name,
		DriverImage:    s.profile.ProfileImage,
		VehicleType:    s.vehicle,
		AvailableSeats: s.vehicleSeats,
		PickupLocation: pickup,
		Destination:    destination,
		Fare:           fare,
		Timestamp:      s.clock.Now().UnixMilli(),
	}
	offer.Normalize()
	if err := s.sender.Broadcast(ctx, s.topics.Primary, offer); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	s.logger.Info("ride offer published",
		zap.String("pickup", pickup), zap.String("destination", destination))
	return nil
}

// HandleAcceptance processes a rider taking one of our broadcast offers over
// the direct protocol.
func (s *Service) HandleAcceptance(_ context.Context, from peer.ID, msg *types.RideAcceptance) error {
	if msg.DriverID != s.self.String() {
		s.logger.Debug("offer acceptance for another driver",
			zap.String("driverId", msg.DriverID), zap.Stringer("from", from))
		return nil
	}
	if err := s.records.AppendTrip(store.Trip{
		RequestID:  uuid.NewString(),
		From:       msg.PickupLocation,
		To:         msg.Destination,
		Fare:       msg.Fare,
		Seats:      types.DefaultSeats,
		RecordedAt: s.clock.Now(),
	}); err != nil {
		s.logger.Warn("failed to persist offer trip", zap.Error(err))
	}
	s.reporter.Emit(events.TypeOfferTaken, "rider took the broadcast offer", msg)
	s.logger.Info("offer taken", zap.String("rider", msg.RiderID))
	return nil
}

// Unread returns the number of undecided surfaced requests.
func (s *Service) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto.unreadCount()
}

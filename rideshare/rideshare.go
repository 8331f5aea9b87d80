// Package rideshare drives the carpool flow: drivers advertise seats on a
// post topic, riders request to join on a request topic, and the owning
// driver answers with a terminal accept or decline. Requests and responses
// travel point-to-point when the counterpart's peer identity is known, with
// the broadcast copy as the fallback.
package rideshare

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/delivery"
	"github.com/ridemesh/go-ridemesh/events"
	"github.com/ridemesh/go-ridemesh/types"
)

// ErrUnknownJoinRequest is returned by Respond for ids not awaiting a
// decision.
var ErrUnknownJoinRequest = errors.New("unknown or already decided join request")

// ErrUnknownPost is returned by RequestJoin for a ride id with no observed
// post.
var ErrUnknownPost = errors.New("unknown shared ride post")

// Topics carries the destinations for carpool messages.
type Topics struct {
	Posts      string // shared ride posts and standalone offers
	Requests   string // join requests and their responses
	ShareProto string // direct protocol for both
}

// Opt configures the Service.
type Opt func(*Service)

// WithLog sets the logger.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Service) { s.logger = logger }
}

// WithClock substitutes the timestamp source.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Service) { s.clock = clock }
}

// WithProfile sets the contact details attached to outbound messages.
func WithProfile(contact types.Contact) Opt {
	return func(s *Service) { s.profile = contact }
}

// Service owns the carpool protocol state for both roles.
type Service struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	sender   *delivery.Sender
	reporter *events.Reporter
	topics   Topics
	self     peer.ID
	profile  types.Contact

	mu    sync.Mutex
	proto protocol
}

// New creates the carpool service.
func New(
	sender *delivery.Sender,
	reporter *events.Reporter,
	topics Topics,
	self peer.ID,
	opts ...Opt,
) *Service {
	s := &Service{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		sender:   sender,
		reporter: reporter,
		topics:   topics,
		self:     self,
		proto:    newProtocol(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandlePost processes a broadcast seat advertisement.
func (s *Service) HandlePost(_ context.Context, msg *types.SharedRidePost) error {
	if msg.Driver.PeerID == s.self.String() {
		// broadcast echo of our own post
		return nil
	}
	s.mu.Lock()
	fresh := s.proto.onPost(msg)
	s.mu.Unlock()
	if !fresh {
		return nil
	}
	s.reporter.Emit(events.TypeSharePostSeen, "seats available on a shared ride", msg)
	s.logger.Info("shared ride post", zap.Object("post", msg))
	return nil
}

// HandleOffer processes a broadcast standalone carpool offer. The offer
// becomes joinable under its request id.
func (s *Service) HandleOffer(_ context.Context, msg *types.RideShareOffer) error {
	if msg.DriverInfo.PeerID == s.self.String() {
		return nil
	}
	s.mu.Lock()
	fresh := s.proto.onOffer(msg)
	s.mu.Unlock()
	if !fresh {
		return nil
	}
	s.reporter.Emit(events.TypeSharePostSeen, "carpool offer available", msg)
	s.logger.Info("carpool offer observed",
		zap.String("requestId", msg.RequestID),
		zap.String("pickup", msg.Pickup),
		zap.String("destination", msg.Destination))
	return nil
}

// RequestJoin asks the owner of the post for rideID for seats. The request is
// recorded as pending until its terminal response arrives.
func (s *Service) RequestJoin(ctx context.Context, rideID, pickup, destination string, seats int) (string, error) {
	s.mu.Lock()
	post, known := s.proto.post(rideID)
	s.mu.Unlock()
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownPost, rideID)
	}
	req := &types.RideShareRequest{
		Type:            types.TypeRideShareRequest,
		RequestID:       uuid.NewString(),
		RiderInfo:       s.profile,
		Pickup:          pickup,
		Destination:     destination,
		SeatsRequired:   seats,
		RequesterPeerID: s.self.String(),
		RideID:          rideID,
		DriverPeerID:    post.Driver.PeerID,
		Timestamp:       s.clock.Now().UnixMilli(),
	}
	req.Normalize()

	s.mu.Lock()
	s.proto.request(req)
	s.mu.Unlock()

	if err := s.deliver(ctx, req.DriverPeerID, req); err != nil {
		s.mu.Lock()
		s.proto.abandon(req.RequestID)
		s.mu.Unlock()
		return "", fmt.Errorf("send join request: %w", err)
	}
	s.reporter.Emit(events.TypeShareRequested, "join request sent", req)
	s.logger.Info("join requested", zap.Object("request", req))
	return req.RequestID, nil
}

// HandleResponse processes the terminal answer to one of our join requests,
// from either delivery path. Unknown or already-resolved ids are ignored.
func (s *Service) HandleResponse(_ context.Context, msg *types.RideShareResponse) error {
	s.mu.Lock()
	req, resolved := s.proto.onResponse(msg)
	s.mu.Unlock()
	if !resolved {
		s.logger.Debug("response for unknown join request",
			zap.String("requestId", msg.RequestID))
		return nil
	}
	if msg.Accepted {
		s.reporter.Emit(events.TypeShareAccepted, "join request accepted", msg)
		s.logger.Info("join accepted",
			zap.String("requestId", msg.RequestID), zap.String("rideId", req.RideID))
	} else {
		s.reporter.Emit(events.TypeShareDeclined, "join request declined, look for another ride", msg)
		s.logger.Info("join declined", zap.String("requestId", msg.RequestID))
	}
	return nil
}

// HandleJoinRequest processes a rider's join request against one of our
// posts, from either delivery path.
func (s *Service) HandleJoinRequest(_ context.Context, msg *types.RideShareRequest) error {
	if msg.DriverPeerID != "" && msg.DriverPeerID != s.self.String() {
		return nil
	}
	if msg.RequesterPeerID == s.self.String() {
		// broadcast echo of our own request
		return nil
	}
	s.mu.Lock()
	fresh := s.proto.onJoinRequest(msg)
	s.mu.Unlock()
	if !fresh {
		return nil
	}
	s.reporter.Emit(events.TypeShareRequested, "rider wants to join the ride", msg)
	s.logger.Info("join request received", zap.Object("request", msg))
	return nil
}

// Respond answers a pending join request. The decision is terminal; the
// request id cannot be answered twice.
func (s *Service) Respond(ctx context.Context, requestID string, accept bool) error {
	s.mu.Lock()
	req, ok := s.proto.decide(requestID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJoinRequest, requestID)
	}
	resp := &types.RideShareResponse{
		Type:      types.TypeRideShareResponse,
		RequestID: requestID,
		Accepted:  accept,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	if accept {
		contact := s.profile
		contact.PeerID = s.self.String()
		contact.Normalize()
		resp.DriverInfo = &contact
	}
	if err := s.deliver(ctx, req.RequesterPeerID, resp); err != nil {
		return fmt.Errorf("send join response: %w", err)
	}
	s.logger.Info("join request answered",
		zap.String("requestId", requestID), zap.Bool("accepted", accept))
	return nil
}

// Offer broadcasts a standalone carpool offer, independent of any confirmed
// ride.
func (s *Service) Offer(ctx context.Context, pickup, destination string, seats int, departure string) (string, error) {
	contact := s.profile
	contact.PeerID = s.self.String()
	offer := &types.RideShareOffer{
		Type:           types.TypeRideShareOffer,
		RequestID:      uuid.NewString(),
		DriverInfo:     contact,
		Pickup:         pickup,
		Destination:    destination,
		AvailableSeats: seats,
		DepartureTime:  departure,
		Timestamp:      s.clock.Now().UnixMilli(),
	}
	offer.Normalize()
	if err := s.sender.Broadcast(ctx, s.topics.Posts, offer); err != nil {
		return "", fmt.Errorf("publish carpool offer: %w", err)
	}
	s.logger.Info("carpool offer published",
		zap.String("pickup", pickup), zap.String("destination", destination))
	return offer.RequestID, nil
}

// Pending returns the number of join requests awaiting a terminal response.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto.pendingCount()
}

// deliver routes msg to peerID over the direct protocol with the request
// topic as the fallback, or straight to broadcast when no peer id is known.
func (s *Service) deliver(ctx context.Context, peerID string, msg types.Message) error {
	if peerID == "" {
		return s.sender.Broadcast(ctx, s.topics.Requests, msg)
	}
	pid, err := peer.Decode(peerID)
	if err != nil {
		s.logger.Debug("malformed peer id, using broadcast",
			zap.String("peerId", peerID), zap.Error(err))
		return s.sender.Broadcast(ctx, s.topics.Requests, msg)
	}
	return s.sender.Send(ctx, pid, s.topics.ShareProto, s.topics.Requests, msg)
}

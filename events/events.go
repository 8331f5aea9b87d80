// Package events reports user-facing protocol events to the presentation
// layer. The node core never renders anything; it emits events on a buffered
// channel and the UI (or a test) drains them. Emission never blocks protocol
// handlers.
package events

import (
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TypeRelayConnected   Type = "Relay Connected"
	TypeRequestSent      Type = "Request Sent"
	TypeDriverFound      Type = "Driver Found"
	TypeCandidateExpired Type = "Candidate Expired"
	TypeRideConfirmed    Type = "Ride Confirmed"
	TypeRequestSeen      Type = "Request Seen"
	TypeRequestDismissed Type = "Request Dismissed"
	TypeRideWon          Type = "Ride Won"
	TypeOfferTaken       Type = "Offer Taken"
	TypeOfferSeen        Type = "Offer Seen"
	TypeSharePostSeen    Type = "Share Post Seen"
	TypeShareRequested   Type = "Share Requested"
	TypeShareAccepted    Type = "Share Accepted"
	TypeShareDeclined    Type = "Share Declined"
)

// UserEvent is a single entry consumed by the presentation layer.
type UserEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Help      string    `json:"help"`
	Details   any       `json:"details"`
}

// Reporter fans protocol events out to a single consumer.
type Reporter struct {
	logger *zap.Logger
	events chan UserEvent
}

// NewReporter creates a Reporter with the given channel buffer.
func NewReporter(logger *zap.Logger, buffer int) *Reporter {
	return &Reporter{
		logger: logger,
		events: make(chan UserEvent, buffer),
	}
}

// Emit publishes an event. If the consumer lags behind the buffer the event
// is dropped; the protocol state machines must not stall on presentation.
func (r *Reporter) Emit(typ Type, help string, details any) {
	ev := UserEvent{
		Timestamp: time.Now(),
		Type:      typ,
		Help:      help,
		Details:   details,
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Debug("dropping user event", zap.String("type", string(typ)))
	}
}

// Events returns the consumer channel.
func (r *Reporter) Events() <-chan UserEvent {
	return r.events
}

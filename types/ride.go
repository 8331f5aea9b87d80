// Package types defines the wire envelopes exchanged between peers.
//
// Every message is UTF-8 JSON with a mandatory "type" discriminator and a
// creation timestamp in unix milliseconds. Field names follow the wire
// protocol exactly; unknown fields are tolerated on decode for forward
// compatibility. Optional fields have documented defaults applied by
// Normalize.
package types

import "go.uber.org/zap/zapcore"

// Message type discriminators on the primary ride-matching topic and the
// accept-ride direct protocol.
const (
	TypeRideRequest      = "ride-request"
	TypeRideAccepted     = "ride-accepted"
	TypeRideConfirmation = "ride-confirmation"
	TypeRideOffer        = "ride-offer"
	TypeRideAcceptance   = "ride-acceptance"
	TypeAcceptResponse   = "accept-response"
)

// Defaults for absent optional fields.
const (
	DefaultPhone   = "N/A"
	DefaultVehicle = "Car"
	DefaultSeats   = 1
)

// Message is implemented by every wire envelope.
type Message interface {
	MsgType() string
}

// RideRequest is broadcast by a rider on the primary topic. Immutable once
// published; superseded by a later request from the same rider.
type RideRequest struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	From          string `json:"from"`
	To            string `json:"to"`
	Fare          int64  `json:"fare"`
	Vehicle       string `json:"vehicle,omitempty"`
	SelectedSeats int    `json:"selectedSeats,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	RiderPeerID   string `json:"riderPeerId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (m *RideRequest) MsgType() string { return TypeRideRequest }

// Normalize applies wire defaults for absent optional fields.
func (m *RideRequest) Normalize() {
	if m.Phone == "" {
		m.Phone = DefaultPhone
	}
	if m.Vehicle == "" {
		m.Vehicle = DefaultVehicle
	}
	if m.SelectedSeats == 0 {
		m.SelectedSeats = DefaultSeats
	}
}

func (m *RideRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", m.ID)
	enc.AddString("from", m.From)
	enc.AddString("to", m.To)
	enc.AddInt64("fare", m.Fare)
	enc.AddString("vehicle", m.Vehicle)
	enc.AddInt("seats", m.SelectedSeats)
	return nil
}

// RideAccepted is broadcast by a driver on the primary topic in answer to a
// RideRequest. Multiple acceptances may arrive for one request; only the
// rider decides which to confirm.
type RideAccepted struct {
	Type          string `json:"type"`
	RequestID     string `json:"requestId"`
	DriverID      string `json:"driverId"`
	DriverName    string `json:"driverName,omitempty"`
	DriverPhone   string `json:"driverPhone,omitempty"`
	DriverImage   string `json:"driverImage,omitempty"`
	Fare          int64  `json:"fare"`
	Vehicle       string `json:"vehicle,omitempty"`
	SelectedSeats int    `json:"selectedSeats,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (m *RideAccepted) MsgType() string { return TypeRideAccepted }

func (m *RideAccepted) Normalize() {
	if m.DriverPhone == "" {
		m.DriverPhone = DefaultPhone
	}
	if m.Vehicle == "" {
		m.Vehicle = DefaultVehicle
	}
	if m.SelectedSeats == 0 {
		m.SelectedSeats = DefaultSeats
	}
}

func (m *RideAccepted) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("requestId", m.RequestID)
	enc.AddString("driverId", m.DriverID)
	enc.AddInt64("fare", m.Fare)
	return nil
}

// RideConfirmation is broadcast once per request by the rider. It acts as a
// lock: a driver seeing its own id wins, any other id is a loss.
type RideConfirmation struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	DriverID  string `json:"driverId"`
	Fare      int64  `json:"fare"`
	Timestamp int64  `json:"timestamp"`
}

func (m *RideConfirmation) MsgType() string { return TypeRideConfirmation }

func (m *RideConfirmation) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("requestId", m.RequestID)
	enc.AddString("driverId", m.DriverID)
	enc.AddInt64("fare", m.Fare)
	return nil
}

// RideOffer is broadcast by an idle driver advertising availability.
type RideOffer struct {
	Type           string `json:"type"`
	DriverID       string `json:"driverId"`
	DriverName     string `json:"driverName,omitempty"`
	DriverImage    string `json:"driverImage,omitempty"`
	Rating         string `json:"rating,omitempty"`
	VehicleType    string `json:"vehicleType,omitempty"`
	VehicleDetails string `json:"vehicleDetails,omitempty"`
	AvailableSeats int    `json:"availableSeats,omitempty"`
	PickupLocation string `json:"pickupLocation"`
	Destination    string `json:"destination"`
	Fare           int64  `json:"fare"`
	Timestamp      int64  `json:"timestamp"`
}

func (m *RideOffer) MsgType() string { return TypeRideOffer }

func (m *RideOffer) Normalize() {
	if m.VehicleType == "" {
		m.VehicleType = DefaultVehicle
	}
	if m.AvailableSeats == 0 {
		m.AvailableSeats = DefaultSeats
	}
}

// RideAcceptance is sent by a rider directly to a driver over the
// accept-ride protocol to take a broadcast RideOffer.
type RideAcceptance struct {
	Type           string `json:"type"`
	DriverID       string `json:"driverId"`
	RiderID        string `json:"riderId"`
	Fare           int64  `json:"fare"`
	PickupLocation string `json:"pickupLocation"`
	Destination    string `json:"destination"`
	Timestamp      int64  `json:"timestamp"`
}

func (m *RideAcceptance) MsgType() string { return TypeRideAcceptance }

// AcceptResponse is the driver's accept or reject decision for a ride
// request, sent directly to the request originator over the accept-ride
// protocol. There is no broadcast fallback for this type.
type AcceptResponse struct {
	Type      string `json:"type"`
	RideID    string `json:"rideId"`
	Accepted  bool   `json:"accepted"`
	DriverID  string `json:"driverId"`
	Timestamp int64  `json:"timestamp"`
}

func (m *AcceptResponse) MsgType() string { return TypeAcceptResponse }

func (m *AcceptResponse) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("rideId", m.RideID)
	enc.AddBool("accepted", m.Accepted)
	enc.AddString("driverId", m.DriverID)
	return nil
}

package types

import "go.uber.org/zap/zapcore"

// Message type discriminators on the share-ride-posts and ride-share-requests
// topics and the ride-share direct protocol.
const (
	TypeSharedRidePost    = "ride-share-post"
	TypeRideShareOffer    = "ride-share-offer"
	TypeRideShareRequest  = "ride-share-request"
	TypeRideShareResponse = "ride-share-response"
)

// Contact identifies a participant in a shared ride.
type Contact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
	PeerID       string `json:"peerId,omitempty"`
}

// Normalize applies wire defaults for absent optional fields.
func (c *Contact) Normalize() {
	if c.Phone == "" {
		c.Phone = DefaultPhone
	}
}

// Route describes the advertised leg of a shared ride.
type Route struct {
	Origin         string `json:"origin"`
	Destination    string `json:"destination"`
	SeatsAvailable int    `json:"seatsAvailable,omitempty"`
}

// SharedRidePost is broadcast by a driver advertising remaining seats on a
// confirmed ride. It carries no rider correlation until a join request
// arrives.
type SharedRidePost struct {
	Type      string  `json:"type"`
	RideID    string  `json:"rideId"`
	Driver    Contact `json:"driver"`
	Route     Route   `json:"rider"`
	Timestamp int64   `json:"timestamp"`
}

func (m *SharedRidePost) MsgType() string { return TypeSharedRidePost }

func (m *SharedRidePost) Normalize() {
	m.Driver.Normalize()
	if m.Route.SeatsAvailable == 0 {
		m.Route.SeatsAvailable = DefaultSeats
	}
}

func (m *SharedRidePost) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("rideId", m.RideID)
	enc.AddString("driverPeer", m.Driver.PeerID)
	enc.AddString("origin", m.Route.Origin)
	enc.AddString("destination", m.Route.Destination)
	enc.AddInt("seats", m.Route.SeatsAvailable)
	return nil
}

// RideShareOffer is a standalone carpool offer broadcast by a driver,
// independent of any confirmed ride.
type RideShareOffer struct {
	Type           string  `json:"type"`
	RequestID      string  `json:"requestId"`
	DriverInfo     Contact `json:"driverInfo"`
	Pickup         string  `json:"pickup"`
	Destination    string  `json:"destination"`
	AvailableSeats int     `json:"availableSeats,omitempty"`
	DepartureTime  string  `json:"departureTime,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

func (m *RideShareOffer) MsgType() string { return TypeRideShareOffer }

func (m *RideShareOffer) Normalize() {
	m.DriverInfo.Normalize()
	if m.AvailableSeats == 0 {
		m.AvailableSeats = DefaultSeats
	}
}

// RideShareRequest is a rider's join request against a SharedRidePost, sent
// both via broadcast and directly to the post's driver when known.
type RideShareRequest struct {
	Type            string  `json:"type"`
	RequestID       string  `json:"requestId"`
	RiderInfo       Contact `json:"riderInfo"`
	Pickup          string  `json:"pickup"`
	Destination     string  `json:"destination"`
	SeatsRequired   int     `json:"seatsRequired,omitempty"`
	RequesterPeerID string  `json:"requesterPeerId"`
	RideID          string  `json:"rideId,omitempty"`
	DriverPeerID    string  `json:"driverPeerId,omitempty"`
	Timestamp       int64   `json:"timestamp"`
}

func (m *RideShareRequest) MsgType() string { return TypeRideShareRequest }

func (m *RideShareRequest) Normalize() {
	m.RiderInfo.Normalize()
	if m.SeatsRequired == 0 {
		m.SeatsRequired = DefaultSeats
	}
}

func (m *RideShareRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("requestId", m.RequestID)
	enc.AddString("pickup", m.Pickup)
	enc.AddString("destination", m.Destination)
	enc.AddInt("seats", m.SeatsRequired)
	enc.AddString("requesterPeer", m.RequesterPeerID)
	return nil
}

// RideShareResponse is the owning driver's terminal answer to a
// RideShareRequest, sent the same dual way. DriverInfo is present only on
// accept.
type RideShareResponse struct {
	Type       string   `json:"type"`
	RequestID  string   `json:"requestId"`
	Accepted   bool     `json:"accepted"`
	DriverInfo *Contact `json:"driverInfo,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

func (m *RideShareResponse) MsgType() string { return TypeRideShareResponse }

func (m *RideShareResponse) Normalize() {
	if m.DriverInfo != nil {
		m.DriverInfo.Normalize()
	}
}

func (m *RideShareResponse) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("requestId", m.RequestID)
	enc.AddBool("accepted", m.Accepted)
	return nil
}

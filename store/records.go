package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ridemesh/go-ridemesh/types"
)

// Keys for the record layer. Each key holds one JSON document; updates are
// read-modify-write with last-write-wins.
const (
	keyDriverMetrics = "driver/metrics"
	keyRiderRequests = "rider/requests"
	keyDriverProfile = "profile/driver"
	keyRiderProfile  = "profile/rider"
)

// Request record statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
)

// RideAlert is the driver's inbox entry for a broadcast ride request.
type RideAlert struct {
	ID        string    `json:"id"`
	RiderName string    `json:"riderName"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Fare      int64     `json:"fare"`
	Seats     int       `json:"selectedSeats"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Trip is a completed or tentatively accepted ride.
type Trip struct {
	RequestID  string    `json:"requestId"`
	RiderName  string    `json:"riderName"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Fare       int64     `json:"fare"`
	Seats      int       `json:"selectedSeats"`
	RecordedAt time.Time `json:"recordedAt"`
}

// DriverMetrics aggregates a driver's history.
type DriverMetrics struct {
	CompletedTrips int         `json:"completedTrips"`
	TotalEarnings  int64       `json:"totalEarnings"`
	AllTrips       []Trip      `json:"allTrips"`
	RideAlerts     []RideAlert `json:"rideAlerts"`
}

// RequestRecord tracks a rider request as observed by this peer.
type RequestRecord struct {
	RequestID      string    `json:"requestId"`
	RiderID        string    `json:"riderId"`
	RiderName      string    `json:"riderName"`
	Phone          string    `json:"phone"`
	PickupLocation string    `json:"pickupLocation"`
	Destination    string    `json:"destination"`
	FareEstimate   int64     `json:"fareEstimate"`
	VehicleType    string    `json:"vehicleType"`
	SelectedSeats  int       `json:"selectedSeats"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store layers the ride-matching records over a KV.
type Store struct {
	kv  KV
	log *zap.Logger
}

// New creates a record store over kv.
func New(kv KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, log: logger}
}

func (s *Store) load(key string, v any) error {
	raw, err := s.kv.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) save(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put([]byte(key), raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// DriverMetrics returns the driver's aggregate record, zero-valued if none
// was stored yet.
func (s *Store) DriverMetrics() (DriverMetrics, error) {
	var metrics DriverMetrics
	err := s.load(keyDriverMetrics, &metrics)
	if errors.Is(err, ErrNotFound) {
		return DriverMetrics{}, nil
	}
	return metrics, err
}

// AddRideAlert prepends an alert to the driver's inbox.
func (s *Store) AddRideAlert(alert RideAlert) error {
	metrics, err := s.DriverMetrics()
	if err != nil {
		return err
	}
	metrics.RideAlerts = append([]RideAlert{alert}, metrics.RideAlerts...)
	return s.save(keyDriverMetrics, &metrics)
}

// MarkAlertRead flags the alert for requestID as read. Unknown ids are a
// no-op.
func (s *Store) MarkAlertRead(requestID string) error {
	metrics, err := s.DriverMetrics()
	if err != nil {
		return err
	}
	for i := range metrics.RideAlerts {
		if metrics.RideAlerts[i].ID == requestID {
			metrics.RideAlerts[i].Read = true
		}
	}
	return s.save(keyDriverMetrics, &metrics)
}

// AppendTrip records a trip and updates the aggregate counters.
func (s *Store) AppendTrip(trip Trip) error {
	metrics, err := s.DriverMetrics()
	if err != nil {
		return err
	}
	metrics.AllTrips = append([]Trip{trip}, metrics.AllTrips...)
	metrics.CompletedTrips++
	metrics.TotalEarnings += trip.Fare
	return s.save(keyDriverMetrics, &metrics)
}

// RiderRequests returns all request records, newest first.
func (s *Store) RiderRequests() ([]RequestRecord, error) {
	var records []RequestRecord
	err := s.load(keyRiderRequests, &records)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return records, err
}

// AddRiderRequest prepends a request record.
func (s *Store) AddRiderRequest(record RequestRecord) error {
	records, err := s.RiderRequests()
	if err != nil {
		return err
	}
	records = append([]RequestRecord{record}, records...)
	return s.save(keyRiderRequests, records)
}

// SetRequestStatus updates the status of the record for requestID. Unknown
// ids are a no-op.
func (s *Store) SetRequestStatus(requestID, status string, at time.Time) error {
	records, err := s.RiderRequests()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].RequestID == requestID {
			records[i].Status = status
			records[i].UpdatedAt = at
		}
	}
	return s.save(keyRiderRequests, records)
}

// Profile returns the cached contact profile for the given role key.
func (s *Store) Profile(driver bool) (types.Contact, error) {
	key := keyRiderProfile
	if driver {
		key = keyDriverProfile
	}
	var contact types.Contact
	err := s.load(key, &contact)
	if errors.Is(err, ErrNotFound) {
		return types.Contact{Phone: types.DefaultPhone}, nil
	}
	contact.Normalize()
	return contact, err
}

// SetProfile caches the contact profile for the given role key.
func (s *Store) SetProfile(driver bool, contact types.Contact) error {
	key := keyRiderProfile
	if driver {
		key = keyDriverProfile
	}
	return s.save(key, &contact)
}

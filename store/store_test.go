package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ridemesh/go-ridemesh/store"
	"github.com/ridemesh/go-ridemesh/types"
)

func TestLDBRoundTrip(t *testing.T) {
	ldb, err := store.NewLDB(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ldb.Close()

	require.NoError(t, ldb.Put([]byte("k"), []byte("v1")))
	value, err := ldb.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	// last write wins
	require.NoError(t, ldb.Put([]byte("k"), []byte("v2")))
	value, err = ldb.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)

	_, err = ldb.Get([]byte("missing"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDriverMetrics(t *testing.T) {
	s := store.New(store.NewMem(), zaptest.NewLogger(t))

	metrics, err := s.DriverMetrics()
	require.NoError(t, err)
	require.Zero(t, metrics.CompletedTrips)

	require.NoError(t, s.AddRideAlert(store.RideAlert{
		ID:        "r1",
		RiderName: "Asha",
		From:      "A",
		To:        "B",
		Fare:      300,
		Seats:     2,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, s.MarkAlertRead("r1"))

	require.NoError(t, s.AppendTrip(store.Trip{RequestID: "r1", Fare: 300}))
	require.NoError(t, s.AppendTrip(store.Trip{RequestID: "r2", Fare: 150}))

	metrics, err = s.DriverMetrics()
	require.NoError(t, err)
	require.Equal(t, 2, metrics.CompletedTrips)
	require.EqualValues(t, 450, metrics.TotalEarnings)
	require.Len(t, metrics.AllTrips, 2)
	require.Equal(t, "r2", metrics.AllTrips[0].RequestID)
	require.Len(t, metrics.RideAlerts, 1)
	require.True(t, metrics.RideAlerts[0].Read)
}

func TestRequestRecords(t *testing.T) {
	s := store.New(store.NewMem(), zaptest.NewLogger(t))

	now := time.Now()
	require.NoError(t, s.AddRiderRequest(store.RequestRecord{
		RequestID: "r1",
		Status:    store.StatusPending,
		CreatedAt: now,
	}))
	require.NoError(t, s.SetRequestStatus("r1", store.StatusAccepted, now.Add(time.Minute)))

	records, err := s.RiderRequests()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, store.StatusAccepted, records[0].Status)
}

func TestProfileDefaults(t *testing.T) {
	s := store.New(store.NewMem(), zaptest.NewLogger(t))

	contact, err := s.Profile(false)
	require.NoError(t, err)
	require.Equal(t, types.DefaultPhone, contact.Phone)

	require.NoError(t, s.SetProfile(true, types.Contact{Name: "Bilal", PeerID: "12D3KooWDrv"}))
	contact, err = s.Profile(true)
	require.NoError(t, err)
	require.Equal(t, "Bilal", contact.Name)
	require.Equal(t, types.DefaultPhone, contact.Phone)
}

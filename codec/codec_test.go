package codec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ridemesh/go-ridemesh/codec"
	"github.com/ridemesh/go-ridemesh/types"
)

func TestPeekType(t *testing.T) {
	typ, err := codec.PeekType([]byte(`{"type":"ride-request","id":"r1"}`))
	require.NoError(t, err)
	require.Equal(t, types.TypeRideRequest, typ)

	_, err = codec.PeekType([]byte(`{"id":"r1"}`))
	require.ErrorIs(t, err, codec.ErrMalformed)

	_, err = codec.PeekType([]byte(`not json`))
	require.ErrorIs(t, err, codec.ErrMalformed)
}

func TestRoundTripWithDefaults(t *testing.T) {
	req := &types.RideRequest{
		Type:          types.TypeRideRequest,
		ID:            "r1",
		Name:          "Asha",
		From:          "A",
		To:            "B",
		Fare:          300,
		SelectedSeats: 2,
		Timestamp:     1700000000000,
	}
	raw := codec.MustEncode(req)

	var decoded types.RideRequest
	require.NoError(t, codec.Decode(raw, &decoded))
	require.Equal(t, "r1", decoded.ID)
	require.Equal(t, "A", decoded.From)
	require.Equal(t, "B", decoded.To)
	require.EqualValues(t, 300, decoded.Fare)
	require.Equal(t, 2, decoded.SelectedSeats)
	// documented defaults for omitted optional fields
	require.Equal(t, types.DefaultPhone, decoded.Phone)
	require.Equal(t, types.DefaultVehicle, decoded.Vehicle)
}

func TestDecodeDefaultsSeats(t *testing.T) {
	raw := []byte(`{"type":"ride-request","id":"r2","from":"A","to":"B","timestamp":1}`)
	var decoded types.RideRequest
	require.NoError(t, codec.Decode(raw, &decoded))
	require.Equal(t, types.DefaultSeats, decoded.SelectedSeats)
	require.Equal(t, types.DefaultPhone, decoded.Phone)
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"ride-confirmation","requestId":"r1","driverId":"d1","fare":250,` +
		`"timestamp":1,"futureField":{"nested":true}}`)
	var decoded types.RideConfirmation
	require.NoError(t, codec.Decode(raw, &decoded))
	require.Equal(t, "d1", decoded.DriverID)
}

func TestDecodeRejectsMissingRequired(t *testing.T) {
	raw := []byte(`{"type":"ride-confirmation","driverId":"d1","timestamp":1}`)
	var decoded types.RideConfirmation
	require.ErrorIs(t, codec.Decode(raw, &decoded), codec.ErrMalformed)
}

func TestDecodeRejectsTypeMismatch(t *testing.T) {
	raw := []byte(`{"type":"ride-request","id":"r1","from":"A","to":"B","timestamp":1}`)
	var decoded types.RideConfirmation
	require.ErrorIs(t, codec.Decode(raw, &decoded), codec.ErrMalformed)
}

func TestRideShareResponseRoundTrip(t *testing.T) {
	resp := &types.RideShareResponse{
		Type:      types.TypeRideShareResponse,
		RequestID: "j1",
		Accepted:  true,
		DriverInfo: &types.Contact{
			Name:   "Bilal",
			PeerID: "12D3KooWDriver",
		},
		Timestamp: 1700000000000,
	}
	raw := codec.MustEncode(resp)

	var decoded types.RideShareResponse
	require.NoError(t, codec.Decode(raw, &decoded))
	require.True(t, decoded.Accepted)
	require.NotNil(t, decoded.DriverInfo)
	require.Equal(t, "Bilal", decoded.DriverInfo.Name)
	require.Equal(t, types.DefaultPhone, decoded.DriverInfo.Phone)
}

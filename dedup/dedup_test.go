package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeenOncePerPayload(t *testing.T) {
	f := New(DefaultConfig())

	payload := []byte(`{"type":"ride-request","id":"r1"}`)
	require.False(t, f.Seen(payload))
	require.True(t, f.Seen(payload))
	require.True(t, f.Seen(payload))

	// topic is irrelevant, only the bytes matter
	other := []byte(`{"type":"ride-share-request","requestId":"j1"}`)
	require.False(t, f.Seen(other))
	require.True(t, f.Seen(other))
}

func TestCapacityBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 16
	f := New(cfg)

	for i := 0; i < 100; i++ {
		f.Seen([]byte(fmt.Sprintf("payload-%d", i)))
	}
	require.LessOrEqual(t, f.Len(), 16)
}

func TestWindowExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 10 * time.Millisecond
	f := New(cfg)

	payload := []byte("expiring payload")
	require.False(t, f.Seen(payload))
	require.True(t, f.Seen(payload))

	require.Eventually(t, func() bool {
		return !f.Seen(payload)
	}, time.Second, 20*time.Millisecond)
}

// Package dedup suppresses reprocessing of duplicate broadcast deliveries.
//
// The gossip layer redelivers messages at least once, and several topics are
// funneled through a single node, so every inbound payload is checked here
// before routing. Entries are keyed by a blake3 digest of the raw payload and
// retained for a bounded window sized to the overlay's redelivery horizon.
package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ridemesh/go-ridemesh/hash"
)

// DefaultConfig for the filter. The window matches the gossipsub seen-cache
// TTL, the capacity bounds worst-case memory on a busy mesh.
func DefaultConfig() Config {
	return Config{
		Window:   5 * time.Minute,
		Capacity: 8192,
	}
}

// Config for the filter.
type Config struct {
	Window   time.Duration `mapstructure:"dedup-window"`
	Capacity int           `mapstructure:"dedup-capacity"`
}

// Filter records payloads it has observed and reports duplicates. A single
// instance guards all topics a node subscribes to; two semantically distinct
// messages with identical bytes collapse into one, which is acceptable since
// payloads carry creation timestamps.
type Filter struct {
	mu   sync.Mutex
	seen *lru.LRU[[hash.Size]byte, struct{}]
}

// New creates a Filter with the given retention window and capacity.
func New(cfg Config) *Filter {
	return &Filter{
		seen: lru.NewLRU[[hash.Size]byte, struct{}](cfg.Capacity, nil, cfg.Window),
	}
}

// Seen records payload on first observation and reports whether it was
// already present. Safe for concurrent use.
func (f *Filter) Seen(payload []byte) bool {
	key := hash.Sum(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exist := f.seen.Get(key); exist {
		return true
	}
	f.seen.Add(key, struct{}{})
	return false
}

// Len returns the number of payloads currently retained.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen.Len()
}

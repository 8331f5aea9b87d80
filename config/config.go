// Package config defines the top-level node configuration. Defaults are
// overridable per-field via flags or a config file; mapstructure tags double
// as the flag and file key names.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ridemesh/go-ridemesh/archive"
	"github.com/ridemesh/go-ridemesh/dedup"
	"github.com/ridemesh/go-ridemesh/p2p"
)

// Node roles.
const (
	RoleRider  = "rider"
	RoleDriver = "driver"
)

// Topic names and direct protocol ids of the overlay. Changing any of these
// forks the network.
const (
	TopicRideRequests  = "ride-requests-final-v1"
	TopicSharePosts    = "share-ride-posts-v2"
	TopicShareRequests = "ride-share-requests-v2"
	ProtoAcceptRide    = "/accept-ride/1.0.0"
	ProtoRideShare     = "/ride-share/1.0.0"
)

// Config is the top-level node configuration.
type Config struct {
	DataDir       string `mapstructure:"data-dir"`
	Role          string `mapstructure:"role"`
	LogLevel      string `mapstructure:"log-level"`
	MetricsListen string `mapstructure:"metrics-listen"`

	Name         string `mapstructure:"name"`
	Phone        string `mapstructure:"phone"`
	ProfileImage string `mapstructure:"profile-image"`
	Vehicle      string `mapstructure:"vehicle"`
	VehicleSeats int    `mapstructure:"vehicle-seats"`

	P2P     p2p.Config     `mapstructure:"p2p"`
	Dedup   dedup.Config   `mapstructure:"dedup"`
	Archive archive.Config `mapstructure:"archive"`
}

// DefaultDataDir returns the data directory used when none is configured,
// resolved against the user's home directory. Nothing downstream expands a
// literal tilde, so the path must be absolute here.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ridemesh"
	}
	return filepath.Join(home, ".ridemesh")
}

// DefaultConfig returns the config used when no file or flags override it.
func DefaultConfig() Config {
	return Config{
		DataDir:      DefaultDataDir(),
		Role:         RoleRider,
		LogLevel:     "info",
		Vehicle:      "Car",
		VehicleSeats: 4,
		P2P:          p2p.DefaultConfig(),
		Dedup:        dedup.DefaultConfig(),
		Archive:      archive.DefaultConfig(),
	}
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.Role != RoleRider && c.Role != RoleDriver {
		return fmt.Errorf("unknown role %q, want %q or %q", c.Role, RoleRider, RoleDriver)
	}
	if c.VehicleSeats < 1 {
		return fmt.Errorf("vehicle-seats must be at least 1, got %d", c.VehicleSeats)
	}
	return nil
}

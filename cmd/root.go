// Package cmd wires command line flags and the optional config file into the
// node configuration.
package cmd

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/ridemesh/go-ridemesh/config"
)

var config = cfg.DefaultConfig()

var configFile string

// AddCommands adds all node flags to cmd.
func AddCommands(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configFile,
		"config", "c", "", "load configuration from file")
	cmd.PersistentFlags().StringVarP(&config.DataDir, "data-dir", "d",
		config.DataDir, "directory for the identity key and local records")
	cmd.PersistentFlags().StringVar(&config.Role, "role",
		config.Role, "node role: rider or driver")
	cmd.PersistentFlags().StringVar(&config.LogLevel, "log-level",
		config.LogLevel, "minimum log level")
	cmd.PersistentFlags().StringVar(&config.MetricsListen, "metrics-listen",
		config.MetricsListen, "address for the prometheus endpoint; empty disables it")

	/** ======================== Profile Flags ========================== **/

	cmd.PersistentFlags().StringVar(&config.Name, "name",
		config.Name, "display name attached to outbound messages")
	cmd.PersistentFlags().StringVar(&config.Phone, "phone",
		config.Phone, "contact phone attached to outbound messages")
	cmd.PersistentFlags().StringVar(&config.ProfileImage, "profile-image",
		config.ProfileImage, "profile image url attached to outbound messages")
	cmd.PersistentFlags().StringVar(&config.Vehicle, "vehicle",
		config.Vehicle, "advertised vehicle class")
	cmd.PersistentFlags().IntVar(&config.VehicleSeats, "vehicle-seats",
		config.VehicleSeats, "advertised vehicle capacity")

	/** ======================== P2P Flags ========================== **/

	cmd.PersistentFlags().StringVar(&config.P2P.Listen, "listen",
		config.P2P.Listen, "address for listening")
	cmd.PersistentFlags().StringVar(&config.P2P.Relay, "relay",
		config.P2P.Relay, "multiaddr of the bootstrap relay, including its peer id")
	cmd.PersistentFlags().IntVar(&config.P2P.RelayAttempts, "relay-attempts",
		config.P2P.RelayAttempts, "how often to dial the relay before giving up")
	cmd.PersistentFlags().DurationVar(&config.P2P.RelayRetryDelay, "relay-retry-delay",
		config.P2P.RelayRetryDelay, "fixed delay between relay dial attempts")
	cmd.PersistentFlags().DurationVar(&config.P2P.DiscoveryInterval, "discovery-interval",
		config.P2P.DiscoveryInterval, "cadence of the peer discovery loop")
	cmd.PersistentFlags().IntVar(&config.P2P.LowPeers, "low-peers",
		config.P2P.LowPeers, "low watermark for the number of connections")
	cmd.PersistentFlags().IntVar(&config.P2P.HighPeers, "high-peers",
		config.P2P.HighPeers, "high watermark for the number of connections")
	cmd.PersistentFlags().BoolVar(&config.P2P.PubSub.Flood, "flood",
		config.P2P.PubSub.Flood, "flood published messages to all peers")

	/** ======================== Dedup / Archive Flags ========================== **/

	cmd.PersistentFlags().DurationVar(&config.Dedup.Window, "dedup-window",
		config.Dedup.Window, "retention window of the duplicate message filter")
	cmd.PersistentFlags().IntVar(&config.Dedup.Capacity, "dedup-capacity",
		config.Dedup.Capacity, "maximum number of payload digests retained by the filter")
	cmd.PersistentFlags().StringVar(&config.Archive.URI, "ipfs-api",
		config.Archive.URI, "base url of the IPFS HTTP API used for receipt archival")
	cmd.PersistentFlags().DurationVar(&config.Archive.Timeout, "ipfs-timeout",
		config.Archive.Timeout, "per-request timeout for the archival api")
	cmd.PersistentFlags().IntVar(&config.Archive.Retries, "ipfs-retries",
		config.Archive.Retries, "retry count for archival api requests")
}

// GetConfig merges the config file, if one was given, over the flag values
// and returns the result.
func GetConfig() (cfg.Config, error) {
	if configFile == "" {
		return config, nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return config, fmt.Errorf("read config file %s: %w", configFile, err)
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := viper.Unmarshal(&config, hook); err != nil {
		return config, fmt.Errorf("unmarshal config file %s: %w", configFile, err)
	}
	return config, nil
}

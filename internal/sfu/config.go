package sfu

import "time"

// Config holds every tunable the dispatcher and registry need at startup.
// Values are resolved by cmd/throttletalk-server from CLI flags with
// environment-variable fallback.
type Config struct {
	Host string
	Port uint16

	MaxChannels               int
	MaxParticipantsPerChannel int

	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the documented defaults for every option.
func DefaultConfig() Config {
	return Config{
		Host:                      "0.0.0.0",
		Port:                      9000,
		MaxChannels:               100,
		MaxParticipantsPerChannel: 40,
		HeartbeatTimeout:          10 * time.Second,
		HeartbeatInterval:         3 * time.Second,
	}
}

// Command throttletalk-server runs the ThrottleTalk selective forwarding
// unit: a stateless UDP relay for real-time voice channels.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/surfhero25/throttletalk-server/internal/metrics"
	"github.com/surfhero25/throttletalk-server/internal/sfu"
)

func main() {
	cfg, metricsAddr := parseFlags()

	collectors := metrics.NewCollectors()
	dispatcher, err := sfu.NewDispatcher(cfg, collectors)
	if err != nil {
		slog.Error("bind UDP socket", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if metricsAddr != "" {
		healthSrv := metrics.NewServer(dispatcher, collectors.Registry())
		go func() {
			if err := healthSrv.Run(ctx, metricsAddr); err != nil {
				slog.Error("metrics server", "err", err)
			}
		}()
		slog.Info("metrics listening", "addr", metricsAddr)
	}

	stopThroughputLog := make(chan struct{})
	go collectors.LogThroughput(10*time.Second, stopThroughputLog)
	defer close(stopThroughputLog)

	slog.Info("listening", "addr", dispatcher.LocalAddr())
	if err := dispatcher.Run(ctx); err != nil {
		slog.Error("dispatcher exited", "err", err)
		os.Exit(1)
	}
}

func parseFlags() (sfu.Config, string) {
	defaults := sfu.DefaultConfig()

	host := pflag.String("host", envOr("THROTTLETALK_HOST", defaults.Host), "UDP listen host")
	port := pflag.Uint16("port", envOrUint16("THROTTLETALK_PORT", defaults.Port), "UDP listen port")
	maxChannels := pflag.Int("max-channels", envOrInt("THROTTLETALK_MAX_CHANNELS", defaults.MaxChannels), "soft cap on concurrent channels")
	maxParticipants := pflag.Int("max-participants", envOrInt("THROTTLETALK_MAX_PARTICIPANTS", defaults.MaxParticipantsPerChannel), "hard cap on participants per channel")
	heartbeatTimeout := pflag.Int("heartbeat-timeout", int(envOrSeconds("THROTTLETALK_HEARTBEAT_TIMEOUT", defaults.HeartbeatTimeout)/time.Second), "seconds since last heartbeat before a participant is evicted")
	heartbeatInterval := pflag.Int("heartbeat-interval", int(envOrSeconds("THROTTLETALK_HEARTBEAT_INTERVAL", defaults.HeartbeatInterval)/time.Second), "seconds between stale-participant sweeps")
	metricsAddr := pflag.String("metrics-addr", envOr("THROTTLETALK_METRICS_ADDR", ":9090"), "address for the /health and /metrics HTTP surface (empty to disable)")
	pflag.Parse()

	return sfu.Config{
		Host:                      *host,
		Port:                      *port,
		MaxChannels:               *maxChannels,
		MaxParticipantsPerChannel: *maxParticipants,
		HeartbeatTimeout:          time.Duration(*heartbeatTimeout) * time.Second,
		HeartbeatInterval:         time.Duration(*heartbeatInterval) * time.Second,
	}, *metricsAddr
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrUint16(key string, fallback uint16) uint16 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(n)
		}
	}
	return fallback
}

// envOrSeconds reads key as a plain integer count of seconds, matching the
// CLI surface's "--heartbeat-timeout (seconds, default 10)" convention.
func envOrSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

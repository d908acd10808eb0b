package metrics

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds every counter and gauge the dispatcher updates. It
// satisfies sfu.Metrics without internal/sfu needing to import
// github.com/prometheus/client_golang directly.
type Collectors struct {
	registry *prometheus.Registry

	received       prometheus.Counter
	malformed      prometheus.Counter
	forwarded      prometheus.Counter
	dropped        *prometheus.CounterVec
	staleEvictions prometheus.Counter
	channelsActive prometheus.Gauge
	participants   prometheus.Gauge

	// forwardedCount mirrors the forwarded counter as a plain integer so
	// LogThroughput can compute a delta without scraping Prometheus's own
	// text exposition format.
	forwardedCount atomic.Uint64
}

// NewCollectors registers every metric against a private registry (rather
// than prometheus.DefaultRegisterer) so a process — or a test binary that
// constructs more than one Collectors — never hits a duplicate-registration
// panic. Registry exposes the registry for internal/metrics.Server to scrape.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "throttletalk_packets_received_total",
			Help: "Total datagrams received on the UDP socket.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "throttletalk_packets_malformed_total",
			Help: "Total datagrams rejected by the wire codec.",
		}),
		forwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "throttletalk_packets_forwarded_total",
			Help: "Total audio and heartbeat datagrams handed to the channel fan-out, whatever the number of recipients.",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "throttletalk_packets_dropped_total",
			Help: "Total datagrams dropped after successful decode, by reason.",
		}, []string{"reason"}),
		staleEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "throttletalk_stale_evictions_total",
			Help: "Total participants evicted by the heartbeat sweep.",
		}),
		channelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "throttletalk_channels_active",
			Help: "Number of channels currently tracked by the registry.",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "throttletalk_participants_active",
			Help: "Number of participants currently tracked across all channels.",
		}),
	}
}

// Registry returns the private prometheus.Registry backing these
// collectors, for internal/metrics.Server to serve at /metrics.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

func (c *Collectors) IncReceived()  { c.received.Inc() }
func (c *Collectors) IncMalformed() { c.malformed.Inc() }

func (c *Collectors) IncForwarded() {
	c.forwarded.Inc()
	c.forwardedCount.Add(1)
}

func (c *Collectors) IncDropped(reason string) { c.dropped.WithLabelValues(reason).Inc() }

func (c *Collectors) IncStaleEvictions(n int) {
	c.staleEvictions.Add(float64(n))
}

func (c *Collectors) SetChannels(n int)     { c.channelsActive.Set(float64(n)) }
func (c *Collectors) SetParticipants(n int) { c.participants.Set(float64(n)) }

// LogThroughput periodically logs a human-readable forwarded-packet rate.
// Runs until stop is closed.
func (c *Collectors) LogThroughput(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current := c.forwardedCount.Load()
			delta := current - last
			last = current
			if delta > 0 {
				perSecond := float64(delta) / interval.Seconds()
				log.Printf("[metrics] forwarded %s packets (%s/s)",
					humanize.Comma(int64(delta)), humanize.Commaf(perSecond))
			}
		}
	}
}

package sfu

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/surfhero25/throttletalk-server/internal/voice"
	"github.com/surfhero25/throttletalk-server/internal/wire"
)

// datagramRead is one completed ReadFromUDP result, handed from the
// reader goroutine to the event loop over a channel.
type datagramRead struct {
	n    int
	addr *net.UDPAddr
	err  error
}

// Metrics is the narrow set of counters the dispatcher updates as it
// processes datagrams. internal/metrics provides the Prometheus-backed
// implementation; tests can supply a no-op or counting stub.
type Metrics interface {
	IncReceived()
	IncMalformed()
	IncForwarded()
	IncDropped(reason string)
	IncStaleEvictions(n int)
	SetChannels(n int)
	SetParticipants(n int)
}

// Dispatcher owns the UDP socket and runs the single-task event loop:
// decode, route, and fan out one datagram at a time, interleaved with a
// periodic stale-participant sweep. Every mutation of the registry happens
// synchronously in this loop's goroutine, so internal/voice needs no locks.
type Dispatcher struct {
	conn     *net.UDPConn
	registry *voice.Registry
	metrics  Metrics
	cfg      Config

	readBuf []byte
}

// NewDispatcher binds a UDP socket on cfg.Host:cfg.Port and wraps it around
// a freshly created registry.
func NewDispatcher(cfg Config, metrics Metrics) (*Dispatcher, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: int(cfg.Port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		conn:     conn,
		registry: voice.NewRegistry(cfg.MaxChannels, cfg.MaxParticipantsPerChannel, cfg.HeartbeatTimeout),
		metrics:  metrics,
		cfg:      cfg,
		readBuf:  make([]byte, wire.HeaderSize+wire.MaxPayloadSize+4),
	}, nil
}

// LocalAddr returns the socket's bound address, useful when Port is 0.
func (d *Dispatcher) LocalAddr() net.Addr { return d.conn.LocalAddr() }

// ChannelCount and ParticipantCount expose the registry's occupancy so the
// dispatcher itself can serve as a metrics.HealthSource.
func (d *Dispatcher) ChannelCount() int     { return d.registry.ChannelCount() }
func (d *Dispatcher) ParticipantCount() int { return d.registry.ParticipantCount() }

// WriteTo implements voice.Writer over the dispatcher's own socket.
func (d *Dispatcher) WriteTo(addr *net.UDPAddr, data []byte) error {
	_, err := d.conn.WriteToUDP(data, addr)
	return err
}

// Run processes datagrams until ctx is cancelled. The sweep ticker's first
// tick fires after cfg.HeartbeatInterval, not immediately. On return, the
// socket has already been closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	sweep := time.NewTicker(d.cfg.HeartbeatInterval)
	defer sweep.Stop()

	reads := make(chan datagramRead, 1)
	go d.readOnce(reads)

	for {
		select {
		case <-ctx.Done():
			d.conn.Close()
			return nil

		case <-sweep.C:
			evicted := d.registry.CleanupStaleParticipants(time.Now())
			if evicted > 0 {
				d.metrics.IncStaleEvictions(evicted)
			}
			d.metrics.SetChannels(d.registry.ChannelCount())
			d.metrics.SetParticipants(d.registry.ParticipantCount())

		case res := <-reads:
			if res.err != nil {
				// Any read error ends the loop: the socket is closed and Run
				// returns nil. Shutdown itself goes through the ctx.Done()
				// branch above, which returns before its read error is seen.
				d.conn.Close()
				return nil
			}
			d.handleDatagram(res.addr, d.readBuf[:res.n])
			go d.readOnce(reads)
		}
	}
}

// readOnce performs exactly one blocking read and reports it on results.
// Running each read in its own goroutine keeps the main select
// non-blocking on socket I/O while still processing one datagram at a
// time in the loop above — no datagram handling ever overlaps another,
// since the next readOnce is only launched after the previous datagram
// has been fully handled.
func (d *Dispatcher) readOnce(results chan<- datagramRead) {
	n, addr, err := d.conn.ReadFromUDP(d.readBuf)
	results <- datagramRead{n: n, addr: addr, err: err}
}

func (d *Dispatcher) handleDatagram(addr *net.UDPAddr, buf []byte) {
	d.metrics.IncReceived()

	pkt, ok := wire.Decode(buf)
	if !ok {
		d.metrics.IncMalformed()
		slog.Warn("dropped malformed datagram", "remote", addr)
		return
	}

	switch pkt.Type {
	case wire.TypeAudio:
		d.handleAudio(pkt, addr)
	case wire.TypeHeartbeat:
		d.handleHeartbeat(pkt, addr)
	case wire.TypeControl:
		d.handleControl(pkt, addr)
	}
}

func (d *Dispatcher) handleAudio(pkt wire.Packet, addr *net.UDPAddr) {
	if !pkt.HasFlag(wire.FlagVox) {
		d.metrics.IncDropped("vox_inactive")
		return
	}

	now := time.Now()
	d.registry.HandleJoin(pkt.ChannelID, pkt.ParticipantID, addr, now)

	ch, _ := d.registry.Channel(pkt.ChannelID)
	if ch == nil || !ch.CheckRateLimit(pkt.ParticipantID, now) {
		d.metrics.IncDropped("rate_limited")
		slog.Debug("dropped rate-limited audio", "channel_id", pkt.ChannelID, "participant_id", pkt.ParticipantID)
		return
	}

	d.registry.Forward(pkt, pkt.ParticipantID, d)
	d.metrics.IncForwarded()
}

func (d *Dispatcher) handleHeartbeat(pkt wire.Packet, addr *net.UDPAddr) {
	now := time.Now()
	d.registry.HandleJoin(pkt.ChannelID, pkt.ParticipantID, addr, now)

	ch, _ := d.registry.Channel(pkt.ChannelID)
	if ch == nil {
		return
	}
	flags := pkt.Flags
	ch.UpdateParticipant(pkt.ParticipantID, addr, &flags, now)

	d.registry.Forward(pkt, pkt.ParticipantID, d)
	d.metrics.IncForwarded()
}

func (d *Dispatcher) handleControl(pkt wire.Packet, addr *net.UDPAddr) {
	if len(pkt.Payload) < 1 {
		d.metrics.IncDropped("control_empty_payload")
		return
	}
	cmd := pkt.Payload[0]

	if cmd == wire.CmdLeave {
		d.registry.HandleLeave(pkt.ChannelID, pkt.ParticipantID)
		return
	}

	ch, ok := d.registry.Channel(pkt.ChannelID)
	if !ok || !ch.IsAdmin(pkt.ParticipantID) {
		d.metrics.IncDropped("control_not_admin")
		slog.Warn("control command without admin privilege", "channel_id", pkt.ChannelID, "participant_id", pkt.ParticipantID, "cmd", cmd)
		return
	}

	if len(pkt.Payload) < 17 {
		d.metrics.IncDropped("control_short_payload")
		return
	}
	var targetID uuid.UUID
	copy(targetID[:], pkt.Payload[1:17])

	switch cmd {
	case wire.CmdMute:
		d.sendTargetedResponse(ch, pkt, wire.RespMuteNotice, targetID)
	case wire.CmdUnmute:
		d.sendTargetedResponse(ch, pkt, wire.RespUnmuteNotice, targetID)
	case wire.CmdKick:
		d.sendTargetedResponse(ch, pkt, wire.RespKickNotice, targetID)
		d.registry.HandleLeave(pkt.ChannelID, targetID)
	default:
		d.metrics.IncDropped("control_unknown_command")
		slog.Debug("unknown control command", "cmd", cmd)
	}
}

func (d *Dispatcher) sendTargetedResponse(ch *voice.VoiceChannel, pkt wire.Packet, respByte byte, targetID uuid.UUID) {
	target, ok := ch.Participant(targetID)
	if !ok {
		return
	}

	payload := make([]byte, 1, 17)
	payload[0] = respByte
	payload = append(payload, targetID[:]...)

	response := wire.Packet{
		Type:          wire.TypeControl,
		ChannelID:     pkt.ChannelID,
		ParticipantID: pkt.ParticipantID,
		Flags:         wire.FlagAdmin,
		Payload:       payload,
	}
	d.registry.SendTo(response, target.RemoteAddr, d)
}

package voice

import (
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/surfhero25/throttletalk-server/internal/wire"
)

// Writer delivers one already-encoded datagram to a single remote address.
// Implemented by the UDP dispatcher; kept as a narrow interface here so the
// registry can be exercised in tests without a real socket.
type Writer interface {
	WriteTo(addr *net.UDPAddr, data []byte) error
}

// Registry is the sole owner of every VoiceChannel the process serves. Like
// the rest of this package it carries no lock — it is only ever touched
// from the dispatcher's single goroutine.
type Registry struct {
	channels map[uuid.UUID]*VoiceChannel

	maxChannels          int
	maxParticipantsPerCh int
	heartbeatTimeout     time.Duration
}

// NewRegistry constructs an empty registry bound to the given limits.
// maxChannels is a soft cap: exceeding it only logs. maxParticipantsPerCh
// is a hard cap enforced by HandleJoin.
func NewRegistry(maxChannels, maxParticipantsPerCh int, heartbeatTimeout time.Duration) *Registry {
	return &Registry{
		channels:             make(map[uuid.UUID]*VoiceChannel),
		maxChannels:          maxChannels,
		maxParticipantsPerCh: maxParticipantsPerCh,
		heartbeatTimeout:     heartbeatTimeout,
	}
}

// ChannelCount returns the number of channels currently tracked.
func (r *Registry) ChannelCount() int { return len(r.channels) }

// ParticipantCount returns the total number of participants across every
// tracked channel.
func (r *Registry) ParticipantCount() int {
	n := 0
	for _, ch := range r.channels {
		n += ch.ParticipantCount()
	}
	return n
}

// Channel returns the channel with id, if it exists, without creating one.
func (r *Registry) Channel(id uuid.UUID) (*VoiceChannel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

// GetOrCreateChannel returns the existing channel for id, or creates one.
// Creation beyond maxChannels is logged but never refused — silently
// dropping a newly-arriving channel would break callers with no
// diagnostic.
func (r *Registry) GetOrCreateChannel(id uuid.UUID, now time.Time) *VoiceChannel {
	if ch, ok := r.channels[id]; ok {
		return ch
	}
	if len(r.channels) >= r.maxChannels {
		slog.Warn("channel soft cap exceeded, creating anyway",
			"channel_id", id, "channel_count", len(r.channels), "max_channels", r.maxChannels)
	}
	ch := newVoiceChannel(id, now)
	r.channels[id] = ch
	return ch
}

// HandleJoin resolves or creates channelID, then either rebinds an existing
// participant's address (NAT rebinding) or inserts a fresh one. Reports
// whether the participant is now present in the channel — false means the
// join was refused because the channel is at its hard participant cap.
func (r *Registry) HandleJoin(channelID, participantID uuid.UUID, addr *net.UDPAddr, now time.Time) bool {
	ch := r.GetOrCreateChannel(channelID, now)

	if p, ok := ch.Participant(participantID); ok {
		p.RemoteAddr = addr
		p.LastHeartbeat = now
		return true
	}

	if ch.ParticipantCount() >= r.maxParticipantsPerCh {
		slog.Warn("participant join refused: channel full",
			"channel_id", channelID, "participant_id", participantID,
			"participant_count", ch.ParticipantCount(), "max_participants", r.maxParticipantsPerCh)
		return false
	}

	ch.AddParticipant(NewParticipant(participantID, addr, now))
	return true
}

// HandleLeave removes participantID from channelID and, if the channel is
// now empty, removes the channel too — no empty channel stays observable
// past the turn that emptied it.
func (r *Registry) HandleLeave(channelID, participantID uuid.UUID) {
	ch, ok := r.channels[channelID]
	if !ok {
		return
	}
	ch.RemoveParticipant(participantID)
	if ch.ParticipantCount() == 0 {
		delete(r.channels, channelID)
	}
}

// Forward encodes pkt once and hands the encoded buffer, paired with each
// recipient's address, to writer — every participant in pkt's channel
// except senderID. Drops silently (with a warning) if the channel does not
// exist. Socket write errors are logged and only skip that one recipient.
func (r *Registry) Forward(pkt wire.Packet, senderID uuid.UUID, writer Writer) {
	ch, ok := r.channels[pkt.ChannelID]
	if !ok {
		slog.Warn("forward to unknown channel dropped", "channel_id", pkt.ChannelID)
		return
	}

	buf := wire.Encode(pkt, nil)
	for _, recipient := range ch.AllParticipants(senderID) {
		if err := writer.WriteTo(recipient.RemoteAddr, buf); err != nil {
			slog.Error("datagram write failed", "remote", recipient.RemoteAddr, "err", err)
		}
	}
}

// SendTo encodes pkt once and writes it only to target — used for targeted
// control responses (mute/unmute/kick notices) that never fan out.
func (r *Registry) SendTo(pkt wire.Packet, target *net.UDPAddr, writer Writer) {
	buf := wire.Encode(pkt, nil)
	if err := writer.WriteTo(target, buf); err != nil {
		slog.Error("datagram write failed", "remote", target, "err", err)
	}
}

// CleanupStaleParticipants walks every channel, evicting participants whose
// last heartbeat is older than the configured heartbeat timeout, then
// removes any channel left empty by that eviction. Removal happens in a
// second pass so the outer map is never mutated mid-iteration. Returns the
// total number of participants evicted.
func (r *Registry) CleanupStaleParticipants(now time.Time) int {
	var emptied []uuid.UUID
	evictedTotal := 0

	for id, ch := range r.channels {
		evicted := ch.RemoveStaleParticipants(now, r.heartbeatTimeout)
		evictedTotal += len(evicted)
		if ch.ParticipantCount() == 0 {
			emptied = append(emptied, id)
		}
	}

	for _, id := range emptied {
		delete(r.channels, id)
	}

	return evictedTotal
}

package voice

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// adminFlag is the bit in a participant's flags byte that claims admin
// status. It is only ever examined from a heartbeat packet, the only
// trusted admin-claim channel.
const adminFlag byte = 1 << 2

// VoiceChannel is a collection of participants sharing one channel ID. It
// owns participant membership, the sticky admin set, and stale-participant
// eviction.
type VoiceChannel struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	participants map[uuid.UUID]*Participant
	adminIDs     map[uuid.UUID]struct{}
}

// newVoiceChannel creates an empty channel. Unexported: channels are only
// ever constructed by the Registry, which owns their lifecycle.
func newVoiceChannel(id uuid.UUID, now time.Time) *VoiceChannel {
	return &VoiceChannel{
		ID:           id,
		CreatedAt:    now,
		participants: make(map[uuid.UUID]*Participant),
		adminIDs:     make(map[uuid.UUID]struct{}),
	}
}

// ParticipantCount returns the number of participants currently in the
// channel.
func (c *VoiceChannel) ParticipantCount() int {
	return len(c.participants)
}

// Participant returns the participant with id, if present.
func (c *VoiceChannel) Participant(id uuid.UUID) (*Participant, bool) {
	p, ok := c.participants[id]
	return p, ok
}

// AddParticipant inserts or replaces p, keyed by p.ID.
func (c *VoiceChannel) AddParticipant(p *Participant) {
	c.participants[p.ID] = p
}

// RemoveParticipant deletes id from the channel. Idempotent: removing an id
// that is not present is a no-op.
func (c *VoiceChannel) RemoveParticipant(id uuid.UUID) {
	delete(c.participants, id)
	delete(c.adminIDs, id)
}

// UpdateParticipant refreshes an existing participant's address and
// heartbeat clock, and — if flags is non-nil — its flags byte. An admin
// claim (the admin bit set in flags) is sticky: once granted it is never
// revoked by a later heartbeat that omits the bit, which closes a
// downgrade-via-spoof race. Reports whether id was present.
func (c *VoiceChannel) UpdateParticipant(id uuid.UUID, addr *net.UDPAddr, flags *byte, now time.Time) bool {
	p, ok := c.participants[id]
	if !ok {
		return false
	}
	p.RemoteAddr = addr
	p.LastHeartbeat = now
	if flags != nil {
		p.Flags = *flags
		if *flags&adminFlag == adminFlag {
			c.adminIDs[id] = struct{}{}
		}
	}
	return true
}

// IsAdmin reports whether id holds sticky admin status in this channel.
func (c *VoiceChannel) IsAdmin(id uuid.UUID) bool {
	_, ok := c.adminIDs[id]
	return ok
}

// CheckRateLimit delegates to the named participant's rate limiter. A
// participant that is not in the channel is treated as rate-limited.
func (c *VoiceChannel) CheckRateLimit(id uuid.UUID, now time.Time) bool {
	p, ok := c.participants[id]
	if !ok {
		return false
	}
	return p.CheckRateLimit(now)
}

// AllParticipants returns every participant other than except. Ordering is
// unspecified but stable within a single call.
func (c *VoiceChannel) AllParticipants(except uuid.UUID) []*Participant {
	out := make([]*Participant, 0, len(c.participants))
	for id, p := range c.participants {
		if id == except {
			continue
		}
		out = append(out, p)
	}
	return out
}

// RemoveStaleParticipants evicts every participant failing IsAlive(timeout)
// as of now, in a single pass, and returns their ids.
func (c *VoiceChannel) RemoveStaleParticipants(now time.Time, timeout time.Duration) []uuid.UUID {
	var evicted []uuid.UUID
	for id, p := range c.participants {
		if !p.IsAlive(now, timeout) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(c.participants, id)
		delete(c.adminIDs, id)
	}
	return evicted
}

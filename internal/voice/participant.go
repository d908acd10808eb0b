// Package voice implements the in-memory channel/participant registry that
// backs the ThrottleTalk SFU. Every type here is mutated exclusively by the
// single event-loop goroutine in internal/sfu — there is deliberately no
// locking anywhere in this package.
package voice

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// rateLimitWindow and rateLimitBurst implement a fixed-window limiter:
// 60 packets per 1.0 second window.
const (
	rateLimitWindow = time.Second
	rateLimitBurst  = 60
)

// Participant is one peer's state within a VoiceChannel.
type Participant struct {
	ID            uuid.UUID
	RemoteAddr    *net.UDPAddr
	LastHeartbeat time.Time
	Flags         byte

	windowStart time.Time
	windowCount int
}

// NewParticipant creates a participant freshly joining at now, with its
// heartbeat clock started immediately.
func NewParticipant(id uuid.UUID, addr *net.UDPAddr, now time.Time) *Participant {
	return &Participant{
		ID:            id,
		RemoteAddr:    addr,
		LastHeartbeat: now,
	}
}

// IsAlive reports whether the participant has been heard from within
// timeout of now. now must come from a monotonic clock reading.
func (p *Participant) IsAlive(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastHeartbeat) < timeout
}

// UpdateHeartbeat records that the participant was heard from at now.
func (p *Participant) UpdateHeartbeat(now time.Time) {
	p.LastHeartbeat = now
}

// CheckRateLimit applies the fixed-window limiter: the first rateLimitBurst
// calls within any rateLimitWindow-wide window return true; further calls in
// the same window return false. A new window opens, and the call succeeds,
// as soon as now is at least rateLimitWindow past the window's start.
func (p *Participant) CheckRateLimit(now time.Time) bool {
	if now.Sub(p.windowStart) >= rateLimitWindow {
		p.windowStart = now
		p.windowCount = 1
		return true
	}
	p.windowCount++
	return p.windowCount <= rateLimitBurst
}

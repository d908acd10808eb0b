package voice

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParticipantIsAlive(t *testing.T) {
	now := time.Now()
	p := NewParticipant(uuid.New(), nil, now)

	if !p.IsAlive(now, 10*time.Second) {
		t.Fatalf("expected freshly created participant to be alive")
	}
	if !p.IsAlive(now.Add(9*time.Second), 10*time.Second) {
		t.Fatalf("expected participant to still be alive just under timeout")
	}
	if p.IsAlive(now.Add(10*time.Second), 10*time.Second) {
		t.Fatalf("expected participant to be dead once timeout has elapsed")
	}
}

func TestParticipantUpdateHeartbeat(t *testing.T) {
	now := time.Now()
	p := NewParticipant(uuid.New(), nil, now)

	later := now.Add(5 * time.Second)
	p.UpdateHeartbeat(later)
	if !p.IsAlive(later.Add(9*time.Second), 10*time.Second) {
		t.Fatalf("expected heartbeat update to reset the liveness clock")
	}
}

func TestParticipantRateLimitBurst(t *testing.T) {
	now := time.Now()
	p := NewParticipant(uuid.New(), nil, now)

	for i := 0; i < 60; i++ {
		if !p.CheckRateLimit(now) {
			t.Fatalf("call %d: expected allow within the first 60", i+1)
		}
	}
	for i := 0; i < 5; i++ {
		if p.CheckRateLimit(now) {
			t.Fatalf("call %d beyond burst: expected deny", i+61)
		}
	}
}

func TestParticipantRateLimitWindowReset(t *testing.T) {
	now := time.Now()
	p := NewParticipant(uuid.New(), nil, now)

	for i := 0; i < 65; i++ {
		p.CheckRateLimit(now)
	}

	justUnder := now.Add(999 * time.Millisecond)
	if p.CheckRateLimit(justUnder) {
		t.Fatalf("expected deny just under the 1s window boundary")
	}

	atBoundary := now.Add(time.Second)
	if !p.CheckRateLimit(atBoundary) {
		t.Fatalf("expected allow on the first call >= 1s after the window opened")
	}

	// New window; burst allowance is available again.
	for i := 0; i < 59; i++ {
		if !p.CheckRateLimit(atBoundary) {
			t.Fatalf("call %d in new window: expected allow", i+2)
		}
	}
	if p.CheckRateLimit(atBoundary) {
		t.Fatalf("expected deny once the new window's burst is exhausted")
	}
}

package sfu

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/surfhero25/throttletalk-server/internal/wire"
)

type countingMetrics struct {
	received, malformed, forwarded, staleEvictions int
	dropped                                        map[string]int
	channels, participants                         int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: make(map[string]int)}
}

func (m *countingMetrics) IncReceived()             { m.received++ }
func (m *countingMetrics) IncMalformed()            { m.malformed++ }
func (m *countingMetrics) IncForwarded()            { m.forwarded++ }
func (m *countingMetrics) IncDropped(reason string) { m.dropped[reason]++ }
func (m *countingMetrics) IncStaleEvictions(n int)  { m.staleEvictions += n }
func (m *countingMetrics) SetChannels(n int)        { m.channels = n }
func (m *countingMetrics) SetParticipants(n int)    { m.participants = n }

func testDispatcher(t *testing.T, cfg Config) (*Dispatcher, *countingMetrics) {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	metrics := newCountingMetrics()
	d, err := NewDispatcher(cfg, metrics)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d, metrics
}

// clientSocket opens a UDP socket bound for the test to send/receive from,
// used to stand in for a participant's real endpoint.
func clientSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen client socket: %v", err)
	}
	return conn
}

func sendPacket(t *testing.T, from *net.UDPConn, to net.Addr, pkt wire.Packet) {
	t.Helper()
	buf := wire.Encode(pkt, nil)
	if _, err := from.WriteTo(buf, to); err != nil {
		t.Fatalf("send packet: %v", err)
	}
}

func recvPacket(t *testing.T, conn *net.UDPConn, timeout time.Duration) (wire.Packet, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return wire.Packet{}, false
	}
	pkt, ok := wire.Decode(buf[:n])
	return pkt, ok
}

// recvPacketOfType drains datagrams until one of typ arrives or the
// deadline passes, skipping any join-heartbeat notices queued ahead of it.
func recvPacketOfType(t *testing.T, conn *net.UDPConn, typ wire.PacketType, timeout time.Duration) (wire.Packet, bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Packet{}, false
		}
		pkt, ok := recvPacket(t, conn, remaining)
		if !ok {
			return wire.Packet{}, false
		}
		if pkt.Type == typ {
			return pkt, true
		}
	}
}

func TestDispatcherForwardsAudioAmongThreeParticipants(t *testing.T) {
	cfg := DefaultConfig()
	d, _ := testDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	channelID := uuid.New()
	a, b, c := clientSocket(t), clientSocket(t), clientSocket(t)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	aID, bID, cID := uuid.New(), uuid.New(), uuid.New()

	// Join all three via a heartbeat first so the sender's own address is known.
	for _, p := range []struct {
		conn *net.UDPConn
		id   uuid.UUID
	}{{a, aID}, {b, bID}, {c, cID}} {
		sendPacket(t, p.conn, d.LocalAddr(), wire.Packet{
			Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: p.id,
		})
	}
	time.Sleep(50 * time.Millisecond)

	sendPacket(t, a, d.LocalAddr(), wire.Packet{
		Type: wire.TypeAudio, ChannelID: channelID, ParticipantID: aID,
		Flags: wire.FlagVox, Payload: []byte("hello"),
	})

	bPkt, ok := recvPacketOfType(t, b, wire.TypeAudio, time.Second)
	if !ok || string(bPkt.Payload) != "hello" {
		t.Fatalf("expected participant b to receive the audio packet, got ok=%v pkt=%+v", ok, bPkt)
	}
	cPkt, ok := recvPacketOfType(t, c, wire.TypeAudio, time.Second)
	if !ok || string(cPkt.Payload) != "hello" {
		t.Fatalf("expected participant c to receive the audio packet, got ok=%v pkt=%+v", ok, cPkt)
	}

	cancel()
	<-done
}

func TestDispatcherAudioWithoutVoxIsDropped(t *testing.T) {
	cfg := DefaultConfig()
	d, metrics := testDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	channelID := uuid.New()
	a, b := clientSocket(t), clientSocket(t)
	defer a.Close()
	defer b.Close()
	aID, bID := uuid.New(), uuid.New()

	sendPacket(t, a, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: aID})
	sendPacket(t, b, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: bID})
	time.Sleep(50 * time.Millisecond)

	sendPacket(t, a, d.LocalAddr(), wire.Packet{
		Type: wire.TypeAudio, ChannelID: channelID, ParticipantID: aID, Payload: []byte("silent"),
	})

	if _, ok := recvPacket(t, b, 200*time.Millisecond); ok {
		t.Fatalf("expected no datagram to be forwarded without the VOX flag")
	}

	cancel()
	<-done
	if metrics.dropped["vox_inactive"] == 0 {
		t.Fatalf("expected a vox_inactive drop to be recorded")
	}
}

func TestDispatcherNonAdminControlDropped(t *testing.T) {
	cfg := DefaultConfig()
	d, metrics := testDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	channelID := uuid.New()
	a, b := clientSocket(t), clientSocket(t)
	defer a.Close()
	defer b.Close()
	aID, bID := uuid.New(), uuid.New()

	sendPacket(t, a, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: aID})
	sendPacket(t, b, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: bID})
	time.Sleep(50 * time.Millisecond)

	payload := append([]byte{wire.CmdKick}, bID[:]...)
	sendPacket(t, a, d.LocalAddr(), wire.Packet{
		Type: wire.TypeControl, ChannelID: channelID, ParticipantID: aID, Payload: payload,
	})

	if _, ok := recvPacket(t, b, 200*time.Millisecond); ok {
		t.Fatalf("expected no kick notice without admin privilege")
	}

	cancel()
	<-done
	if metrics.dropped["control_not_admin"] == 0 {
		t.Fatalf("expected a control_not_admin drop to be recorded")
	}
}

func TestDispatcherAdminKickSendsTargetedNotice(t *testing.T) {
	cfg := DefaultConfig()
	d, _ := testDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	channelID := uuid.New()
	admin, victim, bystander := clientSocket(t), clientSocket(t), clientSocket(t)
	defer admin.Close()
	defer victim.Close()
	defer bystander.Close()
	adminID, victimID, bystanderID := uuid.New(), uuid.New(), uuid.New()

	sendPacket(t, admin, d.LocalAddr(), wire.Packet{
		Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: adminID, Flags: wire.FlagAdmin,
	})
	sendPacket(t, victim, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: victimID})
	sendPacket(t, bystander, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: bystanderID})
	time.Sleep(50 * time.Millisecond)

	// Drain the heartbeat fan-out each participant received from the others joining.
	recvPacket(t, admin, 100*time.Millisecond)
	recvPacket(t, victim, 100*time.Millisecond)
	recvPacket(t, bystander, 100*time.Millisecond)

	payload := append([]byte{wire.CmdKick}, victimID[:]...)
	sendPacket(t, admin, d.LocalAddr(), wire.Packet{
		Type: wire.TypeControl, ChannelID: channelID, ParticipantID: adminID, Payload: payload,
	})

	notice, ok := recvPacket(t, victim, time.Second)
	if !ok {
		t.Fatalf("expected the kicked participant to receive a targeted notice")
	}
	if notice.Type != wire.TypeControl || len(notice.Payload) < 1 || notice.Payload[0] != wire.RespKickNotice {
		t.Fatalf("expected a kick-notice control packet, got %+v", notice)
	}

	if _, ok := recvPacket(t, bystander, 200*time.Millisecond); ok {
		t.Fatalf("kick notice must be targeted only, never fanned out")
	}

	cancel()
	<-done
}

func TestDispatcherLeaveRequiresNoAuth(t *testing.T) {
	cfg := DefaultConfig()
	d, _ := testDispatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	channelID, participantID := uuid.New(), uuid.New()
	a := clientSocket(t)
	defer a.Close()

	sendPacket(t, a, d.LocalAddr(), wire.Packet{Type: wire.TypeHeartbeat, ChannelID: channelID, ParticipantID: participantID})
	time.Sleep(50 * time.Millisecond)
	if d.ParticipantCount() != 1 {
		t.Fatalf("expected 1 participant after heartbeat, got %d", d.ParticipantCount())
	}

	sendPacket(t, a, d.LocalAddr(), wire.Packet{
		Type: wire.TypeControl, ChannelID: channelID, ParticipantID: participantID, Payload: []byte{wire.CmdLeave},
	})
	time.Sleep(50 * time.Millisecond)

	if d.ChannelCount() != 0 {
		t.Fatalf("expected channel to be removed after the only participant leaves, got %d", d.ChannelCount())
	}

	cancel()
	<-done
}

// Package wire implements the ThrottleTalk datagram codec: a fixed-layout
// binary packet framed by a magic prefix, versioned, integrity-protected by
// a trailing CRC32, with strict minimum/maximum sizes and typed
// discriminants.
package wire

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Magic is the 4-byte "TTLK" prefix every packet begins with.
const Magic uint32 = 0x54544C4B

// Version is the only protocol version this codec accepts.
const Version uint8 = 0x01

// PacketType is the wire discriminant for a packet's payload semantics.
type PacketType uint8

// Wire packet types.
const (
	TypeAudio     PacketType = 0x01
	TypeControl   PacketType = 0x02
	TypeHeartbeat PacketType = 0x03
)

// Flags bitfield.
const (
	FlagVox   byte = 1 << 0 // VOX-active
	FlagMuted byte = 1 << 1 // self-muted
	FlagAdmin byte = 1 << 2 // admin-claim
)

// Control command bytes, carried in a control packet's payload.
const (
	CmdLeave  byte = 0x30
	CmdMute   byte = 0x01
	CmdUnmute byte = 0x02
	CmdKick   byte = 0x03
)

// Control response bytes.
const (
	RespMuteNotice   byte = 0x10
	RespUnmuteNotice byte = 0x11
	RespKickNotice   byte = 0x12
)

// HeaderSize is the fixed size, in bytes, of every field preceding the
// payload: magic(4) + version(1) + type(1) + seq(4) + ts(4) + channelID(16) +
// participantID(16) + flags(1) + reserved(1) + payloadLength(2) = 50.
const HeaderSize = 50

// MinPacketSize is HeaderSize plus an empty payload plus the trailing CRC32.
const MinPacketSize = HeaderSize + 4

// MaxPayloadSize is the largest payload this codec will accept or emit.
const MaxPayloadSize = 2048

// Packet is the decoded, in-memory form of one ThrottleTalk datagram.
type Packet struct {
	Type           PacketType
	SequenceNumber uint32
	Timestamp      uint32
	ChannelID      uuid.UUID
	ParticipantID  uuid.UUID
	Flags          byte
	Reserved       byte
	Payload        []byte
}

// HasFlag reports whether all bits of flag are set in p.Flags.
func (p *Packet) HasFlag(flag byte) bool {
	return p.Flags&flag == flag
}

// cursor is an internal, throwaway read head over a decode buffer. It is
// never exposed to callers, so a failed decode never leaves observable
// state behind.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) take(n int) ([]byte, bool) {
	if c.remaining() < n {
		return nil, false
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, true
}

func (c *cursor) u8() (byte, bool) {
	b, ok := c.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (c *cursor) u16() (uint16, bool) {
	b, ok := c.take(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

func (c *cursor) u32() (uint32, bool) {
	b, ok := c.take(4)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

func (c *cursor) uuid() (uuid.UUID, bool) {
	b, ok := c.take(16)
	if !ok {
		return uuid.UUID{}, false
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, true
}

// Decode parses buf as one ThrottleTalk datagram. It returns ok=false, with
// no partial Packet state meaningful to the caller, for every rejection
// cause below, checked in the order given here.
func Decode(buf []byte) (Packet, bool) {
	if len(buf) < MinPacketSize {
		return Packet{}, false
	}

	c := cursor{buf: buf}

	magic, _ := c.u32()
	if magic != Magic {
		return Packet{}, false
	}

	version, _ := c.u8()
	if version != Version {
		return Packet{}, false
	}

	rawType, _ := c.u8()
	if rawType != byte(TypeAudio) && rawType != byte(TypeControl) && rawType != byte(TypeHeartbeat) {
		return Packet{}, false
	}

	seq, _ := c.u32()
	ts, _ := c.u32()
	channelID, _ := c.uuid()
	participantID, _ := c.uuid()
	flags, _ := c.u8()
	reserved, _ := c.u8()
	payloadLen, _ := c.u16()

	if payloadLen > MaxPayloadSize {
		return Packet{}, false
	}
	if c.remaining() < int(payloadLen)+4 {
		return Packet{}, false
	}

	payload, _ := c.take(int(payloadLen))
	crcBytes, _ := c.take(4)
	trailingCRC := binary.BigEndian.Uint32(crcBytes)

	framed := buf[:HeaderSize+int(payloadLen)]
	if checksum(framed) != trailingCRC {
		return Packet{}, false
	}

	// payload aliases buf; copy it so the caller can reuse/recycle buf.
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Packet{
		Type:           PacketType(rawType),
		SequenceNumber: seq,
		Timestamp:      ts,
		ChannelID:      channelID,
		ParticipantID:  participantID,
		Flags:          flags,
		Reserved:       reserved,
		Payload:        payloadCopy,
	}, true
}

// Encode appends the wire layout of p to dst and returns the extended
// slice. payloadLength is taken from len(p.Payload); the caller must ensure
// len(p.Payload) <= MaxPayloadSize.
func Encode(p Packet, dst []byte) []byte {
	start := len(dst)

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	hdr[4] = Version
	hdr[5] = byte(p.Type)
	binary.BigEndian.PutUint32(hdr[6:10], p.SequenceNumber)
	binary.BigEndian.PutUint32(hdr[10:14], p.Timestamp)
	copy(hdr[14:30], p.ChannelID[:])
	copy(hdr[30:46], p.ParticipantID[:])
	hdr[46] = p.Flags
	hdr[47] = p.Reserved
	binary.BigEndian.PutUint16(hdr[48:50], uint16(len(p.Payload)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Payload...)

	crc := checksum(dst[start:])
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc)
	dst = append(dst, crcBytes[:]...)

	return dst
}

// Package protocol defines the wire format of the robot file-transfer
// protocol: a 9-byte header followed by 0..255 bytes of payload, and the
// modular sequence-number arithmetic the send/receive windows build on.
//
// - Application: this package defines the five packet shapes the client
//   speaks (SYN/DATA/ACK/FIN/RST). The application packs/unpacks them.
// - Transport: UDP (net.DialUDP/ListenUDP), wrapped by internal/transport.
// - Network: IP. A 264-byte datagram is the largest this protocol ever
//   needs, well under any realistic path MTU.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flag is the single control bit set on a packet, or Empty for data/ack.
type Flag byte

const (
	FlagEmpty Flag = 0x00
	FlagRST   Flag = 0x01
	FlagFIN   Flag = 0x02
	FlagSYN   Flag = 0x04
)

func (f Flag) String() string {
	switch f {
	case FlagEmpty:
		return "EMPTY"
	case FlagRST:
		return "RST"
	case FlagFIN:
		return "FIN"
	case FlagSYN:
		return "SYN"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(f))
	}
}

func hasValidFlag(f Flag) bool {
	switch f {
	case FlagEmpty, FlagRST, FlagFIN, FlagSYN:
		return true
	default:
		return false
	}
}

// HasValidFlag reports whether f is one of the four recognized flag values.
func HasValidFlag(f Flag) bool { return hasValidFlag(f) }

// Direction selects DOWNLOAD or UPLOAD in the SYN payload.
type Direction byte

const (
	DirDownload Direction = 0x01
	DirUpload   Direction = 0x02
)

// HeaderSize is the fixed 9-byte on-wire header size.
const HeaderSize = 9

// MaxPayload is the largest data payload a single packet carries.
const MaxPayload = 255

// MaxDatagram is the largest datagram this protocol ever produces.
const MaxDatagram = HeaderSize + MaxPayload

// ErrMalformedPacket is returned when a received datagram cannot be decoded:
// too short for a header, or carrying a flag byte that is not one of the
// four recognized singleton values.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Packet is the decoded, structured form of a single datagram.
type Packet struct {
	ConnID uint32
	Seq    uint16
	Ack    uint16
	Flag   Flag
	Data   []byte
}

// Encode serializes p into a 9..264 byte big-endian datagram.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.ConnID)
	binary.BigEndian.PutUint16(buf[4:6], p.Seq)
	binary.BigEndian.PutUint16(buf[6:8], p.Ack)
	buf[8] = byte(p.Flag)
	copy(buf[9:], p.Data)
	return buf
}

// Decode parses a received datagram into a Packet.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(b), HeaderSize)
	}
	flag := Flag(b[8])
	if !hasValidFlag(flag) {
		return Packet{}, fmt.Errorf("%w: %s", ErrMalformedPacket, flag)
	}
	data := make([]byte, len(b)-HeaderSize)
	copy(data, b[HeaderSize:])
	p := Packet{
		ConnID: binary.BigEndian.Uint32(b[0:4]),
		Seq:    binary.BigEndian.Uint16(b[4:6]),
		Ack:    binary.BigEndian.Uint16(b[6:8]),
		Flag:   flag,
		Data:   data,
	}
	if flag == FlagFIN && len(data) != 0 {
		return Packet{}, fmt.Errorf("%w: FIN carries %d bytes of data, want 0", ErrMalformedPacket, len(data))
	}
	return p, nil
}

// Initial builds the handshake SYN request for the given transfer direction.
func Initial(dir Direction) Packet {
	return Packet{ConnID: 0, Seq: 0, Ack: 0, Flag: FlagSYN, Data: []byte{byte(dir)}}
}

// Data builds a data segment carrying payload at wire seq, which the caller
// lowers from the payload's logical offset.
func Data(connID uint32, seq uint16, payload []byte) Packet {
	return Packet{ConnID: connID, Seq: seq, Ack: 0, Flag: FlagEmpty, Data: payload}
}

// Ack builds a cumulative-ack packet.
func Ack(connID uint32, ack uint16) Packet {
	return Packet{ConnID: connID, Seq: 0, Ack: ack, Flag: FlagEmpty, Data: nil}
}

// Fin builds the connection-close packet. In DOWNLOAD mode lastSeq is the
// server's last seq, echoed back in the Ack field; in UPLOAD mode lastSeq
// is the client's final byte offset, placed in the Seq field. See
// DESIGN.md for the Open Question this distinction is inferred from.
func Fin(connID uint32, lastSeq uint16, mode Direction) Packet {
	p := Packet{ConnID: connID, Flag: FlagFIN, Data: nil}
	if mode == DirDownload {
		p.Ack = lastSeq
	} else {
		p.Seq = lastSeq
	}
	return p
}

// Rst builds a connection-abort packet.
func Rst(connID uint32) Packet {
	return Packet{ConnID: connID, Seq: 0, Ack: 0, Flag: FlagRST, Data: nil}
}

// IsValidInitialResponse reports whether p is an acceptable handshake
// response: a nonzero connId, SYN flag, zero seq, and exactly one byte of
// data. The mode byte itself is never checked — see DESIGN.md's Open
// Question on permissive SYN payload validation.
func IsValidInitialResponse(p Packet) bool {
	return p.ConnID != 0 && p.Flag == FlagSYN && p.Seq == 0 && len(p.Data) == 1
}

// Package wire implements the SRT on-the-wire packet formats from
// spec.md §6: the data-packet header, the control-packet header, and
// the control-specific CIFs (handshake, ack, nak, dropreq). All
// integers are big-endian, per spec.
//
// Grounded on the teacher's BitStream reader/writer
// (source/protocol/raknet.go) for the general shape of a hand-rolled
// binary codec in this corpus, generalized from the teacher's
// little-endian 24-bit RakNet fields to SRT's big-endian, bit-packed
// fields (a 31-bit sequence number; the message number is carried in
// its low 26 bits) using encoding/binary directly (binary.BigEndian),
// since SRT's field widths don't align to whole bytes the way
// RakNet's do and a generic bit-level reader would be overkill for
// the handful of packed fields involved.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/halfwire/srt/pkg/seqno"
)

// Position marks a data packet's place within a fragmented message.
type Position uint8

const (
	PositionMiddle Position = iota
	PositionFirst
	PositionLast
	PositionSolo
)

// ControlType enumerates the control packet types of spec.md §3.
type ControlType uint16

const (
	CtrlHandshake ControlType = 0x0000
	CtrlKeepAlive  ControlType = 0x0001
	CtrlAck        ControlType = 0x0002
	CtrlNak        ControlType = 0x0003
	CtrlShutdown   ControlType = 0x0005
	CtrlAckAck     ControlType = 0x0006
	CtrlDropReq    ControlType = 0x0007
	CtrlPeerError  ControlType = 0x0008
	CtrlExtMessage ControlType = 0x7FFF // SRT extension messages (HsReq/HsRsp/KmReq/KmRsp)
)

// Ack subtypes distinguish a periodic full Ack (RTT/capacity telemetry,
// numbered, AckAck'd) from a sequence-only light Ack (spec.md §4.3).
const (
	AckSubtypeFull  uint16 = 0
	AckSubtypeLight uint16 = 1
)

// Extension subtypes carried under CtrlExtMessage.
type ExtSubtype uint16

const (
	ExtHsRequest ExtSubtype = 1
	ExtHsResponse ExtSubtype = 2
	ExtKmRequest ExtSubtype = 3
	ExtKmResponse ExtSubtype = 4
)

// DataHeader is the 16-byte header preceding a data packet's payload.
type DataHeader struct {
	SeqNo          seqno.SeqNo
	MsgNo          seqno.MsgNo
	Position       Position
	InOrder        bool
	Retransmitted  bool
	DestSocketID   uint32
	TimestampMicro uint32
}

// DataPacket is a Data-variant Packet (spec.md §3).
type DataPacket struct {
	Header  DataHeader
	Payload []byte
}

// ControlHeader is the fixed part of every control packet.
type ControlHeader struct {
	Type           ControlType
	Subtype        uint16
	TypeInfo       uint32
	DestSocketID   uint32
	TimestampMicro uint32
}

// ControlPacket is a Control-variant Packet carrying a type-specific CIF.
type ControlPacket struct {
	Header ControlHeader
	CIF    []byte
}

// Packet is the tagged union described in spec.md §3.
type Packet struct {
	Data *DataPacket
	Ctrl *ControlPacket
}

func (p Packet) IsData() bool { return p.Data != nil }
func (p Packet) IsCtrl() bool { return p.Ctrl != nil }

// Endpoint pairs a decoded Packet with the peer address it arrived
// from or is destined to — the (Packet, SocketAddr) duplex unit from
// spec.md §2 and §6.
type Endpoint struct {
	Packet Packet
	Addr   net.Addr
}

// dataHeaderLen is the wire size of a data header: seq (4) + packed
// flags/msgno (4) + timestamp (4) + dest socket-id (4) = 16 bytes,
// per spec.md §6.
const (
	dataHeaderLen    = 16
	controlHeaderLen = 16
)

// EncodeData renders a data packet per spec.md §6:
// 4 bytes (MSB=0, 31-bit seq) + 4 bytes packed flags/msgno + 4-byte
// timestamp + 4-byte destination socket-id + payload.
func EncodeData(p *DataPacket) []byte {
	out := make([]byte, dataHeaderLen+len(p.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(p.Header.SeqNo)&0x7FFFFFFF)

	var packed uint32
	packed |= uint32(p.Header.Position&0x3) << 30
	if p.Header.InOrder {
		packed |= 1 << 29
	}
	// 2 bits of encryption status reserved at [28:27); always 0 (no
	// payload encryption, per spec.md Non-goals).
	if p.Header.Retransmitted {
		packed |= 1 << 26
	}
	packed |= uint32(p.Header.MsgNo) & 0x03FFFFFF
	binary.BigEndian.PutUint32(out[4:8], packed)

	binary.BigEndian.PutUint32(out[8:12], p.Header.TimestampMicro)
	binary.BigEndian.PutUint32(out[12:16], p.Header.DestSocketID)
	copy(out[16:], p.Payload)
	return out
}

// DecodeData parses a data packet. The caller must already have
// demultiplexed on the MSB of the first 4 bytes (0 => data, 1 =>
// control), mirroring the teacher's own flag-byte dispatch in
// DecodeDataPacket (source/protocol/raknet.go).
func DecodeData(b []byte) (*DataPacket, error) {
	if len(b) < dataHeaderLen {
		return nil, fmt.Errorf("wire: data packet too short: %d bytes", len(b))
	}
	seq := binary.BigEndian.Uint32(b[0:4])
	if seq&0x80000000 != 0 {
		return nil, fmt.Errorf("wire: MSB set on data packet sequence field")
	}
	packed := binary.BigEndian.Uint32(b[4:8])
	ts := binary.BigEndian.Uint32(b[8:12])
	dst := binary.BigEndian.Uint32(b[12:16])

	hdr := DataHeader{
		SeqNo:          seqno.NewSeqNo(seq),
		Position:       Position((packed >> 30) & 0x3),
		InOrder:        packed&(1<<29) != 0,
		Retransmitted:  packed&(1<<26) != 0,
		MsgNo:          seqno.NewMsgNo(packed & 0x03FFFFFF),
		DestSocketID:   dst,
		TimestampMicro: ts,
	}
	payload := append([]byte(nil), b[16:]...)
	return &DataPacket{Header: hdr, Payload: payload}, nil
}

// EncodeControl renders a control packet: 4 bytes (MSB=1, 15-bit
// type, 16-bit subtype split across the low bits per spec.md §6) + 4
// bytes type-specific info + 4-byte timestamp + 4-byte destination
// socket-id + CIF.
func EncodeControl(p *ControlPacket) []byte {
	out := make([]byte, controlHeaderLen+len(p.CIF))
	first := uint32(1)<<31 | (uint32(p.Header.Type)&0x7FFF)<<16 | uint32(p.Header.Subtype)
	binary.BigEndian.PutUint32(out[0:4], first)
	binary.BigEndian.PutUint32(out[4:8], p.Header.TypeInfo)
	binary.BigEndian.PutUint32(out[8:12], p.Header.TimestampMicro)
	binary.BigEndian.PutUint32(out[12:16], p.Header.DestSocketID)
	copy(out[16:], p.CIF)
	return out
}

// DecodeControl parses a control packet's fixed header and leaves the
// CIF as an opaque slice for the caller's type-specific decoder.
func DecodeControl(b []byte) (*ControlPacket, error) {
	if len(b) < controlHeaderLen {
		return nil, fmt.Errorf("wire: control packet too short: %d bytes", len(b))
	}
	first := binary.BigEndian.Uint32(b[0:4])
	if first&0x80000000 == 0 {
		return nil, fmt.Errorf("wire: MSB clear on control packet")
	}
	hdr := ControlHeader{
		Type:           ControlType((first >> 16) & 0x7FFF),
		Subtype:        uint16(first & 0xFFFF),
		TypeInfo:       binary.BigEndian.Uint32(b[4:8]),
		TimestampMicro: binary.BigEndian.Uint32(b[8:12]),
		DestSocketID:   binary.BigEndian.Uint32(b[12:16]),
	}
	cif := append([]byte(nil), b[16:]...)
	return &ControlPacket{Header: hdr, CIF: cif}, nil
}

// IsControl reports whether a raw datagram's leading MSB marks it as
// a control packet (mirrors the teacher's 0x80 data-packet flag check,
// generalized to SRT's polarity where Control sets the bit).
func IsControl(b []byte) bool {
	return len(b) >= 4 && b[0]&0x80 != 0
}

// Decode dispatches on the leading MSB and returns the tagged union.
func Decode(b []byte) (Packet, error) {
	if IsControl(b) {
		cp, err := DecodeControl(b)
		if err != nil {
			return Packet{}, err
		}
		return Packet{Ctrl: cp}, nil
	}
	dp, err := DecodeData(b)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Data: dp}, nil
}

// Encode renders either variant of the tagged union.
func Encode(p Packet) []byte {
	if p.IsCtrl() {
		return EncodeControl(p.Ctrl)
	}
	return EncodeData(p.Data)
}

package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/halfwire/srt/pkg/losscodec"
	"github.com/halfwire/srt/pkg/seqno"
)

// HandshakeType is the handshake-type field of the Handshake CIF:
// induction=1, conclusion=-1, or a negative rejection code.
type HandshakeType int32

const (
	HsInduction  HandshakeType = 1
	HsConclusion HandshakeType = -1
)

// Rejection codes, carried as negative handshake-type values.
const (
	RejectBadVersion  HandshakeType = -1000
	RejectBadCookie   HandshakeType = -1001
	RejectOverloaded  HandshakeType = -1002
	RejectCrypto      HandshakeType = -1003
)

// HandshakeExt carries the optional SRT HsRequest/HsResponse
// extension fields (spec.md §6).
type HandshakeExt struct {
	Present          bool
	SRTVersion       uint32
	Flags            uint32
	SendTSBPDLatency uint16
	RecvTSBPDLatency uint16
}

// HandshakeCIF is the control information field of a Handshake packet.
type HandshakeCIF struct {
	Version         uint32
	CryptoSize      uint8 // 0, 16, 24, or 32
	ExtFlags        uint16
	InitialSeq      seqno.SeqNo
	MaxTransmission uint32
	MaxFlowWindow   uint32
	Type            HandshakeType
	SocketID        uint32
	Cookie          uint32
	PeerAddr        net.IP // 128 bits on the wire, IPv4-mapped if v4
	Ext             HandshakeExt
}

const handshakeCIFFixedLen = 4 + 1 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 16

// EncodeHandshakeCIF renders the handshake CIF, per spec.md §6.
func EncodeHandshakeCIF(h *HandshakeCIF) []byte {
	extLen := 0
	if h.Ext.Present {
		extLen = 4 + 4 + 2 + 2
	}
	buf := make([]byte, handshakeCIFFixedLen+extLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	buf[4] = h.CryptoSize
	binary.BigEndian.PutUint16(buf[5:7], h.ExtFlags)
	binary.BigEndian.PutUint32(buf[7:11], uint32(h.InitialSeq))
	binary.BigEndian.PutUint32(buf[11:15], h.MaxTransmission)
	binary.BigEndian.PutUint32(buf[15:19], h.MaxFlowWindow)
	binary.BigEndian.PutUint32(buf[19:23], uint32(int32(h.Type)))
	binary.BigEndian.PutUint32(buf[23:27], h.SocketID)
	binary.BigEndian.PutUint32(buf[27:31], h.Cookie)

	v4 := h.PeerAddr.To4()
	if v4 != nil {
		buf[31+10], buf[31+11] = 0xff, 0xff
		copy(buf[31+12:31+16], v4)
	} else if h.PeerAddr != nil {
		copy(buf[31:31+16], h.PeerAddr.To16())
	}

	if h.Ext.Present {
		off := handshakeCIFFixedLen
		binary.BigEndian.PutUint32(buf[off:off+4], h.Ext.SRTVersion)
		binary.BigEndian.PutUint32(buf[off+4:off+8], h.Ext.Flags)
		binary.BigEndian.PutUint16(buf[off+8:off+10], h.Ext.SendTSBPDLatency)
		binary.BigEndian.PutUint16(buf[off+10:off+12], h.Ext.RecvTSBPDLatency)
	}
	return buf
}

// DecodeHandshakeCIF parses a handshake CIF produced by EncodeHandshakeCIF.
func DecodeHandshakeCIF(b []byte) (*HandshakeCIF, error) {
	if len(b) < handshakeCIFFixedLen {
		return nil, fmt.Errorf("wire: handshake CIF too short: %d bytes", len(b))
	}
	h := &HandshakeCIF{
		Version:         binary.BigEndian.Uint32(b[0:4]),
		CryptoSize:      b[4],
		ExtFlags:        binary.BigEndian.Uint16(b[5:7]),
		InitialSeq:      seqno.NewSeqNo(binary.BigEndian.Uint32(b[7:11])),
		MaxTransmission: binary.BigEndian.Uint32(b[11:15]),
		MaxFlowWindow:   binary.BigEndian.Uint32(b[15:19]),
		Type:            HandshakeType(int32(binary.BigEndian.Uint32(b[19:23]))),
		SocketID:        binary.BigEndian.Uint32(b[23:27]),
		Cookie:          binary.BigEndian.Uint32(b[27:31]),
	}
	addrBytes := append([]byte(nil), b[31:47]...)
	h.PeerAddr = net.IP(addrBytes)
	if v4 := h.PeerAddr.To4(); v4 != nil {
		h.PeerAddr = v4
	}

	rest := b[handshakeCIFFixedLen:]
	if len(rest) >= 12 {
		h.Ext = HandshakeExt{
			Present:          true,
			SRTVersion:       binary.BigEndian.Uint32(rest[0:4]),
			Flags:            binary.BigEndian.Uint32(rest[4:8]),
			SendTSBPDLatency: binary.BigEndian.Uint16(rest[8:10]),
			RecvTSBPDLatency: binary.BigEndian.Uint16(rest[10:12]),
		}
	}
	return h, nil
}

// AckCIF is the control information field of a full Ack packet.
type AckCIF struct {
	NextExpected   seqno.SeqNo
	RTTMicro       uint32
	RTTVarMicro    uint32
	AvailBufPkts   uint32
	RecvRatePktps  uint32
	LinkCapPktps   uint32
}

func EncodeAckCIF(a *AckCIF) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint32(buf[0:4], uint32(a.NextExpected))
	binary.BigEndian.PutUint32(buf[4:8], a.RTTMicro)
	binary.BigEndian.PutUint32(buf[8:12], a.RTTVarMicro)
	binary.BigEndian.PutUint32(buf[12:16], a.AvailBufPkts)
	binary.BigEndian.PutUint32(buf[16:20], a.RecvRatePktps)
	binary.BigEndian.PutUint32(buf[20:24], a.LinkCapPktps)
	return buf
}

func DecodeAckCIF(b []byte) (*AckCIF, error) {
	if len(b) < 24 {
		return nil, fmt.Errorf("wire: ack CIF too short: %d bytes", len(b))
	}
	return &AckCIF{
		NextExpected:  seqno.NewSeqNo(binary.BigEndian.Uint32(b[0:4])),
		RTTMicro:      binary.BigEndian.Uint32(b[4:8]),
		RTTVarMicro:   binary.BigEndian.Uint32(b[8:12]),
		AvailBufPkts:  binary.BigEndian.Uint32(b[12:16]),
		RecvRatePktps: binary.BigEndian.Uint32(b[16:20]),
		LinkCapPktps:  binary.BigEndian.Uint32(b[20:24]),
	}, nil
}

// EncodeLightAckCIF renders a light-ack CIF: sequence only.
func EncodeLightAckCIF(next seqno.SeqNo) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(next))
	return buf
}

func DecodeLightAckCIF(b []byte) (seqno.SeqNo, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wire: light-ack CIF too short: %d bytes", len(b))
	}
	return seqno.NewSeqNo(binary.BigEndian.Uint32(b)), nil
}

// EncodeNakCIF compresses the loss list via pkg/losscodec and renders
// it as big-endian 32-bit words, per spec.md §4.5/§6.
func EncodeNakCIF(loss []seqno.SeqNo) []byte {
	words := losscodec.Encode(loss)
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], w)
	}
	return buf
}

func DecodeNakCIF(b []byte) ([]seqno.SeqNo, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("wire: nak CIF length %d not a multiple of 4", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(b[i*4 : i*4+4])
	}
	return losscodec.Decode(words)
}

// DropReqCIF is the control information field of a DropReq packet:
// an inclusive, modular [First, Last] sequence range.
type DropReqCIF struct {
	First, Last seqno.SeqNo
}

func EncodeDropReqCIF(d *DropReqCIF) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(d.First))
	binary.BigEndian.PutUint32(buf[4:8], uint32(d.Last))
	return buf
}

func DecodeDropReqCIF(b []byte) (*DropReqCIF, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("wire: dropreq CIF too short: %d bytes", len(b))
	}
	return &DropReqCIF{
		First: seqno.NewSeqNo(binary.BigEndian.Uint32(b[0:4])),
		Last:  seqno.NewSeqNo(binary.BigEndian.Uint32(b[4:8])),
	}, nil
}

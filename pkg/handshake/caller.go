package handshake

import (
	"net"
	"time"

	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

// Caller drives the caller side of spec.md §4.1: InductionSent,
// then ConclusionSent once it has a cookie, then Connected.
type Caller struct {
	LocalSocketID uint32
	RemoteAddr    net.Addr
	Latency       time.Duration
	StartTime     time.Time
	InitialSeq    seqno.SeqNo

	state          State
	conclusionSent bool
	cookie         uint32
	deadline       time.Time
}

// NewCaller creates a Caller. Call Start to get the initial induction
// packet to send.
func NewCaller(localSocketID uint32, remoteAddr net.Addr, latency time.Duration, handshakeTimeout time.Duration, now time.Time) (*Caller, error) {
	seq, err := newInitialSeq()
	if err != nil {
		return nil, err
	}
	return &Caller{
		LocalSocketID: localSocketID,
		RemoteAddr:    remoteAddr,
		Latency:       latency,
		StartTime:     now,
		InitialSeq:    seq,
		state:         StateInProgress,
		deadline:      now.Add(handshakeTimeout),
	}, nil
}

func (c *Caller) State() State { return c.state }

// Start returns the initial induction packet (cookie=0, per spec.md §4.1).
func (c *Caller) Start(now time.Time) Out {
	h := &wire.HandshakeCIF{
		Version:    SRTVersion,
		Type:       wire.HsInduction,
		SocketID:   c.LocalSocketID,
		Cookie:     0,
		InitialSeq: c.InitialSeq,
		PeerAddr:   addrIP(c.RemoteAddr),
	}
	ts := dataPacketFlagsTimestamp(c.StartTime, now)
	return Out{Packet: handshakeCtrl(0, ts, h), Addr: c.RemoteAddr}
}

func (c *Caller) Handle(pkt wire.Packet, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if c.state == StateFailed {
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if now.After(c.deadline) {
		c.state = StateFailed
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if !pkt.IsCtrl() || pkt.Ctrl.Header.Type != wire.CtrlHandshake {
		return nil, nil, nil
	}
	cif, err := wire.DecodeHandshakeCIF(pkt.Ctrl.CIF)
	if err != nil {
		return nil, nil, srterr.Wrap(err, "handshake: decode CIF")
	}

	if cif.Type < 0 && cif.Type != wire.HsConclusion {
		c.state = StateFailed
		return nil, nil, srterr.ErrHandshakeRejected
	}

	switch {
	case !c.conclusionSent:
		if cif.Type != wire.HsInduction || cif.Cookie == 0 {
			return nil, nil, nil
		}
		if cif.Version < MinSupportedVersion {
			c.state = StateFailed
			return nil, nil, srterr.ErrHandshakeRejected
		}
		c.cookie = cif.Cookie

		h := &wire.HandshakeCIF{
			Version:    SRTVersion,
			Type:       wire.HsConclusion,
			SocketID:   c.LocalSocketID,
			Cookie:     c.cookie,
			InitialSeq: c.InitialSeq,
			PeerAddr:   addrIP(c.RemoteAddr),
			Ext: wire.HandshakeExt{
				Present:          true,
				SRTVersion:       SRTVersion,
				SendTSBPDLatency: uint16(c.Latency.Milliseconds()),
				RecvTSBPDLatency: uint16(c.Latency.Milliseconds()),
			},
		}
		ts := dataPacketFlagsTimestamp(c.StartTime, now)
		c.conclusionSent = true
		return []Out{{Packet: handshakeCtrl(cif.SocketID, ts, h), Addr: from}}, nil, nil

	default: // conclusion already sent; waiting for the final conclusion reply
		if cif.Type != wire.HsConclusion || !cif.Ext.Present {
			return nil, nil, nil
		}
		if cif.CryptoSize != 0 {
			c.state = StateFailed
			return nil, nil, srterr.ErrCryptoNotImplemented
		}
		latency := chooseLatency(uint16(c.Latency.Milliseconds()), cif.Ext.RecvTSBPDLatency)
		maxPayload := int(cif.MaxTransmission)
		if maxPayload <= 0 {
			maxPayload = 1500
		}
		settings := &connection.Settings{
			LocalSocketID:  c.LocalSocketID,
			RemoteSocketID: cif.SocketID,
			RemoteAddr:     from,
			InitialSeq:     c.InitialSeq,
			MaxPayloadSize: maxPayload,
			TSBPDLatency:   latency,
			PeerSRTVersion: cif.Version,
			CryptoSize:     cif.CryptoSize,
			StartTime:      c.StartTime,
		}
		c.state = StateConnected
		return nil, settings, nil
	}
}

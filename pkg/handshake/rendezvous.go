package handshake

import (
	"net"
	"time"

	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

// ErrRendezvousTie is returned when both peers generate the same
// cookie, leaving no deterministic initiator (spec.md §4.1, §9:
// "Rendezvous cookie tie" — re-randomize and retry).
var ErrRendezvousTie = rendezvousTieErr{}

type rendezvousTieErr struct{}

func (rendezvousTieErr) Error() string {
	return "srt: rendezvous cookie tie, no deterministic initiator"
}

// Rendezvous drives spec.md §4.1's simultaneous-open case: both
// peers emit rendezvous-marked handshakes; the higher cookie becomes
// the initiator and proceeds like a Caller against the other peer's
// listener-like acceptance of its conclusion.
type Rendezvous struct {
	LocalSocketID uint32
	RemoteAddr    net.Addr
	Latency       time.Duration
	StartTime     time.Time
	InitialSeq    seqno.SeqNo
	LocalCookie   uint32

	state        State
	role         rendezvousRole
	remoteCookie uint32
	deadline     time.Time
}

type rendezvousRole int

const (
	roleUndetermined rendezvousRole = iota
	roleInitiator
	roleResponder
)

// NewRendezvous creates a Rendezvous machine with a freshly derived
// local cookie (derived the same way a listener's induction cookie
// is, keyed on the remote address, so both sides can compare
// cookies deterministically without a prior round trip).
func NewRendezvous(localSocketID uint32, remoteAddr net.Addr, secret []byte, latency, handshakeTimeout time.Duration, now time.Time) (*Rendezvous, error) {
	seq, err := newInitialSeq()
	if err != nil {
		return nil, err
	}
	return &Rendezvous{
		LocalSocketID: localSocketID,
		RemoteAddr:    remoteAddr,
		Latency:       latency,
		StartTime:     now,
		InitialSeq:    seq,
		LocalCookie:   MakeCookie(secret, remoteAddr, now),
		state:         StateInProgress,
		deadline:      now.Add(handshakeTimeout),
	}, nil
}

func (r *Rendezvous) State() State { return r.state }

// Start returns the initial rendezvous-marked handshake to emit to
// the peer.
func (r *Rendezvous) Start(now time.Time) Out {
	h := &wire.HandshakeCIF{
		Version:    SRTVersion,
		Type:       wire.HsInduction,
		SocketID:   r.LocalSocketID,
		Cookie:     r.LocalCookie,
		InitialSeq: r.InitialSeq,
		PeerAddr:   addrIP(r.RemoteAddr),
		ExtFlags:   rendezvousFlag,
	}
	ts := dataPacketFlagsTimestamp(r.StartTime, now)
	return Out{Packet: handshakeCtrl(0, ts, h), Addr: r.RemoteAddr}
}

// rendezvousFlag marks a handshake packet as part of a rendezvous
// negotiation rather than caller/listener induction.
const rendezvousFlag uint16 = 0x0001

func (r *Rendezvous) Handle(pkt wire.Packet, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if r.state == StateFailed {
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if now.After(r.deadline) {
		r.state = StateFailed
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if !pkt.IsCtrl() || pkt.Ctrl.Header.Type != wire.CtrlHandshake {
		return nil, nil, nil
	}
	cif, err := wire.DecodeHandshakeCIF(pkt.Ctrl.CIF)
	if err != nil {
		return nil, nil, srterr.Wrap(err, "handshake: decode CIF")
	}

	if r.role == roleUndetermined {
		if cif.Cookie == r.LocalCookie {
			r.state = StateFailed
			return nil, nil, ErrRendezvousTie
		}
		r.remoteCookie = cif.Cookie
		if r.LocalCookie > r.remoteCookie {
			r.role = roleInitiator
		} else {
			r.role = roleResponder
		}
	}

	switch r.role {
	case roleInitiator:
		return r.stepInitiator(cif, from, now)
	default:
		return r.stepResponder(cif, from, now)
	}
}

// stepInitiator behaves like a Caller once the peer's induction has
// told it the remote cookie.
func (r *Rendezvous) stepInitiator(cif *wire.HandshakeCIF, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if cif.Type == wire.HsInduction {
		h := &wire.HandshakeCIF{
			Version:    SRTVersion,
			Type:       wire.HsConclusion,
			SocketID:   r.LocalSocketID,
			Cookie:     r.remoteCookie,
			InitialSeq: r.InitialSeq,
			PeerAddr:   addrIP(r.RemoteAddr),
			ExtFlags:   rendezvousFlag,
			Ext: wire.HandshakeExt{
				Present:          true,
				SRTVersion:       SRTVersion,
				SendTSBPDLatency: uint16(r.Latency.Milliseconds()),
				RecvTSBPDLatency: uint16(r.Latency.Milliseconds()),
			},
		}
		ts := dataPacketFlagsTimestamp(r.StartTime, now)
		return []Out{{Packet: handshakeCtrl(cif.SocketID, ts, h), Addr: from}}, nil, nil
	}
	if cif.Type == wire.HsConclusion && cif.Ext.Present {
		return nil, r.finish(cif, from), nil
	}
	return nil, nil, nil
}

// stepResponder behaves like a Listener accepting the initiator's
// conclusion, per spec.md §4.1.
func (r *Rendezvous) stepResponder(cif *wire.HandshakeCIF, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if cif.Type != wire.HsConclusion || !cif.Ext.Present {
		return nil, nil, nil
	}
	h := &wire.HandshakeCIF{
		Version:    SRTVersion,
		Type:       wire.HsConclusion,
		SocketID:   r.LocalSocketID,
		Cookie:     r.remoteCookie,
		InitialSeq: r.InitialSeq,
		PeerAddr:   addrIP(r.RemoteAddr),
		ExtFlags:   rendezvousFlag,
		Ext: wire.HandshakeExt{
			Present:          true,
			SRTVersion:       SRTVersion,
			SendTSBPDLatency: uint16(r.Latency.Milliseconds()),
			RecvTSBPDLatency: uint16(r.Latency.Milliseconds()),
		},
	}
	ts := dataPacketFlagsTimestamp(r.StartTime, now)
	out := []Out{{Packet: handshakeCtrl(cif.SocketID, ts, h), Addr: from}}
	return out, r.finish(cif, from), nil
}

func (r *Rendezvous) finish(cif *wire.HandshakeCIF, from net.Addr) *connection.Settings {
	latency := chooseLatency(uint16(r.Latency.Milliseconds()), cif.Ext.RecvTSBPDLatency)
	maxPayload := int(cif.MaxTransmission)
	if maxPayload <= 0 {
		maxPayload = 1500
	}
	r.state = StateConnected
	return &connection.Settings{
		LocalSocketID:  r.LocalSocketID,
		RemoteSocketID: cif.SocketID,
		RemoteAddr:     from,
		InitialSeq:     r.InitialSeq,
		MaxPayloadSize: maxPayload,
		TSBPDLatency:   latency,
		PeerSRTVersion: cif.Version,
		CryptoSize:     cif.CryptoSize,
		StartTime:      r.StartTime,
	}
}

package handshake

import (
	"net"
	"time"

	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

// Listener drives the per-peer listener side of spec.md §4.1: it
// starts in Waiting, replies to induction with a cookie, and on a
// conclusion that echoes that cookie back unchanged, completes the
// connection.
//
// One Listener exists per in-flight peer; a real listener socket owns
// a map keyed by peer address (or by socket-id once assigned),
// generalizing the teacher's own per-address Session map in
// source/server/server.go.
type Listener struct {
	LocalSocketID uint32
	Secret        []byte
	Latency       time.Duration
	StartTime     time.Time

	state    State
	peerAddr net.Addr
	cookie   uint32
	deadline time.Time
}

// NewListener creates a Listener ready to receive an induction.
func NewListener(localSocketID uint32, secret []byte, latency time.Duration, handshakeTimeout time.Duration, now time.Time) *Listener {
	return &Listener{
		LocalSocketID: localSocketID,
		Secret:        secret,
		Latency:       latency,
		StartTime:     now,
		state:         StateInProgress,
		deadline:      now.Add(handshakeTimeout),
	}
}

func (l *Listener) State() State { return l.state }

// Handle processes one inbound packet and returns any outbound
// packets plus, once negotiation completes, the resulting Settings.
func (l *Listener) Handle(pkt wire.Packet, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if l.state == StateFailed {
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if now.After(l.deadline) {
		l.state = StateFailed
		return nil, nil, srterr.ErrHandshakeTimeout
	}
	if !pkt.IsCtrl() || pkt.Ctrl.Header.Type != wire.CtrlHandshake {
		return nil, nil, nil // ignore non-handshake traffic pre-connect
	}
	cif, err := wire.DecodeHandshakeCIF(pkt.Ctrl.CIF)
	if err != nil {
		return nil, nil, srterr.Wrap(err, "handshake: decode CIF")
	}

	switch cif.Type {
	case wire.HsInduction:
		return l.handleInduction(cif, from, now)
	case wire.HsConclusion:
		return l.handleConclusion(cif, from, now)
	default:
		return nil, nil, nil // unknown/rejection types are ignored here
	}
}

func (l *Listener) handleInduction(cif *wire.HandshakeCIF, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	l.peerAddr = from
	l.cookie = MakeCookie(l.Secret, from, now)

	reply := &wire.HandshakeCIF{
		Version:  SRTVersion,
		Type:     wire.HsInduction,
		SocketID: l.LocalSocketID,
		Cookie:   l.cookie,
		PeerAddr: addrIP(from),
	}
	ts := dataPacketFlagsTimestamp(l.StartTime, now)
	out := []Out{{Packet: handshakeCtrl(cif.SocketID, ts, reply), Addr: from}}
	return out, nil, nil
}

func (l *Listener) handleConclusion(cif *wire.HandshakeCIF, from net.Addr, now time.Time) ([]Out, *connection.Settings, error) {
	if cif.Cookie != l.cookie || !ValidCookie(l.Secret, from, cif.Cookie, now) {
		// Spec.md §4.1: invalid cookie -> drop silently.
		return nil, nil, nil
	}
	if cif.Version < MinSupportedVersion {
		rej := &wire.HandshakeCIF{Version: SRTVersion, Type: wire.RejectBadVersion, SocketID: l.LocalSocketID}
		ts := dataPacketFlagsTimestamp(l.StartTime, now)
		l.state = StateFailed
		return []Out{{Packet: handshakeCtrl(cif.SocketID, ts, rej), Addr: from}}, nil, srterr.ErrHandshakeRejected
	}
	if cif.CryptoSize != 0 {
		rej := &wire.HandshakeCIF{Version: SRTVersion, Type: wire.RejectCrypto, SocketID: l.LocalSocketID}
		ts := dataPacketFlagsTimestamp(l.StartTime, now)
		l.state = StateFailed
		return []Out{{Packet: handshakeCtrl(cif.SocketID, ts, rej), Addr: from}}, nil, srterr.ErrCryptoNotImplemented
	}

	var remoteLatencyMs uint16
	if cif.Ext.Present {
		remoteLatencyMs = cif.Ext.SendTSBPDLatency
	}
	latency := chooseLatency(uint16(l.Latency.Milliseconds()), remoteLatencyMs)

	reply := &wire.HandshakeCIF{
		Version:         SRTVersion,
		Type:            wire.HsConclusion,
		SocketID:        l.LocalSocketID,
		Cookie:          cif.Cookie,
		PeerAddr:        addrIP(from),
		MaxTransmission: cif.MaxTransmission,
		MaxFlowWindow:   cif.MaxFlowWindow,
		Ext: wire.HandshakeExt{
			Present:          true,
			SRTVersion:       SRTVersion,
			SendTSBPDLatency: uint16(l.Latency.Milliseconds()),
			RecvTSBPDLatency: uint16(l.Latency.Milliseconds()),
		},
	}
	ts := dataPacketFlagsTimestamp(l.StartTime, now)
	out := []Out{{Packet: handshakeCtrl(cif.SocketID, ts, reply), Addr: from}}

	maxPayload := int(cif.MaxTransmission)
	if maxPayload <= 0 {
		maxPayload = 1500
	}
	settings := &connection.Settings{
		LocalSocketID:  l.LocalSocketID,
		RemoteSocketID: cif.SocketID,
		RemoteAddr:     from,
		InitialSeq:     cif.InitialSeq,
		MaxPayloadSize: maxPayload,
		TSBPDLatency:   latency,
		PeerSRTVersion: cif.Version,
		CryptoSize:     cif.CryptoSize,
		StartTime:      l.StartTime,
	}
	l.state = StateConnected
	return out, settings, nil
}

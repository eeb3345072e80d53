// Package handshake drives the pending-connection state machines of
// spec.md §4.1 — caller, listener, and rendezvous — to a negotiated
// connection.Settings. Each machine is a pure step function: feed it
// inbound packets and the current time, it returns outbound packets
// to send and, eventually, either a completed Settings or a terminal
// error. This keeps the state machine itself free of any I/O, so it
// can be driven from a real duplex or from an in-memory one in tests
// (spec.md §2: "pure over an abstract packet duplex").
//
// Grounded on the teacher's session-state constants
// (source/protocol/raknet.go STATE_UNCONNECTED/STATE_HANDSHAKE_SENT/
// STATE_CONNECTING/STATE_CONNECTED) for the general shape of an
// explicit connection-state enum driving packet dispatch
// (source/server/server.go handleGamePacket), generalized from the
// teacher's single implicit listener flow to the spec's three roles.
package handshake

import (
	"net"
	"time"

	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

// SRTVersion is the version this core implements, encoded as the
// packed 0x00MMmmpp form spec.md §4.1 compares against
// MinSupportedVersion.
const SRTVersion = 0x00010500

// MinSupportedVersion is the lowest peer version this core accepts;
// below it, spec.md §4.1 says to reject with a version mismatch.
const MinSupportedVersion = 0x00010000

// Out pairs an outbound handshake packet with its destination.
type Out struct {
	Packet wire.Packet
	Addr   net.Addr
}

// State is the externally observable phase of a handshake machine.
type State int

const (
	StateInProgress State = iota
	StateConnected
	StateFailed
)

func dataPacketFlagsTimestamp(start time.Time, now time.Time) uint32 {
	return uint32(uint64(now.Sub(start).Microseconds()))
}

func ctrlPacket(typ wire.ControlType, destSocketID uint32, ts uint32, cif []byte) wire.Packet {
	return wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: typ, DestSocketID: destSocketID, TimestampMicro: ts},
		CIF:    cif,
	}}
}

func handshakeCtrl(destSocketID uint32, ts uint32, h *wire.HandshakeCIF) wire.Packet {
	return ctrlPacket(wire.CtrlHandshake, destSocketID, ts, wire.EncodeHandshakeCIF(h))
}

func addrIP(a net.Addr) net.IP {
	if u, ok := a.(*net.UDPAddr); ok {
		return u.IP
	}
	host, _, err := net.SplitHostPort(a.String())
	if err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(a.String())
}

func newInitialSeq() (seqno.SeqNo, error) {
	v, err := randomUint32()
	if err != nil {
		return 0, err
	}
	return seqno.NewSeqNo(v), nil
}

// chooseLatency implements spec.md §3's
// "agreed as max(local_proposed, remote_proposed)".
func chooseLatency(localMs, remoteMs uint16) time.Duration {
	l := localMs
	if remoteMs > l {
		l = remoteMs
	}
	return time.Duration(l) * time.Millisecond
}

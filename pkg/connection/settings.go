// Package connection holds the Connection/ConnectionSettings data
// model of spec.md §3: the immutable parameters fixed at handshake
// completion, plus the small amount of shared mutable state (the
// TSBPD epoch) that every component needs to read but none should own
// independently.
//
// Grounded on the teacher's Session struct (source/protocol/raknet.go)
// for "one struct holds everything this connection needs," generalized
// from the teacher's single address+MTU+counters shape to the full
// set of handshake-negotiated parameters spec.md §3 requires.
package connection

import (
	"net"
	"time"

	"github.com/halfwire/srt/pkg/seqno"
)

// Settings are the immutable parameters fixed at handshake completion.
type Settings struct {
	LocalSocketID  uint32
	RemoteSocketID uint32
	RemoteAddr     net.Addr

	InitialSeq seqno.SeqNo

	MaxPayloadSize int

	// TSBPDLatency is max(local_proposed, remote_proposed), per
	// spec.md §3/§4.1.
	TSBPDLatency time.Duration

	PeerSRTVersion uint32

	// CryptoSize is 0, 16, 24, or 32; non-zero is parsed but rejected
	// (payload encryption is out of scope, spec.md §1/§9).
	CryptoSize uint8

	// StartTime is the epoch packet timestamps (spec.md's 32-bit,
	// microseconds-since-session-start field) are measured from.
	StartTime time.Time
}

// ElapsedMicro returns the wrapping 32-bit microsecond timestamp for
// "now" relative to StartTime, as carried on the wire (spec.md §3).
func (s Settings) ElapsedMicro(now time.Time) uint32 {
	return uint32(uint64(now.Sub(s.StartTime).Microseconds()))
}

// Connection is Settings plus the mutable per-session state that the
// sender, receiver, and timer components each own a piece of. The
// Connection itself holds no buffers — those belong to the sender and
// receiver engines — only the identity and timing anchor shared by
// all of them (spec.md §3 "Lifecycle").
type Connection struct {
	Settings Settings
}

// New constructs a Connection from negotiated Settings. Per spec.md
// §3's Lifecycle invariant, a Connection (and therefore its owning
// session's buffers) is only ever created this way, at handshake
// completion.
func New(s Settings) *Connection {
	return &Connection{Settings: s}
}

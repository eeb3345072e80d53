// Package seqno implements the modular sequence and message number
// arithmetic used throughout the SRT core: 31-bit sequence numbers and
// 29-bit message numbers, both compared on the nearer half of their
// circle rather than as plain integers.
//
// Grounded on the teacher's own wrapping counters
// (source/protocol/raknet.go Session.SequenceNumber / MessageIndex,
// which increment a fixed-width field and rely on wraparound) and on
// original_source's SeqNumber type, generalized from the teacher's
// 24-bit raw counters to the spec's 31-bit/29-bit modular ones.
package seqno

import "fmt"

const (
	seqBits  = 31
	SeqModulo = 1 << seqBits
	seqHalf   = SeqModulo / 2

	msgBits   = 29
	MsgModulo = 1 << msgBits
	msgHalf   = MsgModulo / 2
)

// SeqNo is a packet sequence number in [0, 2^31).
type SeqNo uint32

// MsgNo is a message number in [0, 2^29).
type MsgNo uint32

// NewSeqNo truncates v into the valid sequence number range.
func NewSeqNo(v uint32) SeqNo { return SeqNo(v % SeqModulo) }

// NewMsgNo truncates v into the valid message number range.
func NewMsgNo(v uint32) MsgNo { return MsgNo(v % MsgModulo) }

func (s SeqNo) String() string { return fmt.Sprintf("#%d", uint32(s)) }

// Add returns s+n wrapped modulo 2^31. n may be negative.
func (s SeqNo) Add(n int64) SeqNo {
	return SeqNo(wrapAdd(uint32(s), n, SeqModulo))
}

// Inc returns the next sequence number after s.
func (s SeqNo) Inc() SeqNo { return s.Add(1) }

// Dist returns the signed modular distance b-a, in [-2^30, 2^30).
// Positive means a is "before" b.
func (s SeqNo) Dist(b SeqNo) int32 {
	return modDist(uint32(s), uint32(b), SeqModulo, seqHalf)
}

// Lt implements the spec's modular "<": a < b iff (b-a) mod 2^31 < 2^30.
func (s SeqNo) Lt(b SeqNo) bool { return s.Dist(b) > 0 }

// Lte is Lt or equal.
func (s SeqNo) Lte(b SeqNo) bool { return s == b || s.Lt(b) }

// Gt is the strict reverse of Lt.
func (s SeqNo) Gt(b SeqNo) bool { return b.Lt(s) }

// Gte is Gt or equal.
func (s SeqNo) Gte(b SeqNo) bool { return s == b || s.Gt(b) }

func (m MsgNo) String() string { return fmt.Sprintf("msg#%d", uint32(m)) }

// Inc returns the next message number after m.
func (m MsgNo) Inc() MsgNo { return MsgNo(wrapAdd(uint32(m), 1, MsgModulo)) }

// Lt implements the same modular "<" rule over the 29-bit message space.
func (m MsgNo) Lt(b MsgNo) bool {
	return modDist(uint32(m), uint32(b), MsgModulo, msgHalf) > 0
}

func wrapAdd(base uint32, n int64, modulo int64) uint32 {
	v := (int64(base) + n) % modulo
	if v < 0 {
		v += modulo
	}
	return uint32(v)
}

// modDist returns the signed distance from a to b on a circle of the
// given modulo, folded into [-half, half).
func modDist(a, b uint32, modulo int64, half int64) int32 {
	d := (int64(b) - int64(a)) % modulo
	if d < 0 {
		d += modulo
	}
	if d >= half {
		d -= modulo
	}
	return int32(d)
}

// InRange reports whether x lies in the modular half-open interval
// [lo, hi), i.e. lo <= x < hi under modular comparison, anchored near
// lo so that the usual sliding-window usage (lo = last_ack, hi =
// next_to_send) behaves sanely even across a wraparound.
func InRange(lo, x, hi SeqNo) bool {
	return lo.Lte(x) && x.Lt(hi)
}

// Less is a comparator suitable for sort.Slice over []SeqNo.
func Less(a, b SeqNo) bool { return a.Lt(b) }

// Package receiver implements the spec's receiver engine: the receive
// buffer, loss list, ACK/NAK generation, and TSBPD release timing
// (spec.md §4.3).
//
// Grounded on the teacher's HandleDataPacket channel-ordering state
// machine (source/protocol/raknet.go, ChannelOrderIndex) for the
// in-order / ahead-with-gap / recovered-loss / duplicate branches,
// generalized from the teacher's per-channel ordering windows to the
// spec's single TSBPD-release ordering with one modular loss list.
package receiver

import (
	"sort"
	"time"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/wire"
)

// Released is one TSBPD-released data packet handed to the application
// (spec.md §4.3 "TSBPD release"). Packets are released one by one: the
// fragments of a multi-packet message are not reassembled.
type Released struct {
	Timestamp uint32
	Payload   []byte
}

// Receiver owns one connection's receive buffer, loss list, and the
// bookkeeping feeding ACK/NAK generation (spec.md §4.3). It holds no
// I/O: Arrive, Release and the Should*/Next* methods return what the
// caller should send or deliver.
type Receiver struct {
	cfg     config.Config
	latency time.Duration

	largestSeen  seqno.SeqNo
	haveSeen     bool
	lastReleased seqno.SeqNo
	haveReleased bool

	buffer map[seqno.SeqNo]*wire.DataPacket
	loss   map[seqno.SeqNo]struct{}

	origin     time.Time // arrival(first pkt) - timestamp(first pkt), per TSBPD
	haveOrigin bool

	newSinceLight  uint32
	nextAckSeqNo   uint32
	rtt, rttvar    time.Duration
	lastAckAt      time.Time
	lastNakAt      time.Time
}

// New creates a Receiver expecting its first packet at initialSeq.
func New(cfg config.Config, latency time.Duration, initialSeq seqno.SeqNo) *Receiver {
	return &Receiver{
		cfg:          cfg,
		latency:      latency,
		largestSeen:  initialSeq.Add(-1),
		lastReleased: initialSeq.Add(-1),
		haveReleased: true,
		buffer:       make(map[seqno.SeqNo]*wire.DataPacket),
		loss:         make(map[seqno.SeqNo]struct{}),
	}
}

// LossListSize reports the number of sequence numbers currently
// believed lost.
func (r *Receiver) LossListSize() int { return len(r.loss) }

// Arrive processes one inbound data packet per spec.md §4.3's arrival
// rules and returns the newly discovered loss, if any, for the caller
// to emit as an immediate light Nak (nil if none).
func (r *Receiver) Arrive(pkt *wire.DataPacket, arrival time.Time) []seqno.SeqNo {
	s := pkt.Header.SeqNo

	if !r.haveOrigin {
		r.origin = arrival.Add(-time.Duration(pkt.Header.TimestampMicro) * time.Microsecond)
		r.haveOrigin = true
	}

	if !r.haveSeen {
		r.buffer[s] = pkt
		r.largestSeen = s
		r.haveSeen = true
		r.newSinceLight++
		return nil
	}

	switch {
	case s == r.largestSeen.Inc():
		r.buffer[s] = pkt
		r.largestSeen = s
		r.newSinceLight++
		return nil

	case s.Gt(r.largestSeen):
		r.buffer[s] = pkt
		var newLoss []seqno.SeqNo
		for g := r.largestSeen.Inc(); g.Lt(s); g = g.Inc() {
			r.loss[g] = struct{}{}
			newLoss = append(newLoss, g)
		}
		r.largestSeen = s
		r.newSinceLight++
		sort.Slice(newLoss, func(i, j int) bool { return newLoss[i].Lt(newLoss[j]) })
		return newLoss

	default:
		if _, lost := r.loss[s]; lost {
			r.buffer[s] = pkt
			delete(r.loss, s)
		}
		// Else a duplicate: discard silently (spec.md §4.3).
		return nil
	}
}

// LossListWords returns the current loss list, sorted ascending in
// modular order, ready for wire.EncodeNakCIF.
func (r *Receiver) LossListWords() []seqno.SeqNo {
	out := make([]seqno.SeqNo, 0, len(r.loss))
	for s := range r.loss {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lt(out[j]) })
	return out
}

// NextExpected is the first sequence number not yet received: the
// smallest loss-list entry if any packet is known lost, else one past
// the largest contiguous sequence seen — the value a full Ack's CIF
// carries (spec.md §4.3).
func (r *Receiver) NextExpected() seqno.SeqNo {
	if len(r.loss) == 0 {
		return r.largestSeen.Inc()
	}
	return r.LossListWords()[0]
}

// ShouldFullAck reports whether the 10ms full-ack interval has
// elapsed, and if so marks it taken and returns the AckSequenceNumber
// to use.
func (r *Receiver) ShouldFullAck(now time.Time) (uint32, bool) {
	if !r.lastAckAt.IsZero() && now.Sub(r.lastAckAt) < r.cfg.AckInterval {
		return 0, false
	}
	r.lastAckAt = now
	r.nextAckSeqNo++
	return r.nextAckSeqNo, true
}

// ShouldLightAck reports whether LightAckEvery (64 by default) new
// packets have arrived since the last light ack, consuming the counter
// if so. Full acks do not reset the counter.
func (r *Receiver) ShouldLightAck() bool {
	if r.newSinceLight < r.cfg.LightAckEvery {
		return false
	}
	r.newSinceLight = 0
	return true
}

// NakInterval is the dynamic periodic NAK period, max(4*rtt+rttvar, floor).
func (r *Receiver) NakInterval() time.Duration {
	dyn := 4*r.rtt + r.rttvar
	if dyn < r.cfg.NakFloor {
		return r.cfg.NakFloor
	}
	return dyn
}

// ShouldPeriodicNak reports whether the periodic NAK timer has fired.
func (r *Receiver) ShouldPeriodicNak(now time.Time) bool {
	if len(r.loss) == 0 {
		return false
	}
	if !r.lastNakAt.IsZero() && now.Sub(r.lastNakAt) < r.NakInterval() {
		return false
	}
	r.lastNakAt = now
	return true
}

// NextAckDeadline is when the full-ack timer next fires.
func (r *Receiver) NextAckDeadline() time.Time {
	return r.lastAckAt.Add(r.cfg.AckInterval)
}

// NextNakDeadline returns when the periodic NAK timer next fires, if
// there is any current loss to report.
func (r *Receiver) NextNakDeadline() (time.Time, bool) {
	if len(r.loss) == 0 {
		return time.Time{}, false
	}
	return r.lastNakAt.Add(r.NakInterval()), true
}

// NextReleaseDeadline returns the earliest TSBPD deadline among
// buffered (non-gap) packets, if any are outstanding.
func (r *Receiver) NextReleaseDeadline() (time.Time, bool) {
	if !r.haveOrigin || len(r.buffer) == 0 {
		return time.Time{}, false
	}
	var earliest time.Time
	for _, pkt := range r.buffer {
		d := r.origin.Add(time.Duration(pkt.Header.TimestampMicro) * time.Microsecond).Add(r.latency)
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, true
}

// SampleRTTFromAckAck updates the smoothed RTT from a sample the caller
// measured between sending a full Ack and receiving its AckAck, using the
// sender-side formula of spec.md §4.2 (the receiver runs the same
// smoothing so its NAK timer tracks the live RTT).
func (r *Receiver) SampleRTTFromAckAck(sample time.Duration) {
	if sample < 0 {
		return
	}
	if r.rtt == 0 {
		r.rtt = sample
		r.rttvar = sample / 2
		return
	}
	diff := sample - r.rtt
	if diff < 0 {
		diff = -diff
	}
	r.rtt = r.rtt*7/8 + sample/8
	r.rttvar = r.rttvar*3/4 + diff/4
}

// HandleDropReq removes the given inclusive range from the loss list
// (the sender has abandoned those sequence numbers) so it is never
// retransmitted, per spec.md §4.2/§4.3.
func (r *Receiver) HandleDropReq(d *wire.DropReqCIF) {
	for s := d.First; ; s = s.Inc() {
		delete(r.loss, s)
		if s == d.Last {
			break
		}
	}
}

// Release computes the TSBPD deadline for every buffered packet and
// releases the contiguous prefix whose deadline has passed, skipping
// (and removing from the loss list) any gap whose deadline has also
// passed, per spec.md §4.3. It returns released messages in strict
// sequence order.
func (r *Receiver) Release(now time.Time) []Released {
	if !r.haveOrigin {
		return nil
	}
	var out []Released
	for {
		next := r.lastReleased.Inc()
		pkt, ok := r.buffer[next]
		if ok {
			deadline := r.origin.Add(time.Duration(pkt.Header.TimestampMicro) * time.Microsecond).Add(r.latency)
			if deadline.After(now) {
				break
			}
			out = append(out, Released{Timestamp: pkt.Header.TimestampMicro, Payload: pkt.Payload})
			delete(r.buffer, next)
			r.lastReleased = next
			continue
		}
		if !next.Lt(r.largestSeen) {
			// Not buffered and not behind the largest sequence seen:
			// still in flight, nothing more to release yet.
			break
		}
		// A gap: only skip it once its own deadline (estimated from
		// the receiver's current view of elapsed time) has passed.
		// Without the original packet's timestamp we use "now" against
		// the origin-relative deadline of the next known packet, so we
		// conservatively wait until a later packet's deadline forces
		// the issue.
		if !r.gapExpired(next, now) {
			break
		}
		delete(r.loss, next)
		r.lastReleased = next
	}
	return out
}

// gapExpired reports whether sequence number s, known lost, can be
// skipped: true once some later buffered packet's own TSBPD deadline
// has already passed, implying s's earlier deadline has too.
func (r *Receiver) gapExpired(s seqno.SeqNo, now time.Time) bool {
	for seq, pkt := range r.buffer {
		if !s.Lt(seq) {
			continue
		}
		deadline := r.origin.Add(time.Duration(pkt.Header.TimestampMicro) * time.Microsecond).Add(r.latency)
		if !deadline.After(now) {
			return true
		}
	}
	return false
}

package sender

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/wire"
)

// entry is one outstanding data packet in the send buffer: created and
// sequence-numbered, possibly already transmitted once or more.
type entry struct {
	header   wire.DataHeader
	payload  []byte
	created  time.Time
	lastSent time.Time // zero until first transmission
	queuedRT bool      // already sitting in the retransmit queue
}

// Sender owns one connection's send buffer, retransmit queue, pacer,
// and RTT/bandwidth estimators (spec.md §4.2). It holds no I/O: Pace
// returns the next packet to put on the wire, or false if it is not
// yet time.
type Sender struct {
	cfg        config.Config
	maxPayload int
	latency    time.Duration

	nextSeq      seqno.SeqNo
	firstUnacked seqno.SeqNo
	nextMsgNo    seqno.MsgNo

	// buffer holds every created-but-not-yet-acknowledged packet,
	// oldest (lowest sequence) first, satisfying spec.md §3's send
	// buffer invariant: exactly one entry per sequence number in
	// [firstUnacked, nextSeq).
	buffer []*entry

	// retransmit is the queue of entries marked lost by a Nak,
	// lowest sequence first; it is drained ahead of new data per
	// spec.md §4.2's pacing priority rule.
	retransmit []*entry
	unsentIdx  int // index into buffer of the next never-sent entry

	mode          LiveBandwidthMode
	fixedBitsPS   float64
	overhead      float64
	inputRate     rateEstimator
	sndInterval   time.Duration
	limiter       *rate.Limiter
	retransmitLog []bool // ring of recent sends: true if retransmit

	rtt    time.Duration
	rttvar time.Duration

	lastSend time.Time
}

// HasPending reports whether Pace has something to offer right now
// (a queued retransmit or a never-sent buffered packet), used by the
// session loop to decide whether the SND timer should be armed at
// all (spec.md §4.4).
func (s *Sender) HasPending() bool {
	return len(s.retransmit) > 0 || s.unsentIdx < len(s.buffer)
}

// NextPaceDeadline returns when Pace should next be tried, given
// HasPending is true: lastSend+SND, or lastSend itself (already due)
// while SND is zero, as on an unlimited link or before the first send.
func (s *Sender) NextPaceDeadline() time.Time {
	if s.sndInterval <= 0 {
		return s.lastSend
	}
	return s.lastSend.Add(s.sndInterval)
}

// NextDropDeadline returns the earliest send-buffer entry's TSBPD
// drop deadline, if any entry is outstanding.
func (s *Sender) NextDropDeadline() (time.Time, bool) {
	if len(s.buffer) == 0 {
		return time.Time{}, false
	}
	earliest := s.buffer[0].created.Add(s.latency + s.cfg.DropSlack)
	for _, e := range s.buffer[1:] {
		d := e.created.Add(s.latency + s.cfg.DropSlack)
		if d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, true
}

// New creates a Sender starting at initialSeq with the negotiated
// payload size and TSBPD latency.
func New(cfg config.Config, maxPayload int, latency time.Duration, initialSeq seqno.SeqNo, mode LiveBandwidthMode, fixedBitsPerSec, overheadFraction float64) *Sender {
	return &Sender{
		cfg:          cfg,
		maxPayload:   maxPayload,
		latency:      latency,
		nextSeq:      initialSeq,
		firstUnacked: initialSeq,
		mode:         mode,
		fixedBitsPS:  fixedBitsPerSec,
		overhead:     overheadFraction,
		limiter:      rate.NewLimiter(rate.Inf, 1),
	}
}

// BufferedCount returns the number of outstanding (unacked) packets,
// i.e. nextSeq - firstUnacked in modular terms (spec.md §8 invariant 2).
func (s *Sender) BufferedCount() int { return len(s.buffer) }

func (s *Sender) NextSeq() seqno.SeqNo      { return s.nextSeq }
func (s *Sender) FirstUnacked() seqno.SeqNo { return s.firstUnacked }

// Send fragments a message into one or more data packets, assigns
// sequence and message numbers, and appends them to the send buffer
// (spec.md §4.2 "Segmenting"/"Sequencing"). It does not transmit them;
// call Pace to pull packets onto the wire.
func (s *Sender) Send(message []byte, now time.Time) []wire.DataHeader {
	if len(message) == 0 {
		message = []byte{}
	}
	msgNo := s.nextMsgNo
	s.nextMsgNo = s.nextMsgNo.Inc()

	var headers []wire.DataHeader
	chunks := fragment(message, s.maxPayload)
	for i, chunk := range chunks {
		pos := wire.PositionMiddle
		switch {
		case len(chunks) == 1:
			pos = wire.PositionSolo
		case i == 0:
			pos = wire.PositionFirst
		case i == len(chunks)-1:
			pos = wire.PositionLast
		}
		hdr := wire.DataHeader{
			SeqNo:   s.nextSeq,
			MsgNo:   msgNo,
			Position: pos,
			InOrder: true,
		}
		s.nextSeq = s.nextSeq.Inc()
		e := &entry{header: hdr, payload: chunk, created: now}
		s.buffer = append(s.buffer, e)
		headers = append(headers, hdr)
	}
	return headers
}

// fragment splits a message into chunks of at most maxPayload bytes,
// always emitting at least one (possibly empty) chunk.
func fragment(message []byte, maxPayload int) [][]byte {
	if maxPayload <= 0 {
		maxPayload = len(message)
	}
	if len(message) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for off := 0; off < len(message); off += maxPayload {
		end := off + maxPayload
		if end > len(message) {
			end = len(message)
		}
		chunks = append(chunks, message[off:end])
	}
	return chunks
}

// Pace returns the next data packet to transmit, respecting the SND
// pacing interval, or ok=false if nothing is ready. Retransmissions
// are drained ahead of new data, lowest sequence first, per spec.md
// §4.2.
func (s *Sender) Pace(now time.Time, timestamp uint32, destSocketID uint32) (wire.DataPacket, bool) {
	e := s.nextCandidate()
	if e == nil {
		return wire.DataPacket{}, false
	}
	if !s.limiter.AllowN(now, 1) {
		return wire.DataPacket{}, false
	}

	retransmitted := !e.lastSent.IsZero()
	e.lastSent = now
	e.header.Retransmitted = retransmitted
	e.header.TimestampMicro = timestamp
	e.header.DestSocketID = destSocketID
	s.lastSend = now

	s.inputRate.sample(now)
	s.recordSend(retransmitted)
	s.updateSND(now)

	return wire.DataPacket{Header: e.header, Payload: e.payload}, true
}

func (s *Sender) nextCandidate() *entry {
	if len(s.retransmit) > 0 && !s.retransmitCapped() {
		e := s.retransmit[0]
		s.retransmit = s.retransmit[1:]
		e.queuedRT = false
		return e
	}
	for s.unsentIdx < len(s.buffer) {
		e := s.buffer[s.unsentIdx]
		s.unsentIdx++
		return e
	}
	// No new data; fall back to a capped retransmit if one exists
	// rather than leaving the link idle.
	if len(s.retransmit) > 0 {
		e := s.retransmit[0]
		s.retransmit = s.retransmit[1:]
		e.queuedRT = false
		return e
	}
	return nil
}

// retransmitCapped reports whether the optional retransmit-fraction
// cap (spec.md §9, not mandated) is currently blocking a retransmit in
// favor of new data, to prevent retransmits from starving the
// pipeline under extreme loss.
func (s *Sender) retransmitCapped() bool {
	capFrac := s.cfg.MaxRetransmitFraction
	if capFrac <= 0 || capFrac >= 1 || s.unsentIdx >= len(s.buffer) {
		return false
	}
	if len(s.retransmitLog) < 8 {
		return false
	}
	rtCount := 0
	for _, rt := range s.retransmitLog {
		if rt {
			rtCount++
		}
	}
	return float64(rtCount)/float64(len(s.retransmitLog)) >= capFrac
}

func (s *Sender) recordSend(retransmitted bool) {
	const window = 20
	s.retransmitLog = append(s.retransmitLog, retransmitted)
	if len(s.retransmitLog) > window {
		s.retransmitLog = s.retransmitLog[1:]
	}
}

// removeAcked removes every buffered packet with sequence <
// nextExpected, returning the count removed and the latest send time
// among them (zero if none had been transmitted yet).
func (s *Sender) removeAcked(nextExpected seqno.SeqNo) (removed int, lastSent time.Time) {
	kept := s.buffer[:0]
	for _, e := range s.buffer {
		if e.header.SeqNo.Lt(nextExpected) {
			removed++
			if !e.lastSent.IsZero() && e.lastSent.After(lastSent) {
				lastSent = e.lastSent
			}
			continue
		}
		kept = append(kept, e)
	}
	s.buffer = kept
	s.unsentIdx -= removed
	if s.unsentIdx < 0 {
		s.unsentIdx = 0
	}
	if len(s.buffer) > 0 {
		s.firstUnacked = s.buffer[0].header.SeqNo
	} else {
		s.firstUnacked = s.nextSeq
	}
	return removed, lastSent
}

// HandleFullAck removes every acknowledged buffered packet, samples
// RTT from the most recently sent of them (spec.md §4.2: "using the
// full-Ack path only"), and returns the AckAck control packet the
// sender must immediately emit (the bool is always true).
func (s *Sender) HandleFullAck(ackSeqNo uint32, nextExpected seqno.SeqNo, now time.Time) (wire.ControlHeader, bool) {
	_, lastSent := s.removeAcked(nextExpected)
	if !lastSent.IsZero() {
		s.sampleRTT(now.Sub(lastSent))
	}
	return wire.ControlHeader{Type: wire.CtrlAckAck, TypeInfo: ackSeqNo}, true
}

// HandleLightAck removes every acknowledged buffered packet. Light
// Acks carry sequence only and, per spec.md §4.2, do not feed RTT
// estimation or trigger an AckAck reply.
func (s *Sender) HandleLightAck(nextExpected seqno.SeqNo) {
	s.removeAcked(nextExpected)
}

func (s *Sender) sampleRTT(sample time.Duration) {
	if sample < 0 {
		return
	}
	if s.rtt == 0 {
		s.rtt = sample
		s.rttvar = sample / 2
		return
	}
	diff := sample - s.rtt
	if diff < 0 {
		diff = -diff
	}
	s.rtt = s.rtt*7/8 + sample/8
	s.rttvar = s.rttvar*3/4 + diff/4
}

func (s *Sender) RTT() (rtt, rttvar time.Duration) { return s.rtt, s.rttvar }

// HandleNak marks every listed sequence number still in the send
// buffer for retransmission, queuing it if not already queued
// (spec.md §4.2).
func (s *Sender) HandleNak(loss []seqno.SeqNo) {
	lost := make(map[seqno.SeqNo]struct{}, len(loss))
	for _, sq := range loss {
		lost[sq] = struct{}{}
	}
	for _, e := range s.buffer {
		if _, ok := lost[e.header.SeqNo]; ok && !e.queuedRT {
			e.queuedRT = true
			s.retransmit = append(s.retransmit, e)
		}
	}
}

// CheckExpired scans the send buffer for entries whose deadline
// (created + latency + DropSlack) has passed and removes them,
// returning the dropped contiguous ranges to report via DropReq
// (spec.md §4.2).
func (s *Sender) CheckExpired(now time.Time) []wire.DropReqCIF {
	var ranges []wire.DropReqCIF
	var runStart, runEnd seqno.SeqNo
	inRun := false

	kept := s.buffer[:0]
	removedBeforeUnsent := 0
	for i, e := range s.buffer {
		deadline := e.created.Add(s.latency + s.cfg.DropSlack)
		if !deadline.After(now) {
			if i < s.unsentIdx {
				removedBeforeUnsent++
			}
			if inRun && runEnd.Inc() == e.header.SeqNo {
				runEnd = e.header.SeqNo
			} else {
				if inRun {
					ranges = append(ranges, wire.DropReqCIF{First: runStart, Last: runEnd})
				}
				runStart, runEnd = e.header.SeqNo, e.header.SeqNo
				inRun = true
			}
			continue
		}
		kept = append(kept, e)
	}
	if inRun {
		ranges = append(ranges, wire.DropReqCIF{First: runStart, Last: runEnd})
	}
	s.buffer = kept
	s.unsentIdx -= removedBeforeUnsent
	if s.unsentIdx < 0 {
		s.unsentIdx = 0
	}
	if len(s.buffer) > 0 {
		s.firstUnacked = s.buffer[0].header.SeqNo
	} else {
		s.firstUnacked = s.nextSeq
	}
	return ranges
}

// updateSND recomputes the pacing interval from the current bandwidth
// mode and reconfigures the underlying token-bucket limiter
// accordingly (spec.md §4.2).
func (s *Sender) updateSND(now time.Time) {
	var targetPktsPerSec float64
	switch s.mode {
	case BandwidthUnlimited:
		s.sndInterval = 0
		s.limiter.SetLimitAt(now, rate.Inf)
		return
	case BandwidthSet:
		if s.maxPayload > 0 {
			targetPktsPerSec = s.fixedBitsPS / 8 / float64(s.maxPayload)
		}
	default: // BandwidthInput
		targetPktsPerSec = s.inputRate.pktsPerSec() * (1 + s.overhead)
	}
	if targetPktsPerSec <= 0 {
		s.sndInterval = 0
		s.limiter.SetLimitAt(now, rate.Inf)
		return
	}
	s.sndInterval = time.Duration(float64(time.Second) / targetPktsPerSec)
	s.limiter.SetLimitAt(now, rate.Limit(targetPktsPerSec))
}

// Package sender implements the spec's sender engine: segmentation,
// the send buffer, retransmission, pacing, and live bandwidth
// estimation (spec.md §4.2).
//
// Grounded on the teacher's Session.SendQueue / Session.RecoveryQueue
// and HandleACK/HandleNACK (source/protocol/raknet.go), generalized
// from the teacher's raw uint32 sequence space to the modular 31-bit
// space in pkg/seqno, and on the teacher's "priority queue of unacked
// packets" idea for the retransmit-first pacing rule.
package sender

import "time"

// LiveBandwidthMode selects how the sender derives its target send
// rate, per spec.md §4.2.
type LiveBandwidthMode int

const (
	// BandwidthInput follows the measured input rate with an
	// overhead fraction applied on top.
	BandwidthInput LiveBandwidthMode = iota
	// BandwidthSet fixes the target rate regardless of input.
	BandwidthSet
	// BandwidthUnlimited disables pacing entirely (SND = 0).
	BandwidthUnlimited
)

// rateEstimator is an exponentially-weighted input-rate estimator
// over roughly the last 16 send intervals, per spec.md §4.2.
type rateEstimator struct {
	emaPktsPerSec float64
	lastSend      time.Time
}

// emaWindow approximates averaging over the last 16 intervals.
const emaWindow = 16

func (r *rateEstimator) sample(now time.Time) {
	if r.lastSend.IsZero() {
		r.lastSend = now
		return
	}
	dt := now.Sub(r.lastSend).Seconds()
	r.lastSend = now
	if dt <= 0 {
		return
	}
	inst := 1 / dt
	if r.emaPktsPerSec == 0 {
		r.emaPktsPerSec = inst
		return
	}
	const alpha = 1.0 / emaWindow
	r.emaPktsPerSec = alpha*inst + (1-alpha)*r.emaPktsPerSec
}

func (r *rateEstimator) pktsPerSec() float64 { return r.emaPktsPerSec }

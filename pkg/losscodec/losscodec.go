// Package losscodec implements the NAK wire compression scheme from
// spec.md §4.5: runs of consecutive lost sequence numbers are folded
// into a (start|MSB, end) pair of 32-bit words; singletons are emitted
// verbatim.
//
// Ported in spirit from original_source's
// srt-protocol/src/packet/control/loss_compression.rs
// (CompressLossList / DecompressLossList lazy iterators) into an
// eager Go encoder/decoder pair, keeping the same lookahead-of-one
// scanning strategy the Rust version uses so that no more than two
// sequence numbers are ever held in flight (spec.md §9,
// "Compression state"). The teacher's own ACK/NACK Encode methods
// (source/protocol/raknet.go) showed the idiomatic Go shape for a
// wire-codec pair returning plain []byte/[]uint32 — this package
// follows that shape, generalized to compressed runs.
package losscodec

import (
	"fmt"

	"github.com/halfwire/srt/pkg/seqno"
)

// OrderingViolation is returned by Encode when the input is not
// strictly ascending in modular order.
type OrderingViolation struct {
	Prev, Next seqno.SeqNo
}

func (e *OrderingViolation) Error() string {
	return fmt.Sprintf("losscodec: ordering violation: %d !< %d", uint32(e.Prev), uint32(e.Next))
}

// UnterminatedRun is returned by Decode when a run-start word (MSB
// set) is the last word in the input.
type UnterminatedRun struct {
	Start uint32
}

func (e *UnterminatedRun) Error() string {
	return fmt.Sprintf("losscodec: unterminated run starting at %d", e.Start&0x7FFFFFFF)
}

const runFlag = uint32(1) << 31

// Encode compresses a strictly-ascending (modular order) loss list
// into the compact wire representation. It panics with
// *OrderingViolation if xs is not strictly ascending — per spec.md §7
// this is a programmer error, not a runtime condition to recover from.
func Encode(xs []seqno.SeqNo) []uint32 {
	out := make([]uint32, 0, len(xs))

	i := 0
	for i < len(xs) {
		this := xs[i]

		// No successor: singleton, done.
		if i+1 >= len(xs) {
			out = append(out, uint32(this))
			i++
			continue
		}

		next := xs[i+1]
		if !this.Lt(next) {
			panic(&OrderingViolation{Prev: this, Next: next})
		}

		if next != this.Inc() {
			// No run starts here.
			out = append(out, uint32(this))
			i++
			continue
		}

		// A run starts at `this`; extend while consecutive.
		runStart := this
		j := i + 1
		for j+1 < len(xs) {
			cur := xs[j]
			nxt := xs[j+1]
			if !cur.Lt(nxt) {
				panic(&OrderingViolation{Prev: cur, Next: nxt})
			}
			if nxt != cur.Inc() {
				break
			}
			j++
		}
		runEnd := xs[j]

		out = append(out, uint32(runStart)|runFlag)
		out = append(out, uint32(runEnd))
		i = j + 1
	}

	return out
}

// Decode expands the compact wire representation back into the
// ascending sequence number list. Returns *UnterminatedRun if a
// run-start word has no following end word.
func Decode(words []uint32) ([]seqno.SeqNo, error) {
	out := make([]seqno.SeqNo, 0, len(words))

	for i := 0; i < len(words); i++ {
		w := words[i]
		if w&runFlag == 0 {
			out = append(out, seqno.NewSeqNo(w))
			continue
		}

		start := w &^ runFlag
		i++
		if i >= len(words) {
			return nil, &UnterminatedRun{Start: w}
		}
		end := words[i]

		for v := start; ; v = uint32(seqno.NewSeqNo(v).Inc()) {
			out = append(out, seqno.NewSeqNo(v))
			if v == end {
				break
			}
		}
	}

	return out, nil
}

// Package clock implements the per-session timer set of spec.md §4.4:
// SND (dynamic pacing), ACK (10ms), NAK (dynamic), KeepAlive (1s), and
// PeerIdle (5s). The packet-count-based LightAck trigger has no
// deadline and is not part of this set. Rather than one
// ticker per timer, a single cooperative loop computes the earliest
// deadline across the whole set and sleeps until it, matching the
// "single cooperative task per session" model of spec.md §5.
//
// Grounded on the teacher's server.go fixed-interval updateLoop /
// sessionCleanupLoop tickers (source/server/server.go), generalized
// from fixed periods to the dynamic NAK/SND deadlines this core needs,
// using time.Timer/select instead of time.Ticker so the sleep
// duration can change every iteration.
package clock

import (
	"context"
	"time"
)

// Kind identifies which timer fired.
type Kind int

const (
	KindSND Kind = iota
	KindAck
	KindNak
	KindKeepAlive
	KindPeerIdle
)

func (k Kind) String() string {
	switch k {
	case KindSND:
		return "snd"
	case KindAck:
		return "ack"
	case KindNak:
		return "nak"
	case KindKeepAlive:
		return "keepalive"
	case KindPeerIdle:
		return "peeridle"
	default:
		return "unknown"
	}
}

// Deadlines is the next-fire time for each timer the caller currently
// cares about; a zero Time means "not armed."
type Deadlines struct {
	SND       time.Time
	Ack       time.Time
	Nak       time.Time
	KeepAlive time.Time
	PeerIdle  time.Time
}

// Next blocks until the earliest armed deadline in d passes, ctx is
// cancelled, or now() says a deadline has already passed (returned
// instantly). It returns the Kind that fired.
func Next(ctx context.Context, d Deadlines, now func() time.Time) (Kind, error) {
	type candidate struct {
		kind Kind
		at   time.Time
	}
	var candidates []candidate
	add := func(k Kind, at time.Time) {
		if !at.IsZero() {
			candidates = append(candidates, candidate{k, at})
		}
	}
	add(KindSND, d.SND)
	add(KindAck, d.Ack)
	add(KindNak, d.Nak)
	add(KindKeepAlive, d.KeepAlive)
	add(KindPeerIdle, d.PeerIdle)

	if len(candidates) == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}

	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.at.Before(earliest.at) {
			earliest = c
		}
	}

	wait := earliest.at.Sub(now())
	if wait <= 0 {
		return earliest.kind, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return earliest.kind, nil
	}
}

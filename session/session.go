package session

import (
	"context"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"

	"github.com/halfwire/srt/internal/clock"
	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/internal/receiver"
	"github.com/halfwire/srt/internal/sender"
	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

// Session is the fundamental unit of spec.md §2: one connected
// endpoint running its handshake-derived settings, sender, receiver,
// and timers as a single cooperative task (here, a dgroup.Group of a
// few narrowly-scoped goroutines sharing one context, per the
// process-model expansion in SPEC_FULL.md §2).
type Session struct {
	id       xid.ID
	cfg      config.Config
	settings connection.Settings
	duplex   PacketDuplex

	inbound  chan wire.Endpoint
	outbound chan wire.Endpoint
	sendReqs chan sendReq
	recvOut  chan recvResult

	cancel context.CancelFunc
	group  *dgroup.Group
	doneCh chan struct{}

	shutdownOnce sync.Once
	runErr       error
}

type sendReq struct {
	payload []byte
	result  chan error
}

type recvResult struct {
	timestamp uint32
	payload   []byte
	err       error
}

// New starts a Session over duplex using a handshake-completed
// Connection Settings. The returned Session is immediately usable via
// Send/Recv; it runs until Shutdown or a fatal error (peer idle,
// shutdown received).
func New(ctx context.Context, cfg config.Config, settings connection.Settings, duplex PacketDuplex, mode sender.LiveBandwidthMode, overheadFraction float64) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       xid.New(),
		cfg:      cfg,
		settings: settings,
		duplex:   duplex,
		inbound:  make(chan wire.Endpoint, 64),
		outbound: make(chan wire.Endpoint, 64),
		sendReqs: make(chan sendReq),
		recvOut:  make(chan recvResult, 64),
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: false})
	s.group = grp

	grp.Go("inbound", s.pumpInbound)
	grp.Go("outbound", s.pumpOutbound)
	grp.Go("core", func(ctx context.Context) error {
		defer close(s.doneCh)
		defer close(s.recvOut)
		err := s.run(ctx, mode, overheadFraction)
		s.runErr = err
		return err
	})

	return s
}

// Settings returns the negotiated connection settings (spec.md §6).
func (s *Session) Settings() *connection.Settings { return &s.settings }

// Send appends a message to the sender's buffer; it fails if the
// session has begun shutting down (spec.md §6).
func (s *Session) Send(ctx context.Context, message []byte) error {
	result := make(chan error, 1)
	select {
	case s.sendReqs <- sendReq{payload: message, result: result}:
	case <-s.doneCh:
		return srterr.ErrSendAfterShutdown
	case <-ctx.Done():
		return srterr.ErrCancelled
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return srterr.ErrCancelled
	}
}

// Recv returns the payload of the next in-order released data packet
// (the fragments of a multi-packet message arrive as separate
// payloads), or an error once the session has ended (ErrShutdown on a
// clean peer close, ErrPeerIdle on timeout, ErrCancelled if ctx is
// done first).
func (s *Session) Recv(ctx context.Context) (uint32, []byte, error) {
	select {
	case r, ok := <-s.recvOut:
		if !ok {
			if s.runErr == srterr.ErrPeerIdle {
				return 0, nil, srterr.ErrPeerIdle
			}
			return 0, nil, srterr.ErrShutdown
		}
		return r.timestamp, r.payload, r.err
	case <-ctx.Done():
		return 0, nil, srterr.ErrCancelled
	}
}

// Shutdown requests graceful close (spec.md §5): it sends a Shutdown
// control straight to the peer over the duplex, then cancels the
// session. Packets still queued for the outbound pump are discarded,
// not flushed. It blocks until the core loop has exited, then fails
// any Send request the core loop had not yet taken with a combined
// error (the core loop's own exit reason plus the shutdown cause),
// mirroring telepresence's use
// of multierror to report more than one failure atomically from a
// single teardown path.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		notify, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.duplex.Send(notify, s.ctrl(wire.CtrlShutdown, 0, 0, time.Now(), nil), s.settings.RemoteAddr)
		cancel()
		s.cancel()
	})
	_ = s.group.Wait()

	cause := multierror.Append(nil, srterr.ErrSendAfterShutdown)
	if s.runErr != nil {
		cause = multierror.Append(cause, s.runErr)
	}
	for {
		select {
		case req := <-s.sendReqs:
			req.result <- cause.ErrorOrNil()
		default:
			return
		}
	}
}

func (s *Session) pumpInbound(ctx context.Context) error {
	for {
		pkt, addr, err := s.duplex.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			dlog.Errorf(ctx, "srt: session %s inbound recv: %v", s.id, err)
			continue
		}
		select {
		case s.inbound <- wire.Endpoint{Packet: pkt, Addr: addr}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) pumpOutbound(ctx context.Context) error {
	for {
		select {
		case e := <-s.outbound:
			if err := s.duplex.Send(ctx, e.Packet, e.Addr); err != nil {
				dlog.Errorf(ctx, "srt: session %s outbound send: %v", s.id, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) sendOutbound(ctx context.Context, pkt wire.Packet) {
	select {
	case s.outbound <- wire.Endpoint{Packet: pkt, Addr: s.settings.RemoteAddr}:
	case <-ctx.Done():
	}
}

// run is the session's single state-owning loop (spec.md §5's
// "single cooperative task," §9's "single-owner state"): it is the
// only goroutine that ever touches snd/rcv.
func (s *Session) run(ctx context.Context, mode sender.LiveBandwidthMode, overheadFraction float64) error {
	snd := sender.New(s.cfg, s.settings.MaxPayloadSize, s.settings.TSBPDLatency, s.settings.InitialSeq, mode, 0, overheadFraction)
	rcv := receiver.New(s.cfg, s.settings.TSBPDLatency, s.settings.InitialSeq)

	now := time.Now()
	lastInbound := now
	lastKeepAlive := now
	ackSentAt := make(map[uint32]time.Time)

	for {
		now = time.Now()

		for _, rel := range rcv.Release(now) {
			select {
			case s.recvOut <- recvResult{timestamp: rel.Timestamp, payload: rel.Payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if ackSeqNo, ok := rcv.ShouldFullAck(now); ok {
			rtt, rttvar := snd.RTT()
			cif := wire.AckCIF{
				NextExpected: rcv.NextExpected(),
				RTTMicro:     uint32(rtt.Microseconds()),
				RTTVarMicro:  uint32(rttvar.Microseconds()),
			}
			pkt := s.ctrl(wire.CtrlAck, wire.AckSubtypeFull, ackSeqNo, now, wire.EncodeAckCIF(&cif))
			s.sendOutbound(ctx, pkt)
			ackSentAt[ackSeqNo] = now
		} else if rcv.ShouldLightAck() {
			pkt := s.ctrl(wire.CtrlAck, wire.AckSubtypeLight, 0, now, wire.EncodeLightAckCIF(rcv.NextExpected()))
			s.sendOutbound(ctx, pkt)
		}

		if rcv.ShouldPeriodicNak(now) {
			if loss := rcv.LossListWords(); len(loss) > 0 {
				s.sendOutbound(ctx, s.ctrl(wire.CtrlNak, 0, 0, now, wire.EncodeNakCIF(loss)))
			}
		}

		for _, dr := range snd.CheckExpired(now) {
			s.sendOutbound(ctx, s.ctrl(wire.CtrlDropReq, 0, 0, now, wire.EncodeDropReqCIF(&dr)))
		}

		if now.Sub(lastKeepAlive) >= s.cfg.KeepAlive {
			s.sendOutbound(ctx, s.ctrl(wire.CtrlKeepAlive, 0, 0, now, nil))
			lastKeepAlive = now
		}

		if now.Sub(lastInbound) >= s.cfg.PeerIdleTimeout {
			return srterr.ErrPeerIdle
		}

		if snd.HasPending() {
			if pkt, ok := snd.Pace(now, s.settings.ElapsedMicro(now), s.settings.RemoteSocketID); ok {
				s.sendOutbound(ctx, wire.Packet{Data: &pkt})
			}
		}

		wait := s.nextWait(now, snd, rcv, lastKeepAlive, lastInbound)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case e := <-s.inbound:
			lastInbound = time.Now()
			if err := s.handleInbound(ctx, snd, rcv, e, ackSentAt, lastInbound); err != nil {
				return err
			}

		case req := <-s.sendReqs:
			snd.Send(req.payload, time.Now())
			req.result <- nil

		case <-time.After(wait):
			// loop again; periodic work above will catch up.
		}
	}
}

func (s *Session) nextWait(now time.Time, snd *sender.Sender, rcv *receiver.Receiver, lastKeepAlive, lastInbound time.Time) time.Duration {
	d := clock.Deadlines{
		Ack:       rcv.NextAckDeadline(),
		KeepAlive: lastKeepAlive.Add(s.cfg.KeepAlive),
		PeerIdle:  lastInbound.Add(s.cfg.PeerIdleTimeout),
	}
	if snd.HasPending() {
		d.SND = snd.NextPaceDeadline()
	}
	if at, ok := rcv.NextNakDeadline(); ok {
		d.Nak = at
	}
	earliest := d.Ack
	consider := func(t time.Time) {
		if !t.IsZero() && t.Before(earliest) {
			earliest = t
		}
	}
	consider(d.SND)
	consider(d.KeepAlive)
	consider(d.PeerIdle)
	consider(d.Nak)
	if at, ok := rcv.NextReleaseDeadline(); ok {
		consider(at)
	}
	if at, ok := snd.NextDropDeadline(); ok {
		consider(at)
	}

	wait := earliest.Sub(now)
	if wait <= 0 {
		return time.Microsecond
	}
	const maxPoll = 5 * time.Millisecond
	if wait > maxPoll {
		wait = maxPoll
	}
	return wait
}

func (s *Session) handleInbound(ctx context.Context, snd *sender.Sender, rcv *receiver.Receiver, e wire.Endpoint, ackSentAt map[uint32]time.Time, now time.Time) error {
	switch {
	case e.Packet.IsData():
		newLoss := rcv.Arrive(e.Packet.Data, now)
		if len(newLoss) > 0 {
			s.sendOutbound(ctx, s.ctrl(wire.CtrlNak, 0, 0, now, wire.EncodeNakCIF(newLoss)))
		}

	case e.Packet.IsCtrl():
		c := e.Packet.Ctrl
		switch c.Header.Type {
		case wire.CtrlAck:
			if c.Header.Subtype == wire.AckSubtypeLight {
				next, err := wire.DecodeLightAckCIF(c.CIF)
				if err != nil {
					return nil // malformed packet: drop, session continues (spec.md §7)
				}
				snd.HandleLightAck(next)
				break
			}
			cif, err := wire.DecodeAckCIF(c.CIF)
			if err != nil {
				return nil
			}
			hdr, ok := snd.HandleFullAck(c.Header.TypeInfo, cif.NextExpected, now)
			if ok {
				s.sendOutbound(ctx, wire.Packet{Ctrl: &wire.ControlPacket{Header: hdr}})
			}

		case wire.CtrlAckAck:
			if sentAt, ok := ackSentAt[c.Header.TypeInfo]; ok {
				rcv.SampleRTTFromAckAck(now.Sub(sentAt))
				delete(ackSentAt, c.Header.TypeInfo)
			}

		case wire.CtrlNak:
			loss, err := wire.DecodeNakCIF(c.CIF)
			if err != nil {
				return nil
			}
			snd.HandleNak(loss)

		case wire.CtrlDropReq:
			dr, err := wire.DecodeDropReqCIF(c.CIF)
			if err != nil {
				return nil
			}
			rcv.HandleDropReq(dr)

		case wire.CtrlShutdown:
			return srterr.ErrShutdown
		}
	}
	return nil
}

func (s *Session) ctrl(typ wire.ControlType, subtype uint16, typeInfo uint32, now time.Time, cif []byte) wire.Packet {
	return wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{
			Type:           typ,
			Subtype:        subtype,
			TypeInfo:       typeInfo,
			DestSocketID:   s.settings.RemoteSocketID,
			TimestampMicro: s.settings.ElapsedMicro(now),
		},
		CIF: cif,
	}}
}

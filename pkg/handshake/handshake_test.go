package handshake

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfwire/srt/pkg/srterr"
	"github.com/halfwire/srt/pkg/wire"
)

func addr(s string) net.Addr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return a
}

// TestLoopbackConnectAgreesOnMaxLatency steps a caller and a listener
// machine by hand through induction, conclusion and the conclusion
// reply, then checks that both settle on the larger proposed latency.
func TestLoopbackConnectAgreesOnMaxLatency(t *testing.T) {
	now := time.Unix(0, 0)
	secret, err := NewSecret()
	require.NoError(t, err)

	listenAddr := addr("127.0.0.1:8001")
	callerAddr := addr("127.0.0.1:20000")

	listener := NewListener(1, secret, 50*time.Millisecond, 3*time.Second, now)
	caller, err := NewCaller(2, listenAddr, 827*time.Millisecond, 3*time.Second, now)
	require.NoError(t, err)

	induction := caller.Start(now)
	require.Equal(t, listenAddr, induction.Addr)

	// listener receives the induction, replies with a cookie.
	outs, settled, err := listener.Handle(induction.Packet, callerAddr, now)
	require.NoError(t, err)
	require.Nil(t, settled)
	require.Len(t, outs, 1)

	// caller receives the induction reply, sends conclusion.
	outs, settled, err = caller.Handle(outs[0].Packet, listenAddr, now)
	require.NoError(t, err)
	require.Nil(t, settled)
	require.Len(t, outs, 1)

	// listener receives conclusion, completes and replies.
	outs, listenerSettings, err := listener.Handle(outs[0].Packet, callerAddr, now)
	require.NoError(t, err)
	require.NotNil(t, listenerSettings)
	require.Len(t, outs, 1)

	// caller receives the final conclusion, completes.
	_, callerSettings, err := caller.Handle(outs[0].Packet, listenAddr, now)
	require.NoError(t, err)
	require.NotNil(t, callerSettings)

	require.Equal(t, 827*time.Millisecond, listenerSettings.TSBPDLatency)
	require.Equal(t, 827*time.Millisecond, callerSettings.TSBPDLatency)
	require.Equal(t, StateConnected, listener.State())
	require.Equal(t, StateConnected, caller.State())
}

func TestListenerRejectsBadCookie(t *testing.T) {
	now := time.Unix(0, 0)
	secret, err := NewSecret()
	require.NoError(t, err)
	from := addr("127.0.0.1:3000")

	listener := NewListener(1, secret, 50*time.Millisecond, 3*time.Second, now)
	_, _, err = listener.Handle(wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: wire.CtrlHandshake},
		CIF: wire.EncodeHandshakeCIF(&wire.HandshakeCIF{
			Version: SRTVersion,
			Type:    wire.HsInduction,
		}),
	}}, from, now)
	require.NoError(t, err)

	// Conclusion with a cookie that was never issued must be dropped
	// silently (no error, no settings).
	_, settled, err := listener.Handle(wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: wire.CtrlHandshake},
		CIF: wire.EncodeHandshakeCIF(&wire.HandshakeCIF{
			Version: SRTVersion,
			Type:    wire.HsConclusion,
			Cookie:  0xdeadbeef,
			Ext:     wire.HandshakeExt{Present: true},
		}),
	}}, from, now)
	require.NoError(t, err)
	require.Nil(t, settled)
}

func TestListenerRejectsNonZeroCryptoSize(t *testing.T) {
	now := time.Unix(0, 0)
	secret, err := NewSecret()
	require.NoError(t, err)
	from := addr("127.0.0.1:3001")

	listener := NewListener(1, secret, 50*time.Millisecond, 3*time.Second, now)
	outs, _, err := listener.Handle(wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: wire.CtrlHandshake},
		CIF: wire.EncodeHandshakeCIF(&wire.HandshakeCIF{
			Version: SRTVersion,
			Type:    wire.HsInduction,
		}),
	}}, from, now)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	induction, err := wire.DecodeHandshakeCIF(outs[0].Packet.Ctrl.CIF)
	require.NoError(t, err)

	outs, settled, err := listener.Handle(wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: wire.CtrlHandshake},
		CIF: wire.EncodeHandshakeCIF(&wire.HandshakeCIF{
			Version:    SRTVersion,
			Type:       wire.HsConclusion,
			Cookie:     induction.Cookie,
			CryptoSize: 16,
			Ext:        wire.HandshakeExt{Present: true},
		}),
	}}, from, now)
	require.ErrorIs(t, err, srterr.ErrCryptoNotImplemented)
	require.Nil(t, settled)
	require.Len(t, outs, 1)
	rej, err := wire.DecodeHandshakeCIF(outs[0].Packet.Ctrl.CIF)
	require.NoError(t, err)
	require.Equal(t, wire.RejectCrypto, rej.Type)
	require.Equal(t, StateFailed, listener.State())
}

func TestHandshakeTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	secret, err := NewSecret()
	require.NoError(t, err)
	listener := NewListener(1, secret, 50*time.Millisecond, 3*time.Second, now)

	later := now.Add(4 * time.Second)
	_, _, err = listener.Handle(wire.Packet{Ctrl: &wire.ControlPacket{
		Header: wire.ControlHeader{Type: wire.CtrlHandshake},
		CIF: wire.EncodeHandshakeCIF(&wire.HandshakeCIF{
			Version: SRTVersion,
			Type:    wire.HsInduction,
		}),
	}}, addr("127.0.0.1:1"), later)
	require.ErrorIs(t, err, srterr.ErrHandshakeTimeout)
	require.Equal(t, StateFailed, listener.State())
}

func TestRendezvousTie(t *testing.T) {
	now := time.Unix(0, 0)
	secret := []byte("shared-secret-for-both-peers-32")
	a := addr("127.0.0.1:4001")
	b := addr("127.0.0.1:4002")

	// MakeCookie is a function of (secret, remote address, time
	// bucket), and here a's rendezvous machine is keyed on b's address
	// while b's is keyed on a's, so their derived cookies differ — to
	// force a genuine tie we hand both machines an identical cookie
	// directly.
	r1, err := NewRendezvous(1, b, secret, time.Millisecond, 3*time.Second, now)
	require.NoError(t, err)
	r2, err := NewRendezvous(2, a, secret, time.Millisecond, 3*time.Second, now)
	require.NoError(t, err)
	r2.LocalCookie = r1.LocalCookie // force the tie deterministically

	start1 := r1.Start(now)
	_, _, err = r2.Handle(start1.Packet, a, now)
	require.ErrorIs(t, err, ErrRendezvousTie)
}

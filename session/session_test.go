package session

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/google/go-cmp/cmp"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/internal/sender"
	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/srterr"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AckInterval = 5 * time.Millisecond
	cfg.NakFloor = 5 * time.Millisecond
	cfg.KeepAlive = 50 * time.Millisecond
	cfg.PeerIdleTimeout = 300 * time.Millisecond
	cfg.DropSlack = 5 * time.Second
	return cfg
}

func pairedSettings(latency time.Duration) (a, b connection.Settings) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9002}
	start := time.Now()
	a = connection.Settings{
		LocalSocketID:  1,
		RemoteSocketID: 2,
		RemoteAddr:     addrB,
		InitialSeq:     seqno.NewSeqNo(0),
		MaxPayloadSize: 64,
		TSBPDLatency:   latency,
		StartTime:      start,
	}
	b = connection.Settings{
		LocalSocketID:  2,
		RemoteSocketID: 1,
		RemoteAddr:     addrA,
		InitialSeq:     seqno.NewSeqNo(0),
		MaxPayloadSize: 64,
		TSBPDLatency:   latency,
		StartTime:      start,
	}
	return a, b
}

func newPeers(t *testing.T, latency time.Duration) (ctx context.Context, cancel context.CancelFunc, a, b *Session) {
	t.Helper()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	da, db := NewChannelPair(256)
	settingsA, settingsB := pairedSettings(latency)
	cfg := testConfig()
	a = New(ctx, cfg, settingsA, da, sender.BandwidthUnlimited, 0)
	b = New(ctx, cfg, settingsB, db, sender.BandwidthUnlimited, 0)
	return ctx, cancel, a, b
}

// TestEndToEndInOrderDelivery drives roughly the concrete scenario of
// spec.md §8 scenario 6: many small messages sent back to back arrive
// at the peer in order with identical payloads.
func TestEndToEndInOrderDelivery(t *testing.T) {
	ctx, cancel, a, b := newPeers(t, 20*time.Millisecond)
	defer cancel()
	defer a.Shutdown()
	defer b.Shutdown()

	const n = 50
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = fmt.Sprintf("message-%03d", i)
		require.NoError(t, a.Send(ctx, []byte(want[i])))
	}

	got := make([]string, 0, n)
	for i := 0; i < n; i++ {
		_, payload, err := b.Recv(ctx)
		require.NoError(t, err)
		got = append(got, string(payload))
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("delivered payloads mismatch (-want +got):\n%s", diff)
	}
}

// TestShutdownSurfacesAsErrShutdownToPeer confirms a clean local
// shutdown is observed by the remote peer's Recv as ErrShutdown
// (spec.md §6).
func TestShutdownSurfacesAsErrShutdownToPeer(t *testing.T) {
	ctx, cancel, a, b := newPeers(t, 10*time.Millisecond)
	defer cancel()
	defer b.Shutdown()

	require.NoError(t, a.Send(ctx, []byte("hello")))
	_, payload, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))

	a.Shutdown()

	// b receives a's Shutdown control, its core loop exits and its
	// recvOut channel closes; Recv reports ErrShutdown once drained
	// (or ErrPeerIdle, should b's idle timeout fire first).
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, _, err := b.Recv(ctx)
		if err == srterr.ErrShutdown || err == srterr.ErrPeerIdle {
			return
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	t.Fatal("peer never observed session end")
}

// TestSendAfterShutdownFails confirms Send rejects once Shutdown has
// begun (spec.md §6).
func TestSendAfterShutdownFails(t *testing.T) {
	ctx, cancel, a, b := newPeers(t, 10*time.Millisecond)
	defer cancel()
	defer b.Shutdown()

	a.Shutdown()
	err := a.Send(context.Background(), []byte("too late"))
	require.ErrorIs(t, err, srterr.ErrSendAfterShutdown)
}

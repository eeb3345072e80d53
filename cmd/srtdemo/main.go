// Command srtdemo is a minimal loopback demonstration of the core:
// two in-process peers, set up with fixed connection settings (no
// handshake is run), exchange a handful of messages over a
// channel-backed duplex, and shut down on SIGINT/
// SIGTERM. It is not a network-facing server — binding sockets and
// demultiplexing by destination socket-id across many peers sharing
// one socket is an external collaborator's job (spec.md §1).
//
// Grounded on the teacher's core/main.go (banner, load config, start,
// wait for signal, graceful stop), rendered with the pack's ambient
// stack in place of the teacher's bespoke logger/signal handling.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/internal/sender"
	"github.com/halfwire/srt/pkg/connection"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/session"
)

func main() {
	logrusLogger := logrus.New()
	logrusLogger.SetLevel(logrus.InfoLevel)
	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logrusLogger))

	cfg := config.Default()

	// admission is the demo's stand-in for the (out-of-scope)
	// multiplex server's bounded executor pool: every session it
	// would start acquires one slot before running and releases it on
	// exit, so MaxConcurrentSessions is a real gate even here.
	admission := semaphore.NewWeighted(cfg.MaxConcurrentSessions)

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
	grp.Go("demo", func(ctx context.Context) error {
		return runLoopback(ctx, cfg, admission)
	})

	if err := grp.Wait(); err != nil {
		dlog.Errorf(ctx, "srtdemo: %v", err)
		os.Exit(1)
	}
}

func runLoopback(ctx context.Context, cfg config.Config, admission *semaphore.Weighted) error {
	if err := admission.Acquire(ctx, 2); err != nil {
		return err
	}
	defer admission.Release(2)

	da, db := session.NewChannelPair(64)
	start := time.Now()

	settingsA := connection.Settings{
		LocalSocketID: 1, RemoteSocketID: 2,
		InitialSeq: seqno.NewSeqNo(0), MaxPayloadSize: 1316,
		TSBPDLatency: 120 * time.Millisecond, StartTime: start,
	}
	settingsB := connection.Settings{
		LocalSocketID: 2, RemoteSocketID: 1,
		InitialSeq: seqno.NewSeqNo(0), MaxPayloadSize: 1316,
		TSBPDLatency: 120 * time.Millisecond, StartTime: start,
	}

	a := session.New(ctx, cfg, settingsA, da, sender.BandwidthUnlimited, 0)
	b := session.New(ctx, cfg, settingsB, db, sender.BandwidthUnlimited, 0)
	defer a.Shutdown()
	defer b.Shutdown()

	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("ping %d", i)
		if err := a.Send(ctx, []byte(msg)); err != nil {
			return err
		}
		_, payload, err := b.Recv(ctx)
		if err != nil {
			return err
		}
		dlog.Infof(ctx, "srtdemo: received %q", payload)
	}
	return nil
}

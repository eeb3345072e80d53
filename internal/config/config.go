// Package config collects the tunable timer/window constants of
// spec.md §4.4 into one struct, overridable via environment variables
// through github.com/sethvargo/go-envconfig — the same library
// telepresenceio-telepresence uses for its own runtime configuration.
// This is purely the ambient "configuration" concern; defaults match
// the literal values spec.md names and change no behavior on their own.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the per-session timer and window tunables.
type Config struct {
	// AckInterval is the full-Ack period (spec.md §4.3): 10ms.
	AckInterval time.Duration `env:"SRT_ACK_INTERVAL,default=10ms"`

	// LightAckEvery is how many newly received packets trigger a
	// light ack (spec.md §4.3): 64.
	LightAckEvery uint32 `env:"SRT_LIGHT_ACK_EVERY,default=64"`

	// NakFloor is the minimum NAK timer period (spec.md §4.3): 20ms.
	// The live period is max(4*rtt+rttvar, NakFloor).
	NakFloor time.Duration `env:"SRT_NAK_FLOOR,default=20ms"`

	// KeepAlive is the keep-alive period (spec.md §4.4): 1s.
	KeepAlive time.Duration `env:"SRT_KEEPALIVE_INTERVAL,default=1s"`

	// PeerIdleTimeout is how long to wait for any inbound packet
	// before declaring the peer gone (spec.md §4.4): 5s.
	PeerIdleTimeout time.Duration `env:"SRT_PEER_IDLE_TIMEOUT,default=5s"`

	// HandshakeTimeout bounds pending-connection negotiation
	// (spec.md §4.1): 3s.
	HandshakeTimeout time.Duration `env:"SRT_HANDSHAKE_TIMEOUT,default=3s"`

	// DropSlack is the implementation slack added to
	// send-time+latency before a send-buffer entry is dropped
	// (spec.md §4.2).
	DropSlack time.Duration `env:"SRT_DROP_SLACK,default=10ms"`

	// MaxRetransmitFraction caps retransmits at this fraction of the
	// pacing window under extreme loss (spec.md §9, a suggested but
	// not mandated mitigation). 0 disables the cap.
	MaxRetransmitFraction float64 `env:"SRT_MAX_RETRANSMIT_FRACTION,default=0.5"`

	// MaxConcurrentSessions bounds the (externally owned) shared
	// executor pool; this core only reads the value, it does not
	// implement the pool itself (spec.md §5, §1: the multiplex
	// server is out of scope).
	MaxConcurrentSessions int64 `env:"SRT_MAX_CONCURRENT_SESSIONS,default=1024"`
}

// Default returns the zero-override configuration: the struct-tag
// defaults, ignoring the process environment.
func Default() Config {
	var c Config
	_ = envconfig.ProcessWith(context.Background(), &c, envconfig.MapLookuper(map[string]string{}))
	return c
}

// FromEnv loads a Config from the process environment, falling back
// to Default()'s values for anything unset.
func FromEnv(ctx context.Context) (Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

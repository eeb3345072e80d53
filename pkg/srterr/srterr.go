// Package srterr defines the error kinds of spec.md §7 as sentinel
// values, wrapped with github.com/pkg/errors at each boundary that
// adds context (peer address, socket-id) — the structured-cause
// upgrade of the teacher's own fmt.Errorf("...: %w", err) wrapping
// style (source/server/server.go Start), used the way
// telepresenceio-telepresence uses pkg/errors throughout its codebase.
package srterr

import "github.com/pkg/errors"

// Sentinel error kinds. Use errors.Is against these after unwrapping
// with github.com/pkg/errors.Cause or the standard errors.Is chain —
// pkg/errors.Wrap preserves the original error for both.
var (
	// ErrParse marks a malformed packet. Per spec.md §7 this never
	// kills a session: the packet is dropped and logged.
	ErrParse = errors.New("srt: malformed packet")

	// ErrHandshakeTimeout is returned when 3s pass without handshake
	// progress (spec.md §4.1).
	ErrHandshakeTimeout = errors.New("srt: handshake timed out")

	// ErrHandshakeRejected marks a rejected handshake: the peer sent a
	// rejection code, or its version is below MinSupportedVersion. The
	// rejection code itself is not carried in the error.
	ErrHandshakeRejected = errors.New("srt: handshake rejected")

	// ErrPeerIdle marks 5s without any inbound packet (spec.md §4.4).
	ErrPeerIdle = errors.New("srt: peer idle timeout")

	// ErrShutdown marks a peer-requested clean close, surfaced to the
	// application as EOF on recv.
	ErrShutdown = errors.New("srt: connection shut down by peer")

	// ErrOrderingViolation and ErrUnterminatedRun name the loss-codec
	// programmer errors of spec.md §4.5. pkg/losscodec does not return
	// these sentinels: Encode panics with its own *OrderingViolation and
	// Decode returns its own *UnterminatedRun. The session drops a Nak
	// whose CIF fails to decode as a malformed packet; nothing recovers
	// an Encode panic.
	ErrOrderingViolation = errors.New("srt: loss list is not strictly ascending")
	ErrUnterminatedRun   = errors.New("srt: unterminated loss-list run")

	// ErrInvalidCryptoSize marks a crypto size other than 0, 16, 24,
	// or 32. No code in this module returns it.
	ErrInvalidCryptoSize = errors.New("srt: invalid crypto size")

	// ErrCryptoNotImplemented is returned during handshake negotiation
	// when the peer requests non-zero payload encryption — payload
	// encryption is an explicit Non-goal (spec.md §9 Open questions).
	ErrCryptoNotImplemented = errors.New("srt: payload encryption is not implemented")

	// ErrCancelled is returned to a blocked send/recv when the local
	// session shuts down while the call was waiting.
	ErrCancelled = errors.New("srt: operation cancelled by local shutdown")

	// ErrSendAfterShutdown is returned by Session.Send once shutdown
	// has begun.
	ErrSendAfterShutdown = errors.New("srt: send after shutdown")
)

// Wrap attaches context to err using the given message, preserving it
// for errors.Is/As and errors.Cause.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Package session ties the handshake, sender, receiver, and timer
// components into the single cooperative per-connection task of
// spec.md §2/§5, exposing the small Session API of spec.md §6.
package session

import (
	"context"
	"net"

	"github.com/halfwire/srt/pkg/wire"
)

// PacketDuplex is the abstract packet transport a Session runs over —
// spec.md §2's "pure over an abstract packet duplex" requirement, so a
// session can be driven deterministically in tests without touching a
// real socket.
type PacketDuplex interface {
	Send(ctx context.Context, pkt wire.Packet, addr net.Addr) error
	Recv(ctx context.Context) (wire.Packet, net.Addr, error)
}

// ChannelDuplex is an in-memory PacketDuplex backed by Go channels,
// used by the session tests and cmd/srtdemo for deterministic
// two-peer scenarios (e.g. the in-order end-to-end delivery test).
type ChannelDuplex struct {
	out  chan<- wire.Endpoint
	in   <-chan wire.Endpoint
}

// NewChannelPair builds two ChannelDuplex values wired to each other:
// whatever peer A sends arrives on peer B's Recv, and vice versa.
func NewChannelPair(bufSize int) (a, b *ChannelDuplex) {
	ab := make(chan wire.Endpoint, bufSize)
	ba := make(chan wire.Endpoint, bufSize)
	a = &ChannelDuplex{out: ab, in: ba}
	b = &ChannelDuplex{out: ba, in: ab}
	return a, b
}

func (d *ChannelDuplex) Send(ctx context.Context, pkt wire.Packet, addr net.Addr) error {
	select {
	case d.out <- wire.Endpoint{Packet: pkt, Addr: addr}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *ChannelDuplex) Recv(ctx context.Context) (wire.Packet, net.Addr, error) {
	select {
	case e := <-d.in:
		return e.Packet, e.Addr, nil
	case <-ctx.Done():
		return wire.Packet{}, nil, ctx.Err()
	}
}

// UDPDuplex wraps a single unconnected *net.UDPConn. It is the thin
// transport adapter for the single-peer case; it is NOT a
// demultiplexing multiplex server — spec.md §1 places that out of
// scope, so routing by destination socket-id across many peers
// sharing one socket is left to an external collaborator.
type UDPDuplex struct {
	conn *net.UDPConn
	peer net.Addr
}

// NewUDPDuplex wraps conn. Send writes each packet with WriteTo to the
// address it is given, and Recv returns datagrams from any source
// address; peer is stored but neither method consults it.
func NewUDPDuplex(conn *net.UDPConn, peer net.Addr) *UDPDuplex {
	return &UDPDuplex{conn: conn, peer: peer}
}

func (d *UDPDuplex) Send(ctx context.Context, pkt wire.Packet, addr net.Addr) error {
	_, err := d.conn.WriteTo(wire.Encode(pkt), addr)
	return err
}

// recvBufSize is sized for the default 1500-byte maximum payload plus
// the 16-byte packet header (spec.md §6): 1516 bytes in all.
const recvBufSize = 1500 + 16

func (d *UDPDuplex) Recv(ctx context.Context) (wire.Packet, net.Addr, error) {
	buf := make([]byte, recvBufSize)
	n, addr, err := d.conn.ReadFrom(buf)
	if err != nil {
		return wire.Packet{}, nil, err
	}
	pkt, err := wire.Decode(buf[:n])
	if err != nil {
		return wire.Packet{}, addr, err
	}
	return pkt, addr, nil
}

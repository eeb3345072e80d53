package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/pkg/seqno"
	"github.com/halfwire/srt/pkg/wire"
)

func pkt(seq uint32, ts uint32, payload string) *wire.DataPacket {
	return &wire.DataPacket{
		Header: wire.DataHeader{
			SeqNo:          seqno.NewSeqNo(seq),
			Position:       wire.PositionSolo,
			TimestampMicro: ts,
		},
		Payload: []byte(payload),
	}
}

func TestInOrderArrivalReleasesImmediatelyAfterLatency(t *testing.T) {
	r := New(config.Default(), 20*time.Millisecond, seqno.NewSeqNo(0))
	start := time.Unix(0, 0)

	loss := r.Arrive(pkt(0, 0, "a"), start)
	require.Nil(t, loss)

	released := r.Release(start)
	require.Empty(t, released) // latency has not elapsed yet

	released = r.Release(start.Add(20 * time.Millisecond))
	require.Len(t, released, 1)
	require.Equal(t, "a", string(released[0].Payload))
}

func TestGapDetectedAndRecovered(t *testing.T) {
	r := New(config.Default(), 20*time.Millisecond, seqno.NewSeqNo(0))
	start := time.Unix(0, 0)

	r.Arrive(pkt(0, 0, "a"), start)
	loss := r.Arrive(pkt(2, 2000, "c"), start)
	require.Equal(t, []seqno.SeqNo{seqno.NewSeqNo(1)}, loss)
	require.Equal(t, 1, r.LossListSize())

	loss = r.Arrive(pkt(1, 1000, "b"), start)
	require.Nil(t, loss)
	require.Equal(t, 0, r.LossListSize())

	released := r.Release(start.Add(25 * time.Millisecond))
	require.Len(t, released, 3)
	require.Equal(t, "a", string(released[0].Payload))
	require.Equal(t, "b", string(released[1].Payload))
	require.Equal(t, "c", string(released[2].Payload))
}

func TestDuplicateDataDiscarded(t *testing.T) {
	r := New(config.Default(), 20*time.Millisecond, seqno.NewSeqNo(0))
	start := time.Unix(0, 0)
	r.Arrive(pkt(0, 0, "a"), start)
	r.Arrive(pkt(1, 1000, "b"), start)

	loss := r.Arrive(pkt(0, 0, "a-dup"), start)
	require.Nil(t, loss)

	released := r.Release(start.Add(21 * time.Millisecond))
	require.Len(t, released, 2)
	require.Equal(t, "a", string(released[0].Payload)) // not overwritten by the duplicate
}

func TestFullAckIntervalAndLightAckCounter(t *testing.T) {
	cfg := config.Default()
	r := New(cfg, 20*time.Millisecond, seqno.NewSeqNo(0))
	start := time.Unix(0, 0)

	_, ok := r.ShouldFullAck(start)
	require.True(t, ok)
	_, ok = r.ShouldFullAck(start.Add(1 * time.Millisecond))
	require.False(t, ok)
	_, ok = r.ShouldFullAck(start.Add(11 * time.Millisecond))
	require.True(t, ok)

	require.False(t, r.ShouldLightAck())
	for i := uint32(0); i < cfg.LightAckEvery; i++ {
		r.Arrive(pkt(i, i*1000, "x"), start)
	}
	require.True(t, r.ShouldLightAck())
	require.False(t, r.ShouldLightAck())
}

func TestHandleDropReqClearsLossList(t *testing.T) {
	r := New(config.Default(), 20*time.Millisecond, seqno.NewSeqNo(0))
	start := time.Unix(0, 0)
	r.Arrive(pkt(0, 0, "a"), start)
	r.Arrive(pkt(5, 5000, "f"), start)
	require.Equal(t, 4, r.LossListSize())

	r.HandleDropReq(&wire.DropReqCIF{First: seqno.NewSeqNo(1), Last: seqno.NewSeqNo(4)})
	require.Equal(t, 0, r.LossListSize())
}

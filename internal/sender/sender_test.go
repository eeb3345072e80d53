package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfwire/srt/internal/config"
	"github.com/halfwire/srt/pkg/seqno"
)

func newTestSender() *Sender {
	cfg := config.Default()
	return New(cfg, 1316, 120*time.Millisecond, seqno.NewSeqNo(0), BandwidthUnlimited, 0, 0.25)
}

func TestSendAssignsAscendingSequenceNumbers(t *testing.T) {
	s := newTestSender()
	now := time.Unix(0, 0)

	h1 := s.Send([]byte("hello"), now)
	h2 := s.Send([]byte("world"), now)
	require.Len(t, h1, 1)
	require.Len(t, h2, 1)
	require.True(t, h1[0].SeqNo.Lt(h2[0].SeqNo))
	require.NotEqual(t, h1[0].MsgNo, h2[0].MsgNo)
	require.Equal(t, 2, s.BufferedCount())
}

func TestSendFragmentsOversizedMessage(t *testing.T) {
	s := newTestSender()
	now := time.Unix(0, 0)
	payload := make([]byte, 3000)
	headers := s.Send(payload, now)
	require.Len(t, headers, 3) // 1316-byte chunks: 1316+1316+368
	require.Equal(t, headers[0].MsgNo, headers[1].MsgNo)
	require.Equal(t, headers[0].MsgNo, headers[2].MsgNo)
}

func TestPaceDrainsRetransmitsBeforeNewData(t *testing.T) {
	s := newTestSender()
	now := time.Unix(0, 0)

	h1 := s.Send([]byte("a"), now)
	s.Send([]byte("b"), now)

	pkt, ok := s.Pace(now, 0, 7)
	require.True(t, ok)
	require.Equal(t, h1[0].SeqNo, pkt.Header.SeqNo)

	// mark packet 1 lost; it must be retransmitted before packet 2
	// which has not been sent yet.
	s.HandleNak([]seqno.SeqNo{h1[0].SeqNo})

	pkt2, ok := s.Pace(now, 0, 7)
	require.True(t, ok)
	require.Equal(t, h1[0].SeqNo, pkt2.Header.SeqNo)
	require.True(t, pkt2.Header.Retransmitted)
}

func TestHandleAckRemovesAckedAndAdvancesFirstUnacked(t *testing.T) {
	s := newTestSender()
	now := time.Unix(0, 0)
	h1 := s.Send([]byte("a"), now)
	h2 := s.Send([]byte("b"), now)
	s.Pace(now, 0, 1)
	s.Pace(now, 0, 1)

	_, acked := s.HandleFullAck(1, h2[0].SeqNo, now.Add(5*time.Millisecond))
	require.True(t, acked)
	require.Equal(t, 1, s.BufferedCount())
	require.Equal(t, h2[0].SeqNo, s.FirstUnacked())
	_ = h1
}

func TestCheckExpiredDropsPastDeadline(t *testing.T) {
	s := newTestSender()
	now := time.Unix(0, 0)
	s.Send([]byte("a"), now)
	s.Send([]byte("b"), now)

	ranges := s.CheckExpired(now.Add(200 * time.Millisecond))
	require.Len(t, ranges, 1)
	require.Equal(t, 0, s.BufferedCount())
}

func TestSequenceNumberWrapAcrossSend(t *testing.T) {
	cfg := config.Default()
	near := seqno.NewSeqNo(seqno.SeqModulo - 1)
	s := New(cfg, 1500, 120*time.Millisecond, near, BandwidthUnlimited, 0, 0.25)
	now := time.Unix(0, 0)
	h1 := s.Send([]byte("a"), now)
	h2 := s.Send([]byte("b"), now)
	require.Equal(t, seqno.SeqNo(seqno.SeqModulo-1), h1[0].SeqNo)
	require.Equal(t, seqno.NewSeqNo(0), h2[0].SeqNo)
	require.True(t, h1[0].SeqNo.Lt(h2[0].SeqNo))
}

package wire

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/halfwire/srt/pkg/seqno"
)

func TestDataPacketRoundtrip(t *testing.T) {
	p := &DataPacket{
		Header: DataHeader{
			SeqNo:          seqno.NewSeqNo(123456),
			MsgNo:          seqno.NewMsgNo(42),
			Position:       PositionFirst,
			InOrder:        true,
			Retransmitted:  false,
			DestSocketID:   0xdeadbeef,
			TimestampMicro: 999,
		},
		Payload: []byte("hello srt"),
	}
	b := EncodeData(p)
	got, err := DecodeData(b)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestControlDispatch(t *testing.T) {
	b := EncodeData(&DataPacket{Header: DataHeader{SeqNo: 1}})
	require.False(t, IsControl(b))

	cp := &ControlPacket{
		Header: ControlHeader{Type: CtrlAck, DestSocketID: 7, TimestampMicro: 55},
		CIF:    EncodeAckCIF(&AckCIF{NextExpected: seqno.NewSeqNo(10)}),
	}
	cb := EncodeControl(cp)
	require.True(t, IsControl(cb))

	pkt, err := Decode(cb)
	require.NoError(t, err)
	require.True(t, pkt.IsCtrl())
	require.Equal(t, CtrlAck, pkt.Ctrl.Header.Type)

	ack, err := DecodeAckCIF(pkt.Ctrl.CIF)
	require.NoError(t, err)
	require.Equal(t, seqno.NewSeqNo(10), ack.NextExpected)
}

func TestHandshakeCIFRoundtripIPv4(t *testing.T) {
	h := &HandshakeCIF{
		Version:         0x00010400,
		CryptoSize:      0,
		InitialSeq:      seqno.NewSeqNo(777),
		MaxTransmission: 1500,
		MaxFlowWindow:   8192,
		Type:            HsConclusion,
		SocketID:        55,
		Cookie:          0xabcdef01,
		PeerAddr:        net.ParseIP("127.0.0.1"),
		Ext: HandshakeExt{
			Present:          true,
			SRTVersion:       0x010502,
			SendTSBPDLatency: 827,
			RecvTSBPDLatency: 50,
		},
	}
	b := EncodeHandshakeCIF(h)
	got, err := DecodeHandshakeCIF(b)
	require.NoError(t, err)
	require.Equal(t, h.Cookie, got.Cookie)
	require.Equal(t, h.Type, got.Type)
	require.True(t, got.PeerAddr.Equal(h.PeerAddr))
	require.Equal(t, h.Ext, got.Ext)
}

func TestNakCIFRoundtrip(t *testing.T) {
	loss := []seqno.SeqNo{10, 11, 12, 20}
	b := EncodeNakCIF(loss)
	got, err := DecodeNakCIF(b)
	require.NoError(t, err)
	require.Equal(t, loss, got)
}

func TestDropReqCIFRoundtrip(t *testing.T) {
	d := &DropReqCIF{First: seqno.NewSeqNo(5), Last: seqno.NewSeqNo(9)}
	b := EncodeDropReqCIF(d)
	got, err := DecodeDropReqCIF(b)
	require.NoError(t, err)
	require.Equal(t, d, got)
}

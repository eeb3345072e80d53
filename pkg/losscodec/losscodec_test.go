package losscodec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfwire/srt/pkg/seqno"
)

func seqs(vs ...uint32) []seqno.SeqNo {
	out := make([]seqno.SeqNo, len(vs))
	for i, v := range vs {
		out[i] = seqno.NewSeqNo(v)
	}
	return out
}

const msb = uint32(1) << 31

// scenario 1 from spec.md §8: a single run.
func TestEncodeLossRun(t *testing.T) {
	in := seqs(13, 14, 15, 16, 17, 18, 19)
	got := Encode(in)
	want := []uint32{13 | msb, 19}
	assert.Equal(t, want, got)

	back, err := Decode(got)
	require.NoError(t, err)
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

// scenario 2 from spec.md §8: mixed runs and singletons.
func TestEncodeMixedRuns(t *testing.T) {
	in := seqs(1, 2, 3, 4, 5, 9, 11, 12, 13, 16, 17)
	got := Encode(in)
	want := []uint32{1 | msb, 5, 9, 11 | msb, 13, 16 | msb, 17}
	assert.Equal(t, want, got)

	back, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

// scenario 3: invalid ordering panics.
func TestEncodeInvalidOrdering(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic for descending input")
		_, ok := r.(*OrderingViolation)
		assert.True(t, ok, "panic value should be *OrderingViolation, got %T", r)
	}()
	Encode(seqs(10, 1))
}

// scenario 4: unterminated run fails to decode.
func TestDecodeUnterminatedRun(t *testing.T) {
	_, err := Decode([]uint32{10 | msb})
	require.Error(t, err)
	var ur *UnterminatedRun
	assert.ErrorAs(t, err, &ur)
}

func TestEncodeEmpty(t *testing.T) {
	got := Encode(nil)
	assert.Empty(t, got)
}

func TestEncodeSingleton(t *testing.T) {
	in := seqs(42)
	got := Encode(in)
	assert.Equal(t, []uint32{42}, got)
}

func TestRoundtripAcrossWrap(t *testing.T) {
	top := seqno.NewSeqNo(seqno.SeqModulo - 2)
	in := []seqno.SeqNo{top, top.Inc(), top.Inc().Inc()}
	got := Encode(in)
	back, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestBulkLossFitsCompactly(t *testing.T) {
	n := 1500
	in := make([]seqno.SeqNo, n)
	for i := 0; i < n; i++ {
		in[i] = seqno.NewSeqNo(uint32(1000 + i))
	}
	got := Encode(in)
	// A single contiguous run of any length compresses to exactly two words.
	assert.Len(t, got, 2)
}

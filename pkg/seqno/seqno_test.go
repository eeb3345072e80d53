package seqno

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModularCompare(t *testing.T) {
	a := NewSeqNo(5)
	b := NewSeqNo(10)
	assert.True(t, a.Lt(b))
	assert.False(t, b.Lt(a))
	assert.True(t, a.Lte(a))
}

func TestSeqWraparound(t *testing.T) {
	// next_to_send crossing 2^31-1 -> 0 must still compare correctly.
	top := NewSeqNo(SeqModulo - 1)
	wrapped := top.Inc()
	require.Equal(t, SeqNo(0), wrapped)
	assert.True(t, top.Lt(wrapped), "wrapped successor must compare greater near the window edge")
	assert.False(t, wrapped.Lt(top))
}

func TestMsgWraparound(t *testing.T) {
	top := NewMsgNo(MsgModulo - 1)
	wrapped := top.Inc()
	require.Equal(t, MsgNo(0), wrapped)
	assert.True(t, top.Lt(wrapped))
}

func TestInRange(t *testing.T) {
	lo := NewSeqNo(100)
	hi := NewSeqNo(110)
	assert.True(t, InRange(lo, NewSeqNo(105), hi))
	assert.False(t, InRange(lo, NewSeqNo(110), hi))
	assert.False(t, InRange(lo, NewSeqNo(99), hi))
}

func TestInRangeAcrossWrap(t *testing.T) {
	lo := NewSeqNo(SeqModulo - 5)
	hi := lo.Add(10)
	assert.True(t, InRange(lo, lo.Add(3), hi))
	assert.True(t, InRange(lo, hi.Add(-1), hi))
}

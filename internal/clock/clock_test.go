package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextFiresEarliestDeadline(t *testing.T) {
	base := time.Unix(0, 0)
	d := Deadlines{
		SND:       base.Add(50 * time.Millisecond),
		Ack:       base.Add(5 * time.Millisecond),
		KeepAlive: base.Add(time.Second),
	}
	kind, err := Next(context.Background(), d, func() time.Time { return base })
	require.NoError(t, err)
	require.Equal(t, KindAck, kind)
}

func TestNextReturnsInstantlyForPastDeadline(t *testing.T) {
	base := time.Unix(0, 0)
	d := Deadlines{Nak: base.Add(-time.Millisecond)}
	start := time.Now()
	kind, err := Next(context.Background(), d, func() time.Time { return base })
	require.NoError(t, err)
	require.Equal(t, KindNak, kind)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestNextHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Next(ctx, Deadlines{}, time.Now)
	require.ErrorIs(t, err, context.Canceled)
}

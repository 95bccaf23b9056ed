package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDropsOldest(t *testing.T) {
	b := newBroadcaster(2)
	ch := b.subscribe(context.Background())

	for seq := uint64(1); seq <= 5; seq++ {
		b.publish(Update{Seq: seq})
	}

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(4), first.Seq)
	assert.Equal(t, uint64(5), second.Seq)
}

func TestBroadcasterFansOut(t *testing.T) {
	b := newBroadcaster(4)
	a := b.subscribe(context.Background())
	c := b.subscribe(context.Background())

	b.publish(Update{Seq: 1})

	assert.Equal(t, uint64(1), (<-a).Seq)
	assert.Equal(t, uint64(1), (<-c).Seq)
}

func TestBroadcasterUnsubscribesOnCancel(t *testing.T) {
	b := newBroadcaster(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.subscribe(ctx)
	require.Equal(t, 1, b.count())

	cancel()
	require.Eventually(t, func() bool { return b.count() == 0 }, time.Second, time.Millisecond)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is harmless.
	b.publish(Update{Seq: 1})
}

package ack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalongame/realtime"
)

func TestRegisterAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	c := New()

	var prev uint64
	for i := 0; i < 100; i++ {
		id, _ := c.Register()
		if i > 0 {
			require.Greater(t, id, prev, "ids must increase")
		}
		prev = id
	}
	assert.Equal(t, 100, c.Pending())
}

func TestResolveDeliversExactlyOnce(t *testing.T) {
	t.Parallel()

	c := New()
	id, ch := c.Register()

	data, err := realtime.MarshalArgs(map[string]bool{"pong": true})
	require.NoError(t, err)

	assert.True(t, c.Resolve(id, data))
	assert.False(t, c.Resolve(id, data), "second resolve must find no entry")

	got := <-ch
	assert.Equal(t, data, got)
	assert.Equal(t, 0, c.Pending())
}

func TestResolveUnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	c := New()
	assert.False(t, c.Resolve(42, nil))
	assert.Equal(t, 0, c.Pending())
}

func TestForgetDropsEntry(t *testing.T) {
	t.Parallel()

	c := New()
	id, _ := c.Register()
	c.Forget(id)

	assert.False(t, c.Resolve(id, nil), "forgotten id must behave like a stray reply")
}

func TestResetAbandonsAllPending(t *testing.T) {
	t.Parallel()

	c := New()
	ids := make([]uint64, 5)
	for i := range ids {
		ids[i], _ = c.Register()
	}

	c.Reset()
	assert.Equal(t, 0, c.Pending())
	for _, id := range ids {
		assert.False(t, c.Resolve(id, nil))
	}

	// Ids keep increasing after a reset.
	id, _ := c.Register()
	assert.Greater(t, id, ids[len(ids)-1])
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	t.Parallel()

	c := New()
	id, ch := c.Register()

	data, err := realtime.MarshalArgs("ok")
	require.NoError(t, err)

	const racers = 32
	var (
		wg   sync.WaitGroup
		hits int64
		mu   sync.Mutex
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Resolve(id, data) {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, hits, "exactly one racer may resolve")
	assert.Len(t, <-ch, 1)
}

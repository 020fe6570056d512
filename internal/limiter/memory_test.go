package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlocksAfterMaxFails(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Hour, 3, 10*time.Minute)
	m.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, "k")
		require.NoError(t, err)
		assert.False(t, blocked, "failure %d", i+1)
	}
	blocked, dur, err := m.Failure(ctx, "k")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, 10*time.Minute, dur)

	ok, retry, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, retry)

	ok, _, _ = m.Allow(ctx, "other")
	assert.True(t, ok)

	now = now.Add(11 * time.Minute)
	ok, _, _ = m.Allow(ctx, "k")
	assert.True(t, ok)
}

func TestMemorySuccessResets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour, 2, time.Minute)

	blocked, _, _ := m.Failure(ctx, "k")
	require.False(t, blocked)
	require.NoError(t, m.Success(ctx, "k"))

	blocked, _, _ = m.Failure(ctx, "k")
	assert.False(t, blocked)
}

func TestMemoryPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Hour, 2, 10*time.Minute)
	m.now = func() time.Time { return now }

	_, _, err := m.Failure(ctx, "a")
	require.NoError(t, err)
	n, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Hour)
	n, err = m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type countingPruner struct{ calls chan struct{} }

func (p countingPruner) Prune(context.Context) (int64, error) {
	select {
	case p.calls <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestPruneEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := countingPruner{calls: make(chan struct{}, 8)}
	done := make(chan struct{})
	go func() {
		PruneEvery(ctx, p, time.Millisecond, nil)
		close(done)
	}()
	for i := 0; i < 2; i++ {
		select {
		case <-p.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("prune not called")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PruneEvery did not stop")
	}
}

var (
	_ Pruner = (*Memory)(nil)
	_ Pruner = (*PG)(nil)
)

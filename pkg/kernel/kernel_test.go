package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimGrantsIdleSlotImmediately(t *testing.T) {
	s := NewSlot("llm")

	token, release, err := s.Claim(context.Background(), 0, "select 1")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.False(t, token.Cancelled())

	release()
	key, held := s.CurrentKey()
	assert.False(t, held)
	assert.Empty(t, key)
}

func TestClaimSameKeySamePriorityReturnsErrSameKeyBusy(t *testing.T) {
	s := NewSlot("llm")

	_, release, err := s.Claim(context.Background(), 0, "select 1")
	require.NoError(t, err)
	defer release()

	_, _, err = s.Claim(context.Background(), 0, "select 1")
	assert.ErrorIs(t, err, ErrSameKeyBusy)
}

func TestClaimHigherPriorityPreemptsCurrentHolder(t *testing.T) {
	s := NewSlot("llm")

	tokenA, releaseA, err := s.Claim(context.Background(), 0, "select 1")
	require.NoError(t, err)
	defer releaseA()
	assert.False(t, tokenA.Cancelled())

	tokenB, releaseB, err := s.Claim(context.Background(), 1, "select 2")
	require.NoError(t, err)
	defer releaseB()

	assert.True(t, tokenA.Cancelled())
	assert.ErrorIs(t, tokenA.Err(), ErrPreempted)
	assert.False(t, tokenB.Cancelled())
}

func TestClaimDifferentKeySamePriorityAlsoPreempts(t *testing.T) {
	s := NewSlot("db")

	tokenA, releaseA, err := s.Claim(context.Background(), 1, "select a")
	require.NoError(t, err)
	defer releaseA()

	tokenB, releaseB, err := s.Claim(context.Background(), 1, "select b")
	require.NoError(t, err)
	defer releaseB()

	assert.True(t, tokenA.Cancelled())
	assert.False(t, tokenB.Cancelled())
}

func TestReleaseIsNoOpAfterPreemption(t *testing.T) {
	s := NewSlot("llm")

	_, releaseA, err := s.Claim(context.Background(), 0, "select 1")
	require.NoError(t, err)

	_, releaseB, err := s.Claim(context.Background(), 1, "select 2")
	require.NoError(t, err)

	releaseA()
	key, held := s.CurrentKey()
	require.True(t, held)
	assert.Equal(t, "select 2", key)

	releaseB()
	_, held = s.CurrentKey()
	assert.False(t, held)
}

func TestCancelTokenContextCancelledOnPreemption(t *testing.T) {
	s := NewSlot("llm")

	tokenA, releaseA, err := s.Claim(context.Background(), 0, "select 1")
	require.NoError(t, err)
	defer releaseA()

	_, releaseB, err := s.Claim(context.Background(), 1, "select 2")
	require.NoError(t, err)
	defer releaseB()

	select {
	case <-tokenA.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("expected tokenA's context to be cancelled on preemption")
	}
	assert.True(t, errors.Is(context.Cause(tokenA.Context()), ErrPreempted))
}

func TestBackgroundWorkerReplaysOnNotify(t *testing.T) {
	dbSlot := NewSlot("db")
	var mu sync.Mutex
	var got string
	done := make(chan struct{}, 1)

	worker := NewBackgroundWorker(dbSlot, func(ctx context.Context, lastSQL string) {
		mu.Lock()
		got = lastSQL
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.Notify("SELECT 1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background worker did not replay within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "SELECT 1", got)
}

func TestBackgroundWorkerSkipsReplayWhenSameKeyAlreadyForeground(t *testing.T) {
	dbSlot := NewSlot("db")
	replayed := make(chan struct{}, 1)

	worker := NewBackgroundWorker(dbSlot, func(ctx context.Context, lastSQL string) {
		replayed <- struct{}{}
	})

	_, release, err := dbSlot.Claim(context.Background(), 0, "SELECT busy")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	worker.Notify("SELECT busy")

	select {
	case <-replayed:
		t.Fatal("background worker should not preempt a same-key foreground holder")
	case <-time.After(200 * time.Millisecond):
	}
}

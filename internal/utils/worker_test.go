package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

type keyedTask struct {
	key  string
	seq  int
	done *sync.WaitGroup
}

func TestWorkerPool_SlotIsStable(t *testing.T) {
	pool := NewWorkerPool(8, 0)
	for _, key := range []string{"AAPL", "NVDA", "MSFT", ""} {
		slot := pool.Slot(key)
		assert.GreaterOrEqual(t, slot, 0)
		assert.Less(t, slot, 8)
		assert.Equal(t, slot, pool.Slot(key))
	}
	assert.Equal(t, 1, NewWorkerPool(0, 0).Size())
}

func TestWorkerPool_KeyOrderPreserved(t *testing.T) {
	pool := NewWorkerPool(4, 16)
	tb, _ := tomb.WithContext(context.Background())

	var mu sync.Mutex
	seen := make(map[string][]int)
	pool.Setup(tb, func(_ *tomb.Tomb, task any) error {
		kt := task.(keyedTask)
		mu.Lock()
		seen[kt.key] = append(seen[kt.key], kt.seq)
		mu.Unlock()
		kt.done.Done()
		return nil
	})

	var wg sync.WaitGroup
	keys := []string{"AAPL", "NVDA", "MSFT"}
	for seq := range 100 {
		for _, key := range keys {
			wg.Add(1)
			require.NoError(t, pool.AddTask(tb, key, keyedTask{key: key, seq: seq, done: &wg}))
		}
	}
	wg.Wait()

	for _, key := range keys {
		require.Len(t, seen[key], 100)
		for i, seq := range seen[key] {
			assert.Equal(t, i, seq, "tasks for %s reordered", key)
		}
	}

	tb.Kill(nil)
	assert.NoError(t, tb.Wait())
}

func TestWorkerPool_ErrorKillsPool(t *testing.T) {
	pool := NewWorkerPool(2, 1)
	tb, _ := tomb.WithContext(context.Background())
	boom := errors.New("boom")

	pool.Setup(tb, func(_ *tomb.Tomb, task any) error {
		return boom
	})
	require.NoError(t, pool.AddTask(tb, "AAPL", struct{}{}))

	select {
	case <-tb.Dead():
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
	assert.ErrorIs(t, tb.Err(), boom)
	assert.ErrorIs(t, pool.AddTask(tb, "AAPL", struct{}{}), ErrPoolStopped)
}

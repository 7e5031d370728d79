package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultron/internal/command"
)

func TestFIFO(t *testing.T) {
	q := New(4)
	q.Push(command.NewUtterance("one"))
	q.Push(command.NewUtterance("two"))
	q.Push(command.NewUtterance("three"))

	for _, want := range []string{"one", "two", "three"} {
		u, ok := q.Pop(time.Second)
		require.True(t, ok)
		assert.Equal(t, want, u.Text)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	q := New(3)
	assert.False(t, q.Push(command.NewUtterance("a")))
	assert.False(t, q.Push(command.NewUtterance("b")))
	assert.False(t, q.Push(command.NewUtterance("c")))
	assert.True(t, q.Push(command.NewUtterance("d"))) // evicts "a"

	assert.Equal(t, 3, q.Len())

	u, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "b", u.Text)
}

func TestBoundNeverExceeded(t *testing.T) {
	q := New(5)
	for i := 0; i < 50; i++ {
		q.Push(command.NewUtterance(fmt.Sprintf("u%d", i)))
		assert.LessOrEqual(t, q.Len(), q.Cap())
	}
}

func TestPopTimesOutEmpty(t *testing.T) {
	q := New(2)
	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPopWakesOnPush(t *testing.T) {
	q := New(2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(command.NewUtterance("late"))
	}()
	u, ok := q.Pop(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", u.Text)
}

func TestConcurrentProducersKeepBound(t *testing.T) {
	q := New(8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				q.Push(command.NewUtterance(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()
	assert.LessOrEqual(t, q.Len(), q.Cap())
}

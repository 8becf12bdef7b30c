package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushPopOrder(t *testing.T) {
	q := New[int](3)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	require.Equal(t, 3, q.Len())
	require.Equal(t, 1, q.Pop())
	require.Equal(t, 2, q.Pop())
	require.Equal(t, 3, q.Pop())
	require.Equal(t, 0, q.Len())
}

func TestTryPeekEmpty(t *testing.T) {
	q := New[string](1)
	_, ok := q.TryPeek()
	require.False(t, ok)

	q.Push("a")
	v, ok := q.TryPeek()
	require.True(t, ok)
	require.Equal(t, "a", v)
	require.Equal(t, 1, q.Len(), "peek must not remove the element")
}

func TestPushBlocksUntilSpace(t *testing.T) {
	q := New[int](1)
	q.Push(1)

	done := make(chan struct{})
	go func() {
		q.Push(2)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("push on a full queue should not have returned yet")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 1, q.Pop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push should have unblocked after a pop freed space")
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	q := New[int](4)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	sum := 0
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			sum += q.Pop()
		}
	}()
	wg.Wait()
	require.Equal(t, n*(n-1)/2, sum)
}

func TestNewPanicsOnZeroSize(t *testing.T) {
	require.Panics(t, func() { New[int](0) })
}

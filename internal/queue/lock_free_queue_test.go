package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stateItem struct {
	Name string
}

func TestLockFreeQueue(t *testing.T) {
	assert := assert.New(t)
	t.Run("Empty Queue", func(t *testing.T) {
		q := NewLockFree[*stateItem]()

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())

		item, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(item)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewLockFree[*stateItem]()

		item1 := &stateItem{"released-open"}
		q.Enqueue(item1)
		assert.False(q.IsEmpty())
		assert.Equal(1, q.Length())

		item2 := &stateItem{"blocked-closed"}
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		dequeued1, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item1, dequeued1)
		assert.Equal(1, q.Length())

		dequeued2, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(item2, dequeued2)
		assert.True(q.IsEmpty())

		dequeued3, ok := q.Dequeue()
		assert.False(ok)
		assert.Nil(dequeued3)
		assert.True(q.IsEmpty())
	})

	t.Run("Zero Value", func(t *testing.T) {
		q := NewLockFree[int]()

		q.Enqueue(0)
		item, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal(0, item)

		item, ok = q.Dequeue()
		assert.False(ok)
		assert.Equal(0, item)
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewLockFree[int]()

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				q.Enqueue(i)
			}(i)
		}
		wg.Wait()

		assert.Equal(1000, q.Length())

		wg.Add(1000)
		for i := 0; i < 1000; i++ {
			go func() {
				defer wg.Done()
				_, _ = q.Dequeue()
			}()
		}
		wg.Wait()

		assert.True(q.IsEmpty())
	})

	t.Run("Produce While Consume", func(t *testing.T) {
		q := NewLockFree[int]()

		const total = 500
		done := make(chan []int)
		go func() {
			got := make([]int, 0, total)
			for len(got) < total {
				item, ok := q.Dequeue()
				if !ok {
					continue
				}
				got = append(got, item)
			}
			done <- got
		}()

		for i := 0; i < total; i++ {
			q.Enqueue(i)
		}

		got := <-done
		for i, item := range got {
			assert.Equal(i, item)
		}
	})
}

func BenchmarkLockFreeQueue_100(b *testing.B) {
	benchLockFreeQueue(b, 100)
}

func BenchmarkChannelBuffered_100(b *testing.B) {
	benchChannel(b, 100)
}

func benchLockFreeQueue(b *testing.B, iterCount int) {
	q := NewLockFree[int]()

	// warm up queue
	for i := 0; i < iterCount; i++ {
		q.Enqueue(i)
	}

	for i := 0; i < iterCount; i++ {
		_, _ = q.Dequeue()
	}

	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func(q Queue[int]) {
			for {
				item, ok := q.Dequeue()
				if !ok {
					continue
				}
				if item == iterCount {
					close(stopCh)
					return
				}
			}
		}(q)

		for i := 0; i < iterCount; i++ {
			q.Enqueue(i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}

func benchChannel(b *testing.B, iterCount int) {
	input := make(chan int, iterCount)
	b.ResetTimer()
	for i := 0; i <= b.N; i++ {
		stopCh := make(chan struct{})
		go func(input chan int) {
			for data := range input {
				if data == iterCount {
					close(stopCh)
					return
				}
			}
		}(input)

		for i := 0; i < iterCount; i++ {
			input <- (i + 1)
		}
		<-stopCh
	}
	b.StopTimer()
}

package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5000; i++ {
		assert.True(t, q.Push(i))
	}
	for i := 0; i < 5000; i++ {
		v, ok := q.Pop(time.Millisecond)
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
}

func TestQueuePopTimesOut(t *testing.T) {
	q := NewQueue[int]()
	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := NewQueue[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(7)
	}()
	v, ok := q.Pop(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)
	q.Close()
	assert.False(t, q.Push(2))

	v, ok := q.Pop(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	start := time.Now()
	_, ok = q.Pop(time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

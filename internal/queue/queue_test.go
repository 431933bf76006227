package queue

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("MinHeap", func(t *testing.T) {
		pq := &PriorityQueue{Order: false}
		heap.Init(pq)

		heap.Push(pq, &PriorityQueueItem{Node: 0, Distance: 3.0})
		heap.Push(pq, &PriorityQueueItem{Node: 1, Distance: 1.0})
		heap.Push(pq, &PriorityQueueItem{Node: 2, Distance: 2.0})

		item, _ := heap.Pop(pq).(*PriorityQueueItem)
		require.NotNil(t, item)
		assert.Equal(t, uint32(1), item.Node)

		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint32(2), item.Node)

		item, _ = heap.Pop(pq).(*PriorityQueueItem)
		assert.Equal(t, uint32(0), item.Node)
	})

	t.Run("MaxHeap", func(t *testing.T) {
		pq := &PriorityQueue{Order: true}
		heap.Init(pq)

		heap.Push(pq, &PriorityQueueItem{Node: 0, Distance: 3.0})
		heap.Push(pq, &PriorityQueueItem{Node: 1, Distance: 1.0})

		top, _ := pq.Top().(*PriorityQueueItem)
		assert.Equal(t, uint32(0), top.Node)
	})

	t.Run("PopEmpty", func(t *testing.T) {
		pq := &PriorityQueue{}
		assert.Nil(t, pq.Pop())
	})
}

// Package queue provides concurrent FIFO queues for handing items between
// producer and consumer goroutines without blocking the producer.
package queue

// Queue is a FIFO queue of T safe for concurrent use.
type Queue[T any] interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(T)
	// Dequeue removes and returns the item at the head of the queue.
	// The boolean is false when the queue is empty.
	Dequeue() (T, bool)
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}

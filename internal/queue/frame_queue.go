package queue

import "fmt"

// FrameQueue is a bounded FIFO of whole frames backed by a fixed ring.
// It never blocks and never overwrites: a full queue rejects new frames.
type FrameQueue struct {
	slots        [][]byte
	head         int // next frame to dequeue
	size         int
	maxFrameSize int
	name         string
}

// NewFrameQueue creates a queue holding up to capacity frames of at most
// maxFrameSize bytes each.
func NewFrameQueue(capacity, maxFrameSize int, name string) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &FrameQueue{
		slots:        make([][]byte, capacity),
		maxFrameSize: maxFrameSize,
		name:         name,
	}
	for i := range q.slots {
		q.slots[i] = make([]byte, 0, maxFrameSize)
	}
	return q
}

// TryEnqueue copies frame to the back of the queue.
// Returns false without touching the queue if the frame is too large or the
// queue is full.
func (q *FrameQueue) TryEnqueue(frame []byte) bool {
	if len(frame) > q.maxFrameSize || q.IsFull() {
		return false
	}

	tail := (q.head + q.size) % len(q.slots)
	q.slots[tail] = append(q.slots[tail][:0], frame...)
	q.size++
	return true
}

// Peek returns the oldest frame without removing it.
// The returned slice is only valid until the next mutation.
func (q *FrameQueue) Peek() ([]byte, bool) {
	if q.size == 0 {
		return nil, false
	}
	return q.slots[q.head], true
}

// Dequeue removes and returns a copy of the oldest frame.
func (q *FrameQueue) Dequeue() ([]byte, bool) {
	if q.size == 0 {
		return nil, false
	}

	frame := make([]byte, len(q.slots[q.head]))
	copy(frame, q.slots[q.head])
	q.Drop()
	return frame, true
}

// Drop discards the oldest frame, if any.
func (q *FrameQueue) Drop() {
	if q.size == 0 {
		return
	}
	q.slots[q.head] = q.slots[q.head][:0]
	q.head = (q.head + 1) % len(q.slots)
	q.size--
}

// Clear empties the queue
func (q *FrameQueue) Clear() {
	for i := range q.slots {
		q.slots[i] = q.slots[i][:0]
	}
	q.head = 0
	q.size = 0
}

func (q *FrameQueue) Len() int          { return q.size }
func (q *FrameQueue) Cap() int          { return len(q.slots) }
func (q *FrameQueue) MaxFrameSize() int { return q.maxFrameSize }
func (q *FrameQueue) IsEmpty() bool     { return q.size == 0 }
func (q *FrameQueue) IsFull() bool      { return q.size == len(q.slots) }
func (q *FrameQueue) Name() string      { return q.name }

// String returns a string representation for debugging
func (q *FrameQueue) String() string {
	return fmt.Sprintf("FrameQueue[%s]: size=%d, capacity=%d, head=%d, maxFrame=%d",
		q.name, q.size, len(q.slots), q.head, q.maxFrameSize)
}

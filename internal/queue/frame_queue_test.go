package queue

import (
	"bytes"
	"strings"
	"testing"
)

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue(4, 16, "test")

	frames := [][]byte{
		{0x01},
		{0x02, 0x03},
		{},
		bytes.Repeat([]byte{0xAA}, 16),
	}
	for i, f := range frames {
		if !q.TryEnqueue(f) {
			t.Fatalf("TryEnqueue(%d) = false, want true", i)
		}
	}

	for i, want := range frames {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue(%d) returned no frame", i)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Dequeue(%d) = %X, want %X", i, got, want)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() on empty queue returned a frame")
	}
}

func TestFrameQueue_RejectsWithoutMutation(t *testing.T) {
	tests := []struct {
		name    string
		prefill int
		frame   []byte
	}{
		{name: "oversize frame", prefill: 1, frame: make([]byte, 9)},
		{name: "full queue", prefill: 3, frame: []byte{0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewFrameQueue(3, 8, "reject")
			for i := 0; i < tt.prefill; i++ {
				q.TryEnqueue([]byte{byte(i)})
			}

			if q.TryEnqueue(tt.frame) {
				t.Fatal("TryEnqueue() = true, want false")
			}
			if q.Len() != tt.prefill {
				t.Errorf("Len() = %d, want %d", q.Len(), tt.prefill)
			}
			for i := 0; i < tt.prefill; i++ {
				got, _ := q.Dequeue()
				if !bytes.Equal(got, []byte{byte(i)}) {
					t.Errorf("frame %d = %X, want %02X", i, got, i)
				}
			}
		})
	}
}

func TestFrameQueue_WrapAround(t *testing.T) {
	q := NewFrameQueue(2, 4, "wrap")

	for round := 0; round < 10; round++ {
		a := []byte{byte(round), 0x01}
		b := []byte{byte(round), 0x02}
		if !q.TryEnqueue(a) || !q.TryEnqueue(b) {
			t.Fatalf("round %d: enqueue failed", round)
		}
		if q.TryEnqueue([]byte{0x00}) {
			t.Fatalf("round %d: third enqueue succeeded on capacity 2", round)
		}
		got, _ := q.Dequeue()
		if !bytes.Equal(got, a) {
			t.Fatalf("round %d: got %X, want %X", round, got, a)
		}
		got, _ = q.Dequeue()
		if !bytes.Equal(got, b) {
			t.Fatalf("round %d: got %X, want %X", round, got, b)
		}
	}
}

func TestFrameQueue_CopiesInput(t *testing.T) {
	q := NewFrameQueue(1, 4, "copy")
	src := []byte{1, 2, 3}
	q.TryEnqueue(src)
	src[0] = 9

	got, _ := q.Peek()
	if got[0] != 1 {
		t.Errorf("queued frame changed with caller buffer: %X", got)
	}
}

func TestFrameQueue_PeekAndDrop(t *testing.T) {
	q := NewFrameQueue(2, 4, "peek")
	q.TryEnqueue([]byte{1})
	q.TryEnqueue([]byte{2})

	for i := 0; i < 3; i++ {
		got, ok := q.Peek()
		if !ok || got[0] != 1 {
			t.Fatalf("Peek() = %X, %v; want 01, true", got, ok)
		}
	}
	if q.Len() != 2 {
		t.Errorf("Peek changed Len() to %d", q.Len())
	}

	q.Drop()
	got, _ := q.Peek()
	if got[0] != 2 {
		t.Errorf("after Drop, Peek() = %X, want 02", got)
	}
}

func TestFrameQueue_Clear(t *testing.T) {
	q := NewFrameQueue(3, 4, "clear")
	q.TryEnqueue([]byte{1})
	q.TryEnqueue([]byte{2})
	q.Clear()

	if !q.IsEmpty() || q.Len() != 0 {
		t.Errorf("after Clear, Len() = %d", q.Len())
	}
	for i := 0; i < 3; i++ {
		if !q.TryEnqueue([]byte{byte(i)}) {
			t.Fatalf("enqueue %d after Clear failed", i)
		}
	}
	if !q.IsFull() {
		t.Error("IsFull() = false after filling")
	}
	if !strings.Contains(q.String(), "clear") {
		t.Errorf("String() = %q, want queue name", q.String())
	}
}

package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"cloudsentinel/internal/schema"
)

func newEvent() *schema.Event {
	return &schema.Event{
		EventID:   uuid.New(),
		EventType: "ConsoleLogin",
		Timestamp: time.Now().UTC(),
	}
}

func TestRingBuffer_PushPop(t *testing.T) {
	rb := NewRingBuffer(4)

	first := newEvent()
	second := newEvent()
	if err := rb.Push(first); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := rb.Push(second); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if rb.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rb.Len())
	}

	got, err := rb.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got.EventID != first.EventID {
		t.Error("Pop() did not return oldest event")
	}
}

func TestRingBuffer_Full(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Push(newEvent())
	rb.Push(newEvent())

	if err := rb.Push(newEvent()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() on full queue = %v, want ErrQueueFull", err)
	}
	if m := rb.Metrics(); m.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", m.Dropped)
	}
}

func TestRingBuffer_Empty(t *testing.T) {
	rb := NewRingBuffer(2)
	if _, err := rb.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop() on empty queue = %v, want ErrQueueEmpty", err)
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)
	seen := make(map[uuid.UUID]bool)

	for i := 0; i < 10; i++ {
		ev := newEvent()
		if err := rb.Push(ev); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
		got, err := rb.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got.EventID != ev.EventID {
			t.Fatalf("iteration %d: popped wrong event", i)
		}
		if seen[got.EventID] {
			t.Fatalf("iteration %d: event seen twice", i)
		}
		seen[got.EventID] = true
	}
}

func TestRingBuffer_PopWithTimeout(t *testing.T) {
	rb := NewRingBuffer(2)

	start := time.Now()
	if _, err := rb.PopWithTimeout(50 * time.Millisecond); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("PopWithTimeout() = %v, want ErrQueueEmpty", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, expected to wait near the timeout", elapsed)
	}

	// A push while waiting wakes the consumer.
	done := make(chan *schema.Event, 1)
	go func() {
		ev, err := rb.PopWithTimeout(2 * time.Second)
		if err != nil {
			t.Errorf("PopWithTimeout() error = %v", err)
		}
		done <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	pushed := newEvent()
	rb.Push(pushed)

	select {
	case got := <-done:
		if got.EventID != pushed.EventID {
			t.Error("woke with wrong event")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestRingBuffer_Close(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Push(newEvent())
	rb.Close()

	if err := rb.Push(newEvent()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push() after close = %v, want ErrQueueClosed", err)
	}

	// Buffered events drain before the closed error surfaces.
	if _, err := rb.Pop(); err != nil {
		t.Errorf("Pop() of buffered event after close = %v", err)
	}
	if _, err := rb.Pop(); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop() on drained closed queue = %v, want ErrQueueClosed", err)
	}
	if _, err := rb.PopWithTimeout(10 * time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("PopWithTimeout() on closed queue = %v, want ErrQueueClosed", err)
	}
}

func TestRingBuffer_CloseWakesWaiter(t *testing.T) {
	rb := NewRingBuffer(2)

	errCh := make(chan error, 1)
	go func() {
		_, err := rb.PopWithTimeout(5 * time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	rb.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("waiter got %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake waiting consumer")
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(1000)
	const producers = 4
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for rb.Push(newEvent()) != nil {
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	var popped struct {
		sync.Mutex
		n int
	}
	var cwg sync.WaitGroup
	for c := 0; c < 2; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				_, err := rb.PopWithTimeout(100 * time.Millisecond)
				if errors.Is(err, ErrQueueClosed) {
					return
				}
				if err != nil {
					continue
				}
				popped.Lock()
				popped.n++
				popped.Unlock()
			}
		}()
	}

	wg.Wait()
	rb.Close()
	cwg.Wait()

	popped.Lock()
	defer popped.Unlock()
	if popped.n != producers*perProducer {
		t.Errorf("popped %d events, want %d", popped.n, producers*perProducer)
	}
}

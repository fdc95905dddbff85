package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type job struct {
	ID      string
	Context string
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue[job](WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, job{ID: "job1", Context: "acme/api#1"}) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	got := <-q.Dequeue(dctx)
	if got.ID != "job1" {
		t.Errorf("expected job1, got %v", got.ID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue[job](WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, job{ID: "job1"}) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, job{ID: "job2"}) {
		t.Error("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job{ID: "job3"}) {
		t.Error("expected enqueue to fail when full")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue[job](WithCapacity(100))
	ctx := context.Background()
	producers, perProducer := 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, job{ID: fmt.Sprintf("job%d_%d", id, j)}) {
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	var (
		mu       sync.Mutex
		consumed = make(map[string]struct{})
		cwg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for j := range q.Dequeue(ctx) {
				mu.Lock()
				consumed[j.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	cwg.Wait()

	if len(consumed) != producers*perProducer {
		t.Errorf("expected %d distinct jobs, got %d", producers*perProducer, len(consumed))
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue[job](WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, job{ID: "job1"}) || !q.Enqueue(ctx, job{ID: "job2"}) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, job{ID: "job3"}) {
		t.Error("expected enqueue to fail after closing")
	}

	// queued jobs are still delivered, then the channel closes
	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case j, ok := <-ch:
			if !ok {
				done = true
				break
			}
			drained = append(drained, j.ID)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
	if len(drained) != 2 {
		t.Errorf("expected 2 drained jobs, got %v", drained)
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

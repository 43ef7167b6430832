package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueRunsSerially(t *testing.T) {
	q := New(5, nil)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var active, maxActive int32
	done := make(chan struct{}, 3)

	for i := 1; i <= 3; i++ {
		i := i
		ok := q.Enqueue("chan-a", func(ctx context.Context) error {
			cur := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if cur <= old || atomic.CompareAndSwapInt32(&maxActive, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
			done <- struct{}{}
			return nil
		})
		if !ok {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("work did not complete")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v", order)
	}
	if atomic.LoadInt32(&maxActive) != 1 {
		t.Errorf("max concurrent = %d, want 1", maxActive)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q := New(2, nil)
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue("chan-a", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// Worker is busy; the buffer holds exactly maxPending more.
	if !q.Enqueue("chan-a", func(ctx context.Context) error { return nil }) {
		t.Fatal("second enqueue should fit")
	}
	if !q.Enqueue("chan-a", func(ctx context.Context) error { return nil }) {
		t.Fatal("third enqueue should fit")
	}
	if q.Enqueue("chan-a", func(ctx context.Context) error { return nil }) {
		t.Error("enqueue past the cap should be rejected")
	}
	close(block)
}

func TestChannelsRunIndependently(t *testing.T) {
	q := New(5, nil)
	defer q.Close()

	block := make(chan struct{})
	q.Enqueue("busy", func(ctx context.Context) error {
		<-block
		return nil
	})

	ran := make(chan struct{})
	q.Enqueue("free", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("independent channel was blocked")
	}
	close(block)
}

func TestWorkErrorIsNotFatal(t *testing.T) {
	q := New(5, nil)
	defer q.Close()

	done := make(chan struct{})
	q.Enqueue("chan-a", func(ctx context.Context) error {
		return errors.New("boom")
	})
	q.Enqueue("chan-a", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after work error")
	}
}

func TestPanicInWorkIsRecovered(t *testing.T) {
	q := New(5, nil)
	defer q.Close()

	done := make(chan struct{})
	q.Enqueue("chan-a", func(ctx context.Context) error {
		panic("tool blew up")
	})
	q.Enqueue("chan-a", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after panic")
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	q := New(5, nil)
	q.Close()
	if q.Enqueue("chan-a", func(ctx context.Context) error { return nil }) {
		t.Error("enqueue after close should be rejected")
	}
}

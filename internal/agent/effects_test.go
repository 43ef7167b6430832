package agent

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEffectChainRunsInOrder(t *testing.T) {
	chain := NewEffectChain(discardLogger())
	defer chain.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		chain.Enqueue("step", func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	chain.Drain()

	if len(got) != 20 {
		t.Fatalf("ran %d effects, want 20", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("effect %d ran out of order (got %d)", i, v)
		}
	}
}

func TestEffectChainErrorHook(t *testing.T) {
	chain := NewEffectChain(discardLogger())
	defer chain.Close()

	var mu sync.Mutex
	var reported []string
	chain.OnError(func(msg string) {
		mu.Lock()
		reported = append(reported, msg)
		mu.Unlock()
	})

	chain.Enqueue("fails", func() error { return errors.New("post failed") })
	chain.EnqueueQuiet("fails-quietly", func() error { return errors.New("quiet failure") })
	chain.Enqueue("marker", func() error { return nil })
	chain.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("hook called %d times, want 1: %v", len(reported), reported)
	}
	if reported[0] != "post failed" {
		t.Errorf("hook got %q", reported[0])
	}
}

func TestEffectChainRecoversPanic(t *testing.T) {
	chain := NewEffectChain(discardLogger())
	defer chain.Close()

	var mu sync.Mutex
	var reported []string
	chain.OnError(func(msg string) {
		mu.Lock()
		reported = append(reported, msg)
		mu.Unlock()
	})

	ran := false
	chain.Enqueue("panics", func() error { panic("kaboom") })
	chain.Enqueue("after", func() error { ran = true; return nil })
	chain.Drain()

	if !ran {
		t.Fatal("worker died after panic")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || reported[0] != "panic: kaboom" {
		t.Errorf("reported = %v", reported)
	}
}

func TestEffectChainDrainWaitsForRunning(t *testing.T) {
	chain := NewEffectChain(discardLogger())
	defer chain.Close()

	done := false
	chain.Enqueue("slow", func() error {
		time.Sleep(30 * time.Millisecond)
		done = true
		return nil
	})
	chain.Drain()

	if !done {
		t.Fatal("Drain returned before the running effect finished")
	}
}

func TestEffectChainClosedDropsWork(t *testing.T) {
	chain := NewEffectChain(discardLogger())
	chain.Close()

	ran := make(chan struct{})
	chain.Enqueue("late", func() error { close(ran); return nil })

	select {
	case <-ran:
		t.Fatal("effect ran after Close")
	case <-time.After(20 * time.Millisecond):
	}
}

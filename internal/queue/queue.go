// Package queue serializes agent work per channel. Each channel gets one
// worker goroutine pulling from a bounded FIFO, so runs on the same channel
// never overlap while different channels proceed independently.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultMaxPending caps queued work items per channel. Past the cap new
// items are rejected rather than queued, which keeps an event storm from
// piling up hours of stale runs.
const DefaultMaxPending = 5

// Work is a unit of channel work. Errors are logged, never fatal.
type Work func(ctx context.Context) error

// ChannelQueue owns one serial worker per channel.
type ChannelQueue struct {
	mu         sync.Mutex
	workers    map[string]chan Work
	maxPending int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func New(maxPending int, logger *slog.Logger) *ChannelQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelQueue{
		workers:    make(map[string]chan Work),
		maxPending: maxPending,
		logger:     logger.With("component", "queue"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue adds work to the channel's queue. Returns false when the queue is
// full or shutting down; the item is dropped with a warning in that case.
func (q *ChannelQueue) Enqueue(channelID string, w Work) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	ch, ok := q.workers[channelID]
	if !ok {
		ch = make(chan Work, q.maxPending)
		q.workers[channelID] = ch
		q.wg.Add(1)
		go q.worker(channelID, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- w:
		return true
	default:
		q.logger.Warn("channel queue full, dropping work",
			"channel", channelID,
			"max_pending", q.maxPending,
		)
		return false
	}
}

// Pending reports how many items are waiting on the channel's queue.
func (q *ChannelQueue) Pending(channelID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.workers[channelID]; ok {
		return len(ch)
	}
	return 0
}

// Close stops accepting work, lets active items finish, and waits for all
// workers to exit. Queued items that have not started are discarded.
func (q *ChannelQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *ChannelQueue) worker(channelID string, ch chan Work) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case w := <-ch:
			q.run(channelID, w)
		}
	}
}

func (q *ChannelQueue) run(channelID string, w Work) {
	err := safeRun(q.ctx, w)
	if err != nil {
		q.logger.Error("channel work failed", "channel", channelID, "error", err)
	}
}

// safeRun converts a panicking work item into an error instead of crashing
// the process.
func safeRun(ctx context.Context, w Work) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in channel work: %v", p)
		}
	}()
	return w(ctx)
}

package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// EffectChain serializes UI-visible side effects (posts, edits, uploads) so
// their order matches event order even though each call does network I/O.
// Failures never abort the run: they are logged and reported through the
// OnError hook, which the runner uses to post an error line to the thread.
type EffectChain struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []effectItem
	busy    bool
	closed  bool
	onError func(msg string)
	logger  *slog.Logger
}

type effectItem struct {
	name string
	fn   func() error
	// quiet effects report failures to the log only; used for the error
	// posts themselves so a dead transport cannot loop.
	quiet bool
}

func NewEffectChain(logger *slog.Logger) *EffectChain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &EffectChain{logger: logger.With("component", "effects")}
	c.cond = sync.NewCond(&c.mu)
	go c.worker()
	return c
}

// OnError installs the failure hook. Called from the worker goroutine.
func (c *EffectChain) OnError(fn func(msg string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Enqueue appends a side effect. The queue is unbounded; ordering is the
// only guarantee callers need.
func (c *EffectChain) Enqueue(name string, fn func() error) {
	c.enqueue(effectItem{name: name, fn: fn})
}

// EnqueueQuiet appends a side effect whose failure is only logged.
func (c *EffectChain) EnqueueQuiet(name string, fn func() error) {
	c.enqueue(effectItem{name: name, fn: fn, quiet: true})
}

func (c *EffectChain) enqueue(item effectItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Warn("effect dropped, chain closed", "effect", item.name)
		return
	}
	c.queue = append(c.queue, item)
	c.cond.Broadcast()
}

// Drain blocks until every enqueued effect (including ones enqueued while
// draining) has finished.
func (c *EffectChain) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 || c.busy {
		c.cond.Wait()
	}
}

// Close stops the worker after the queue empties.
func (c *EffectChain) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *EffectChain) worker() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		c.busy = true
		c.mu.Unlock()

		err := runEffect(item.fn)

		c.mu.Lock()
		c.busy = false
		hook := c.onError
		c.cond.Broadcast()
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("side effect failed", "effect", item.name, "error", err)
			if !item.quiet && hook != nil {
				hook(err.Error())
			}
		}
	}
}

func runEffect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
)

const (
	tickInterval  = 60 * time.Second
	watchDebounce = 500 * time.Millisecond
)

// FireFunc delivers a synthesized event prompt to a channel. It returns
// false when the channel queue rejected the work.
type FireFunc func(channelID, prompt string) bool

// Scheduler watches the events directory and fires specs when due.
type Scheduler struct {
	dir    string
	fire   FireFunc
	logger *slog.Logger
	now    func() time.Time
	cron   *gronx.Gronx

	mu sync.Mutex
	// fired marks immediate and one-shot files that already ran.
	fired map[string]bool
	// lastMinute tracks the last fired minute per periodic file.
	lastMinute map[string]string
	timers     map[string]*time.Timer
}

func NewScheduler(dir string, fire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dir:        dir,
		fire:       fire,
		logger:     logger.With("component", "events"),
		now:        time.Now,
		cron:       gronx.New(),
		fired:      make(map[string]bool),
		lastMinute: make(map[string]string),
		timers:     make(map[string]*time.Timer),
	}
}

// Run watches the directory until the context is canceled. Filesystem events
// are debounced so half-written files settle before they are read.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	s.Scan()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return ctx.Err()
		case <-ticker.C:
			s.Scan()
		case event, ok := <-watcher.Events:
			if !ok {
				s.stopTimers()
				return nil
			}
			if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				s.forget(filepath.Base(event.Name))
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, s.Scan)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				s.stopTimers()
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// Scan evaluates every event file in the directory once.
func (s *Scheduler) Scan() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("read events dir", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		s.evaluate(entry.Name())
	}
}

func (s *Scheduler) evaluate(name string) {
	path := filepath.Join(s.dir, name)
	spec, at, err := loadSpec(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		s.logger.Warn("skipping invalid event file", "file", name, "error", err)
		return
	}

	switch spec.Type {
	case TypeImmediate:
		s.fireOnce(name, spec, fmt.Sprintf("[EVENT:%s:immediate:%s] %s",
			name, s.now().Format(time.RFC3339), spec.Text))
	case TypeOneShot:
		s.evaluateOneShot(name, spec, at)
	case TypePeriodic:
		s.evaluatePeriodic(name, spec)
	}
}

func (s *Scheduler) evaluateOneShot(name string, spec *Spec, at time.Time) {
	delay := at.Sub(s.now())
	if delay <= 0 {
		s.fireOnce(name, spec, fmt.Sprintf("[EVENT:%s:one-shot:%s] %s", name, spec.At, spec.Text))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[name] {
		return
	}
	if _, armed := s.timers[name]; armed {
		return
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()
		s.evaluate(name)
	})
	s.logger.Info("one-shot event armed", "file", name, "at", spec.At)
}

func (s *Scheduler) evaluatePeriodic(name string, spec *Spec) {
	nowLocal := s.now().In(spec.location())
	minute := nowLocal.Format("2006-01-02T15:04")

	s.mu.Lock()
	if s.lastMinute[name] == minute {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// gronx matches the seconds field too; the tick lands at an
	// arbitrary second, so check against the top of the minute.
	due, err := s.cron.IsDue(spec.Schedule, nowLocal.Truncate(time.Minute))
	if err != nil {
		s.logger.Warn("cron evaluation failed", "file", name, "error", err)
		return
	}
	if !due {
		return
	}

	s.mu.Lock()
	if s.lastMinute[name] == minute {
		s.mu.Unlock()
		return
	}
	s.lastMinute[name] = minute
	s.mu.Unlock()

	prompt := fmt.Sprintf("[EVENT:%s:periodic:%s] %s",
		name, nowLocal.Truncate(time.Minute).Format(time.RFC3339), spec.Text)
	if !s.fire(spec.ChannelID, prompt) {
		s.logger.Warn("event dropped, channel queue full", "file", name, "channel", spec.ChannelID)
	}
}

// fireOnce fires immediate and one-shot events exactly once, then removes
// the file so a restart does not replay it.
func (s *Scheduler) fireOnce(name string, spec *Spec, prompt string) {
	s.mu.Lock()
	if s.fired[name] {
		s.mu.Unlock()
		return
	}
	s.fired[name] = true
	s.mu.Unlock()

	if !s.fire(spec.ChannelID, prompt) {
		s.logger.Warn("event dropped, channel queue full", "file", name, "channel", spec.ChannelID)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		s.logger.Error("remove fired event file", "file", name, "error", err)
	}
}

// forget clears per-file state when an event file disappears, so a later
// file with the same name starts fresh.
func (s *Scheduler) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	delete(s.fired, name)
	delete(s.lastMinute, name)
}

func (s *Scheduler) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}

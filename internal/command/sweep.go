package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sweeper runs the manager's sweep on an independent periodic trigger.
type Sweeper struct {
	manager  *Manager
	clock    clockwork.Clock
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewSweeper(manager *Manager, clock clockwork.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		manager:  manager,
		clock:    clock,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop on its own goroutine.
func (s *Sweeper) Start() {
	go s.run()
	slog.Info("Command sweeper started", "interval", s.interval.String())
}

func (s *Sweeper) run() {
	defer close(s.done)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.manager.Sweep(context.Background(), s.clock.Now())
		case <-s.stopCh:
			return
		}
	}
}

// Stop halts the sweep loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

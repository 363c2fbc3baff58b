package services

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Syncer is the part of the sync engine that triggers depend on
type Syncer interface {
	RequestSync()
}

// PeriodicTrigger requests a sync cycle on a fixed interval
type PeriodicTrigger struct {
	engine   Syncer
	interval time.Duration
}

// NewPeriodicTrigger creates a new PeriodicTrigger
func NewPeriodicTrigger(engine Syncer, interval time.Duration) *PeriodicTrigger {
	return &PeriodicTrigger{engine: engine, interval: interval}
}

// Run fires sync requests until the context is cancelled
func (t *PeriodicTrigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.engine.RequestSync()
		case <-ctx.Done():
			return
		}
	}
}

// ForegroundTrigger requests a sync cycle when the process is resumed
// after a stop, the closest analog of an app returning to the foreground
type ForegroundTrigger struct {
	engine Syncer
}

// NewForegroundTrigger creates a new ForegroundTrigger
func NewForegroundTrigger(engine Syncer) *ForegroundTrigger {
	return &ForegroundTrigger{engine: engine}
}

// Run listens for SIGCONT until the context is cancelled
func (t *ForegroundTrigger) Run(ctx context.Context) {
	resumed := make(chan os.Signal, 1)
	signal.Notify(resumed, syscall.SIGCONT)
	defer signal.Stop(resumed)

	for {
		select {
		case <-resumed:
			log.Println("Process resumed, requesting sync")
			t.engine.RequestSync()
		case <-ctx.Done():
			return
		}
	}
}

// Package worker hosts the long-lived process: the collection loop,
// the HTTP query surface, and the live tail feed.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentwatch/agentwatch/internal/metrics"
)

// Loop states. The loop ticks Idle -> Collecting -> Idle until a
// shutdown drains it to Stopped.
const (
	StateIdle       = "idle"
	StateCollecting = "collecting"
	StateDraining   = "draining"
	StateStopped    = "stopped"
)

// shutdownPoll bounds shutdown latency during the inter-tick sleep.
const shutdownPoll = time.Second

// Loop drives snapshot collection on a fixed cadence. Ticks are
// serialized: a reload request during a pass runs after it, never
// concurrently with it.
type Loop struct {
	agg      *metrics.Aggregator
	interval time.Duration

	reload chan struct{}
	state  atomic.Value
}

// NewLoop returns a loop ticking at the given interval.
func NewLoop(agg *metrics.Aggregator, interval time.Duration) *Loop {
	l := &Loop{
		agg:      agg,
		interval: interval,
		reload:   make(chan struct{}, 1),
	}
	l.state.Store(StateIdle)
	return l
}

// State returns the loop's current state for the health surface.
func (l *Loop) State() string {
	return l.state.Load().(string)
}

// Reload requests an immediate out-of-band collection pass. Requests
// arriving while one is already pending coalesce.
func (l *Loop) Reload() {
	select {
	case l.reload <- struct{}{}:
	default:
	}
}

// Run collects immediately, then on every tick, until ctx is canceled.
// An in-flight pass is always finished before the loop exits; only the
// sleep between passes is interruptible.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().Dur("interval", l.interval).Msg("collection loop started")

	for {
		l.state.Store(StateCollecting)
		// Shutdown must drain, not abandon, a pass in flight.
		l.agg.Collect(context.WithoutCancel(ctx))
		l.state.Store(StateIdle)

		if err := l.sleep(ctx); err != nil {
			l.state.Store(StateStopped)
			log.Info().Msg("collection loop stopped")
			return err
		}
	}
}

// sleep waits out one interval, polling for shutdown at sub-second
// granularity. A reload request cuts the sleep short.
func (l *Loop) sleep(ctx context.Context) error {
	deadline := time.Now().Add(l.interval)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining > shutdownPoll {
			remaining = shutdownPoll
		}
		wait := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			wait.Stop()
			l.state.Store(StateDraining)
			return ctx.Err()
		case <-l.reload:
			wait.Stop()
			log.Info().Msg("reload requested, collecting now")
			return nil
		case <-wait.C:
		}
	}
}
